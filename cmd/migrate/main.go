package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	appmigrations "github.com/donforce/messaging-ai-platform/migrations"
)

const usage = `usage: migrate [command]

commands:
  up              apply all pending migrations (default)
  down <n>        roll back n migrations
  version         print the current schema version
  force <version> set the schema version without running migrations
`

func main() {
	m, closeAll := newMigrator()
	defer closeAll()

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("migrate up: %v", err)
		}
		fmt.Println("migrations complete")
	case "down":
		n := argInt("down", 2)
		if err := m.Steps(-n); err != nil {
			log.Fatalf("migrate down %d: %v", n, err)
		}
		fmt.Printf("rolled back %d migration(s)\n", n)
	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("no migrations applied")
			return
		}
		if err != nil {
			log.Fatalf("version: %v", err)
		}
		fmt.Printf("version %d dirty=%v\n", version, dirty)
	case "force":
		version := argInt("force", 2)
		if err := m.Force(version); err != nil {
			log.Fatalf("force version: %v", err)
		}
		fmt.Printf("forced version to %d\n", version)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func argInt(cmd string, pos int) int {
	if len(os.Args) <= pos {
		log.Fatalf("%s requires a numeric argument", cmd)
	}
	n, err := strconv.Atoi(os.Args[pos])
	if err != nil {
		log.Fatalf("%s: invalid argument %q", cmd, os.Args[pos])
	}
	return n
}

func newMigrator() (*migrate.Migrate, func()) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatalf("db driver: %v", err)
	}
	srcDriver, err := iofs.New(appmigrations.FS, ".")
	if err != nil {
		log.Fatalf("source driver: %v", err)
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		log.Fatalf("create migrator: %v", err)
	}

	return m, func() {
		_, _ = m.Close()
		_ = db.Close()
	}
}
