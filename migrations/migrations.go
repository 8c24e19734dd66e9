// Package migrations embeds the SQL schema migrations that cmd/migrate
// applies with golang-migrate.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
