package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/donforce/messaging-ai-platform/internal/messaging"
)

// ErrAccountNotFound is returned when no account owns the queried address.
var ErrAccountNotFound = errors.New("identity: account not found")

// Querier is the subset of pgx used by the store.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads account rows from Postgres.
type Store struct {
	db Querier
}

// NewStore builds an account store backed by pgx.
func NewStore(db Querier) *Store {
	if db == nil {
		panic("identity: pgx querier required")
	}
	return &Store{db: db}
}

const accountColumns = `id, name, email, plan, credits, channel_address, instructions, booking_url, created_at, updated_at`

// FindByChannelAddress reverse-looks-up the account that owns a provisioned
// channel number. The address is normalized before the query so webhook
// formatting variants ("whatsapp:+1555...", "+1 (555) ...") all resolve.
func (s *Store) FindByChannelAddress(ctx context.Context, address string) (*Account, error) {
	normalized := messaging.NormalizeE164(messaging.StripChannelPrefix(address))
	if normalized == "" {
		return nil, ErrAccountNotFound
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE channel_address = $1`
	account, err := scanAccount(s.db.QueryRow(ctx, query, normalized))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("identity: channel lookup failed: %w", err)
	}
	return account, nil
}

// GetByID fetches one account row.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	account, err := scanAccount(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("identity: account lookup failed: %w", err)
	}
	return account, nil
}

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	if err := row.Scan(
		&a.ID,
		&a.Name,
		&a.Email,
		&a.Plan,
		&a.Credits,
		&a.ChannelAddress,
		&a.Instructions,
		&a.BookingURL,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &a, nil
}
