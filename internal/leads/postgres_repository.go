package leads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx used by the repository. Satisfied by
// *pgxpool.Pool, pgx.Tx, and pgxmock pools in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores leads in the relational database.
type PostgresRepository struct {
	db Querier
}

// NewPostgresRepository initializes a repo backed by pgx.
func NewPostgresRepository(db Querier) *PostgresRepository {
	if db == nil {
		panic("leads: pgx querier required")
	}
	return &PostgresRepository{db: db}
}

const leadColumns = `id, user_id, name, email, phone, notes, source, sequence_paused, created_at, updated_at`

// Create inserts a new row.
func (r *PostgresRepository) Create(ctx context.Context, req *CreateLeadRequest) (*Lead, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := uuid.New()
	query := `
		INSERT INTO leads (id, user_id, name, email, phone, source)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	var createdAt time.Time
	if err := r.db.QueryRow(ctx, query,
		id,
		req.UserID,
		req.Name,
		req.Email,
		req.Phone,
		req.Source,
	).Scan(&createdAt); err != nil {
		return nil, fmt.Errorf("leads: insert failed: %w", err)
	}

	return &Lead{
		ID:        id,
		UserID:    req.UserID,
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Source:    req.Source,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}, nil
}

// GetByID fetches a lead scoped to the owning account.
func (r *PostgresRepository) GetByID(ctx context.Context, userID, id uuid.UUID) (*Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1 AND user_id = $2`
	lead, err := scanLead(r.db.QueryRow(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("leads: select failed: %w", err)
	}
	return lead, nil
}

// FindByPhone locates a lead for the account by trying each phone-match
// strategy in precedence order and returning the first hit.
func (r *PostgresRepository) FindByPhone(ctx context.Context, userID uuid.UUID, phone string) (*Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE user_id = $1 AND phone = $2 ORDER BY created_at DESC LIMIT 1`
	for _, candidate := range MatchCandidates(phone) {
		lead, err := scanLead(r.db.QueryRow(ctx, query, userID, candidate))
		if err == nil {
			return lead, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("leads: phone lookup failed: %w", err)
		}
	}
	return nil, ErrLeadNotFound
}

// AppendNotes appends a note line to the lead, preserving prior notes.
func (r *PostgresRepository) AppendNotes(ctx context.Context, userID, id uuid.UUID, notes string) error {
	query := `
		UPDATE leads
		SET notes = CASE WHEN notes = '' THEN $3 ELSE notes || E'\n' || $3 END,
		    updated_at = NOW()
		WHERE id = $1 AND user_id = $2
	`
	tag, err := r.db.Exec(ctx, query, id, userID, notes)
	if err != nil {
		return fmt.Errorf("leads: append notes failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeadNotFound
	}
	return nil
}

func scanLead(row pgx.Row) (*Lead, error) {
	var lead Lead
	if err := row.Scan(
		&lead.ID,
		&lead.UserID,
		&lead.Name,
		&lead.Email,
		&lead.Phone,
		&lead.Notes,
		&lead.Source,
		&lead.SequencePaused,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &lead, nil
}
