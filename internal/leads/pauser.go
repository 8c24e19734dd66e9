package leads

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// SequencePauser pauses externally-managed outbound drip sequences for a lead
// once a live conversation starts, so the lead stops receiving automated
// campaign sends mid-chat.
type SequencePauser struct {
	db Querier
}

// NewSequencePauser builds a pauser backed by pgx.
func NewSequencePauser(db Querier) *SequencePauser {
	if db == nil {
		panic("leads: pgx querier required")
	}
	return &SequencePauser{db: db}
}

// PauseForLead marks the lead's active sequence enrollments paused. Returns
// the number of sequences affected; zero is normal for leads not enrolled in
// any campaign.
func (p *SequencePauser) PauseForLead(ctx context.Context, leadID uuid.UUID) (int64, error) {
	tag, err := p.db.Exec(ctx, `
		UPDATE sequence_enrollments
		SET paused_at = NOW()
		WHERE lead_id = $1 AND paused_at IS NULL
	`, leadID)
	if err != nil {
		return 0, fmt.Errorf("leads: pause sequences: %w", err)
	}
	if tag.RowsAffected() > 0 {
		if _, err := p.db.Exec(ctx,
			`UPDATE leads SET sequence_paused = TRUE, updated_at = NOW() WHERE id = $1`, leadID); err != nil {
			return tag.RowsAffected(), fmt.Errorf("leads: flag sequence pause: %w", err)
		}
	}
	return tag.RowsAffected(), nil
}
