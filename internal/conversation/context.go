package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// maxContextMessages caps the replayed window so a long-idle thread cannot
// blow up the reasoning payload.
const maxContextMessages = 40

// contextStore is the slice of Store the assembler reads from.
type contextStore interface {
	LatestAIMessageAt(ctx context.Context, conversationID uuid.UUID) (*time.Time, error)
	MessagesAfter(ctx context.Context, conversationID uuid.UUID, after time.Time) ([]Message, error)
}

// Assembler builds the transcript window replayed to the reasoning API.
type Assembler struct {
	store contextStore
}

// NewAssembler builds an Assembler.
func NewAssembler(store contextStore) *Assembler {
	if store == nil {
		panic("conversation: assembler requires a store")
	}
	return &Assembler{store: store}
}

// BuildContext returns the messages exchanged since the AI last spoke, as
// chronological turns. Everything up to and including the latest AI reply is
// already carried by the continuation token, so only the gap is replayed.
// When the AI has not spoken yet the window is empty. The message with
// excludeID (the inbound currently being handled, submitted separately as
// input) is left out.
func (a *Assembler) BuildContext(ctx context.Context, conversationID, excludeID uuid.UUID) ([]Turn, error) {
	ctx, span := tracer.Start(ctx, "assembler.build_context")
	defer span.End()

	lastAI, err := a.store.LatestAIMessageAt(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if lastAI == nil {
		return nil, nil
	}

	msgs, err := a.store.MessagesAfter(ctx, conversationID, *lastAI)
	if err != nil {
		return nil, err
	}

	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == excludeID {
			continue
		}
		role := RoleUser
		if m.Direction == DirectionOutgoing {
			role = RoleAssistant
		}
		turns = append(turns, Turn{Role: role, Content: m.Content})
	}
	if len(turns) > maxContextMessages {
		turns = turns[len(turns)-maxContextMessages:]
	}
	return turns, nil
}
