package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("internal/conversation")

// Querier is the subset of pgx used by the store. Satisfied by *pgxpool.Pool,
// pgx.Tx, and pgxmock.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists conversations and their message logs.
type Store struct {
	db Querier
}

// NewStore builds a Store. Panics when db is nil so wiring mistakes surface
// at startup.
func NewStore(db Querier) *Store {
	if db == nil {
		panic("conversation: store requires a database")
	}
	return &Store{db: db}
}

const conversationColumns = `id, user_id, lead_id, customer_address, channel_address, channel_type,
		status, auto_respond, message_count, customer_message_count, ai_message_count,
		last_continuation_token, last_ai_response, last_message_at, created_at, updated_at, closed_at`

// EnsureConversation returns the active conversation for the customer and
// channel number pair, creating it when none exists. Safe under concurrent
// webhook delivery: the partial unique index on active conversations turns
// the losing insert into a unique violation, which is resolved by re-reading
// the winner's row. The second return value reports whether this call
// created the record.
func (s *Store) EnsureConversation(ctx context.Context, customerAddress, channelAddress string, channelType ChannelType) (*Conversation, bool, error) {
	ctx, span := tracer.Start(ctx, "store.ensure_conversation", trace.WithAttributes(
		attribute.String("channel.type", string(channelType)),
	))
	defer span.End()

	if customerAddress == "" {
		return nil, false, NewValidationError("customer_address", "required")
	}
	if channelAddress == "" {
		return nil, false, NewValidationError("channel_address", "required")
	}
	if !channelType.Valid() {
		return nil, false, NewValidationError("channel_type", "must be sms or whatsapp")
	}

	conv, err := s.findActive(ctx, customerAddress, channelAddress, channelType)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, ErrConversationNotFound) {
		return nil, false, err
	}

	id := uuid.New()
	row := s.db.QueryRow(ctx, `
		INSERT INTO conversations (id, customer_address, channel_address, channel_type, status)
		VALUES ($1, $2, $3, $4, 'active')
		RETURNING `+conversationColumns,
		id, customerAddress, channelAddress, channelType)

	conv, err = scanConversation(row)
	if err == nil {
		span.SetAttributes(attribute.Bool("conversation.created", true))
		return conv, true, nil
	}
	if isUniqueViolation(err) {
		conv, err = s.findActive(ctx, customerAddress, channelAddress, channelType)
		if err != nil {
			return nil, false, err
		}
		return conv, false, nil
	}
	return nil, false, storeErr("ensure_conversation", err)
}

func (s *Store) findActive(ctx context.Context, customerAddress, channelAddress string, channelType ChannelType) (*Conversation, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE customer_address = $1 AND channel_address = $2 AND channel_type = $3 AND status = 'active'`,
		customerAddress, channelAddress, channelType)

	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, storeErr("find_active", err)
	}
	return conv, nil
}

// GetByID loads one conversation.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = $1`, id)

	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, storeErr("get_by_id", err)
	}
	return conv, nil
}

// AppendMessage inserts a message into the log and bumps the conversation's
// counters. Messages carrying an external provider id are deduplicated on
// it, so a redelivered webhook becomes a no-op. Returns whether the row was
// inserted.
func (s *Store) AppendMessage(ctx context.Context, msg *Message) (bool, error) {
	ctx, span := tracer.Start(ctx, "store.append_message", trace.WithAttributes(
		attribute.String("message.direction", string(msg.Direction)),
	))
	defer span.End()

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.Content == "" {
		return false, NewValidationError("content", "required")
	}
	if msg.Direction != DirectionIncoming && msg.Direction != DirectionOutgoing {
		return false, NewValidationError("direction", "must be incoming or outgoing")
	}
	if msg.Status == "" {
		msg.Status = DeliveryQueued
	}

	tag, err := s.db.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, phone_number, content, direction, external_message_id, is_ai_generated, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (external_message_id) WHERE external_message_id IS NOT NULL DO NOTHING`,
		msg.ID, msg.ConversationID, msg.PhoneNumber, msg.Content, msg.Direction,
		msg.ExternalMessageID, msg.IsAIGenerated, msg.Status)
	if err != nil {
		return false, storeErr("append_message", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetAttributes(attribute.Bool("message.deduplicated", true))
		return false, nil
	}

	counter := "customer_message_count"
	if msg.Direction == DirectionOutgoing {
		counter = "ai_message_count"
	}
	_, err = s.db.Exec(ctx, `
		UPDATE conversations
		SET message_count = message_count + 1,
		    `+counter+` = `+counter+` + 1,
		    last_message_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1`, msg.ConversationID)
	if err != nil {
		return true, storeErr("append_message_counters", err)
	}
	return true, nil
}

// UpdateDeliveryStatus applies a provider status callback to the message
// carrying the external id. Transitions only move forward through the
// delivery lifecycle; a late or duplicate callback is ignored and reported
// via the boolean.
func (s *Store) UpdateDeliveryStatus(ctx context.Context, externalID, status string, errorCode, errorMessage *string) (bool, error) {
	ctx, span := tracer.Start(ctx, "store.update_delivery_status", trace.WithAttributes(
		attribute.String("message.status", status),
	))
	defer span.End()

	if externalID == "" {
		return false, NewValidationError("external_message_id", "required")
	}
	if _, ok := deliveryRank[status]; !ok {
		return false, NewValidationError("status", "unknown delivery status")
	}

	var current string
	err := s.db.QueryRow(ctx, `
		SELECT status FROM messages WHERE external_message_id = $1`, externalID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrMessageNotFound
	}
	if err != nil {
		return false, storeErr("update_delivery_status", err)
	}
	if !DeliveryTransitionAllowed(current, status) {
		span.SetAttributes(attribute.String("message.status_ignored", current))
		return false, nil
	}

	stamp := ""
	switch status {
	case DeliveryDelivered:
		stamp = ", delivered_at = NOW()"
	case DeliveryRead:
		stamp = ", read_at = NOW()"
	case DeliveryFailed, DeliveryUndelivered:
		stamp = ", failed_at = NOW()"
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE messages
		SET status = $2, error_code = $3, error_message = $4`+stamp+`
		WHERE external_message_id = $1 AND status = $5`,
		externalID, status, errorCode, errorMessage, current)
	if err != nil {
		return false, storeErr("update_delivery_status", err)
	}
	// A concurrent callback can win the race between read and write. The
	// loser simply reports no change.
	return tag.RowsAffected() > 0, nil
}

// SetAutoRespond flips the conversation's automation flag.
func (s *Store) SetAutoRespond(ctx context.Context, id uuid.UUID, enabled bool) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE conversations SET auto_respond = $2, updated_at = NOW() WHERE id = $1`,
		id, enabled)
	if err != nil {
		return storeErr("set_auto_respond", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// Close ends an active conversation. Closing an already closed conversation
// returns ErrConversationClosed.
func (s *Store) Close(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE conversations
		SET status = 'closed', closed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'active'`, id)
	if err != nil {
		return storeErr("close", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrConversationClosed
}

// UpdateTurnState records the reasoning API state after a completed turn:
// the continuation token for the next exchange and the text of the last AI
// reply. A nil token clears the stored one.
func (s *Store) UpdateTurnState(ctx context.Context, id uuid.UUID, token *string, lastAIResponse string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE conversations
		SET last_continuation_token = $2, last_ai_response = $3, updated_at = NOW()
		WHERE id = $1`,
		id, token, lastAIResponse)
	if err != nil {
		return storeErr("update_turn_state", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// SetUserID backfills the owning account once identity resolution succeeds.
// Only fills an empty slot so a later resolution never rebinds the thread.
func (s *Store) SetUserID(ctx context.Context, id, userID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE conversations SET user_id = $2, updated_at = NOW()
		WHERE id = $1 AND user_id IS NULL`, id, userID)
	return storeErr("set_user_id", err)
}

// SetLeadID backfills the matched lead. Only fills an empty slot.
func (s *Store) SetLeadID(ctx context.Context, id, leadID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE conversations SET lead_id = $2, updated_at = NOW()
		WHERE id = $1 AND lead_id IS NULL`, id, leadID)
	return storeErr("set_lead_id", err)
}

const messageColumns = `id, conversation_id, phone_number, content, direction, external_message_id,
		is_ai_generated, status, delivered_at, read_at, failed_at, error_code, error_message, created_at`

// LatestAIMessageAt returns the creation time of the newest outgoing AI
// message, or nil when the AI has not spoken yet.
func (s *Store) LatestAIMessageAt(ctx context.Context, conversationID uuid.UUID) (*time.Time, error) {
	var at time.Time
	err := s.db.QueryRow(ctx, `
		SELECT created_at FROM messages
		WHERE conversation_id = $1 AND direction = 'outgoing' AND is_ai_generated = TRUE
		ORDER BY created_at DESC
		LIMIT 1`, conversationID).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("latest_ai_message_at", err)
	}
	return &at, nil
}

// MessagesAfter returns the messages created strictly after the cutoff, in
// chronological order.
func (s *Store) MessagesAfter(ctx context.Context, conversationID uuid.UUID, after time.Time) ([]Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1 AND created_at > $2
		ORDER BY created_at ASC`, conversationID, after)
	if err != nil {
		return nil, storeErr("messages_after", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// ListMessages returns the newest messages first, capped at limit.
func (s *Store) ListMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, conversationID, limit)
	if err != nil {
		return nil, storeErr("list_messages", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID, &m.ConversationID, &m.PhoneNumber, &m.Content, &m.Direction,
			&m.ExternalMessageID, &m.IsAIGenerated, &m.Status,
			&m.DeliveredAt, &m.ReadAt, &m.FailedAt, &m.ErrorCode, &m.ErrorMessage, &m.CreatedAt,
		); err != nil {
			return nil, storeErr("scan_message", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate_messages", err)
	}
	return msgs, nil
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	err := row.Scan(
		&c.ID, &c.UserID, &c.LeadID, &c.CustomerAddress, &c.ChannelAddress, &c.ChannelType,
		&c.Status, &c.AutoRespond, &c.MessageCount, &c.CustomerMessageCount, &c.AIMessageCount,
		&c.LastContinuationToken, &c.LastAIResponse, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt, &c.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
