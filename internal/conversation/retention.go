package conversation

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

// S3API is the subset of the S3 client used by the Archiver.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// TranscriptMessage is one archived log entry.
type TranscriptMessage struct {
	Direction   Direction `json:"direction"`
	Content     string    `json:"content"`
	AIGenerated bool      `json:"ai_generated"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// TranscriptRecord is the JSON document written to the archive bucket before
// a conversation is purged. The customer address is stored hashed.
type TranscriptRecord struct {
	Version        string              `json:"version"`
	ConversationID string              `json:"conversation_id"`
	UserID         string              `json:"user_id,omitempty"`
	CustomerHash   string              `json:"customer_hash"`
	ChannelType    ChannelType         `json:"channel_type"`
	Status         string              `json:"status"`
	MessageCount   int                 `json:"message_count"`
	ClosedAt       *time.Time          `json:"closed_at,omitempty"`
	ArchivedAt     time.Time           `json:"archived_at"`
	Messages       []TranscriptMessage `json:"messages"`
}

// Archiver writes conversation transcripts to S3. With no bucket configured
// every operation is a no-op, so retention still purges without archival.
type Archiver struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
}

// NewArchiver builds an Archiver.
func NewArchiver(s3Client S3API, bucket string, logger *logging.Logger) *Archiver {
	if logger == nil {
		logger = logging.Default()
	}
	return &Archiver{bucket: bucket, s3Client: s3Client, logger: logger}
}

// Enabled reports whether archival is configured.
func (a *Archiver) Enabled() bool {
	return a != nil && a.bucket != "" && a.s3Client != nil
}

// ArchiveTranscript writes the record to the bucket, keyed by close date.
func (a *Archiver) ArchiveTranscript(ctx context.Context, record *TranscriptRecord) error {
	if !a.Enabled() {
		return nil
	}
	if record.ArchivedAt.IsZero() {
		record.ArchivedAt = time.Now().UTC()
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("conversation: marshal transcript: %w", err)
	}

	at := record.ArchivedAt
	key := fmt.Sprintf("transcripts/v1/by-date/%d/%02d/%02d/%s.json",
		at.Year(), at.Month(), at.Day(), record.ConversationID)

	_, err = a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("conversation: s3 put %s: %w", key, err)
	}

	a.logger.Info("archived transcript",
		"conversation_id", record.ConversationID,
		"s3_key", key,
		"message_count", record.MessageCount)
	return nil
}

// ListExpired returns closed conversations whose last activity is older than
// the cutoff, oldest first, capped at limit.
func (s *Store) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE status = 'closed' AND COALESCE(last_message_at, updated_at) < $1
		ORDER BY COALESCE(last_message_at, updated_at) ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, storeErr("list_expired", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(
			&c.ID, &c.UserID, &c.LeadID, &c.CustomerAddress, &c.ChannelAddress, &c.ChannelType,
			&c.Status, &c.AutoRespond, &c.MessageCount, &c.CustomerMessageCount, &c.AIMessageCount,
			&c.LastContinuationToken, &c.LastAIResponse, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt, &c.ClosedAt,
		); err != nil {
			return nil, storeErr("scan_expired", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate_expired", err)
	}
	return convs, nil
}

// Delete removes a conversation. Messages go with it via the foreign key
// cascade.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return storeErr("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// Sweeper purges closed conversations past the retention age, archiving each
// transcript first. Archive failures skip the purge for that conversation so
// nothing is lost unarchived.
type Sweeper struct {
	store    *Store
	archiver *Archiver
	age      time.Duration
	batch    int
	logger   *logging.Logger
}

// NewSweeper builds a Sweeper.
func NewSweeper(store *Store, archiver *Archiver, age time.Duration, batch int, logger *logging.Logger) *Sweeper {
	if store == nil {
		panic("conversation: sweeper requires a store")
	}
	if age <= 0 {
		age = 90 * 24 * time.Hour
	}
	if batch <= 0 {
		batch = 100
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{store: store, archiver: archiver, age: age, batch: batch, logger: logger}
}

// Run performs one sweep pass and returns how many conversations were
// purged.
func (sw *Sweeper) Run(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "sweeper.run")
	defer span.End()

	cutoff := time.Now().UTC().Add(-sw.age)
	expired, err := sw.store.ListExpired(ctx, cutoff, sw.batch)
	if err != nil {
		return 0, err
	}

	purged := 0
	for i := range expired {
		conv := &expired[i]
		if err := sw.archiveOne(ctx, conv); err != nil {
			sw.logger.Error("transcript archive failed, skipping purge",
				"conversation_id", conv.ID, "error", err)
			continue
		}
		if err := sw.store.Delete(ctx, conv.ID); err != nil {
			sw.logger.Error("purge failed",
				"conversation_id", conv.ID, "error", err)
			continue
		}
		purged++
	}

	sw.logger.Info("retention sweep finished",
		"candidates", len(expired), "purged", purged, "cutoff", cutoff)
	return purged, nil
}

func (sw *Sweeper) archiveOne(ctx context.Context, conv *Conversation) error {
	if !sw.archiver.Enabled() {
		return nil
	}
	msgs, err := sw.store.ListMessages(ctx, conv.ID, conv.MessageCount+1)
	if err != nil {
		return err
	}
	// ListMessages returns newest first; the transcript reads oldest first.
	transcript := make([]TranscriptMessage, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		transcript = append(transcript, TranscriptMessage{
			Direction:   m.Direction,
			Content:     m.Content,
			AIGenerated: m.IsAIGenerated,
			Status:      m.Status,
			CreatedAt:   m.CreatedAt,
		})
	}

	record := &TranscriptRecord{
		Version:        "1.0",
		ConversationID: conv.ID.String(),
		CustomerHash:   HashAddress(conv.CustomerAddress),
		ChannelType:    conv.ChannelType,
		Status:         conv.Status,
		MessageCount:   len(transcript),
		ClosedAt:       conv.ClosedAt,
		Messages:       transcript,
	}
	if conv.UserID != nil {
		record.UserID = conv.UserID.String()
	}
	return sw.archiver.ArchiveTranscript(ctx, record)
}

// HashAddress returns the hex-encoded SHA-256 hash of a customer address.
// Archived transcripts and forwarded events carry this instead of the raw
// address.
func HashAddress(address string) string {
	h := sha256.Sum256([]byte(address))
	return fmt.Sprintf("%x", h)
}
