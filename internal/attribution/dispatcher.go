package attribution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/donforce/messaging-ai-platform/internal/events"
	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

// SignalJobV1 is the queue payload for a detected signal. The raw phone
// travels only as far as the worker; it is hashed before leaving the
// platform.
type SignalJobV1 struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	EventName      string    `json:"event_name"`
	Confidence     string    `json:"confidence"`
	Value          float64   `json:"value"`
	Currency       string    `json:"currency"`
	Phone          string    `json:"phone"`
	LeadID         string    `json:"lead_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type taskPublisher interface {
	Publish(ctx context.Context, kind events.TaskKind, payload any) (events.Task, error)
}

// DispatchInput describes one dispatched reply to consider for a signal.
type DispatchInput struct {
	ConversationID uuid.UUID
	MessageID      uuid.UUID
	CustomerPhone  string
	BookingURL     string
	UserID         *uuid.UUID
	LeadID         *uuid.UUID
	ReplyText      string
	OccurredAt     time.Time
}

// Dispatcher detects signals and hands them off without blocking the
// caller. With a publisher configured the signal rides the task queue;
// otherwise a detached goroutine posts it directly with its own timeout.
type Dispatcher struct {
	detector  *Detector
	client    *Client
	publisher taskPublisher
	logger    *logging.Logger
	timeout   time.Duration
}

func NewDispatcher(detector *Detector, client *Client, publisher taskPublisher, logger *logging.Logger) *Dispatcher {
	if detector == nil {
		panic("attribution: detector required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		detector:  detector,
		client:    client,
		publisher: publisher,
		logger:    logger,
		timeout:   10 * time.Second,
	}
}

// Dispatch scans the reply and schedules at most one signal. It never
// returns an error: attribution must not disturb the reply path. When the
// signal rides the task queue the queued task ID is returned so callers can
// track the job; every other path returns "".
func (d *Dispatcher) Dispatch(ctx context.Context, input DispatchInput) string {
	signal, ok := d.detector.Detect(input.ReplyText, input.BookingURL)
	if !ok {
		return ""
	}
	if input.UserID == nil && input.LeadID == nil {
		d.logger.Debug("attribution suppressed, no resolved identity", "conversation_id", input.ConversationID)
		return ""
	}

	job := SignalJobV1{
		ConversationID: input.ConversationID.String(),
		MessageID:      input.MessageID.String(),
		EventName:      signal.EventName,
		Confidence:     string(signal.Confidence),
		Value:          signal.Value,
		Currency:       signal.Currency,
		Phone:          input.CustomerPhone,
		OccurredAt:     input.OccurredAt,
	}
	if input.LeadID != nil {
		job.LeadID = input.LeadID.String()
	}

	if d.publisher != nil {
		task, err := d.publisher.Publish(ctx, events.TaskAttribution, job)
		if err != nil {
			d.logger.Warn("attribution enqueue failed", "error", err, "conversation_id", job.ConversationID)
			return ""
		}
		return task.ID
	}
	if d.client != nil {
		go d.deliverDetached(job)
		return ""
	}
	d.logger.Debug("attribution not configured, signal dropped", "event_name", job.EventName)
	return ""
}

func (d *Dispatcher) deliverDetached(job SignalJobV1) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.Deliver(ctx, job); err != nil {
		d.logger.Warn("attribution dispatch failed", "error", err, "conversation_id", job.ConversationID)
	}
}

// Deliver converts a job into a conversion event and posts it. The worker
// calls this for queued jobs.
func (d *Dispatcher) Deliver(ctx context.Context, job SignalJobV1) error {
	if d.client == nil {
		return errors.New("attribution: client not configured")
	}
	evt := Event{
		EventName:    job.EventName,
		EventID:      job.MessageID,
		ActionSource: "chat",
		UserData:     UserData{HashedPhones: []string{HashPhone(job.Phone)}},
		CustomData:   CustomData{Value: job.Value, Currency: job.Currency},
	}
	if !job.OccurredAt.IsZero() {
		evt.EventTime = job.OccurredAt.Unix()
	}
	if job.LeadID != "" {
		evt.UserData.ExternalIDs = []string{hashHex(job.LeadID)}
	}
	return d.client.SendEvent(ctx, evt)
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
