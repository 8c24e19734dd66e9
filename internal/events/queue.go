package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

// QueueClient abstracts the background task queue. SQSQueue backs it in
// deployed environments, MemoryQueue in tests and local runs.
type QueueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// QueueMessage is a received queue item.
type QueueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// TaskKind identifies the kind of background work a queued task carries.
type TaskKind string

const (
	// TaskAttribution dispatches a detected conversion signal to the
	// attribution API.
	TaskAttribution TaskKind = "attribution.signal"
)

// Task is the queue wire format. Payload is kind-specific and decoded by
// the worker.
type Task struct {
	ID      string          `json:"id"`
	Kind    TaskKind        `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeTask parses a queue message body.
func DecodeTask(body string) (Task, error) {
	var task Task
	if err := json.Unmarshal([]byte(body), &task); err != nil {
		return Task{}, fmt.Errorf("events: decode task: %w", err)
	}
	if task.Kind == "" {
		return Task{}, fmt.Errorf("events: task kind missing")
	}
	return task, nil
}

// Publisher enqueues background tasks.
type Publisher struct {
	queue  QueueClient
	logger *logging.Logger
}

func NewPublisher(queue QueueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("events: queue client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// Publish marshals the payload into a task and sends it. The returned task
// carries the generated id.
func (p *Publisher) Publish(ctx context.Context, kind TaskKind, payload any) (Task, error) {
	if kind == "" {
		return Task{}, fmt.Errorf("events: task kind required")
	}
	task := Task{ID: uuid.NewString(), Kind: kind}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Task{}, fmt.Errorf("events: marshal task payload: %w", err)
		}
		task.Payload = data
	}
	body, err := json.Marshal(task)
	if err != nil {
		return Task{}, fmt.Errorf("events: marshal task: %w", err)
	}
	if err := p.queue.Send(ctx, string(body)); err != nil {
		return Task{}, fmt.Errorf("events: enqueue task: %w", err)
	}
	p.logger.Debug("task enqueued", "task_id", task.ID, "kind", string(kind))
	return task, nil
}
