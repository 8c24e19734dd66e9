// Package taskworker consumes background tasks from the queue: attribution
// signals detected after a reply was dispatched. Tasks are deleted after one
// attempt; their outcome is recorded in the job store, not retried forever.
package taskworker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/donforce/messaging-ai-platform/internal/attribution"
	"github.com/donforce/messaging-ai-platform/internal/events"
	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

const (
	defaultWorkerCount    = 2
	defaultWaitSeconds    = 2
	defaultBatchSize      = 5
	maxWaitSeconds        = 20
	maxReceiveBatchSize   = 10
	deleteTimeoutSeconds  = 5
	defaultDeliverTimeout = 10 * time.Second
)

type signalDeliverer interface {
	Deliver(ctx context.Context, job attribution.SignalJobV1) error
}

type jobTracker interface {
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, errMsg string) error
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	deliverTimeout   time.Duration
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWait sets the long-poll wait in seconds.
func WithReceiveWait(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds > 0 && seconds <= maxWaitSeconds {
			cfg.receiveWaitSecs = seconds
		}
	}
}

// WithBatchSize sets how many messages one receive call may return.
func WithBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size > 0 && size <= maxReceiveBatchSize {
			cfg.receiveBatchSize = size
		}
	}
}

// WithDeliverTimeout bounds each attribution delivery attempt.
func WithDeliverTimeout(timeout time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if timeout > 0 {
			cfg.deliverTimeout = timeout
		}
	}
}

// Worker consumes queued tasks and invokes the matching processor.
type Worker struct {
	queue     events.QueueClient
	deliverer signalDeliverer
	jobs      jobTracker
	logger    *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

// NewWorker creates a task worker. jobs may be nil when job status tracking
// is disabled.
func NewWorker(queue events.QueueClient, deliverer signalDeliverer, jobs jobTracker, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if queue == nil {
		panic("taskworker: queue required")
	}
	if deliverer == nil {
		panic("taskworker: deliverer required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		deliverTimeout:   defaultDeliverTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Worker{
		queue:     queue,
		deliverer: deliverer,
		jobs:      jobs,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start launches the consumer goroutines.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("task worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("task worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive tasks", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg events.QueueMessage) {
	task, err := events.DecodeTask(msg.Body)
	if err != nil {
		w.logger.Error("failed to decode task", "error", err, "msg_id", msg.ID)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	w.logger.Info("worker processing task", "task_id", task.ID, "kind", string(task.Kind), "msg_id", msg.ID)

	switch task.Kind {
	case events.TaskAttribution:
		w.handleAttribution(ctx, task)
	default:
		w.logger.Warn("unknown task kind, dropping", "kind", string(task.Kind), "task_id", task.ID)
	}

	w.deleteMessage(context.Background(), msg.ReceiptHandle)
}

func (w *Worker) handleAttribution(ctx context.Context, task events.Task) {
	var job attribution.SignalJobV1
	if err := json.Unmarshal(task.Payload, &job); err != nil {
		w.logger.Error("failed to decode attribution job", "error", err, "task_id", task.ID)
		w.failJob(ctx, task.ID, "malformed payload: "+err.Error())
		return
	}

	deliverCtx, cancel := context.WithTimeout(ctx, w.cfg.deliverTimeout)
	defer cancel()

	if err := w.deliverer.Deliver(deliverCtx, job); err != nil {
		w.logger.Error("attribution delivery failed", "error", err, "task_id", task.ID, "conversation_id", job.ConversationID)
		w.failJob(ctx, task.ID, err.Error())
		return
	}
	w.logger.Info("attribution signal delivered", "task_id", task.ID, "event_name", job.EventName, "confidence", job.Confidence)
	w.completeJob(ctx, task.ID)
}

func (w *Worker) completeJob(ctx context.Context, jobID string) {
	if w.jobs == nil {
		return
	}
	if err := w.jobs.MarkCompleted(ctx, jobID); err != nil {
		w.logger.Error("failed to update job status", "error", err, "job_id", jobID)
	}
}

func (w *Worker) failJob(ctx context.Context, jobID, reason string) {
	if w.jobs == nil {
		return
	}
	if err := w.jobs.MarkFailed(ctx, jobID, reason); err != nil {
		w.logger.Error("failed to update job status", "error", err, "job_id", jobID)
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}

	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()

	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete task message", "error", err)
	}
}
