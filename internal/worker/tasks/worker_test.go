package taskworker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/donforce/messaging-ai-platform/internal/attribution"
	"github.com/donforce/messaging-ai-platform/internal/events"
)

type stubDeliverer struct {
	jobs []attribution.SignalJobV1
	err  error
	done chan struct{}
}

func (s *stubDeliverer) Deliver(_ context.Context, job attribution.SignalJobV1) error {
	s.jobs = append(s.jobs, job)
	if s.done != nil {
		close(s.done)
	}
	return s.err
}

type stubJobs struct {
	completed []string
	failed    []string
	reasons   []string
}

func (s *stubJobs) MarkCompleted(_ context.Context, jobID string) error {
	s.completed = append(s.completed, jobID)
	return nil
}

func (s *stubJobs) MarkFailed(_ context.Context, jobID string, errMsg string) error {
	s.failed = append(s.failed, jobID)
	s.reasons = append(s.reasons, errMsg)
	return nil
}

func taskBody(t *testing.T, id string, kind events.TaskKind, payload any) string {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	body, err := json.Marshal(events.Task{ID: id, Kind: kind, Payload: data})
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	return string(body)
}

func TestHandleMessageDeliversAttribution(t *testing.T) {
	deliverer := &stubDeliverer{}
	jobs := &stubJobs{}
	w := NewWorker(events.NewMemoryQueue(1), deliverer, jobs, nil)

	job := attribution.SignalJobV1{
		ConversationID: "conv-1",
		MessageID:      "msg-1",
		EventName:      attribution.EventSchedule,
		Confidence:     "high",
		Value:          25,
		Currency:       "USD",
		Phone:          "+15550001111",
	}
	msg := events.QueueMessage{ID: "m-1", Body: taskBody(t, "job-1", events.TaskAttribution, job), ReceiptHandle: "rh-1"}
	w.handleMessage(context.Background(), msg)

	if len(deliverer.jobs) != 1 {
		t.Fatalf("expected one delivery, got %d", len(deliverer.jobs))
	}
	if deliverer.jobs[0].ConversationID != "conv-1" || deliverer.jobs[0].EventName != attribution.EventSchedule {
		t.Fatalf("unexpected job: %+v", deliverer.jobs[0])
	}
	if len(jobs.completed) != 1 || jobs.completed[0] != "job-1" {
		t.Fatalf("expected job-1 completed, got %#v", jobs.completed)
	}
	if len(jobs.failed) != 0 {
		t.Fatalf("expected no failures, got %#v", jobs.failed)
	}
}

func TestHandleMessageDeliveryFailureMarksJobFailed(t *testing.T) {
	deliverer := &stubDeliverer{err: errors.New("endpoint down")}
	jobs := &stubJobs{}
	w := NewWorker(events.NewMemoryQueue(1), deliverer, jobs, nil)

	msg := events.QueueMessage{ID: "m-1", Body: taskBody(t, "job-2", events.TaskAttribution, attribution.SignalJobV1{MessageID: "x"}), ReceiptHandle: "rh"}
	w.handleMessage(context.Background(), msg)

	if len(jobs.failed) != 1 || jobs.failed[0] != "job-2" {
		t.Fatalf("expected job-2 failed, got %#v", jobs.failed)
	}
	if jobs.reasons[0] != "endpoint down" {
		t.Fatalf("unexpected failure reason: %s", jobs.reasons[0])
	}
	if len(jobs.completed) != 0 {
		t.Fatalf("expected no completions, got %#v", jobs.completed)
	}
}

func TestHandleMessageUnknownKindDropped(t *testing.T) {
	deliverer := &stubDeliverer{}
	jobs := &stubJobs{}
	w := NewWorker(events.NewMemoryQueue(1), deliverer, jobs, nil)

	msg := events.QueueMessage{ID: "m-1", Body: taskBody(t, "job-3", "mystery.kind", nil), ReceiptHandle: "rh"}
	w.handleMessage(context.Background(), msg)

	if len(deliverer.jobs) != 0 {
		t.Fatalf("expected no delivery for unknown kind, got %d", len(deliverer.jobs))
	}
	if len(jobs.completed) != 0 || len(jobs.failed) != 0 {
		t.Fatalf("expected no job updates, got %#v %#v", jobs.completed, jobs.failed)
	}
}

func TestHandleMessageMalformedBody(t *testing.T) {
	deliverer := &stubDeliverer{}
	w := NewWorker(events.NewMemoryQueue(1), deliverer, nil, nil)

	w.handleMessage(context.Background(), events.QueueMessage{ID: "m-1", Body: "not json", ReceiptHandle: "rh"})

	if len(deliverer.jobs) != 0 {
		t.Fatalf("expected no delivery, got %d", len(deliverer.jobs))
	}
}

func TestHandleMessageMalformedPayloadMarksFailed(t *testing.T) {
	deliverer := &stubDeliverer{}
	jobs := &stubJobs{}
	w := NewWorker(events.NewMemoryQueue(1), deliverer, jobs, nil)

	body, err := json.Marshal(events.Task{ID: "job-4", Kind: events.TaskAttribution, Payload: json.RawMessage(`"scalar"`)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	w.handleMessage(context.Background(), events.QueueMessage{ID: "m-1", Body: string(body), ReceiptHandle: "rh"})

	if len(deliverer.jobs) != 0 {
		t.Fatalf("expected no delivery, got %d", len(deliverer.jobs))
	}
	if len(jobs.failed) != 1 || jobs.failed[0] != "job-4" {
		t.Fatalf("expected job-4 failed, got %#v", jobs.failed)
	}
}

func TestWorkerDrainsQueue(t *testing.T) {
	queue := events.NewMemoryQueue(4)
	deliverer := &stubDeliverer{done: make(chan struct{})}
	w := NewWorker(queue, deliverer, nil, nil, WithWorkerCount(1), WithReceiveWait(1))

	pub := events.NewPublisher(queue, nil)
	if _, err := pub.Publish(context.Background(), events.TaskAttribution, attribution.SignalJobV1{ConversationID: "conv-9"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	select {
	case <-deliverer.done:
	case <-time.After(3 * time.Second):
		t.Fatal("worker never processed the queued task")
	}

	cancel()
	w.Wait()

	if len(deliverer.jobs) != 1 || deliverer.jobs[0].ConversationID != "conv-9" {
		t.Fatalf("unexpected deliveries: %#v", deliverer.jobs)
	}
}
