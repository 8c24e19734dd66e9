package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v3"
)

func TestOutboxStoreFlow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewOutboxStore(mock)

	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), "conversation", "conversation.started.v1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if _, err := store.Append(context.Background(), AggregateConversation, "", ConversationStartedV1{ConversationID: "conv-1"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	now := time.Now().UTC()
	id := uuid.New()
	rows := pgxmock.NewRows([]string{"id", "aggregate", "event_type", "payload", "created_at"}).
		AddRow(id, "conversation", "conversation.started.v1", []byte(`{"event_id":"x"}`), now)
	mock.ExpectQuery("SELECT id").WithArgs(int32(10)).WillReturnRows(rows)

	entries, err := store.FetchPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("fetch pending failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id {
		t.Fatalf("unexpected entries: %#v", entries)
	}
	if entries[0].EventType != "conversation.started.v1" {
		t.Fatalf("unexpected event type: %s", entries[0].EventType)
	}

	mock.ExpectExec("UPDATE outbox").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := store.MarkDelivered(context.Background(), id)
	if err != nil {
		t.Fatalf("mark delivered failed: %v", err)
	}
	if !ok {
		t.Fatal("expected mark delivered to report success")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

type recordingHandler struct {
	entries []OutboxEntry
	err     error
}

func (h *recordingHandler) Handle(_ context.Context, entry OutboxEntry) error {
	h.entries = append(h.entries, entry)
	return h.err
}

func TestDelivererDrainMarksDelivered(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	id := uuid.New()
	rows := pgxmock.NewRows([]string{"id", "aggregate", "event_type", "payload", "created_at"}).
		AddRow(id, "conversation", "conversation.closed.v1", []byte(`{}`), time.Now().UTC())
	mock.ExpectQuery("SELECT id").WithArgs(int32(25)).WillReturnRows(rows)
	mock.ExpectExec("UPDATE outbox").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	handler := &recordingHandler{}
	d := NewDeliverer(NewOutboxStore(mock), handler, nil)
	d.drain(context.Background())

	if len(handler.entries) != 1 || handler.entries[0].ID != id {
		t.Fatalf("expected handler to see entry, got %#v", handler.entries)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDelivererDrainKeepsFailedEntryPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	id := uuid.New()
	rows := pgxmock.NewRows([]string{"id", "aggregate", "event_type", "payload", "created_at"}).
		AddRow(id, "conversation", "conversation.closed.v1", []byte(`{}`), time.Now().UTC())
	mock.ExpectQuery("SELECT id").WithArgs(int32(25)).WillReturnRows(rows)

	handler := &recordingHandler{err: errors.New("target down")}
	d := NewDeliverer(NewOutboxStore(mock), handler, nil)
	d.drain(context.Background())

	if len(handler.entries) != 1 {
		t.Fatalf("expected handler attempt, got %d", len(handler.entries))
	}
	// No UPDATE expectation: a failed delivery must not be marked delivered.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
