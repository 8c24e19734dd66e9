package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	observemetrics "github.com/donforce/messaging-ai-platform/internal/observability/metrics"
	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

type stubGatherer struct {
	families []*dto.MetricFamily
	err      error
}

func (s stubGatherer) Gather() ([]*dto.MetricFamily, error) {
	return s.families, s.err
}

var _ prometheus.Gatherer = stubGatherer{}

func TestSnapshotTurnLatencyNoMetrics(t *testing.T) {
	snap := snapshotTurnLatency(nil)
	if snap.Total != 0 {
		t.Fatalf("expected total=0, got %d", snap.Total)
	}
	if len(snap.Buckets) != 0 {
		t.Fatalf("expected no buckets, got %d", len(snap.Buckets))
	}
}

func TestGetSummaryRollsUpRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observemetrics.NewMessagingMetrics(reg)

	m.ObserveInbound("message.received", "replied")
	m.ObserveInbound("message.received", "replied")
	m.ObserveInbound("message.received", "duplicate")
	m.ObserveOutbound("sms", "queued")
	m.ObserveOutbound("sms", "failed")
	m.ObserveSignal("Schedule", "high")
	m.ObserveForward("delivered")

	m.ObserveTurn("completed", 0.3)
	m.ObserveTurn("completed", 0.3)
	m.ObserveTurn("completed", 0.3)
	m.ObserveTurn("fallback", 45)

	handler := NewAdminMetricsHandler(reg, logging.Default())
	req := httptest.NewRequest(http.MethodGet, "/admin/metrics/summary", nil)
	rec := httptest.NewRecorder()
	handler.GetSummary(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var summary MetricsSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}

	if summary.Inbound["replied"] != 2 {
		t.Fatalf("expected 2 replied inbound, got %d", summary.Inbound["replied"])
	}
	if summary.Inbound["duplicate"] != 1 {
		t.Fatalf("expected 1 duplicate inbound, got %d", summary.Inbound["duplicate"])
	}
	if summary.Outbound["failed"] != 1 {
		t.Fatalf("expected 1 failed outbound, got %d", summary.Outbound["failed"])
	}
	if summary.Signals != 1 {
		t.Fatalf("expected 1 attribution signal, got %d", summary.Signals)
	}
	if summary.Forwards["delivered"] != 1 {
		t.Fatalf("expected 1 forward delivery, got %d", summary.Forwards["delivered"])
	}

	// Fallback turns stay out of the latency rollup.
	if summary.TurnLatency.Total != 3 {
		t.Fatalf("expected 3 completed turns, got %d", summary.TurnLatency.Total)
	}
	// Three 300ms samples land in the (250ms, 500ms] bucket, so the
	// interpolated p90 must too.
	if summary.TurnLatency.P90Ms <= 250 || summary.TurnLatency.P90Ms > 500 {
		t.Fatalf("expected p90 in (250, 500]ms, got %f", summary.TurnLatency.P90Ms)
	}
	if summary.TurnLatency.P95Ms < summary.TurnLatency.P90Ms {
		t.Fatalf("p95 %f below p90 %f", summary.TurnLatency.P95Ms, summary.TurnLatency.P90Ms)
	}
}

func TestGetSummaryGatherError(t *testing.T) {
	handler := NewAdminMetricsHandler(stubGatherer{err: errors.New("gather failed")}, logging.Default())
	rec := httptest.NewRecorder()
	handler.GetSummary(rec, httptest.NewRequest(http.MethodGet, "/admin/metrics/summary", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
