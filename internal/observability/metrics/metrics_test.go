package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMessagingMetricsObserve(t *testing.T) {
	m := NewMessagingMetrics(nil)
	m.ObserveInbound("message.received", "replied")
	m.ObserveOutbound("sms", "sent")
	m.ObserveWebhookLatency("message.received", 0.5)
	m.ObserveTurn("completed", 1.2)
	m.ObserveSignal("Schedule", "high")
	m.ObserveForward("delivered")
}

func TestMessagingMetricsCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMessagingMetrics(reg)
	m.ObserveOutbound("whatsapp", "failed")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "messaging_outbound_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected messaging_outbound_total in registry")
	}
}

func TestMessagingMetricsNilSafe(t *testing.T) {
	var m *MessagingMetrics
	m.ObserveInbound("event", "status")
	m.ObserveOutbound("sms", "sent")
	m.ObserveWebhookLatency("event", 0.1)
	m.ObserveTurn("fallback", 0.1)
	m.ObserveSignal("Contact", "medium")
	m.ObserveForward("failed")
}
