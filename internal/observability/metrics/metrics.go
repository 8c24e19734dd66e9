package metrics

import "github.com/prometheus/client_golang/prometheus"

// MessagingMetrics exposes counters/histograms for the webhook-to-reply flow.
type MessagingMetrics struct {
	inboundTotal       *prometheus.CounterVec
	outboundTotal      *prometheus.CounterVec
	webhookLatency     *prometheus.HistogramVec
	turnLatency        *prometheus.HistogramVec
	attributionSignals *prometheus.CounterVec
	forwardDeliveries  *prometheus.CounterVec
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "messaging",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound provider webhooks",
		}, []string{"event_type", "status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "messaging",
			Name:      "outbound_total",
			Help:      "Total outbound provider sends",
		}, []string{"channel", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "messaging",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of inbound webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "messaging",
			Name:      "turn_latency_seconds",
			Help:      "Latency of reasoning turns including tool rounds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		attributionSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "messaging",
			Name:      "attribution_signals_total",
			Help:      "Conversion signals detected in outbound replies",
		}, []string{"event_name", "confidence"}),
		forwardDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "messaging",
			Name:      "forward_deliveries_total",
			Help:      "Outbox envelope deliveries to forward targets",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.webhookLatency,
		m.turnLatency, m.attributionSignals, m.forwardDeliveries)
	return m
}

func (m *MessagingMetrics) ObserveInbound(eventType, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(eventType, status).Inc()
}

func (m *MessagingMetrics) ObserveOutbound(channel, status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(channel, status).Inc()
}

func (m *MessagingMetrics) ObserveWebhookLatency(eventType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(eventType).Observe(seconds)
}

func (m *MessagingMetrics) ObserveTurn(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.turnLatency.WithLabelValues(outcome).Observe(seconds)
}

func (m *MessagingMetrics) ObserveSignal(eventName, confidence string) {
	if m == nil {
		return
	}
	m.attributionSignals.WithLabelValues(eventName, confidence).Inc()
}

func (m *MessagingMetrics) ObserveForward(status string) {
	if m == nil {
		return
	}
	m.forwardDeliveries.WithLabelValues(status).Inc()
}
