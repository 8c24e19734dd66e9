package handlers

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

const turnLatencyMetric = "messaging_turn_latency_seconds"

// TurnLatencySnapshot aggregates the turn latency histogram for completed
// turns. Fallback turns are excluded so provider outages don't distort the
// percentiles.
type TurnLatencySnapshot struct {
	Total   int64               `json:"total"`
	P90Ms   float64             `json:"p90_ms"`
	P95Ms   float64             `json:"p95_ms"`
	Buckets []TurnLatencyBucket `json:"buckets"`
}

// TurnLatencyBucket is one histogram bucket. The final overflow bucket
// carries a label instead of an upper bound.
type TurnLatencyBucket struct {
	LeSeconds float64 `json:"le_seconds"`
	Label     string  `json:"label,omitempty"`
	Count     int64   `json:"count"`
}

// MetricsSummary is the operational rollup served to the admin UI: traffic
// counters split by status plus reasoning turn latency percentiles.
type MetricsSummary struct {
	GeneratedAt string              `json:"generated_at"`
	TurnLatency TurnLatencySnapshot `json:"turn_latency"`
	Inbound     map[string]int64    `json:"inbound_by_status"`
	Outbound    map[string]int64    `json:"outbound_by_status"`
	Signals     int64               `json:"attribution_signals"`
	Forwards    map[string]int64    `json:"forward_deliveries_by_status"`
}

// AdminMetricsHandler rolls up the in-process Prometheus registry into JSON,
// so the admin UI gets operational numbers without scraping infrastructure.
type AdminMetricsHandler struct {
	gatherer prometheus.Gatherer
	logger   *logging.Logger
}

// NewAdminMetricsHandler builds the handler. A nil gatherer falls back to
// the process-default registry.
func NewAdminMetricsHandler(gatherer prometheus.Gatherer, logger *logging.Logger) *AdminMetricsHandler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminMetricsHandler{gatherer: gatherer, logger: logger}
}

// GetSummary returns current traffic counters and turn latency percentiles.
// GET /admin/metrics/summary
func (h *AdminMetricsHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	mfs, err := h.gatherer.Gather()
	if err != nil {
		h.logger.Error("metrics gather failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, MetricsSummary{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		TurnLatency: snapshotTurnLatency(mfs),
		Inbound:     sumByLabel(mfs, "messaging_inbound_webhook_total", "status"),
		Outbound:    sumByLabel(mfs, "messaging_outbound_total", "status"),
		Signals:     sumCounter(mfs, "messaging_attribution_signals_total"),
		Forwards:    sumByLabel(mfs, "messaging_forward_deliveries_total", "status"),
	})
}

func snapshotTurnLatency(mfs []*dto.MetricFamily) TurnLatencySnapshot {
	var family *dto.MetricFamily
	for _, mf := range mfs {
		if mf != nil && mf.GetName() == turnLatencyMetric {
			family = mf
			break
		}
	}
	if family == nil {
		return TurnLatencySnapshot{}
	}

	// Aggregate histograms across label sets, keeping only completed turns.
	cumulativeByUpper := map[float64]uint64{}
	var sampleCount uint64

	for _, metric := range family.Metric {
		if metric == nil {
			continue
		}
		if !hasLabel(metric, "outcome", "completed") {
			continue
		}
		hist := metric.GetHistogram()
		if hist == nil {
			continue
		}
		sampleCount += hist.GetSampleCount()
		for _, b := range hist.Bucket {
			if b == nil {
				continue
			}
			cumulativeByUpper[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}

	if sampleCount == 0 || len(cumulativeByUpper) == 0 {
		return TurnLatencySnapshot{}
	}

	uppers := make([]float64, 0, len(cumulativeByUpper))
	for upper := range cumulativeByUpper {
		uppers = append(uppers, upper)
	}
	sort.Float64s(uppers)

	buckets := make([]TurnLatencyBucket, 0, len(uppers))
	var prev uint64
	var lastFiniteUpper float64
	for _, upper := range uppers {
		cum := cumulativeByUpper[upper]
		if math.IsInf(upper, 1) {
			overflow := int64(0)
			if cum >= prev {
				overflow = int64(cum - prev)
			} else {
				overflow = int64(cum)
			}
			if overflow > 0 {
				buckets = append(buckets, TurnLatencyBucket{
					LeSeconds: lastFiniteUpper,
					Label:     fmt.Sprintf(">%s", formatSeconds(lastFiniteUpper)),
					Count:     overflow,
				})
			}
			prev = cum
			continue
		}

		lastFiniteUpper = upper
		count := int64(0)
		if cum >= prev {
			count = int64(cum - prev)
		} else {
			count = int64(cum)
		}
		buckets = append(buckets, TurnLatencyBucket{
			LeSeconds: upper,
			Count:     count,
		})
		prev = cum
	}

	p90 := histogramQuantile(0.90, sampleCount, uppers, cumulativeByUpper)
	p95 := histogramQuantile(0.95, sampleCount, uppers, cumulativeByUpper)

	return TurnLatencySnapshot{
		Total:   int64(sampleCount),
		P90Ms:   p90 * 1000.0,
		P95Ms:   p95 * 1000.0,
		Buckets: buckets,
	}
}

// sumByLabel totals a counter family keyed by one label's values.
func sumByLabel(mfs []*dto.MetricFamily, name, label string) map[string]int64 {
	totals := map[string]int64{}
	for _, mf := range mfs {
		if mf == nil || mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if metric == nil || metric.GetCounter() == nil {
				continue
			}
			key := ""
			for _, lp := range metric.Label {
				if lp != nil && lp.GetName() == label {
					key = lp.GetValue()
					break
				}
			}
			totals[key] += int64(metric.GetCounter().GetValue())
		}
	}
	return totals
}

// sumCounter totals a counter family across all label sets.
func sumCounter(mfs []*dto.MetricFamily, name string) int64 {
	var total int64
	for _, mf := range mfs {
		if mf == nil || mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if metric == nil || metric.GetCounter() == nil {
				continue
			}
			total += int64(metric.GetCounter().GetValue())
		}
	}
	return total
}

func hasLabel(metric *dto.Metric, name, value string) bool {
	for _, lp := range metric.Label {
		if lp == nil {
			continue
		}
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func histogramQuantile(q float64, total uint64, uppers []float64, cumulativeByUpper map[float64]uint64) float64 {
	if total == 0 || q <= 0 {
		return 0
	}
	if q >= 1 {
		for i := len(uppers) - 1; i >= 0; i-- {
			if !math.IsInf(uppers[i], 1) {
				return uppers[i]
			}
		}
		return 0
	}

	target := q * float64(total)
	var prevUpper float64
	var prevCum float64

	for _, upper := range uppers {
		cum := float64(cumulativeByUpper[upper])
		if cum < target {
			prevUpper = upper
			prevCum = cum
			continue
		}

		// If we can't interpolate, return the bucket upper bound.
		bucketCount := cum - prevCum
		if bucketCount <= 0 || upper == prevUpper {
			return upper
		}
		if math.IsInf(upper, 1) {
			return prevUpper
		}

		fraction := (target - prevCum) / bucketCount
		if fraction < 0 {
			fraction = 0
		}
		if fraction > 1 {
			fraction = 1
		}

		lower := prevUpper
		return lower + fraction*(upper-lower)
	}

	return uppers[len(uppers)-1]
}

func formatSeconds(seconds float64) string {
	if seconds <= 0 {
		return "0s"
	}
	if seconds < 1 {
		return fmt.Sprintf("%.2fs", seconds)
	}
	if seconds < 10 {
		return fmt.Sprintf("%.1fs", seconds)
	}
	return fmt.Sprintf("%.0fs", seconds)
}
