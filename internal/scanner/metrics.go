package scanner

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"dexwatch/internal/model"
)

// Metrics exposes per-(chain, category) ingestion health to Prometheus.
type Metrics struct {
	checkpoint     *prometheus.GaugeVec
	state          *prometheus.GaugeVec
	eventsIngested *prometheus.CounterVec
	decodeFailures *prometheus.CounterVec
	backoffs       *prometheus.CounterVec
}

// NewMetrics creates and registers the scanner collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	labels := []string{"chain_id", "category"}
	m := &Metrics{
		checkpoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dexwatch_scanner_checkpoint_block",
			Help: "Last fully processed block per chain and event category.",
		}, labels),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dexwatch_scanner_state",
			Help: "Scanner state (0=idle .. 7=failed).",
		}, labels),
		eventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dexwatch_events_ingested_total",
			Help: "Newly inserted events (duplicates excluded).",
		}, labels),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dexwatch_decode_failures_total",
			Help: "Logs that failed to decode and were skipped.",
		}, labels),
		backoffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dexwatch_scanner_backoffs_total",
			Help: "Retries after recoverable tick failures.",
		}, labels),
	}
	if reg != nil {
		reg.MustRegister(m.checkpoint, m.state, m.eventsIngested, m.decodeFailures, m.backoffs)
	}
	return m
}

func labelValues(chainID uint64, category model.EventCategory) []string {
	return []string{strconv.FormatUint(chainID, 10), string(category)}
}

func (m *Metrics) ObserveBatch(chainID uint64, category model.EventCategory, checkpoint uint64, inserted int) {
	m.checkpoint.WithLabelValues(labelValues(chainID, category)...).Set(float64(checkpoint))
	m.eventsIngested.WithLabelValues(labelValues(chainID, category)...).Add(float64(inserted))
}

func (m *Metrics) ObserveState(chainID uint64, category model.EventCategory, state State) {
	m.state.WithLabelValues(labelValues(chainID, category)...).Set(float64(state))
}

func (m *Metrics) ObserveDecodeFailure(chainID uint64, category model.EventCategory) {
	m.decodeFailures.WithLabelValues(labelValues(chainID, category)...).Inc()
}

func (m *Metrics) ObserveBackoff(chainID uint64, category model.EventCategory) {
	m.backoffs.WithLabelValues(labelValues(chainID, category)...).Inc()
}
