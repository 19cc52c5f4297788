// Package telemetry exposes the engine's prometheus metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine-level collectors. Register once at startup.
type Metrics struct {
	Turns           *prometheus.CounterVec
	DegradedScores  prometheus.Counter
	RetrievalQuery  *prometheus.CounterVec
	TurnDuration    prometheus.Histogram
	ActiveBackend   *prometheus.GaugeVec
	MergeRejections prometheus.Counter
}

// New registers the collectors on reg (nil means the default registry).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "edrisk_turns_total",
			Help: "Turns processed, by routed intent.",
		}, []string{"intent"}),
		DegradedScores: factory.NewCounter(prometheus.CounterOpts{
			Name: "edrisk_degraded_assessments_total",
			Help: "Assessments produced by the heuristic fallback estimator.",
		}),
		RetrievalQuery: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "edrisk_retrieval_queries_total",
			Help: "Knowledge-base queries, by backend.",
		}, []string{"backend"}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "edrisk_turn_duration_seconds",
			Help:    "End-to-end turn latency.",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveBackend: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "edrisk_retrieval_backend",
			Help: "Set to 1 for the retrieval backend selected at startup.",
		}, []string{"backend"}),
		MergeRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "edrisk_merge_rejected_fields_total",
			Help: "Fields rejected while merging document-parser state.",
		}),
	}
}

// ObserveTurn records one completed turn.
func (m *Metrics) ObserveTurn(intent string, start time.Time) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(intent).Inc()
	m.TurnDuration.Observe(time.Since(start).Seconds())
}
