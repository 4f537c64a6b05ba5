package schemacanon

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the canonicalizer's Prometheus collectors.
type Metrics struct {
	Canonicalizations *prometheus.CounterVec
	Enrichments       prometheus.Counter
	VerifyDuration    prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Canonicalizations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "schemacanon_canonicalizations_total",
			Help: "Canonicalization calls by variant and final state.",
		}, []string{"variant", "state"}),
		Enrichments: f.NewCounter(prometheus.CounterOpts{
			Name: "schemacanon_enrichments_total",
			Help: "Relations added to the schema by enrichment.",
		}),
		VerifyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "schemacanon_verify_duration_seconds",
			Help:    "Latency of the verification model call.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
}

func (m *Metrics) observe(variant Variant, r *Result) {
	if m == nil {
		return
	}
	m.Canonicalizations.WithLabelValues(string(variant), string(r.State)).Inc()
	if r.Enriched {
		m.Enrichments.Inc()
	}
}

func (m *Metrics) observeVerify(d time.Duration) {
	if m == nil {
		return
	}
	m.VerifyDuration.Observe(d.Seconds())
}
