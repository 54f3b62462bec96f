package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the sync engine.
type Metrics struct {
	// JobsProcessed counts runner outcomes by job kind and result
	JobsProcessed *prometheus.CounterVec
	// ClaimsLost counts claim races lost to another runner
	ClaimsLost prometheus.Counter
	// RawEventsWritten counts raw events persisted per provider
	RawEventsWritten *prometheus.CounterVec
	// InteractionsCreated counts canonical interactions inserted
	InteractionsCreated *prometheus.CounterVec
	// InteractionsSkipped counts dedup skips and malformed items
	InteractionsSkipped *prometheus.CounterVec
	// registry is the custom registry for this metrics instance
	registry *prometheus.Registry
}

// New creates and registers all Prometheus metrics.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		JobsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_processed_total",
				Help:      "Total jobs processed by the runner",
			},
			[]string{"kind", "result"},
		),
		ClaimsLost: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_claims_lost_total",
				Help:      "Claim attempts lost to a concurrent runner",
			},
		),
		RawEventsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "raw_events_written_total",
				Help:      "Raw provider events appended to the log",
			},
			[]string{"provider"},
		),
		InteractionsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "interactions_created_total",
				Help:      "Canonical interactions created by normalization",
			},
			[]string{"source"},
		),
		InteractionsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "interactions_skipped_total",
				Help:      "Normalization items skipped by reason",
			},
			[]string{"source", "reason"},
		),
	}

	registry.MustRegister(
		m.JobsProcessed,
		m.ClaimsLost,
		m.RawEventsWritten,
		m.InteractionsCreated,
		m.InteractionsSkipped,
	)

	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
