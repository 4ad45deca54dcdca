// Package metrics exposes Prometheus gauges, counters, and histograms for
// iteration latency, token cost, and retry counts, scraped by an external
// dashboard this repository never builds itself.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric the core loop reports, registered against an
// isolated prometheus.Registry rather than the global default, so tests can
// construct independent instances without collector-already-registered
// panics.
type Registry struct {
	reg *prometheus.Registry

	IterationDuration *prometheus.HistogramVec
	IterationsTotal   *prometheus.CounterVec
	TokensTotal       *prometheus.CounterVec
	RetriesTotal      *prometheus.CounterVec
	ActiveIterations  prometheus.Gauge
}

// New constructs a Registry with every metric registered under the "obra"
// namespace.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		IterationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "obra",
			Subsystem: "iteration",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of a single iteration's Implementer and Orchestrator LLM calls.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~1h
		}, []string{"project_id", "decision"}),

		IterationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "obra",
			Subsystem: "iteration",
			Name:      "total",
			Help:      "Iterations completed, labeled by the decision the Orchestrator LLM reached.",
		}, []string{"project_id", "decision"}),

		TokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "obra",
			Subsystem: "session",
			Name:      "tokens_total",
			Help:      "Cumulative token usage, labeled by usage category.",
		}, []string{"project_id", "category"}),

		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "obra",
			Subsystem: "retry",
			Name:      "total",
			Help:      "Retry attempts, labeled by the failure class that triggered them.",
		}, []string{"project_id", "class"}),

		ActiveIterations: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "obra",
			Subsystem: "iteration",
			Name:      "active",
			Help:      "Iterations currently in flight across all projects.",
		}),
	}
}

// Handler returns an http.Handler serving this Registry's metrics in the
// Prometheus exposition format, suitable for mounting at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// RecordIteration records an iteration's outcome: its duration and the
// decision the Orchestrator LLM reached.
func (r *Registry) RecordIteration(projectID, decision string, seconds float64) {
	r.IterationDuration.WithLabelValues(projectID, decision).Observe(seconds)
	r.IterationsTotal.WithLabelValues(projectID, decision).Inc()
}

// RecordTokens adds count to the running total for category (e.g. "input",
// "output", "cache_read", "cache_create").
func (r *Registry) RecordTokens(projectID, category string, count int64) {
	if count <= 0 {
		return
	}
	r.TokensTotal.WithLabelValues(projectID, category).Add(float64(count))
}

// RecordRetry increments the retry counter for the given failure class.
func (r *Registry) RecordRetry(projectID, class string) {
	r.RetriesTotal.WithLabelValues(projectID, class).Inc()
}

// IterationStarted increments the in-flight gauge; the caller must invoke
// the returned func exactly once when the iteration ends.
func (r *Registry) IterationStarted() func() {
	r.ActiveIterations.Inc()
	return r.ActiveIterations.Dec
}
