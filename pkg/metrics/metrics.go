package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the governor and router.
type Metrics struct {
	registry *prometheus.Registry

	// Router metrics.
	AttemptsTotal   *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
	PacingSleeps    prometheus.Histogram
	ExhaustedTotal  prometheus.Counter

	// Governor metrics.
	DirectivesTotal  *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
	CooldownOpens    *prometheus.CounterVec
	StoreErrors      *prometheus.CounterVec
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steerage_attempts_total",
			Help: "Total inference attempts by provider, model, and outcome.",
		}, []string{"provider", "model", "outcome"}),

		AttemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "steerage_attempt_duration_seconds",
			Help:    "Provider attempt duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),

		PacingSleeps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "steerage_pacing_sleep_seconds",
			Help:    "Pacing delays applied before attempts.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),

		ExhaustedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "steerage_candidates_exhausted_total",
			Help: "Turns that exhausted every candidate without a success.",
		}),

		DirectivesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steerage_directives_total",
			Help: "Routing directives computed, by severity and profile.",
		}, []string{"severity", "profile"}),

		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steerage_budget_transitions_total",
			Help: "Severity/profile transitions written.",
		}, []string{"to_severity", "to_profile"}),

		CooldownOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steerage_cooldown_opens_total",
			Help: "Provider cooldown windows opened or extended.",
		}, []string{"provider"}),

		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steerage_store_errors_total",
			Help: "Best-effort persistence failures by operation.",
		}, []string{"op"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.AttemptsTotal,
		m.AttemptDuration,
		m.PacingSleeps,
		m.ExhaustedTotal,
		m.DirectivesTotal,
		m.TransitionsTotal,
		m.CooldownOpens,
		m.StoreErrors,
	)
	return m
}

// Handler returns the HTTP handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
