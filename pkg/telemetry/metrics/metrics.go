package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mercator-hq/ganymede/pkg/recovery"
)

// namespace prefixes every metric the gateway exports.
const namespace = "ganymede"

// Client API label values.
const (
	APIAnthropic = "anthropic"
	APIOpenAI    = "openai"
)

// Request outcome label values.
const (
	OutcomeSuccess       = "success"
	OutcomeClientError   = "client_error"
	OutcomeUpstreamError = "upstream_error"
	OutcomeCanceled      = "canceled"
)

// Metrics owns the gateway's Prometheus registry and instruments. All
// methods are nil-safe so tests can pass a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	upstreamAttempts *prometheus.CounterVec
	credRefreshes    *prometheus.CounterVec
	truncations      *prometheus.CounterVec
}

// New builds the instrument set on a private registry. cache, when non-nil,
// feeds the recovery-record gauges at scrape time.
func New(cache *recovery.Cache) *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Completed client requests by API dialect and outcome.",
			},
			[]string{"api", "outcome"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "End-to-end request duration in seconds.",
				// Streamed completions routinely run for minutes.
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"api"},
		),

		upstreamAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_attempts_total",
				Help:      "Outbound upstream attempts by result.",
			},
			[]string{"result"},
		),

		credRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credential_refreshes_total",
				Help:      "Access-token refresh attempts by identity provider and result.",
			},
			[]string{"provider", "result"},
		),

		truncations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "truncations_total",
				Help:      "Upstream truncations detected, by kind.",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.upstreamAttempts,
		m.credRefreshes,
		m.truncations,
	)

	if cache != nil {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Namespace:   namespace,
					Name:        "recovery_records",
					Help:        "Live truncation-recovery records by kind.",
					ConstLabels: prometheus.Labels{"kind": recovery.KindTool},
				},
				func() float64 { return float64(cache.Stats().ToolTruncations) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Namespace:   namespace,
					Name:        "recovery_records",
					Help:        "Live truncation-recovery records by kind.",
					ConstLabels: prometheus.Labels{"kind": recovery.KindContent},
				},
				func() float64 { return float64(cache.Stats().ContentTruncations) },
			),
		)
	}

	return m
}

// RecordRequest counts one finished client request and observes its
// duration.
func (m *Metrics) RecordRequest(api, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(api, outcome).Inc()
	m.requestDuration.WithLabelValues(api).Observe(duration.Seconds())
}

// RecordUpstreamAttempt counts one outbound call to the upstream.
func (m *Metrics) RecordUpstreamAttempt(result string) {
	if m == nil {
		return
	}
	m.upstreamAttempts.WithLabelValues(result).Inc()
}

// RecordCredentialRefresh counts one token-refresh attempt.
func (m *Metrics) RecordCredentialRefresh(provider, result string) {
	if m == nil {
		return
	}
	m.credRefreshes.WithLabelValues(provider, result).Inc()
}

// RecordTruncation counts one detected truncation. Wired to the recovery
// cache's save hook.
func (m *Metrics) RecordTruncation(kind string) {
	if m == nil {
		return
	}
	m.truncations.WithLabelValues(kind).Inc()
}

// Registry exposes the private registry, for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
