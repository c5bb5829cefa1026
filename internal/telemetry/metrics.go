// Package telemetry wires logging, metrics and tracing for the gateway.
//
// Metric naming follows Prometheus conventions:
//   - gridgate_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package telemetry

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Proxy outcomes recorded on ProxyRequests.
const (
	OutcomeOK          = "ok"
	OutcomeTimeout     = "timeout"
	OutcomeUnavailable = "unavailable"
	OutcomeCanceled    = "canceled"
)

// Metrics holds the gateway's Prometheus instruments.
// Create one per process (or per test) with its own registry.
type Metrics struct {
	registry *prometheus.Registry

	// ProxyRequests counts forwarded requests by upstream and outcome.
	ProxyRequests *prometheus.CounterVec

	// ProxyDuration is the upstream round trip latency by upstream.
	ProxyDuration *prometheus.HistogramVec

	// LoginAttempts counts credential verifications by strategy and result.
	LoginAttempts *prometheus.CounterVec

	// AuthzDecisions counts role router decisions by mount, mode and result.
	AuthzDecisions *prometheus.CounterVec

	// HTTPRequests counts served requests by method and status class.
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates and registers all instruments on a fresh registry,
// together with the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ProxyRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridgate_proxy_requests_total",
				Help: "Total number of proxied requests by upstream and outcome.",
			},
			[]string{"upstream", "outcome"},
		),
		ProxyDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gridgate_proxy_duration_seconds",
				Help:    "Upstream round trip duration in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"upstream"},
		),
		LoginAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridgate_login_attempts_total",
				Help: "Total number of login attempts by strategy and result.",
			},
			[]string{"strategy", "result"},
		),
		AuthzDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridgate_authz_decisions_total",
				Help: "Total number of access rule decisions by mount, mode and result.",
			},
			[]string{"mount", "mode", "result"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridgate_http_requests_total",
				Help: "Total number of HTTP requests served by method and status class.",
			},
			[]string{"method", "status"},
		),
	}
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordLogin counts a login attempt. A nil receiver is a no-op.
func (m *Metrics) RecordLogin(strategy string, success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.LoginAttempts.WithLabelValues(strategy, result).Inc()
}

// RecordDecision counts a role router decision. An empty mode means no rule matched.
func (m *Metrics) RecordDecision(mount, mode string, allowed bool) {
	if m == nil {
		return
	}
	if mode == "" {
		mode = "none"
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	m.AuthzDecisions.WithLabelValues(mount, mode, result).Inc()
}

// RecordProxy counts a proxied request and its latency.
func (m *Metrics) RecordProxy(upstream, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ProxyRequests.WithLabelValues(upstream, outcome).Inc()
	m.ProxyDuration.WithLabelValues(upstream).Observe(seconds)
}

// RecordHTTP counts a served request by status class (2xx, 3xx, ...).
func (m *Metrics) RecordHTTP(method string, status int) {
	if m == nil {
		return
	}
	class := "unknown"
	if status >= 100 && status < 600 {
		class = strconv.Itoa(status/100) + "xx"
	}
	m.HTTPRequests.WithLabelValues(method, class).Inc()
}
