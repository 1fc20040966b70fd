// Package metrics owns the Prometheus collectors exported on /metrics.
//
// Collectors are registered on a private registry rather than the global
// default, so tests can build as many Metrics values as they like without
// "duplicate metrics collector registration" panics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "identity"

// Login outcomes recorded by ObserveLogin.
const (
	LoginSuccess = "success"
	LoginFailure = "failure"
	LoginError   = "error"
)

// Metrics groups every collector the service exports.
// All methods are safe to call on a nil *Metrics; they do nothing.
type Metrics struct {
	registry *prometheus.Registry

	logins       *prometheus.CounterVec
	userEvents   *prometheus.CounterVec
	hashDuration *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		logins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome.",
		}, []string{"result"}),
		userEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "user_events_total",
			Help:      "User lifecycle events (created, updated, deleted, password_changed).",
		}, []string{"event"}),
		hashDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "credential_hash_duration_seconds",
			Help:      "Time spent hashing or verifying a credential, including wait for a hashing slot.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"op"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveLogin counts one login attempt with result LoginSuccess,
// LoginFailure or LoginError.
func (m *Metrics) ObserveLogin(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

// UserEvent counts a lifecycle event such as "created" or "deleted".
func (m *Metrics) UserEvent(event string) {
	if m == nil {
		return
	}
	m.userEvents.WithLabelValues(event).Inc()
}

// ObserveHash records how long a hash ("hash") or verify ("verify") took.
func (m *Metrics) ObserveHash(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.hashDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveRequest records one finished HTTP request. route is the matched
// route pattern, never the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
