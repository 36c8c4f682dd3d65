// Package metrics exposes Prometheus instrumentation for probe runs and the
// results API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors of the application.
type Metrics struct {
	registry *prometheus.Registry

	ProbesTotal      *prometheus.CounterVec
	AttemptsTotal    prometheus.Counter
	RetriesTotal     prometheus.Counter
	FailuresTotal    *prometheus.CounterVec
	ResponseDuration prometheus.Histogram
	InFlight         prometheus.Gauge
	TasksPanicked    prometheus.Counter

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, so several instances can
// live in one process (tests).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ProbesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "linkprobe_probes_total",
			Help: "Total number of URLs probed to a terminal outcome.",
		}, []string{"result"}), // result: active, inactive
		AttemptsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "linkprobe_attempts_total",
			Help: "Total number of HTTP requests sent.",
		}),
		RetriesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "linkprobe_retries_total",
			Help: "Total number of retry waits entered.",
		}),
		FailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "linkprobe_attempt_failures_total",
			Help: "Attempts that got no HTTP response, by failure kind.",
		}, []string{"kind"}),
		ResponseDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "linkprobe_response_seconds",
			Help:    "Time until response headers arrived.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "linkprobe_requests_in_flight",
			Help: "HTTP requests currently in flight.",
		}),
		TasksPanicked: f.NewCounter(prometheus.CounterOpts{
			Name: "linkprobe_task_panics_total",
			Help: "Probe tasks that failed unexpectedly.",
		}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "linkprobe_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "linkprobe_http_request_duration_seconds",
			Help:    "Duration of API requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOutcome counts one terminal probe result.
func (m *Metrics) ObserveOutcome(active bool) {
	if active {
		m.ProbesTotal.WithLabelValues("active").Inc()
		return
	}
	m.ProbesTotal.WithLabelValues("inactive").Inc()
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and durations. Paths are left out of the
// labels since URL query values are unbounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		status := strconv.Itoa(rw.statusCode)
		m.HTTPRequestDuration.WithLabelValues(r.Method, status).Observe(time.Since(start).Seconds())
		m.HTTPRequestsTotal.WithLabelValues(r.Method, status).Inc()
	})
}
