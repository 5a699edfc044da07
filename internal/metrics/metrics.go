// Package metrics holds the Prometheus collectors of the pipeline. All
// recording methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "distrack"

// Metrics holds all Prometheus metrics.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	LinkStepsTotal       *prometheus.CounterVec
	TokenOpsTotal        *prometheus.CounterVec
	IngestTotal          *prometheus.CounterVec
	RateLimitRejections  *prometheus.CounterVec
	SweepRemovedTotal    *prometheus.CounterVec
	AsyncTasksInProgress prometheus.Gauge
}

// NewMetrics creates the collectors and registers them, plus Go and process
// collectors, with registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		LinkStepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "link_steps_total",
				Help:      "Device link operations by step and outcome",
			},
			[]string{"step", "outcome"},
		),
		TokenOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_operations_total",
				Help:      "Token issuance and rotation by outcome",
			},
			[]string{"operation", "outcome"},
		),
		IngestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_ingest_total",
				Help:      "Coding session submissions by outcome",
			},
			[]string{"outcome"},
		),
		RateLimitRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_rejections_total",
				Help:      "Requests rejected by a rate limiter",
			},
			[]string{"limiter"},
		),
		SweepRemovedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_sweep_rows_total",
				Help:      "Rows expired or deleted by the retention sweeper",
			},
			[]string{"kind"},
		),
	}
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LinkStepsTotal,
		m.TokenOpsTotal,
		m.IngestTotal,
		m.RateLimitRejections,
		m.SweepRemovedTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// LinkStep counts one link operation.
func (m *Metrics) LinkStep(step, outcome string) {
	if m == nil {
		return
	}
	m.LinkStepsTotal.WithLabelValues(step, outcome).Inc()
}

// TokenOp counts one token operation.
func (m *Metrics) TokenOp(op, outcome string) {
	if m == nil {
		return
	}
	m.TokenOpsTotal.WithLabelValues(op, outcome).Inc()
}

// Ingest counts one session submission.
func (m *Metrics) Ingest(outcome string) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(outcome).Inc()
}

// RateLimited counts one rejection by the named limiter.
func (m *Metrics) RateLimited(limiter string) {
	if m == nil {
		return
	}
	m.RateLimitRejections.WithLabelValues(limiter).Inc()
}

// Swept adds n rows handled by the retention sweeper.
func (m *Metrics) Swept(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SweepRemovedTotal.WithLabelValues(kind).Add(float64(n))
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware instruments requests. The route label is the mux path template
// so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
