// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// SourceRequestsTotal counts outbound calls to commerce/ads sources.
	SourceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_requests_total",
			Help: "Total number of outbound requests to external sources",
		},
		[]string{"source", "operation", "outcome"},
	)
	// SourceRequestDuration records durations of outbound source calls.
	SourceRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_request_duration_seconds",
			Help:    "External source request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"source", "operation"},
	)
	// ThrottleDelaySeconds records the delay computed by the commerce
	// throttle controller before its next call.
	ThrottleDelaySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "commerce_throttle_delay_seconds",
			Help:    "Delay computed by the commerce throttle controller before the next call",
			Buckets: []float64{0, 0.2, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// SyncRunsClaimedTotal counts Sync Runs claimed by the dispatcher, by job type.
	SyncRunsClaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_claimed_total",
			Help: "Total number of Sync Runs claimed by the dispatcher",
		},
		[]string{"job_type"},
	)
	// SyncRunsInFlight is a gauge of runs currently being handled.
	SyncRunsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_runs_in_flight",
			Help: "Number of Sync Runs currently being handled",
		},
		[]string{"job_type"},
	)
	// SyncRunsTerminatedTotal counts terminated runs by job type, status, and error code.
	SyncRunsTerminatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_terminated_total",
			Help: "Total number of Sync Runs terminated, by job type and status",
		},
		[]string{"job_type", "status", "error_code"},
	)
	// CursorAdvancedTotal counts cursor advance attempts, by job type and outcome.
	CursorAdvancedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_cursor_advanced_total",
			Help: "Total number of cursor advance attempts, partitioned by whether they advanced",
		},
		[]string{"job_type", "advanced"},
	)
	// SchedulerInsertedTotal counts rows inserted by the scheduler endpoint.
	SchedulerInsertedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_runs_inserted_total",
			Help: "Total number of Sync Runs inserted by the scheduler endpoint",
		},
		[]string{"job_type"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(SourceRequestsTotal)
	prometheus.MustRegister(SourceRequestDuration)
	prometheus.MustRegister(ThrottleDelaySeconds)
	prometheus.MustRegister(SyncRunsClaimedTotal)
	prometheus.MustRegister(SyncRunsInFlight)
	prometheus.MustRegister(SyncRunsTerminatedTotal)
	prometheus.MustRegister(CursorAdvancedTotal)
	prometheus.MustRegister(SchedulerInsertedTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// ClaimRun records a Sync Run claim and marks it in-flight.
func ClaimRun(jobType string) {
	SyncRunsClaimedTotal.WithLabelValues(jobType).Inc()
	SyncRunsInFlight.WithLabelValues(jobType).Inc()
}

// TerminateRun records a terminal state and removes the run from in-flight.
func TerminateRun(jobType, status, errorCode string) {
	SyncRunsInFlight.WithLabelValues(jobType).Dec()
	SyncRunsTerminatedTotal.WithLabelValues(jobType, status, errorCode).Inc()
}

// RecordCursorAdvance records whether a cursor write actually advanced.
func RecordCursorAdvance(jobType string, advanced bool) {
	v := "false"
	if advanced {
		v = "true"
	}
	CursorAdvancedTotal.WithLabelValues(jobType, v).Inc()
}

// RecordSchedulerInsert increments the scheduler-inserted counter.
func RecordSchedulerInsert(jobType string, n int) {
	if n <= 0 {
		return
	}
	SchedulerInsertedTotal.WithLabelValues(jobType).Add(float64(n))
}

// RecordSourceCall records an outbound source call's duration and outcome.
func RecordSourceCall(source, operation, outcome string, dur time.Duration) {
	SourceRequestsTotal.WithLabelValues(source, operation, outcome).Inc()
	SourceRequestDuration.WithLabelValues(source, operation).Observe(dur.Seconds())
}

// RecordThrottleDelay records the delay the commerce throttle controller computed.
func RecordThrottleDelay(d time.Duration) {
	ThrottleDelaySeconds.Observe(d.Seconds())
}
