package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Audit pipeline metrics
	RecordsWrittenTotal *prometheus.CounterVec
	RecordWriteDuration *prometheus.HistogramVec
	RecordFailuresTotal *prometheus.CounterVec
	ExceptionsSkipped   *prometheus.CounterVec

	// Read cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Archive metrics
	ArchiveRunsTotal     *prometheus.CounterVec
	ArchiveRecordsTotal  prometheus.Counter
	ArchiveLastSuccessTS prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audittrail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "audittrail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		RecordsWrittenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audittrail_records_written_total",
				Help: "Total number of audit records persisted",
			},
			[]string{"category"},
		),
		RecordWriteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "audittrail_record_write_duration_seconds",
				Help:    "Time spent persisting a single audit record",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"category"},
		),
		RecordFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audittrail_record_failures_total",
				Help: "Total number of audit calls that did not persist a record",
			},
			[]string{"category", "reason"},
		),
		ExceptionsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audittrail_exceptions_skipped_total",
				Help: "Exceptions not recorded because of the exclusion policy",
			},
			[]string{"reason"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audittrail_cache_hits_total",
				Help: "Record cache hits",
			},
			[]string{"layer"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audittrail_cache_misses_total",
				Help: "Record cache misses",
			},
			[]string{"layer"},
		),

		ArchiveRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audittrail_archive_runs_total",
				Help: "Archive job executions",
			},
			[]string{"status"},
		),
		ArchiveRecordsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "audittrail_archive_records_total",
				Help: "Audit records written to archive objects",
			},
		),
		ArchiveLastSuccessTS: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "audittrail_archive_last_success_timestamp_seconds",
				Help: "Unix time of the last successful archive run",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RecordsWrittenTotal,
		m.RecordWriteDuration,
		m.RecordFailuresTotal,
		m.ExceptionsSkipped,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ArchiveRunsTotal,
		m.ArchiveRecordsTotal,
		m.ArchiveLastSuccessTS,
	)

	return m
}

// RecordWritten counts a persisted audit record
func (m *Metrics) RecordWritten(category string, d time.Duration) {
	m.RecordsWrittenTotal.WithLabelValues(category).Inc()
	m.RecordWriteDuration.WithLabelValues(category).Observe(d.Seconds())
}

// RecordFailed counts an audit call rejected or lost, labelled by reason
func (m *Metrics) RecordFailed(category, reason string) {
	m.RecordFailuresTotal.WithLabelValues(category, reason).Inc()
}

// ExceptionSkipped counts an exception filtered out by the exclusion policy
func (m *Metrics) ExceptionSkipped(reason string) {
	m.ExceptionsSkipped.WithLabelValues(reason).Inc()
}

// CacheResult counts a cache lookup for the given layer
func (m *Metrics) CacheResult(layer string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(layer).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(layer).Inc()
}

// ArchiveCompleted records the outcome of an archive run
func (m *Metrics) ArchiveCompleted(records int, err error) {
	if err != nil {
		m.ArchiveRunsTotal.WithLabelValues("failure").Inc()
		return
	}
	m.ArchiveRunsTotal.WithLabelValues("success").Inc()
	m.ArchiveRecordsTotal.Add(float64(records))
	m.ArchiveLastSuccessTS.SetToCurrentTime()
}

// statusRecorder wraps http.ResponseWriter to capture the status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests. Install it with
// router.Use so the matched route template is available as a label.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
