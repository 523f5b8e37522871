package monitoring

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector handles Prometheus metrics collection. Each collector
// owns its registry so several can coexist in one process.
type MetricsCollector struct {
	serviceName string
	registry    *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	storeOperations     *prometheus.CounterVec
	storeDuration       *prometheus.HistogramVec
	uploadBytes         prometheus.Counter
	transcriptionJobs   *prometheus.CounterVec
	sideEffects         *prometheus.CounterVec
	phiAccessTotal      *prometheus.CounterVec
	systemErrors        *prometheus.CounterVec
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(serviceName string) *MetricsCollector {
	m := &MetricsCollector{
		serviceName: serviceName,
		registry:    prometheus.NewRegistry(),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code", "service"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint", "service"},
		),
		storeOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_operations_total",
				Help: "Total number of key-value store operations",
			},
			[]string{"table", "operation", "status", "service"},
		),
		storeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "store_operation_duration_seconds",
				Help:    "Duration of key-value store operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"table", "operation", "service"},
		),
		uploadBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "audio_upload_bytes_total",
				Help: "Total number of encounter audio bytes uploaded",
			},
		),
		transcriptionJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transcription_jobs_total",
				Help: "Total number of transcription job start attempts",
			},
			[]string{"note_template", "status", "service"},
		),
		sideEffects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "side_effects_total",
				Help: "Total number of best-effort side effects by outcome",
			},
			[]string{"kind", "outcome", "service"},
		),
		phiAccessTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phi_access_total",
				Help: "Total number of PHI access attempts",
			},
			[]string{"resource_type", "action", "status", "service"},
		),
		systemErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "system_errors_total",
				Help: "Total number of system errors",
			},
			[]string{"error_type", "service", "component"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.storeOperations,
		m.storeDuration,
		m.uploadBytes,
		m.transcriptionJobs,
		m.sideEffects,
		m.phiAccessTotal,
		m.systemErrors,
	)

	return m
}

// Registry exposes the collector's registry
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records HTTP request metrics
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode, m.serviceName).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint, m.serviceName).Observe(duration.Seconds())
}

// RecordStoreOperation records a key-value store call
func (m *MetricsCollector) RecordStoreOperation(table, operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.storeOperations.WithLabelValues(table, operation, status, m.serviceName).Inc()
	m.storeDuration.WithLabelValues(table, operation, m.serviceName).Observe(duration.Seconds())
}

// RecordUpload adds uploaded audio bytes
func (m *MetricsCollector) RecordUpload(bytes int64) {
	m.uploadBytes.Add(float64(bytes))
}

// RecordTranscriptionJob records a job start attempt
func (m *MetricsCollector) RecordTranscriptionJob(noteTemplate, status string) {
	m.transcriptionJobs.WithLabelValues(noteTemplate, status, m.serviceName).Inc()
}

// RecordSideEffect records the outcome of a best-effort task
func (m *MetricsCollector) RecordSideEffect(kind, outcome string) {
	m.sideEffects.WithLabelValues(kind, outcome, m.serviceName).Inc()
}

// RecordPHIAccess records PHI access metrics
func (m *MetricsCollector) RecordPHIAccess(resourceType, action, status string) {
	m.phiAccessTotal.WithLabelValues(resourceType, action, status, m.serviceName).Inc()
}

// RecordSystemError records system error metrics
func (m *MetricsCollector) RecordSystemError(errorType, component string) {
	m.systemErrors.WithLabelValues(errorType, m.serviceName, component).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}
