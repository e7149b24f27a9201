package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the translator
type Metrics struct {
	registry *prometheus.Registry

	// Streaming path
	ChunksCaptured     prometheus.Counter
	ChunksSent         prometheus.Counter
	ChunksDropped      prometheus.Counter
	ChunkSendFailures  prometheus.Counter
	ChunkSize          prometheus.Histogram
	ResultsReceived    *prometheus.CounterVec
	BackendErrors      *prometheus.CounterVec
	Recording          prometheus.Gauge
	SessionConnections prometheus.Counter

	// HTTP API
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the metrics on their own registry, together with the Go and
// process collectors
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		ChunksCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "translator_chunks_captured_total",
			Help: "Total number of audio chunks produced by the recorder",
		}),
		ChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "translator_chunks_sent_total",
			Help: "Total number of audio chunks delivered to the session",
		}),
		ChunksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "translator_chunks_dropped_total",
			Help: "Total number of audio chunks dropped because no session was joined",
		}),
		ChunkSendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "translator_chunk_send_failures_total",
			Help: "Total number of audio chunks rejected or lost in transmission",
		}),
		ChunkSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "translator_chunk_size_bytes",
			Help:    "Size of captured audio chunks",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 10), // 1KB to ~512KB
		}),
		ResultsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "translator_results_total",
			Help: "Total number of translation results appended to the log",
		}, []string{"origin"}),
		BackendErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "translator_backend_errors_total",
			Help: "Total number of errors reported by or about the backend",
		}, []string{"kind"}),
		Recording: factory.NewGauge(prometheus.GaugeOpts{
			Name: "translator_recording",
			Help: "1 while audio capture is active",
		}),
		SessionConnections: factory.NewCounter(prometheus.CounterOpts{
			Name: "translator_session_connects_total",
			Help: "Total number of successful hub connections",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "translator_http_requests_total",
			Help: "Total number of local API requests",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "translator_http_request_duration_seconds",
			Help:    "Duration of local API requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordChunkCaptured records a chunk leaving the recorder
func (m *Metrics) RecordChunkCaptured(sizeBytes int) {
	m.ChunksCaptured.Inc()
	m.ChunkSize.Observe(float64(sizeBytes))
}

// RecordChunkSent records a chunk accepted by the session
func (m *Metrics) RecordChunkSent() {
	m.ChunksSent.Inc()
}

// RecordChunkDropped records a chunk discarded without a joined session
func (m *Metrics) RecordChunkDropped() {
	m.ChunksDropped.Inc()
}

// RecordChunkSendFailure records a chunk the session failed to deliver
func (m *Metrics) RecordChunkSendFailure() {
	m.ChunkSendFailures.Inc()
}

// RecordResult records a result appended to the log
func (m *Metrics) RecordResult(origin string) {
	m.ResultsReceived.WithLabelValues(origin).Inc()
}

// RecordBackendError records an error by kind (pushed, text, connection, ...)
func (m *Metrics) RecordBackendError(kind string) {
	m.BackendErrors.WithLabelValues(kind).Inc()
}

// SetRecording sets the capture gauge
func (m *Metrics) SetRecording(active bool) {
	if active {
		m.Recording.Set(1)
		return
	}
	m.Recording.Set(0)
}

// RecordSessionConnect records a successful hub connection
func (m *Metrics) RecordSessionConnect() {
	m.SessionConnections.Inc()
}

// RecordHTTPRequest records a local API request
func (m *Metrics) RecordHTTPRequest(method, route, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}
