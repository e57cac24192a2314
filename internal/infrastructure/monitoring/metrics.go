package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "labpreview"

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter
	Renders        *prometheus.CounterVec
	ReadErrors     *prometheus.CounterVec
	StaleReads     prometheus.Counter
	ConsoleEvents  *prometheus.CounterVec

	// Bridge metrics
	FramesAccepted *prometheus.CounterVec
	FramesDropped  *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// Headless sandbox metrics
	HeadlessRuns     *prometheus.CounterVec
	HeadlessDuration prometheus.Histogram

	startTime time.Time
}

// NewMetrics creates a metrics collector on its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_size_bytes",
				Help:      "HTTP request size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		// Session metrics
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of live preview sessions",
			},
		),
		SessionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Total number of preview sessions created",
			},
		),
		Renders: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "renders_total",
				Help:      "Completed render attempts by result",
			},
			[]string{"result"},
		),
		ReadErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "read_errors_total",
				Help:      "Failed resource reads by kind",
			},
			[]string{"kind"},
		),
		StaleReads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stale_reads_discarded_total",
				Help:      "Read completions discarded because a newer read was displayed",
			},
		),
		ConsoleEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "console_events_total",
				Help:      "Console events appended to session history by level",
			},
			[]string{"level"},
		),

		// Bridge metrics
		FramesAccepted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bridge_frames_accepted_total",
				Help:      "Sandbox frames delivered to a session by level",
			},
			[]string{"level"},
		),
		FramesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bridge_frames_dropped_total",
				Help:      "Sandbox frames dropped by reason",
			},
			[]string{"reason"},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "surface_connections",
				Help:      "Number of connected presentation surfaces",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "surface_messages_total",
				Help:      "WebSocket messages by direction and type",
			},
			[]string{"direction", "type"},
		),

		// Headless sandbox metrics
		HeadlessRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "headless_runs_total",
				Help:      "Headless document runs by result",
			},
			[]string{"result"},
		),
		HeadlessDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "headless_run_duration_seconds",
				Help:      "Headless document run duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
}

// RenderCompleted implements session.Recorder.
func (m *Metrics) RenderCompleted(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.Renders.WithLabelValues(result).Inc()
}

// ReadFailed implements session.Recorder.
func (m *Metrics) ReadFailed(kind string) {
	m.ReadErrors.WithLabelValues(kind).Inc()
}

// StaleReadDiscarded implements session.Recorder.
func (m *Metrics) StaleReadDiscarded() {
	m.StaleReads.Inc()
}

// ConsoleEvent implements session.Recorder.
func (m *Metrics) ConsoleEvent(level string) {
	m.ConsoleEvents.WithLabelValues(level).Inc()
}

// SessionOpened implements session.Recorder.
func (m *Metrics) SessionOpened() {
	m.SessionsActive.Inc()
	m.SessionsTotal.Inc()
}

// SessionClosed implements session.Recorder.
func (m *Metrics) SessionClosed() {
	m.SessionsActive.Dec()
}

// FrameAccepted implements bridge.Recorder.
func (m *Metrics) FrameAccepted(level string) {
	m.FramesAccepted.WithLabelValues(level).Inc()
}

// FrameDropped implements bridge.Recorder.
func (m *Metrics) FrameDropped(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// RecordWSMessage records WebSocket message metrics
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}

// RecordHeadlessRun records one finished headless document run.
func (m *Metrics) RecordHeadlessRun(result string, duration time.Duration) {
	m.HeadlessRuns.WithLabelValues(result).Inc()
	if duration > 0 {
		m.HeadlessDuration.Observe(duration.Seconds())
	}
}
