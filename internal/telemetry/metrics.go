// Package telemetry defines the gateway's Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the bridge. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	RequestTotal       *prometheus.CounterVec
	RequestDurationMs  *prometheus.HistogramVec
	UpstreamErrorTotal *prometheus.CounterVec
	StreamChunksTotal  *prometheus.CounterVec
	StreamBytesTotal   *prometheus.CounterVec
	SandboxRunTotal    *prometheus.CounterVec
	SandboxRejectTotal *prometheus.CounterVec
	SandboxOutputBytes prometheus.Histogram
	RateLimitHitTotal  *prometheus.CounterVec
	ActiveWebSockets   prometheus.Gauge
	ActiveCommands     prometheus.Gauge
	CatalogModels      prometheus.Gauge
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_request_total",
			Help: "Total number of chat requests handled by the gateway.",
		}, []string{"transport", "provider", "status"}),

		RequestDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_request_duration_ms",
			Help:    "Chat request duration in milliseconds, including provider latency and streaming.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000},
		}, []string{"transport", "provider"}),

		UpstreamErrorTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_upstream_error_total",
			Help: "Classified upstream failures.",
		}, []string{"provider", "kind"}),

		StreamChunksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_stream_chunks_total",
			Help: "Chunks relayed from upstream streams to clients.",
		}, []string{"transport", "provider"}),

		StreamBytesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_stream_bytes_total",
			Help: "Bytes relayed from upstream streams to clients.",
		}, []string{"transport", "provider"}),

		SandboxRunTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_sandbox_run_total",
			Help: "Sandbox command runs by outcome.",
		}, []string{"command", "outcome"}),

		SandboxRejectTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_sandbox_reject_total",
			Help: "Sandbox commands rejected before running.",
		}, []string{"reason"}),

		SandboxOutputBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_sandbox_output_bytes",
			Help:    "Output bytes produced per sandbox command.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 7),
		}),

		RateLimitHitTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_rate_limit_hit_total",
			Help: "Requests rejected by the rate limiter.",
		}, []string{"route"}),

		ActiveWebSockets: f.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_active_websockets",
			Help: "Open WebSocket chat sessions.",
		}),

		ActiveCommands: f.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_active_commands",
			Help: "Sandbox commands currently running.",
		}),

		CatalogModels: f.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_catalog_models",
			Help: "Models listed in the currently loaded catalog.",
		}),
	}
}

// RequestLabels holds the label values for recording a request.
type RequestLabels struct {
	Transport  string // "http", "sse" or "websocket"
	Provider   string
	Status     string
	DurationMs float64
}

// RecordRequest records metrics for a completed request.
func (m *Metrics) RecordRequest(labels RequestLabels) {
	if m == nil {
		return
	}
	m.RequestTotal.WithLabelValues(labels.Transport, labels.Provider, labels.Status).Inc()
	m.RequestDurationMs.WithLabelValues(labels.Transport, labels.Provider).Observe(labels.DurationMs)
}

func (m *Metrics) RecordUpstreamError(provider, kind string) {
	if m == nil {
		return
	}
	m.UpstreamErrorTotal.WithLabelValues(provider, kind).Inc()
}

// RecordChunk counts one relayed chunk of n bytes.
func (m *Metrics) RecordChunk(transport, provider string, n int) {
	if m == nil {
		return
	}
	m.StreamChunksTotal.WithLabelValues(transport, provider).Inc()
	m.StreamBytesTotal.WithLabelValues(transport, provider).Add(float64(n))
}

func (m *Metrics) RecordSandboxRun(command, outcome string, outputBytes int64) {
	if m == nil {
		return
	}
	m.SandboxRunTotal.WithLabelValues(command, outcome).Inc()
	m.SandboxOutputBytes.Observe(float64(outputBytes))
}

func (m *Metrics) RecordSandboxReject(reason string) {
	if m == nil {
		return
	}
	m.SandboxRejectTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordRateLimitHit(route string) {
	if m == nil {
		return
	}
	m.RateLimitHitTotal.WithLabelValues(route).Inc()
}

// WebSocketOpened increments the session gauge and returns the matching
// decrement.
func (m *Metrics) WebSocketOpened() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveWebSockets.Inc()
	return m.ActiveWebSockets.Dec
}

func (m *Metrics) CommandStarted() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveCommands.Inc()
	return m.ActiveCommands.Dec
}

// SetCatalogSize reports the size of the model catalog after a (re)load.
func (m *Metrics) SetCatalogSize(n int) {
	if m == nil {
		return
	}
	m.CatalogModels.Set(float64(n))
}
