package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame processing counters
	FramesReceived  atomic.Uint64
	FramesProcessed atomic.Uint64
	FramesSkipped   atomic.Uint64
	DetectionsTotal atomic.Uint64

	// Error counters
	ParseErrors  atomic.Uint64
	DecodeErrors atomic.Uint64
	DetectErrors atomic.Uint64
	WriteErrors  atomic.Uint64

	// Latency tracking
	DetectLatencyMs atomic.Uint64 // Last detection round trip in ms

	// Connection tracking
	ActiveConnections atomic.Uint64
	TotalConnections  atomic.Uint64

	// Heatmap session tracking
	HeatmapSessions atomic.Uint64
	HeatmapFolds    atomic.Uint64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	gauges := []struct {
		name string
		help string
		load func() uint64
	}{
		{"vision_frames_received_total", "Total frames received over all sessions", m.FramesReceived.Load},
		{"vision_frames_processed_total", "Total frames run through detection", m.FramesProcessed.Load},
		{"vision_frames_skipped_total", "Total frames skipped due to per-frame errors", m.FramesSkipped.Load},
		{"vision_detections_total", "Total person detections surviving filters", m.DetectionsTotal.Load},
		{"vision_parse_errors_total", "Total malformed inbound messages", m.ParseErrors.Load},
		{"vision_decode_errors_total", "Total frame decode errors", m.DecodeErrors.Load},
		{"vision_detect_errors_total", "Total detection engine errors", m.DetectErrors.Load},
		{"vision_write_errors_total", "Total outbound write errors", m.WriteErrors.Load},
		{"vision_detect_latency_ms", "Last detection engine round trip in milliseconds", m.DetectLatencyMs.Load},
		{"vision_active_connections", "Number of open websocket connections", m.ActiveConnections.Load},
		{"vision_total_connections", "Total websocket connections accepted", m.TotalConnections.Load},
		{"vision_heatmap_sessions_total", "Total heatmap sessions initialized", m.HeatmapSessions.Load},
		{"vision_heatmap_folds_total", "Total frames folded into heatmap accumulators", m.HeatmapFolds.Load},
	}

	for _, g := range gauges {
		load := g.load
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(load()) },
		))
	}
}

// UpdateDetectLatency records the duration of a detection engine call
func (m *Metrics) UpdateDetectLatency(duration time.Duration) {
	m.DetectLatencyMs.Store(uint64(duration.Milliseconds()))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
