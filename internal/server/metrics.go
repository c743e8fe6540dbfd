package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MeKo-Tech/shelfscan/internal/common"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfscan_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shelfscan_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	scansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfscan_scans_total",
			Help: "Total number of scans",
		},
		[]string{"transport", "status"}, // transport: http, websocket
	)

	scanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shelfscan_scan_duration_seconds",
			Help:    "End-to-end scan duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"transport"},
	)

	scanRegions = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shelfscan_scan_regions",
			Help:    "Number of spines processed per scan",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 40, 80},
		},
	)

	stageOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfscan_stage_outcomes_total",
			Help: "Outcome of each pipeline stage per region",
		},
		[]string{"stage", "outcome"},
	)

	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfscan_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"}, // type: rate, requests, data
	)

	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shelfscan_upload_size_bytes",
			Help:    "Size of uploaded images in bytes",
			Buckets: []float64{10 * 1024, 100 * 1024, 512 * 1024, 1024 * 1024, 4 * 1024 * 1024, 10 * 1024 * 1024},
		},
	)

	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shelfscan_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfscan_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"},
	)
)

// stageMetrics feeds pipeline stage outcomes into stageOutcomes.
type stageMetrics struct{}

func (stageMetrics) ObserveStage(stage string, o common.Outcome) {
	stageOutcomes.WithLabelValues(stage, string(o)).Inc()
}
