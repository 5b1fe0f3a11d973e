// Package metrics defines the Prometheus instrumentation for vidmux.
//
// Metrics register with the default registry through promauto and are exposed
// by mounting promhttp.Handler() at /metrics. All names carry the "vidmux_"
// prefix.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidmux_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidmux_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Download pipeline metrics
var (
	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidmux_downloads_total",
			Help: "Total number of download requests by outcome and error kind",
		},
		[]string{"outcome", "error_kind", "merged"},
	)

	CatalogListingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidmux_catalog_listings_total",
			Help: "Stream listings served from the upstream or the cache",
		},
		[]string{"source"}, // "upstream", "cache"
	)

	FetchedBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidmux_fetched_bytes_total",
			Help: "Bytes fetched from upstream by stream kind",
		},
		[]string{"kind"},
	)

	// UpstreamCircuitState is 0 closed, 1 open, 2 half-open.
	UpstreamCircuitState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidmux_upstream_circuit_state",
			Help: "State of the stream download circuit breaker (0 closed, 1 open, 2 half-open)",
		},
	)

	UpstreamCircuitTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidmux_upstream_circuit_transitions_total",
			Help: "Circuit breaker transitions by target state",
		},
		[]string{"to"},
	)
)

// Transcoder metrics
var (
	TranscodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidmux_transcodes_total",
			Help: "Total number of mux invocations by container and status",
		},
		[]string{"container", "audio_strategy", "status"},
	)

	TranscodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidmux_transcode_duration_seconds",
			Help:    "Mux duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"container"},
	)

	TranscodesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidmux_transcodes_in_flight",
			Help: "Number of transcodes currently running",
		},
	)

	TranscodeSlotWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vidmux_transcode_slot_wait_seconds",
			Help:    "Time spent waiting for a transcode slot",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
		},
	)
)

// Maintenance metrics
var (
	ScratchDirsRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidmux_scratch_dirs_removed_total",
			Help: "Orphaned scratch job directories removed by maintenance",
		},
	)

	HistoryPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidmux_history_pruned_total",
			Help: "Download history records pruned by retention",
		},
	)
)

// AppInfo exposes build information as labels.
var AppInfo = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "vidmux_app_info",
		Help: "Build information",
	},
	[]string{"version", "commit", "go_version"},
)

// Initialize pre-populates the label combinations known at startup so the
// series exist from the first scrape.
func Initialize(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)

	for _, source := range []string{"upstream", "cache"} {
		CatalogListingsTotal.WithLabelValues(source)
	}
	for _, kind := range []string{"video", "audio", "progressive"} {
		FetchedBytesTotal.WithLabelValues(kind)
	}
}
