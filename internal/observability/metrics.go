// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	registry *prometheus.Registry

	// Chunk loading metrics
	ChunkFetchesTotal    *prometheus.CounterVec
	ChunkFetchDuration   prometheus.Histogram
	ChunkQueueDepth      prometheus.Gauge
	ChunkFetchesInFlight prometheus.Gauge
	ChunksEvicted        prometheus.Counter
	ChunksLoaded         prometheus.Gauge

	// Transaction metrics
	TxSubmitted   *prometheus.CounterVec
	TxResolved    *prometheus.CounterVec
	PendingPixels prometheus.Gauge

	// Event stream metrics
	EventsApplied      *prometheus.CounterVec
	EventStreamEnabled prometheus.Gauge

	// Viewport metrics
	ViewportSettles prometheus.Counter

	// Snapshot store metrics
	SnapshotWrites prometheus.Counter
	SnapshotErrors prometheus.Counter
}

// NewMetrics creates a Metrics instance on its own registry, so multiple
// instances can coexist in tests.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "pixel_canvas"
	}
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		ChunkFetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chunks",
			Name:      "fetches_total",
			Help:      "Total number of chunk fetches by outcome",
		}, []string{"outcome"}),
		ChunkFetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chunks",
			Name:      "fetch_duration_seconds",
			Help:      "Chunk fetch latency",
			Buckets:   prometheus.DefBuckets,
		}),
		ChunkQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chunks",
			Name:      "queue_depth",
			Help:      "Chunks waiting to be fetched",
		}),
		ChunkFetchesInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chunks",
			Name:      "fetches_in_flight",
			Help:      "Chunk fetches currently running",
		}),
		ChunksEvicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chunks",
			Name:      "evicted_total",
			Help:      "Chunks evicted from the pixel cache",
		}),
		ChunksLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chunks",
			Name:      "loaded",
			Help:      "Chunks currently held in the pixel cache",
		}),

		TxSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "submitted_total",
			Help:      "Transactions submitted by operation",
		}, []string{"operation"}),
		TxResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "resolved_total",
			Help:      "Transactions resolved by path (event, fallback, abort)",
		}, []string{"path"}),
		PendingPixels: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "pending_pixels",
			Help:      "Pixels awaiting transaction confirmation",
		}),

		EventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "applied_total",
			Help:      "Contract events applied to the cache by type",
		}, []string{"event"}),
		EventStreamEnabled: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "stream_enabled",
			Help:      "Whether the event subscription is live (1) or disabled (0)",
		}),

		ViewportSettles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "viewport",
			Name:      "settles_total",
			Help:      "Viewport settle callbacks fired",
		}),

		SnapshotWrites: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshots",
			Name:      "writes_total",
			Help:      "Pixel snapshots written to persistent storage",
		}),
		SnapshotErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshots",
			Name:      "errors_total",
			Help:      "Pixel snapshot persistence failures",
		}),
	}
}

// Handler returns an HTTP handler exposing the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
