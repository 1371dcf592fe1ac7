package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the indexer's Prometheus instruments. Each Indexer owns
// its own registry rather than registering against the global default, so
// multiple Indexers (one per test) never collide on metric names.
type Metrics struct {
	Registry *prometheus.Registry

	folderScanDuration prometheus.Histogram
	filesIndexed       prometheus.Counter
	filesErrored       prometheus.Counter
	chunksWritten      prometheus.Counter
	queueDepth         prometheus.Gauge
}

// NewMetrics builds a Metrics bound to a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		folderScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "knowledgebase",
			Subsystem: "indexer",
			Name:      "folder_scan_duration_seconds",
			Help:      "Duration of a single folder scan+process cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		filesIndexed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "knowledgebase",
			Subsystem: "indexer",
			Name:      "files_indexed_total",
			Help:      "Files successfully indexed.",
		}),
		filesErrored: f.NewCounter(prometheus.CounterOpts{
			Namespace: "knowledgebase",
			Subsystem: "indexer",
			Name:      "files_errored_total",
			Help:      "Files that ended in index_status=error.",
		}),
		chunksWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: "knowledgebase",
			Subsystem: "indexer",
			Name:      "chunks_written_total",
			Help:      "Chunks swapped into the state store.",
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "knowledgebase",
			Subsystem: "indexer",
			Name:      "queue_depth",
			Help:      "Folders currently queued or in flight.",
		}),
	}
}
