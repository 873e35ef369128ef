package persist

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsSavedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gamehub_persist_jobs_saved_total",
		Help: "Checkpoints written to the session store",
	})

	jobsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gamehub_persist_jobs_failed_total",
		Help: "Checkpoints that failed to encode or save",
	})

	jobsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gamehub_persist_jobs_dropped_total",
		Help: "Checkpoints discarded because a newer one replaced them in a full queue",
	})

	saveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gamehub_persist_save_duration_seconds",
		Help:    "Duration of encode plus store save",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	compressedBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gamehub_persist_compressed_bytes",
		Help:    "Size of compressed session blobs",
		Buckets: prometheus.ExponentialBuckets(256, 4, 8),
	})
)
