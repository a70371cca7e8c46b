package transcode

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shouter",
		Subsystem: "transcode",
		Name:      "chunk_activations_total",
		Help:      "Chunk activations by result.",
	}, []string{"result"})

	metricActivationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "shouter",
		Subsystem: "transcode",
		Name:      "chunk_activation_duration_seconds",
		Help:      "Time spent driving a chunk through segment, decode and encode.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	metricEncoders = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "shouter",
		Subsystem: "transcode",
		Name:      "encoders",
		Help:      "Encoders currently held by the cache.",
	})
)
