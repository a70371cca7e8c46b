package shouter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "shouter"

var (
	metricListeners = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "listeners",
		Help:      "Sessions currently admitted.",
	})

	metricConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "connections_total",
		Help:      "Connections by outcome.",
	}, []string{"outcome"})

	metricBytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "audio_bytes_sent_total",
		Help:      "Audio bytes written to listeners, metadata excluded.",
	})

	metricMetadataFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "metadata_frames_total",
		Help:      "Metadata frames written, by kind.",
	}, []string{"kind"})

	metricIdle = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "idle_activations_total",
		Help:      "Idle policy runs by mode.",
	}, []string{"mode"})

	metricTracksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "tracks_skipped_total",
		Help:      "Tracks skipped because they could not be streamed.",
	})

	metricReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "playlist_reloads_total",
		Help:      "Playlist reloads by result.",
	}, []string{"result"})
)
