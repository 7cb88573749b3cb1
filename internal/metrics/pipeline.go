package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics. All low-cardinality; camera_id is a label because
// deployments run tens of cameras, not thousands.

var (
	FramesCapturedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_frames_total",
			Help: "Frames read from camera sources",
		},
		[]string{"camera_id"},
	)

	FramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_frames_dropped_total",
			Help: "Frames evicted from the capture ring before consumption",
		},
		[]string{"camera_id"},
	)

	CaptureReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_reconnects_total",
			Help: "Source reopen attempts after a read failure",
		},
		[]string{"camera_id"},
	)

	InferenceLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inference_latency_ms",
			Help:    "Detector round trip latency in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 200, 500, 1000, 2000},
		},
	)

	DetectionsPersistedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_events_total",
			Help: "Detection events persisted",
		},
		[]string{"class"},
	)

	DetectionsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_events_suppressed_total",
			Help: "Detections suppressed by the cooldown window",
		},
		[]string{"class"},
	)

	ActiveRecordings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "event_recordings_active",
			Help: "Post-event clip recordings currently running",
		},
	)

	AlertsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_dropped_total",
			Help: "Alerts discarded because the notifier queue was full",
		},
	)

	RTCViewers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rtc_viewers_active",
			Help: "Connected WebRTC viewers",
		},
	)

	TranscodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_transcode_seconds",
			Help:    "Wall time of on-demand web transcodes",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)
)

func RecordFrame(cameraID string) {
	FramesCapturedTotal.WithLabelValues(cameraID).Inc()
}

func RecordFrameDrop(cameraID string) {
	FramesDroppedTotal.WithLabelValues(cameraID).Inc()
}

func RecordReconnect(cameraID string) {
	CaptureReconnectsTotal.WithLabelValues(cameraID).Inc()
}

func RecordInferenceLatency(ms float64) {
	InferenceLatency.Observe(ms)
}

func RecordDetection(class string) {
	DetectionsPersistedTotal.WithLabelValues(class).Inc()
}

func RecordSuppressed(class string) {
	DetectionsSuppressedTotal.WithLabelValues(class).Inc()
}
