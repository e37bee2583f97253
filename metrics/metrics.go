package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the FaceForge service.
type Metrics struct {
	// Stream metrics
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsClosed  prometheus.Counter
	SessionDuration prometheus.Histogram

	// Frame pipeline metrics
	FramesProcessed         prometheus.Counter
	FramesDropped           prometheus.Counter
	FramesPassthrough       prometheus.Counter
	FrameProcessingDuration prometheus.Histogram
	FaceSetAttempts         *prometheus.CounterVec

	// Job metrics
	JobsCreated   prometheus.Counter
	JobsByStatus  *prometheus.GaugeVec
	UploadedBytes prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics on the default
// registry. Call once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "faceforge_active_sessions",
			Help: "Current number of active stream sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "faceforge_sessions_created_total",
			Help: "Total number of stream sessions created",
		}),
		SessionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "faceforge_sessions_closed_total",
			Help: "Total number of stream sessions closed",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "faceforge_session_duration_seconds",
			Help:    "Duration of stream sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		FramesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "faceforge_frames_processed_total",
			Help: "Total number of frames fully processed",
		}),
		FramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "faceforge_frames_dropped_total",
			Help: "Total number of frames dropped because the session was busy",
		}),
		FramesPassthrough: promauto.NewCounter(prometheus.CounterOpts{
			Name: "faceforge_frames_passthrough_total",
			Help: "Total number of frames returned without substitution",
		}),
		FrameProcessingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "faceforge_frame_processing_duration_seconds",
			Help:    "Time spent processing a single frame",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		FaceSetAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "faceforge_face_set_attempts_total",
			Help: "Reference face registration attempts by outcome",
		}, []string{"outcome"}),

		JobsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "faceforge_jobs_created_total",
			Help: "Total number of upload jobs created",
		}),
		JobsByStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "faceforge_jobs_by_status",
			Help: "Current number of jobs per status",
		}, []string{"status"}),
		UploadedBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "faceforge_uploaded_bytes_total",
			Help: "Total bytes accepted by the upload endpoint",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "faceforge_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "faceforge_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}
