// Package metrics holds the Prometheus collectors exported by the recorder.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SourceActive is 1 while a capture session owns the device
	SourceActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "recorder_source_active",
		Help: "Whether a capture session currently owns the device",
	}, []string{"device"})

	// SourceStartDuration tracks time from Start to negotiated caps
	SourceStartDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "recorder_source_start_duration_seconds",
		Help:    "Time from source start until stream caps were negotiated",
		Buckets: prometheus.ExponentialBuckets(0.01, 2.0, 12), // 10ms to ~20s
	})

	// RecordingActive is 1 while a recording session is playing
	RecordingActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recorder_recording_active",
		Help: "Whether a recording session is currently playing",
	})

	// ChunksCompleted counts finished recording segments
	ChunksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recorder_chunks_completed_total",
		Help: "Total recording segments completed",
	})

	// FramesReceived counts frames delivered to the thumbnail generator
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recorder_thumbnail_frames_total",
		Help: "Total frames delivered to the thumbnail generator",
	})

	// SpriteBatches counts sprite sheets written
	SpriteBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recorder_sprite_batches_total",
		Help: "Total sprite batches flushed",
	}, []string{"result"})

	// Stills counts still captures by result
	Stills = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recorder_stills_total",
		Help: "Total still captures",
	}, []string{"result"})

	// PipelineErrors counts bus errors by pipeline role and category
	PipelineErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recorder_pipeline_errors_total",
		Help: "Total pipeline bus errors",
	}, []string{"role", "category"})
)

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
