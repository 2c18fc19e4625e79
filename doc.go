// Package recorder captures a live video device once and fans it out to
// independent consumers: chunked recording with scrub thumbnails, still
// images and a live preview.
//
// # Architecture
//
// The source pipeline owns the device and publishes raw frames on a Unix
// socket (<socket-dir>/<device>.sock). Every consumer runs its own pipeline
// reading that socket, so consumers start and stop without touching the
// device:
//
//	device ──> source pipeline ──> unixfdsink ─┬─> recording (segments + frame-sink)
//	                                           ├─> still (one image, then EOS)
//	                                           └─> preview
//
// Pipelines are described in gst-launch syntax and built by an engine.Engine
// (see engine/gstreamer). Descriptors name the elements the recorder
// configures:
//
//   - video-source: capture element or socket reader
//   - video-sink: socket writer, segment writer or file writer
//   - frame-sink: appsink delivering raw frames for thumbnails (recording only)
//
// # Quick Start
//
//	eng := gstreamer.New()
//	source := recorder.NewVideoSourceService(eng, recorder.SourceConfig{
//	    Descriptor: "v4l2src name=video-source ! videoconvert ! unixfdsink name=video-sink",
//	})
//	rec, err := recorder.NewSegmentRecorder(eng, recorder.RecordingConfig{
//	    OutputDir: "/var/recordings",
//	    ChunkSize: 10,
//	}, func(c recorder.ChunkInfo) {
//	    log.Printf("chunk %d at %s", c.Index, c.Location)
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctrl := recorder.NewCaptureController(source, rec,
//	    recorder.NewStillCapture(eng, recorder.StillConfig{Descriptor: stillPipeline, OutputDir: "/var/recordings"}),
//	    recorder.NewPreviewService(eng),
//	    recorder.ControllerConfig{RecordingDescriptor: recordingPipeline},
//	)
//
//	if _, err := ctrl.Start(ctx, "video0"); err != nil {
//	    log.Fatal(err)
//	}
//	info, err := ctrl.StartRecording(ctx)
//	...
//	ctrl.StopRecording(ctx)
//	ctrl.Stop(ctx, "video0")
//
// # Lifecycle
//
// Every pipeline is wrapped in a PipelineHandle moving
// Idle -> Prepared -> Playing -> Stopped. Bus errors move a handle to Error,
// which is absorbing. Handles are single use.
//
// A recording's bus monitor reports completed segments to the ChunkFunc in
// order. On Stop the recording is drained with EOS, so the last segment and
// the partial thumbnail batch are written before teardown.
//
// # Errors
//
// Operations return errors wrapping ErrParse, ErrEncoding, ErrNotRunning,
// ErrAlreadyStarted, ErrRecordingActive or ErrUnknownDevice. Match them with
// errors.Is.
package recorder
