package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maka00/recorder/engine"
	"github.com/maka00/recorder/internal/metrics"
	"github.com/maka00/recorder/internal/sprite"
)

// Segment completion messages posted by the video-sink.
const (
	msgHLSSegmentAdded  = "hls-segment-added"
	msgFragmentClosed   = "splitmuxsink-fragment-closed"
	defaultChunkSeconds = 10
)

// RecordingConfig configures a SegmentRecorder.
type RecordingConfig struct {
	// OutputDir receives segments, sprite sheets and the cue file
	OutputDir string
	// ChunkPrefix names segments <prefix>_00000.<ext> (default: chunk)
	ChunkPrefix string
	// Extension of segment files (default: ts)
	Extension string
	// ChunkSize is the target segment duration in seconds (default: 10)
	ChunkSize int
	// StopTimeout bounds the EOS drain on Stop (default: 5s)
	StopTimeout time.Duration
	// Sprite configures scrub thumbnails; its OutputDir is ignored
	Sprite sprite.Config
}

func (c RecordingConfig) withDefaults() RecordingConfig {
	if c.ChunkPrefix == "" {
		c.ChunkPrefix = "chunk"
	}
	if c.Extension == "" {
		c.Extension = "ts"
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSeconds
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
	c.Sprite.OutputDir = c.OutputDir
	return c
}

// Location returns the segment file pattern passed to the video-sink.
func (c RecordingConfig) Location() string {
	return filepath.Join(c.OutputDir, fmt.Sprintf("%s_%%05d.%s", c.ChunkPrefix, c.Extension))
}

// PlaylistLocation returns the HLS playlist path passed to the video-sink.
func (c RecordingConfig) PlaylistLocation() string {
	return filepath.Join(c.OutputDir, c.ChunkPrefix+".m3u8")
}

type recordingSession struct {
	handle  *PipelineHandle
	monitor *monitor
	info    RecordingInfo
}

// SegmentRecorder records the shared source into fixed-duration segments and
// builds scrub thumbnails from a low-rate branch of the same pipeline.
//
// The recording pipeline reads the source socket in video-source, writes
// segments with video-sink (hlssink2 or splitmuxsink) and may deliver raw
// frames to an appsink named frame-sink.
type SegmentRecorder struct {
	eng     engine.Engine
	cfg     RecordingConfig
	onChunk ChunkFunc
	sprites *sprite.Generator

	mu         sync.Mutex
	device     string
	socketPath string
	session    *recordingSession
	stopping   bool
}

// NewSegmentRecorder creates a recorder. onChunk may be nil.
func NewSegmentRecorder(eng engine.Engine, cfg RecordingConfig, onChunk ChunkFunc) (*SegmentRecorder, error) {
	cfg = cfg.withDefaults()
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("recording: output dir is required")
	}
	gen, err := sprite.New(cfg.Sprite)
	if err != nil {
		return nil, fmt.Errorf("recording: %w", err)
	}
	return &SegmentRecorder{
		eng:     eng,
		cfg:     cfg,
		onChunk: onChunk,
		sprites: gen,
	}, nil
}

// Prepare builds a recording pipeline from descriptor.
func (r *SegmentRecorder) Prepare(descriptor string) (*PipelineHandle, error) {
	return newHandle(r.eng, "recording", descriptor)
}

// Attach sets the source the next recording reads from.
func (r *SegmentRecorder) Attach(device, socketPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.device = device
	r.socketPath = socketPath
}

// Active returns the live recording session, if any.
func (r *SegmentRecorder) Active() (RecordingInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil || r.session.handle.State() != HandlePlaying {
		return RecordingInfo{}, false
	}
	return r.session.info, true
}

// Start starts recording with h. startedAt anchors chunk timestamps.
//
// This method:
//  1. Rejects h if it is playing or another session is live; a rejected
//     handle that never played is torn down
//  2. Injects the source socket, segment location and duration
//  3. Resets the sprite generator and installs the frame callback
//  4. Moves h to Playing and starts the bus monitor
func (r *SegmentRecorder) Start(h *PipelineHandle, startedAt time.Time) (RecordingInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h.State() == HandlePlaying {
		return RecordingInfo{}, fmt.Errorf("%w: recording pipeline is playing", ErrAlreadyStarted)
	}
	r.reapLocked()
	if r.session != nil {
		h.teardown()
		return RecordingInfo{}, fmt.Errorf("%w: recording %s is live", ErrAlreadyStarted, r.session.info.ID)
	}
	if r.stopping {
		h.teardown()
		return RecordingInfo{}, fmt.Errorf("%w: previous recording is still stopping", ErrAlreadyStarted)
	}
	if r.socketPath == "" {
		h.teardown()
		return RecordingInfo{}, fmt.Errorf("%w: recording: no source attached", ErrEncoding)
	}

	if err := os.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		h.teardown()
		return RecordingInfo{}, fmt.Errorf("%w: recording: create output dir: %w", ErrEncoding, err)
	}

	location := r.cfg.Location()
	h.configure(engine.SlotVideoSource, "socket-path", r.socketPath)
	h.configure(engine.SlotVideoSink, "location", location)
	h.configure(engine.SlotVideoSink, "playlist-location", r.cfg.PlaylistLocation())
	h.configure(engine.SlotVideoSink, "target-duration", uint32(r.cfg.ChunkSize))
	h.configure(engine.SlotVideoSink, "max-size-time", uint64(time.Duration(r.cfg.ChunkSize)*time.Second))
	h.configure(engine.SlotVideoSink, "message-forward", true)

	r.sprites.Reset()
	if h.pipeline.HasSlot(engine.SlotFrameSink) {
		err := h.pipeline.OnFrame(engine.SlotFrameSink, func(f engine.Frame) {
			metrics.FramesReceived.Inc()
			if err := r.sprites.HandleFrame(f); err != nil {
				slog.Warn("recording: thumbnail frame dropped", "seq", f.Seq, "error", err)
			}
		})
		if err != nil {
			h.teardown()
			return RecordingInfo{}, fmt.Errorf("%w: recording: %w", ErrEncoding, err)
		}
	}

	if h.State() == HandleIdle {
		if err := h.prepare(); err != nil {
			h.teardown()
			return RecordingInfo{}, err
		}
	}
	if err := h.play(); err != nil {
		h.teardown()
		return RecordingInfo{}, err
	}

	info := RecordingInfo{
		ID:        uuid.NewString(),
		Device:    r.device,
		StartedAt: startedAt,
		OutputDir: r.cfg.OutputDir,
		Location:  location,
	}
	r.session = &recordingSession{
		handle:  h,
		info:    info,
		monitor: watchBus(h, r.busHandler(h, info)),
	}
	metrics.RecordingActive.Set(1)

	slog.Info("recording: started",
		"session_id", info.ID,
		"device", info.Device,
		"location", location,
		"chunk_seconds", r.cfg.ChunkSize,
	)
	return info, nil
}

// busHandler returns the event handler of one recording session.
func (r *SegmentRecorder) busHandler(h *PipelineHandle, info RecordingInfo) func(engine.Event) bool {
	var (
		index   uint64
		lastEnd uint64 // splitmuxsink reports fragment end times
	)

	return func(ev engine.Event) bool {
		switch ev.Type {
		case engine.EventElement:
			if ev.Source != engine.SlotVideoSink || (ev.Name != msgHLSSegmentAdded && ev.Name != msgFragmentClosed) {
				return false
			}
			location, _ := ev.Text("location")
			runningTime, _ := ev.Uint64("running-time")
			duration, hasDuration := ev.Uint64("duration")

			start := runningTime
			if ev.Name == msgFragmentClosed {
				start = lastEnd
				if !hasDuration && runningTime >= lastEnd {
					duration = runningTime - lastEnd
				}
				lastEnd = runningTime
			}

			chunk := ChunkInfo{
				RecordingID: info.ID,
				Index:       index,
				Location:    location,
				Timestamp:   info.StartedAt.Add(time.Duration(start)).Format(TimestampFormat),
				Duration:    time.Duration(duration),
			}
			index++
			metrics.ChunksCompleted.Inc()

			slog.Info("recording: chunk completed",
				"session_id", info.ID,
				"index", chunk.Index,
				"location", chunk.Location,
				"timestamp", chunk.Timestamp,
				"duration", chunk.Duration,
			)
			if r.onChunk != nil {
				r.onChunk(chunk)
			}
			return false

		case engine.EventEOS:
			if err := r.sprites.Flush(); err != nil {
				slog.Warn("recording: thumbnail flush failed", "session_id", info.ID, "error", err)
			}
			slog.Info("recording: end of stream", "session_id", info.ID, "chunks", index)
			return true

		case engine.EventError:
			logBusError("recording", ev)
			h.fail(ev.Err)
			return true
		}
		return false
	}
}

// Stop ends the recording on h.
//
// The pipeline is drained with EOS so the last segment and the partial
// thumbnail batch are written, bounded by StopTimeout or ctx. A handle that
// failed while recording is torn down and its cause returned wrapped in
// ErrNotRunning.
func (r *SegmentRecorder) Stop(ctx context.Context, h *PipelineHandle) error {
	r.mu.Lock()
	var sess *recordingSession
	if r.session != nil && r.session.handle == h {
		sess = r.session
		r.session = nil
		r.stopping = true
	}
	r.mu.Unlock()

	if sess != nil {
		defer func() {
			r.mu.Lock()
			r.stopping = false
			r.mu.Unlock()
			metrics.RecordingActive.Set(0)
		}()
	}

	switch h.State() {
	case HandleError:
		if sess != nil {
			sess.monitor.stop()
		}
		h.teardown()
		return fmt.Errorf("%w: recording failed: %w", ErrNotRunning, h.errorCause())
	case HandlePlaying:
		if sess == nil {
			// Playing but not ours; leave it alone.
			return fmt.Errorf("%w: recording pipeline has no session", ErrNotRunning)
		}
	default:
		return fmt.Errorf("%w: recording pipeline is %s", ErrNotRunning, h.State())
	}

	slog.Info("recording: stopping", "session_id", sess.info.ID)

	if h.pipeline.SendEOS() {
		timeout := r.cfg.StopTimeout
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
			timeout = time.Until(dl)
		}
		if !sess.monitor.wait(timeout) {
			slog.Warn("recording: end of stream not received, forcing teardown",
				"session_id", sess.info.ID,
				"timeout", timeout,
			)
		}
	}
	sess.monitor.stop()
	h.teardown()

	if h.State() == HandleError {
		return fmt.Errorf("%w: recording failed while stopping: %w", ErrEncoding, h.errorCause())
	}
	slog.Info("recording: stopped", "session_id", sess.info.ID)
	return nil
}

// reapLocked drops a session whose pipeline failed.
func (r *SegmentRecorder) reapLocked() {
	if r.session == nil || r.session.handle.State() != HandleError {
		return
	}
	slog.Warn("recording: discarding failed session",
		"session_id", r.session.info.ID,
		"error", r.session.handle.Err(),
	)
	r.session.monitor.stop()
	r.session.handle.teardown()
	r.session = nil
	metrics.RecordingActive.Set(0)
}

// Close releases the thumbnail generator.
func (r *SegmentRecorder) Close() error {
	return r.sprites.Close()
}
