package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ControllerConfig configures a CaptureController.
type ControllerConfig struct {
	// RecordingDescriptor is built for every StartRecording
	RecordingDescriptor string
	// PreviewDescriptor is started with the source; empty disables the preview
	PreviewDescriptor string
	// GracePeriod separates stopping the preview from stopping the source
	// (default: 1s)
	GracePeriod time.Duration
}

// CaptureController coordinates one active source device and its
// recording, still and preview consumers.
type CaptureController struct {
	source    *VideoSourceService
	recording *SegmentRecorder
	still     *StillCapture
	preview   *PreviewService
	cfg       ControllerConfig

	mu              sync.Mutex
	active          *VideoSourceInfo
	previewHandle   *PipelineHandle
	recordingHandle *PipelineHandle
}

// NewCaptureController wires the consumers to source.
func NewCaptureController(
	source *VideoSourceService,
	recording *SegmentRecorder,
	still *StillCapture,
	preview *PreviewService,
	cfg ControllerConfig,
) *CaptureController {
	if cfg.GracePeriod < 0 {
		cfg.GracePeriod = 0
	}
	return &CaptureController{
		source:    source,
		recording: recording,
		still:     still,
		preview:   preview,
		cfg:       cfg,
	}
}

// Scan lists the capture devices.
func (c *CaptureController) Scan() ([]string, error) {
	return c.source.Scan()
}

// Start starts the source of device and, if configured, the preview. If the
// preview fails the source is stopped again.
func (c *CaptureController) Start(ctx context.Context, device string) (VideoSourceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return VideoSourceInfo{}, fmt.Errorf("%w: source %s is active", ErrAlreadyStarted, c.active.Device)
	}

	info, err := c.source.Start(ctx, device)
	if err != nil {
		return VideoSourceInfo{}, err
	}

	c.still.Attach(info.Device, info.SocketPath)
	c.recording.Attach(info.Device, info.SocketPath)
	c.preview.Attach(info.Device, info.SocketPath)

	if c.cfg.PreviewDescriptor != "" {
		if err := c.startPreviewLocked(); err != nil {
			slog.Error("controller: preview failed, stopping source", "device", device, "error", err)
			if stopErr := c.source.Stop(ctx, device); stopErr != nil {
				slog.Warn("controller: source rollback failed", "device", device, "error", stopErr)
			}
			return VideoSourceInfo{}, err
		}
	}

	c.active = &info
	slog.Info("controller: started", "device", device, "preview", c.previewHandle != nil)
	return info, nil
}

// Stop stops the preview and then, after GracePeriod, the source of device.
// It refuses while a recording is live; stop the recording first.
func (c *CaptureController) Stop(ctx context.Context, device string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil || c.active.Device != device {
		// Nothing of ours; still release any stray session.
		return c.source.Stop(ctx, device)
	}

	if info, ok := c.recording.Active(); ok {
		return fmt.Errorf("%w: recording %s", ErrRecordingActive, info.ID)
	}
	if c.recordingHandle != nil {
		// Failed recording left behind
		if err := c.recording.Stop(ctx, c.recordingHandle); err != nil && !errors.Is(err, ErrNotRunning) {
			slog.Warn("controller: recording cleanup failed", "error", err)
		}
		c.recordingHandle = nil
	}

	if c.previewHandle != nil {
		if err := c.preview.Stop(c.previewHandle); err != nil {
			slog.Warn("controller: preview stop failed", "device", device, "error", err)
		}
		c.previewHandle = nil
	}

	if c.cfg.GracePeriod > 0 {
		timer := time.NewTimer(c.cfg.GracePeriod)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	err := c.source.Stop(ctx, device)
	c.active = nil
	slog.Info("controller: stopped", "device", device)
	return err
}

// StartRecording starts a recording of the active source.
func (c *CaptureController) StartRecording(ctx context.Context) (RecordingInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return RecordingInfo{}, fmt.Errorf("%w: no active source", ErrEncoding)
	}
	if info, ok := c.recording.Active(); ok {
		return RecordingInfo{}, fmt.Errorf("%w: recording %s", ErrAlreadyStarted, info.ID)
	}

	h, err := c.recording.Prepare(c.cfg.RecordingDescriptor)
	if err != nil {
		return RecordingInfo{}, err
	}
	info, err := c.recording.Start(h, time.Now())
	if err != nil {
		return RecordingInfo{}, err
	}
	c.recordingHandle = h
	return info, nil
}

// StopRecording stops the live recording. The source keeps running.
func (c *CaptureController) StopRecording(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.recordingHandle
	if h == nil {
		return fmt.Errorf("%w: no recording", ErrNotRunning)
	}
	c.recordingHandle = nil
	return c.recording.Stop(ctx, h)
}

// TakeStill captures a still called name from device, which must be the
// active source.
func (c *CaptureController) TakeStill(ctx context.Context, device, name string) (StillInfo, error) {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	if active == nil || active.Device != device {
		return StillInfo{}, fmt.Errorf("%w: source %s is not active", ErrEncoding, device)
	}

	info, err := c.still.Capture(ctx, name)
	if err != nil {
		return StillInfo{}, err
	}
	if info.Width == 0 || info.Height == 0 {
		info.Width, info.Height = active.Width, active.Height
	}
	if info.Format == "" {
		info.Format = active.Format
	}
	return info, nil
}

// StartPreview starts the preview of the active source.
func (c *CaptureController) StartPreview(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return fmt.Errorf("%w: no active source", ErrEncoding)
	}
	if c.previewHandle != nil {
		return fmt.Errorf("%w: preview", ErrAlreadyStarted)
	}
	if c.cfg.PreviewDescriptor == "" {
		return fmt.Errorf("%w: preview: no pipeline configured", ErrParse)
	}
	return c.startPreviewLocked()
}

// StopPreview stops the preview. The source keeps running.
func (c *CaptureController) StopPreview(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.previewHandle == nil {
		return fmt.Errorf("%w: preview", ErrNotRunning)
	}
	h := c.previewHandle
	c.previewHandle = nil
	return c.preview.Stop(h)
}

func (c *CaptureController) startPreviewLocked() error {
	h, err := c.preview.Prepare(c.cfg.PreviewDescriptor)
	if err != nil {
		return err
	}
	if err := c.preview.Start(h); err != nil {
		h.teardown()
		return err
	}
	c.previewHandle = h
	return nil
}

// Status returns a snapshot of the controller.
func (c *CaptureController) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	var st Status
	if c.active != nil {
		src := *c.active
		st.Source = &src
	}
	if info, ok := c.recording.Active(); ok {
		st.Recording = &info
	}
	st.Preview = c.previewHandle != nil
	return st
}
