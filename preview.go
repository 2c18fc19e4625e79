package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/maka00/recorder/engine"
)

// PreviewService runs an interactive live view of the shared source. The
// preview transport lives entirely in the descriptor's video-sink.
type PreviewService struct {
	eng engine.Engine

	mu         sync.Mutex
	device     string
	socketPath string
}

// NewPreviewService creates a preview service building pipelines with eng.
func NewPreviewService(eng engine.Engine) *PreviewService {
	return &PreviewService{eng: eng}
}

// Prepare builds a preview pipeline from descriptor.
func (p *PreviewService) Prepare(descriptor string) (*PipelineHandle, error) {
	return newHandle(p.eng, "preview", descriptor)
}

// Attach sets the source the next preview reads from.
func (p *PreviewService) Attach(device, socketPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.device = device
	p.socketPath = socketPath
}

// Start plays h against the attached source.
func (p *PreviewService) Start(h *PipelineHandle) error {
	p.mu.Lock()
	device, socketPath := p.device, p.socketPath
	p.mu.Unlock()

	if socketPath == "" {
		return fmt.Errorf("%w: preview: no source attached", ErrEncoding)
	}

	h.configure(engine.SlotVideoSource, "socket-path", socketPath)

	if h.State() == HandleIdle {
		if err := h.prepare(); err != nil {
			return err
		}
	}
	if err := h.play(); err != nil {
		return err
	}

	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		h.pipeline.DumpGraph("preview")
	}
	slog.Info("preview: started", "device", device, "socket_path", socketPath)
	return nil
}

// Stop sends EOS to h and tears it down.
func (p *PreviewService) Stop(h *PipelineHandle) error {
	if h.State() == HandlePlaying && !h.pipeline.SendEOS() {
		slog.Warn("preview: end of stream not handled")
	}
	if err := h.teardown(); err != nil {
		return fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	slog.Info("preview: stopped")
	return nil
}
