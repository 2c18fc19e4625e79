package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maka00/recorder/engine"
	"github.com/maka00/recorder/internal/metrics"
)

// stillPopInterval bounds each synchronous bus read of a still capture.
const stillPopInterval = time.Second

// StillConfig configures a StillCapture.
type StillConfig struct {
	// Descriptor is the still pipeline: video-source reads the source socket,
	// video-sink writes the file.
	Descriptor string
	OutputDir  string
	// Prefix names stills <prefix>-<name>.<ext> (default: still)
	Prefix string
	// Extension of still files (default: jpg)
	Extension string
	// Timeout bounds a capture (default: 5s)
	Timeout time.Duration
}

func (c StillConfig) withDefaults() StillConfig {
	if c.Prefix == "" {
		c.Prefix = "still"
	}
	if c.Extension == "" {
		c.Extension = "jpg"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	return c
}

// StillCapture writes single images from the shared source.
type StillCapture struct {
	eng engine.Engine
	cfg StillConfig

	mu         sync.Mutex
	device     string
	socketPath string
}

// NewStillCapture creates a still capture building pipelines with eng.
func NewStillCapture(eng engine.Engine, cfg StillConfig) *StillCapture {
	return &StillCapture{eng: eng, cfg: cfg.withDefaults()}
}

// Attach sets the source stills are taken from.
func (c *StillCapture) Attach(device, socketPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.device = device
	c.socketPath = socketPath
}

// Path returns the file a still called name is written to.
func (c *StillCapture) Path(name string) string {
	return filepath.Join(c.cfg.OutputDir, fmt.Sprintf("%s-%s.%s", c.cfg.Prefix, name, c.cfg.Extension))
}

// Capture takes one still called name and blocks until the pipeline reaches
// end of stream, fails, ctx is done or Timeout elapses. The pipeline is
// always torn down.
func (c *StillCapture) Capture(ctx context.Context, name string) (info StillInfo, err error) {
	c.mu.Lock()
	device, socketPath := c.device, c.socketPath
	c.mu.Unlock()

	defer func() { metrics.Stills.WithLabelValues(metrics.Result(err)).Inc() }()

	if socketPath == "" {
		return StillInfo{}, fmt.Errorf("%w: still: no source attached", ErrEncoding)
	}

	h, err := newHandle(c.eng, "still", c.cfg.Descriptor)
	if err != nil {
		return StillInfo{}, err
	}
	defer h.teardown()

	if err := os.MkdirAll(c.cfg.OutputDir, 0o755); err != nil {
		return StillInfo{}, fmt.Errorf("%w: still: create output dir: %w", ErrEncoding, err)
	}

	path := c.Path(name)
	h.configure(engine.SlotVideoSource, "socket-path", socketPath)
	h.configure(engine.SlotVideoSink, "location", path)

	if err := h.prepare(); err != nil {
		return StillInfo{}, err
	}
	if err := h.play(); err != nil {
		return StillInfo{}, err
	}

	deadline := time.Now().Add(c.cfg.Timeout)
	var caps engine.Caps
	for {
		if err := ctx.Err(); err != nil {
			return StillInfo{}, fmt.Errorf("%w: still %s: %w", ErrEncoding, name, err)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return StillInfo{}, fmt.Errorf("%w: still %s: timed out after %s", ErrEncoding, name, c.cfg.Timeout)
		}

		if cc, ok := h.pipeline.Caps(engine.SlotVideoSink); ok {
			caps = cc
		}

		ev, ok := h.pipeline.Pop(min(stillPopInterval, remaining))
		if !ok {
			continue
		}
		switch ev.Type {
		case engine.EventEOS:
			info = StillInfo{
				Device:   device,
				Width:    caps.Width,
				Height:   caps.Height,
				Format:   caps.Format,
				FilePath: path,
			}
			slog.Info("still: captured", "device", device, "location", path)
			return info, nil
		case engine.EventError:
			logBusError("still", ev)
			h.fail(ev.Err)
			return StillInfo{}, fmt.Errorf("%w: still %s: %w", ErrEncoding, name, ev.Err)
		}
	}
}
