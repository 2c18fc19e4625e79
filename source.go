package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maka00/recorder/engine"
	"github.com/maka00/recorder/internal/devices"
	"github.com/maka00/recorder/internal/metrics"
	"github.com/maka00/recorder/internal/poll"
)

// SourceConfig configures a VideoSourceService.
type SourceConfig struct {
	// Descriptor is the source pipeline. It should name the capture element
	// video-source and the frame socket sink video-sink.
	Descriptor string
	// DeviceDir holds device nodes (default: /dev)
	DeviceDir string
	// SocketDir holds the per-device frame sockets (default: /tmp)
	SocketDir string
	// StartTimeout bounds caps negotiation (default: 5s)
	StartTimeout time.Duration
	// StopTimeout bounds the EOS drain on Stop (default: 5s)
	StopTimeout time.Duration
}

func (c SourceConfig) withDefaults() SourceConfig {
	if c.DeviceDir == "" {
		c.DeviceDir = "/dev"
	}
	if c.SocketDir == "" {
		c.SocketDir = "/tmp"
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 5 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
	return c
}

type sourceSession struct {
	handle  *PipelineHandle
	monitor *monitor
	info    VideoSourceInfo
}

// VideoSourceService owns capture devices and publishes their frames on a
// per-device socket that other pipelines read from.
//
// Each device is owned by at most one session at a time.
type VideoSourceService struct {
	eng engine.Engine
	cfg SourceConfig

	// ops serializes Start and Stop; mu guards sessions.
	ops      sync.Mutex
	mu       sync.Mutex
	sessions map[string]*sourceSession
}

// NewVideoSourceService creates a service building source pipelines with eng.
func NewVideoSourceService(eng engine.Engine, cfg SourceConfig) *VideoSourceService {
	return &VideoSourceService{
		eng:      eng,
		cfg:      cfg.withDefaults(),
		sessions: make(map[string]*sourceSession),
	}
}

// Scan lists the capture devices in the device directory.
func (s *VideoSourceService) Scan() ([]string, error) {
	return devices.Scan(s.cfg.DeviceDir)
}

// SocketPath returns the frame socket of device.
func (s *VideoSourceService) SocketPath(device string) string {
	return filepath.Join(s.cfg.SocketDir, device+".sock")
}

// InUse reports whether a session owns device.
func (s *VideoSourceService) InUse(device string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[device]
	return ok
}

// Info returns the session info of device.
func (s *VideoSourceService) Info(device string) (VideoSourceInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[device]
	if !ok {
		return VideoSourceInfo{}, false
	}
	return sess.info, true
}

// Start claims device and starts publishing its frames.
//
// This method:
//  1. Builds the source pipeline and injects the socket and device paths
//  2. Moves it Idle -> Prepared -> Playing
//  3. Starts the bus monitor
//  4. Waits (bounded by StartTimeout) until video-sink has negotiated caps
//
// On any failure the pipeline is torn down and the device stays unclaimed.
func (s *VideoSourceService) Start(ctx context.Context, device string) (VideoSourceInfo, error) {
	s.ops.Lock()
	defer s.ops.Unlock()

	if s.InUse(device) {
		return VideoSourceInfo{}, fmt.Errorf("%w: source %s", ErrAlreadyStarted, device)
	}

	devicePath := filepath.Join(s.cfg.DeviceDir, device)
	if _, err := os.Stat(devicePath); err != nil {
		return VideoSourceInfo{}, fmt.Errorf("%w: %s: %w", ErrUnknownDevice, device, err)
	}

	started := time.Now()
	socketPath := s.SocketPath(device)

	slog.Info("source: starting",
		"device", device,
		"device_path", devicePath,
		"socket_path", socketPath,
	)

	h, err := newHandle(s.eng, "source", s.cfg.Descriptor)
	if err != nil {
		return VideoSourceInfo{}, err
	}

	// A socket left behind by a crashed session would make the sink fail to bind.
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("source: stale socket not removed", "socket_path", socketPath, "error", err)
	}

	h.configure(engine.SlotVideoSink, "socket-path", socketPath)
	h.configure(engine.SlotVideoSource, "device", devicePath)

	if err := h.prepare(); err != nil {
		h.teardown()
		return VideoSourceInfo{}, err
	}
	if err := h.play(); err != nil {
		h.teardown()
		return VideoSourceInfo{}, err
	}

	mon := watchBus(h, func(ev engine.Event) bool {
		switch ev.Type {
		case engine.EventEOS:
			slog.Info("source: end of stream", "device", device)
			return true
		case engine.EventError:
			logBusError("source", ev)
			h.fail(ev.Err)
			return true
		}
		return false
	})

	var caps engine.Caps
	pollCfg := poll.DefaultConfig()
	pollCfg.Timeout = s.cfg.StartTimeout
	err = poll.Until(ctx, pollCfg, func() (bool, error) {
		if h.State() == HandleError {
			return false, h.errorCause()
		}
		c, ok := h.pipeline.Caps(engine.SlotVideoSink)
		if !ok || c.Width == 0 || c.Height == 0 {
			return false, nil
		}
		caps = c
		return true, nil
	})
	if err != nil {
		mon.stop()
		h.teardown()
		return VideoSourceInfo{}, fmt.Errorf("%w: source %s: caps not negotiated: %w", ErrEncoding, device, err)
	}

	info := VideoSourceInfo{
		Device:     device,
		Width:      caps.Width,
		Height:     caps.Height,
		Format:     caps.Format,
		SocketPath: socketPath,
	}

	s.mu.Lock()
	s.sessions[device] = &sourceSession{handle: h, monitor: mon, info: info}
	s.mu.Unlock()

	metrics.SourceActive.WithLabelValues(device).Set(1)
	metrics.SourceStartDuration.Observe(time.Since(started).Seconds())

	slog.Info("source: started",
		"device", device,
		"width", info.Width,
		"height", info.Height,
		"format", info.Format,
		"startup", time.Since(started),
	)
	return info, nil
}

// Stop releases device. It drains the pipeline with EOS (bounded by
// StopTimeout or ctx) and tears it down. Stopping a device without a session
// is a no-op. The device is released even when teardown fails; the failure is
// returned wrapped in ErrEncoding.
func (s *VideoSourceService) Stop(ctx context.Context, device string) error {
	s.ops.Lock()
	defer s.ops.Unlock()

	s.mu.Lock()
	sess, ok := s.sessions[device]
	delete(s.sessions, device)
	s.mu.Unlock()

	if !ok {
		slog.Debug("source: stop ignored, no session", "device", device)
		return nil
	}
	metrics.SourceActive.WithLabelValues(device).Set(0)

	slog.Info("source: stopping", "device", device)

	if sess.handle.State() == HandlePlaying && sess.handle.pipeline.SendEOS() {
		timeout := s.cfg.StopTimeout
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
			timeout = time.Until(dl)
		}
		if !sess.monitor.wait(timeout) {
			slog.Warn("source: end of stream not received, forcing teardown",
				"device", device,
				"timeout", timeout,
			)
		}
	}
	sess.monitor.stop()

	if err := sess.handle.teardown(); err != nil {
		return fmt.Errorf("%w: source %s: %w", ErrEncoding, device, err)
	}
	slog.Info("source: stopped", "device", device)
	return nil
}
