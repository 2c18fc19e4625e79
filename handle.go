package recorder

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/maka00/recorder/engine"
)

// HandleState is the lifecycle state of a PipelineHandle.
//
//	Idle -> Prepared -> Playing -> Stopped
//
// Error is absorbing and reachable from every state except Stopped.
type HandleState int

const (
	HandleIdle HandleState = iota
	HandlePrepared
	HandlePlaying
	HandleStopped
	HandleError
)

func (s HandleState) String() string {
	switch s {
	case HandleIdle:
		return "idle"
	case HandlePrepared:
		return "prepared"
	case HandlePlaying:
		return "playing"
	case HandleStopped:
		return "stopped"
	case HandleError:
		return "error"
	default:
		return "unknown"
	}
}

// PipelineHandle owns one built pipeline and tracks its lifecycle.
//
// A handle is created by parsing a descriptor and is single use: once Stopped
// or Error it cannot be played again.
type PipelineHandle struct {
	role     string
	pipeline engine.Pipeline

	mu       sync.Mutex
	state    HandleState
	cause    error
	released bool
}

// newHandle builds descriptor into a pipeline in the Idle state.
func newHandle(eng engine.Engine, role, descriptor string) (*PipelineHandle, error) {
	p, err := eng.Build(descriptor)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrParse, role, err)
	}
	slog.Debug(role+": pipeline built", "pipeline", p.Name())
	return &PipelineHandle{role: role, pipeline: p}, nil
}

// State returns the current lifecycle state.
func (h *PipelineHandle) State() HandleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the cause of the Error state, if any.
func (h *PipelineHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cause
}

// configure injects a property into slot, skipping it when the slot or the
// property does not exist.
func (h *PipelineHandle) configure(slot, property string, value any) {
	if !h.pipeline.Configure(slot, property, value) {
		slog.Debug(h.role+": property skipped", "slot", slot, "property", property)
		return
	}
	slog.Debug(h.role+": property set", "slot", slot, "property", property, "value", value)
}

// prepare moves Idle -> Prepared.
func (h *PipelineHandle) prepare() error {
	return h.transition(HandleIdle, HandlePrepared, engine.StateReady)
}

// play moves Prepared -> Playing.
func (h *PipelineHandle) play() error {
	return h.transition(HandlePrepared, HandlePlaying, engine.StatePlaying)
}

func (h *PipelineHandle) transition(from, to HandleState, target engine.State) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case h.state == to || (to == HandlePrepared && h.state == HandlePlaying):
		return fmt.Errorf("%w: %s pipeline is %s", ErrAlreadyStarted, h.role, h.state)
	case h.state != from:
		return fmt.Errorf("%w: %s pipeline is %s", ErrNotRunning, h.role, h.state)
	}

	if err := h.pipeline.SetState(target); err != nil {
		h.state = HandleError
		h.cause = err
		return fmt.Errorf("%w: %s: set state %s: %w", ErrEncoding, h.role, target, err)
	}
	h.state = to
	return nil
}

// fail moves the handle to Error unless it is already terminal.
func (h *PipelineHandle) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == HandleStopped || h.state == HandleError {
		return
	}
	h.state = HandleError
	h.cause = err
}

// teardown releases the pipeline. A handle in Error stays in Error; any other
// handle ends Stopped. Calling teardown again is a no-op.
func (h *PipelineHandle) teardown() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}
	h.released = true
	if h.state != HandleError {
		h.state = HandleStopped
	}

	if err := h.pipeline.SetState(engine.StateNull); err != nil {
		slog.Warn(h.role+": teardown failed", "pipeline", h.pipeline.Name(), "error", err)
		return fmt.Errorf("%s: teardown: %w", h.role, err)
	}
	slog.Debug(h.role+": pipeline released", "pipeline", h.pipeline.Name())
	return nil
}

// errorCause wraps the Error cause for callers, falling back to a generic
// message when the engine gave none.
func (h *PipelineHandle) errorCause() error {
	if cause := h.Err(); cause != nil {
		return cause
	}
	return errors.New(h.role + " pipeline failed")
}
