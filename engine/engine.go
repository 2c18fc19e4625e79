// Package engine defines the capability interface the recorder uses to drive an
// external media pipeline engine.
//
// A pipeline is built from a textual descriptor (gst-launch syntax for the
// GStreamer adapter) that names well-known slots. The recorder never branches on
// concrete element types: it only injects properties into slots, moves the
// pipeline through its states, reads the event bus and receives raw frames.
package engine

import (
	"errors"
	"time"
)

// Well-known slot names a descriptor may declare with `name=<slot>`.
const (
	SlotVideoSource = "video-source"
	SlotVideoSink   = "video-sink"
	SlotFrameSink   = "frame-sink"
)

// ErrNoSlot is returned when a descriptor does not declare the requested slot.
var ErrNoSlot = errors.New("engine: slot not found")

// State is the engine-level pipeline state.
type State int

const (
	StateNull State = iota
	StateReady
	StatePaused
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "null"
	case StateReady:
		return "ready"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// Engine builds pipelines from descriptors.
//
// Implementations perform any process-wide initialization once, before the
// first Build.
type Engine interface {
	// Build parses descriptor into a new pipeline in the null state.
	Build(descriptor string) (Pipeline, error)
}

// Pipeline is one built graph instance.
type Pipeline interface {
	// Name returns the engine-assigned pipeline name.
	Name() string

	// HasSlot reports whether the descriptor declared the slot.
	HasSlot(slot string) bool

	// Configure sets property on the element in slot. It returns false when the
	// slot is missing or the element does not expose the property; the value is
	// then silently skipped.
	Configure(slot, property string, value any) bool

	// SetState requests a state change.
	SetState(state State) error

	// CurrentState returns the state the pipeline is currently in.
	CurrentState() State

	// SendEOS injects an end-of-stream event. It returns false if the event
	// was not handled.
	SendEOS() bool

	// Pop blocks for up to timeout waiting for the next bus event.
	Pop(timeout time.Duration) (Event, bool)

	// Caps returns the negotiated caps on the sink pad of slot, if any.
	Caps(slot string) (Caps, bool)

	// OnFrame installs fn as the new-frame callback of the appsink in slot.
	// The frame passed to fn owns its data.
	OnFrame(slot string, fn func(Frame)) error

	// DumpGraph writes a graph description for debugging. Optional.
	DumpGraph(name string)
}

// Caps is the subset of negotiated stream capabilities the recorder needs.
type Caps struct {
	Name   string
	Width  int
	Height int
	Format string
}

// Frame is one raw decoded video frame copied out of engine memory.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Format    string
	Data      []byte
}
