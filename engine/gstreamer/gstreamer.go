// Package gstreamer implements engine.Engine on top of GStreamer via go-gst.
//
// Descriptors are gst-launch strings. Slots are resolved with
// gst_bin_get_by_name, properties are injected only when the element exposes
// them, and frames are pulled from appsink elements and copied out of
// GStreamer memory before the callback returns.
package gstreamer

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/maka00/recorder/engine"
)

var initOnce sync.Once

// Init initializes GStreamer for the process. Safe to call multiple times.
func Init() {
	initOnce.Do(func() {
		gst.Init(nil)
		slog.Debug("gst: initialized")
	})
}

// Engine builds GStreamer pipelines from launch descriptors.
type Engine struct{}

// New returns an Engine, initializing GStreamer on first use.
func New() *Engine {
	Init()
	return &Engine{}
}

// Build parses descriptor with gst_parse_launch.
func (e *Engine) Build(descriptor string) (engine.Pipeline, error) {
	Init()

	p, err := gst.NewPipelineFromString(descriptor)
	if err != nil {
		return nil, fmt.Errorf("gst: parse launch: %w", err)
	}

	slog.Debug("gst: pipeline built", "pipeline", p.GetName())
	return &Pipeline{pipeline: p}, nil
}

// Pipeline adapts *gst.Pipeline to engine.Pipeline.
type Pipeline struct {
	pipeline *gst.Pipeline
	frameSeq uint64
}

var _ engine.Pipeline = (*Pipeline)(nil)

func (p *Pipeline) Name() string {
	return p.pipeline.GetName()
}

func (p *Pipeline) element(slot string) *gst.Element {
	elem, err := p.pipeline.GetElementByName(slot)
	if err != nil {
		return nil
	}
	return elem
}

func (p *Pipeline) HasSlot(slot string) bool {
	return p.element(slot) != nil
}

// Configure sets the property when the slot element exposes it.
func (p *Pipeline) Configure(slot, property string, value any) bool {
	elem := p.element(slot)
	if elem == nil {
		return false
	}
	if _, err := elem.GetPropertyType(property); err != nil {
		return false
	}
	if err := elem.SetProperty(property, value); err != nil {
		slog.Warn("gst: failed to set property",
			"slot", slot,
			"property", property,
			"error", err,
		)
		return false
	}
	return true
}

func (p *Pipeline) SetState(state engine.State) error {
	if err := p.pipeline.SetState(toGstState(state)); err != nil {
		return fmt.Errorf("gst: set state %s: %w", state, err)
	}
	return nil
}

func (p *Pipeline) CurrentState() engine.State {
	return fromGstState(p.pipeline.GetCurrentState())
}

func (p *Pipeline) SendEOS() bool {
	return p.pipeline.SendEvent(gst.NewEOSEvent())
}

// Pop reads the next message from the pipeline bus.
func (p *Pipeline) Pop(timeout time.Duration) (engine.Event, bool) {
	msg := p.pipeline.GetPipelineBus().TimedPop(timeout)
	if msg == nil {
		return engine.Event{}, false
	}
	return translateMessage(msg), true
}

// Caps returns the negotiated caps on the "sink" pad of the slot element.
func (p *Pipeline) Caps(slot string) (engine.Caps, bool) {
	elem := p.element(slot)
	if elem == nil {
		return engine.Caps{}, false
	}
	pad := elem.GetStaticPad("sink")
	if pad == nil {
		return engine.Caps{}, false
	}
	caps := pad.GetCurrentCaps()
	if caps == nil || caps.GetSize() == 0 {
		return engine.Caps{}, false
	}
	return capsFromStructure(caps.GetStructureAt(0)), true
}

// OnFrame installs an appsink new-sample callback on the slot element.
func (p *Pipeline) OnFrame(slot string, fn func(engine.Frame)) error {
	elem := p.element(slot)
	if elem == nil {
		return fmt.Errorf("gst: %s: %w", slot, engine.ErrNoSlot)
	}
	sink := app.SinkFromElement(elem)
	if sink == nil {
		return fmt.Errorf("gst: %s is not an appsink", slot)
	}

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(s *app.Sink) gst.FlowReturn {
			return p.onNewSample(s, fn)
		},
	})
	return nil
}

// onNewSample pulls the sample, copies its data (GStreamer reuses the
// buffer) and hands the frame to fn.
func (p *Pipeline) onNewSample(sink *app.Sink, fn func(engine.Frame)) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		// A single bad sample should not kill the pipeline
		slog.Warn("gst: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gst: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	var caps engine.Caps
	if c := sample.GetCaps(); c != nil && c.GetSize() > 0 {
		caps = capsFromStructure(c.GetStructureAt(0))
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("gst: empty buffer received")
		return gst.FlowOK
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	fn(engine.Frame{
		Seq:       atomic.AddUint64(&p.frameSeq, 1),
		Timestamp: time.Now(),
		Width:     caps.Width,
		Height:    caps.Height,
		Format:    caps.Format,
		Data:      frameData,
	})
	return gst.FlowOK
}

// DumpGraph writes a dot file into GST_DEBUG_DUMP_DOT_DIR, if set.
func (p *Pipeline) DumpGraph(name string) {
	p.pipeline.DebugBinToDotFile(gst.DebugGraphShowAll, name)
}

func toGstState(s engine.State) gst.State {
	switch s {
	case engine.StateReady:
		return gst.StateReady
	case engine.StatePaused:
		return gst.StatePaused
	case engine.StatePlaying:
		return gst.StatePlaying
	default:
		return gst.StateNull
	}
}

func fromGstState(s gst.State) engine.State {
	switch s {
	case gst.StateReady:
		return engine.StateReady
	case gst.StatePaused:
		return engine.StatePaused
	case gst.StatePlaying:
		return engine.StatePlaying
	default:
		return engine.StateNull
	}
}
