// Package enginetest provides an in-memory engine.Engine for tests.
//
// Descriptors use gst-launch syntax. Each "!"-separated stage names a factory
// and may declare a slot with name=<slot>. Properties are accepted only if the
// factory is known to expose them (see Properties), mirroring how the real
// adapter silently skips unknown properties.
package enginetest

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/maka00/recorder/engine"
)

// ErrMalformed is returned by Build for descriptors the fake cannot parse.
var ErrMalformed = errors.New("enginetest: malformed descriptor")

// Properties lists the properties each fake factory exposes.
var Properties = map[string][]string{
	"v4l2src":       {"device"},
	"unixfdsink":    {"socket-path"},
	"unixfdsrc":     {"socket-path"},
	"hlssink2":      {"location", "target-duration", "message-forward", "playlist-location"},
	"splitmuxsink":  {"location", "max-size-time", "message-forward"},
	"filesink":      {"location"},
	"multifilesink": {"location"},
	"webrtcsink":    {"run-signalling-server", "run-web-server"},
}

// Engine is a scripted engine. Hooks may be set before the first Build.
type Engine struct {
	mu        sync.Mutex
	pipelines []*Pipeline

	// BuildErr, when set, makes every Build fail with it.
	BuildErr error
	// FailState makes SetState(FailState) return StateErr.
	FailState *engine.State
	StateErr  error
	// Caps is reported on every slot once the pipeline is playing.
	Caps engine.Caps
	// SwallowEOS drops the EOS event SendEOS would normally post.
	SwallowEOS bool
	// OnPlay runs after a pipeline enters the playing state.
	OnPlay func(p *Pipeline)
}

var _ engine.Engine = (*Engine)(nil)

// New returns an engine reporting caps on playing pipelines.
func New(caps engine.Caps) *Engine {
	return &Engine{Caps: caps}
}

// Build parses descriptor into a fake pipeline.
func (e *Engine) Build(descriptor string) (engine.Pipeline, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.BuildErr != nil {
		return nil, e.BuildErr
	}

	slots, err := parse(descriptor)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		eng:        e,
		name:       fmt.Sprintf("pipeline%d", len(e.pipelines)),
		descriptor: descriptor,
		slots:      slots,
		props:      make(map[string]map[string]any),
		frameFns:   make(map[string]func(engine.Frame)),
		events:     make(chan engine.Event, 256),
	}
	e.pipelines = append(e.pipelines, p)
	return p, nil
}

// Builds returns how many pipelines were built.
func (e *Engine) Builds() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pipelines)
}

// Pipelines returns every pipeline built so far, oldest first.
func (e *Engine) Pipelines() []*Pipeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Pipeline(nil), e.pipelines...)
}

// Find returns the most recent pipeline whose descriptor contains substr.
func (e *Engine) Find(substr string) *Pipeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.pipelines) - 1; i >= 0; i-- {
		if strings.Contains(e.pipelines[i].descriptor, substr) {
			return e.pipelines[i]
		}
	}
	return nil
}

func parse(descriptor string) (map[string]string, error) {
	if strings.TrimSpace(descriptor) == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}
	slots := make(map[string]string)
	for _, stage := range strings.Split(descriptor, "!") {
		fields := strings.Fields(stage)
		if len(fields) == 0 {
			return nil, fmt.Errorf("%w: empty stage in %q", ErrMalformed, descriptor)
		}
		factory := fields[0]
		for _, f := range fields[1:] {
			if name, ok := strings.CutPrefix(f, "name="); ok {
				slots[name] = factory
			}
		}
	}
	return slots, nil
}

// Pipeline is a fake engine.Pipeline.
type Pipeline struct {
	eng        *Engine
	name       string
	descriptor string

	mu       sync.Mutex
	slots    map[string]string
	props    map[string]map[string]any
	state    engine.State
	states   []engine.State
	frameFns map[string]func(engine.Frame)
	eosSent  int
	dumps    []string

	events chan engine.Event
}

var _ engine.Pipeline = (*Pipeline)(nil)

func (p *Pipeline) Name() string { return p.name }

// Descriptor returns the descriptor the pipeline was built from.
func (p *Pipeline) Descriptor() string { return p.descriptor }

func (p *Pipeline) HasSlot(slot string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.slots[slot]
	return ok
}

func (p *Pipeline) Configure(slot, property string, value any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	factory, ok := p.slots[slot]
	if !ok {
		return false
	}
	for _, name := range Properties[factory] {
		if name == property {
			if p.props[slot] == nil {
				p.props[slot] = make(map[string]any)
			}
			p.props[slot][property] = value
			return true
		}
	}
	return false
}

// Property returns a property injected into slot.
func (p *Pipeline) Property(slot, property string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.props[slot][property]
	return v, ok
}

func (p *Pipeline) SetState(state engine.State) error {
	if fs := p.eng.FailState; fs != nil && *fs == state {
		return p.eng.StateErr
	}

	p.mu.Lock()
	p.state = state
	p.states = append(p.states, state)
	p.mu.Unlock()

	if state == engine.StatePlaying && p.eng.OnPlay != nil {
		p.eng.OnPlay(p)
	}
	return nil
}

func (p *Pipeline) CurrentState() engine.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// States returns every state requested, in order.
func (p *Pipeline) States() []engine.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]engine.State(nil), p.states...)
}

func (p *Pipeline) SendEOS() bool {
	p.mu.Lock()
	p.eosSent++
	p.mu.Unlock()

	if !p.eng.SwallowEOS {
		p.Post(engine.Event{Type: engine.EventEOS, Source: p.name})
	}
	return true
}

// EOSCount returns how many times SendEOS was called.
func (p *Pipeline) EOSCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eosSent
}

func (p *Pipeline) Pop(timeout time.Duration) (engine.Event, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-p.events:
		return ev, true
	case <-timer.C:
		return engine.Event{}, false
	}
}

func (p *Pipeline) Caps(slot string) (engine.Caps, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.slots[slot]; !ok || p.state != engine.StatePlaying {
		return engine.Caps{}, false
	}
	if p.eng.Caps == (engine.Caps{}) {
		return engine.Caps{}, false
	}
	return p.eng.Caps, true
}

func (p *Pipeline) OnFrame(slot string, fn func(engine.Frame)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.slots[slot]; !ok {
		return fmt.Errorf("enginetest: %s: %w", slot, engine.ErrNoSlot)
	}
	p.frameFns[slot] = fn
	return nil
}

func (p *Pipeline) DumpGraph(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dumps = append(p.dumps, name)
}

// Dumps returns the names passed to DumpGraph.
func (p *Pipeline) Dumps() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.dumps...)
}

// Post queues ev on the bus.
func (p *Pipeline) Post(ev engine.Event) {
	p.events <- ev
}

// PostEOS queues an end-of-stream event.
func (p *Pipeline) PostEOS() {
	p.Post(engine.Event{Type: engine.EventEOS, Source: p.name})
}

// PostError queues an error event from slot.
func (p *Pipeline) PostError(slot, message string) {
	p.Post(engine.Event{
		Type:     engine.EventError,
		Source:   slot,
		Err:      errors.New(message),
		Category: engine.Classify(message, ""),
	})
}

// PostSegment queues an hlssink2 "hls-segment-added" message from video-sink.
func (p *Pipeline) PostSegment(location string, runningTime, duration time.Duration) {
	p.Post(engine.Event{
		Type:   engine.EventElement,
		Source: engine.SlotVideoSink,
		Name:   "hls-segment-added",
		Fields: map[string]any{
			"location":     location,
			"running-time": uint64(runningTime),
			"duration":     uint64(duration),
		},
	})
}

// Emit delivers frame to the callback installed on slot. It reports whether
// a callback was installed.
func (p *Pipeline) Emit(slot string, frame engine.Frame) bool {
	p.mu.Lock()
	fn := p.frameFns[slot]
	p.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(frame)
	return true
}
