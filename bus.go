package recorder

import (
	"log/slog"
	"time"

	"github.com/maka00/recorder/engine"
	"github.com/maka00/recorder/internal/metrics"
)

// busPollInterval bounds each bus read so monitors notice quit promptly.
const busPollInterval = 50 * time.Millisecond

// monitor is one bus monitoring goroutine. done is closed exactly once, when
// the goroutine exits.
type monitor struct {
	quit chan struct{}
	done chan struct{}
}

// watchBus spawns a goroutine popping events from h until handle returns true
// or stop is called.
//
// State changes of the pipeline itself and warnings are logged here; every
// event, including those, is passed on to handle.
func watchBus(h *PipelineHandle, handle func(engine.Event) bool) *monitor {
	m := &monitor{
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}

	go func() {
		defer close(m.done)
		for {
			select {
			case <-m.quit:
				slog.Debug(h.role+": bus monitor stopped", "pipeline", h.pipeline.Name())
				return
			default:
			}

			ev, ok := h.pipeline.Pop(busPollInterval)
			if !ok {
				continue
			}

			switch ev.Type {
			case engine.EventStateChanged:
				if ev.Source == h.pipeline.Name() {
					slog.Debug(h.role+": pipeline state changed", "from", ev.OldState, "to", ev.NewState)
				}
			case engine.EventWarning:
				slog.Warn(h.role+": pipeline warning", "source", ev.Source, "warning", ev.Err, "debug", ev.Debug)
			}

			if handle(ev) {
				return
			}
		}
	}()
	return m
}

// wait blocks until the monitor exits or timeout elapses. It reports whether
// the monitor exited.
func (m *monitor) wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-m.done:
		return true
	case <-timer.C:
		return false
	}
}

// stop asks the monitor to exit and waits for it. Must be called at most once.
func (m *monitor) stop() {
	close(m.quit)
	<-m.done
}

// logBusError records a pipeline error event.
func logBusError(role string, ev engine.Event) {
	metrics.PipelineErrors.WithLabelValues(role, ev.Category.String()).Inc()
	slog.Error(role+": pipeline error",
		"source", ev.Source,
		"error", ev.Err,
		"debug", ev.Debug,
		"category", ev.Category.String(),
	)
}
