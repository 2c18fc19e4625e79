package gstreamer

import (
	"errors"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/maka00/recorder/engine"
)

// translateMessage converts a bus message into an engine.Event.
func translateMessage(msg *gst.Message) engine.Event {
	ev := engine.Event{Source: msg.Source()}

	switch msg.Type() {
	case gst.MessageEOS:
		ev.Type = engine.EventEOS

	case gst.MessageError:
		ev.Type = engine.EventError
		fillError(&ev, msg.ParseError())

	case gst.MessageWarning:
		ev.Type = engine.EventWarning
		fillError(&ev, msg.ParseWarning())

	case gst.MessageStateChanged:
		ev.Type = engine.EventStateChanged
		old, cur := msg.ParseStateChanged()
		ev.OldState = fromGstState(old)
		ev.NewState = fromGstState(cur)

	case gst.MessageElement:
		ev.Type = engine.EventElement
		if s := msg.GetStructure(); s != nil {
			ev.Name = s.Name()
			ev.Fields = s.Values()
		}

	default:
		ev.Type = engine.EventOther
	}

	return ev
}

func fillError(ev *engine.Event, gerr *gst.GError) {
	if gerr == nil {
		ev.Err = errors.New("unknown pipeline error")
		return
	}
	ev.Err = errors.New(gerr.Error())
	ev.Debug = gerr.DebugString()
	ev.Category = engine.Classify(gerr.Error(), gerr.DebugString())
}

// capsFromStructure extracts width, height and format from a video caps
// structure. Missing fields are left zero.
func capsFromStructure(s *gst.Structure) engine.Caps {
	if s == nil {
		return engine.Caps{}
	}
	caps := engine.Caps{Name: s.Name()}
	if v, err := s.GetValue("width"); err == nil {
		caps.Width = toInt(v)
	}
	if v, err := s.GetValue("height"); err == nil {
		caps.Height = toInt(v)
	}
	if v, err := s.GetValue("format"); err == nil {
		if f, ok := v.(string); ok {
			caps.Format = f
		}
	}
	return caps
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint:
		return int(n)
	case uint32:
		return int(n)
	case uint64:
		return int(n)
	default:
		return 0
	}
}
