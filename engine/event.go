package engine

import (
	"fmt"
	"strconv"
)

// EventType identifies the kind of bus message.
type EventType int

const (
	EventOther EventType = iota
	EventEOS
	EventError
	EventWarning
	EventStateChanged
	EventElement
)

func (t EventType) String() string {
	switch t {
	case EventEOS:
		return "eos"
	case EventError:
		return "error"
	case EventWarning:
		return "warning"
	case EventStateChanged:
		return "state-changed"
	case EventElement:
		return "element"
	default:
		return "other"
	}
}

// Event is a bus message translated into engine-neutral form.
type Event struct {
	Type EventType
	// Source is the name of the element that posted the message.
	Source string
	// Name is the structure name for element messages.
	Name string
	// Fields carries the structure fields for element messages.
	Fields map[string]any

	// Err, Debug and Category are set for error and warning messages.
	Err      error
	Debug    string
	Category ErrorCategory

	// OldState and NewState are set for state-changed messages.
	OldState State
	NewState State
}

// Text returns the named field as a string.
func (e Event) Text(key string) (string, bool) {
	v, ok := e.Fields[key]
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case fmt.Stringer:
		return s.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

// Uint64 returns the named field as an unsigned integer.
func (e Event) Uint64(key string) (uint64, bool) {
	v, ok := e.Fields[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint:
		return uint64(n), true
	case string:
		u, err := strconv.ParseUint(n, 10, 64)
		return u, err == nil
	default:
		return 0, false
	}
}
