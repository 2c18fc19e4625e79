package recorder

import "errors"

// Sentinel errors. Operations wrap them with context; match with errors.Is.
var (
	// ErrParse is returned when a pipeline descriptor cannot be built.
	ErrParse = errors.New("recorder: pipeline parse failed")
	// ErrEncoding is returned when a pipeline fails to start, stream or finish.
	ErrEncoding = errors.New("recorder: encoding failed")
	// ErrNotRunning is returned when stopping something that is not playing.
	ErrNotRunning = errors.New("recorder: not running")
	// ErrAlreadyStarted is returned when starting something already playing.
	ErrAlreadyStarted = errors.New("recorder: already started")
	// ErrRecordingActive is returned when stopping a source that is still
	// being recorded.
	ErrRecordingActive = errors.New("recorder: recording active")
	// ErrUnknownDevice is returned for a device with no node in the device dir.
	ErrUnknownDevice = errors.New("recorder: unknown device")
)
