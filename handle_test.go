package recorder

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maka00/recorder/engine"
	"github.com/maka00/recorder/engine/enginetest"
)

func TestPipelineHandle_Lifecycle(t *testing.T) {
	eng := enginetest.New(testCaps)
	h, err := newHandle(eng, "test", previewDescriptor)
	require.NoError(t, err)
	assert.Equal(t, HandleIdle, h.State())

	assert.ErrorIs(t, h.play(), ErrNotRunning, "cannot skip Prepared")

	require.NoError(t, h.prepare())
	assert.Equal(t, HandlePrepared, h.State())
	assert.ErrorIs(t, h.prepare(), ErrAlreadyStarted)

	require.NoError(t, h.play())
	assert.Equal(t, HandlePlaying, h.State())
	assert.ErrorIs(t, h.play(), ErrAlreadyStarted)
	assert.ErrorIs(t, h.prepare(), ErrAlreadyStarted)

	require.NoError(t, h.teardown())
	assert.Equal(t, HandleStopped, h.State())
	assert.ErrorIs(t, h.play(), ErrNotRunning, "no restart from Stopped")

	h.fail(errors.New("late"))
	assert.Equal(t, HandleStopped, h.State(), "Stopped is terminal")
	assert.NoError(t, h.Err())

	p := eng.Pipelines()[0]
	assert.Equal(t, []engine.State{engine.StateReady, engine.StatePlaying, engine.StateNull}, p.States())
}

func TestPipelineHandle_ErrorIsAbsorbing(t *testing.T) {
	eng := enginetest.New(testCaps)
	h, err := newHandle(eng, "test", previewDescriptor)
	require.NoError(t, err)
	require.NoError(t, h.prepare())

	cause := errors.New("device vanished")
	h.fail(cause)
	assert.Equal(t, HandleError, h.State())
	assert.ErrorIs(t, h.Err(), cause)
	assert.ErrorIs(t, h.play(), ErrNotRunning)

	h.fail(errors.New("second"))
	assert.ErrorIs(t, h.Err(), cause, "first cause is kept")

	require.NoError(t, h.teardown())
	assert.Equal(t, HandleError, h.State())
	require.NoError(t, h.teardown(), "teardown is idempotent")
	assert.Len(t, eng.Pipelines()[0].States(), 2)
}

func TestPipelineHandle_SetStateFailure(t *testing.T) {
	eng := enginetest.New(testCaps)
	playing := engine.StatePlaying
	eng.FailState = &playing
	eng.StateErr = errors.New("could not open device")

	h, err := newHandle(eng, "test", previewDescriptor)
	require.NoError(t, err)
	require.NoError(t, h.prepare())

	err = h.play()
	assert.ErrorIs(t, err, ErrEncoding)
	assert.ErrorContains(t, err, "could not open device")
	assert.Equal(t, HandleError, h.State())
}

func TestNewHandle_ParseError(t *testing.T) {
	eng := enginetest.New(testCaps)
	_, err := newHandle(eng, "test", "videotestsrc ! ! fakesink")
	assert.ErrorIs(t, err, ErrParse)
	assert.ErrorIs(t, err, enginetest.ErrMalformed)
}

func TestHandleState_String(t *testing.T) {
	assert.Equal(t, "idle", HandleIdle.String())
	assert.Equal(t, "prepared", HandlePrepared.String())
	assert.Equal(t, "playing", HandlePlaying.String())
	assert.Equal(t, "stopped", HandleStopped.String())
	assert.Equal(t, "error", HandleError.String())
}
