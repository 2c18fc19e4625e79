package recorder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maka00/recorder/engine"
)

func TestCaptureController_FullSession(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, previewDescriptor)
	ctx := context.Background()

	devices, err := c.Scan()
	require.NoError(t, err)
	assert.Equal(t, []string{"video0"}, devices)

	info, err := c.Start(ctx, "video0")
	require.NoError(t, err)
	assert.Equal(t, 640, info.Width)

	st := c.Status()
	require.NotNil(t, st.Source)
	assert.Equal(t, "video0", st.Source.Device)
	assert.True(t, st.Preview)
	assert.Nil(t, st.Recording)

	rec, err := c.StartRecording(ctx)
	require.NoError(t, err)
	assert.Equal(t, "video0", rec.Device)
	require.NotNil(t, c.Status().Recording)
	assert.Equal(t, rec.ID, c.Status().Recording.ID)

	assert.ErrorIs(t, c.Stop(ctx, "video0"), ErrRecordingActive)
	assert.NotNil(t, c.Status().Source, "source keeps running")

	still, err := c.TakeStill(ctx, "video0", "snap")
	require.NoError(t, err)
	assert.Equal(t, 640, still.Width)
	assert.Equal(t, 480, still.Height)
	assert.FileExists(t, still.FilePath)

	require.NoError(t, c.StopRecording(ctx))
	assert.Nil(t, c.Status().Recording)
	assert.NotNil(t, c.Status().Source, "StopRecording leaves the source running")

	require.NoError(t, c.Stop(ctx, "video0"))
	assert.Equal(t, Status{}, c.Status())

	preview := f.eng.Find("webrtcsink")
	assert.Equal(t, engine.StateNull, lastState(preview))
	assert.Equal(t, engine.StateNull, lastState(f.eng.Find("v4l2src")))
}

func TestCaptureController_StartRecordingWithoutSource(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, "")

	_, err := c.StartRecording(context.Background())
	assert.ErrorIs(t, err, ErrEncoding)
	assert.Zero(t, f.eng.Builds(), "no pipeline is built")
}

func TestCaptureController_StartRecordingTwice(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, "")
	ctx := context.Background()

	_, err := c.Start(ctx, "video0")
	require.NoError(t, err)
	_, err = c.StartRecording(ctx)
	require.NoError(t, err)
	builds := f.eng.Builds()

	_, err = c.StartRecording(ctx)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Equal(t, builds, f.eng.Builds())

	require.NoError(t, c.StopRecording(ctx))
	assert.ErrorIs(t, c.StopRecording(ctx), ErrNotRunning)
	require.NoError(t, c.Stop(ctx, "video0"))
}

func TestCaptureController_PreviewFailureRollsBackSource(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, "unixfdsrc name=video-source ! ! webrtcsink")
	ctx := context.Background()

	_, err := c.Start(ctx, "video0")
	assert.ErrorIs(t, err, ErrParse)
	assert.False(t, c.source.InUse("video0"))
	assert.Nil(t, c.Status().Source)
	assert.Equal(t, engine.StateNull, lastState(f.eng.Find("v4l2src")))

	// The device can be started once the preview is fixed.
	c.cfg.PreviewDescriptor = ""
	_, err = c.Start(ctx, "video0")
	require.NoError(t, err)
	require.NoError(t, c.Stop(ctx, "video0"))
}

func TestCaptureController_TakeStillRequiresActiveSource(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, "")
	ctx := context.Background()

	_, err := c.TakeStill(ctx, "video0", "x")
	assert.ErrorIs(t, err, ErrEncoding)

	_, err = c.Start(ctx, "video0")
	require.NoError(t, err)
	t.Cleanup(func() { c.Stop(ctx, "video0") })

	_, err = c.TakeStill(ctx, "video1", "x")
	assert.ErrorIs(t, err, ErrEncoding)
}

func TestCaptureController_StartTwice(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, "")
	ctx := context.Background()

	_, err := c.Start(ctx, "video0")
	require.NoError(t, err)
	t.Cleanup(func() { c.Stop(ctx, "video0") })

	_, err = c.Start(ctx, "video0")
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestCaptureController_PreviewToggle(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, previewDescriptor)
	ctx := context.Background()

	assert.ErrorIs(t, c.StartPreview(ctx), ErrEncoding, "no source")

	_, err := c.Start(ctx, "video0")
	require.NoError(t, err)

	assert.ErrorIs(t, c.StartPreview(ctx), ErrAlreadyStarted)
	require.NoError(t, c.StopPreview(ctx))
	assert.False(t, c.Status().Preview)
	assert.ErrorIs(t, c.StopPreview(ctx), ErrNotRunning)
	require.NoError(t, c.StartPreview(ctx))
	assert.True(t, c.Status().Preview)

	require.NoError(t, c.Stop(ctx, "video0"))
	assert.False(t, c.Status().Preview)
}

func TestCaptureController_StopUnknownDevice(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, "")
	assert.NoError(t, c.Stop(context.Background(), "video7"))
}

func TestCaptureController_StopAfterRecordingFailed(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, "")
	ctx := context.Background()

	_, err := c.Start(ctx, "video0")
	require.NoError(t, err)
	_, err = c.StartRecording(ctx)
	require.NoError(t, err)

	rec := f.eng.Find("hlssink2")
	rec.PostError("x264enc0", "Internal data stream error")
	require.Eventually(t, func() bool { return c.Status().Recording == nil }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Stop(ctx, "video0"))
	assert.Equal(t, engine.StateNull, lastState(rec))
}
