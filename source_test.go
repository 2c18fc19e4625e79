package recorder

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maka00/recorder/engine"
	"github.com/maka00/recorder/engine/enginetest"
)

func TestVideoSourceService_StartStop(t *testing.T) {
	f := newFixture(t)
	s := f.sourceService()
	ctx := context.Background()

	info, err := s.Start(ctx, "video0")
	require.NoError(t, err)

	assert.Equal(t, VideoSourceInfo{
		Device:     "video0",
		Width:      640,
		Height:     480,
		Format:     "I420",
		SocketPath: filepath.Join(f.socketDir, "video0.sock"),
	}, info)
	assert.True(t, s.InUse("video0"))

	p := f.eng.Find("v4l2src")
	require.NotNil(t, p)
	socket, _ := p.Property(engine.SlotVideoSink, "socket-path")
	assert.Equal(t, info.SocketPath, socket)
	device, _ := p.Property(engine.SlotVideoSource, "device")
	assert.Equal(t, filepath.Join(f.deviceDir, "video0"), device)

	got, ok := s.Info("video0")
	require.True(t, ok)
	assert.Equal(t, info, got)

	require.NoError(t, s.Stop(ctx, "video0"))
	assert.False(t, s.InUse("video0"))
	assert.Equal(t, 1, p.EOSCount())
	assert.Equal(t, engine.StateNull, lastState(p))
}

func TestVideoSourceService_SecondStartFails(t *testing.T) {
	f := newFixture(t)
	s := f.sourceService()
	ctx := context.Background()

	_, err := s.Start(ctx, "video0")
	require.NoError(t, err)
	t.Cleanup(func() { s.Stop(ctx, "video0") })

	_, err = s.Start(ctx, "video0")
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Equal(t, 1, f.eng.Builds(), "no second pipeline is built")
}

func TestVideoSourceService_ConcurrentStart(t *testing.T) {
	f := newFixture(t)
	s := f.sourceService()
	ctx := context.Background()
	t.Cleanup(func() { s.Stop(ctx, "video0") })

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Start(ctx, "video0")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrAlreadyStarted)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
}

func TestVideoSourceService_StartFailures(t *testing.T) {
	playing := engine.StatePlaying

	tests := []struct {
		name    string
		device  string
		setup   func(e *enginetest.Engine)
		wantErr error
		built   bool
	}{
		{
			name:    "unknown device",
			device:  "video9",
			wantErr: ErrUnknownDevice,
		},
		{
			name:    "parse error",
			device:  "video0",
			setup:   func(e *enginetest.Engine) { e.BuildErr = errors.New("no element v4l2src") },
			wantErr: ErrParse,
		},
		{
			name:   "state change fails",
			device: "video0",
			setup: func(e *enginetest.Engine) {
				e.FailState = &playing
				e.StateErr = errors.New("device busy")
			},
			wantErr: ErrEncoding,
			built:   true,
		},
		{
			name:    "caps never negotiated",
			device:  "video0",
			setup:   func(e *enginetest.Engine) { e.Caps = engine.Caps{} },
			wantErr: ErrEncoding,
			built:   true,
		},
		{
			name:   "bus error while negotiating",
			device: "video0",
			setup: func(e *enginetest.Engine) {
				e.Caps = engine.Caps{}
				e.OnPlay = func(p *enginetest.Pipeline) {
					p.PostError(engine.SlotVideoSource, "Cannot identify device '/dev/video0'")
				}
			},
			wantErr: ErrEncoding,
			built:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f.eng)
			}
			s := f.sourceService()

			_, err := s.Start(context.Background(), tt.device)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, s.InUse(tt.device), "device must stay unclaimed")

			if !tt.built {
				return
			}
			p := f.eng.Find("v4l2src")
			require.NotNil(t, p)
			assert.Equal(t, engine.StateNull, lastState(p), "pipeline torn down")
		})
	}
}

func TestVideoSourceService_StopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	s := f.sourceService()
	ctx := context.Background()

	assert.NoError(t, s.Stop(ctx, "video0"), "never started")
	assert.NoError(t, s.Stop(ctx, "nope"))

	_, err := s.Start(ctx, "video0")
	require.NoError(t, err)
	require.NoError(t, s.Stop(ctx, "video0"))
	assert.NoError(t, s.Stop(ctx, "video0"))

	// The device can be claimed again.
	_, err = s.Start(ctx, "video0")
	require.NoError(t, err)
	require.NoError(t, s.Stop(ctx, "video0"))
	assert.Equal(t, 2, f.eng.Builds())
}

func TestVideoSourceService_StopWithoutEOS(t *testing.T) {
	f := newFixture(t)
	f.eng.SwallowEOS = true
	s := f.sourceService()
	ctx := context.Background()

	_, err := s.Start(ctx, "video0")
	require.NoError(t, err)

	require.NoError(t, s.Stop(ctx, "video0"))
	assert.False(t, s.InUse("video0"))
	assert.Equal(t, engine.StateNull, lastState(f.eng.Find("v4l2src")))
}

func TestVideoSourceService_Scan(t *testing.T) {
	f := newFixture(t)
	s := f.sourceService()

	got, err := s.Scan()
	require.NoError(t, err)
	assert.Equal(t, []string{"video0"}, got)
	assert.Equal(t, filepath.Join(f.socketDir, "video1.sock"), s.SocketPath("video1"))
}

func TestVideoSourceService_StopReportsTeardownFailure(t *testing.T) {
	f := newFixture(t)
	null := engine.StateNull
	f.eng.FailState = &null
	f.eng.StateErr = errors.New("element refused state change")
	s := f.sourceService()
	ctx := context.Background()

	_, err := s.Start(ctx, "video0")
	require.NoError(t, err)

	err = s.Stop(ctx, "video0")
	assert.ErrorIs(t, err, ErrEncoding)
	assert.ErrorContains(t, err, "element refused state change")
	assert.False(t, s.InUse("video0"), "device released anyway")
	assert.NoError(t, s.Stop(ctx, "video0"))
}
