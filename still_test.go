package recorder

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maka00/recorder/engine"
	"github.com/maka00/recorder/engine/enginetest"
)

func TestStillCapture_Capture(t *testing.T) {
	f := newFixture(t)
	c := f.stillCapture()
	c.Attach("video0", filepath.Join(f.socketDir, "video0.sock"))

	info, err := c.Capture(context.Background(), "2024-05-01T10:00:00.000")
	require.NoError(t, err)

	want := filepath.Join(f.outputDir, "still-2024-05-01T10:00:00.000.jpg")
	assert.Equal(t, "video0", info.Device)
	assert.Equal(t, want, info.FilePath)
	assert.Equal(t, 640, info.Width)
	assert.FileExists(t, want)

	p := f.eng.Find("filesink")
	socket, _ := p.Property(engine.SlotVideoSource, "socket-path")
	assert.Equal(t, filepath.Join(f.socketDir, "video0.sock"), socket)
	assert.Equal(t, engine.StateNull, lastState(p), "always torn down")
}

func TestStillCapture_Failures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fixture)
		wantErr error
		built   bool
	}{
		{
			name: "bus error",
			setup: func(f *fixture) {
				f.eng.OnPlay = func(p *enginetest.Pipeline) {
					p.PostError("jpegenc0", "not-negotiated")
				}
			},
			wantErr: ErrEncoding,
			built:   true,
		},
		{
			name:    "no end of stream",
			setup:   func(f *fixture) { f.eng.OnPlay = nil },
			wantErr: ErrEncoding,
			built:   true,
		},
		{
			name:    "parse error",
			setup:   func(f *fixture) { f.eng.BuildErr = errors.New("no element jpegenc") },
			wantErr: ErrParse,
		},
		{
			name: "state change fails",
			setup: func(f *fixture) {
				ready := engine.StateReady
				f.eng.FailState = &ready
				f.eng.StateErr = errors.New("socket missing")
			},
			wantErr: ErrEncoding,
			built:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)
			c := f.stillCapture()
			c.Attach("video0", filepath.Join(f.socketDir, "video0.sock"))

			_, err := c.Capture(context.Background(), "x")
			assert.ErrorIs(t, err, tt.wantErr)

			if tt.built {
				p := f.eng.Find("filesink")
				require.NotNil(t, p)
				states := p.States()
				if len(states) > 0 {
					assert.Equal(t, engine.StateNull, states[len(states)-1])
				}
			}
		})
	}
}

func TestStillCapture_ContextCancelled(t *testing.T) {
	f := newFixture(t)
	f.eng.OnPlay = nil
	c := NewStillCapture(f.eng, StillConfig{Descriptor: stillDescriptor, OutputDir: f.outputDir, Timeout: time.Minute})
	c.Attach("video0", filepath.Join(f.socketDir, "video0.sock"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Capture(ctx, "x")
	assert.ErrorIs(t, err, ErrEncoding)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestStillCapture_NotAttached(t *testing.T) {
	f := newFixture(t)
	_, err := f.stillCapture().Capture(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEncoding)
	assert.Zero(t, f.eng.Builds())
}

func TestStillCapture_Path(t *testing.T) {
	c := NewStillCapture(nil, StillConfig{OutputDir: "/data", Prefix: "snap", Extension: "png"})
	assert.Equal(t, "/data/snap-front.png", c.Path("front"))
	assert.True(t, strings.HasSuffix(NewStillCapture(nil, StillConfig{OutputDir: "/d"}).Path("a"), "still-a.jpg"))
}
