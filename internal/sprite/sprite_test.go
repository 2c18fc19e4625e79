package sprite

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maka00/recorder/engine"
)

// solidFrame returns a w x h RGB frame filled with one color.
func solidFrame(seq uint64, w, h int, r, g, b byte) engine.Frame {
	data := make([]byte, w*h*3)
	for i := 0; i < len(data); i += 3 {
		data[i], data[i+1], data[i+2] = r, g, b
	}
	return engine.Frame{Seq: seq, Width: w, Height: h, Format: "RGB", Data: data}
}

func newGenerator(t *testing.T) (*Generator, string) {
	t.Helper()
	dir := t.TempDir()
	g, err := New(DefaultConfig(dir))
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g, dir
}

func decodeJPEG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	return img
}

func readCues(t *testing.T, dir string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, CueFile))
	require.NoError(t, err)
	return string(data)
}

func TestGenerator_FullBatchFlushesAutomatically(t *testing.T) {
	g, dir := newGenerator(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, g.HandleFrame(solidFrame(uint64(i), 320, 180, 200, 10, 10)))
	}
	assert.Equal(t, 5, g.Pending())
	assert.NoFileExists(t, filepath.Join(dir, "sprite_00000.jpg"))

	require.NoError(t, g.HandleFrame(solidFrame(5, 320, 180, 200, 10, 10)))
	assert.Equal(t, 0, g.Pending())
	assert.Equal(t, 1, g.Batches())

	sprite := decodeJPEG(t, filepath.Join(dir, "sprite_00000.jpg"))
	assert.Equal(t, 6*16, sprite.Bounds().Dx())
	assert.Equal(t, 90, sprite.Bounds().Dy())

	tips := decodeJPEG(t, filepath.Join(dir, "tooltips_00000.jpg"))
	assert.Equal(t, 6*320, tips.Bounds().Dx(), "tooltips keep full resolution")
	assert.Equal(t, 180, tips.Bounds().Dy())

	cues := readCues(t, dir)
	assert.True(t, strings.HasPrefix(cues, "WEBVTT\n\n"))
	assert.Equal(t, 6, strings.Count(cues, "-->"))
	assert.Contains(t, cues, "1\n00:00:00.000 --> 00:00:01.000\ntooltips_00000.jpg#xywh=0,0,320,180\n")
	assert.Contains(t, cues, "6\n00:00:05.000 --> 00:00:06.000\ntooltips_00000.jpg#xywh=1600,0,320,180\n")
}

func TestGenerator_PartialBatchPadsWithLastFrame(t *testing.T) {
	g, dir := newGenerator(t)

	require.NoError(t, g.HandleFrame(solidFrame(0, 160, 90, 0, 0, 255)))
	require.NoError(t, g.HandleFrame(solidFrame(1, 160, 90, 0, 255, 0)))
	require.NoError(t, g.Flush())
	assert.Equal(t, 0, g.Pending())

	tips := decodeJPEG(t, filepath.Join(dir, "tooltips_00000.jpg"))
	require.Equal(t, 6*160, tips.Bounds().Dx())

	// Every padded cell repeats the last (green) frame.
	for cell := 1; cell < 6; cell++ {
		r, gr, b, _ := tips.At(cell*160+80, 45).RGBA()
		assert.Greater(t, gr>>8, uint32(200), "cell %d green", cell)
		assert.Less(t, r>>8, uint32(60), "cell %d red", cell)
		assert.Less(t, b>>8, uint32(60), "cell %d blue", cell)
	}
	r, _, b, _ := tips.At(80, 45).RGBA()
	assert.Greater(t, b>>8, uint32(200))
	assert.Less(t, r>>8, uint32(60))

	sprite := decodeJPEG(t, filepath.Join(dir, "sprite_00000.jpg"))
	assert.Equal(t, 6*16, sprite.Bounds().Dx())

	assert.Equal(t, 6, strings.Count(readCues(t, dir), "-->"))
}

func TestGenerator_FlushWithoutFramesIsNoop(t *testing.T) {
	g, dir := newGenerator(t)

	require.NoError(t, g.Flush())
	assert.Equal(t, 0, g.Batches())
	assert.NoFileExists(t, filepath.Join(dir, CueFile))
}

func TestGenerator_HeaderWrittenOncePerSession(t *testing.T) {
	g, dir := newGenerator(t)

	for i := 0; i < 6; i++ {
		require.NoError(t, g.HandleFrame(solidFrame(uint64(i), 64, 48, 1, 2, 3)))
	}
	require.NoError(t, g.HandleFrame(solidFrame(6, 64, 48, 1, 2, 3)))
	require.NoError(t, g.Flush())

	cues := readCues(t, dir)
	assert.Equal(t, 1, strings.Count(cues, "WEBVTT"))
	assert.Equal(t, 12, strings.Count(cues, "-->"))
	assert.Contains(t, cues, "7\n00:00:06.000 --> 00:00:07.000\ntooltips_00001.jpg#xywh=0,0,64,48\n")
	assert.FileExists(t, filepath.Join(dir, "sprite_00001.jpg"))

	tips := decodeJPEG(t, filepath.Join(dir, "tooltips_00001.jpg"))
	assert.Equal(t, 6*64, tips.Bounds().Dx())
	assert.Equal(t, 48, tips.Bounds().Dy())
	assert.Equal(t, 90, decodeJPEG(t, filepath.Join(dir, "sprite_00001.jpg")).Bounds().Dy())
}

func TestGenerator_ResetStartsNewSession(t *testing.T) {
	g, dir := newGenerator(t)

	for i := 0; i < 6; i++ {
		require.NoError(t, g.HandleFrame(solidFrame(uint64(i), 64, 48, 1, 2, 3)))
	}
	require.NoError(t, g.HandleFrame(solidFrame(6, 64, 48, 1, 2, 3)))
	require.Equal(t, 1, g.Pending())

	g.Reset()
	assert.Equal(t, 0, g.Pending())
	assert.Equal(t, 0, g.Batches())

	// Files from the previous session are kept.
	assert.FileExists(t, filepath.Join(dir, "sprite_00000.jpg"))

	require.NoError(t, g.HandleFrame(solidFrame(0, 64, 48, 1, 2, 3)))
	require.NoError(t, g.Flush())

	cues := readCues(t, dir)
	assert.Equal(t, 1, strings.Count(cues, "WEBVTT"))
	assert.Equal(t, 6, strings.Count(cues, "-->"))
	assert.True(t, strings.HasPrefix(cues, "WEBVTT\n\n1\n00:00:00.000"))
}

func TestGenerator_ClosedRejectsFrames(t *testing.T) {
	g, _ := newGenerator(t)

	require.NoError(t, g.Close())
	assert.ErrorIs(t, g.HandleFrame(solidFrame(0, 8, 8, 0, 0, 0)), ErrClosed)
	assert.ErrorIs(t, g.Flush(), ErrClosed)
}

func TestGenerator_ConcurrentFrames(t *testing.T) {
	g, dir := newGenerator(t)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 6; i++ {
				assert.NoError(t, g.HandleFrame(solidFrame(uint64(w*6+i), 32, 24, 9, 9, 9)))
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 4, g.Batches())
	assert.Equal(t, 0, g.Pending())
	assert.Equal(t, 24, strings.Count(readCues(t, dir), "-->"))
}

func TestNew_RequiresOutputDir(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestToRGBA(t *testing.T) {
	tests := []struct {
		name   string
		format string
		pixel  []byte
		want   color.RGBA
	}{
		{"RGB", "RGB", []byte{10, 20, 30}, color.RGBA{10, 20, 30, 255}},
		{"RGBA", "RGBA", []byte{10, 20, 30, 40}, color.RGBA{10, 20, 30, 40}},
		{"RGBx", "RGBx", []byte{10, 20, 30, 0}, color.RGBA{10, 20, 30, 255}},
		{"BGRx", "BGRx", []byte{30, 20, 10, 0}, color.RGBA{10, 20, 30, 255}},
		{"BGRA", "BGRA", []byte{30, 20, 10, 40}, color.RGBA{10, 20, 30, 40}},
		{"empty format defaults to RGB", "", []byte{10, 20, 30}, color.RGBA{10, 20, 30, 255}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var data []byte
			for i := 0; i < 4; i++ {
				data = append(data, tt.pixel...)
			}
			img, err := ToRGBA(engine.Frame{Width: 2, Height: 2, Format: tt.format, Data: data})
			require.NoError(t, err)
			assert.Equal(t, tt.want, img.RGBAAt(1, 1))
		})
	}
}

func TestToRGBA_PaddedRows(t *testing.T) {
	// 3x2 RGB rows padded to 12 bytes
	data := []byte{
		1, 1, 1, 2, 2, 2, 3, 3, 3, 0, 0, 0,
		4, 4, 4, 5, 5, 5, 6, 6, 6, 0, 0, 0,
	}
	img, err := ToRGBA(engine.Frame{Width: 3, Height: 2, Format: "RGB", Data: data})
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{4, 4, 4, 255}, img.RGBAAt(0, 1))
	assert.Equal(t, color.RGBA{6, 6, 6, 255}, img.RGBAAt(2, 1))
}

func TestToRGBA_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		frame engine.Frame
	}{
		{"unsupported format", engine.Frame{Width: 1, Height: 1, Format: "NV12", Data: []byte{0, 0}}},
		{"zero size", engine.Frame{Width: 0, Height: 1, Format: "RGB"}},
		{"short buffer", engine.Frame{Width: 2, Height: 2, Format: "RGB", Data: make([]byte, 6)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ToRGBA(tt.frame)
			assert.Error(t, err)
		})
	}
}

func TestCue_String(t *testing.T) {
	c := Cue{
		Index:      3,
		Start:      61*time.Minute + 2*time.Second + 5*time.Millisecond,
		End:        61*time.Minute + 3*time.Second,
		SpriteFile: "tooltips_00002.jpg",
		Crop:       image.Rect(320, 0, 480, 90),
	}
	assert.Equal(t, "3\n01:01:02.005 --> 01:01:03.000\ntooltips_00002.jpg#xywh=320,0,160,90", c.String())
}
