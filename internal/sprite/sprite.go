// Package sprite builds scrub-thumbnail sprite sheets and WebVTT cue files
// from the frames of a recording.
//
// Frames are collected in batches of Config.BatchSize. Each flushed batch
// produces two images in the output directory:
//
//	sprite_00000.jpg    centered vertical slices of every frame, side by side
//	tooltips_00000.jpg  every frame at full resolution, side by side
//
// and appends one cue per frame to thumbnails.vtt addressing that frame's
// region of the tooltip strip.
package sprite

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maka00/recorder/engine"
	"github.com/maka00/recorder/internal/metrics"
)

// File names written into Config.OutputDir.
const (
	SpritePattern  = "sprite_%05d.jpg"
	TooltipPattern = "tooltips_%05d.jpg"
	CueFile        = "thumbnails.vtt"
)

// ErrClosed is returned by HandleFrame and Flush after Close.
var ErrClosed = errors.New("sprite: generator closed")

// Config controls batch size and image geometry.
type Config struct {
	OutputDir   string
	BatchSize   int           // Frames per sprite sheet (default: 6)
	StripHeight int           // Height of the sprite strip (default: 90)
	SliceWidth  int           // Width of each sprite slice (default: 16)
	CueInterval time.Duration // Cue length per frame (default: 1s)
	JPEGQuality int           // 1-100 (default: 85)
}

// DefaultConfig returns the generator defaults for dir.
func DefaultConfig(dir string) Config {
	return Config{
		OutputDir:   dir,
		BatchSize:   6,
		StripHeight: 90,
		SliceWidth:  16,
		CueInterval: time.Second,
		JPEGQuality: 85,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.OutputDir)
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.StripHeight <= 0 {
		c.StripHeight = d.StripHeight
	}
	if c.SliceWidth <= 0 {
		c.SliceWidth = d.SliceWidth
	}
	if c.CueInterval <= 0 {
		c.CueInterval = d.CueInterval
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = d.JPEGQuality
	}
	return c
}

// Cue is one WebVTT cue pointing into a tooltip strip.
type Cue struct {
	Index      int
	Start      time.Duration
	End        time.Duration
	SpriteFile string
	Crop       image.Rectangle
}

// String renders the cue block without the trailing blank line.
func (c Cue) String() string {
	return fmt.Sprintf("%d\n%s --> %s\n%s#xywh=%d,%d,%d,%d",
		c.Index, vttTime(c.Start), vttTime(c.End), c.SpriteFile,
		c.Crop.Min.X, c.Crop.Min.Y, c.Crop.Dx(), c.Crop.Dy())
}

func vttTime(d time.Duration) string {
	ms := d.Milliseconds()
	return fmt.Sprintf("%02d:%02d:%02d.%03d",
		ms/3_600_000, (ms/60_000)%60, (ms/1000)%60, ms%1000)
}

// Generator accumulates frames and writes sprite batches.
//
// All methods are safe for concurrent use: the frame callback and the bus
// monitor share one generator.
type Generator struct {
	cfg Config

	mu       sync.Mutex
	batch    []*image.RGBA
	index    int // Next batch index
	cues     *os.File
	cueCount int
	closed   bool
}

// New returns a generator writing into cfg.OutputDir.
func New(cfg Config) (*Generator, error) {
	if cfg.OutputDir == "" {
		return nil, errors.New("sprite: output dir is required")
	}
	cfg = cfg.withDefaults()
	return &Generator{
		cfg:   cfg,
		batch: make([]*image.RGBA, 0, cfg.BatchSize),
	}, nil
}

// Config returns the effective configuration.
func (g *Generator) Config() Config { return g.cfg }

// HandleFrame copies f into the current batch and flushes when it is full.
func (g *Generator) HandleFrame(f engine.Frame) error {
	img, err := ToRGBA(f)
	if err != nil {
		return fmt.Errorf("sprite: frame %d: %w", f.Seq, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}
	g.batch = append(g.batch, img)
	if len(g.batch) < g.cfg.BatchSize {
		return nil
	}
	return g.flushLocked()
}

// Flush writes the pending partial batch, padded with its last frame.
// It is a no-op when no frames are pending.
func (g *Generator) Flush() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}
	return g.flushLocked()
}

// Reset drops pending frames, restarts batch numbering and closes the cue
// file. Files already written are kept.
func (g *Generator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.batch = g.batch[:0]
	g.index = 0
	g.cueCount = 0
	if err := g.closeCuesLocked(); err != nil {
		slog.Warn("sprite: reset", "error", err)
	}
	g.closed = false
}

// Close releases the cue file. Pending frames are discarded.
func (g *Generator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.batch = g.batch[:0]
	g.closed = true
	return g.closeCuesLocked()
}

// Pending returns the number of frames in the current batch.
func (g *Generator) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.batch)
}

// Batches returns how many batches were written since the last Reset.
func (g *Generator) Batches() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.index
}

func (g *Generator) flushLocked() (err error) {
	if len(g.batch) == 0 {
		return nil
	}
	pending := len(g.batch)
	defer func() {
		// A failed batch is dropped so the next one starts empty.
		g.batch = g.batch[:0]
		metrics.SpriteBatches.WithLabelValues(metrics.Result(err)).Inc()
	}()

	n := g.cfg.BatchSize
	frames := append([]*image.RGBA(nil), g.batch...)
	for len(frames) < n {
		frames = append(frames, frames[len(frames)-1])
	}

	h := g.cfg.StripHeight
	slices := make([]*image.RGBA, n)
	for i, f := range frames {
		slices[i] = centerSlice(f, g.cfg.SliceWidth, h)
	}

	// Tooltip cells are full resolution, sized by the first frame.
	first := frames[0].Bounds()
	cellW, cellH := first.Dx(), first.Dy()

	spriteName := fmt.Sprintf(SpritePattern, g.index)
	tooltipName := fmt.Sprintf(TooltipPattern, g.index)

	if err := writeJPEG(filepath.Join(g.cfg.OutputDir, spriteName), hconcat(slices, g.cfg.SliceWidth, h), g.cfg.JPEGQuality); err != nil {
		return fmt.Errorf("sprite: batch %d: %w", g.index, err)
	}
	if err := writeJPEG(filepath.Join(g.cfg.OutputDir, tooltipName), hconcat(frames, cellW, cellH), g.cfg.JPEGQuality); err != nil {
		return fmt.Errorf("sprite: batch %d: %w", g.index, err)
	}

	cues := make([]Cue, n)
	for i := range cues {
		slot := g.index*n + i
		cues[i] = Cue{
			Index:      g.cueCount + i + 1,
			Start:      time.Duration(slot) * g.cfg.CueInterval,
			End:        time.Duration(slot+1) * g.cfg.CueInterval,
			SpriteFile: tooltipName,
			Crop:       image.Rect(i*cellW, 0, (i+1)*cellW, cellH),
		}
	}
	if err := g.appendCuesLocked(cues); err != nil {
		return fmt.Errorf("sprite: batch %d: %w", g.index, err)
	}

	slog.Debug("sprite: batch written",
		"batch", g.index,
		"frames", pending,
		"sprite", spriteName,
		"tooltips", tooltipName,
	)

	g.cueCount += n
	g.index++
	return nil
}

func (g *Generator) appendCuesLocked(cues []Cue) error {
	if g.cues == nil {
		f, err := os.Create(filepath.Join(g.cfg.OutputDir, CueFile))
		if err != nil {
			return fmt.Errorf("create cue file: %w", err)
		}
		if _, err := f.WriteString("WEBVTT\n\n"); err != nil {
			f.Close()
			return fmt.Errorf("write cue header: %w", err)
		}
		g.cues = f
	}

	w := bufio.NewWriter(g.cues)
	for _, c := range cues {
		fmt.Fprintf(w, "%s\n\n", c)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write cues: %w", err)
	}
	return nil
}

func (g *Generator) closeCuesLocked() error {
	if g.cues == nil {
		return nil
	}
	err := g.cues.Close()
	g.cues = nil
	if err != nil {
		return fmt.Errorf("sprite: close cue file: %w", err)
	}
	return nil
}
