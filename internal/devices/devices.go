// Package devices discovers video capture devices and watches for hotplug.
package devices

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/lo"
)

// Prefix of capture device node names.
const Prefix = "video"

// Scan returns the names of entries in dir starting with Prefix, sorted.
func Scan(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("devices: scan %s: %w", dir, err)
	}

	names := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		return e.Name(), strings.HasPrefix(e.Name(), Prefix)
	})
	sort.Strings(names)
	return names, nil
}

// EventKind tells whether a device appeared or disappeared.
type EventKind int

const (
	Added EventKind = iota
	Removed
)

func (k EventKind) String() string {
	if k == Added {
		return "added"
	}
	return "removed"
}

// Event reports a device node change.
type Event struct {
	Kind   EventKind
	Device string
}

// Watcher reports device nodes appearing in or leaving a directory.
type Watcher struct {
	dir string
	fsw *fsnotify.Watcher
}

// NewWatcher starts watching dir. Events are delivered by Run.
func NewWatcher(dir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("devices: new watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("devices: watch %s: %w", dir, err)
	}
	return &Watcher{dir: dir, fsw: fsw}, nil
}

// Run calls fn for every device event until ctx is done, then closes the
// watcher. fn runs on the caller's goroutine.
func (w *Watcher) Run(ctx context.Context, fn func(Event)) error {
	defer func() {
		_ = w.fsw.Close()
	}()
	slog.Debug("devices: watching", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return fmt.Errorf("devices: watcher channel closed")
			}
			name := filepath.Base(ev.Name)
			if !strings.HasPrefix(name, Prefix) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create):
				fn(Event{Kind: Added, Device: name})
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				fn(Event{Kind: Removed, Device: name})
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return fmt.Errorf("devices: watcher error channel closed")
			}
			slog.Warn("devices: watcher error", "error", err)
		}
	}
}
