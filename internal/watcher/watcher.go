// Package watcher observes a source tree and emits debounced batches of
// file events for incremental re-indexing. fsnotify provides the raw
// events; the debouncer coalesces editor save storms into single batches.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Op classifies a file event.
type Op int

const (
	// OpCreate indicates a new file appeared.
	OpCreate Op = iota
	// OpModify indicates an existing file changed.
	OpModify
	// OpDelete indicates a file was removed or renamed away.
	OpDelete
)

// String returns the event name.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is one debounced file change, with Path relative to the watch root.
type Event struct {
	Path string
	Op   Op
	Time time.Time
}

// Options configures the watcher.
type Options struct {
	// DebounceWindow is how long to coalesce events before emitting a
	// batch. Default 300ms.
	DebounceWindow time.Duration

	// Exclude lists path segments never watched (the data directory, VCS
	// internals).
	Exclude []string
}

// WithDefaults fills zero values.
func (o Options) WithDefaults() Options {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 300 * time.Millisecond
	}
	return o
}

// Watcher streams debounced event batches for one root directory.
type Watcher struct {
	fsw       *fsnotify.Watcher
	debouncer *debouncer
	root      string
	opts      Options
}

// New creates a Watcher. Call Run to start it.
func New(opts Options) (*Watcher, error) {
	opts = opts.WithDefaults()
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		fsw:       fsw,
		debouncer: newDebouncer(opts.DebounceWindow),
		opts:      opts,
	}, nil
}

// Batches returns the channel of debounced event batches. Closed when the
// watcher stops.
func (w *Watcher) Batches() <-chan []Event {
	return w.debouncer.output()
}

// Run watches root until the context is cancelled. New directories are
// added to the watch as they appear.
func (w *Watcher) Run(ctx context.Context, root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve watch root: %w", err)
	}
	w.root = absRoot

	if err := w.addRecursive(absRoot); err != nil {
		return fmt.Errorf("watch directories: %w", err)
	}
	slog.Info("watch_started", slog.String("root", absRoot))

	defer w.debouncer.stop()
	defer func() { _ = w.fsw.Close() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	relPath, err := filepath.Rel(w.root, ev.Name)
	if err != nil || relPath == "." {
		return
	}
	relPath = filepath.ToSlash(relPath)
	if w.excluded(relPath) {
		return
	}

	isDir := false
	if info, err := os.Stat(ev.Name); err == nil {
		isDir = info.IsDir()
	}

	var op Op
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
		if isDir {
			// Watch directories created after startup.
			_ = w.addRecursive(ev.Name)
			return
		}
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&fsnotify.Remove != 0, ev.Op&fsnotify.Rename != 0:
		op = OpDelete
	default:
		return // chmod and friends
	}

	if isDir {
		return
	}
	w.debouncer.add(Event{Path: relPath, Op: op, Time: time.Now()})
}

// addRecursive registers dir and every non-excluded subdirectory.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		relPath, relErr := filepath.Rel(w.root, path)
		if relErr == nil && relPath != "." && w.excluded(filepath.ToSlash(relPath)) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) excluded(relPath string) bool {
	for _, seg := range strings.Split(relPath, "/") {
		if seg == ".git" {
			return true
		}
		for _, pattern := range w.opts.Exclude {
			if seg == pattern {
				return true
			}
		}
	}
	return false
}
