// Package watcher observes directories for changing managed binaries so a
// check run can be repeated whenever deployed files change.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Operation classifies what happened to a binary.
type Operation int

const (
	// OpChanged indicates a binary was created or rewritten.
	OpChanged Operation = iota
	// OpRemoved indicates a binary was deleted or renamed away.
	OpRemoved
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpChanged:
		return "CHANGED"
	case OpRemoved:
		return "REMOVED"
	default:
		return "UNKNOWN"
	}
}

// Event is a debounced change to one candidate binary.
type Event struct {
	// Path is the binary's path.
	Path string

	// Operation is what happened to it.
	Operation Operation

	// Timestamp is when the change was last seen.
	Timestamp time.Time
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the time to wait before emitting coalesced
	// events. Default: 500ms, long enough to ride out a copy in progress.
	DebounceWindow time.Duration

	// EventBufferSize is the size of the error channel buffer.
	// Default: 256.
	EventBufferSize int
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	if o.DebounceWindow == 0 {
		o.DebounceWindow = 500 * time.Millisecond
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = 256
	}
	return o
}

// Watcher observes a set of directories recursively and emits debounced
// batches of candidate binary changes.
type Watcher struct {
	opts      Options
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	errs      chan error

	mu      sync.Mutex
	stopped bool
}

// New creates a Watcher with the given options.
func New(opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	opts = opts.WithDefaults()
	return &Watcher{
		opts:      opts,
		fsw:       fsw,
		debouncer: NewDebouncer(opts.DebounceWindow),
		errs:      make(chan error, opts.EventBufferSize),
	}, nil
}

// Start begins watching the given paths recursively. It returns after the
// watches are registered; events flow until the context is cancelled or
// Stop is called.
func (w *Watcher) Start(ctx context.Context, paths ...string) error {
	for _, path := range paths {
		if err := w.addRecursive(path); err != nil {
			return err
		}
	}

	go w.loop(ctx)
	return nil
}

// Batches returns the channel of debounced event batches.
func (w *Watcher) Batches() <-chan []Event {
	return w.debouncer.Output()
}

// Errors returns non-fatal watcher errors; the watcher keeps running.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Stop stops the watcher and releases resources. Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	err := w.fsw.Close()
	w.debouncer.Stop()
	close(w.errs)
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.reportError(err)
		}
	}
}

// reportError forwards a non-fatal error unless the watcher has stopped.
func (w *Watcher) reportError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	select {
	case w.errs <- err:
	default:
		slog.Warn("watcher error channel full", slog.Any("error", err))
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	// New directories must be watched too; fsnotify is not recursive.
	if ev.Op.Has(fsnotify.Create) {
		_ = w.addIfDir(ev.Name)
	}

	if !isCandidate(ev.Name) {
		return
	}

	now := time.Now()
	switch {
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		w.debouncer.Add(Event{Path: ev.Name, Operation: OpRemoved, Timestamp: now})
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		w.debouncer.Add(Event{Path: ev.Name, Operation: OpChanged, Timestamp: now})
	}
}

// addRecursive registers watches for path and every directory below it.
func (w *Watcher) addRecursive(path string) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(p)
		}
		return nil
	})
}

// addIfDir adds a watch if name is a directory, including anything already
// created inside it before the watch took effect.
func (w *Watcher) addIfDir(name string) error {
	return filepath.WalkDir(name, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		return w.fsw.Add(p)
	})
}

// isCandidate mirrors the scanner's notion of a checkable binary.
func isCandidate(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dll", ".exe":
		return true
	}
	return false
}
