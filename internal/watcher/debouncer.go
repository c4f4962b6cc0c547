package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces rapid changes to the same binary so a single copy or
// rebuild triggers one re-check, not one per write. Events for the same
// path within the window are merged:
//   - CHANGED + CHANGED = CHANGED (keep latest)
//   - CHANGED + REMOVED = REMOVED
//   - REMOVED + CHANGED = CHANGED (file was replaced)
type Debouncer struct {
	window  time.Duration
	pending map[string]Event
	mu      sync.Mutex
	output  chan []Event
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer with the given window duration.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]Event),
		output:  make(chan []Event, 10),
	}
}

// Add adds an event to be debounced. The latest operation for a path wins;
// the merge rules above need no first-operation memory because a binary
// that exists again after a remove simply needs re-checking.
func (d *Debouncer) Add(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.pending[event.Path] = event
	d.scheduleFlush()
}

// scheduleFlush schedules a flush after the debounce window, restarting
// the clock on every new event.
func (d *Debouncer) scheduleFlush() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush emits all pending events as one batch.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	events := make([]Event, 0, len(d.pending))
	for _, ev := range d.pending {
		events = append(events, ev)
	}
	d.pending = make(map[string]Event)

	select {
	case d.output <- events:
	default:
		slog.Warn("debouncer output full, dropping batch",
			slog.Int("batch_size", len(events)))
	}
}

// Output returns the channel of debounced event batches.
func (d *Debouncer) Output() <-chan []Event {
	return d.output
}

// Stop stops the debouncer and closes the output channel.
// Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
