package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectUntil(t *testing.T, w *Watcher, want string) Event {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case batch := <-w.Batches():
			for _, ev := range batch {
				if filepath.Base(ev.Path) == want {
					return ev
				}
			}
		case <-deadline:
			t.Fatalf("no event for %s", want)
		}
	}
}

func TestWatcher_ReportsChangedBinary(t *testing.T) {
	dir := t.TempDir()

	w, err := New(Options{DebounceWindow: 50 * time.Millisecond})
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.dll"), []byte("v1"), 0o644))

	ev := collectUntil(t, w, "app.dll")
	assert.Equal(t, OpChanged, ev.Operation)
}

func TestWatcher_IgnoresNonCandidates(t *testing.T) {
	dir := t.TempDir()

	w, err := New(Options{DebounceWindow: 50 * time.Millisecond})
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib.dll"), []byte("x"), 0o644))

	ev := collectUntil(t, w, "lib.dll")
	assert.Equal(t, "lib.dll", filepath.Base(ev.Path))
}

func TestWatcher_ReportsRemovedBinary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.dll")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	w, err := New(Options{DebounceWindow: 50 * time.Millisecond})
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, dir))

	require.NoError(t, os.Remove(path))

	ev := collectUntil(t, w, "gone.dll")
	assert.Equal(t, OpRemoved, ev.Operation)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, err := New(Options{})
	require.NoError(t, err)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}

func TestWatcher_StartMissingPathFails(t *testing.T) {
	w, err := New(Options{})
	require.NoError(t, err)
	defer w.Stop()

	err = w.Start(context.Background(), filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestOptionsWithDefaults(t *testing.T) {
	o := Options{}.WithDefaults()
	assert.Equal(t, 500*time.Millisecond, o.DebounceWindow)
	assert.Equal(t, 256, o.EventBufferSize)

	o = Options{DebounceWindow: time.Second, EventBufferSize: 1}.WithDefaults()
	assert.Equal(t, time.Second, o.DebounceWindow)
	assert.Equal(t, 1, o.EventBufferSize)
}
