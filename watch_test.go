package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIsManifestChange(t *testing.T) {
	t.Parallel()

	path := "/srv/manifests/app.json"

	assert.True(t, isManifestChange(fsnotify.Event{Name: path, Op: fsnotify.Write}, path))
	assert.True(t, isManifestChange(fsnotify.Event{Name: path, Op: fsnotify.Create}, path))
	assert.False(t, isManifestChange(fsnotify.Event{Name: path, Op: fsnotify.Remove}, path))
	assert.False(t, isManifestChange(fsnotify.Event{Name: path, Op: fsnotify.Chmod}, path))
	assert.False(t, isManifestChange(fsnotify.Event{Name: "/srv/manifests/other.json", Op: fsnotify.Write}, path))
}

func TestWatchLoop_DebouncesBurst(t *testing.T) {
	t.Parallel()

	path := "/srv/manifests/app.json"
	events := make(chan fsnotify.Event)
	errs := make(chan error)

	var runs atomic.Int32
	ran := make(chan struct{}, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- watchLoop(ctx, events, errs, path, 100*time.Millisecond, discardLogger(), func(context.Context) error {
			runs.Add(1)
			ran <- struct{}{}
			return nil
		})
	}()

	for range 5 {
		events <- fsnotify.Event{Name: path, Op: fsnotify.Write}
	}

	events <- fsnotify.Event{Name: "/srv/manifests/unrelated", Op: fsnotify.Write}

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("debounced run never happened")
	}

	// Nothing else should fire without further events.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())

	cancel()
	require.NoError(t, <-done)
}

func TestWatchLoop_RunErrorKeepsWatching(t *testing.T) {
	t.Parallel()

	path := "/srv/manifests/app.json"
	events := make(chan fsnotify.Event)
	errs := make(chan error)
	ran := make(chan struct{}, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- watchLoop(ctx, events, errs, path, 10*time.Millisecond, discardLogger(), func(context.Context) error {
			ran <- struct{}{}
			return errors.New("boom")
		})
	}()

	for range 2 {
		events <- fsnotify.Event{Name: path, Op: fsnotify.Create}

		select {
		case <-ran:
		case <-time.After(5 * time.Second):
			t.Fatal("run did not happen")
		}
	}

	cancel()
	require.NoError(t, <-done)
}

func TestWatchLoop_ClosedEventsReturns(t *testing.T) {
	t.Parallel()

	events := make(chan fsnotify.Event)
	close(events)

	err := watchLoop(context.Background(), events, make(chan error), "/m.json", time.Second,
		discardLogger(), func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestWatchManifest_RunsOnStartAndOnRewrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "app.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

	ran := make(chan struct{}, 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- watchManifest(ctx, path, 20*time.Millisecond, discardLogger(), func(context.Context) error {
			ran <- struct{}{}
			return nil
		})
	}()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("initial run never happened")
	}

	require.NoError(t, os.WriteFile(path, []byte(`{"files":[]}`), 0o600))

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("rewrite did not trigger a run")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestWatchManifest_MissingDirectory(t *testing.T) {
	t.Parallel()

	err := watchManifest(context.Background(), filepath.Join(t.TempDir(), "nope", "app.json"),
		time.Second, discardLogger(), func(context.Context) error { return nil })
	require.Error(t, err)
}

func TestSleepCtx_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}
