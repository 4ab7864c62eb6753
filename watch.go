package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher error backoff bounds.
const (
	watchErrInitBackoff = 1 * time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
)

// watchManifest runs fn once, then again every time the manifest file
// changes and has been quiet for debounce. Failures of fn are logged and
// watching continues. It returns nil when ctx is canceled.
//
// The parent directory is watched rather than the file itself so that
// publishers replacing the manifest by rename are picked up.
func watchManifest(
	ctx context.Context, path string, debounce time.Duration,
	logger *slog.Logger, fn func(context.Context) error,
) error {
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating manifest watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	logger.Info("watch: watching manifest",
		slog.String("manifest", path),
		slog.Duration("debounce", debounce),
	)

	runOnce(ctx, logger, fn)

	return watchLoop(ctx, watcher.Events, watcher.Errors, path, debounce, logger, fn)
}

// watchLoop debounces manifest events and invokes fn when the timer fires.
func watchLoop(
	ctx context.Context, events <-chan fsnotify.Event, errs <-chan error,
	path string, debounce time.Duration, logger *slog.Logger, fn func(context.Context) error,
) error {
	timer := time.NewTimer(debounce)
	timer.Stop() // idle until the first event
	defer timer.Stop()

	timerActive := false
	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}

			if !isManifestChange(ev, path) {
				continue
			}

			logger.Debug("watch: manifest event", slog.String("op", ev.Op.String()))

			if !timer.Stop() && timerActive {
				<-timer.C
			}

			timer.Reset(debounce)
			timerActive = true
			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-errs:
			if !ok {
				return nil
			}

			logger.Warn("watch: watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			if sleepErr := sleepCtx(ctx, errBackoff); sleepErr != nil {
				return nil
			}

			errBackoff = min(errBackoff*watchErrBackoffMult, watchErrMaxBackoff)

		case <-timer.C:
			timerActive = false
			runOnce(ctx, logger, fn)
		}
	}
}

// isManifestChange reports whether ev may have changed the manifest's
// content. Removal alone is ignored; the next create triggers the run.
func isManifestChange(ev fsnotify.Event, path string) bool {
	if filepath.Clean(ev.Name) != path {
		return false
	}

	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)
}

func runOnce(ctx context.Context, logger *slog.Logger, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}

		logger.Error("watch: apply failed", slog.String("error", err.Error()))
	}
}

// sleepCtx waits for d or until ctx is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
