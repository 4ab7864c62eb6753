package apply

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	gosync "sync"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/treesync/internal/files"
	"github.com/tonimelisma/treesync/internal/scan"
)

// downloadAll dispatches downloads through a bounded worker pool. The first
// failure cancels the remaining workers.
func (e *Executor) downloadAll(ctx context.Context, ops *files.UpdateOperations, report *Report) error {
	if len(ops.Downloads) == 0 {
		return nil
	}

	downloads := sortDownloads(ops.Downloads, e.opts.Order)

	e.logger.Info("apply: starting downloads",
		slog.Int("count", len(downloads)),
		slog.Int("workers", e.opts.Workers),
		slog.String("order", e.opts.Order),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)

	var mu gosync.Mutex

	for i := range downloads {
		d := &downloads[i]

		g.Go(func() error {
			n, err := e.download(gctx, d)
			if err != nil {
				return err
			}

			mu.Lock()
			report.Downloaded++
			report.BytesDownloaded += n
			mu.Unlock()

			return nil
		})
	}

	return g.Wait()
}

// download writes one file: fetch into <target>.partial while hashing,
// verify, set the mode, then atomically rename over the target.
func (e *Executor) download(ctx context.Context, d *files.FileDownload) (int64, error) {
	if err := e.checkAncestors(d.Path); err != nil {
		return 0, err
	}

	target := e.abs(d.Path)

	if info, err := os.Lstat(target); err == nil && info.IsDir() {
		return 0, fmt.Errorf("%w: %s is a directory, cannot replace with a file", ErrUnexpectedKind, d.Path)
	}

	partial := target + partialSuffix

	got, n, err := e.fetchToPartial(ctx, d, partial)
	if err != nil {
		os.Remove(partial)
		return 0, err
	}

	if e.opts.Verify && (got != d.Hash || (!d.IsEmpty() && d.Size > 0 && n != d.Size)) {
		os.Remove(partial)

		return 0, fmt.Errorf("%w: %s: got %s (%d bytes), want %s (%d bytes)",
			ErrHashMismatch, d.Path, got, n, d.Hash, d.Size)
	}

	mode := os.FileMode(filePerm)
	if d.Executable {
		mode = executablePerm
	}

	// Chmod explicitly: the create mode is filtered by the umask.
	if err := os.Chmod(partial, mode); err != nil {
		os.Remove(partial)
		return 0, fmt.Errorf("apply: chmod %s: %w", d.Path, err)
	}

	if err := os.Rename(partial, target); err != nil {
		os.Remove(partial)
		return 0, fmt.Errorf("apply: renaming partial to %s: %w", d.Path, err)
	}

	e.logger.Debug("apply: download complete",
		slog.String("path", d.Path.String()),
		slog.Int64("size", n),
		slog.String("compression", d.Source.Compression.String()),
	)

	return n, nil
}

// fetchToPartial streams the content into partial, hashing in the same
// pass. Empty content is created without calling the fetcher.
func (e *Executor) fetchToPartial(ctx context.Context, d *files.FileDownload, partial string) (files.Hash, int64, error) {
	f, err := os.OpenFile(partial, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return "", 0, fmt.Errorf("apply: creating partial file for %s: %w", d.Path, err)
	}

	// No defer f.Close(): both exit paths close explicitly.

	h := scan.NewHasher()

	var n int64

	if !d.IsEmpty() {
		if e.fetcher == nil {
			f.Close()
			return "", 0, fmt.Errorf("%w: no fetcher for %s", ErrSourceNotFound, d.Path)
		}

		w := e.opts.Limiter.WrapWriter(ctx, io.MultiWriter(f, h))

		n, err = e.fetcher.Fetch(ctx, d, w)
		if err != nil {
			f.Close()

			if errors.Is(err, context.Canceled) {
				return "", 0, err
			}

			return "", 0, fmt.Errorf("apply: fetching %s: %w", d.Path, err)
		}
	}

	if err := f.Close(); err != nil {
		return "", 0, fmt.Errorf("apply: closing partial file for %s: %w", d.Path, err)
	}

	return scan.SumHash(h), n, nil
}
