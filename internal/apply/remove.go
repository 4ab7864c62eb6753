package apply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tonimelisma/treesync/internal/files"
)

// deleteAll removes files and symlinks. Paths that are already gone count
// as done.
func (e *Executor) deleteAll(ctx context.Context, ops *files.UpdateOperations, report *Report) error {
	for _, p := range ops.Deletes {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := e.checkAncestors(p); err != nil {
			return err
		}

		abs := e.abs(p)

		info, err := os.Lstat(abs)
		if errors.Is(err, os.ErrNotExist) {
			e.logger.Debug("apply: delete: already absent", slog.String("path", p.String()))
			continue
		}

		if err != nil {
			return fmt.Errorf("apply: stat %s: %w", p, err)
		}

		if info.IsDir() {
			return fmt.Errorf("%w: %s is a directory, expected a file or link", ErrUnexpectedKind, p)
		}

		if err := os.Remove(abs); err != nil {
			return fmt.Errorf("apply: removing %s: %w", p, err)
		}

		e.logger.Debug("apply: deleted", slog.String("path", p.String()))
		report.Deleted++
	}

	return nil
}

// rmdirAll removes folders deepest-first. Leftover .partial files from an
// interrupted run are cleared first; any other content is an error, since
// it is not ours to remove.
func (e *Executor) rmdirAll(ctx context.Context, ops *files.UpdateOperations, report *Report) error {
	for _, p := range ops.Rmdirs {
		if err := ctx.Err(); err != nil {
			return err
		}

		removed, err := e.removeDir(p)
		if err != nil {
			return err
		}

		if removed {
			report.RemovedDirs++
		}
	}

	return nil
}

func (e *Executor) removeDir(p files.Path) (bool, error) {
	if err := e.checkAncestors(p); err != nil {
		return false, err
	}

	abs := e.abs(p)

	info, err := os.Lstat(abs)
	if errors.Is(err, os.ErrNotExist) {
		e.logger.Debug("apply: rmdir: already absent", slog.String("path", p.String()))
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("apply: stat %s: %w", p, err)
	}

	if !info.IsDir() {
		return false, fmt.Errorf("%w: %s is not a directory", ErrUnexpectedKind, p)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return false, fmt.Errorf("apply: reading directory %s: %w", p, err)
	}

	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), partialSuffix) {
			if err := os.Remove(filepath.Join(abs, entry.Name())); err != nil {
				return false, fmt.Errorf("apply: removing leftover %s: %w", entry.Name(), err)
			}

			continue
		}

		return false, fmt.Errorf("%w: %s contains %q", ErrDirNotEmpty, p, entry.Name())
	}

	if err := os.Remove(abs); err != nil {
		return false, fmt.Errorf("apply: removing directory %s: %w", p, err)
	}

	e.logger.Debug("apply: removed directory", slog.String("path", p.String()))

	return true, nil
}
