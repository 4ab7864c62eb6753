// Package apply executes a files.UpdateOperations plan against a directory.
package apply

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"time"

	"github.com/tonimelisma/treesync/internal/files"
	"github.com/tonimelisma/treesync/internal/scan"
)

// Sentinel errors for plan execution.
var (
	ErrHashMismatch     = errors.New("apply: content hash mismatch")
	ErrUnexpectedKind   = errors.New("apply: unexpected entry kind on disk")
	ErrDirNotEmpty      = errors.New("apply: directory not empty")
	ErrSymlinkAncestor  = errors.New("apply: path crosses a symlink")
	ErrNothingToExecute = errors.New("apply: plan is nil")
)

// dirPerm and the file modes written for downloads.
const (
	dirPerm        = 0o755
	filePerm       = 0o644
	executablePerm = 0o755
	partialSuffix  = ".partial"
)

// Download orders accepted by Options.Order.
const (
	OrderDefault  = "default"
	OrderSizeAsc  = "size_asc"
	OrderSizeDesc = "size_desc"
	OrderNameAsc  = "name_asc"
	OrderNameDesc = "name_desc"
)

// Options tunes an Executor.
type Options struct {
	// Workers bounds concurrent downloads. Zero means GOMAXPROCS.
	Workers int

	// Verify checks each downloaded file against its content hash and size
	// before it replaces the target.
	Verify bool

	// Limiter caps aggregate download bandwidth. Nil means unlimited.
	Limiter *BandwidthLimiter

	// Order sorts downloads before dispatch (see the Order constants).
	Order string

	// DiskNames maps scanned paths to their on-disk spelling when that is
	// not NFC. Without it, entries scanned from NFD names are never found.
	DiskNames scan.DiskNames
}

// Report summarizes an execution.
type Report struct {
	Deleted         int
	RemovedDirs     int
	CreatedDirs     int
	Downloaded      int
	BytesDownloaded int64
	Linked          int
	ModeFixed       int
	Duration        time.Duration
}

// Total returns the number of operations performed.
func (r *Report) Total() int {
	return r.Deleted + r.RemovedDirs + r.CreatedDirs + r.Downloaded + r.Linked + r.ModeFixed
}

// Executor applies plans to the tree rooted at root.
type Executor struct {
	root    string
	fetcher Fetcher
	opts    Options
	logger  *slog.Logger
}

// NewExecutor creates an Executor. A nil logger discards output.
func NewExecutor(root string, fetcher Fetcher, opts Options, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}

	return &Executor{root: root, fetcher: fetcher, opts: opts, logger: logger}
}

// Execute applies ops. Removals run before creations so a location can
// change kind: deletes, rmdirs (deepest-first), mkdirs (parent-first),
// downloads (parallel), mklinks, then executable fixes. The first failure
// stops execution; the report covers what was done up to that point.
func (e *Executor) Execute(ctx context.Context, ops *files.UpdateOperations) (*Report, error) {
	if ops == nil {
		return nil, ErrNothingToExecute
	}

	if !ops.Valid() {
		return nil, fmt.Errorf("apply: refusing invalid plan: %w", ops.Err())
	}

	start := time.Now()
	report := &Report{}

	e.logger.Info("apply: executing plan",
		slog.String("root", e.root),
		slog.Int("actions", ops.TotalActions()),
		slog.Int64("download_bytes", ops.DownloadBytes()),
	)

	if err := os.MkdirAll(e.root, dirPerm); err != nil {
		return report, fmt.Errorf("apply: creating root: %w", err)
	}

	steps := []struct {
		name string
		run  func(context.Context, *files.UpdateOperations, *Report) error
	}{
		{"delete", e.deleteAll},
		{"rmdir", e.rmdirAll},
		{"mkdir", e.mkdirAll},
		{"download", e.downloadAll},
		{"mklink", e.mklinkAll},
		{"chmod", e.fixModes},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(start)
			return report, err
		}

		if err := step.run(ctx, ops, report); err != nil {
			report.Duration = time.Since(start)
			e.logger.Error("apply: step failed",
				slog.String("step", step.name),
				slog.String("error", err.Error()),
			)

			return report, err
		}
	}

	report.Duration = time.Since(start)

	e.logger.Info("apply: plan executed",
		slog.Int("deleted", report.Deleted),
		slog.Int("removed_dirs", report.RemovedDirs),
		slog.Int("created_dirs", report.CreatedDirs),
		slog.Int("downloaded", report.Downloaded),
		slog.Int64("bytes", report.BytesDownloaded),
		slog.Int("linked", report.Linked),
		slog.Int("mode_fixed", report.ModeFixed),
		slog.Duration("duration", report.Duration),
	)

	return report, nil
}

// abs maps a tree path to its location on disk.
func (e *Executor) abs(p files.Path) string {
	return filepath.Join(e.root, filepath.FromSlash(e.opts.DiskNames.Resolve(p)))
}

// checkAncestors refuses paths whose parent chain crosses a symlink, which
// would let a write land outside the root.
func (e *Executor) checkAncestors(p files.Path) error {
	for parent, ok := p.Parent(); ok; parent, ok = parent.Parent() {
		info, err := os.Lstat(e.abs(parent))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}

			return fmt.Errorf("apply: stat %s: %w", parent, err)
		}

		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s (via %s)", ErrSymlinkAncestor, p, parent)
		}
	}

	return nil
}

func (e *Executor) mkdirAll(ctx context.Context, ops *files.UpdateOperations, report *Report) error {
	for _, p := range ops.Mkdirs {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := e.checkAncestors(p); err != nil {
			return err
		}

		abs := e.abs(p)

		err := os.Mkdir(abs, dirPerm)
		if err != nil {
			if !errors.Is(err, os.ErrExist) {
				return fmt.Errorf("apply: creating directory %s: %w", p, err)
			}

			info, statErr := os.Lstat(abs)
			if statErr != nil {
				return fmt.Errorf("apply: stat %s: %w", p, statErr)
			}

			if !info.IsDir() {
				return fmt.Errorf("%w: %s exists and is not a directory", ErrUnexpectedKind, p)
			}

			continue
		}

		e.logger.Debug("apply: created directory", slog.String("path", p.String()))
		report.CreatedDirs++
	}

	return nil
}

func (e *Executor) mklinkAll(ctx context.Context, ops *files.UpdateOperations, report *Report) error {
	for _, l := range ops.Mklinks {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := e.checkAncestors(l.Path); err != nil {
			return err
		}

		abs := e.abs(l.Path)

		info, err := os.Lstat(abs)
		switch {
		case err == nil && info.IsDir():
			return fmt.Errorf("%w: %s is a directory, cannot replace with a link", ErrUnexpectedKind, l.Path)
		case err == nil:
			if rmErr := os.Remove(abs); rmErr != nil {
				return fmt.Errorf("apply: replacing %s: %w", l.Path, rmErr)
			}
		case !errors.Is(err, os.ErrNotExist):
			return fmt.Errorf("apply: stat %s: %w", l.Path, err)
		}

		if err := os.Symlink(filepath.FromSlash(l.Target), abs); err != nil {
			return fmt.Errorf("apply: linking %s: %w", l.Path, err)
		}

		e.logger.Debug("apply: created symlink",
			slog.String("path", l.Path.String()),
			slog.String("target", l.Target),
		)
		report.Linked++
	}

	return nil
}

func (e *Executor) fixModes(ctx context.Context, ops *files.UpdateOperations, report *Report) error {
	for _, fix := range ops.ExecutableFixes {
		if err := ctx.Err(); err != nil {
			return err
		}

		abs := e.abs(fix.Path)

		info, err := os.Lstat(abs)
		if err != nil {
			return fmt.Errorf("apply: stat %s: %w", fix.Path, err)
		}

		if !info.Mode().IsRegular() {
			return fmt.Errorf("%w: %s is not a regular file", ErrUnexpectedKind, fix.Path)
		}

		perm := info.Mode().Perm()
		if fix.Executable {
			perm |= 0o111
		} else {
			perm &^= 0o111
		}

		if err := os.Chmod(abs, perm); err != nil {
			return fmt.Errorf("apply: chmod %s: %w", fix.Path, err)
		}

		e.logger.Debug("apply: fixed mode",
			slog.String("path", fix.Path.String()),
			slog.Bool("executable", fix.Executable),
		)
		report.ModeFixed++
	}

	return nil
}

// sortDownloads returns the downloads in the configured dispatch order.
// Unknown orders keep plan order.
func sortDownloads(downloads []files.FileDownload, order string) []files.FileDownload {
	out := slices.Clone(downloads)

	switch order {
	case OrderSizeAsc:
		slices.SortStableFunc(out, func(a, b files.FileDownload) int { return cmp.Compare(a.Size, b.Size) })
	case OrderSizeDesc:
		slices.SortStableFunc(out, func(a, b files.FileDownload) int { return cmp.Compare(b.Size, a.Size) })
	case OrderNameAsc:
		slices.SortStableFunc(out, func(a, b files.FileDownload) int { return files.ComparePaths(a.Path, b.Path) })
	case OrderNameDesc:
		slices.SortStableFunc(out, func(a, b files.FileDownload) int { return files.ComparePaths(b.Path, a.Path) })
	}

	return out
}
