// Package scan builds a files.Package from a directory on disk.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	gosync "sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/treesync/internal/files"
)

// ErrRootNotDirectory is returned when the scan root exists but is not a
// directory.
var ErrRootNotDirectory = errors.New("scanner: root is not a directory")

// Options tunes a Scanner.
type Options struct {
	// SkipFiles and SkipDirs are case-insensitive globs matched against
	// entry basenames.
	SkipFiles []string
	SkipDirs  []string

	// IgnoreMarker names a per-directory file in gitignore syntax whose
	// patterns exclude siblings. Empty disables the lookup.
	IgnoreMarker string

	// Checkers bounds concurrent file hashing. Zero means GOMAXPROCS.
	Checkers int

	// AllowMissingRoot makes a nonexistent root scan as an empty tree, which
	// is what a fresh install starts from.
	AllowMissingRoot bool

	// Keep lists paths that are recorded even when a skip pattern or an
	// ignore marker would hide them, typically every entry of the target
	// the scan is compared against. .partial files are never kept.
	Keep map[files.Path]bool
}

// Scanner walks a directory tree and records every folder, file, and
// symlink under it. Symlinks are recorded by target, never followed.
type Scanner struct {
	opts   Options
	filter *filter
	logger *slog.Logger
}

// NewScanner creates a Scanner. A nil logger discards output.
func NewScanner(opts Options, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if opts.Checkers <= 0 {
		opts.Checkers = runtime.GOMAXPROCS(0)
	}

	return &Scanner{
		opts:   opts,
		filter: newFilter(&opts, logger),
		logger: logger,
	}
}

// scanRun holds the state of one FromInspectedFolder call. The walk runs on
// the calling goroutine; file hashing fans out through the errgroup, so
// every package mutation goes through mu.
type scanRun struct {
	s    *Scanner
	root string
	g    *errgroup.Group

	mu  gosync.Mutex
	pkg *files.Package

	// names is only written by the walk goroutine.
	names DiskNames
}

// FromInspectedFolder scans root and returns its snapshot. The returned
// package has folders, files, and symlinks but no sources. It is nil
// whenever err is non-nil.
func (s *Scanner) FromInspectedFolder(ctx context.Context, root string) (*files.Package, error) {
	pkg, _, err := s.Inspect(ctx, root)
	return pkg, err
}

// Inspect is FromInspectedFolder that also returns the on-disk names of
// entries whose names are not NFC, for callers that go on to modify root.
func (s *Scanner) Inspect(ctx context.Context, root string) (*files.Package, DiskNames, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	s.logger.Info("scanner: starting scan", slog.String("root", root))

	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && s.opts.AllowMissingRoot {
			s.logger.Info("scanner: root does not exist, treating as empty", slog.String("root", root))
			return files.NewPackage(), DiskNames{}, nil
		}

		return nil, nil, fmt.Errorf("scanner: stat root: %w", err)
	}

	if !info.IsDir() {
		return nil, nil, fmt.Errorf("%w: %s", ErrRootNotDirectory, root)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Checkers)

	run := &scanRun{s: s, root: root, g: g, pkg: files.NewPackage(), names: DiskNames{}}

	walkErr := run.walkDir(gctx, "", "")

	// Always drain the hashers, even if the walk failed.
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("scanner: hashing: %w", err)
	}

	if walkErr != nil {
		return nil, nil, fmt.Errorf("scanner: walk failed: %w", walkErr)
	}

	if err := run.pkg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("scanner: %w", err)
	}

	s.logger.Info("scanner: scan complete",
		slog.String("root", root),
		slog.Int("folders", len(run.pkg.Folders)),
		slog.Int("files", len(run.pkg.Files)),
		slog.Int("symlinks", len(run.pkg.Symlinks)),
		slog.Int64("bytes", run.pkg.TotalSize()),
		slog.Int("non_nfc_names", len(run.names)),
	)

	return run.pkg, run.names, nil
}

// walkDir performs a depth-first traversal of one directory. fsRelPath uses
// on-disk names for I/O; relPath uses NFC-normalized names for the snapshot.
func (r *scanRun) walkDir(ctx context.Context, fsRelPath, relPath string) error {
	fullPath := filepath.Join(r.root, filepath.FromSlash(fsRelPath))

	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return fmt.Errorf("reading directory %q: %w", fullPath, err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := r.processEntry(ctx, fullPath, fsRelPath, relPath, entry); err != nil {
			return err
		}
	}

	return nil
}

// processEntry records a single directory entry.
func (r *scanRun) processEntry(
	ctx context.Context, dirPath, fsRelPath, relPath string, entry os.DirEntry,
) error {
	originalName := entry.Name()
	normalizedName := norm.NFC.String(originalName)

	fsEntryRelPath := joinRelPath(fsRelPath, originalName)

	p, err := files.NewPath(joinRelPath(relPath, normalizedName))
	if err != nil {
		r.s.logger.Warn("scanner: skipping entry with invalid name",
			slog.String("path", fsEntryRelPath),
			slog.String("error", err.Error()),
		)

		return nil
	}

	mode := entry.Type()

	if !r.s.filter.include(dirPath, normalizedName, p, mode.IsDir()) {
		return nil
	}

	if originalName != normalizedName {
		r.names[p] = fsEntryRelPath
	}

	switch {
	case mode.IsDir():
		r.addFolder(p)
		return r.walkDir(ctx, fsEntryRelPath, p.String())

	case mode&fs.ModeSymlink != 0:
		return r.processSymlink(dirPath, originalName, p)

	case mode.IsRegular():
		return r.processFile(ctx, filepath.Join(dirPath, originalName), p)

	default:
		r.s.logger.Warn("scanner: skipping unsupported file type",
			slog.String("path", p.String()),
			slog.String("mode", mode.String()),
		)

		return nil
	}
}

func (r *scanRun) processSymlink(dirPath, name string, p files.Path) error {
	target, err := os.Readlink(filepath.Join(dirPath, name))
	if err != nil {
		return fmt.Errorf("reading symlink %q: %w", p, err)
	}

	r.mu.Lock()
	r.pkg.AddLink(p, filepath.ToSlash(target))
	r.mu.Unlock()

	return nil
}

// processFile records a regular file. Empty files get EmptyHash without
// being opened; everything else is hashed on the errgroup.
func (r *scanRun) processFile(ctx context.Context, fullPath string, p files.Path) error {
	info, err := os.Lstat(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.s.logger.Debug("scanner: file vanished during scan", slog.String("path", p.String()))
			return nil
		}

		return fmt.Errorf("stat %q: %w", p, err)
	}

	executable := info.Mode().Perm()&0o111 != 0

	if info.Size() == 0 {
		r.addFile(p, files.File{Hash: files.EmptyHash, Executable: executable})
		return nil
	}

	r.g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}

		h, n, err := HashFile(fullPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				r.s.logger.Debug("scanner: file vanished before hashing", slog.String("path", p.String()))
				return nil
			}

			return fmt.Errorf("%s: %w", p, err)
		}

		if n == 0 {
			h = files.EmptyHash
		}

		r.addFile(p, files.File{Hash: h, Size: n, Executable: executable})

		return nil
	})

	return nil
}

func (r *scanRun) addFolder(p files.Path) {
	r.mu.Lock()
	r.pkg.AddFolder(p)
	r.mu.Unlock()
}

func (r *scanRun) addFile(p files.Path, f files.File) {
	r.mu.Lock()
	r.pkg.AddFile(p, f)
	r.mu.Unlock()

	r.s.logger.Debug("scanner: file recorded",
		slog.String("path", p.String()),
		slog.Int64("size", f.Size),
	)
}

// joinRelPath builds a relative path from a parent and child component.
// If parent is empty (root level), returns just the child.
func joinRelPath(parent, child string) string {
	if parent == "" {
		return child
	}

	return parent + "/" + child
}
