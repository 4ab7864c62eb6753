package files

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
)

// Resolver is a pure decision engine that compares two snapshots and
// produces the UpdateOperations turning the first into the second. It
// performs no I/O and holds no state besides its logger, so one Resolver can
// serve concurrent calls.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver creates a Resolver. A nil logger discards output.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Resolver{logger: logger}
}

// Resolve is NewResolver(nil).Resolve.
func Resolve(from, to *Package) *UpdateOperations {
	return NewResolver(nil).Resolve(from, to)
}

// Resolve computes the plan from -> to. If either snapshot is invalid the
// result is invalid and empty. Target files without a download source are
// listed in Missing and make the result invalid; everything else is still
// planned so callers can report the full picture.
//
// Policies: a file whose content changed is re-downloaded in place (no
// separate delete); a symlink whose target changed is re-created in place;
// a location that changes between file and symlink is deleted and then
// re-created as the new kind. Executable bits are fixed without a download
// only when the hash is unchanged.
func (r *Resolver) Resolve(from, to *Package) *UpdateOperations {
	if err := from.Validate(); err != nil {
		r.logger.Warn("resolve: source snapshot is invalid", slog.String("error", err.Error()))
		return invalidOperations(fmt.Errorf("resolve from: %w", err))
	}

	if err := to.Validate(); err != nil {
		r.logger.Warn("resolve: target snapshot is invalid", slog.String("error", err.Error()))
		return invalidOperations(fmt.Errorf("resolve to: %w", err))
	}

	r.logger.Debug("resolve: planning",
		slog.Int("from_entries", from.Len()),
		slog.Int("to_entries", to.Len()),
	)

	ops := &UpdateOperations{}

	// Step 1: folders. Removal runs deepest-first, creation parent-first.
	ops.Rmdirs = folderDifference(from, to)
	slices.Reverse(ops.Rmdirs)
	ops.Mkdirs = folderDifference(to, from)

	// Step 2: files and symlinks, over the union of locations in path order
	// so every list below is appended already sorted.
	for _, p := range leafLocations(from, to) {
		r.resolveLeaf(ops, p, from, to)
	}

	if len(ops.Missing) > 0 {
		ops.err = &MissingSourceError{Missing: ops.Missing}

		r.logger.Warn("resolve: target files have no download source",
			slog.Int("missing", len(ops.Missing)),
			slog.String("first", ops.Missing[0].Path.String()),
		)
	}

	r.logger.Info("resolve: plan complete",
		slog.Bool("valid", ops.Valid()),
		slog.Int("total_actions", ops.TotalActions()),
		slog.Int("deletes", len(ops.Deletes)),
		slog.Int("rmdirs", len(ops.Rmdirs)),
		slog.Int("mkdirs", len(ops.Mkdirs)),
		slog.Int("downloads", len(ops.Downloads)),
		slog.Int("mklinks", len(ops.Mklinks)),
		slog.Int("executable_fixes", len(ops.ExecutableFixes)),
	)

	return ops
}

// resolveLeaf plans a single file/symlink location.
func (r *Resolver) resolveLeaf(ops *UpdateOperations, p Path, from, to *Package) {
	fromFile, fromIsFile := from.Files[p]
	fromTarget, fromIsLink := from.Symlinks[p]
	toFile, toIsFile := to.Files[p]
	toTarget, toIsLink := to.Symlinks[p]

	switch {
	case toIsFile:
		if fromIsFile {
			if fromFile.Hash == toFile.Hash {
				if fromFile.Executable != toFile.Executable {
					ops.ExecutableFixes = append(ops.ExecutableFixes, ExecutableFix{Path: p, Executable: toFile.Executable})
				}

				return
			}

			r.planDownload(ops, p, toFile, to)

			return
		}

		if fromIsLink {
			ops.Deletes = append(ops.Deletes, p)
		}

		r.planDownload(ops, p, toFile, to)

	case toIsLink:
		if fromIsLink && fromTarget == toTarget {
			return
		}

		if fromIsFile {
			ops.Deletes = append(ops.Deletes, p)
		}

		ops.Mklinks = append(ops.Mklinks, Link{Path: p, Target: toTarget})

	default:
		// Only present in from.
		ops.Deletes = append(ops.Deletes, p)
	}
}

// planDownload routes a target file to a source. Empty files get a raw
// source with no URL: they are created, not fetched.
func (r *Resolver) planDownload(ops *UpdateOperations, p Path, file File, to *Package) {
	if file.Hash == EmptyHash {
		ops.Downloads = append(ops.Downloads, FileDownload{
			Path:       p,
			Source:     FileSource{Compression: CompressionRaw, Hash: EmptyHash},
			Hash:       EmptyHash,
			Executable: file.Executable,
		})

		return
	}

	src, ok := to.Sources[file.Hash]
	if !ok {
		r.logger.Debug("resolve: no source for file",
			slog.String("path", p.String()),
			slog.String("hash", string(file.Hash)),
		)

		ops.Missing = append(ops.Missing, MissingSource{Path: p, Hash: file.Hash})

		return
	}

	ops.Downloads = append(ops.Downloads, FileDownload{
		Path:       p,
		Source:     src,
		Hash:       file.Hash,
		Size:       file.Size,
		Executable: file.Executable,
	})
}

// folderDifference returns the folders of a that are not in b, ascending.
func folderDifference(a, b *Package) []Path {
	var diff []Path

	for folder := range a.Folders {
		if _, ok := b.Folders[folder]; !ok {
			diff = append(diff, folder)
		}
	}

	slices.SortFunc(diff, ComparePaths)

	return diff
}

// leafLocations returns every file or symlink path in either package,
// ascending and without duplicates.
func leafLocations(from, to *Package) []Path {
	seen := make(map[Path]struct{}, len(from.Files)+len(from.Symlinks)+len(to.Files)+len(to.Symlinks))

	for _, pkg := range []*Package{from, to} {
		for p := range pkg.Files {
			seen[p] = struct{}{}
		}

		for p := range pkg.Symlinks {
			seen[p] = struct{}{}
		}
	}

	return sortedKeys(seen)
}
