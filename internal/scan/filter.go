package scan

import (
	"log/slog"
	"path/filepath"
	"strings"
	gosync "sync"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/tonimelisma/treesync/internal/files"
)

// partialSuffix marks an in-flight download left behind by an interrupted
// apply. Such files are never part of a snapshot.
const partialSuffix = ".partial"

// filter decides which directory entries the scanner records. It applies,
// in order: the .partial safety rule, skip_files / skip_dirs globs, and the
// optional per-directory ignore marker (gitignore syntax). Paths in keep
// pass every rule but the first.
type filter struct {
	keep         map[files.Path]bool
	skipFiles    []string
	skipDirs     []string
	ignoreMarker string
	logger       *slog.Logger

	// markerCache maps an absolute directory to its parsed marker file.
	// A nil entry means the directory was checked and has none.
	markerCache map[string]*ignore.GitIgnore
	mu          gosync.RWMutex
}

func newFilter(opts *Options, logger *slog.Logger) *filter {
	return &filter{
		keep:         opts.Keep,
		skipFiles:    opts.SkipFiles,
		skipDirs:     opts.SkipDirs,
		ignoreMarker: opts.IgnoreMarker,
		logger:       logger,
		markerCache:  make(map[string]*ignore.GitIgnore),
	}
}

// include reports whether the entry called name, found in the absolute
// directory dir, belongs in the snapshot at p.
func (f *filter) include(dir, name string, p files.Path, isDir bool) bool {
	relPath := p.String()

	if !isDir && strings.HasSuffix(strings.ToLower(name), partialSuffix) {
		f.logger.Debug("scanner: skipping partial download", slog.String("path", relPath))
		return false
	}

	if f.keep[p] {
		return true
	}

	if f.ignoreMarker != "" && name == f.ignoreMarker && !isDir {
		return false
	}

	patterns := f.skipFiles
	if isDir {
		patterns = f.skipDirs
	}

	if matchesSkipPattern(f.logger, name, patterns) {
		f.logger.Debug("scanner: skipped by pattern",
			slog.String("path", relPath),
			slog.Bool("dir", isDir),
		)

		return false
	}

	if gi := f.loadMarker(dir); gi != nil {
		matchPath := name
		if isDir {
			matchPath += "/"
		}

		if gi.MatchesPath(matchPath) {
			f.logger.Debug("scanner: skipped by ignore marker",
				slog.String("path", relPath),
				slog.String("marker", f.ignoreMarker),
			)

			return false
		}
	}

	return true
}

// loadMarker loads and caches the ignore marker of dir. Returns nil when no
// marker is configured or the directory has none.
func (f *filter) loadMarker(dir string) *ignore.GitIgnore {
	if f.ignoreMarker == "" {
		return nil
	}

	f.mu.RLock()
	gi, cached := f.markerCache[dir]
	f.mu.RUnlock()

	if cached {
		return gi
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if gi, cached = f.markerCache[dir]; cached {
		return gi
	}

	parsed, err := ignore.CompileIgnoreFile(filepath.Join(dir, f.ignoreMarker))
	if err != nil {
		f.markerCache[dir] = nil
		return nil
	}

	f.logger.Debug("scanner: loaded ignore marker", slog.String("dir", dir))
	f.markerCache[dir] = parsed

	return parsed
}

// matchesSkipPattern checks if name matches any of the glob patterns,
// case-insensitively. Malformed patterns are logged and skipped.
func matchesSkipPattern(logger *slog.Logger, name string, patterns []string) bool {
	lowerName := strings.ToLower(name)

	for _, pattern := range patterns {
		matched, err := filepath.Match(strings.ToLower(pattern), lowerName)
		if err != nil {
			logger.Warn("scanner: malformed skip pattern",
				slog.String("pattern", pattern),
				slog.String("error", err.Error()),
			)

			continue
		}

		if matched {
			return true
		}
	}

	return false
}
