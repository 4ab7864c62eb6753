// Package manifest reads and writes the JSON manifest describing a desired
// file tree: every folder, file (with its download sources), and symlink.
//
// The wire format is
//
//	{"files": {
//	  "bin":      {"type": "directory"},
//	  "bin/java": {"type": "file", "executable": true,
//	               "downloads": {"raw":  {"sha1": "...", "size": 10, "url": "..."},
//	                             "lzma": {"sha1": "...", "size": 4,  "url": "..."}}},
//	  "lib/cur":  {"type": "link", "target": "v1"}}}
//
// A file's content hash and size are those of its "raw" download. Every
// download becomes a candidate source for that content hash.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/tonimelisma/treesync/internal/files"
)

// ErrInvalidManifest is returned for any manifest that cannot be turned into
// a valid package.
var ErrInvalidManifest = errors.New("manifest: invalid manifest")

// Entry types.
const (
	typeDirectory = "directory"
	typeFile      = "file"
	typeLink      = "link"
)

// partialSuffix is reserved for in-flight downloads. Scans never record
// such files, so a manifest listing one could never be satisfied.
const partialSuffix = ".partial"

// rawDownload is the download key that defines a file's content.
const rawDownload = "raw"

// downloadOrder is the order sources are offered to AddSource, so raw wins
// a size tie.
var downloadOrder = []string{rawDownload, "lzma"}

type document struct {
	Files map[string]entry `json:"files"`
}

type entry struct {
	Type       string              `json:"type"`
	Executable bool                `json:"executable,omitempty"`
	Downloads  map[string]download `json:"downloads,omitempty"`
	Target     string              `json:"target,omitempty"`
}

type download struct {
	SHA1 string `json:"sha1"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// LoadFile reads and decodes the manifest at path.
func LoadFile(path string) (*files.Package, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: reading %s: %w", path, err)
	}

	pkg, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return pkg, nil
}

// Decode parses manifest contents. The result is either a valid package or
// nil with an error wrapping ErrInvalidManifest; it is never partial.
// Download encodings other than raw and lzma are ignored, and so are
// downloads without a URL: the file is listed but not published.
func Decode(data []byte) (*files.Package, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	if doc.Files == nil {
		return nil, fmt.Errorf("%w: missing \"files\" object", ErrInvalidManifest)
	}

	pkg := files.NewPackage()
	seen := make(map[files.Path]string, len(doc.Files))

	// Sorted iteration keeps source tie-breaking independent of map order.
	for _, raw := range slices.Sorted(maps.Keys(doc.Files)) {
		e := doc.Files[raw]

		p, err := files.NewPath(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
		}

		if prev, dup := seen[p]; dup {
			return nil, fmt.Errorf("%w: %q and %q name the same location", ErrInvalidManifest, prev, raw)
		}

		seen[p] = raw

		if err := addEntry(pkg, p, &e); err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidManifest, raw, err)
		}
	}

	if err := pkg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	return pkg, nil
}

func addEntry(pkg *files.Package, p files.Path, e *entry) error {
	if e.Type != typeDirectory && strings.HasSuffix(strings.ToLower(p.String()), partialSuffix) {
		return fmt.Errorf("name ends in reserved suffix %s", partialSuffix)
	}

	switch e.Type {
	case typeDirectory:
		pkg.AddFolder(p)

	case typeLink:
		if e.Target == "" {
			return errors.New("link without target")
		}

		pkg.AddLink(p, e.Target)

	case typeFile:
		raw, ok := e.Downloads[rawDownload]
		if !ok {
			return errors.New("file without raw download")
		}

		if raw.SHA1 == "" {
			return errors.New("raw download without sha1")
		}

		if raw.Size < 0 {
			return fmt.Errorf("negative size %d", raw.Size)
		}

		h := files.Hash(raw.SHA1)
		pkg.AddFile(p, files.File{Hash: h, Size: raw.Size, Executable: e.Executable})

		for _, name := range downloadOrder {
			d, ok := e.Downloads[name]
			if !ok || d.URL == "" {
				continue
			}

			compression, err := files.ParseCompression(name)
			if err != nil {
				return err
			}

			pkg.AddSource(h, files.FileSource{
				Compression: compression,
				Hash:        files.Hash(d.SHA1),
				URL:         d.URL,
				Size:        d.Size,
			})
		}

	default:
		return fmt.Errorf("unknown entry type %q", e.Type)
	}

	return nil
}
