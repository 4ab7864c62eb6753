package manifest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tonimelisma/treesync/internal/files"
)

// Options controls Encode.
type Options struct {
	// BaseURL prefixes synthesized raw download URLs as BaseURL/<hash>.
	// Empty leaves synthesized URLs empty, which content-addressed mirrors
	// do not need.
	BaseURL string
}

// Encode serializes pkg in manifest form. Each file carries a raw download
// (its stored raw source, or one synthesized from the content hash) plus
// its stored source when that is compressed. Output is deterministic.
func Encode(pkg *files.Package, opts Options) ([]byte, error) {
	if err := pkg.Validate(); err != nil {
		return nil, fmt.Errorf("manifest: encode: %w", err)
	}

	doc := document{Files: make(map[string]entry, pkg.Len())}

	for folder := range pkg.Folders {
		doc.Files[folder.String()] = entry{Type: typeDirectory}
	}

	for p, target := range pkg.Symlinks {
		doc.Files[p.String()] = entry{Type: typeLink, Target: target}
	}

	for p, f := range pkg.Files {
		doc.Files[p.String()] = entry{
			Type:       typeFile,
			Executable: f.Executable,
			Downloads:  downloadsFor(pkg, f, opts),
		}
	}

	// encoding/json writes map keys sorted, so the output is stable.
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("manifest: encode: %w", err)
	}

	return append(data, '\n'), nil
}

func downloadsFor(pkg *files.Package, f files.File, opts Options) map[string]download {
	out := make(map[string]download, 2)

	src, ok := pkg.Source(f.Hash)
	if ok {
		out[src.Compression.String()] = download{SHA1: string(src.Hash), Size: src.Size, URL: src.URL}
	}

	if !ok || src.Compression != files.CompressionRaw {
		out[rawDownload] = download{SHA1: string(f.Hash), Size: f.Size, URL: synthesizeURL(opts.BaseURL, f.Hash)}
	}

	return out
}

func synthesizeURL(base string, h files.Hash) string {
	if base == "" {
		return ""
	}

	return strings.TrimSuffix(base, "/") + "/" + string(h)
}
