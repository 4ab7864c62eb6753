// Package files is the data model and reconciliation engine for treesync.
// A Package is a content-addressed snapshot of a file tree: its folders,
// files, symlinks, and the best known download source for every content
// hash. The Resolver compares two snapshots and produces UpdateOperations,
// the ordered plan an executor follows to turn one tree into the other.
//
// Nothing in this package performs I/O. Snapshots are produced by the scan
// and manifest packages and plans are consumed by the apply package.
package files

import (
	"fmt"
	"strings"
)

// Hash is an opaque content address. Two files with the same Hash are
// assumed to be byte-identical.
type Hash string

// EmptyHash is the content address of the empty byte string (SHA-1). Files
// carrying it need no content transfer.
const EmptyHash Hash = "da39a3ee5e6b4b0d3255bfef95601890afd80709"

// Compression is the encoding of a source payload. The zero value is not a
// valid compression; a source without a known compression is never stored.
type Compression int

// Known payload encodings.
const (
	CompressionRaw Compression = iota + 1
	CompressionLzma
)

// ParseCompression maps the manifest names "raw" and "lzma" to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "raw":
		return CompressionRaw, nil
	case "lzma":
		return CompressionLzma, nil
	default:
		return 0, fmt.Errorf("files: unknown compression %q", s)
	}
}

// Valid reports whether c is one of the known encodings.
func (c Compression) Valid() bool {
	return c == CompressionRaw || c == CompressionLzma
}

func (c Compression) String() string {
	switch c {
	case CompressionRaw:
		return "raw"
	case CompressionLzma:
		return "lzma"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Compression) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("files: cannot marshal compression %d", int(c))
	}

	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Compression) UnmarshalText(text []byte) error {
	parsed, err := ParseCompression(string(text))
	if err != nil {
		return err
	}

	*c = parsed

	return nil
}

// FileSource is one remote origin offering the bytes for a content hash.
// Hash is the address of the payload as served, which differs from the
// content hash for compressed payloads.
type FileSource struct {
	Compression Compression `json:"compression"`
	Hash        Hash        `json:"hash"`
	URL         string      `json:"url"`
	Size        int64       `json:"size"`
}

// IsBad reports whether s is an uninitialized placeholder.
func (s *FileSource) IsBad() bool {
	return !s.Compression.Valid()
}

// Upgrade replaces s with other when s is bad or other is strictly smaller.
// Ties keep the source seen first. Returns true when s was replaced.
func (s *FileSource) Upgrade(other FileSource) bool {
	if s.IsBad() || other.Size < s.Size {
		*s = other
		return true
	}

	return false
}

// File is a regular file leaf: its content address, size, and whether it
// must carry the executable permission bits.
type File struct {
	Hash       Hash  `json:"hash"`
	Executable bool  `json:"executable"`
	Size       int64 `json:"size"`
}

// EntryKind identifies what occupies a location in a package.
type EntryKind int

// Entry kinds. KindNone means the location is unoccupied.
const (
	KindNone EntryKind = iota
	KindFolder
	KindFile
	KindSymlink
)

func (k EntryKind) String() string {
	switch k {
	case KindFolder:
		return "folder"
	case KindFile:
		return "file"
	case KindSymlink:
		return "symlink"
	default:
		return "none"
	}
}
