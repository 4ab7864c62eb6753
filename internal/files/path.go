package files

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidPath is returned when a path cannot be used as a location inside
// a package: it is empty, absolute, or escapes the root via "..".
var ErrInvalidPath = errors.New("files: invalid path")

// Path is a normalized, slash-separated path relative to the package root.
// Paths are NFC-normalized so that a tree scanned on macOS (NFD names) and a
// manifest authored elsewhere compare equal.
type Path string

// NewPath normalizes raw into a Path. Redundant separators and "." elements
// are removed; absolute paths and paths escaping the root are rejected.
func NewPath(raw string) (Path, error) {
	p := norm.NFC.String(raw)

	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q is absolute", ErrInvalidPath, raw)
	}

	p = path.Clean(p)
	if p == "." || p == "" {
		return "", fmt.Errorf("%w: %q is empty", ErrInvalidPath, raw)
	}

	if p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("%w: %q escapes the root", ErrInvalidPath, raw)
	}

	return Path(p), nil
}

// MustPath is NewPath for literals known to be valid. It panics otherwise.
func MustPath(raw string) Path {
	p, err := NewPath(raw)
	if err != nil {
		panic(err)
	}

	return p
}

// Validate reports whether p is already in normalized form.
func (p Path) Validate() error {
	n, err := NewPath(string(p))
	if err != nil {
		return err
	}

	if n != p {
		return fmt.Errorf("%w: %q is not normalized (want %q)", ErrInvalidPath, string(p), string(n))
	}

	return nil
}

// String returns the path as a plain string.
func (p Path) String() string {
	return string(p)
}

// Parent returns the containing directory. ok is false for top-level paths.
func (p Path) Parent() (parent Path, ok bool) {
	dir := path.Dir(string(p))
	if dir == "." || dir == "/" {
		return "", false
	}

	return Path(dir), true
}

// Base returns the last path element.
func (p Path) Base() string {
	return path.Base(string(p))
}

// Depth returns the number of path elements ("a" is 1, "a/b" is 2).
func (p Path) Depth() int {
	if p == "" {
		return 0
	}

	return strings.Count(string(p), "/") + 1
}

// IsAncestorOf reports whether other lives strictly below p.
func (p Path) IsAncestorOf(other Path) bool {
	return strings.HasPrefix(string(other), string(p)+"/")
}

// Join appends a single element to p.
func (p Path) Join(elem string) Path {
	if p == "" {
		return Path(elem)
	}

	return Path(string(p) + "/" + elem)
}

// Compare orders paths element by element. A directory sorts before all of
// its descendants and a subtree is contiguous, so ascending order is safe for
// creation and descending order is safe for removal.
func (p Path) Compare(other Path) int {
	a, b := string(p), string(other)

	for {
		ai := strings.IndexByte(a, '/')
		bi := strings.IndexByte(b, '/')

		ae, be := a, b
		if ai >= 0 {
			ae = a[:ai]
		}

		if bi >= 0 {
			be = b[:bi]
		}

		if c := strings.Compare(ae, be); c != 0 {
			return c
		}

		switch {
		case ai < 0 && bi < 0:
			return 0
		case ai < 0:
			return -1
		case bi < 0:
			return 1
		}

		a, b = a[ai+1:], b[bi+1:]
	}
}

// ComparePaths is Path.Compare in function form, for slices.SortFunc.
func ComparePaths(a, b Path) int {
	return a.Compare(b)
}
