package files

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidPackage marks a snapshot that cannot be used: it is nil, or a
// location is registered as more than one kind.
var ErrInvalidPackage = errors.New("files: invalid package")

// Package is a complete snapshot of a file tree. Folders are independent
// entries: ancestors are never added implicitly, producers must register
// every directory that has to exist.
//
// A Package is built once through the Add* mutators and is read-only from
// then on. Factories (scan, manifest) return (*Package, error); a nil
// *Package is the invalid package.
type Package struct {
	Folders  map[Path]struct{}
	Files    map[Path]File
	Symlinks map[Path]string
	Sources  map[Hash]FileSource
}

// NewPackage returns an empty package ready for construction.
func NewPackage() *Package {
	return &Package{
		Folders:  make(map[Path]struct{}),
		Files:    make(map[Path]File),
		Symlinks: make(map[Path]string),
		Sources:  make(map[Hash]FileSource),
	}
}

// AddFolder registers a directory.
func (p *Package) AddFolder(folder Path) {
	p.Folders[folder] = struct{}{}
}

// AddFile registers a regular file, replacing any previous file at path.
func (p *Package) AddFile(path Path, file File) {
	p.Files[path] = file
}

// AddLink registers a symlink at path. The target is kept verbatim: it may
// point outside the package (for example "../lib/x").
func (p *Package) AddLink(path Path, target string) {
	p.Symlinks[path] = target
}

// AddSource records a download source for content hash h. The first valid
// source is stored; later ones replace it only when strictly smaller. A
// source without a known compression is ignored, so it never displaces a
// usable one.
func (p *Package) AddSource(h Hash, source FileSource) {
	if source.IsBad() {
		return
	}

	current, ok := p.Sources[h]
	if !ok {
		p.Sources[h] = source
		return
	}

	if current.Upgrade(source) {
		p.Sources[h] = current
	}
}

// Source returns the best known source for h.
func (p *Package) Source(h Hash) (FileSource, bool) {
	s, ok := p.Sources[h]
	return s, ok
}

// HasFolder reports whether folder is registered.
func (p *Package) HasFolder(folder Path) bool {
	_, ok := p.Folders[folder]
	return ok
}

// Kind returns what occupies path, checking folders, files, then symlinks.
func (p *Package) Kind(path Path) EntryKind {
	if _, ok := p.Folders[path]; ok {
		return KindFolder
	}

	if _, ok := p.Files[path]; ok {
		return KindFile
	}

	if _, ok := p.Symlinks[path]; ok {
		return KindSymlink
	}

	return KindNone
}

// Len returns the number of locations in the package.
func (p *Package) Len() int {
	return len(p.Folders) + len(p.Files) + len(p.Symlinks)
}

// TotalSize returns the sum of all file sizes.
func (p *Package) TotalSize() int64 {
	var total int64
	for _, f := range p.Files {
		total += f.Size
	}

	return total
}

// SortedFolders returns the folders in ascending path order.
func (p *Package) SortedFolders() []Path {
	return sortedKeys(p.Folders)
}

// SortedFiles returns the file paths in ascending path order.
func (p *Package) SortedFiles() []Path {
	return sortedKeys(p.Files)
}

// SortedSymlinks returns the symlink paths in ascending path order.
func (p *Package) SortedSymlinks() []Path {
	return sortedKeys(p.Symlinks)
}

// Validate checks that every location is normalized and holds exactly one
// kind of entry. All problems are reported together.
func (p *Package) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil package", ErrInvalidPackage)
	}

	var errs []error

	for folder := range p.Folders {
		if err := folder.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	for path := range p.Files {
		if err := path.Validate(); err != nil {
			errs = append(errs, err)
		}

		if _, ok := p.Folders[path]; ok {
			errs = append(errs, fmt.Errorf("%q is both a folder and a file", path))
		}

		if _, ok := p.Symlinks[path]; ok {
			errs = append(errs, fmt.Errorf("%q is both a file and a symlink", path))
		}
	}

	for path := range p.Symlinks {
		if err := path.Validate(); err != nil {
			errs = append(errs, err)
		}

		if _, ok := p.Folders[path]; ok {
			errs = append(errs, fmt.Errorf("%q is both a folder and a symlink", path))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPackage, errors.Join(errs...))
	}

	return nil
}

func sortedKeys[V any](m map[Path]V) []Path {
	keys := make([]Path, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	slices.SortFunc(keys, ComparePaths)

	return keys
}
