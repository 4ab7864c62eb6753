package files

import (
	"errors"
	"fmt"
)

// ErrMissingSource is matched (via errors.Is) by MissingSourceError.
var ErrMissingSource = errors.New("files: no download source")

// MissingSource names a target file whose content hash has no registered
// source. It is a defect in the published package, not a transient fault.
type MissingSource struct {
	Path Path `json:"path"`
	Hash Hash `json:"hash"`
}

// MissingSourceError reports every file the resolver could not route to a
// download source.
type MissingSourceError struct {
	Missing []MissingSource
}

func (e *MissingSourceError) Error() string {
	if len(e.Missing) == 1 {
		return fmt.Sprintf("files: no download source for %s (hash %s)", e.Missing[0].Path, e.Missing[0].Hash)
	}

	return fmt.Sprintf("files: no download source for %d files (first: %s)", len(e.Missing), e.Missing[0].Path)
}

func (e *MissingSourceError) Unwrap() error {
	return ErrMissingSource
}

// FileDownload is content to fetch and place at Path. Source is where to get
// the payload; Hash and Size describe the content once decoded, and are what
// the written file must match.
type FileDownload struct {
	Path       Path       `json:"path"`
	Source     FileSource `json:"source"`
	Hash       Hash       `json:"hash"`
	Size       int64      `json:"size"`
	Executable bool       `json:"executable"`
}

// IsEmpty reports whether the download is a zero-byte file that needs no
// fetch.
func (d *FileDownload) IsEmpty() bool {
	return d.Hash == EmptyHash
}

// Link is a symlink to create (or replace) at Path.
type Link struct {
	Path   Path   `json:"path"`
	Target string `json:"target"`
}

// ExecutableFix changes the permission bits of a file whose content is
// already correct.
type ExecutableFix struct {
	Path       Path `json:"path"`
	Executable bool `json:"executable"`
}

// UpdateOperations is the plan produced by the Resolver. Every list is in
// deterministic path order: Mkdirs parent-first, Rmdirs deepest-first, the
// rest ascending.
//
// Executors apply removals before creations: Deletes, Rmdirs, Mkdirs,
// Downloads, Mklinks, ExecutableFixes.
type UpdateOperations struct {
	Deletes         []Path          `json:"deletes"`
	Rmdirs          []Path          `json:"rmdirs"`
	Mkdirs          []Path          `json:"mkdirs"`
	Downloads       []FileDownload  `json:"downloads"`
	Mklinks         []Link          `json:"mklinks"`
	ExecutableFixes []ExecutableFix `json:"executable_fixes"`

	// Missing lists target files without a download source. A plan with
	// missing entries is not valid.
	Missing []MissingSource `json:"missing,omitempty"`

	err error
}

// invalidOperations returns a plan that carries err and nothing else.
func invalidOperations(err error) *UpdateOperations {
	return &UpdateOperations{err: err}
}

// Valid reports whether the plan can be executed.
func (o *UpdateOperations) Valid() bool {
	return o != nil && o.err == nil
}

// Err explains why the plan is not valid: ErrInvalidPackage for bad input
// snapshots, *MissingSourceError for unroutable content. Nil for a valid plan.
func (o *UpdateOperations) Err() error {
	if o == nil {
		return fmt.Errorf("%w: no plan", ErrInvalidPackage)
	}

	return o.err
}

// Empty reports whether there is nothing to execute: the plan is invalid or
// every list is empty. A valid, empty plan means "already up to date".
func (o *UpdateOperations) Empty() bool {
	if !o.Valid() {
		return true
	}

	return o.TotalActions() == 0
}

// TotalActions returns the number of operations across all lists.
func (o *UpdateOperations) TotalActions() int {
	if o == nil {
		return 0
	}

	return len(o.Deletes) + len(o.Rmdirs) + len(o.Mkdirs) +
		len(o.Downloads) + len(o.Mklinks) + len(o.ExecutableFixes)
}

// DownloadBytes returns the payload bytes the plan will transfer.
func (o *UpdateOperations) DownloadBytes() int64 {
	var total int64

	for i := range o.Downloads {
		if !o.Downloads[i].IsEmpty() {
			total += o.Downloads[i].Source.Size
		}
	}

	return total
}
