package scan

import (
	"strings"

	"github.com/tonimelisma/treesync/internal/files"
)

// DiskNames maps snapshot paths to the slash-separated path the entry has on
// disk, for entries whose on-disk path is not already NFC. On Linux a name
// written in NFD keeps its bytes, so I/O on a scanned entry must go through
// the recorded name rather than the normalized one.
type DiskNames map[files.Path]string

// Resolve returns the on-disk relative path of p. Paths below a recorded
// directory keep that directory's on-disk spelling; anything else is used
// as is.
func (n DiskNames) Resolve(p files.Path) string {
	if len(n) == 0 {
		return p.String()
	}

	for a, ok := p, true; ok; a, ok = a.Parent() {
		if disk, found := n[a]; found {
			return disk + strings.TrimPrefix(p.String(), a.String())
		}
	}

	return p.String()
}
