package scan

import (
	"crypto/sha1" //nolint:gosec // content addresses in the manifest format are SHA-1
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/tonimelisma/treesync/internal/files"
)

// NewHasher returns the digest used for content addresses.
func NewHasher() hash.Hash {
	return sha1.New() //nolint:gosec // see import
}

// SumHash formats the digest of h as a content address.
func SumHash(h hash.Hash) files.Hash {
	return files.Hash(hex.EncodeToString(h.Sum(nil)))
}

// HashFile streams the file at path through the content hash and returns the
// address together with the number of bytes read.
func HashFile(path string) (files.Hash, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("opening file for hash: %w", err)
	}
	defer f.Close()

	h := NewHasher()

	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hashing file: %w", err)
	}

	return SumHash(h), n, nil
}
