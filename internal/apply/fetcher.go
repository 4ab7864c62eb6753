package apply

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"github.com/tonimelisma/treesync/internal/files"
)

// Sentinel errors for fetchers.
var (
	// ErrSourceNotFound means a fetcher has no copy of the content. A
	// ChainFetcher moves on to the next fetcher.
	ErrSourceNotFound = errors.New("apply: content not found")

	// ErrUnsupportedCompression means the source payload would need decoding.
	ErrUnsupportedCompression = errors.New("apply: unsupported compression")

	// ErrUnsupportedScheme means the source URL cannot be read locally.
	ErrUnsupportedScheme = errors.New("apply: unsupported URL scheme")
)

// Fetcher writes the decoded content of a download to w and returns the
// number of bytes written. Implementations must not write anything before
// they know they can serve the content, so a chain can fall through.
type Fetcher interface {
	Fetch(ctx context.Context, d *files.FileDownload, w io.Writer) (int64, error)
}

// MirrorFetcher serves content from a content-addressed directory holding
// one raw file per content hash (Dir/<hash>). It ignores the planned source,
// which lets it satisfy downloads whose best source is compressed.
type MirrorFetcher struct {
	Dir string
}

// Fetch implements Fetcher.
func (m MirrorFetcher) Fetch(ctx context.Context, d *files.FileDownload, w io.Writer) (int64, error) {
	f, err := os.Open(filepath.Join(m.Dir, string(d.Hash)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s in mirror %s", ErrSourceNotFound, d.Hash, m.Dir)
		}

		return 0, fmt.Errorf("apply: opening mirror object %s: %w", d.Hash, err)
	}
	defer f.Close()

	return copyContext(ctx, w, f)
}

// Has reports whether the mirror holds the content for h.
func (m MirrorFetcher) Has(h files.Hash) bool {
	if m.Dir == "" {
		return false
	}

	info, err := os.Stat(filepath.Join(m.Dir, string(h)))

	return err == nil && info.Mode().IsRegular()
}

// AddSources registers a raw file:// source for every file of pkg that has
// no source yet but whose content is present in the mirror. It returns the
// number of sources added.
func (m MirrorFetcher) AddSources(pkg *files.Package) int {
	added := 0

	for _, p := range pkg.SortedFiles() {
		f := pkg.Files[p]
		if f.Hash == files.EmptyHash {
			continue
		}

		if _, ok := pkg.Source(f.Hash); ok {
			continue
		}

		if !m.Has(f.Hash) {
			continue
		}

		obj := filepath.Join(m.Dir, string(f.Hash))

		pkg.AddSource(f.Hash, files.FileSource{
			Compression: files.CompressionRaw,
			Hash:        f.Hash,
			URL:         (&url.URL{Scheme: "file", Path: filepath.ToSlash(obj)}).String(),
			Size:        f.Size,
		})

		added++
	}

	return added
}

// FileURLFetcher reads raw sources whose URL uses the file scheme.
type FileURLFetcher struct{}

// Fetch implements Fetcher.
func (FileURLFetcher) Fetch(ctx context.Context, d *files.FileDownload, w io.Writer) (int64, error) {
	u, err := url.Parse(d.Source.URL)
	if err != nil {
		return 0, fmt.Errorf("apply: parsing source URL of %s: %w", d.Path, err)
	}

	if u.Scheme != "file" {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	if d.Source.Compression != files.CompressionRaw {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedCompression, d.Source.Compression)
	}

	f, err := os.Open(filepath.FromSlash(u.Path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrSourceNotFound, d.Source.URL)
		}

		return 0, fmt.Errorf("apply: opening %s: %w", d.Source.URL, err)
	}
	defer f.Close()

	return copyContext(ctx, w, f)
}

// ChainFetcher tries each fetcher in order. A fetcher that fails without
// writing any bytes hands over to the next one; the last error is returned
// when every fetcher fails.
type ChainFetcher []Fetcher

// Fetch implements Fetcher.
func (c ChainFetcher) Fetch(ctx context.Context, d *files.FileDownload, w io.Writer) (int64, error) {
	if len(c) == 0 {
		return 0, fmt.Errorf("%w: no fetchers configured", ErrSourceNotFound)
	}

	var errs []error

	for _, f := range c {
		cw := &countingWriter{w: w}

		n, err := f.Fetch(ctx, d, cw)
		if err == nil {
			return n, nil
		}

		if cw.n > 0 || ctx.Err() != nil {
			return n, err
		}

		errs = append(errs, err)
	}

	return 0, errors.Join(errs...)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)

	return n, err
}

// copyContext copies src to dst, stopping early if ctx is canceled.
func copyContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	n, err := io.Copy(dst, &contextReader{ctx: ctx, r: src})
	if err != nil {
		return n, fmt.Errorf("apply: copying content: %w", err)
	}

	return n, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}

	return c.r.Read(p)
}
