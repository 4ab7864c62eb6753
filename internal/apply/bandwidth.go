package apply

import (
	"context"
	"io"
	"log/slog"

	"golang.org/x/time/rate"
)

// minBurst keeps the bucket at least as large as one io.Copy buffer, so a
// very low limit still lets a single copy chunk through per wait.
const minBurst = 32 << 10

// BandwidthLimiter is a token bucket shared by every download worker. The
// nil limiter is valid and does not throttle.
type BandwidthLimiter struct {
	bucket *rate.Limiter
}

// NewBandwidthLimiter returns a limiter admitting bytesPerSec bytes per
// second across all writers it wraps, or nil when bytesPerSec is not
// positive.
func NewBandwidthLimiter(bytesPerSec int64, logger *slog.Logger) *BandwidthLimiter {
	if bytesPerSec <= 0 {
		return nil
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	burst := int(max(bytesPerSec, minBurst))

	logger.Debug("apply: download bandwidth limited",
		slog.Int64("bytes_per_sec", bytesPerSec),
		slog.Int("burst", burst),
	)

	return &BandwidthLimiter{bucket: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

// WrapWriter throttles writes to w. Waits abort when ctx is canceled.
func (bl *BandwidthLimiter) WrapWriter(ctx context.Context, w io.Writer) io.Writer {
	if bl == nil {
		return w
	}

	return &throttledWriter{ctx: ctx, dst: w, bucket: bl.bucket}
}

// throttledWriter takes tokens before each chunk it forwards, in pieces no
// larger than the bucket's burst.
type throttledWriter struct {
	ctx    context.Context
	dst    io.Writer
	bucket *rate.Limiter
}

func (t *throttledWriter) Write(p []byte) (int, error) {
	written := 0

	for len(p) > 0 {
		chunk := p[:min(len(p), t.bucket.Burst())]

		if err := t.bucket.WaitN(t.ctx, len(chunk)); err != nil {
			return written, err
		}

		n, err := t.dst.Write(chunk)
		written += n

		if err != nil {
			return written, err
		}

		p = p[len(chunk):]
	}

	return written, nil
}
