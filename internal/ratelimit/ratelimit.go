// Package ratelimit caps the throughput of an upload's data channel.
//
// It is a thin layer over golang.org/x/time/rate: the token bucket holds
// one second worth of bytes, and writes are split so that no single wait
// asks for more tokens than the bucket can hold.
package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxChunk bounds a single wait so pacing stays smooth at high rates.
const maxChunk = 64 * 1024

// Limiter limits a byte stream to a number of bytes per second.
type Limiter struct {
	lim *rate.Limiter
}

// New creates a limiter for bytesPerSecond. A non-positive rate means
// unlimited and returns nil, which NewWriter treats as a pass-through.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := int(min(bytesPerSecond, int64(1<<30)))
	return &Limiter{lim: rate.NewLimiter(rate.Limit(bytesPerSecond), burst)}
}

// Rate returns the configured bytes per second, 0 for a nil limiter.
func (l *Limiter) Rate() int64 {
	if l == nil {
		return 0
	}
	return int64(l.lim.Limit())
}

// chunk is the largest write that can be paced in one wait.
func (l *Limiter) chunk() int {
	return min(l.lim.Burst(), maxChunk)
}

// wait blocks until n bytes may pass or ctx is done.
func (l *Limiter) wait(ctx context.Context, n int) error {
	return l.lim.WaitN(ctx, n)
}

type writer struct {
	ctx     context.Context
	w       io.Writer
	limiter *Limiter
}

// NewWriter creates a rate-limited writer. Waiting stops with ctx's error
// when ctx is cancelled. If limiter is nil, w is returned unchanged.
func NewWriter(ctx context.Context, w io.Writer, limiter *Limiter) io.Writer {
	if limiter == nil {
		return w
	}
	return &writer{ctx: ctx, w: w, limiter: limiter}
}

// Write implements io.Writer, consuming tokens before each chunk so the
// data channel sees back-pressure rather than bursts.
func (w *writer) Write(p []byte) (int, error) {
	chunk := w.limiter.chunk()
	total := 0
	for total < len(p) {
		n := min(len(p)-total, chunk)
		if err := w.limiter.wait(w.ctx, n); err != nil {
			return total, err
		}
		written, err := w.w.Write(p[total : total+n])
		total += written
		if err != nil {
			return total, err
		}
		if written < n {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}
