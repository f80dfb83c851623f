package ftps

import (
	"context"
	"fmt"
	"io"

	"github.com/gonzalop/ftps/internal/ratelimit"
)

// copyStream copies src to dst through buf until src reports io.EOF.
// Short writes are retried for the rest of the current buffer; nothing
// else is retried. The returned count is what dst accepted.
func copyStream(dst io.Writer, src io.Reader, buf []byte, total int64, progress ProgressFunc) (int64, error) {
	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			off := 0
			for off < nr {
				nw, werr := dst.Write(buf[off:nr])
				if nw < 0 || nw > nr-off {
					return written, fmt.Errorf("write data channel: invalid write result %d", nw)
				}
				off += nw
				written += int64(nw)
				if werr != nil {
					return written, fmt.Errorf("write data channel: %w", werr)
				}
				if nw == 0 {
					return written, fmt.Errorf("write data channel: %w", io.ErrShortWrite)
				}
			}
			if progress != nil {
				progress(written, total)
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("read source: %w", rerr)
		}
	}
}

// Send streams src into the data channel and closes it, in every path,
// exactly once. size is the declared length: it feeds progress reporting
// and a mismatch is logged, but only end-of-stream ends the copy.
func (c *Client) Send(ctx context.Context, dc *DataChannel, src io.Reader, size int64) (int64, error) {
	if err := c.require("send", StateTransferring); err != nil {
		_ = dc.Close()
		return 0, err
	}

	var dst io.Writer = dc
	if c.cfg.bandwidth > 0 {
		dst = ratelimit.NewWriter(ctx, dc, ratelimit.New(c.cfg.bandwidth))
	}

	buf := make([]byte, c.cfg.bufferSize)
	n, copyErr := copyStream(dst, src, buf, size, c.cfg.progress)
	closeErr := dc.Close()

	if copyErr != nil {
		return n, c.fail(ctx, KindTransferIO, "send", copyErr)
	}
	if closeErr != nil {
		return n, c.fail(ctx, KindTransferIO, "send", fmt.Errorf("failed to close data connection: %w", closeErr))
	}

	if size >= 0 && n != size {
		c.logger.Warn("byte source length differs from bytes sent", "declared", size, "sent", n)
	}
	c.logger.Debug("data sent", "bytes", n)
	return n, nil
}
