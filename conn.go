package ftps

import (
	"context"
	"net"
	"time"
)

// deadline returns the earlier of now+timeout and the context deadline.
// The zero time (no deadline) is returned when neither applies.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	return d
}

// deadlineConn wraps a net.Conn and sets a read/write deadline before every operation.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (n int, err error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (n int, err error) {
	if c.timeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

// dial opens a TCP connection bounded by the connect timeout and ctx.
func (c *Client) dial(ctx context.Context, addr string) (net.Conn, error) {
	d := *c.cfg.dialer
	d.Timeout = c.cfg.connectTimeout
	return d.DialContext(ctx, "tcp", addr)
}
