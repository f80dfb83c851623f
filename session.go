package ftps

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Outcome is the result of one upload attempt or connection test.
type Outcome struct {
	// Success is true only when every step succeeded and, for an upload,
	// the server's final reply was 2xx.
	Success bool

	// Err is the classified failure, a *Error, when Success is false.
	Err error

	// Kind is KindOf(Err).
	Kind Kind

	// BytesSent counts the bytes accepted by the data channel. It is
	// informational: a complete byte count does not imply success.
	BytesSent int64

	// FinalReply is the completion reply of an upload, when one was read.
	FinalReply *Response

	// SessionID matches the "session" attribute of the log records.
	SessionID string

	Duration time.Duration
}

func (o Outcome) String() string {
	if o.Success {
		return fmt.Sprintf("success (%d bytes in %v)", o.BytesSent, o.Duration.Round(time.Millisecond))
	}
	return fmt.Sprintf("failed: %s: %v", o.Kind, o.Err)
}

// session sequences the steps of one attempt on a Client.
type session struct {
	client *Client
	start  time.Time
}

func newSession(c *Client) *session {
	return &session{client: c, start: time.Now()}
}

// withCancel makes cancelling ctx close the sockets, which unblocks any
// pending read or write. The returned stop must be called when the steps
// are done.
func (s *session) withCancel(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, s.client.abort)
}

// open runs connect, secure and login, then either the upload setup
// (protection, directory, binary type) or, for a connection test, only
// the directory change.
func (s *session) open(ctx context.Context, forUpload bool) error {
	c := s.client
	p := c.profile

	if err := c.Connect(ctx); err != nil {
		return err
	}
	if err := c.Secure(ctx); err != nil {
		return err
	}
	if err := c.Login(ctx, p.Username, p.Password); err != nil {
		return err
	}
	if forUpload {
		if err := c.ProtectDataChannel(ctx); err != nil {
			return err
		}
	}
	if err := c.ChangeDir(ctx, p.Directory); err != nil {
		return err
	}
	if forUpload {
		return c.Binary(ctx)
	}
	return nil
}

// transfer runs passive, data dial, STOR, data TLS, the copy and the
// completion reply on an open client.
func (s *session) transfer(ctx context.Context, remoteName string, src io.Reader, size int64) (int64, *Response, error) {
	c := s.client

	endpoint, err := c.Passive(ctx)
	if err != nil {
		return 0, nil, err
	}
	dc, err := c.DialData(ctx, endpoint)
	if err != nil {
		return 0, nil, err
	}
	if err := c.Store(ctx, remoteName); err != nil {
		return 0, nil, err
	}
	if err := c.SecureData(ctx, dc); err != nil {
		return 0, nil, err
	}

	n, err := c.Send(ctx, dc, src, size)
	if err != nil {
		return n, nil, err
	}

	resp, err := c.Complete(ctx, dc)
	if err != nil {
		return n, resp, err
	}

	if c.cfg.verifySize {
		remote, err := c.Size(ctx, remoteName)
		if err != nil {
			return n, resp, newError(KindCompletion, "verify", err)
		}
		if remote != n {
			return n, resp, newError(KindCompletion, "verify",
				fmt.Errorf("server reports %d bytes for %s, sent %d", remote, remoteName, n))
		}
	}

	return n, resp, nil
}

// finish disconnects and builds the outcome. Disconnect always runs.
func (s *session) finish(ctx context.Context, n int64, resp *Response, err error) Outcome {
	s.client.Disconnect()

	if err != nil && ctx.Err() != nil && KindOf(err) != KindCanceled {
		err = newError(KindCanceled, "cancel", fmt.Errorf("%w (%v)", ctx.Err(), err))
	}

	out := Outcome{
		Success:    err == nil,
		Err:        err,
		Kind:       KindOf(err),
		BytesSent:  n,
		FinalReply: resp,
		SessionID:  s.client.ID(),
		Duration:   time.Since(s.start),
	}
	if err != nil {
		s.client.logger.Info("session failed", "kind", out.Kind, "error", err, "bytes", n)
	} else {
		s.client.logger.Info("session complete", "bytes", n, "duration", out.Duration)
	}
	return out
}

// classify turns errors that escaped a step unclassified (out-of-order
// calls) into a *Error so an Outcome always carries one.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*Error); ok {
		return err
	}
	return newError(KindOf(err), op, err)
}

// Upload performs one complete upload attempt: connect, upgrade to TLS,
// log in, protect the data channel, change directory, open a passive TLS
// data channel, stream src, and require a 2xx final reply. Whatever
// happens, the control channel is disconnected before Upload returns.
//
// size is the declared length of src (negative if unknown); the copy ends
// at io.EOF regardless. Cancelling ctx closes both sockets and yields an
// Outcome of KindCanceled.
func Upload(ctx context.Context, profile Profile, remoteName string, src io.Reader, size int64, options ...Option) Outcome {
	c, err := NewClient(profile, options...)
	if err != nil {
		return Outcome{Err: newError(KindConnect, "configure", err), Kind: KindConnect}
	}

	s := newSession(c)
	stop := s.withCancel(ctx)
	defer stop()

	if err := s.open(ctx, true); err != nil {
		return s.finish(ctx, 0, nil, classify("open", err))
	}
	n, resp, err := s.transfer(ctx, remoteName, src, size)
	return s.finish(ctx, n, resp, classify("upload", err))
}

// TestConnection validates a profile without transferring anything:
// connect, upgrade to TLS, log in, change directory, disconnect.
func TestConnection(ctx context.Context, profile Profile, options ...Option) Outcome {
	c, err := NewClient(profile, options...)
	if err != nil {
		return Outcome{Err: newError(KindConnect, "configure", err), Kind: KindConnect}
	}

	s := newSession(c)
	stop := s.withCancel(ctx)
	defer stop()

	err = s.open(ctx, false)
	return s.finish(ctx, 0, nil, classify("test", err))
}
