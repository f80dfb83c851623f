package ftps

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Uploader is the boolean-result facade used by callers that only need to
// know whether an operation worked, such as a share-sheet or a CLI. The
// classified result of the last operation stays available in LastOutcome.
//
//	u := ftps.NewUploader(ftps.WithTrustPolicy(ftps.AcceptAll()))
//	if u.Connect(ctx, profile) {
//	    ok := u.Upload(ctx, "photo.jpg", f, size)
//	    ...
//	}
//	u.Disconnect()
//
// An Uploader may be reused for several profiles and uploads, but every
// upload runs on its own control channel: Upload needs a preceding
// successful Connect and always disconnects when it is done.
type Uploader struct {
	options []Option

	mu   sync.Mutex
	sess *session
	last Outcome
}

// NewUploader returns an Uploader that applies options to every channel it
// opens.
func NewUploader(options ...Option) *Uploader {
	return &Uploader{options: options}
}

// Connect opens and prepares a control channel for profile: connect,
// TLS, login, data channel protection, directory and binary type.
func (u *Uploader) Connect(ctx context.Context, profile Profile) bool {
	u.Disconnect()

	c, err := NewClient(profile, u.options...)
	if err != nil {
		u.record(Outcome{Err: newError(KindConnect, "configure", err), Kind: KindConnect})
		return false
	}

	s := newSession(c)
	stop := s.withCancel(ctx)
	err = s.open(ctx, true)
	stop()

	if err != nil {
		u.record(s.finish(ctx, 0, nil, classify("connect", err)))
		return false
	}

	u.mu.Lock()
	u.sess = s
	u.last = Outcome{Success: true, SessionID: c.ID()}
	u.mu.Unlock()
	return true
}

// TestConnection validates profile on a separate, short-lived channel.
func (u *Uploader) TestConnection(ctx context.Context, profile Profile) bool {
	out := TestConnection(ctx, profile, u.options...)
	u.record(out)
	return out.Success
}

// Upload sends src as remoteName over the channel opened by Connect, then
// disconnects it.
func (u *Uploader) Upload(ctx context.Context, remoteName string, src io.Reader, size int64) bool {
	u.mu.Lock()
	s := u.sess
	u.sess = nil
	u.mu.Unlock()

	if s == nil {
		u.record(Outcome{
			Err:  newError(KindProtocol, "upload", fmt.Errorf("%w: upload without a connection", ErrInvalidState)),
			Kind: KindProtocol,
		})
		return false
	}

	stop := s.withCancel(ctx)
	n, resp, err := s.transfer(ctx, remoteName, src, size)
	stop()

	out := s.finish(ctx, n, resp, classify("upload", err))
	u.record(out)
	return out.Success
}

// Disconnect closes the channel opened by Connect, if any. It is
// idempotent and never fails.
func (u *Uploader) Disconnect() {
	u.mu.Lock()
	s := u.sess
	u.sess = nil
	u.mu.Unlock()

	if s != nil {
		s.client.Disconnect()
	}
}

// LastOutcome returns the classified result of the most recent operation.
func (u *Uploader) LastOutcome() Outcome {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.last
}

func (u *Uploader) record(out Outcome) {
	u.mu.Lock()
	u.last = out
	u.mu.Unlock()
}
