package ftps

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// Client is the control channel of one upload attempt. It moves forward
// through the states in State and is never reused: after Disconnect it is
// Closed for good.
//
// A Client must be driven by a single goroutine. The only method that may be
// called concurrently is Disconnect's internal abort, which Upload and the
// Uploader install with context.AfterFunc so that cancelling the context
// closes both sockets.
type Client struct {
	cfg       *config
	profile   Profile
	tlsConfig *tls.Config
	logger    *slog.Logger
	id        string

	// cmdMu serializes command/reply round trips
	cmdMu sync.Mutex

	// mu protects the fields below
	mu        sync.Mutex
	conn      net.Conn
	reader    *bufio.Reader
	data      *DataChannel
	state     State
	err       error
	lastReply *Response
	pending   string // command awaiting its final reply
	protected bool
	epsvOff   bool
	closed    bool
}

// NewClient prepares a control channel for profile. It does not touch the
// network; call Connect to start.
func NewClient(profile Profile, options ...Option) (*Client, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	cfg, err := newConfig(options)
	if err != nil {
		return nil, err
	}

	tlsConfig := cfg.tlsConfig
	if tlsConfig == nil {
		tlsConfig, err = NewTLSConfig(profile.Host, cfg.trust)
		if err != nil {
			return nil, err
		}
	} else {
		tlsConfig = tlsConfig.Clone()
		if tlsConfig.ServerName == "" {
			tlsConfig.ServerName = profile.Host
		}
		if tlsConfig.ClientSessionCache == nil {
			tlsConfig.ClientSessionCache = tls.NewLRUClientSessionCache(0)
		}
	}

	id := uuid.NewString()
	return &Client{
		cfg:       cfg,
		profile:   profile,
		tlsConfig: tlsConfig,
		logger:    cfg.logger.With("session", id, "server", profile.Addr()),
		id:        id,
		epsvOff:   cfg.disableEPSV,
	}, nil
}

// ID returns the session identifier attached to every log record.
func (c *Client) ID() string {
	return c.id
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that moved the client to StateFailed, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// LastReply returns the most recent reply read from the control channel.
func (c *Client) LastReply() *Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReply
}

func (c *Client) setLastReply(resp *Response) {
	c.mu.Lock()
	c.lastReply = resp
	c.mu.Unlock()
}

func (c *Client) control() (net.Conn, *bufio.Reader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn, c.reader
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	c.logger.Debug("state change", "from", prev, "to", s)
}

// require checks the lifecycle position before an operation runs.
func (c *Client) require(op string, allowed ...State) error {
	c.mu.Lock()
	s := c.state
	c.mu.Unlock()
	if slices.Contains(allowed, s) {
		return nil
	}
	return fmt.Errorf("%w: %s while %s", ErrInvalidState, op, s)
}

// fail moves the client to StateFailed. When ctx is done the failure is
// classified as KindCanceled, whatever step noticed it.
func (c *Client) fail(ctx context.Context, kind Kind, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		kind = KindCanceled
		err = fmt.Errorf("%w (%v)", ctxErr, err)
	}
	e := newError(kind, op, err)

	c.mu.Lock()
	prev := c.state
	c.state = StateFailed
	if c.err == nil {
		c.err = e
	}
	c.mu.Unlock()

	c.logger.Debug("state change", "from", prev, "to", StateFailed, "error", e)
	return e
}

// Connect opens the control connection and reads the server greeting.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.require("connect", StateDisconnected); err != nil {
		return err
	}

	addr := c.profile.Addr()
	c.logger.Debug("connecting to ftp server", "addr", addr)

	conn, err := c.dial(ctx, addr)
	if err != nil {
		return c.fail(ctx, KindConnect, "connect", fmt.Errorf("failed to connect: %w", err))
	}

	c.mu.Lock()
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.mu.Unlock()

	resp, err := c.readReply(ctx)
	if err != nil {
		return c.fail(ctx, KindConnect, "connect", fmt.Errorf("failed to read greeting: %w", err))
	}

	// 120: service ready in nnn minutes, the 220 follows
	if resp.Code == 120 {
		if resp, err = c.readReply(ctx); err != nil {
			return c.fail(ctx, KindConnect, "connect", fmt.Errorf("failed to read greeting: %w", err))
		}
	}

	if resp.Code != 220 {
		return c.fail(ctx, KindConnect, "connect", replyError("CONNECT", resp))
	}

	c.setState(StateTCPConnected)
	return nil
}

// Secure upgrades the control connection with AUTH TLS before any
// credentials are sent.
func (c *Client) Secure(ctx context.Context) error {
	if err := c.require("secure", StateTCPConnected); err != nil {
		return err
	}

	resp, err := c.sendCommand(ctx, "AUTH", "TLS")
	if err != nil {
		return c.fail(ctx, KindTLS, "secure", fmt.Errorf("AUTH TLS failed: %w", err))
	}
	if resp.Code != 234 {
		return c.fail(ctx, KindTLS, "secure", replyError("AUTH TLS", resp))
	}

	if c.cfg.trust.Insecure() && c.cfg.tlsConfig == nil {
		c.logger.Warn("server certificate is not verified (insecure trust policy)")
	}

	c.logger.Debug("starting TLS handshake", "mode", "explicit")
	c.cmdMu.Lock()
	conn, _ := c.control()
	tlsConn := tls.Client(conn, c.tlsConfig)
	err = conn.SetDeadline(deadline(ctx, c.cfg.timeout))
	if err == nil {
		err = tlsConn.HandshakeContext(ctx)
	}
	if err != nil {
		c.cmdMu.Unlock()
		return c.fail(ctx, KindTLS, "secure", fmt.Errorf("TLS handshake failed: %w", err))
	}

	c.mu.Lock()
	c.conn = tlsConn
	c.reader = bufio.NewReader(tlsConn)
	c.mu.Unlock()
	c.cmdMu.Unlock()

	st := tlsConn.ConnectionState()
	c.logger.Debug("TLS handshake complete", "mode", "explicit",
		"version", tls.VersionName(st.Version), "cipher", tls.CipherSuiteName(st.CipherSuite))

	c.setState(StateTLSEstablished)
	return nil
}

// Login authenticates with USER and PASS. Any negative reply is KindAuth.
func (c *Client) Login(ctx context.Context, username, password string) error {
	if err := c.require("login", StateTLSEstablished); err != nil {
		return err
	}

	resp, err := c.sendCommand(ctx, "USER", username)
	if err != nil {
		return c.fail(ctx, KindProtocol, "login", err)
	}

	switch {
	case resp.Code == 230:
		// no password required
	case resp.Code == 331:
		resp, err = c.sendCommand(ctx, "PASS", password)
		if err != nil {
			return c.fail(ctx, KindProtocol, "login", err)
		}
		if !resp.Is2xx() {
			return c.fail(ctx, KindAuth, "login", replyError("PASS", resp))
		}
	default:
		return c.fail(ctx, KindAuth, "login", replyError("USER", resp))
	}

	c.logger.Debug("logged in", "user", username)
	c.setState(StateAuthenticated)
	return nil
}

// ProtectDataChannel sends PBSZ 0 and PROT P. There is no fallback to a
// clear data channel: a refusal is fatal.
func (c *Client) ProtectDataChannel(ctx context.Context) error {
	if err := c.require("protect", StateAuthenticated); err != nil {
		return err
	}

	if _, err := c.expect2xx(ctx, "PBSZ", "0"); err != nil {
		return c.fail(ctx, KindProtocol, "protect", fmt.Errorf("PBSZ failed: %w", err))
	}
	if _, err := c.expect2xx(ctx, "PROT", "P"); err != nil {
		return c.fail(ctx, KindProtocol, "protect", fmt.Errorf("PROT failed: %w", err))
	}

	c.mu.Lock()
	c.protected = true
	c.mu.Unlock()
	return nil
}

// ChangeDir selects the remote directory. An empty path keeps the login
// directory.
func (c *Client) ChangeDir(ctx context.Context, path string) error {
	if err := c.require("cwd", StateAuthenticated); err != nil {
		return err
	}

	if path != "" {
		if _, err := c.expect2xx(ctx, "CWD", path); err != nil {
			return c.fail(ctx, KindProtocol, "cwd", err)
		}
	}

	c.setState(StateDirectorySet)
	return nil
}

// Binary sets TYPE I, after which the channel is ready for a transfer.
func (c *Client) Binary(ctx context.Context) error {
	if err := c.require("type", StateDirectorySet); err != nil {
		return err
	}

	if _, err := c.expect2xx(ctx, "TYPE", "I"); err != nil {
		return c.fail(ctx, KindProtocol, "type", err)
	}

	c.setState(StateIdle)
	return nil
}

// Passive asks the server for a data endpoint, trying EPSV before PASV,
// and returns it as host:port.
func (c *Client) Passive(ctx context.Context) (string, error) {
	if err := c.require("passive", StateIdle); err != nil {
		return "", err
	}
	c.mu.Lock()
	protected, epsvOff := c.protected, c.epsvOff
	c.mu.Unlock()
	if !protected {
		return "", fmt.Errorf("%w: passive before PROT P", ErrInvalidState)
	}

	peer := c.peerHost()
	var addr string

	if !epsvOff {
		resp, err := c.sendCommand(ctx, "EPSV")
		if err != nil {
			return "", c.fail(ctx, KindProtocol, "passive", fmt.Errorf("EPSV failed: %w", err))
		}
		if resp.Is2xx() {
			port, perr := parseEPSV(resp.String())
			if perr != nil {
				return "", c.fail(ctx, KindDataChannel, "passive", perr)
			}
			addr = net.JoinHostPort(peer, port)
		} else {
			// 500/502: not understood, do not ask again
			c.mu.Lock()
			c.epsvOff = true
			c.mu.Unlock()
		}
	}

	if addr == "" {
		resp, err := c.sendCommand(ctx, "PASV")
		if err != nil {
			return "", c.fail(ctx, KindProtocol, "passive", fmt.Errorf("PASV failed: %w", err))
		}
		if !resp.Is2xx() {
			return "", c.fail(ctx, KindProtocol, "passive", replyError("PASV", resp))
		}

		addr, err = parsePASV(resp.String())
		if err != nil {
			return "", c.fail(ctx, KindDataChannel, "passive", err)
		}
		addr = resolveDataAddr(addr, peer)
	}

	c.logger.Debug("passive endpoint", "addr", addr)
	c.setState(StateAwaitingDataChannel)
	return addr, nil
}

// peerHost is the IP the control connection reached. Data endpoints reuse
// it instead of resolving the profile host again.
func (c *Client) peerHost() string {
	conn, _ := c.control()
	if conn != nil {
		if host, _, err := net.SplitHostPort(conn.RemoteAddr().String()); err == nil {
			return host
		}
	}
	return c.profile.Host
}

// Store sends STOR for remoteName. The data channel must already be dialed;
// only a positive preliminary (1xx) reply lets the transfer start.
func (c *Client) Store(ctx context.Context, remoteName string) error {
	if err := c.require("store", StateAwaitingDataChannel); err != nil {
		return err
	}
	c.mu.Lock()
	dc := c.data
	c.mu.Unlock()
	if dc == nil {
		return fmt.Errorf("%w: store before the data channel was dialed", ErrInvalidState)
	}

	resp, err := c.sendCommand(ctx, "STOR", remoteName)
	if err != nil {
		_ = dc.Close()
		return c.fail(ctx, KindProtocol, "store", err)
	}
	if !resp.Is1xx() {
		_ = dc.Close()
		return c.fail(ctx, KindProtocol, "store", replyError("STOR", resp))
	}

	c.mu.Lock()
	c.pending = "STOR " + remoteName
	c.mu.Unlock()
	c.setState(StateTransferring)
	return nil
}

// Complete reads the final reply of the transfer. It must only be called
// once the data channel is closed: the server sends this reply after it
// has seen end-of-data. Bytes having been written is not success; only a
// 2xx reply is.
func (c *Client) Complete(ctx context.Context, dc *DataChannel) (*Response, error) {
	if dc == nil || !dc.Closed() {
		return nil, ErrDataChannelOpen
	}
	if err := c.require("complete", StateAwaitingCompletion); err != nil {
		return nil, err
	}

	resp, err := c.readReply(ctx)
	if err != nil {
		return nil, c.fail(ctx, KindCompletion, "complete", fmt.Errorf("failed to read completion response: %w", err))
	}

	c.mu.Lock()
	cmd := c.pending
	c.pending = ""
	c.mu.Unlock()

	c.logger.Debug("ftp data transfer complete", "code", resp.Code, "message", resp.Message)

	if !resp.Is2xx() {
		return resp, c.fail(ctx, KindCompletion, "complete", replyError(cmd, resp))
	}

	c.setState(StateCompleted)
	return resp, nil
}

// Size returns the size of a remote file using the SIZE command. It does
// not change the lifecycle state.
func (c *Client) Size(ctx context.Context, path string) (int64, error) {
	if err := c.require("size", StateIdle, StateCompleted); err != nil {
		return 0, err
	}

	resp, err := c.expect2xx(ctx, "SIZE", path)
	if err != nil {
		return 0, newError(KindProtocol, "size", err)
	}

	size, err := strconv.ParseInt(firstField(resp.Message), 10, 64)
	if err != nil {
		return 0, newError(KindProtocol, "size", fmt.Errorf("invalid SIZE response: %s", resp.Message))
	}
	return size, nil
}

func firstField(s string) string {
	for i, r := range s {
		if r == ' ' || r == '\t' {
			return s[:i]
		}
	}
	return s
}

// Disconnect sends QUIT when it can and closes every socket. It never
// fails and is a no-op when the client is already closed or never
// connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn, dc := c.conn, c.data
	prev := c.state
	c.mu.Unlock()

	var result *multierror.Error

	if dc != nil && !dc.Closed() {
		result = multierror.Append(result, dc.Close())
	}

	// An in-flight command means an abort is underway on another
	// goroutine; QUIT would interleave with it.
	if c.cmdMu.TryLock() {
		result = multierror.Append(result, c.quit(conn))
		c.cmdMu.Unlock()
	}

	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		result = multierror.Append(result, err)
	}

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()

	if err := result.ErrorOrNil(); err != nil {
		c.logger.Debug("disconnect", "from", prev, "error", err)
	} else {
		c.logger.Debug("disconnect", "from", prev)
	}
}

func (c *Client) quit(conn net.Conn) error {
	if err := conn.SetDeadline(time.Now().Add(quitTimeout)); err != nil {
		return err
	}
	if _, err := fmt.Fprint(conn, "QUIT\r\n"); err != nil {
		return err
	}
	_, reader := c.control()
	resp, err := readResponse(reader)
	if err != nil {
		return err
	}
	c.logger.Debug("ftp response", "code", resp.Code, "message", resp.Message)
	return nil
}

// abort closes the sockets without a QUIT. It is the cancellation path:
// blocked reads and writes return with an error and the caller finishes
// with Disconnect.
func (c *Client) abort() {
	c.mu.Lock()
	conn, dc := c.conn, c.data
	c.mu.Unlock()

	c.logger.Debug("aborting session")
	if dc != nil {
		_ = dc.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
}
