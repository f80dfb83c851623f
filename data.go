package ftps

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"sync"
	"time"
)

var (
	// pasvRegex matches the PASV response format: 227 Entering Passive Mode (h1,h2,h3,h4,p1,p2)
	pasvRegex = regexp.MustCompile(`(\d+),(\d+),(\d+),(\d+),(\d+),(\d+)`)

	// epsvRegex matches the EPSV response format: 229 Entering Extended Passive Mode (|||port|)
	epsvRegex = regexp.MustCompile(`\(\|\|\|(\d+)\|\)`)
)

// parsePASV parses a PASV response and returns the host and port.
// Example: "227 Entering Passive Mode (192,168,1,1,195,149)"
// Returns: "192.168.1.1:50069" (195*256 + 149 = 50069)
//
// The parentheses are optional, some servers omit them.
func parsePASV(response string) (string, error) {
	matches := pasvRegex.FindStringSubmatch(response)
	if len(matches) != 7 {
		return "", fmt.Errorf("invalid PASV response: %s", response)
	}

	var h [4]byte
	for i := 0; i < 4; i++ {
		val, err := strconv.Atoi(matches[i+1])
		if err != nil || val < 0 || val > 255 {
			return "", fmt.Errorf("invalid PASV IP part: %s", matches[i+1])
		}
		h[i] = byte(val)
	}
	host := net.IPv4(h[0], h[1], h[2], h[3]).String()

	p1, err1 := strconv.Atoi(matches[5])
	p2, err2 := strconv.Atoi(matches[6])
	if err1 != nil || err2 != nil || p1 < 0 || p1 > 255 || p2 < 0 || p2 > 255 {
		return "", fmt.Errorf("invalid PASV port parts: %s, %s", matches[5], matches[6])
	}
	port := p1*256 + p2
	if port == 0 {
		return "", fmt.Errorf("invalid PASV port 0")
	}

	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// parseEPSV parses an EPSV response and returns the port.
// Example: "229 Entering Extended Passive Mode (|||6446|)"
// Returns: "6446"
func parseEPSV(response string) (string, error) {
	matches := epsvRegex.FindStringSubmatch(response)
	if len(matches) != 2 {
		return "", fmt.Errorf("invalid EPSV response: %s", response)
	}

	port, err := strconv.Atoi(matches[1])
	if err != nil || port <= 0 || port > 65535 {
		return "", fmt.Errorf("invalid EPSV port: %s", matches[1])
	}

	return strconv.Itoa(port), nil
}

// resolveDataAddr resolves the data connection address.
// If the PASV response contains an unspecified address (0.0.0.0), it is
// replaced with the control connection host.
func resolveDataAddr(pasvAddr, controlHost string) string {
	host, port, err := net.SplitHostPort(pasvAddr)
	if err != nil {
		return pasvAddr
	}

	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		return net.JoinHostPort(controlHost, port)
	}

	return pasvAddr
}

// DataChannel is the per-transfer connection that carries the file bytes.
// It is closed exactly once; later Close calls return the first result.
type DataChannel struct {
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn

	once     sync.Once
	closeErr error
	done     chan struct{}
	onClose  func()
}

func newDataChannel(conn net.Conn, timeout time.Duration, onClose func()) *DataChannel {
	return &DataChannel{
		timeout: timeout,
		conn:    conn,
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

func (d *DataChannel) current() net.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn
}

// Write writes to the data connection with the per-operation timeout.
func (d *DataChannel) Write(p []byte) (int, error) {
	if d.Closed() {
		return 0, net.ErrClosed
	}
	dc := deadlineConn{Conn: d.current(), timeout: d.timeout}
	return dc.Write(p)
}

// Read reads from the data connection with the per-operation timeout.
func (d *DataChannel) Read(p []byte) (int, error) {
	if d.Closed() {
		return 0, net.ErrClosed
	}
	dc := deadlineConn{Conn: d.current(), timeout: d.timeout}
	return dc.Read(p)
}

// Close closes the connection. For a TLS channel this sends close_notify,
// which the server reads as end-of-data.
func (d *DataChannel) Close() error {
	d.once.Do(func() {
		conn := d.current()
		if d.timeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(d.timeout))
		}
		d.closeErr = conn.Close()
		close(d.done)
		if d.onClose != nil {
			d.onClose()
		}
	})
	return d.closeErr
}

// Closed reports whether Close has run.
func (d *DataChannel) Closed() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Done is closed once the data channel is closed.
func (d *DataChannel) Done() <-chan struct{} {
	return d.done
}

// Secured reports whether the channel runs over TLS.
func (d *DataChannel) Secured() bool {
	_, ok := d.current().(*tls.Conn)
	return ok
}

// Resumed reports whether the TLS session of the control channel was
// resumed on this channel.
func (d *DataChannel) Resumed() bool {
	tc, ok := d.current().(*tls.Conn)
	return ok && tc.ConnectionState().DidResume
}

// DialData opens the TCP connection to the passive endpoint. It happens
// before STOR because servers accept the connection before they answer
// with 1xx; the TLS handshake follows the 1xx in SecureData.
func (c *Client) DialData(ctx context.Context, endpoint string) (*DataChannel, error) {
	if err := c.require("dial data", StateAwaitingDataChannel); err != nil {
		return nil, err
	}

	conn, err := c.dial(ctx, endpoint)
	if err != nil {
		return nil, c.fail(ctx, KindDataChannel, "dial data", fmt.Errorf("failed to connect to data port: %w", err))
	}

	dc := newDataChannel(conn, c.cfg.timeout, c.dataClosed)
	c.mu.Lock()
	c.data = dc
	c.mu.Unlock()

	c.logger.Debug("data connection open", "addr", endpoint)
	return dc, nil
}

// SecureData wraps the data connection in TLS using the control channel's
// config, so the session cached by the control handshake is resumed.
// Servers that require session reuse reject data connections without it.
func (c *Client) SecureData(ctx context.Context, dc *DataChannel) error {
	if err := c.require("secure data", StateTransferring); err != nil {
		return err
	}
	c.mu.Lock()
	protected := c.protected
	c.mu.Unlock()
	if !protected {
		return fmt.Errorf("%w: data channel protection was not negotiated", ErrInvalidState)
	}
	if dc.Closed() {
		return c.fail(ctx, KindDataChannel, "secure data", errors.New("data channel closed before handshake"))
	}

	raw := dc.current()
	tlsConn := tls.Client(raw, c.tlsConfig)
	err := raw.SetDeadline(deadline(ctx, c.cfg.timeout))
	if err == nil {
		err = tlsConn.HandshakeContext(ctx)
	}
	if err != nil {
		_ = dc.Close()
		return c.fail(ctx, KindDataChannel, "secure data", fmt.Errorf("data connection TLS handshake failed: %w", err))
	}
	_ = raw.SetDeadline(time.Time{})

	dc.mu.Lock()
	dc.conn = tlsConn
	dc.mu.Unlock()

	resumed := tlsConn.ConnectionState().DidResume
	c.logger.Debug("data connection secured", "resumed", resumed)
	if !resumed {
		c.logger.Warn("TLS session was not resumed on the data connection; strict servers may refuse it")
	}
	return nil
}

// dataClosed is the DataChannel close hook: a running transfer now waits
// for its final reply.
func (c *Client) dataClosed() {
	c.mu.Lock()
	moved := c.state == StateTransferring
	if moved {
		c.state = StateAwaitingCompletion
	}
	c.mu.Unlock()
	if moved {
		c.logger.Debug("state change", "from", StateTransferring, "to", StateAwaitingCompletion)
	}
}
