// Package ftptest runs a scripted FTPS server in-process for tests.
//
// The server implements the explicit-TLS upload path (AUTH TLS, USER/PASS,
// PBSZ, PROT, CWD, TYPE, EPSV, PASV, STOR, SIZE, QUIT) over loopback, with a
// self-signed certificate. Replies can be overridden per command to script
// failures, and everything the client did is recorded for assertions.
package ftptest

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const ioTimeout = 5 * time.Second

// Option configures a Server.
type Option func(*Server)

// WithUser adds an account. Without any account, every login succeeds.
func WithUser(user, pass string) Option {
	return func(s *Server) {
		s.users[user] = pass
	}
}

// WithReply replaces the server's reply to command (e.g. "PASS",
// "PASV") with line, such as "530 Login incorrect.". The command has no
// other effect.
func WithReply(command, line string) Option {
	return func(s *Server) {
		s.overrides[strings.ToUpper(command)] = line
	}
}

// WithCompletionReply sets the reply sent after a STOR's data has been
// received, instead of "226 Transfer complete.".
func WithCompletionReply(line string) Option {
	return func(s *Server) {
		s.completion = line
	}
}

// WithGreeting sets the greeting line. An empty greeting means the server
// accepts the connection and stays silent.
func WithGreeting(line string) Option {
	return func(s *Server) {
		s.greeting = line
	}
}

// WithRequireResumption makes STOR fail with 522 when the data channel
// does not resume the control channel's TLS session, as vsftpd's
// require_ssl_reuse does.
func WithRequireResumption() Option {
	return func(s *Server) {
		s.requireResume = true
	}
}

// WithStallData makes STOR accept the data connection and then stop
// reading, so the client blocks on write.
func WithStallData() Option {
	return func(s *Server) {
		s.stall = true
	}
}

// Server is a running scripted FTPS server.
type Server struct {
	// Cert is the self-signed server certificate.
	Cert *x509.Certificate

	t         testing.TB
	ln        net.Listener
	tlsConfig *tls.Config

	overrides     map[string]string
	users         map[string]string
	completion    string
	greeting      string
	requireResume bool
	stall         bool

	mu        sync.Mutex
	commands  []string
	dataConns int
	resumed   []bool
	files     map[string][]byte
	conns     map[net.Conn]struct{}
	closed    bool
	wg        sync.WaitGroup
}

// New starts a server on 127.0.0.1 and registers its shutdown with
// t.Cleanup.
func New(t testing.TB, options ...Option) *Server {
	t.Helper()

	cert, leaf, err := selfSigned()
	if err != nil {
		t.Fatalf("ftptest: certificate: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ftptest: listen: %v", err)
	}

	s := &Server{
		Cert: leaf,
		t:    t,
		ln:   ln,
		tlsConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
		overrides:  make(map[string]string),
		users:      make(map[string]string),
		completion: "226 Transfer complete.",
		greeting:   "220 ftptest ready",
		files:      make(map[string][]byte),
		conns:      make(map[net.Conn]struct{}),
	}
	for _, opt := range options {
		opt(s)
	}

	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Addr returns the control address as host:port.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Host returns the listening IP.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Commands returns the command verbs received, in order, across sessions.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Received reports whether verb was received at least once.
func (s *Server) Received(verb string) bool {
	for _, c := range s.Commands() {
		if c == verb {
			return true
		}
	}
	return false
}

// DataConnections returns how many data connections were accepted.
func (s *Server) DataConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataConns
}

// Resumed returns, per secured data connection, whether it resumed the
// control channel's TLS session.
func (s *Server) Resumed() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.resumed...)
}

// File returns the content stored under name by a completed STOR.
func (s *Server) File(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[name]
	return b, ok
}

// Close stops the server and waits for its sessions.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.ln.Close()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			sess := &session{srv: s, conn: conn, reader: bufio.NewReader(conn)}
			sess.run()
		}()
	}
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	c.Close()
}

func (s *Server) record(verb string) {
	s.mu.Lock()
	s.commands = append(s.commands, verb)
	s.mu.Unlock()
}

type session struct {
	srv    *Server
	conn   net.Conn
	reader *bufio.Reader

	secure   bool
	user     string
	loggedIn bool
	prot     string
	pasv     net.Listener
}

func (s *session) reply(line string) {
	_ = s.conn.SetWriteDeadline(time.Now().Add(ioTimeout))
	fmt.Fprintf(s.conn, "%s\r\n", line)
}

func (s *session) run() {
	defer func() {
		if s.pasv != nil {
			s.pasv.Close()
		}
	}()

	if s.srv.greeting != "" {
		s.reply(s.srv.greeting)
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		verb, arg, _ := strings.Cut(line, " ")
		verb = strings.ToUpper(verb)
		s.srv.record(verb)

		if override, ok := s.srv.overrides[verb]; ok {
			s.reply(override)
			if verb == "QUIT" {
				return
			}
			continue
		}

		if !s.handle(verb, arg) {
			return
		}
	}
}

// handle runs one command and reports whether the session goes on.
func (s *session) handle(verb, arg string) bool {
	switch verb {
	case "AUTH":
		return s.handleAUTH(arg)
	case "USER":
		s.user = arg
		s.loggedIn = false
		s.reply("331 Please specify the password.")
	case "PASS":
		want, known := s.srv.users[s.user]
		if len(s.srv.users) == 0 || (known && want == arg) {
			s.loggedIn = true
			s.reply("230 Login successful.")
		} else {
			s.reply("530 Login incorrect.")
		}
	case "PBSZ":
		if !s.secure {
			s.reply("503 PBSZ needs a secure connection.")
			return true
		}
		s.reply("200 PBSZ=0")
	case "PROT":
		switch strings.ToUpper(arg) {
		case "P", "C":
			s.prot = strings.ToUpper(arg)
			s.reply("200 PROT now " + s.prot + ".")
		default:
			s.reply("504 PROT not implemented.")
		}
	case "CWD":
		if !s.requireLogin() {
			return true
		}
		s.reply("250 Directory successfully changed.")
	case "TYPE":
		s.reply("200 Switching to Binary mode.")
	case "EPSV":
		if !s.requireLogin() {
			return true
		}
		ln, ok := s.listenPassive()
		if !ok {
			return true
		}
		s.reply(fmt.Sprintf("229 Entering Extended Passive Mode (|||%d|)", ln.Addr().(*net.TCPAddr).Port))
	case "PASV":
		if !s.requireLogin() {
			return true
		}
		ln, ok := s.listenPassive()
		if !ok {
			return true
		}
		port := ln.Addr().(*net.TCPAddr).Port
		s.reply(fmt.Sprintf("227 Entering Passive Mode (127,0,0,1,%d,%d).", port/256, port%256))
	case "STOR":
		if !s.requireLogin() {
			return true
		}
		s.handleSTOR(arg)
	case "LIST":
		if !s.requireLogin() {
			return true
		}
		s.handleLIST()
	case "SIZE":
		if b, ok := s.srv.File(arg); ok {
			s.reply("213 " + strconv.Itoa(len(b)))
		} else {
			s.reply("550 Could not get file size.")
		}
	case "NOOP":
		s.reply("200 NOOP ok.")
	case "QUIT":
		s.reply("221 Goodbye.")
		return false
	default:
		s.reply("502 Command not implemented.")
	}
	return true
}

func (s *session) requireLogin() bool {
	if !s.loggedIn {
		s.reply("530 Please login with USER and PASS.")
	}
	return s.loggedIn
}

func (s *session) handleAUTH(arg string) bool {
	if strings.ToUpper(arg) != "TLS" {
		s.reply("504 Only AUTH TLS is supported.")
		return true
	}
	s.reply("234 Proceed with negotiation.")

	tlsConn := tls.Server(s.conn, s.srv.tlsConfig)
	_ = tlsConn.SetDeadline(time.Now().Add(ioTimeout))
	if err := tlsConn.Handshake(); err != nil {
		return false
	}
	_ = tlsConn.SetDeadline(time.Time{})

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.secure = true
	return true
}

func (s *session) listenPassive() (net.Listener, bool) {
	if s.pasv != nil {
		s.pasv.Close()
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		s.reply("425 Can't open passive connection.")
		return nil, false
	}
	s.pasv = ln
	return ln, true
}

func (s *session) acceptData() (net.Conn, error) {
	if s.pasv == nil {
		return nil, errors.New("no passive listener")
	}
	ln := s.pasv
	s.pasv = nil
	defer ln.Close()

	if tl, ok := ln.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(ioTimeout))
	}
	return ln.Accept()
}

func (s *session) handleSTOR(name string) {
	conn, err := s.acceptData()
	if err != nil {
		s.reply("425 Can't open data connection.")
		return
	}
	defer conn.Close()

	s.srv.mu.Lock()
	s.srv.dataConns++
	s.srv.mu.Unlock()

	s.reply("150 Ok to send data.")

	var data net.Conn = conn
	if s.prot == "P" {
		tlsConn := tls.Server(conn, s.srv.tlsConfig)
		_ = tlsConn.SetDeadline(time.Now().Add(ioTimeout))
		if err := tlsConn.Handshake(); err != nil {
			s.reply("522 SSL connection failed.")
			return
		}
		resumed := tlsConn.ConnectionState().DidResume
		s.srv.mu.Lock()
		s.srv.resumed = append(s.srv.resumed, resumed)
		s.srv.mu.Unlock()
		if s.srv.requireResume && !resumed {
			s.reply("522 SSL connection failed: session reuse required.")
			return
		}
		data = tlsConn
	}

	if s.srv.stall {
		// Hold the connection open without reading until the client
		// gives up or the server closes.
		_, _ = s.reader.Peek(1)
		return
	}

	_ = data.SetDeadline(time.Now().Add(ioTimeout))
	body, err := io.ReadAll(data)
	if err != nil {
		s.reply("426 Connection closed; transfer aborted.")
		return
	}

	if strings.HasPrefix(s.srv.completion, "2") {
		s.srv.mu.Lock()
		s.srv.files[name] = body
		s.srv.mu.Unlock()
	}
	s.reply(s.srv.completion)
}

func (s *session) handleLIST() {
	conn, err := s.acceptData()
	if err != nil {
		s.reply("425 Can't open data connection.")
		return
	}
	defer conn.Close()

	s.srv.mu.Lock()
	s.srv.dataConns++
	names := make([]string, 0, len(s.srv.files))
	sizes := make(map[string]int, len(s.srv.files))
	for name, body := range s.srv.files {
		names = append(names, name)
		sizes[name] = len(body)
	}
	s.srv.mu.Unlock()
	slices.Sort(names)

	s.reply("150 Here comes the directory listing.")

	var data net.Conn = conn
	if s.prot == "P" {
		tlsConn := tls.Server(conn, s.srv.tlsConfig)
		_ = tlsConn.SetDeadline(time.Now().Add(ioTimeout))
		if err := tlsConn.Handshake(); err != nil {
			s.reply("522 SSL connection failed.")
			return
		}
		data = tlsConn
	}

	_ = data.SetDeadline(time.Now().Add(ioTimeout))
	for _, name := range names {
		fmt.Fprintf(data, "-rw-r--r--    1 ftp      ftp      %8d Jan 02  2024 %s\r\n", sizes[name], name)
	}
	if tc, ok := data.(*tls.Conn); ok {
		_ = tc.Close()
	} else {
		_ = conn.Close()
	}
	s.reply("226 Directory send OK.")
}
