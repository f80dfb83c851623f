package ftps

import (
	"errors"
	"fmt"
)

// Kind classifies why an upload attempt or connection test failed.
type Kind int

const (
	// KindNone means no failure.
	KindNone Kind = iota
	// KindConnect is a TCP connect failure, connect timeout or bad greeting.
	KindConnect
	// KindTLS is a refused AUTH TLS or a failed control channel handshake.
	KindTLS
	// KindAuth means the server rejected the credentials.
	KindAuth
	// KindProtocol is an unexpected or negative reply to a control command.
	KindProtocol
	// KindDataChannel is an unparsable passive reply or a data socket that
	// could not be opened or secured.
	KindDataChannel
	// KindTransferIO is a read or write failure while streaming bytes.
	KindTransferIO
	// KindCompletion is a negative final reply after the data was sent.
	KindCompletion
	// KindCanceled means the caller's context ended the attempt.
	KindCanceled
)

var kindNames = map[Kind]string{
	KindNone:        "none",
	KindConnect:     "connect",
	KindTLS:         "tls",
	KindAuth:        "auth",
	KindProtocol:    "protocol",
	KindDataChannel: "data-channel",
	KindTransferIO:  "transfer-io",
	KindCompletion:  "completion",
	KindCanceled:    "canceled",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var (
	// ErrInvalidState is returned when an operation is called out of order,
	// e.g. Store before Passive or Login before Secure.
	ErrInvalidState = errors.New("ftps: operation not valid in current state")

	// ErrDataChannelOpen is returned by Complete when the data channel has
	// not been closed yet. The server only sends the final reply after it
	// has seen end-of-data.
	ErrDataChannelOpen = errors.New("ftps: data channel still open")

	// ErrInvalidProfile is returned when a Profile fails validation.
	ErrInvalidProfile = errors.New("ftps: invalid server profile")
)

// Error is a classified failure. Op names the step that failed
// (e.g. "connect", "login", "complete") and Err carries the cause,
// frequently a *ProtocolError with the server's reply.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ftps: %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the classification of err, KindNone for a nil error and
// KindProtocol for errors that were not produced by this package.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindProtocol
}

// ProtocolError represents an FTP protocol error with full context of the
// command/response conversation.
type ProtocolError struct {
	// Command is the FTP command that was sent (e.g., "STOR file.txt")
	Command string

	// Response is the message received from the server (e.g., "Permission denied")
	Response string

	// Code is the numeric FTP response code (e.g., 550)
	Code int
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ftp: %s failed: %s (code %d)", e.Command, e.Response, e.Code)
}

// Is2xx returns true if the error code is in the 2xx range (success).
func (e *ProtocolError) Is2xx() bool {
	return e.Code >= 200 && e.Code < 300
}

// Is3xx returns true if the error code is in the 3xx range (intermediate).
func (e *ProtocolError) Is3xx() bool {
	return e.Code >= 300 && e.Code < 400
}

// Is4xx returns true if the error code is in the 4xx range (temporary failure).
func (e *ProtocolError) Is4xx() bool {
	return e.Code >= 400 && e.Code < 500
}

// Is5xx returns true if the error code is in the 5xx range (permanent failure).
func (e *ProtocolError) Is5xx() bool {
	return e.Code >= 500 && e.Code < 600
}

// IsTemporary returns true if the error is a temporary failure (4xx).
func (e *ProtocolError) IsTemporary() bool {
	return e.Is4xx()
}

// IsPermanent returns true if the error is a permanent failure (5xx).
func (e *ProtocolError) IsPermanent() bool {
	return e.Is5xx()
}

func replyError(command string, resp *Response) *ProtocolError {
	return &ProtocolError{
		Command:  command,
		Response: resp.Message,
		Code:     resp.Code,
	}
}
