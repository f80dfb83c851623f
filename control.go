package ftps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Response represents an FTP server reply.
type Response struct {
	// Code is the three-digit response code (e.g., 220, 550)
	Code int

	// Message is the human-readable message from the server
	Message string

	// Lines contains all lines of the response (for multi-line responses)
	Lines []string
}

// Is1xx returns true for a positive preliminary reply.
func (r *Response) Is1xx() bool {
	return r.Code >= 100 && r.Code < 200
}

// Is2xx returns true if the response code is in the 2xx range (success).
func (r *Response) Is2xx() bool {
	return r.Code >= 200 && r.Code < 300
}

// Is3xx returns true if the response code is in the 3xx range (intermediate).
func (r *Response) Is3xx() bool {
	return r.Code >= 300 && r.Code < 400
}

// Is4xx returns true if the response code is in the 4xx range (temporary failure).
func (r *Response) Is4xx() bool {
	return r.Code >= 400 && r.Code < 500
}

// Is5xx returns true if the response code is in the 5xx range (permanent failure).
func (r *Response) Is5xx() bool {
	return r.Code >= 500 && r.Code < 600
}

// String returns the full response as a string.
func (r *Response) String() string {
	return strings.Join(r.Lines, "\n")
}

// readResponse reads a complete FTP reply from the reader.
//
// Single-line format: "220 Welcome\r\n"
// Multi-line format:
//
//	"220-Welcome to FTP\r\n"
//	"220-This is line 2\r\n"
//	"220 Ready\r\n"
//
// The reply is complete when a line starts with the code followed by a space.
func readResponse(r *bufio.Reader) (*Response, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}

	line = strings.TrimRight(line, "\r\n")
	if len(line) < 4 {
		// "200" alone is tolerated, a few servers omit the trailing space
		if len(line) != 3 {
			return nil, fmt.Errorf("invalid response line: %q", line)
		}
		line += " "
	}

	code, err := strconv.Atoi(line[0:3])
	if err != nil || code < 100 || code > 599 {
		return nil, fmt.Errorf("invalid response code: %q", line[0:3])
	}

	lines := []string{line}

	switch line[3] {
	case ' ':
		return &Response{Code: code, Message: line[4:], Lines: lines}, nil
	case '-':
	default:
		return nil, fmt.Errorf("invalid response format: %q", line)
	}

	if err := readMultiLine(r, line[0:3], &lines); err != nil {
		return nil, err
	}

	messageLines := make([]string, 0, len(lines))
	for _, l := range lines {
		if len(l) > 4 && l[0:3] == line[0:3] {
			messageLines = append(messageLines, l[4:])
		} else {
			messageLines = append(messageLines, strings.TrimSpace(l))
		}
	}

	return &Response{
		Code:    code,
		Message: strings.Join(messageLines, "\n"),
		Lines:   lines,
	}, nil
}

// readMultiLine consumes continuation lines until "<code> " is seen.
// Lines that do not start with the code are free text (RFC 959 allows it).
func readMultiLine(r *bufio.Reader, code string, lines *[]string) error {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return err
		}

		line = strings.TrimRight(line, "\r\n")
		*lines = append(*lines, line)

		if len(line) >= 4 && line[0:3] == code && line[3] == ' ' {
			return nil
		}
		if len(line) == 3 && line == code {
			return nil
		}
	}
}

// sendCommand sends one command and waits for its reply. Commands are never
// pipelined: cmdMu is held for the whole round trip.
func (c *Client) sendCommand(ctx context.Context, command string, args ...string) (*Response, error) {
	cmd := command
	if len(args) > 0 {
		cmd = command + " " + strings.Join(args, " ")
	}
	if strings.ContainsAny(cmd, "\r\n") {
		return nil, fmt.Errorf("command contains line break: %q", command)
	}

	logged := cmd
	if command == "PASS" {
		logged = "PASS ****"
	}
	c.logger.Debug("ftp command", "cmd", logged)

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, reader := c.control()
	if conn == nil {
		return nil, fmt.Errorf("control connection not open")
	}

	if err := conn.SetDeadline(deadline(ctx, c.cfg.timeout)); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	if _, err := fmt.Fprintf(conn, "%s\r\n", cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	resp, err := readResponse(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("ftp response", "code", resp.Code, "message", resp.Message)
	c.setLastReply(resp)
	return resp, nil
}

// readReply reads a reply that was not triggered by a new command: the
// greeting, and the deferred final reply of a transfer.
func (c *Client) readReply(ctx context.Context) (*Response, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, reader := c.control()
	if conn == nil {
		return nil, fmt.Errorf("control connection not open")
	}

	if err := conn.SetReadDeadline(deadline(ctx, c.cfg.timeout)); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	resp, err := readResponse(reader)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("ftp response", "code", resp.Code, "message", resp.Message)
	c.setLastReply(resp)
	return resp, nil
}

// expect2xx sends a command and verifies the response is in the 2xx range.
// Transport errors are returned as-is; a negative reply is a *ProtocolError.
func (c *Client) expect2xx(ctx context.Context, command string, args ...string) (*Response, error) {
	resp, err := c.sendCommand(ctx, command, args...)
	if err != nil {
		return nil, err
	}

	if !resp.Is2xx() {
		return resp, replyError(command, resp)
	}

	return resp, nil
}
