package ftps

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestReadResponse_SingleLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		wantCode int
		wantMsg  string
		wantErr  bool
	}{
		{
			name:     "simple success",
			input:    "220 Welcome\r\n",
			wantCode: 220,
			wantMsg:  "Welcome",
		},
		{
			name:     "error response",
			input:    "550 File not found\r\n",
			wantCode: 550,
			wantMsg:  "File not found",
		},
		{
			name:     "code with no message",
			input:    "200 \r\n",
			wantCode: 200,
			wantMsg:  "",
		},
		{
			name:     "bare code",
			input:    "226\r\n",
			wantCode: 226,
			wantMsg:  "",
		},
		{
			name:     "bare LF",
			input:    "150 Ok to send data.\n",
			wantCode: 150,
			wantMsg:  "Ok to send data.",
		},
		{
			name:    "non numeric code",
			input:   "abc hello\r\n",
			wantErr: true,
		},
		{
			name:    "code out of range",
			input:   "099 too low\r\n",
			wantErr: true,
		},
		{
			name:    "bad separator",
			input:   "220_Welcome\r\n",
			wantErr: true,
		},
		{
			name:    "too short",
			input:   "22\r\n",
			wantErr: true,
		},
		{
			name:    "empty stream",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := bufio.NewReader(strings.NewReader(tt.input))
			resp, err := readResponse(reader)

			if (err != nil) != tt.wantErr {
				t.Errorf("readResponse() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if err == nil {
				if resp.Code != tt.wantCode {
					t.Errorf("readResponse() code = %v, want %v", resp.Code, tt.wantCode)
				}
				if resp.Message != tt.wantMsg {
					t.Errorf("readResponse() message = %q, want %q", resp.Message, tt.wantMsg)
				}
			}
		})
	}
}

func TestReadResponse_MultiLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		wantCode int
		wantMsg  string
		wantErr  bool
	}{
		{
			name: "multi-line greeting",
			input: "220-Welcome to FTP\r\n" +
				"220-This is line 2\r\n" +
				"220 Ready\r\n",
			wantCode: 220,
			wantMsg:  "Welcome to FTP\nThis is line 2\nReady",
		},
		{
			name: "transfer complete",
			input: "226-Transfer complete\r\n" +
				"226 Closing data connection\r\n",
			wantCode: 226,
			wantMsg:  "Transfer complete\nClosing data connection",
		},
		{
			name: "free text continuation",
			input: "230-Welcome\r\n" +
				"  please behave\r\n" +
				"230 Login successful.\r\n",
			wantCode: 230,
			wantMsg:  "Welcome\nplease behave\nLogin successful.",
		},
		{
			name: "truncated reply",
			input: "220-Welcome\r\n" +
				"220-still going\r\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := bufio.NewReader(strings.NewReader(tt.input))
			resp, err := readResponse(reader)

			if (err != nil) != tt.wantErr {
				t.Errorf("readResponse() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if err == nil {
				if resp.Code != tt.wantCode {
					t.Errorf("readResponse() code = %v, want %v", resp.Code, tt.wantCode)
				}
				if resp.Message != tt.wantMsg {
					t.Errorf("readResponse() message = %q, want %q", resp.Message, tt.wantMsg)
				}
			}
		})
	}
}

func TestReadResponse_TruncatedIsUnexpectedEOF(t *testing.T) {
	t.Parallel()
	reader := bufio.NewReader(strings.NewReader("211-Features:\r\n SIZE\r\n"))
	_, err := readResponse(reader)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("readResponse() error = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestReadResponse_Sequence(t *testing.T) {
	t.Parallel()
	// The 1xx preliminary and the final reply of a STOR arrive back to back.
	reader := bufio.NewReader(strings.NewReader("150 Ok to send data.\r\n226 Transfer complete.\r\n"))

	first, err := readResponse(reader)
	if err != nil {
		t.Fatalf("first reply: %v", err)
	}
	second, err := readResponse(reader)
	if err != nil {
		t.Fatalf("second reply: %v", err)
	}

	if !first.Is1xx() || !second.Is2xx() {
		t.Errorf("got %d then %d, want 150 then 226", first.Code, second.Code)
	}
}

func TestResponse_CodeChecks(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code  int
		is1xx bool
		is2xx bool
		is3xx bool
		is4xx bool
		is5xx bool
	}{
		{150, true, false, false, false, false},
		{200, false, true, false, false, false},
		{220, false, true, false, false, false},
		{331, false, false, true, false, false},
		{452, false, false, false, true, false},
		{550, false, false, false, false, true},
	}

	for _, tt := range tests {
		resp := &Response{Code: tt.code}

		if resp.Is1xx() != tt.is1xx {
			t.Errorf("Response{%d}.Is1xx() = %v, want %v", tt.code, resp.Is1xx(), tt.is1xx)
		}
		if resp.Is2xx() != tt.is2xx {
			t.Errorf("Response{%d}.Is2xx() = %v, want %v", tt.code, resp.Is2xx(), tt.is2xx)
		}
		if resp.Is3xx() != tt.is3xx {
			t.Errorf("Response{%d}.Is3xx() = %v, want %v", tt.code, resp.Is3xx(), tt.is3xx)
		}
		if resp.Is4xx() != tt.is4xx {
			t.Errorf("Response{%d}.Is4xx() = %v, want %v", tt.code, resp.Is4xx(), tt.is4xx)
		}
		if resp.Is5xx() != tt.is5xx {
			t.Errorf("Response{%d}.Is5xx() = %v, want %v", tt.code, resp.Is5xx(), tt.is5xx)
		}
	}
}

func TestProtocolError(t *testing.T) {
	t.Parallel()
	err := &ProtocolError{
		Command:  "STOR file.txt",
		Response: "Insufficient storage",
		Code:     452,
	}

	if !err.Is4xx() {
		t.Error("ProtocolError with code 452 should be Is4xx()")
	}

	if !err.IsTemporary() {
		t.Error("ProtocolError with code 452 should be IsTemporary()")
	}

	if err.IsPermanent() {
		t.Error("ProtocolError with code 452 should not be IsPermanent()")
	}

	expectedMsg := "ftp: STOR file.txt failed: Insufficient storage (code 452)"
	if err.Error() != expectedMsg {
		t.Errorf("ProtocolError.Error() = %q, want %q", err.Error(), expectedMsg)
	}
}

func TestReadResponse_RFC2389(t *testing.T) {
	t.Parallel()
	// Example from RFC 2389 - feature lines start with space
	response := "211-Extensions supported:\r\n" +
		" MLST size*;create;modify*;perm;media-type\r\n" +
		" SIZE\r\n" +
		" COMPRESSION\r\n" +
		" MDTM\r\n" +
		"211 END\r\n"

	reader := bufio.NewReader(strings.NewReader(response))
	resp, err := readResponse(reader)
	if err != nil {
		t.Fatalf("readResponse failed on RFC 2389 payload: %v", err)
	}

	if resp.Code != 211 {
		t.Errorf("expected code 211, got %d", resp.Code)
	}
	if len(resp.Lines) != 6 {
		t.Errorf("expected 6 lines, got %d", len(resp.Lines))
	}
}
