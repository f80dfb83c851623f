// Package remotels lists a remote directory over FTPS so that the command
// line tool can show the user where an upload landed. It is a read-only
// convenience on its own connection; the upload path never depends on it.
package remotels

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gonzalop/ftps"
	"github.com/jlaffaye/ftp"
)

// Entry is one line of a directory listing.
type Entry struct {
	Name     string
	Type     string // file, folder or link
	Size     uint64
	Modified time.Time
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool {
	return e.Type == ftp.EntryTypeFolder.String()
}

// Options control the listing connection.
type Options struct {
	// TLSConfig secures the control and data connections. It must not be
	// nil: the listing never runs in the clear.
	TLSConfig *tls.Config

	Timeout     time.Duration
	DisableEPSV bool
}

// List logs in to the server of profile and lists dir, or the profile's
// directory when dir is empty. Entries are sorted by name.
func List(ctx context.Context, profile ftps.Profile, dir string, opts Options) ([]Entry, error) {
	if opts.TLSConfig == nil {
		return nil, errors.New("remotels: TLS config required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	conn, err := ftp.Dial(profile.Addr(),
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(opts.Timeout),
		ftp.DialWithExplicitTLS(opts.TLSConfig),
		ftp.DialWithDisabledEPSV(opts.DisableEPSV),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(profile.Username, profile.Password); err != nil {
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	if dir == "" {
		dir = profile.Directory
	}
	raw, err := conn.List(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", dir, err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, e := range raw {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		entries = append(entries, Entry{
			Name:     e.Name,
			Type:     e.Type.String(),
			Size:     e.Size,
			Modified: e.Time,
		})
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		return strings.Compare(a.Name, b.Name)
	})
	return entries, nil
}

// Find returns the entry called name.
func Find(entries []Entry, name string) (Entry, bool) {
	i := slices.IndexFunc(entries, func(e Entry) bool { return e.Name == name })
	if i < 0 {
		return Entry{}, false
	}
	return entries[i], true
}
