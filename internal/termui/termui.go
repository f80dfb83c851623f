// Package termui renders the command line tool's output: colored status
// lines, outcome and listing tables, upload progress and the password
// prompt.
package termui

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gonzalop/ftps"
	"github.com/gonzalop/ftps/internal/remotels"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"golang.org/x/term"
)

// ErrNoTerminal is returned by PromptPassword when input is not a terminal.
var ErrNoTerminal = errors.New("termui: input is not a terminal")

// UI writes human readable output to one writer.
type UI struct {
	out     io.Writer
	success *color.Color
	failure *color.Color
	info    *color.Color
}

// New returns a UI writing to out. noColor disables colors even on a
// terminal.
func New(out io.Writer, noColor bool) *UI {
	ui := &UI{
		out:     out,
		success: color.New(color.FgGreen, color.Bold),
		failure: color.New(color.FgRed, color.Bold),
		info:    color.New(color.FgCyan),
	}
	if noColor {
		for _, c := range []*color.Color{ui.success, ui.failure, ui.info} {
			c.DisableColor()
		}
	}
	return ui
}

// Successf prints a green status line.
func (u *UI) Successf(format string, args ...any) {
	u.success.Fprintf(u.out, "✔ "+format+"\n", args...)
}

// Failuref prints a red status line.
func (u *UI) Failuref(format string, args ...any) {
	u.failure.Fprintf(u.out, "✘ "+format+"\n", args...)
}

// Infof prints an informational line.
func (u *UI) Infof(format string, args ...any) {
	u.info.Fprintf(u.out, format+"\n", args...)
}

func (u *UI) newTable(header ...any) *tablewriter.Table {
	table := tablewriter.NewWriter(u.out)
	table.Header(header...)
	table.Options(
		tablewriter.WithRendition(tw.Rendition{Borders: tw.Border{Left: tw.Pending, Right: tw.Pending, Top: tw.Pending, Bottom: tw.Pending}}),
	)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Header = tw.CellConfig{
			Alignment: tw.CellAlignment{
				Global: tw.AlignLeft,
			},
		}
		cfg.Row = tw.CellConfig{
			Alignment: tw.CellAlignment{
				Global: tw.AlignLeft,
			},
		}
	})
	return table
}

// Outcome prints the status line and a summary table for one attempt.
func (u *UI) Outcome(action string, out ftps.Outcome) error {
	if out.Success {
		u.Successf("%s succeeded", action)
	} else {
		u.Failuref("%s failed (%s)", action, out.Kind)
	}

	table := u.newTable("Field", "Value")
	table.Append([]string{"Session", out.SessionID})
	table.Append([]string{"Bytes sent", formatSize(uint64(max(out.BytesSent, 0)))})
	table.Append([]string{"Duration", out.Duration.Round(time.Millisecond).String()})
	if out.FinalReply != nil {
		table.Append([]string{"Final reply", fmt.Sprintf("%d %s", out.FinalReply.Code, out.FinalReply.Message)})
	}
	if out.Err != nil {
		table.Append([]string{"Error", out.Err.Error()})
	}
	return table.Render()
}

// Listing prints a remote directory listing. The entry called highlight,
// if any, is marked.
func (u *UI) Listing(entries []remotels.Entry, highlight string) error {
	if len(entries) == 0 {
		u.Infof("Directory is empty")
		return nil
	}

	table := u.newTable("Name", "Type", "Size", "Modified")
	for _, e := range entries {
		name := e.Name
		size := formatSize(e.Size)
		if e.IsDir() {
			name += "/"
			size = "-"
		}
		if e.Name == highlight {
			name = "* " + name
		}
		table.Append([]string{name, e.Type, size, e.Modified.Format("Jan 02 15:04")})
	}
	return table.Render()
}

// Progress returns a progress callback that redraws one line on the UI's
// writer at most every interval, and a done func that ends the line.
func (u *UI) Progress(interval time.Duration) (ftps.ProgressFunc, func()) {
	var (
		last  time.Time
		drawn bool
	)
	draw := func(sent, total int64) {
		if total > 0 {
			pct := float64(sent) * 100 / float64(total)
			fmt.Fprintf(u.out, "\r%s / %s (%.0f%%)", formatSize(uint64(sent)), formatSize(uint64(total)), pct)
		} else {
			fmt.Fprintf(u.out, "\r%s", formatSize(uint64(sent)))
		}
		drawn = true
	}
	progress := func(sent, total int64) {
		now := time.Now()
		if sent != total && now.Sub(last) < interval {
			return
		}
		last = now
		draw(sent, total)
	}
	done := func() {
		if drawn {
			fmt.Fprintln(u.out)
		}
	}
	return progress, done
}

// PromptPassword reads a password from in without echo.
func PromptPassword(in *os.File, out io.Writer, prompt string) (string, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return "", ErrNoTerminal
	}
	fmt.Fprint(out, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

// formatSize formats a file size in human-readable format
func formatSize(size uint64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := uint64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
