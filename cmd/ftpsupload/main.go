// Command ftpsupload uploads a file to an FTP server over explicit TLS.
//
//	ftpsupload upload [flags] <file>
//	ftpsupload test   [flags]
//	ftpsupload ls     [flags] [dir]
//
// Server settings come from flags, FTPS_* environment variables or a YAML
// profile file (-profile), in that order of precedence.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gonzalop/ftps"
	"github.com/gonzalop/ftps/internal/config"
	"github.com/gonzalop/ftps/internal/logging"
	"github.com/gonzalop/ftps/internal/remotels"
	"github.com/gonzalop/ftps/internal/termui"
)

const appName = "ftpsupload"

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin *os.File, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return exitUsage
	}

	cmdName, rest := args[0], args[1:]
	switch cmdName {
	case "upload", "test", "ls":
	case "help", "-h", "-help", "--help":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", cmdName)
		printUsage(stderr)
		return exitUsage
	}

	cfg, err := config.Parse(appName+" "+cmdName, rest)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", appName, err)
		return exitUsage
	}

	ui := termui.New(stdout, cfg.NoColor)
	logger := logging.New(appName, cfg.LogLevel, stderr)

	if err := cfg.Validate(); err != nil {
		ui.Failuref("%v", err)
		return exitUsage
	}
	if cfg.Password == "" {
		pw, err := termui.PromptPassword(stdin, stderr, fmt.Sprintf("Password for %s: ", cfg.Profile()))
		if err != nil && !errors.Is(err, termui.ErrNoTerminal) {
			ui.Failuref("%v", err)
			return exitFailure
		}
		cfg.Password = pw
	}

	opts, err := cfg.Options(logger)
	if err != nil {
		ui.Failuref("%v", err)
		return exitUsage
	}

	switch cmdName {
	case "upload":
		return runUpload(ctx, cfg, opts, ui, logger)
	case "test":
		return runTest(ctx, cfg, opts, ui)
	default:
		return runList(ctx, cfg, ui)
	}
}

func runUpload(ctx context.Context, cfg config.Config, opts []ftps.Option, ui *termui.UI, logger *slog.Logger) int {
	if len(cfg.Args) != 1 {
		ui.Failuref("upload needs exactly one file")
		return exitUsage
	}
	path := cfg.Args[0]

	f, err := os.Open(path)
	if err != nil {
		ui.Failuref("%v", err)
		return exitFailure
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		ui.Failuref("%v", err)
		return exitFailure
	}
	if info.IsDir() {
		ui.Failuref("%s is a directory", path)
		return exitUsage
	}

	remoteName := cfg.RemoteName
	if remoteName == "" {
		remoteName = filepath.Base(path)
	}

	progress, done := ui.Progress(200 * time.Millisecond)
	u := ftps.NewUploader(append(opts, ftps.WithProgress(progress))...)

	profile := cfg.Profile()
	ui.Infof("Uploading %s to %s as %s", path, profile, remoteName)

	ok := u.Connect(ctx, profile) && u.Upload(ctx, remoteName, f, info.Size())
	done()
	u.Disconnect()

	out := u.LastOutcome()
	if err := ui.Outcome("upload", out); err != nil {
		logger.Debug("render outcome", "error", err)
	}
	if !ok {
		return exitFailure
	}

	if cfg.Confirm {
		if err := confirm(ctx, cfg, ui, remoteName); err != nil {
			ui.Failuref("listing after upload: %v", err)
		}
	}
	return exitOK
}

func runTest(ctx context.Context, cfg config.Config, opts []ftps.Option, ui *termui.UI) int {
	out := ftps.TestConnection(ctx, cfg.Profile(), opts...)
	if err := ui.Outcome("connection test", out); err != nil {
		return exitFailure
	}
	if !out.Success {
		return exitFailure
	}
	return exitOK
}

func runList(ctx context.Context, cfg config.Config, ui *termui.UI) int {
	dir := ""
	if len(cfg.Args) > 0 {
		dir = cfg.Args[0]
	}

	entries, err := listRemote(ctx, cfg, dir)
	if err != nil {
		ui.Failuref("%v", err)
		return exitFailure
	}
	if err := ui.Listing(entries, ""); err != nil {
		return exitFailure
	}
	return exitOK
}

func confirm(ctx context.Context, cfg config.Config, ui *termui.UI, remoteName string) error {
	entries, err := listRemote(ctx, cfg, "")
	if err != nil {
		return err
	}
	if e, ok := remotels.Find(entries, remoteName); ok {
		ui.Successf("%s is on the server (%d bytes)", e.Name, e.Size)
	} else {
		ui.Failuref("%s not found in the listing", remoteName)
	}
	return ui.Listing(entries, remoteName)
}

func listRemote(ctx context.Context, cfg config.Config, dir string) ([]remotels.Entry, error) {
	policy, err := cfg.TrustPolicy()
	if err != nil {
		return nil, err
	}
	tlsConfig, err := ftps.NewTLSConfig(cfg.Host, policy)
	if err != nil {
		return nil, err
	}
	return remotels.List(ctx, cfg.Profile(), dir, remotels.Options{
		TLSConfig:   tlsConfig,
		Timeout:     cfg.Timeout,
		DisableEPSV: cfg.DisableEPSV,
	})
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: ftpsupload <command> [flags] [args]")
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  upload <file>   upload one file over FTPS")
	fmt.Fprintln(w, "  test            check connection, TLS, login and directory")
	fmt.Fprintln(w, "  ls [dir]        list a remote directory")
	fmt.Fprintln(w, "run 'ftpsupload <command> -h' for the flags")
}
