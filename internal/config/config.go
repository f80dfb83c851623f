// Package config resolves the command line tool's settings.
//
// Values come from three layers: an optional YAML profile file, then
// FTPS_* environment variables, then flags. Later layers win.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/gonzalop/ftps"
	"gopkg.in/yaml.v3"
)

// Config holds configuration for one ftpsupload invocation.
type Config struct {
	Host      string
	Port      int
	User      string
	Password  string
	Directory string

	Trust    string // system, insecure or pinned
	PinCert  string // PEM path or SHA-256 fingerprint for Trust=pinned
	LogLevel string

	Timeout        time.Duration
	ConnectTimeout time.Duration
	BandwidthLimit int64 // bytes per second, 0 = unlimited
	DisableEPSV    bool
	VerifySize     bool

	RemoteName string // upload only; defaults to the local base name
	Confirm    bool   // upload only; list the directory afterwards
	NoColor    bool

	// Args are the positional arguments left after the flags.
	Args []string
}

// fileProfile is the YAML layout of a -profile file.
type fileProfile struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	Directory      string `yaml:"directory"`
	Trust          string `yaml:"trust"`
	PinCert        string `yaml:"pin_cert"`
	LogLevel       string `yaml:"log_level"`
	Timeout        string `yaml:"timeout"`
	ConnectTimeout string `yaml:"connect_timeout"`
	BandwidthLimit int64  `yaml:"bandwidth_limit"`
	DisableEPSV    bool   `yaml:"disable_epsv"`
	VerifySize     bool   `yaml:"verify_size"`
}

func defaults() Config {
	return Config{
		Port:           ftps.DefaultPort,
		Trust:          "system",
		LogLevel:       "info",
		Timeout:        30 * time.Second,
		ConnectTimeout: 15 * time.Second,
	}
}

// Parse parses the arguments of subcommand name, reading the process
// environment.
func Parse(name string, args []string) (Config, error) {
	return parseWithFlagSet(flag.NewFlagSet(name, flag.ContinueOnError), args, os.Getenv)
}

// parseWithFlagSet is an internal helper for testing with isolated flag sets
// and environments.
func parseWithFlagSet(fs *flag.FlagSet, args []string, getenv func(string) string) (Config, error) {
	var (
		flags       Config
		profilePath string
	)
	fs.StringVar(&profilePath, "profile", getenv("FTPS_PROFILE"), "YAML server profile file")
	fs.StringVar(&flags.Host, "host", "", "server host")
	fs.IntVar(&flags.Port, "port", 0, "server control port (default 21)")
	fs.StringVar(&flags.User, "user", "", "login user")
	fs.StringVar(&flags.Password, "password", "", "login password (prompted when empty on a terminal)")
	fs.StringVar(&flags.Directory, "dir", "", "remote directory")
	fs.StringVar(&flags.Trust, "trust", "", "certificate trust: system, insecure, pinned")
	fs.StringVar(&flags.PinCert, "pin", "", "pinned certificate PEM file or SHA-256 fingerprint")
	fs.StringVar(&flags.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.DurationVar(&flags.Timeout, "timeout", 0, "per-operation timeout")
	fs.DurationVar(&flags.ConnectTimeout, "connect-timeout", 0, "TCP connect timeout")
	fs.Int64Var(&flags.BandwidthLimit, "limit", 0, "upload bandwidth limit in bytes per second")
	fs.BoolVar(&flags.DisableEPSV, "disable-epsv", false, "use PASV only")
	fs.BoolVar(&flags.VerifySize, "verify-size", false, "check the remote size after upload")
	fs.StringVar(&flags.RemoteName, "as", "", "remote file name (default: local base name)")
	fs.BoolVar(&flags.Confirm, "confirm", false, "list the remote directory after upload")
	fs.BoolVar(&flags.NoColor, "no-color", false, "disable colored output")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := defaults()

	if profilePath != "" {
		if err := cfg.loadProfile(profilePath); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}

	// Flags override environment
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	cfg.applyFlags(flags, set)
	cfg.Args = fs.Args()

	return cfg, nil
}

func (c *Config) loadProfile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read profile: %w", err)
	}

	var p fileProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("failed to parse profile %s: %w", path, err)
	}

	setString(&c.Host, p.Host)
	if p.Port != 0 {
		c.Port = p.Port
	}
	setString(&c.User, p.User)
	setString(&c.Password, p.Password)
	setString(&c.Directory, p.Directory)
	setString(&c.Trust, p.Trust)
	setString(&c.PinCert, p.PinCert)
	setString(&c.LogLevel, p.LogLevel)
	if err := setDuration(&c.Timeout, p.Timeout, "timeout"); err != nil {
		return err
	}
	if err := setDuration(&c.ConnectTimeout, p.ConnectTimeout, "connect_timeout"); err != nil {
		return err
	}
	if p.BandwidthLimit != 0 {
		c.BandwidthLimit = p.BandwidthLimit
	}
	c.DisableEPSV = c.DisableEPSV || p.DisableEPSV
	c.VerifySize = c.VerifySize || p.VerifySize
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString(&c.Host, getenv("FTPS_HOST"))
	if port := getenv("FTPS_PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid FTPS_PORT %q: %w", port, err)
		}
		c.Port = n
	}
	setString(&c.User, getenv("FTPS_USER"))
	setString(&c.Password, getenv("FTPS_PASSWORD"))
	setString(&c.Directory, getenv("FTPS_DIR"))
	setString(&c.Trust, getenv("FTPS_TRUST"))
	setString(&c.PinCert, getenv("FTPS_PIN_CERT"))
	setString(&c.LogLevel, getenv("FTPS_LOG_LEVEL"))
	return nil
}

func (c *Config) applyFlags(f Config, set map[string]bool) {
	if set["host"] {
		c.Host = f.Host
	}
	if set["port"] {
		c.Port = f.Port
	}
	if set["user"] {
		c.User = f.User
	}
	if set["password"] {
		c.Password = f.Password
	}
	if set["dir"] {
		c.Directory = f.Directory
	}
	if set["trust"] {
		c.Trust = f.Trust
	}
	if set["pin"] {
		c.PinCert = f.PinCert
	}
	if set["log-level"] {
		c.LogLevel = f.LogLevel
	}
	if set["timeout"] {
		c.Timeout = f.Timeout
	}
	if set["connect-timeout"] {
		c.ConnectTimeout = f.ConnectTimeout
	}
	if set["limit"] {
		c.BandwidthLimit = f.BandwidthLimit
	}
	if set["disable-epsv"] {
		c.DisableEPSV = f.DisableEPSV
	}
	if set["verify-size"] {
		c.VerifySize = f.VerifySize
	}
	c.RemoteName = f.RemoteName
	c.Confirm = f.Confirm
	c.NoColor = f.NoColor
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v, name string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = d
	return nil
}

// Profile returns the server profile described by c.
func (c Config) Profile() ftps.Profile {
	return ftps.Profile{
		Host:      c.Host,
		Port:      c.Port,
		Username:  c.User,
		Password:  c.Password,
		Directory: c.Directory,
	}
}

// TrustPolicy resolves the configured trust mode.
func (c Config) TrustPolicy() (ftps.TrustPolicy, error) {
	return ftps.ParseTrustPolicy(c.Trust, c.PinCert)
}

// Validate reports settings that make any session impossible.
func (c Config) Validate() error {
	if c.Host == "" {
		return errors.New("no host: use -host, FTPS_HOST or a profile file")
	}
	if c.User == "" {
		return errors.New("no user: use -user, FTPS_USER or a profile file")
	}
	return c.Profile().Validate()
}

// Options translates c into client options. logger may be nil.
func (c Config) Options(logger *slog.Logger) ([]ftps.Option, error) {
	policy, err := c.TrustPolicy()
	if err != nil {
		return nil, err
	}

	opts := []ftps.Option{
		ftps.WithTrustPolicy(policy),
		ftps.WithTimeout(c.Timeout),
		ftps.WithLogger(logger),
	}
	if c.ConnectTimeout > 0 {
		opts = append(opts, ftps.WithConnectTimeout(c.ConnectTimeout))
	}
	if c.BandwidthLimit > 0 {
		opts = append(opts, ftps.WithBandwidthLimit(c.BandwidthLimit))
	}
	if c.DisableEPSV {
		opts = append(opts, ftps.WithDisableEPSV())
	}
	if c.VerifySize {
		opts = append(opts, ftps.WithVerifySize())
	}
	return opts, nil
}
