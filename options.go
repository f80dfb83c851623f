package ftps

import (
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"time"
)

// DefaultBufferSize is the size of the copy buffer used by the upload
// pipeline.
const DefaultBufferSize = 4096

const (
	defaultTimeout        = 30 * time.Second
	defaultConnectTimeout = 15 * time.Second
	quitTimeout           = 2 * time.Second
)

// Option is a functional option for configuring a Client, an Uploader or a
// one-shot Upload/TestConnection call.
type Option func(*config) error

type config struct {
	timeout        time.Duration
	connectTimeout time.Duration
	trust          TrustPolicy
	tlsConfig      *tls.Config
	logger         *slog.Logger
	dialer         *net.Dialer
	disableEPSV    bool
	bufferSize     int
	bandwidth      int64
	progress       ProgressFunc
	verifySize     bool
}

func newConfig(options []Option) (*config, error) {
	cfg := &config{
		timeout:        defaultTimeout,
		connectTimeout: defaultConnectTimeout,
		trust:          SystemDefault(),
		logger:         slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})),
		bufferSize:     DefaultBufferSize,
	}
	for _, opt := range options {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if cfg.dialer == nil {
		cfg.dialer = &net.Dialer{}
	}
	return cfg, nil
}

// WithTimeout sets the read/write timeout applied to every control command
// and to every data channel read or write.
func WithTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout < 0 {
			return fmt.Errorf("negative timeout %v", timeout)
		}
		c.timeout = timeout
		return nil
	}
}

// WithConnectTimeout bounds the TCP connect of both the control and the
// data connection.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return fmt.Errorf("connect timeout must be positive, got %v", timeout)
		}
		c.connectTimeout = timeout
		return nil
	}
}

// WithTrustPolicy selects how the server certificate is verified.
// The default is SystemDefault.
func WithTrustPolicy(policy TrustPolicy) Option {
	return func(c *config) error {
		c.trust = policy
		return nil
	}
}

// WithTLSConfig uses the provided tls.Config instead of one derived from the
// trust policy. A ClientSessionCache will be added if not present to enable
// TLS session reuse for the data channel; the config is cloned first.
func WithTLSConfig(tlsConfig *tls.Config) Option {
	return func(c *config) error {
		if tlsConfig == nil {
			return fmt.Errorf("nil TLS config")
		}
		cfg := tlsConfig.Clone()
		if cfg.ClientSessionCache == nil {
			cfg.ClientSessionCache = tls.NewLRUClientSessionCache(0)
		}
		c.tlsConfig = cfg
		return nil
	}
}

// WithLogger enables debug logging using the provided logger.
// All FTP commands and replies are logged at debug level, passwords excluded.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	out := ftps.Upload(ctx, profile, "a.txt", f, size, ftps.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithDialer sets a custom net.Dialer for both connections. Its Timeout is
// overridden by WithConnectTimeout.
func WithDialer(dialer *net.Dialer) Option {
	return func(c *config) error {
		c.dialer = dialer
		return nil
	}
}

// WithDisableEPSV makes the client request PASV directly instead of trying
// EPSV first.
func WithDisableEPSV() Option {
	return func(c *config) error {
		c.disableEPSV = true
		return nil
	}
}

// WithBufferSize sets the copy buffer size of the upload pipeline.
func WithBufferSize(size int) Option {
	return func(c *config) error {
		if size <= 0 {
			return fmt.Errorf("buffer size must be positive, got %d", size)
		}
		c.bufferSize = size
		return nil
	}
}

// WithBandwidthLimit caps upload speed in bytes per second. Zero disables
// the cap.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(c *config) error {
		if bytesPerSecond < 0 {
			return fmt.Errorf("negative bandwidth limit %d", bytesPerSecond)
		}
		c.bandwidth = bytesPerSecond
		return nil
	}
}

// WithProgress registers a callback invoked after every chunk written to the
// data channel.
func WithProgress(fn ProgressFunc) Option {
	return func(c *config) error {
		c.progress = fn
		return nil
	}
}

// WithVerifySize makes Upload issue SIZE after a positive completion reply
// and fail with KindCompletion when the server reports a different length
// than the number of bytes sent.
func WithVerifySize() Option {
	return func(c *config) error {
		c.verifySize = true
		return nil
	}
}
