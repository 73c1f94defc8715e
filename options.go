package ftp

import (
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Option is a functional option for configuring an FTP client.
type Option func(*Client) error

// WithTimeout sets the timeout for connection and operations.
// This applies to both the initial connection and subsequent read/write operations.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout < 0 {
			return fmt.Errorf("timeout must not be negative")
		}
		c.timeout = timeout
		return nil
	}
}

// WithLogger sets a custom logger for debug output.
// Commands and responses are logged at Debug level; PASS arguments are masked.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithDialer sets a custom net.Dialer for control and passive data
// connections. Its Timeout is overwritten by WithTimeout.
func WithDialer(dialer *net.Dialer) Option {
	return func(c *Client) error {
		if dialer == nil {
			return fmt.Errorf("dialer cannot be nil")
		}
		c.dialer = dialer
		return nil
	}
}

// WithActiveMode makes transfers use PORT: the client listens and the
// server connects back. Passive mode (PASV) is the default.
func WithActiveMode() Option {
	return func(c *Client) error {
		c.activeMode = true
		return nil
	}
}

// WithBandwidthLimit caps transfers to bytesPerSecond. Zero means unlimited.
//
// Example:
//
//	client, _ := ftp.Dial("ftp.example.com:21",
//	    ftp.WithBandwidthLimit(1024*1024), // 1 MB/s
//	)
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(c *Client) error {
		if bytesPerSecond < 0 {
			return fmt.Errorf("bandwidth limit must not be negative")
		}
		c.bandwidthLimit = bytesPerSecond
		return nil
	}
}

// WithResponseHook registers fn to see every reply the server sends,
// including the greeting and the final reply of each transfer.
func WithResponseHook(fn func(*Response)) Option {
	return func(c *Client) error {
		c.responseHook = fn
		return nil
	}
}
