// Package config loads the miniftpd configuration.
//
// Values are layered, highest last:
//  1. Defaults
//  2. YAML file (Load)
//  3. MINIFTP_* environment variables (LoadFromEnv)
//  4. Command-line flags (Flags.Apply)
//
// Validate checks the result once every layer is applied.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User is one account of the built-in identity provider.
type User struct {
	Name string `yaml:"name"`
	// Password is a bcrypt hash, as printed by miniftpd -hash.
	Password string `yaml:"password"`
	Home     string `yaml:"home"`
	ReadOnly bool   `yaml:"read_only"`
}

// Config is the server configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	// Root is the directory served; sessions cannot leave it.
	Root string `yaml:"root"`

	// Passive mode
	PublicHost  string `yaml:"public_host"`
	PasvMinPort int    `yaml:"pasv_min_port"`
	PasvMaxPort int    `yaml:"pasv_max_port"`

	// Limits
	MaxConnections      int           `yaml:"max_connections"`
	MaxConnectionsPerIP int           `yaml:"max_connections_per_ip"`
	BandwidthLimit      int64         `yaml:"bandwidth_limit"`
	DataTimeout         time.Duration `yaml:"data_timeout"`

	Welcome     string `yaml:"welcome"`
	TransferLog string `yaml:"transfer_log"`

	// Accounts
	Anonymous      bool   `yaml:"anonymous"`
	AnonymousWrite bool   `yaml:"anonymous_write"`
	AnonymousHome  string `yaml:"anonymous_home"`
	Users          []User `yaml:"users"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		ListenAddr:  ":2121",
		Root:        ".",
		DataTimeout: 10 * time.Second,
	}
}

// Error is a validation failure of one field.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func fieldErr(field, format string, args ...any) error {
	return &Error{Field: field, Err: fmt.Errorf(format, args...)}
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error

	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		errs = append(errs, &Error{Field: "listen_addr", Err: err})
	}
	if strings.TrimSpace(c.Root) == "" {
		errs = append(errs, fieldErr("root", "must not be empty"))
	}

	switch {
	case c.PasvMinPort == 0 && c.PasvMaxPort == 0:
	case c.PasvMinPort == 0 || c.PasvMaxPort == 0:
		errs = append(errs, fieldErr("pasv_min_port", "pasv_min_port and pasv_max_port must be set together"))
	case c.PasvMinPort < 1024 || c.PasvMaxPort > 65535 || c.PasvMinPort > c.PasvMaxPort:
		errs = append(errs, fieldErr("pasv_min_port", "invalid passive port range %d-%d", c.PasvMinPort, c.PasvMaxPort))
	}
	if c.PublicHost != "" {
		if ip := net.ParseIP(c.PublicHost); ip != nil && ip.To4() == nil {
			errs = append(errs, fieldErr("public_host", "%s is not an IPv4 address", c.PublicHost))
		}
	}

	if c.MaxConnections < 0 {
		errs = append(errs, fieldErr("max_connections", "must not be negative"))
	}
	if c.MaxConnectionsPerIP < 0 {
		errs = append(errs, fieldErr("max_connections_per_ip", "must not be negative"))
	}
	if c.BandwidthLimit < 0 {
		errs = append(errs, fieldErr("bandwidth_limit", "must not be negative"))
	}
	if c.DataTimeout <= 0 {
		errs = append(errs, fieldErr("data_timeout", "must be positive"))
	}

	seen := make(map[string]bool)
	for i, u := range c.Users {
		field := fmt.Sprintf("users[%d]", i)
		switch {
		case u.Name == "":
			errs = append(errs, fieldErr(field, "name is required"))
		case seen[u.Name]:
			errs = append(errs, fieldErr(field, "duplicate user %q", u.Name))
		case u.Password == "":
			errs = append(errs, fieldErr(field, "user %q has no password hash", u.Name))
		default:
			if _, err := bcrypt.Cost([]byte(u.Password)); err != nil {
				errs = append(errs, fieldErr(field, "user %q: password is not a bcrypt hash: %v", u.Name, err))
			}
		}
		seen[u.Name] = true
	}

	return errors.Join(errs...)
}
