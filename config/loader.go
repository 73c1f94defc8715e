package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path over the defaults. Unknown keys are
// errors. An empty file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	if err := Decode(f, cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Decode overlays the YAML document read from r onto cfg.
func Decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// LoadFromEnv overlays MINIFTP_* environment variables onto cfg. Only
// non-empty variables override. Booleans accept "1", "true" and "yes";
// durations use time.ParseDuration syntax or plain seconds.
func LoadFromEnv(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, &Error{Field: key, Err: err})
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = envBool(v)
		}
	}

	str("MINIFTP_LISTEN_ADDR", &cfg.ListenAddr)
	str("MINIFTP_ROOT", &cfg.Root)
	str("MINIFTP_PUBLIC_HOST", &cfg.PublicHost)
	str("MINIFTP_WELCOME", &cfg.Welcome)
	str("MINIFTP_TRANSFER_LOG", &cfg.TransferLog)
	str("MINIFTP_ANONYMOUS_HOME", &cfg.AnonymousHome)
	num("MINIFTP_MAX_CONNECTIONS", &cfg.MaxConnections)
	num("MINIFTP_MAX_CONNECTIONS_PER_IP", &cfg.MaxConnectionsPerIP)
	flag("MINIFTP_ANONYMOUS", &cfg.Anonymous)
	flag("MINIFTP_ANONYMOUS_WRITE", &cfg.AnonymousWrite)

	if v := os.Getenv("MINIFTP_PASV_PORTS"); v != "" {
		lo, hi, err := ParsePortRange(v)
		if err != nil {
			errs = append(errs, &Error{Field: "MINIFTP_PASV_PORTS", Err: err})
		} else {
			cfg.PasvMinPort, cfg.PasvMaxPort = lo, hi
		}
	}
	if v := os.Getenv("MINIFTP_BANDWIDTH_LIMIT"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, &Error{Field: "MINIFTP_BANDWIDTH_LIMIT", Err: err})
		} else {
			cfg.BandwidthLimit = n
		}
	}
	if v := os.Getenv("MINIFTP_DATA_TIMEOUT"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			errs = append(errs, &Error{Field: "MINIFTP_DATA_TIMEOUT", Err: err})
		} else {
			cfg.DataTimeout = d
		}
	}

	return errors.Join(errs...)
}

// ParsePortRange parses "min-max". A single port is a range of one.
func ParsePortRange(s string) (int, int, error) {
	lo, hi, found := strings.Cut(strings.TrimSpace(s), "-")
	if !found {
		hi = lo
	}
	first, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port range %q", s)
	}
	last, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port range %q", s)
	}
	if first < 1 || last > 65535 || first > last {
		return 0, 0, fmt.Errorf("invalid port range %q", s)
	}
	return first, last, nil
}

func envBool(v string) bool {
	v = strings.ToLower(v)
	return v == "1" || v == "true" || v == "yes"
}

func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}
