package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// Flags holds the command-line overrides registered on a FlagSet.
type Flags struct {
	fs *pflag.FlagSet

	listen         string
	root           string
	publicHost     string
	pasvPorts      string
	maxConns       int
	maxConnsPerIP  int
	bandwidth      int64
	dataTimeout    time.Duration
	welcome        string
	transferLog    string
	anonymous      bool
	anonymousWrite bool
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	d := Default()
	f := &Flags{fs: fs}
	fs.StringVarP(&f.listen, "listen", "l", d.ListenAddr, "address to listen on")
	fs.StringVarP(&f.root, "root", "r", d.Root, "directory to serve")
	fs.StringVar(&f.publicHost, "public-host", "", "IPv4 address advertised in PASV replies")
	fs.StringVar(&f.pasvPorts, "pasv-ports", "", "passive port range, min-max")
	fs.IntVar(&f.maxConns, "max-connections", 0, "maximum concurrent sessions (0 = unlimited)")
	fs.IntVar(&f.maxConnsPerIP, "max-connections-per-ip", 0, "maximum sessions per client address (0 = unlimited)")
	fs.Int64Var(&f.bandwidth, "bandwidth-limit", 0, "per-transfer limit in bytes/s (0 = off)")
	fs.DurationVar(&f.dataTimeout, "data-timeout", d.DataTimeout, "data connection setup timeout")
	fs.StringVar(&f.welcome, "welcome", "", "220 greeting text")
	fs.StringVar(&f.transferLog, "transfer-log", "", "append one line per transfer to this file")
	fs.BoolVar(&f.anonymous, "anonymous", false, "allow anonymous logins")
	fs.BoolVar(&f.anonymousWrite, "anonymous-write", false, "let anonymous sessions modify files")
	return f
}

// Apply copies every flag set on the command line into cfg.
func (f *Flags) Apply(cfg *Config) error {
	changed := f.fs.Changed
	if changed("listen") {
		cfg.ListenAddr = f.listen
	}
	if changed("root") {
		cfg.Root = f.root
	}
	if changed("public-host") {
		cfg.PublicHost = f.publicHost
	}
	if changed("pasv-ports") {
		lo, hi, err := ParsePortRange(f.pasvPorts)
		if err != nil {
			return &Error{Field: "--pasv-ports", Err: err}
		}
		cfg.PasvMinPort, cfg.PasvMaxPort = lo, hi
	}
	if changed("max-connections") {
		cfg.MaxConnections = f.maxConns
	}
	if changed("max-connections-per-ip") {
		cfg.MaxConnectionsPerIP = f.maxConnsPerIP
	}
	if changed("bandwidth-limit") {
		cfg.BandwidthLimit = f.bandwidth
	}
	if changed("data-timeout") {
		if f.dataTimeout <= 0 {
			return &Error{Field: "--data-timeout", Err: fmt.Errorf("must be positive")}
		}
		cfg.DataTimeout = f.dataTimeout
	}
	if changed("welcome") {
		cfg.Welcome = f.welcome
	}
	if changed("transfer-log") {
		cfg.TransferLog = f.transferLog
	}
	if changed("anonymous") {
		cfg.Anonymous = f.anonymous
	}
	if changed("anonymous-write") {
		cfg.AnonymousWrite = f.anonymousWrite
	}
	return nil
}
