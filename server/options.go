package server

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"
)

// Option is a functional option for configuring an FTP server.
type Option func(*Server) error

// WithFileStore sets the file system sessions operate on.
// This option is required and can only be set once.
//
// Example:
//
//	store, _ := server.NewFSStore("/srv/ftp")
//	s, _ := server.NewServer(":21", server.WithFileStore(store), ...)
func WithFileStore(store FileStore) Option {
	return func(s *Server) error {
		if s.store != nil {
			return fmt.Errorf("file store already set")
		}
		s.store = store
		return nil
	}
}

// WithIdentityProvider sets the login authority.
// This option is required and can only be set once.
func WithIdentityProvider(p IdentityProvider) Option {
	return func(s *Server) error {
		if s.identity != nil {
			return fmt.Errorf("identity provider already set")
		}
		s.identity = p
		return nil
	}
}

// WithLogger sets a custom logger for the server.
// If not specified, slog.Default() is used.
//
// Example with debug logging:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	s, _ := server.NewServer(":21", ..., server.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithWelcomeMessage sets the banner sent on connect. A message without a
// leading "220" gets one.
func WithWelcomeMessage(msg string) Option {
	return func(s *Server) error {
		if !strings.HasPrefix(msg, "220") {
			msg = "220 " + msg
		}
		s.welcomeMessage = msg
		return nil
	}
}

// WithServerName sets the system type reported by SYST.
func WithServerName(name string) Option {
	return func(s *Server) error {
		s.serverName = name
		return nil
	}
}

// WithMaxConnections limits the number of simultaneous sessions, in
// total and per client IP. 0 disables a limit.
//
// When a limit is reached, new connections receive a 421 reply and are
// closed.
func WithMaxConnections(max, perIP int) Option {
	return func(s *Server) error {
		if max < 0 || perIP < 0 {
			return fmt.Errorf("connection limits must not be negative")
		}
		s.maxConnections = max
		s.maxConnectionsPerIP = perIP
		return nil
	}
}

// WithDataTimeout bounds how long a transfer waits for a passive client
// to connect or an active connect to complete. Default is 10 seconds.
func WithDataTimeout(d time.Duration) Option {
	return func(s *Server) error {
		if d <= 0 {
			return fmt.Errorf("data timeout must be positive")
		}
		s.dataTimeout = d
		return nil
	}
}

// WithBandwidthLimit caps each transfer at bytesPerSecond. 0 disables
// the limit.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(s *Server) error {
		if bytesPerSecond < 0 {
			return fmt.Errorf("bandwidth limit must not be negative")
		}
		s.bandwidthLimit = bytesPerSecond
		return nil
	}
}

// WithSettings configures passive mode. A PublicHost that is a hostname is
// resolved once, here, to its first IPv4 address.
//
// Example:
//
//	s, _ := server.NewServer(":21", ...,
//	    server.WithSettings(server.Settings{
//	        PublicHost:  "203.0.113.10",
//	        PasvMinPort: 30000,
//	        PasvMaxPort: 30100,
//	    }),
//	)
func WithSettings(settings Settings) Option {
	return func(s *Server) error {
		if (settings.PasvMinPort == 0) != (settings.PasvMaxPort == 0) {
			return fmt.Errorf("both PasvMinPort and PasvMaxPort must be set")
		}
		if settings.PasvMinPort < 0 || settings.PasvMaxPort > 65535 || settings.PasvMinPort > settings.PasvMaxPort {
			return fmt.Errorf("invalid passive port range %d-%d", settings.PasvMinPort, settings.PasvMaxPort)
		}

		s.pasvIP = nil
		if settings.PublicHost != "" {
			ip := net.ParseIP(settings.PublicHost)
			if ip == nil {
				ips, err := net.LookupIP(settings.PublicHost)
				if err != nil {
					return fmt.Errorf("resolve public host %q: %w", settings.PublicHost, err)
				}
				for _, candidate := range ips {
					if candidate.To4() != nil {
						ip = candidate
						break
					}
				}
			}
			if ip == nil || ip.To4() == nil {
				return fmt.Errorf("public host %q has no IPv4 address", settings.PublicHost)
			}
			s.pasvIP = ip.To4()
		}

		s.settings = settings
		return nil
	}
}

// WithMetricsCollector sets a collector notified of commands, transfers,
// connections and logins. Its methods run on the event loop and must not
// block.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(s *Server) error {
		s.metricsCollector = collector
		return nil
	}
}

// WithPathRedactor rewrites file paths before they are logged.
func WithPathRedactor(redactor PathRedactor) Option {
	return func(s *Server) error {
		s.pathRedactor = redactor
		return nil
	}
}

// WithTransferLog writes one xferlog-style line per completed transfer
// to w. Writes happen on the event loop.
func WithTransferLog(w io.Writer) Option {
	return func(s *Server) error {
		s.transferLog = w
		return nil
	}
}

// WithDisableCommands answers the given verbs with 502. See the command
// groups in commands.go.
//
// Example:
//
//	// Read-only server
//	s, _ := server.NewServer(":21", ...,
//	    server.WithDisableCommands(server.WriteCommands...),
//	)
func WithDisableCommands(commands ...string) Option {
	return func(s *Server) error {
		for _, cmd := range commands {
			s.disabledCommands[strings.ToUpper(cmd)] = true
		}
		return nil
	}
}
