package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gonzalop/miniftp/internal/poller"
	"github.com/gonzalop/miniftp/internal/stream"
)

// Server is the FTP server.
//
// All control and data connections are serviced by a single event loop
// goroutine that waits for socket readiness; no goroutine is started per
// client. Transfers advance a chunk at a time as the data socket becomes
// ready, so a slow client never stalls the others.
//
// Lifecycle:
//  1. Create server with NewServer()
//  2. Start with ListenAndServe() or Serve()
//  3. Call Shutdown() from another goroutine to stop it
//
// Basic example:
//
//	store, _ := server.NewFSStore("/srv/ftp")
//	users, _ := server.NewUserTable(nil, server.WithAnonymous(true))
//	s, err := server.NewServer(":2121",
//	    server.WithFileStore(store),
//	    server.WithIdentityProvider(users),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(s.ListenAndServe())
type Server struct {
	// addr is the TCP address to listen on (e.g., ":21").
	addr string

	// identity decides logins.
	identity IdentityProvider

	// store is the file system sessions operate on.
	store FileStore

	// logger is the logger instance.
	logger *slog.Logger

	// welcomeMessage is the banner sent to clients on connection.
	welcomeMessage string

	// serverName is the system type returned by the SYST command.
	serverName string

	// settings configures passive mode.
	settings Settings

	// pasvIP is the resolved PublicHost, if any.
	pasvIP net.IP

	// dataTimeout bounds how long a transfer waits for its data
	// connection to be established.
	dataTimeout time.Duration

	// bandwidthLimit caps each transfer, in bytes per second. 0 is
	// unlimited.
	bandwidthLimit int64

	// maxConnections is the maximum number of simultaneous sessions.
	// If 0, there is no limit.
	maxConnections int

	// maxConnectionsPerIP is the maximum number of simultaneous sessions
	// per client IP. If 0, there is no per-IP limit.
	maxConnectionsPerIP int

	// disabledCommands holds verbs answered with 502.
	disabledCommands map[string]bool

	metricsCollector MetricsCollector
	pathRedactor     PathRedactor
	transferLog      io.Writer

	mu         sync.Mutex
	loop       *eventLoop
	inShutdown atomic.Bool
}

// ErrServerClosed is returned by Serve and ListenAndServe after a call
// to Shutdown.
var ErrServerClosed = errors.New("ftp: Server closed")

// NewServer creates a new FTP server with the given address and options.
// The address should be in the form ":port" or "host:port". A file store
// and an identity provider are required.
//
// Default values:
//   - Logger: slog.Default()
//   - Data connection timeout: 10 seconds
//   - MaxConnections: 0 (unlimited)
//   - Bandwidth: unlimited
func NewServer(addr string, options ...Option) (*Server, error) {
	s := &Server{
		addr:             addr,
		logger:           slog.Default(),
		welcomeMessage:   "220 FTP Server Ready",
		serverName:       "UNIX Type: L8",
		dataTimeout:      10 * time.Second,
		disabledCommands: make(map[string]bool),
	}

	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.store == nil {
		return nil, fmt.Errorf("file store is required (use WithFileStore option)")
	}
	if s.identity == nil {
		return nil, fmt.Errorf("identity provider is required (use WithIdentityProvider option)")
	}

	return s, nil
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe() error {
	l, err := stream.Listen(s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.logger.Info("FTP server listening", "addr", l.Addr().String())
	return s.serve(l)
}

// Serve runs the event loop on l, which must be a TCP listener. The
// listener's socket is duplicated; l itself stays open and is left for the
// caller to close. Serve blocks until Shutdown is called or the loop fails.
func (s *Server) Serve(l net.Listener) error {
	sl, err := stream.FromListener(l)
	if err != nil {
		return err
	}
	return s.serve(sl)
}

func (s *Server) serve(l *stream.Listener) error {
	s.mu.Lock()
	if s.inShutdown.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	if s.loop != nil {
		s.mu.Unlock()
		l.Close()
		return errors.New("ftp: Server already serving")
	}
	loop, err := newEventLoop(s, l)
	if err != nil {
		s.mu.Unlock()
		l.Close()
		return err
	}
	s.loop = loop
	s.mu.Unlock()

	err = loop.run()

	s.mu.Lock()
	s.loop = nil
	s.mu.Unlock()
	return err
}

// Shutdown stops the server. The event loop closes the listener and every
// session, including live data connections, and Serve returns
// ErrServerClosed. Shutdown waits for the loop to exit or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)

	s.mu.Lock()
	loop := s.loop
	s.mu.Unlock()
	if loop == nil {
		return nil
	}

	// A closed poller means the loop is already on its way out.
	if err := loop.poller.Wake(); err != nil && !errors.Is(err, poller.ErrClosed) {
		return err
	}

	select {
	case <-loop.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the address of the listener while the server is serving,
// or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loop == nil {
		return nil
	}
	return s.loop.listener.Addr()
}

func (s *Server) redactPath(p string) string {
	if s.pathRedactor == nil {
		return p
	}
	return s.pathRedactor(p)
}
