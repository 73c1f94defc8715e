// Package shell implements the interactive commands of the miniftp client.
//
// A Shell turns lines such as "get notes.txt" into protocol exchanges on a
// ftp.Client. Every command checks its argument count before anything is
// sent; a missing required argument is asked for through the Prompter, and
// local and remote file names default to each other's base name. Server
// replies are echoed as they arrive.
//
//	sh := shell.New(shell.NewTerminalPrompter(), os.Stdout)
//	defer sh.Close()
//	sh.Execute("open ftp.example.com")
//	sh.Execute("get /pub/README")
package shell

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	ftp "github.com/gonzalop/miniftp"
)

var (
	// ErrExit is returned by Run for exit and quit.
	ErrExit = errors.New("shell: exit")

	// ErrNotConnected is returned by commands that need an open
	// connection.
	ErrNotConnected = errors.New("shell: not connected")

	// ErrUnknownCommand is returned for a verb the shell does not know.
	ErrUnknownCommand = errors.New("shell: invalid command")

	// errMissingArg is turned into a UsageError for the running command.
	errMissingArg = errors.New("missing argument")
)

// UsageError reports wrong arguments for a command.
type UsageError struct {
	Usage string
}

func (e *UsageError) Error() string {
	return "usage: " + e.Usage
}

// Shell dispatches interactive commands. It is not safe for concurrent
// use.
type Shell struct {
	out           io.Writer
	prompter      Prompter
	logger        *slog.Logger
	clientOptions []ftp.Option
	palette       palette

	client *ftp.Client
	host   string

	// replies counts server replies shown so far.
	replies int
}

// Option configures a Shell.
type Option func(*Shell)

// WithClientOptions passes options to every ftp.Dial made by open.
func WithClientOptions(options ...ftp.Option) Option {
	return func(s *Shell) {
		s.clientOptions = append(s.clientOptions, options...)
	}
}

// WithLogger sets the logger for shell and protocol debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Shell) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithoutColor prints plain text.
func WithoutColor() Option {
	return func(s *Shell) {
		s.palette.disable()
	}
}

// New returns a Shell that reads missing arguments from p and writes to
// out.
func New(p Prompter, out io.Writer, options ...Option) *Shell {
	s := &Shell{
		out:      out,
		prompter: p,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		palette:  newPalette(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Connected reports whether a control connection is open.
func (s *Shell) Connected() bool {
	return s.client != nil
}

// Prefix returns the prompt to show before the next command.
func (s *Shell) Prefix() string {
	return "ftp> "
}

// Close quits the open connection, if any.
func (s *Shell) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Quit()
	s.client = nil
	s.host = ""
	return err
}

// Run executes one command line and returns its error. Empty lines do
// nothing.
func (s *Shell) Run(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	name := strings.ToLower(fields[0])
	cmd, ok := lookup(name)
	if !ok {
		return ErrUnknownCommand
	}

	args := fields[1:]
	if len(args) < cmd.min || len(args) > cmd.max {
		return &UsageError{Usage: cmd.usage}
	}
	if cmd.needConn && s.client == nil {
		return ErrNotConnected
	}

	s.logger.Debug("shell command", "cmd", cmd.name, "args", len(args))
	err := cmd.run(s, args)
	if errors.Is(err, errMissingArg) {
		return &UsageError{Usage: cmd.usage}
	}
	return err
}

// Execute runs line and reports any failure on the output. It returns
// true once the shell should exit.
func (s *Shell) Execute(line string) bool {
	err := s.Run(line)

	var usage *UsageError
	var protoErr *ftp.ProtocolError
	switch {
	case err == nil:
	case errors.Is(err, ErrExit):
		return true
	case errors.Is(err, ErrNotConnected):
		s.palette.warn.Fprintln(s.out, "Not connected.")
	case errors.Is(err, ErrUnknownCommand):
		s.palette.warn.Fprintln(s.out, "?Invalid command.")
	case errors.As(err, &usage):
		s.palette.warn.Fprintln(s.out, usage.Error())
	case errors.As(err, &protoErr):
		// The reply was already shown.
	default:
		s.palette.fail.Fprintln(s.out, err)
	}
	return false
}

// require returns args[i], or asks for it with label. An empty answer is
// a usage error.
func (s *Shell) require(args []string, i int, label string) (string, error) {
	if i < len(args) {
		return args[i], nil
	}
	answer, err := s.prompter.Input(label)
	if err != nil {
		return "", err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", errMissingArg
	}
	return answer, nil
}

// optional returns args[i] or def.
func optional(args []string, i int, def string) string {
	if i < len(args) {
		return args[i]
	}
	return def
}

// showReply echoes a server reply, colored by its class.
func (s *Shell) showReply(r *ftp.Response) {
	s.replies++
	c := s.palette.ok
	switch {
	case r.Is1xx(), r.Is3xx():
		c = s.palette.info
	case r.Is4xx(), r.Is5xx():
		c = s.palette.fail
	}
	for _, line := range r.Lines {
		c.Fprintln(s.out, line)
	}
}

func (s *Shell) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}
