//go:build linux

// Command miniftpd serves a directory over FTP.
//
// Usage:
//
//	miniftpd [flags]
//	miniftpd -hash [password]
//
// Settings come from the defaults, then the --config YAML file, then
// MINIFTP_* environment variables, then flags.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/gonzalop/miniftp/config"
	"github.com/gonzalop/miniftp/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "miniftpd: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("miniftpd", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "YAML configuration file")
	verbose := fs.BoolP("verbose", "v", false, "log debug events")
	hash := fs.Bool("hash", false, "print a bcrypt hash of a password and exit")
	flags := config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *hash {
		return printHash(fs.Arg(0), os.Stdout)
	}

	cfg, err := loadConfig(*configPath, flags)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	options, closeLog, err := serverOptions(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLog()

	srv, err := server.NewServer(cfg.ListenAddr, options...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("serving", "addr", cfg.ListenAddr, "root", cfg.Root)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, server.ErrServerClosed) {
		return err
	}
	return nil
}

func loadConfig(path string, flags *config.Flags) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	if err := flags.Apply(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// serverOptions turns cfg into server options. The returned func closes
// the transfer log, if one was opened.
func serverOptions(cfg *config.Config, logger *slog.Logger) ([]server.Option, func(), error) {
	store, err := server.NewFSStore(cfg.Root)
	if err != nil {
		return nil, nil, err
	}

	users := make([]server.User, 0, len(cfg.Users))
	for _, u := range cfg.Users {
		users = append(users, server.User{
			Name:         u.Name,
			PasswordHash: u.Password,
			Home:         u.Home,
			ReadOnly:     u.ReadOnly,
		})
	}
	table, err := server.NewUserTable(users,
		server.WithAnonymous(cfg.Anonymous),
		server.WithAnonWrite(cfg.AnonymousWrite),
		server.WithAnonymousHome(cfg.AnonymousHome),
	)
	if err != nil {
		return nil, nil, err
	}

	options := []server.Option{
		server.WithFileStore(store),
		server.WithIdentityProvider(table),
		server.WithLogger(logger),
		server.WithMaxConnections(cfg.MaxConnections, cfg.MaxConnectionsPerIP),
		server.WithDataTimeout(cfg.DataTimeout),
		server.WithBandwidthLimit(cfg.BandwidthLimit),
		server.WithSettings(server.Settings{
			PublicHost:  cfg.PublicHost,
			PasvMinPort: cfg.PasvMinPort,
			PasvMaxPort: cfg.PasvMaxPort,
		}),
	}
	if cfg.Welcome != "" {
		options = append(options, server.WithWelcomeMessage(cfg.Welcome))
	}

	closeLog := func() {}
	if cfg.TransferLog != "" {
		f, err := os.OpenFile(cfg.TransferLog, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640)
		if err != nil {
			return nil, nil, fmt.Errorf("transfer log: %w", err)
		}
		options = append(options, server.WithTransferLog(f))
		closeLog = func() { _ = f.Close() }
	}
	return options, closeLog, nil
}

// printHash prints the bcrypt hash for a users entry. Without an argument
// the password is read from the terminal, or from one line of stdin.
func printHash(pass string, out io.Writer) error {
	if pass == "" {
		var err error
		if pass, err = readPassword(); err != nil {
			return err
		}
	}
	if pass == "" {
		return errors.New("empty password")
	}
	h, err := server.HashPassword(pass, bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, h)
	return err
}

func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return string(b), err
	}
	b, err := io.ReadAll(io.LimitReader(os.Stdin, 4096))
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(b), "\n")
	return strings.TrimRight(line, "\r"), nil
}
