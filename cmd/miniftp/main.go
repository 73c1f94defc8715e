// Command miniftp is an interactive FTP client.
//
// Usage:
//
//	miniftp [flags] [host [port]]
//
// Commands are read from the terminal with line editing and command-name
// completion, or line by line when stdin is not a terminal.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/spf13/pflag"

	ftp "github.com/gonzalop/miniftp"
	"github.com/gonzalop/miniftp/shell"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "miniftp: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("miniftp", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: miniftp [flags] [host [port]]")
		fs.PrintDefaults()
	}
	verbose := fs.BoolP("verbose", "v", false, "log protocol traffic to stderr")
	active := fs.BoolP("active", "A", false, "use active mode (PORT) for transfers")
	noColor := fs.Bool("no-color", false, "disable coloured output")
	timeout := fs.Duration("timeout", 30*time.Second, "control and data connection timeout")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() > 2 {
		fs.Usage()
		return errors.New("too many arguments")
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	clientOptions := []ftp.Option{ftp.WithTimeout(*timeout)}
	if *active {
		clientOptions = append(clientOptions, ftp.WithActiveMode())
	}
	options := []shell.Option{
		shell.WithLogger(logger),
		shell.WithClientOptions(clientOptions...),
	}
	if *noColor {
		options = append(options, shell.WithoutColor())
	}

	p := shell.NewTerminalPrompter()
	sh := shell.New(p, os.Stdout, options...)
	defer sh.Close()

	if fs.NArg() > 0 {
		sh.Execute("open " + strings.Join(fs.Args(), " "))
	}

	if p.Interactive() {
		repl(sh)
		return nil
	}
	for {
		line, err := p.ReadLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if sh.Execute(line) {
			return nil
		}
	}
}

// repl runs the line editor until a command ends the shell.
func repl(sh *shell.Shell) {
	done := false
	executor := func(line string) {
		done = sh.Execute(line)
	}
	p := prompt.New(executor, shell.Completer,
		prompt.OptionTitle("miniftp"),
		prompt.OptionPrefix(sh.Prefix()),
		prompt.OptionLivePrefix(func() (string, bool) {
			return sh.Prefix(), true
		}),
		prompt.OptionSetExitCheckerOnInput(func(_ string, breakline bool) bool {
			return breakline && done
		}),
	)
	p.Run()
}
