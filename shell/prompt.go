package shell

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	prompt "github.com/c-bata/go-prompt"
	"golang.org/x/term"
)

// Prompter reads the arguments a command line left out.
type Prompter interface {
	// Input shows label and returns one line of input.
	Input(label string) (string, error)
	// Password shows label and reads a line without echo.
	Password(label string) (string, error)
}

// TerminalPrompter prompts on the process terminal. When stdin is not a
// terminal it reads plain lines, so scripted input works too.
type TerminalPrompter struct {
	in  *os.File
	out io.Writer
	tty bool
	r   *bufio.Reader
}

// NewTerminalPrompter returns a Prompter on stdin and stdout.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{
		in:  os.Stdin,
		out: os.Stdout,
		tty: term.IsTerminal(int(os.Stdin.Fd())),
		r:   bufio.NewReader(os.Stdin),
	}
}

// Interactive reports whether stdin is a terminal.
func (p *TerminalPrompter) Interactive() bool {
	return p.tty
}

func (p *TerminalPrompter) Input(label string) (string, error) {
	if p.tty {
		return prompt.Input(label, noCompletion), nil
	}
	fmt.Fprint(p.out, label)
	return p.ReadLine()
}

func (p *TerminalPrompter) Password(label string) (string, error) {
	fmt.Fprint(p.out, label)
	if !p.tty {
		return p.ReadLine()
	}
	pass, err := term.ReadPassword(int(p.in.Fd()))
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pass), nil
}

// ReadLine reads one line from a non-terminal stdin. It returns io.EOF
// at end of input.
func (p *TerminalPrompter) ReadLine() (string, error) {
	line, err := p.r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func noCompletion(prompt.Document) []prompt.Suggest {
	return nil
}

// Completer suggests command names for the first word of a line.
func Completer(d prompt.Document) []prompt.Suggest {
	before := d.TextBeforeCursor()
	if strings.Contains(strings.TrimLeft(before, " "), " ") {
		return nil
	}
	suggestions := make([]prompt.Suggest, 0, len(commands))
	for _, c := range commands {
		suggestions = append(suggestions, prompt.Suggest{Text: c.name, Description: c.help})
	}
	return prompt.FilterHasPrefix(suggestions, d.GetWordBeforeCursor(), true)
}
