package shell

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	prompt "github.com/c-bata/go-prompt"
)

// scriptedPrompter answers prompts from fixed lists and records the
// labels it was shown.
type scriptedPrompter struct {
	inputs    []string
	passwords []string
	labels    []string
}

func (p *scriptedPrompter) Input(label string) (string, error) {
	p.labels = append(p.labels, label)
	if len(p.inputs) == 0 {
		return "", io.EOF
	}
	v := p.inputs[0]
	p.inputs = p.inputs[1:]
	return v, nil
}

func (p *scriptedPrompter) Password(label string) (string, error) {
	p.labels = append(p.labels, label)
	if len(p.passwords) == 0 {
		return "", io.EOF
	}
	v := p.passwords[0]
	p.passwords = p.passwords[1:]
	return v, nil
}

func newTestShell(p Prompter) (*Shell, *bytes.Buffer) {
	var out bytes.Buffer
	return New(p, &out, WithoutColor()), &out
}

func TestRun_Arity(t *testing.T) {
	t.Parallel()
	sh, _ := newTestShell(&scriptedPrompter{})

	tests := []struct {
		line  string
		usage string
	}{
		{"open a 21 extra", "open hostname [ port ]"},
		{"user a b", "user username"},
		{"cd a b", "cd remote-directory"},
		{"ls a b", "ls [ remote-directory ]"},
		{"put a b c", "put local-file [ remote-file ]"},
		{"get a b c", "get remote-file [ local-file ]"},
		{"pwd x", "pwd"},
		{"mkdir a b", "mkdir directory-name"},
		{"rmdir a b", "rmdir directory-name"},
		{"del a b", "del remote-file"},
		{"rename a b c", "rename from-name [ to-name ]"},
		{"binary x", "binary"},
		{"ascii x", "ascii"},
		{"size a b", "size remote-file"},
		{"stat a b", "stat [ remote-file ]"},
		{"syst x", "syst"},
		{"noop x", "noop"},
		{"close x", "close"},
		{"exit now", "exit"},
		{"help a b", "help [ command ]"},
	}
	for _, tt := range tests {
		err := sh.Run(tt.line)
		var usage *UsageError
		if !errors.As(err, &usage) {
			t.Errorf("%q: err = %v, want usage error", tt.line, err)
			continue
		}
		if usage.Usage != tt.usage {
			t.Errorf("%q: usage = %q, want %q", tt.line, usage.Usage, tt.usage)
		}
	}
}

func TestRun_NotConnected(t *testing.T) {
	t.Parallel()
	p := &scriptedPrompter{}
	sh, out := newTestShell(p)

	for _, line := range []string{
		"user alice", "cd /pub", "ls", "put f", "get f", "pwd", "mkdir d",
		"rmdir d", "del f", "rename a b", "binary", "ascii", "size f",
		"stat", "syst", "noop", "close",
	} {
		if err := sh.Run(line); !errors.Is(err, ErrNotConnected) {
			t.Errorf("%q: err = %v, want ErrNotConnected", line, err)
		}
	}
	// Nothing was prompted for.
	if len(p.labels) != 0 {
		t.Errorf("prompted %v without a connection", p.labels)
	}

	if done := sh.Execute("pwd"); done {
		t.Error("pwd ended the shell")
	}
	if out.String() != "Not connected.\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestExecute_Messages(t *testing.T) {
	t.Parallel()
	sh, out := newTestShell(&scriptedPrompter{})

	sh.Execute("frobnicate")
	sh.Execute("get a b c")
	sh.Execute("")
	sh.Execute("   ")
	want := "?Invalid command.\nusage: get remote-file [ local-file ]\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestExecute_Exit(t *testing.T) {
	t.Parallel()
	for _, line := range []string{"exit", "quit", "QUIT"} {
		sh, _ := newTestShell(&scriptedPrompter{})
		if !sh.Execute(line) {
			t.Errorf("%q did not end the shell", line)
		}
		if err := sh.Run(line); !errors.Is(err, ErrExit) {
			t.Errorf("Run(%q) = %v", line, err)
		}
	}
}

func TestOpen_PromptsForHost(t *testing.T) {
	t.Parallel()
	p := &scriptedPrompter{inputs: []string{"  "}}
	sh, _ := newTestShell(p)

	// An empty answer is a usage error, and nothing is dialed.
	var usage *UsageError
	if err := sh.Run("open"); !errors.As(err, &usage) {
		t.Fatalf("err = %v, want usage error", err)
	}
	if strings.Join(p.labels, "|") != "(to) " {
		t.Errorf("labels = %q", p.labels)
	}
	if sh.Connected() {
		t.Error("connected after a failed open")
	}
}

func TestOpen_InvalidPort(t *testing.T) {
	t.Parallel()
	sh, _ := newTestShell(&scriptedPrompter{})
	for _, port := range []string{"http", "0", "70000"} {
		err := sh.Run("open localhost " + port)
		if err == nil || !strings.Contains(err.Error(), "invalid port number") {
			t.Errorf("port %s: err = %v", port, err)
		}
	}
}

func TestHelp(t *testing.T) {
	t.Parallel()
	sh, out := newTestShell(&scriptedPrompter{})

	fatalIfErr(t, sh.Run("help"), "help")
	table := out.String()
	for _, name := range []string{"open", "get", "rename", "quit", "get remote-file [ local-file ]"} {
		if !strings.Contains(table, name) {
			t.Errorf("help table missing %q", name)
		}
	}

	out.Reset()
	fatalIfErr(t, sh.Run("help put"), "help put")
	if !strings.Contains(out.String(), "usage: put local-file [ remote-file ]") {
		t.Errorf("help put = %q", out.String())
	}

	out.Reset()
	fatalIfErr(t, sh.Run("help nope"), "help nope")
	if out.String() != "?Invalid help command nope\n" {
		t.Errorf("help nope = %q", out.String())
	}
}

func TestRate(t *testing.T) {
	t.Parallel()
	sh, out := newTestShell(&scriptedPrompter{})

	sh.rate(2*1024*1024, "received", 2*time.Second)
	sh.rate(10, "sent", 0)
	want := "2097152 bytes received in 2.00 secs (1.0000 MB/s)\n" +
		"10 bytes sent in 0.00 secs (0.0000 MB/s)\n"
	if out.String() != want {
		t.Errorf("rate output = %q, want %q", out.String(), want)
	}
}

func TestCompleter(t *testing.T) {
	t.Parallel()
	buf := prompt.NewBuffer()
	buf.InsertText("re", false, true)
	got := Completer(*buf.Document())
	if len(got) != 1 || got[0].Text != "rename" {
		t.Errorf("suggestions for %q = %v", "re", got)
	}

	buf = prompt.NewBuffer()
	buf.InsertText("get re", false, true)
	if got := Completer(*buf.Document()); got != nil {
		t.Errorf("suggested %v for an argument", got)
	}
}

func fatalIfErr(t *testing.T, err error, format string, args ...interface{}) {
	t.Helper()
	if err != nil {
		t.Fatalf(format+": %v", append(args, err)...)
	}
}
