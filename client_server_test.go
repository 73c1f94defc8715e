//go:build linux

package ftp_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/crypto/bcrypt"

	ftp "github.com/gonzalop/miniftp"
	"github.com/gonzalop/miniftp/server"
)

// startServer serves an in-memory store on loopback and returns its
// address. alice/secret may write; anonymous is read-only.
func startServer(t *testing.T) (string, afero.Fs) {
	t.Helper()

	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll("/pub", 0o755); err != nil {
		t.Fatal(err)
	}
	hash, err := server.HashPassword("secret", bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	users, err := server.NewUserTable([]server.User{
		{Name: "alice", PasswordHash: hash, Home: "/"},
	}, server.WithAnonymous(true))
	if err != nil {
		t.Fatal(err)
	}

	srv, err := server.NewServer("127.0.0.1:0",
		server.WithFileStore(server.NewStore(fs)),
		server.WithIdentityProvider(users),
		server.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatal(err)
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(l) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-done
		l.Close()
	})
	return l.Addr().String(), fs
}

func dialAlice(t *testing.T, addr string, options ...ftp.Option) *ftp.Client {
	t.Helper()
	c, err := ftp.Dial(addr, append([]ftp.Option{ftp.WithTimeout(5 * time.Second)}, options...)...)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Quit() })
	if err := c.Login("alice", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	return c
}

func TestClientServer_RoundTrip(t *testing.T) {
	t.Parallel()
	for _, mode := range []struct {
		name string
		opts []ftp.Option
	}{
		{"passive", nil},
		{"active", []ftp.Option{ftp.WithActiveMode()}},
	} {
		mode := mode
		t.Run(mode.name, func(t *testing.T) {
			t.Parallel()
			addr, _ := startServer(t)
			c := dialAlice(t, addr, mode.opts...)

			payload := bytes.Repeat([]byte("0123456789abcdef"), 20000) // > 3 chunks
			n, err := c.Store("/pub/data.bin", bytes.NewReader(payload))
			if err != nil {
				t.Fatalf("Store: %v", err)
			}
			if n != int64(len(payload)) {
				t.Errorf("Store sent %d bytes, want %d", n, len(payload))
			}

			size, err := c.Size("/pub/data.bin")
			if err != nil {
				t.Fatalf("Size: %v", err)
			}
			if size != int64(len(payload)) {
				t.Errorf("Size = %d, want %d", size, len(payload))
			}

			var buf bytes.Buffer
			if _, err := c.Retrieve("/pub/data.bin", &buf); err != nil {
				t.Fatalf("Retrieve: %v", err)
			}
			if !bytes.Equal(buf.Bytes(), payload) {
				t.Errorf("retrieved %d bytes, content mismatch", buf.Len())
			}
		})
	}
}

func TestClientServer_RestartThenFullRead(t *testing.T) {
	t.Parallel()
	addr, fs := startServer(t)
	if err := afero.WriteFile(fs, "/pub/r.txt", []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := dialAlice(t, addr)

	var tail bytes.Buffer
	if _, err := c.RetrieveFrom("/pub/r.txt", &tail, 4); err != nil {
		t.Fatalf("RetrieveFrom: %v", err)
	}
	if tail.String() != "456789" {
		t.Errorf("RetrieveFrom = %q, want %q", tail.String(), "456789")
	}

	// The offset applies to one transfer only.
	var full bytes.Buffer
	if _, err := c.Retrieve("/pub/r.txt", &full); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if full.String() != "0123456789" {
		t.Errorf("Retrieve = %q, want full content", full.String())
	}
}

func TestClientServer_RestartRefusedInASCII(t *testing.T) {
	t.Parallel()
	addr, fs := startServer(t)
	if err := afero.WriteFile(fs, "/pub/f.txt", []byte("a\nb\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := dialAlice(t, addr)

	if err := c.Type("A"); err != nil {
		t.Fatal(err)
	}
	if err := c.RestartAt(10); ftp.ReplyCode(err) != 504 {
		t.Errorf("REST in ASCII: got %v, want 504", err)
	}
	if _, err := c.Size("/pub/f.txt"); ftp.ReplyCode(err) != 550 {
		t.Errorf("SIZE in ASCII: got %v, want 550", err)
	}
}

func TestClientServer_ASCIIConversion(t *testing.T) {
	t.Parallel()
	addr, fs := startServer(t)
	c := dialAlice(t, addr)

	if err := c.Type("A"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Store("/pub/lines.txt", strings.NewReader("one\r\ntwo\r\n")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	stored, err := afero.ReadFile(fs, "/pub/lines.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(stored) != "one\ntwo\n" {
		t.Errorf("stored %q, want LF line endings", stored)
	}

	var got bytes.Buffer
	if _, err := c.Retrieve("/pub/lines.txt", &got); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got.String() != "one\r\ntwo\r\n" {
		t.Errorf("retrieved %q, want CRLF line endings", got.String())
	}
}

func TestClientServer_DirectoryOperations(t *testing.T) {
	t.Parallel()
	addr, fs := startServer(t)
	c := dialAlice(t, addr)

	if err := c.MakeDir("/pub/docs"); err != nil {
		t.Fatalf("MakeDir: %v", err)
	}
	if err := c.ChangeDir("/pub/docs"); err != nil {
		t.Fatalf("ChangeDir: %v", err)
	}
	dir, err := c.CurrentDir()
	if err != nil || dir != "/pub/docs" {
		t.Fatalf("CurrentDir = %q, %v", dir, err)
	}

	if _, err := c.Store("a.txt", strings.NewReader("hello")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := c.Rename("a.txt", "b.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	names, err := c.NameList("")
	if err != nil {
		t.Fatalf("NameList: %v", err)
	}
	if len(names) != 1 || names[0] != "b.txt" {
		t.Errorf("NameList = %v, want [b.txt]", names)
	}

	entries, err := c.List("/pub")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "docs" || entries[0].Type != "dir" {
		t.Errorf("List(/pub) = %+v", entries)
	}

	if err := c.RemoveDir("/pub/docs"); ftp.ReplyCode(err) != 550 {
		t.Errorf("RemoveDir on non-empty dir: got %v, want 550", err)
	}
	if err := c.Delete("b.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := c.ChangeDirToParent(); err != nil {
		t.Fatalf("ChangeDirToParent: %v", err)
	}
	if err := c.RemoveDir("docs"); err != nil {
		t.Fatalf("RemoveDir: %v", err)
	}
	if ok, _ := afero.DirExists(fs, "/pub/docs"); ok {
		t.Error("directory still exists after RemoveDir")
	}
}

func TestClientServer_AnonymousIsReadOnly(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t)
	c, err := ftp.Dial(addr, ftp.WithTimeout(5*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Quit()

	if err := c.Login("anonymous", "guest@example.com"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	_, err = c.Store("/pub/x", strings.NewReader("x"))
	var pe *ftp.ProtocolError
	if !errors.As(err, &pe) || pe.Code != 550 {
		t.Errorf("anonymous STOR: got %v, want 550", err)
	}
}

func TestClientServer_FeaturesAndSystem(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t)
	c := dialAlice(t, addr)

	for _, feat := range []string{"PASV", "SIZE", "REST", "UTF8"} {
		if !c.HasFeature(feat) {
			t.Errorf("feature %s not advertised", feat)
		}
	}
	syst, err := c.Syst()
	if err != nil || syst != "UNIX Type: L8" {
		t.Errorf("Syst = %q, %v", syst, err)
	}
	if err := c.Noop(); err != nil {
		t.Errorf("Noop: %v", err)
	}
	status, err := c.Status("")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !strings.Contains(status.Message, "alice") {
		t.Errorf("STAT does not mention the user: %q", status.Message)
	}
}

func TestClientServer_BandwidthLimit(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t)
	c := dialAlice(t, addr, ftp.WithBandwidthLimit(64*1024))

	// One second of burst plus half a second at the limit.
	payload := make([]byte, 96*1024)
	start := time.Now()
	if _, err := c.Store("/pub/slow.bin", bytes.NewReader(payload)); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 400*time.Millisecond {
		t.Errorf("limited upload took %v, expected at least 400ms", elapsed)
	}
}

func TestClientServer_RetrieveToRefused(t *testing.T) {
	t.Parallel()
	addr, fs := startServer(t)
	if err := afero.WriteFile(fs, "/pub/f.txt", []byte("remote"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := dialAlice(t, addr)

	local := filepath.Join(t.TempDir(), "keep.txt")
	if err := os.WriteFile(local, []byte("local"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := c.RetrieveTo("/pub/none.txt", local); ftp.ReplyCode(err) != 550 {
		t.Fatalf("RetrieveTo missing file: got %v, want 550", err)
	}
	if data, err := os.ReadFile(local); err != nil || string(data) != "local" {
		t.Errorf("local file after refused RETR = %q, %v", data, err)
	}

	// The session is still usable, and a later download replaces the file.
	n, err := c.RetrieveTo("/pub/f.txt", local)
	if err != nil || n != 6 {
		t.Fatalf("RetrieveTo: n=%d err=%v", n, err)
	}
	if data, _ := os.ReadFile(local); string(data) != "remote" {
		t.Errorf("downloaded %q", data)
	}
}
