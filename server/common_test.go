package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/crypto/bcrypt"
)

func fatalIfErr(t *testing.T, err error, format string, args ...interface{}) {
	t.Helper()
	if err != nil {
		t.Fatalf(format+": %v", append(args, err)...)
	}
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// testUsers holds alice/secret (read-write, home /) and bob/builder
// (read-only, home /pub). Anonymous logins are allowed read-only.
func testUsers(t *testing.T) *UserTable {
	t.Helper()
	alice, err := HashPassword("secret", bcrypt.MinCost)
	fatalIfErr(t, err, "hash")
	bob, err := HashPassword("builder", bcrypt.MinCost)
	fatalIfErr(t, err, "hash")

	users, err := NewUserTable([]User{
		{Name: "alice", PasswordHash: alice, Home: "/"},
		{Name: "bob", PasswordHash: bob, Home: "/pub", ReadOnly: true},
	}, WithAnonymous(true), WithAnonymousHome("/pub"))
	fatalIfErr(t, err, "NewUserTable")
	return users
}

// startServer serves an in-memory store on loopback until the test ends.
// It returns the control address and the store's file system.
func startServer(t *testing.T, options ...Option) (string, afero.Fs) {
	t.Helper()

	fs := afero.NewMemMapFs()
	fatalIfErr(t, fs.MkdirAll("/pub", 0o755), "mkdir")

	opts := append([]Option{
		WithFileStore(NewStore(fs)),
		WithIdentityProvider(testUsers(t)),
		WithLogger(discardLogger),
	}, options...)
	s, err := NewServer("127.0.0.1:0", opts...)
	fatalIfErr(t, err, "NewServer")

	return serveOn(t, s), fs
}

// serveOn runs s on a loopback listener until the test ends.
func serveOn(t *testing.T, s *Server) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	fatalIfErr(t, err, "listen")

	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
		<-done
		ln.Close()
	})
	return ln.Addr().String()
}

// ctrlConn is a raw control connection for checking exact replies.
type ctrlConn struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialCtrl(t *testing.T, addr string) *ctrlConn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	fatalIfErr(t, err, "dial %s", addr)
	t.Cleanup(func() { conn.Close() })

	c := &ctrlConn{t: t, conn: conn, r: bufio.NewReader(conn)}
	c.expect(220)
	return c
}

// login dials and logs in as alice.
func login(t *testing.T, addr string) *ctrlConn {
	t.Helper()
	c := dialCtrl(t, addr)
	c.expectCmd(331, "USER alice")
	c.expectCmd(230, "PASS secret")
	return c
}

func (c *ctrlConn) send(line string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := fmt.Fprintf(c.conn, "%s\r\n", line)
	fatalIfErr(c.t, err, "send %q", line)
}

// read returns the next reply's code and text. For multi-line replies the
// text holds every line.
func (c *ctrlConn) read() (int, string) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	line, err := c.r.ReadString('\n')
	fatalIfErr(c.t, err, "read reply")
	line = strings.TrimRight(line, "\r\n")
	if len(line) < 4 {
		c.t.Fatalf("short reply %q", line)
	}
	code, err := strconv.Atoi(line[:3])
	fatalIfErr(c.t, err, "reply code in %q", line)
	if line[3] != '-' {
		return code, line[4:]
	}

	text := []string{line[4:]}
	for {
		next, err := c.r.ReadString('\n')
		fatalIfErr(c.t, err, "read multi-line reply")
		next = strings.TrimRight(next, "\r\n")
		if strings.HasPrefix(next, line[:3]+" ") {
			text = append(text, next[4:])
			return code, strings.Join(text, "\n")
		}
		text = append(text, next)
	}
}

func (c *ctrlConn) expect(code int) string {
	c.t.Helper()
	got, text := c.read()
	if got != code {
		c.t.Fatalf("got %d %q, want %d", got, text, code)
	}
	return text
}

func (c *ctrlConn) expectCmd(code int, line string) string {
	c.t.Helper()
	c.send(line)
	got, text := c.read()
	if got != code {
		c.t.Fatalf("%s: got %d %q, want %d", line, got, text, code)
	}
	return text
}

// pasv sends PASV and returns the advertised data address.
func (c *ctrlConn) pasv() string {
	c.t.Helper()
	text := c.expectCmd(227, "PASV")
	open, close := strings.IndexByte(text, '('), strings.IndexByte(text, ')')
	if open < 0 || close < open {
		c.t.Fatalf("bad PASV reply %q", text)
	}
	var h [6]int
	_, err := fmt.Sscanf(text[open+1:close], "%d,%d,%d,%d,%d,%d", &h[0], &h[1], &h[2], &h[3], &h[4], &h[5])
	fatalIfErr(c.t, err, "parse PASV reply %q", text)
	return fmt.Sprintf("%d.%d.%d.%d:%d", h[0], h[1], h[2], h[3], h[4]*256+h[5])
}

// dialData connects to a passive data address.
func dialData(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	fatalIfErr(t, err, "dial data %s", addr)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readAll drains a data connection.
func readAll(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	data, err := io.ReadAll(conn)
	fatalIfErr(t, err, "read data")
	return data
}

// recordingStore is a FileStore that records every call and serves a
// fixed tree.
type recordingStore struct {
	mu    sync.Mutex
	calls []string
	fs    *AferoStore
}

func newRecordingStore(t *testing.T) *recordingStore {
	t.Helper()
	fs := afero.NewMemMapFs()
	fatalIfErr(t, fs.MkdirAll("/pub/docs", 0o755), "mkdir")
	fatalIfErr(t, afero.WriteFile(fs, "/pub/readme.txt", []byte("hello\n"), 0o644), "write")
	return &recordingStore{fs: NewStore(fs)}
}

func (r *recordingStore) record(op, path string) {
	r.mu.Lock()
	r.calls = append(r.calls, op+" "+path)
	r.mu.Unlock()
}

func (r *recordingStore) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingStore) Open(path string, flag int, offset int64) (File, error) {
	r.record("open", path)
	return r.fs.Open(path, flag, offset)
}

func (r *recordingStore) List(path string) ([]os.FileInfo, error) {
	r.record("list", path)
	return r.fs.List(path)
}

func (r *recordingStore) Stat(path string) (os.FileInfo, error) {
	r.record("stat", path)
	return r.fs.Stat(path)
}

func (r *recordingStore) Rename(from, to string) error {
	r.record("rename", from+" "+to)
	return r.fs.Rename(from, to)
}

func (r *recordingStore) Remove(path string) error {
	r.record("remove", path)
	return r.fs.Remove(path)
}

func (r *recordingStore) Mkdir(path string, perm os.FileMode) error {
	r.record("mkdir", path)
	return r.fs.Mkdir(path, perm)
}

func (r *recordingStore) Rmdir(path string) error {
	r.record("rmdir", path)
	return r.fs.Rmdir(path)
}

func (r *recordingStore) Chmod(path string, mode os.FileMode) error {
	r.record("chmod", path)
	return r.fs.Chmod(path, mode)
}
