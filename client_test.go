package ftp

import (
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"
)

func TestParseFeatureLines_RFC2389(t *testing.T) {
	t.Parallel()
	// RFC 2389 format with space-prefixed feature lines
	lines := []string{
		"211-Extensions supported:",
		" MLST size*;create;modify*;perm;media-type",
		" SIZE",
		" COMPRESSION",
		" MDTM",
		"211 END",
	}

	features := parseFeatureLines(lines)

	expected := map[string]string{
		"MLST":        "size*;create;modify*;perm;media-type",
		"SIZE":        "",
		"COMPRESSION": "",
		"MDTM":        "",
	}

	if len(features) != len(expected) {
		t.Errorf("expected %d features, got %d", len(expected), len(features))
	}

	for name, params := range expected {
		if gotParams, ok := features[name]; !ok {
			t.Errorf("missing feature %s", name)
		} else if gotParams != params {
			t.Errorf("feature %s: expected params %q, got %q", name, params, gotParams)
		}
	}
}

// mockServer provides a simple way to script server responses
type mockServer struct {
	listener net.Listener
	addr     string
	// commands contains the script of expected commands and responses
	// Key: Command (e.g., "USER"), Value: Response (e.g., "331 Please specify the password.")
	// Use handlers for dynamic behavior
	handlers map[string]func(conn *textproto.Conn, args string)
	// dataListener is used for passive mode
	dataListener net.Listener
	// receivedCommands records all commands received
	receivedCommands []string
	// done channel to signal server loop exit
	done chan struct{}
}

func newMockServer(t *testing.T) *mockServer {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return &mockServer{
		listener:         l,
		addr:             l.Addr().String(),
		handlers:         make(map[string]func(*textproto.Conn, string)),
		receivedCommands: make([]string, 0),
		done:             make(chan struct{}),
	}
}

func (s *mockServer) start() {
	go func() {
		defer close(s.done)
		conn, err := s.listener.Accept()
		if err != nil {
			// t.Logf("Mock server accept error: %v", err)
			return
		}
		defer conn.Close()

		// Send welcome message
		fmt.Fprintf(conn, "220 Service ready\r\n")

		textConn := textproto.NewConn(conn)
		defer textConn.Close()

		for {
			line, err := textConn.ReadLine()
			if err != nil {
				return
			}

			parts := strings.SplitN(line, " ", 2)
			cmd := strings.ToUpper(parts[0])
			args := ""
			if len(parts) > 1 {
				args = parts[1]
			}

			s.receivedCommands = append(s.receivedCommands, cmd)

			if handler, ok := s.handlers[cmd]; ok {
				handler(textConn, args)
			} else {
				// Default behavior for common commands if no handler
				switch cmd {
				case "USER":
					_ = textConn.PrintfLine("331 User name okay, need password.")
				case "PASS":
					_ = textConn.PrintfLine("230 User logged in, proceed.")
				case "QUIT":
					_ = textConn.PrintfLine("221 Service closing control connection.")
					return
				case "TYPE":
					_ = textConn.PrintfLine("200 Command okay.")
				default:
					_ = textConn.PrintfLine("502 Command not implemented.")
				}
			}
		}
	}()
}

func (s *mockServer) stop() {
	s.listener.Close()
	if s.dataListener != nil {
		s.dataListener.Close()
	}
	<-s.done
}

// pasvHandler answers PASV with the mock server's data listener.
func (s *mockServer) pasvHandler(t *testing.T) func(*textproto.Conn, string) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s.dataListener = l
	port := l.Addr().(*net.TCPAddr).Port
	return func(c *textproto.Conn, _ string) {
		_ = c.PrintfLine("227 Entering Passive Mode (127,0,0,1,%d,%d).", port/256, port%256)
	}
}

func TestClient_LoginAndList(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)
	ms.handlers["PASV"] = ms.pasvHandler(t)
	ms.handlers["LIST"] = func(c *textproto.Conn, args string) {
		dconn, err := ms.dataListener.Accept()
		if err != nil {
			t.Errorf("Mock server failed to accept data conn: %v", err)
			return
		}
		_ = c.PrintfLine("150 Here comes the directory listing.")
		fmt.Fprintf(dconn, "drwxr-xr-x 1 owner group 0 Jan 02 15:04 pub\r\n")
		fmt.Fprintf(dconn, "-rw-r--r-- 1 owner group 42 Jan 02 15:04 readme.txt\r\n")
		dconn.Close()
		_ = c.PrintfLine("226 Directory send OK.")
	}

	ms.start()
	defer ms.stop()

	c, err := Dial(ms.addr, WithTimeout(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Quit() }()

	if c.Welcome().Code != 220 {
		t.Errorf("Welcome code = %d, want 220", c.Welcome().Code)
	}
	if err := c.Login("anonymous", "guest"); err != nil {
		t.Fatal(err)
	}
	if c.CurrentType() != "I" {
		t.Errorf("CurrentType after login = %q, want I", c.CurrentType())
	}

	entries, err := c.List("")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Name != "pub" || entries[0].Type != "dir" {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Name != "readme.txt" || entries[1].Size != 42 {
		t.Errorf("entries[1] = %+v", entries[1])
	}
}

func TestClient_LoginRejected(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)
	ms.handlers["PASS"] = func(c *textproto.Conn, _ string) {
		_ = c.PrintfLine("530 Login incorrect.")
	}
	ms.start()
	defer ms.stop()

	c, err := Dial(ms.addr, WithTimeout(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Quit() }()

	err = c.Login("alice", "wrong")
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if pe.Code != 530 || pe.Command != "PASS" {
		t.Errorf("got %s %d, want PASS 530", pe.Command, pe.Code)
	}
}

func TestClient_TypeIsCached(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)
	ms.start()

	var replies []int
	c, err := Dial(ms.addr,
		WithTimeout(time.Second),
		WithResponseHook(func(r *Response) { replies = append(replies, r.Code) }),
	)
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Type("A"); err != nil {
		t.Fatal(err)
	}
	if err := c.Type("A"); err != nil {
		t.Fatal(err)
	}
	if err := c.Type("I"); err != nil {
		t.Fatal(err)
	}
	_ = c.Quit()
	ms.stop()

	types := 0
	for _, cmd := range ms.receivedCommands {
		if cmd == "TYPE" {
			types++
		}
	}
	if types != 2 {
		t.Errorf("expected 2 TYPE commands, got %d (%v)", types, ms.receivedCommands)
	}
	// Greeting, two TYPE replies and QUIT.
	want := []int{220, 200, 200, 221}
	if fmt.Sprint(replies) != fmt.Sprint(want) {
		t.Errorf("hook saw %v, want %v", replies, want)
	}
}

func TestClient_GreetingRejected(t *testing.T) {
	t.Parallel()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		fmt.Fprintf(conn, "421 Too many users, sorry.\r\n")
		conn.Close()
	}()

	_, err = Dial(l.Addr().String(), WithTimeout(time.Second))
	if code := ReplyCode(err); code != 421 {
		t.Errorf("ReplyCode = %d, want 421 (err %v)", code, err)
	}
}

func TestClient_NotConnected(t *testing.T) {
	t.Parallel()
	c := &Client{}
	if err := c.Quit(); err != nil {
		t.Errorf("Quit on unconnected client: %v", err)
	}
	if _, err := c.Quote("NOOP"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Quote error = %v, want ErrNotConnected", err)
	}
}

func TestDial_InvalidAddress(t *testing.T) {
	t.Parallel()
	if _, err := Dial("no-port"); err == nil {
		t.Error("expected error for address without port")
	}
	if _, err := Dial("127.0.0.1:21", WithLogger(nil)); err == nil {
		t.Error("expected error for nil logger")
	}
}
