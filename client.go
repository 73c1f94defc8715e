package ftp

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// DefaultPort is the standard FTP control port.
const DefaultPort = "21"

// Client represents an FTP client connection. Commands are issued one at
// a time; a transfer blocks the caller until its final reply arrives.
type Client struct {
	// conn is the underlying network connection (control channel)
	conn net.Conn

	// reader is a buffered reader for the control channel
	reader *bufio.Reader

	// timeout is the timeout for operations
	timeout time.Duration

	// logger is used for debug logging
	logger *slog.Logger

	// dialer is used to establish connections
	dialer *net.Dialer

	// host and port for the connection
	host string
	port string

	// welcome is the server greeting
	welcome *Response

	// features stores the server's advertised features from FEAT command
	features map[string]string

	// activeMode indicates whether to use active (PORT) or passive (PASV) mode
	activeMode bool

	// currentType tracks the current transfer type to avoid redundant TYPE commands
	currentType string

	// bandwidthLimit caps transfers in bytes per second; 0 is unlimited.
	bandwidthLimit int64

	// responseHook sees every reply read from the server.
	responseHook func(*Response)

	// mu serializes commands on the control channel
	mu sync.Mutex
}

// Dial connects to an FTP server at the given address.
// The address should be in the form "host:port".
//
// Example:
//
//	client, err := ftp.Dial("ftp.example.com:21")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Quit()
func Dial(addr string, options ...Option) (*Client, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	c := &Client{
		host:    host,
		port:    port,
		timeout: 30 * time.Second,
		dialer:  &net.Dialer{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	c.dialer.Timeout = c.timeout

	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// connect establishes the control connection and reads the greeting.
func (c *Client) connect() error {
	addr := net.JoinHostPort(c.host, c.port)
	c.logger.Debug("connecting to ftp server", "addr", addr)

	conn, err := c.dialer.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)

	resp, err := c.readReply()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to read greeting: %w", err)
	}

	c.logger.Debug("ftp greeting", "code", resp.Code, "message", resp.Message)

	if resp.Code != 220 {
		c.conn.Close()
		return &ProtocolError{
			Command:  "CONNECT",
			Response: resp.Message,
			Code:     resp.Code,
		}
	}
	c.welcome = resp
	return nil
}

// Welcome returns the greeting the server sent on connect.
func (c *Client) Welcome() *Response {
	return c.welcome
}

// RemoteAddr returns the address of the server's control connection.
func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Login authenticates with the FTP server using the provided username and password.
func (c *Client) Login(username, password string) error {
	resp, err := c.sendCommand("USER", username)
	if err != nil {
		return err
	}

	// 230 means no password is required
	if resp.Code == 230 {
		return nil
	}

	if resp.Code != 331 {
		return &ProtocolError{
			Command:  "USER",
			Response: resp.Message,
			Code:     resp.Code,
		}
	}

	if _, err := c.expectCode(230, "PASS", password); err != nil {
		return err
	}

	// The server resets the session to binary on login.
	c.currentType = "I"
	return nil
}

// Quit sends QUIT and closes the connection.
func (c *Client) Quit() error {
	if c.conn == nil {
		return nil
	}

	// Ignore errors, we're closing anyway
	_, _ = c.sendCommand("QUIT")

	err := c.conn.Close()
	c.conn = nil
	return err
}

// Close closes the control connection without QUIT.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Type sets the transfer type ("A" or "I").
func (c *Client) Type(transferType string) error {
	if c.currentType == transferType {
		c.logger.Debug("transfer type already set, skipping TYPE command", "type", transferType)
		return nil
	}

	if _, err := c.expectCode(200, "TYPE", transferType); err != nil {
		return err
	}
	c.currentType = transferType
	return nil
}

// CurrentType returns the transfer type last set, or "" if unknown.
func (c *Client) CurrentType() string {
	return c.currentType
}

// Features queries the server for supported features using the FEAT command.
// Returns a map of feature names to their parameters (if any).
func (c *Client) Features() (map[string]string, error) {
	if c.features != nil {
		return c.features, nil
	}

	resp, err := c.expectCode(211, "FEAT")
	if err != nil {
		return nil, err
	}

	c.features = parseFeatureLines(resp.Lines)
	return c.features, nil
}

// parseFeatureLines parses the lines of a FEAT response. Feature lines
// start with a space; the first and last lines carry the reply code.
func parseFeatureLines(lines []string) map[string]string {
	features := make(map[string]string)
	for _, line := range lines {
		if !strings.HasPrefix(line, " ") {
			continue
		}
		name, params, _ := strings.Cut(strings.TrimSpace(line), " ")
		if name == "" {
			continue
		}
		features[strings.ToUpper(name)] = params
	}
	return features
}

// HasFeature checks if the server supports a specific feature.
func (c *Client) HasFeature(feature string) bool {
	feats, err := c.Features()
	if err != nil {
		return false
	}
	_, ok := feats[strings.ToUpper(feature)]
	return ok
}

// Syst returns the system type of the server using the SYST command.
func (c *Client) Syst() (string, error) {
	resp, err := c.expect2xx("SYST")
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}

// Noop sends a NOOP (no operation) command to the server.
func (c *Client) Noop() error {
	_, err := c.expect2xx("NOOP")
	return err
}

// Status sends STAT. Without a path the server describes the session;
// with one it lists the path over the control connection.
func (c *Client) Status(path string) (*Response, error) {
	if path == "" {
		return c.expect2xx("STAT")
	}
	return c.expect2xx("STAT", path)
}

// Quote sends a raw command to the server and returns the response.
//
// Example:
//
//	resp, err := client.Quote("SITE", "CHMOD", "755", "script.sh")
func (c *Client) Quote(command string, args ...string) (*Response, error) {
	return c.sendCommand(command, args...)
}
