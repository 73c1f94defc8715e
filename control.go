package ftp

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Response represents an FTP server response.
type Response struct {
	// Code is the three-digit response code (e.g., 220, 550)
	Code int

	// Message is the human-readable message from the server. For
	// multi-line replies the text of every line is joined with "\n".
	Message string

	// Lines contains all lines of the response as received
	Lines []string
}

// Is1xx returns true if the response is a preliminary reply.
func (r *Response) Is1xx() bool {
	return r.Code >= 100 && r.Code < 200
}

// Is2xx returns true if the response code is in the 2xx range (success).
func (r *Response) Is2xx() bool {
	return r.Code >= 200 && r.Code < 300
}

// Is3xx returns true if the response code is in the 3xx range (intermediate).
func (r *Response) Is3xx() bool {
	return r.Code >= 300 && r.Code < 400
}

// Is4xx returns true if the response code is in the 4xx range (temporary failure).
func (r *Response) Is4xx() bool {
	return r.Code >= 400 && r.Code < 500
}

// Is5xx returns true if the response code is in the 5xx range (permanent failure).
func (r *Response) Is5xx() bool {
	return r.Code >= 500 && r.Code < 600
}

// String returns the full response as a string.
func (r *Response) String() string {
	return strings.Join(r.Lines, "\n")
}

// readLine reads one reply line without its terminator.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readResponse reads a complete FTP response from the reader.
//
// Single-line format: "220 Welcome\r\n"
// Multi-line format:
//
//	"211-Features:\r\n"
//	" SIZE\r\n"
//	"211 End\r\n"
//
// The response is complete when a line starts with the code followed by a space.
func readResponse(r *bufio.Reader) (*Response, error) {
	first, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if len(first) < 4 {
		return nil, fmt.Errorf("invalid response line: %q", first)
	}
	code, err := strconv.Atoi(first[:3])
	if err != nil || code < 100 || code > 599 {
		return nil, fmt.Errorf("invalid response code: %q", first[:3])
	}

	resp := &Response{Code: code, Lines: []string{first}}
	switch first[3] {
	case ' ':
		resp.Message = first[4:]
		return resp, nil
	case '-':
	default:
		return nil, fmt.Errorf("invalid response format: %q", first)
	}

	text := []string{first[4:]}
	end := first[:3] + " "
	for {
		line, err := readLine(r)
		if err != nil {
			return nil, fmt.Errorf("unexpected end of multi-line response: %w", err)
		}
		resp.Lines = append(resp.Lines, line)
		if strings.HasPrefix(line, end) {
			text = append(text, line[4:])
			break
		}
		// Continuation lines may repeat the code ("211-...") or be free text.
		if strings.HasPrefix(line, first[:3]+"-") {
			line = line[4:]
		}
		text = append(text, strings.TrimPrefix(line, " "))
	}
	resp.Message = strings.Join(text, "\n")
	return resp, nil
}

// readReply reads a response under the client timeout and shows it to
// the response hook.
func (c *Client) readReply() (*Response, error) {
	if c.timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
	}
	resp, err := readResponse(c.reader)
	if err != nil {
		return nil, err
	}
	if c.responseHook != nil {
		c.responseHook(resp)
	}
	return resp, nil
}

// sendCommand sends an FTP command and returns the response.
func (c *Client) sendCommand(command string, args ...string) (*Response, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}

	cmd := command
	if len(args) > 0 {
		cmd = command + " " + strings.Join(args, " ")
	}

	if command == "PASS" {
		c.logger.Debug("ftp command", "cmd", "PASS ***")
	} else {
		c.logger.Debug("ftp command", "cmd", cmd)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, fmt.Errorf("failed to set write deadline: %w", err)
		}
	}

	if _, err := fmt.Fprintf(c.conn, "%s\r\n", cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	resp, err := c.readReply()
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("ftp response", "code", resp.Code, "message", resp.Message)
	return resp, nil
}

// expectCode sends a command and verifies the response code matches the expected code.
func (c *Client) expectCode(expectedCode int, command string, args ...string) (*Response, error) {
	resp, err := c.sendCommand(command, args...)
	if err != nil {
		return nil, err
	}

	if resp.Code != expectedCode {
		return resp, &ProtocolError{
			Command:  command,
			Response: resp.Message,
			Code:     resp.Code,
		}
	}
	return resp, nil
}

// expect2xx sends a command and verifies the response is in the 2xx range (success).
func (c *Client) expect2xx(command string, args ...string) (*Response, error) {
	resp, err := c.sendCommand(command, args...)
	if err != nil {
		return nil, err
	}

	if !resp.Is2xx() {
		return resp, &ProtocolError{
			Command:  command,
			Response: resp.Message,
			Code:     resp.Code,
		}
	}
	return resp, nil
}
