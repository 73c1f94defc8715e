package ftp

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
)

// Entry represents a file or directory entry from a LIST command.
type Entry struct {
	Name   string
	Type   string // "file", "dir", or "link"
	Size   int64
	Target string // For symlinks, the target path (empty for files/dirs)
	Raw    string // The raw line from the LIST command
}

// List returns the entries of a directory, parsed from the Unix style
// LIST output. An empty path lists the working directory.
func (c *Client) List(path string) ([]*Entry, error) {
	var entries []*Entry
	err := c.listing("LIST", path, func(line string) {
		if entry := parseListLine(line); entry != nil {
			entries = append(entries, entry)
		}
	})
	return entries, err
}

// NameList returns the names in a directory using NLST.
func (c *Client) NameList(path string) ([]string, error) {
	var names []string
	err := c.listing("NLST", path, func(line string) {
		if line != "" {
			names = append(names, line)
		}
	})
	return names, err
}

// RawList copies the unparsed LIST output to w.
func (c *Client) RawList(path string, w io.Writer) (int64, error) {
	dataConn, err := c.listConn("LIST", path)
	if err != nil {
		return 0, err
	}
	n, copyErr := io.Copy(w, dataConn)
	finishErr := c.finishDataConn("LIST", dataConn)
	if copyErr != nil {
		return n, fmt.Errorf("failed to read directory listing: %w", copyErr)
	}
	return n, finishErr
}

func (c *Client) listConn(cmd, path string) (net.Conn, error) {
	if path == "" {
		return c.cmdDataConnFrom(cmd)
	}
	return c.cmdDataConnFrom(cmd, path)
}

func (c *Client) listing(cmd, path string, fn func(string)) error {
	dataConn, err := c.listConn(cmd, path)
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(dataConn)
	for scanner.Scan() {
		fn(strings.TrimRight(scanner.Text(), "\r"))
	}
	scanErr := scanner.Err()

	finishErr := c.finishDataConn(cmd, dataConn)
	if scanErr != nil {
		return fmt.Errorf("failed to read directory listing: %w", scanErr)
	}
	return finishErr
}

// parseListLine parses one Unix style listing line:
//
//	-rw-r--r-- 1 owner group 1024 Jan 02 15:04 name
//
// It returns nil for lines it cannot parse, such as "total 8".
func parseListLine(line string) *Entry {
	fields := strings.Fields(line)
	if len(fields) < 9 {
		return nil
	}

	perms := fields[0]
	entry := &Entry{Raw: line}
	switch perms[0] {
	case 'd':
		entry.Type = "dir"
	case 'l':
		entry.Type = "link"
	case '-', 'b', 'c', 'p', 's':
		entry.Type = "file"
	default:
		return nil
	}

	size, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil || size < 0 {
		return nil
	}
	entry.Size = size

	// The name is everything after the eighth field, spaces included.
	name := line
	for n := 0; n < 8; n++ {
		name = strings.TrimLeft(name, " ")
		i := strings.IndexByte(name, ' ')
		if i < 0 {
			return nil
		}
		name = name[i:]
	}
	name = strings.TrimLeft(name, " ")

	if entry.Type == "link" {
		if before, after, ok := strings.Cut(name, " -> "); ok {
			entry.Name = before
			entry.Target = after
			return entry
		}
	}
	entry.Name = name
	return entry
}

// ChangeDir changes the current working directory on the server.
func (c *Client) ChangeDir(path string) error {
	_, err := c.expect2xx("CWD", path)
	return err
}

// ChangeDirToParent moves to the parent of the working directory.
func (c *Client) ChangeDirToParent() error {
	_, err := c.expect2xx("CDUP")
	return err
}

// CurrentDir returns the current working directory on the server.
func (c *Client) CurrentDir() (string, error) {
	resp, err := c.expectCode(257, "PWD")
	if err != nil {
		return "", err
	}
	return parseQuotedPath(resp.Message)
}

// parseQuotedPath extracts the path from a 257 reply such as
// `"/home/user" is the current directory.`, undoing doubled quotes.
func parseQuotedPath(msg string) (string, error) {
	start := strings.IndexByte(msg, '"')
	if start == -1 {
		return "", fmt.Errorf("invalid PWD response: %s", msg)
	}

	var b strings.Builder
	for i := start + 1; i < len(msg); i++ {
		if msg[i] != '"' {
			b.WriteByte(msg[i])
			continue
		}
		if i+1 < len(msg) && msg[i+1] == '"' {
			b.WriteByte('"')
			i++
			continue
		}
		return b.String(), nil
	}
	return "", fmt.Errorf("invalid PWD response: %s", msg)
}

// MakeDir creates a directory on the server.
func (c *Client) MakeDir(path string) error {
	_, err := c.expectCode(257, "MKD", path)
	return err
}

// RemoveDir removes an empty directory from the server.
func (c *Client) RemoveDir(path string) error {
	_, err := c.expect2xx("RMD", path)
	return err
}

// Delete removes a file from the server.
func (c *Client) Delete(path string) error {
	_, err := c.expect2xx("DELE", path)
	return err
}

// Rename renames a file or directory on the server.
func (c *Client) Rename(from, to string) error {
	if _, err := c.expectCode(350, "RNFR", from); err != nil {
		return err
	}
	_, err := c.expect2xx("RNTO", to)
	return err
}

// Size returns the size of a file in bytes. Servers usually refuse SIZE
// in ASCII mode.
func (c *Client) Size(path string) (int64, error) {
	resp, err := c.expectCode(213, "SIZE", path)
	if err != nil {
		return 0, err
	}

	size, err := strconv.ParseInt(strings.TrimSpace(resp.Message), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid SIZE response: %s", resp.Message)
	}
	return size, nil
}

// Chmod changes the permission bits of a remote path using SITE CHMOD.
func (c *Client) Chmod(path string, mode os.FileMode) error {
	_, err := c.expect2xx("SITE", "CHMOD", fmt.Sprintf("%04o", mode.Perm()), path)
	return err
}
