package ftp

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/gonzalop/miniftp/internal/ratelimit"
)

// Transfers run in the session's current type (binary after Login; see
// Type). Each returns the number of bytes moved over the data connection.

// Store uploads data from an io.Reader to the remote path.
//
// Example:
//
//	file, err := os.Open("local.txt")
//	if err != nil {
//	    return err
//	}
//	defer file.Close()
//
//	n, err := client.Store("remote.txt", file)
func (c *Client) Store(remotePath string, r io.Reader) (int64, error) {
	return c.upload("STOR", remotePath, r)
}

// StoreFrom uploads a local file to the remote path.
func (c *Client) StoreFrom(remotePath, localPath string) (int64, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open local file: %w", err)
	}
	defer file.Close()

	return c.Store(remotePath, file)
}

// Append appends data from an io.Reader to the remote path.
// If the file doesn't exist, it will be created.
func (c *Client) Append(remotePath string, r io.Reader) (int64, error) {
	return c.upload("APPE", remotePath, r)
}

// StoreAt uploads r into the remote file starting at offset, using
// REST followed by STOR. The server only accepts this in binary mode.
func (c *Client) StoreAt(remotePath string, r io.Reader, offset int64) (int64, error) {
	if offset > 0 {
		if err := c.RestartAt(offset); err != nil {
			return 0, fmt.Errorf("failed to set restart marker: %w", err)
		}
	}
	return c.upload("STOR", remotePath, r)
}

func (c *Client) upload(cmd, remotePath string, r io.Reader) (int64, error) {
	dataConn, err := c.cmdDataConnFrom(cmd, remotePath)
	if err != nil {
		return 0, err
	}

	n, copyErr := io.Copy(dataConn, c.limit(r))

	// Always finish the data connection (close and read response)
	finishErr := c.finishDataConn(cmd, dataConn)

	if copyErr != nil {
		return n, fmt.Errorf("upload failed: %w", copyErr)
	}
	return n, finishErr
}

// Retrieve downloads data from the remote path to an io.Writer.
//
// Example:
//
//	file, err := os.Create("local.txt")
//	if err != nil {
//	    return err
//	}
//	defer file.Close()
//
//	n, err := client.Retrieve("remote.txt", file)
func (c *Client) Retrieve(remotePath string, w io.Writer) (int64, error) {
	return c.download(remotePath, w)
}

// RetrieveTo downloads a remote file to a local path. The local file is
// created only once the server has accepted RETR, so a refused download
// leaves an existing file untouched.
func (c *Client) RetrieveTo(remotePath, localPath string) (int64, error) {
	dataConn, err := c.cmdDataConnFrom("RETR", remotePath)
	if err != nil {
		return 0, err
	}

	file, err := os.Create(localPath)
	if err != nil {
		if ferr := c.finishDataConn("RETR", dataConn); ferr != nil {
			c.logger.Debug("ftp abandoned download", "error", ferr)
		}
		return 0, fmt.Errorf("failed to create local file: %w", err)
	}

	n, err := c.receive(dataConn, file)
	if cerr := file.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close local file: %w", cerr)
	}
	return n, err
}

// RetrieveFrom downloads a file starting from the specified byte offset.
// This is useful for resuming interrupted downloads.
//
// Example:
//
//	file, err := os.OpenFile("large.bin", os.O_WRONLY|os.O_APPEND, 0644)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer file.Close()
//
//	info, _ := file.Stat()
//	_, err = client.RetrieveFrom("large.bin", file, info.Size())
func (c *Client) RetrieveFrom(remotePath string, w io.Writer, offset int64) (int64, error) {
	if offset > 0 {
		if err := c.RestartAt(offset); err != nil {
			return 0, fmt.Errorf("failed to set restart marker: %w", err)
		}
	}
	return c.download(remotePath, w)
}

func (c *Client) download(remotePath string, w io.Writer) (int64, error) {
	dataConn, err := c.cmdDataConnFrom("RETR", remotePath)
	if err != nil {
		return 0, err
	}
	return c.receive(dataConn, w)
}

// receive copies an accepted RETR data connection into w and reads the
// final reply.
func (c *Client) receive(dataConn net.Conn, w io.Writer) (int64, error) {
	n, copyErr := io.Copy(w, c.limit(dataConn))

	finishErr := c.finishDataConn("RETR", dataConn)

	if copyErr != nil {
		return n, fmt.Errorf("download failed: %w", copyErr)
	}
	return n, finishErr
}

// RestartAt sets the restart marker for the next transfer.
// The offset applies to the next RETR or STOR command.
//
// Example:
//
//	err := client.RestartAt(1024)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_, err = client.Retrieve("file.bin", writer) // Resumes from byte 1024
func (c *Client) RestartAt(offset int64) error {
	_, err := c.expectCode(350, "REST", strconv.FormatInt(offset, 10))
	return err
}

// limit applies the configured bandwidth limit to r.
func (c *Client) limit(r io.Reader) io.Reader {
	return ratelimit.NewReader(r, ratelimit.New(c.bandwidthLimit))
}
