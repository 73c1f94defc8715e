package server

import (
	"errors"
	"io"
	"os"
)

// ErrAuthFailed is returned by an IdentityProvider when the credentials
// are rejected.
var ErrAuthFailed = errors.New("authentication failed")

// Identity describes an authenticated user.
type Identity struct {
	// User is the login name.
	User string

	// Home is the initial working directory, a slash-separated virtual
	// path. Defaults to "/".
	Home string

	// ReadOnly rejects every command that modifies the file store.
	ReadOnly bool
}

// IdentityProvider decides whether a login is allowed.
//
// Authenticate is called off the event loop, so implementations may be
// slow (password hashing, remote lookups), but they must be safe for
// concurrent use. Return ErrAuthFailed (or any error) to deny the login.
//
// Example implementation:
//
//	type staticUsers map[string]string
//
//	func (u staticUsers) Authenticate(user, pass string) (*server.Identity, error) {
//	    if want, ok := u[user]; ok && want == pass {
//	        return &server.Identity{User: user}, nil
//	    }
//	    return nil, server.ErrAuthFailed
//	}
type IdentityProvider interface {
	Authenticate(user, pass string) (*Identity, error)
}

// File is a stream opened on the file store.
type File interface {
	io.Reader
	io.Writer
	io.Closer
}

// FileStore is the file system the sessions operate on.
//
// Paths are absolute, slash-separated and already cleaned by the session;
// "/" is the root of the store. The session enforces read-only identities
// before calling a mutating method.
//
// Error handling:
//   - Return os.ErrNotExist when a path does not exist
//   - Return os.ErrPermission when access is denied
//   - Return os.ErrExist when a path already exists
//
// The session translates these to 550 replies. Implementations must be
// safe for concurrent use by several sessions.
type FileStore interface {
	// Open opens path with os.O_* flags. For reads, and for writes
	// without os.O_APPEND, a positive offset positions the stream before
	// the first byte is transferred.
	Open(path string, flag int, offset int64) (File, error)

	// List returns the entries of the directory at path.
	List(path string) ([]os.FileInfo, error)

	// Stat returns metadata for path.
	Stat(path string) (os.FileInfo, error)

	// Rename moves from to to.
	Rename(from, to string) error

	// Remove deletes the file at path. It fails on directories.
	Remove(path string) error

	// Mkdir creates the directory path.
	Mkdir(path string, perm os.FileMode) error

	// Rmdir removes the empty directory path. It fails on files.
	Rmdir(path string) error

	// Chmod sets the permission bits of path.
	Chmod(path string, mode os.FileMode) error
}

// Settings configures passive mode.
type Settings struct {
	// PublicHost is the IPv4 address advertised in PASV replies. If
	// empty, the control connection's local address is used.
	PublicHost string

	// PasvMinPort and PasvMaxPort bound the passive listening ports. If
	// both are 0, the kernel picks an ephemeral port.
	PasvMinPort int
	PasvMaxPort int
}
