package server

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// ErrDirNotEmpty is returned by Rmdir when the directory has entries.
var ErrDirNotEmpty = errors.New("directory not empty")

// ErrNotFile is returned when a transfer targets a directory.
var ErrNotFile = errors.New("not a plain file")

// ErrFileBusy is returned by Open when another transfer holds a
// conflicting lock on the file.
var ErrFileBusy = errors.New("file busy")

// AferoStore implements FileStore on top of an afero file system.
//
// Security model:
//   - NewFSStore jails every path beneath the root with afero.BasePathFs
//   - Sessions pass cleaned absolute paths, so ".." never leaves "/"
//   - Read-only access is enforced by the session, not the store
//
// Files on the local disk are flock(2)ed while open: shared for reads,
// exclusive for writes. Locks never wait; a conflict is ErrFileBusy.
type AferoStore struct {
	fs afero.Fs
}

// NewFSStore serves the local directory rootPath. It returns an error if
// rootPath does not exist or is not a directory.
//
//	store, err := server.NewFSStore("/srv/ftp")
//	if err != nil {
//	    log.Fatal(err)
//	}
func NewFSStore(rootPath string) (*AferoStore, error) {
	info, err := os.Stat(rootPath)
	if err != nil {
		return nil, fmt.Errorf("root path validation failed: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", rootPath)
	}
	return NewStore(afero.NewBasePathFs(afero.NewOsFs(), rootPath)), nil
}

// NewStore wraps an arbitrary afero file system, for example
// afero.NewMemMapFs() in tests.
func NewStore(fs afero.Fs) *AferoStore {
	return &AferoStore{fs: fs}
}

// Fs returns the underlying file system.
func (a *AferoStore) Fs() afero.Fs {
	return a.fs
}

// Open opens path and positions it at offset.
func (a *AferoStore) Open(name string, flag int, offset int64) (File, error) {
	if info, err := a.fs.Stat(name); err == nil && info.IsDir() {
		return nil, ErrNotFile
	}

	// Truncate only once the lock is held.
	f, err := a.fs.OpenFile(name, flag&^os.O_TRUNC, 0666)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f, flag); err != nil {
		f.Close()
		return nil, err
	}
	if flag&os.O_TRUNC != 0 {
		if err := f.Truncate(0); err != nil {
			f.Close()
			return nil, fmt.Errorf("truncate: %w", err)
		}
	}

	if offset > 0 && flag&os.O_APPEND == 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("seek to %d: %w", offset, err)
		}
	}
	return f, nil
}

// List returns the directory entries sorted by name.
func (a *AferoStore) List(name string) ([]os.FileInfo, error) {
	return afero.ReadDir(a.fs, name)
}

// Stat returns metadata for name.
func (a *AferoStore) Stat(name string) (os.FileInfo, error) {
	return a.fs.Stat(name)
}

// Rename moves from to to.
func (a *AferoStore) Rename(from, to string) error {
	if _, err := a.fs.Stat(from); err != nil {
		return err
	}
	return a.fs.Rename(from, to)
}

// Remove deletes a file.
func (a *AferoStore) Remove(name string) error {
	info, err := a.fs.Stat(name)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return ErrNotFile
	}
	return a.fs.Remove(name)
}

// Mkdir creates a directory. It fails with os.ErrExist if name exists.
func (a *AferoStore) Mkdir(name string, perm os.FileMode) error {
	if _, err := a.fs.Stat(name); err == nil {
		return os.ErrExist
	}
	if _, err := a.fs.Stat(path.Dir(name)); err != nil {
		return err
	}
	return a.fs.Mkdir(name, perm)
}

// Rmdir removes an empty directory.
func (a *AferoStore) Rmdir(name string) error {
	if name == "/" {
		return os.ErrPermission
	}
	info, err := a.fs.Stat(name)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", name, os.ErrInvalid)
	}
	entries, err := afero.ReadDir(a.fs, name)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return ErrDirNotEmpty
	}
	return a.fs.Remove(name)
}

// Chmod sets the permission bits of name. Only bits within 0777 are
// accepted.
func (a *AferoStore) Chmod(name string, mode os.FileMode) error {
	if mode > os.ModePerm {
		return os.ErrInvalid
	}
	if _, err := a.fs.Stat(name); err != nil {
		return err
	}
	return a.fs.Chmod(name, mode)
}

// lockFile takes a non-blocking advisory lock on f if it is backed by an
// operating system file. The lock is released when f is closed.
func lockFile(f afero.File, flag int) error {
	osFile, ok := unwrapOSFile(f)
	if !ok {
		return nil
	}
	how := unix.LOCK_SH
	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		how = unix.LOCK_EX
	}
	err := unix.Flock(int(osFile.Fd()), how|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return ErrFileBusy
	}
	if err != nil {
		return fmt.Errorf("flock: %w", err)
	}
	return nil
}

func unwrapOSFile(f afero.File) (*os.File, bool) {
	for {
		switch v := f.(type) {
		case *os.File:
			return v, true
		case *afero.BasePathFile:
			f = v.File
		default:
			return nil, false
		}
	}
}
