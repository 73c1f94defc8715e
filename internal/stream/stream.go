//go:build linux

// Package stream wraps non-blocking TCP sockets as byte-stream channels.
//
// Unlike net.Conn, a Channel never parks the calling goroutine: operations
// that cannot make progress return ErrWouldBlock, and the caller waits for
// readiness through a poller before trying again.
package stream

import (
	"errors"
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

var (
	// ErrWouldBlock is returned when an operation cannot proceed without
	// blocking. Retry after the descriptor becomes ready.
	ErrWouldBlock = errors.New("stream: operation would block")

	// ErrClosed is returned by operations on a closed channel or listener.
	ErrClosed = errors.New("stream: use of closed channel")
)

// Channel is a connected, non-blocking TCP stream.
type Channel struct {
	fd     int
	closed bool
	local  *net.TCPAddr
	remote *net.TCPAddr
}

func newChannel(fd int) *Channel {
	c := &Channel{fd: fd}
	if sa, err := unix.Getsockname(fd); err == nil {
		c.local = toTCPAddr(sa)
	}
	if sa, err := unix.Getpeername(fd); err == nil {
		c.remote = toTCPAddr(sa)
	}
	return c
}

// FD returns the underlying descriptor for poller registration.
func (c *Channel) FD() int { return c.fd }

// Read reads up to len(p) bytes. It returns io.EOF once the peer has shut
// down its write side and ErrWouldBlock when no data is buffered.
func (c *Channel) Read(p []byte) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(c.fd, p)
		switch {
		case err == nil && n == 0:
			return 0, io.EOF
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		default:
			return 0, &net.OpError{Op: "read", Net: "tcp", Source: c.local, Addr: c.remote, Err: err}
		}
	}
}

// Write writes as much of p as the socket accepts. A short count comes
// with ErrWouldBlock; the caller keeps the rest and retries when writable.
func (c *Channel) Write(p []byte) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	written := 0
	for written < len(p) {
		n, err := unix.SendmsgN(c.fd, p[written:], nil, nil, unix.MSG_NOSIGNAL)
		switch {
		case err == nil:
			written += n
		case errors.Is(err, unix.EINTR):
		case errors.Is(err, unix.EAGAIN):
			return written, ErrWouldBlock
		default:
			return written, &net.OpError{Op: "write", Net: "tcp", Source: c.local, Addr: c.remote, Err: err}
		}
	}
	return written, nil
}

// CloseWrite shuts down the sending side; the peer reads EOF.
func (c *Channel) CloseWrite() error {
	if c.closed {
		return ErrClosed
	}
	if err := unix.Shutdown(c.fd, unix.SHUT_WR); err != nil && !errors.Is(err, unix.ENOTCONN) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close closes the descriptor. Calling Close more than once is a no-op.
func (c *Channel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return unix.Close(c.fd)
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool { return c.closed }

// FinishConnect reports the outcome of a connect started by Dial. Call it
// once the descriptor polls writable.
func (c *Channel) FinishConnect() error {
	soErr, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("getsockopt SO_ERROR: %w", err)
	}
	if soErr != 0 {
		return &net.OpError{Op: "dial", Net: "tcp", Addr: c.remote, Err: unix.Errno(soErr)}
	}
	if sa, err := unix.Getsockname(c.fd); err == nil {
		c.local = toTCPAddr(sa)
	}
	return nil
}

// LocalAddr returns the local endpoint, or nil if unknown.
func (c *Channel) LocalAddr() *net.TCPAddr { return c.local }

// RemoteAddr returns the peer endpoint, or nil if unknown.
func (c *Channel) RemoteAddr() *net.TCPAddr { return c.remote }

// Dial starts a non-blocking connect to addr. The channel is returned
// before the connection is established; wait for writability and then
// call FinishConnect.
func Dial(addr *net.TCPAddr) (*Channel, error) {
	sa, family, err := toSockaddr(addr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	err = unix.Connect(fd, sa)
	if err != nil && !errors.Is(err, unix.EINPROGRESS) && !errors.Is(err, unix.EINTR) {
		unix.Close(fd)
		return nil, &net.OpError{Op: "dial", Net: "tcp", Addr: addr, Err: err}
	}

	c := &Channel{fd: fd, remote: addr}
	return c, nil
}

func toTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IPv4(a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3]).To4(), Port: a.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, a.Addr[:])
		return &net.TCPAddr{IP: ip, Port: a.Port}
	}
	return nil
}

func toSockaddr(addr *net.TCPAddr) (unix.Sockaddr, int, error) {
	if addr == nil {
		return nil, 0, errors.New("stream: nil address")
	}
	if addr.IP == nil {
		return &unix.SockaddrInet4{Port: addr.Port}, unix.AF_INET, nil
	}
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	if ip6 := addr.IP.To16(); ip6 != nil {
		sa := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa.Addr[:], ip6)
		return sa, unix.AF_INET6, nil
	}
	return nil, 0, fmt.Errorf("stream: invalid IP %v", addr.IP)
}
