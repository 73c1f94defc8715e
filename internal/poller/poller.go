//go:build linux

// Package poller is a thin readiness multiplexer over Linux epoll.
//
// Descriptors are registered with an Interest. Wait reports which
// descriptors became ready. The poller never closes or deregisters a
// descriptor on its own: the caller reacts to Error and HangUp events.
package poller

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Interest selects the readiness kinds a descriptor is watched for.
type Interest uint32

const (
	// Readable wakes when data can be read or a connection accepted.
	Readable Interest = 1 << iota
	// Writable wakes when the send buffer has room or a connect finished.
	Writable
	// EdgeTriggered reports a readiness transition once instead of while
	// the condition holds; the caller must drain until EAGAIN.
	EdgeTriggered
)

// Event is the readiness reported for one descriptor.
type Event struct {
	FD       int
	Readable bool
	Writable bool
	Error    bool
	HangUp   bool
}

// ErrClosed is returned by operations on a closed poller.
var ErrClosed = errors.New("poller: closed")

// Poller watches descriptors for readiness.
type Poller struct {
	epfd   int
	wakeFD int
	events []unix.EpollEvent
	ready  []Event

	mu     sync.Mutex
	closed bool
}

// New creates a poller able to report up to maxEvents per Wait.
func New(maxEvents int) (*Poller, error) {
	if maxEvents <= 0 {
		maxEvents = 128
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	p := &Poller{
		epfd:   epfd,
		wakeFD: wakeFD,
		events: make([]unix.EpollEvent, maxEvents),
		ready:  make([]Event, 0, maxEvents),
	}
	if err := p.ctl(unix.EPOLL_CTL_ADD, wakeFD, Readable); err != nil {
		unix.Close(wakeFD)
		unix.Close(epfd)
		return nil, err
	}
	return p, nil
}

func (p *Poller) ctl(op, fd int, in Interest) error {
	ev := unix.EpollEvent{Fd: int32(fd)}
	if in&Readable != 0 {
		ev.Events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if in&Writable != 0 {
		ev.Events |= unix.EPOLLOUT
	}
	if in&EdgeTriggered != 0 {
		ev.Events |= unix.EPOLLET
	}
	if err := unix.EpollCtl(p.epfd, op, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl fd %d: %w", fd, err)
	}
	return nil
}

// Add registers fd.
func (p *Poller) Add(fd int, in Interest) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, in)
}

// Modify replaces the interest set of a registered fd. Re-arming an
// edge-triggered descriptor reports a condition that already holds.
func (p *Poller) Modify(fd int, in Interest) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, in)
}

// Remove deregisters fd. Removing a descriptor that is not registered is
// not an error.
func (p *Poller) Remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
		return fmt.Errorf("epoll_ctl del fd %d: %w", fd, err)
	}
	return nil
}

// Wait blocks until at least one descriptor is ready, Wake is called, or
// timeout elapses. A negative timeout waits indefinitely. The returned
// slice is reused by the next call. An interrupted wait returns no events.
func (p *Poller) Wait(timeout time.Duration) ([]Event, error) {
	msec := -1
	if timeout >= 0 {
		msec = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}

	n, err := unix.EpollWait(p.epfd, p.events, msec)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return p.ready[:0], nil
		}
		return nil, fmt.Errorf("epoll_wait: %w", err)
	}

	ready := p.ready[:0]
	for _, ev := range p.events[:n] {
		fd := int(ev.Fd)
		if fd == p.wakeFD {
			p.drainWake()
			continue
		}
		ready = append(ready, Event{
			FD:       fd,
			Readable: ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0,
			Writable: ev.Events&unix.EPOLLOUT != 0,
			Error:    ev.Events&unix.EPOLLERR != 0,
			HangUp:   ev.Events&unix.EPOLLHUP != 0,
		})
	}
	p.ready = ready
	return ready, nil
}

func (p *Poller) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakeFD, buf[:]); err != nil {
			return
		}
	}
}

// Wake interrupts a Wait in progress. It is safe to call from any
// goroutine.
func (p *Poller) Wake() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	one := [8]byte{1}
	_, err := unix.Write(p.wakeFD, one[:])
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

// Close releases the epoll instance. Registered descriptors stay open.
func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	unix.Close(p.wakeFD)
	return unix.Close(p.epfd)
}
