//go:build linux

package poller

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newPoller(t *testing.T) *Poller {
	t.Helper()
	p, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestWaitTimeout(t *testing.T) {
	p := newPoller(t)

	start := time.Now()
	events, err := p.Wait(50 * time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Wait blocked for %v", elapsed)
	}
}

func TestReadable(t *testing.T) {
	p := newPoller(t)
	a, b := socketPair(t)

	if err := p.Add(a, Readable); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := unix.Write(b, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	events, err := p.Wait(time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(events) != 1 || events[0].FD != a || !events[0].Readable {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestEdgeTriggeredReportsOnce(t *testing.T) {
	p := newPoller(t)
	a, b := socketPair(t)

	if err := p.Add(a, Readable|EdgeTriggered); err != nil {
		t.Fatalf("Add: %v", err)
	}
	unix.Write(b, []byte("one"))

	events, _ := p.Wait(time.Second)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	// Data is still unread, but no new edge has occurred.
	events, _ = p.Wait(50 * time.Millisecond)
	if len(events) != 0 {
		t.Errorf("edge-triggered fd reported again without new data: %+v", events)
	}

	unix.Write(b, []byte("two"))
	events, _ = p.Wait(time.Second)
	if len(events) != 1 {
		t.Errorf("expected a new edge after more data, got %d events", len(events))
	}
}

func TestLevelTriggeredRepeats(t *testing.T) {
	p := newPoller(t)
	a, b := socketPair(t)

	p.Add(a, Readable)
	unix.Write(b, []byte("x"))

	for i := 0; i < 2; i++ {
		events, _ := p.Wait(time.Second)
		if len(events) != 1 {
			t.Fatalf("iteration %d: expected event while data is pending", i)
		}
	}
}

func TestHangUp(t *testing.T) {
	p := newPoller(t)
	a, b := socketPair(t)

	p.Add(a, Readable|EdgeTriggered)
	unix.Shutdown(b, unix.SHUT_RDWR)

	events, err := p.Wait(time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(events) != 1 || !(events[0].HangUp || events[0].Readable) {
		t.Fatalf("expected hang-up or readable event, got %+v", events)
	}
}

func TestWake(t *testing.T) {
	p := newPoller(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Wake()
	}()

	start := time.Now()
	events, err := p.Wait(5 * time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("wake should not surface as an event, got %+v", events)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Wake did not interrupt Wait")
	}
}

func TestRemoveUnregistered(t *testing.T) {
	p := newPoller(t)
	a, _ := socketPair(t)

	if err := p.Remove(a); err != nil {
		t.Errorf("Remove of unregistered fd: %v", err)
	}
}

func TestWakeAfterClose(t *testing.T) {
	p, err := New(0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Close()
	p.Close()
	if err := p.Wake(); err != ErrClosed {
		t.Errorf("Wake after Close = %v, want ErrClosed", err)
	}
}
