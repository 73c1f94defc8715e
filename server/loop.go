package server

import (
	"errors"
	"sync"
	"time"

	"github.com/gonzalop/miniftp/internal/poller"
	"github.com/gonzalop/miniftp/internal/stream"
)

// acceptBackoff is how long the listener is left unwatched after an
// accept failure such as descriptor exhaustion.
const acceptBackoff = 100 * time.Millisecond

type slotKind int

const (
	slotListener slotKind = iota
	slotControl
	slotPassive
	slotData
)

// slot is the owner of one registered descriptor.
type slot struct {
	kind slotKind
	sess *session
}

// eventLoop owns every descriptor and session of a running server. All of
// its fields are touched only by the goroutine executing run, except the
// posted queue.
type eventLoop struct {
	server   *Server
	poller   *poller.Poller
	listener *stream.Listener

	slots     map[int]slot
	sessions  map[*session]struct{}
	connsByIP map[string]int

	acceptPaused  bool
	acceptResumes time.Time

	// nextPasvPort rotates the start of the passive port range search.
	nextPasvPort int

	done chan struct{}

	mu     sync.Mutex
	posted []func()
}

func newEventLoop(s *Server, l *stream.Listener) (*eventLoop, error) {
	p, err := poller.New(256)
	if err != nil {
		return nil, err
	}
	// The listener is level-triggered so a backlog left behind is reported
	// again on the next wait.
	if err := p.Add(l.FD(), poller.Readable); err != nil {
		p.Close()
		return nil, err
	}

	loop := &eventLoop{
		server:    s,
		poller:    p,
		listener:  l,
		slots:     map[int]slot{l.FD(): {kind: slotListener}},
		sessions:  make(map[*session]struct{}),
		connsByIP: make(map[string]int),
		done:      make(chan struct{}),
	}
	return loop, nil
}

func (l *eventLoop) run() error {
	defer close(l.done)
	defer l.shutdown()

	for {
		if l.server.inShutdown.Load() {
			return ErrServerClosed
		}

		events, err := l.poller.Wait(l.timeout(time.Now()))
		if err != nil {
			l.server.logger.Error("poll_error", "error", err)
			return err
		}

		for _, ev := range events {
			l.handle(ev)
		}
		l.runPosted()
		l.runTimers(time.Now())
	}
}

func (l *eventLoop) handle(ev poller.Event) {
	sl, ok := l.slots[ev.FD]
	if !ok {
		return
	}

	switch sl.kind {
	case slotListener:
		l.acceptAll()
	case slotControl:
		sl.sess.onControlEvent(ev)
	case slotPassive:
		sl.sess.onPassiveEvent(ev)
	case slotData:
		sl.sess.onDataEvent(ev)
	}
}

func (l *eventLoop) acceptAll() {
	for {
		ch, err := l.listener.Accept()
		if errors.Is(err, stream.ErrWouldBlock) {
			return
		}
		if err != nil {
			l.server.logger.Error("accept_error", "error", err)
			l.pauseAccept()
			return
		}
		l.admit(ch)
	}
}

func (l *eventLoop) pauseAccept() {
	if err := l.poller.Remove(l.listener.FD()); err != nil {
		l.server.logger.Error("poll_remove_error", "error", err)
		return
	}
	l.acceptPaused = true
	l.acceptResumes = time.Now().Add(acceptBackoff)
}

// admit turns an accepted control connection into a session, or rejects
// it when a connection limit is reached.
func (l *eventLoop) admit(ch *stream.Channel) {
	ip := ""
	if addr := ch.RemoteAddr(); addr != nil {
		ip = addr.IP.String()
	}

	s := l.server
	if s.maxConnections > 0 && len(l.sessions) >= s.maxConnections {
		l.reject(ch, ip, "421 Too many users, sorry.", "global_limit_reached", s.maxConnections)
		return
	}
	if s.maxConnectionsPerIP > 0 && l.connsByIP[ip] >= s.maxConnectionsPerIP {
		l.reject(ch, ip, "421 Too many connections from your IP address.", "per_ip_limit_reached", s.maxConnectionsPerIP)
		return
	}

	sess := newSession(s, l, ch)
	if err := l.watch(ch.FD(), poller.Readable|poller.EdgeTriggered, slotControl, sess); err != nil {
		s.logger.Error("poll_add_error", "remote_ip", ip, "error", err)
		ch.Close()
		return
	}
	l.sessions[sess] = struct{}{}
	l.connsByIP[ip]++

	if s.metricsCollector != nil {
		s.metricsCollector.RecordConnection(true, "accepted")
	}
	sess.start()
}

func (l *eventLoop) reject(ch *stream.Channel, ip, msg, reason string, limit int) {
	l.server.logger.Warn("connection_rejected",
		"remote_ip", ip,
		"reason", reason,
		"limit", limit,
	)
	if l.server.metricsCollector != nil {
		l.server.metricsCollector.RecordConnection(false, reason)
	}
	// Best effort; the socket is fresh so the reply fits in its buffer.
	_, _ = ch.Write([]byte(msg + "\r\n"))
	ch.Close()
}

// watch registers fd and records its owner.
func (l *eventLoop) watch(fd int, in poller.Interest, kind slotKind, s *session) error {
	if err := l.poller.Add(fd, in); err != nil {
		return err
	}
	l.slots[fd] = slot{kind: kind, sess: s}
	return nil
}

// rewatch changes the interest set of a registered fd.
func (l *eventLoop) rewatch(fd int, in poller.Interest) error {
	return l.poller.Modify(fd, in)
}

// unwatch deregisters fd. It must be called before fd is closed.
func (l *eventLoop) unwatch(fd int) {
	if l == nil {
		return
	}
	if _, ok := l.slots[fd]; !ok {
		return
	}
	delete(l.slots, fd)
	if err := l.poller.Remove(fd); err != nil {
		l.server.logger.Debug("poll_remove_error", "fd", fd, "error", err)
	}
}

// release forgets a session that has torn itself down.
func (l *eventLoop) release(s *session) {
	if l == nil {
		return
	}
	if _, ok := l.sessions[s]; !ok {
		return
	}
	delete(l.sessions, s)
	if n := l.connsByIP[s.remoteIP] - 1; n > 0 {
		l.connsByIP[s.remoteIP] = n
	} else {
		delete(l.connsByIP, s.remoteIP)
	}
}

// post queues fn to run on the loop goroutine. It is safe to call from
// any goroutine.
func (l *eventLoop) post(fn func()) {
	l.mu.Lock()
	l.posted = append(l.posted, fn)
	l.mu.Unlock()

	if err := l.poller.Wake(); err != nil {
		l.server.logger.Debug("wake_error", "error", err)
	}
}

func (l *eventLoop) runPosted() {
	l.mu.Lock()
	fns := l.posted
	l.posted = nil
	l.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// timeout returns how long the next wait may block: until the earliest
// session deadline, or indefinitely when there is none.
func (l *eventLoop) timeout(now time.Time) time.Duration {
	var next time.Time
	if l.acceptPaused {
		next = l.acceptResumes
	}
	for s := range l.sessions {
		if d, ok := s.deadline(); ok && (next.IsZero() || d.Before(next)) {
			next = d
		}
	}
	if next.IsZero() {
		return -1
	}
	if wait := next.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

func (l *eventLoop) runTimers(now time.Time) {
	if l.acceptPaused && !now.Before(l.acceptResumes) {
		if err := l.poller.Add(l.listener.FD(), poller.Readable); err != nil {
			l.server.logger.Error("poll_add_error", "error", err)
			l.acceptResumes = now.Add(acceptBackoff)
		} else {
			l.acceptPaused = false
		}
	}
	for s := range l.sessions {
		s.onTimer(now)
	}
}

func (l *eventLoop) shutdown() {
	for s := range l.sessions {
		s.teardown("server_shutdown")
	}
	l.unwatch(l.listener.FD())
	l.listener.Close()

	// Login goroutines may still post; their sessions are closed and the
	// callbacks are no-ops.
	l.runPosted()
	l.poller.Close()
}
