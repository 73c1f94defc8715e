package server

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/gonzalop/miniftp/internal/poller"
	"github.com/gonzalop/miniftp/internal/ratelimit"
	"github.com/gonzalop/miniftp/internal/stream"
)

const (
	// chunkSize is the unit in which file data moves between the store and
	// the data channel.
	chunkSize = 100 * 1024

	// chunksPerWake bounds the chunks one transfer moves per readiness
	// notification; a transfer that still has work yields to the other
	// sessions and resumes on the next loop iteration.
	chunksPerWake = 16
)

type dataMode int

const (
	modeActive dataMode = iota
	modePassive
)

func (m dataMode) String() string {
	if m == modePassive {
		return "passive"
	}
	return "active"
}

type dataState int

const (
	stateIdle dataState = iota
	stateOpening
	stateTransferring
	stateClosed
	stateAborted
	stateFailed
)

func (s dataState) String() string {
	switch s {
	case stateIdle:
		return "IDLE"
	case stateOpening:
		return "OPENING"
	case stateTransferring:
		return "TRANSFERRING"
	case stateClosed:
		return "CLOSED"
	case stateAborted:
		return "ABORTED"
	case stateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("dataState(%d)", int(s))
}

// transferJob is what a transfer command hands to the data connection:
// a source to send or a sink to fill.
type transferJob struct {
	verb string
	path string

	// src is read and sent for RETR, LIST and NLST.
	src io.Reader
	// dst receives the uploaded bytes for STOR and APPE.
	dst io.Writer
	// flush runs once the upload reached EOF, before file is closed.
	flush func() error
	// file is the store stream, closed with the data channel.
	file io.Closer
	// listing marks LIST and NLST.
	listing bool
}

func (j *transferJob) upload() bool { return j.dst != nil }

// dataConn is one data connection, created per transfer and never reused.
type dataConn struct {
	sess  *session
	mode  dataMode
	state dataState
	ch    *stream.Channel
	job   *transferJob

	openBy  time.Time
	started time.Time

	buf     []byte
	pending []byte
	srcEOF  bool
	bytes   int64

	limiter  *ratelimit.Limiter
	owed     int
	resumeAt time.Time

	closed bool
}

// startTransfer opens the data connection configured by the last PORT or
// PASV and runs job over it. The configuration is consumed.
func (s *session) startTransfer(job *transferJob) {
	d := &dataConn{
		sess:    s,
		state:   stateOpening,
		job:     job,
		openBy:  time.Now().Add(s.server.dataTimeout),
		buf:     make([]byte, chunkSize),
		limiter: ratelimit.New(s.server.bandwidthLimit),
	}
	s.data = d

	switch {
	case s.pasvConn != nil:
		d.mode = modePassive
		ch := s.pasvConn
		s.pasvConn = nil
		d.attach(ch)
	case s.pasv != nil:
		// The listener stays registered; onPassiveEvent attaches the
		// connection when the client arrives.
		d.mode = modePassive
	case s.activeAddr != nil:
		d.mode = modeActive
		addr := s.activeAddr
		s.activeAddr = nil
		ch, err := stream.Dial(addr)
		if err != nil {
			d.fail(425, "Can't open data connection.", err)
			return
		}
		d.ch = ch
		if err := s.loop.watch(ch.FD(), poller.Writable|poller.EdgeTriggered, slotData, s); err != nil {
			d.fail(425, "Can't open data connection.", err)
		}
	default:
		d.fail(425, "Use PORT or PASV first.", nil)
	}
}

// onPassiveEvent accepts the one connection a PASV listener serves.
func (s *session) onPassiveEvent(ev poller.Event) {
	if s.pasv == nil {
		return
	}

	for {
		ch, err := s.pasv.Accept()
		if errors.Is(err, stream.ErrWouldBlock) {
			return
		}
		if err != nil {
			s.server.logger.Warn("passive accept failed",
				"session_id", s.sessionID,
				"error", err,
			)
			s.closePassiveListener()
			if s.data != nil && s.data.ch == nil {
				s.data.fail(425, "Can't open data connection.", err)
				s.processInput()
			}
			return
		}

		// Only the control peer may connect.
		if addr := ch.RemoteAddr(); addr == nil || addr.IP.String() != s.remoteIP {
			s.server.logger.Warn("passive connection rejected",
				"session_id", s.sessionID,
				"remote_ip", s.remoteIP,
				"data_ip", addr,
			)
			ch.Close()
			continue
		}

		s.closePassiveListener()
		if s.data != nil && s.data.ch == nil {
			s.data.attach(ch)
			if s.data == nil {
				s.processInput()
			}
			return
		}
		if s.pasvConn != nil {
			s.pasvConn.Close()
		}
		s.pasvConn = ch
		return
	}
}

func (s *session) closePassiveListener() {
	if s.pasv == nil {
		return
	}
	s.loop.unwatch(s.pasv.FD())
	if err := s.pasv.Close(); err != nil {
		s.server.logger.Debug("passive listener close error", "session_id", s.sessionID, "error", err)
	}
	s.pasv = nil
}

// onDataEvent advances the live transfer.
func (s *session) onDataEvent(ev poller.Event) {
	d := s.data
	if d == nil || d.ch == nil || d.ch.FD() != ev.FD {
		return
	}
	d.onEvent(ev)
	if s.data == nil {
		s.processInput()
	}
}

// interest is the readiness a transferring channel waits for.
func (d *dataConn) interest() poller.Interest {
	if d.job.upload() {
		return poller.Readable | poller.EdgeTriggered
	}
	return poller.Writable | poller.EdgeTriggered
}

// attach adopts an accepted passive connection.
func (d *dataConn) attach(ch *stream.Channel) {
	d.ch = ch
	if err := d.sess.loop.watch(ch.FD(), d.interest(), slotData, d.sess); err != nil {
		d.fail(425, "Can't open data connection.", err)
		return
	}
	d.begin()
}

// begin moves an open connection to TRANSFERRING and makes a first pass.
func (d *dataConn) begin() {
	d.state = stateTransferring
	d.started = time.Now()
	d.openBy = time.Time{}
	d.sess.server.logger.Debug("data connection open",
		"session_id", d.sess.sessionID,
		"mode", d.mode.String(),
		"operation", d.job.verb,
	)
	d.pump()
}

func (d *dataConn) onEvent(ev poller.Event) {
	switch d.state {
	case stateOpening:
		// Active connect completed, one way or the other.
		if err := d.ch.FinishConnect(); err != nil {
			d.fail(425, "Can't open data connection.", err)
			return
		}
		if err := d.sess.loop.rewatch(d.ch.FD(), d.interest()); err != nil {
			d.fail(425, "Can't open data connection.", err)
			return
		}
		d.begin()
	case stateTransferring:
		d.pump()
	}
}

// deadline is the next time onTimer has work to do.
func (d *dataConn) deadline() (time.Time, bool) {
	if d.state == stateOpening {
		return d.openBy, true
	}
	if !d.resumeAt.IsZero() {
		return d.resumeAt, true
	}
	return time.Time{}, false
}

func (d *dataConn) onTimer(now time.Time) {
	switch d.state {
	case stateOpening:
		if !now.Before(d.openBy) {
			d.fail(425, "Can't open data connection.", errors.New("data connection timeout"))
		}
	case stateTransferring:
		if !d.resumeAt.IsZero() && !now.Before(d.resumeAt) {
			d.resumeAt = time.Time{}
			d.pump()
		}
	}
}

// throttled settles bytes already moved against the bandwidth limit. It
// returns true, with a resume time set, if the transfer must pause.
func (d *dataConn) throttled() bool {
	if d.owed == 0 {
		return false
	}
	if wait := d.limiter.Delay(d.owed); wait > 0 {
		d.resumeAt = time.Now().Add(wait)
		return true
	}
	d.owed = 0
	return false
}

func (d *dataConn) pump() {
	if !d.resumeAt.IsZero() {
		return
	}
	if d.job.upload() {
		d.transferIn()
	} else {
		d.transferOut()
	}
}

// transferOut sends the source until the socket would block. The unsent
// tail of a short write is the chunk retried on the next writable event.
func (d *dataConn) transferOut() {
	for i := 0; i < chunksPerWake; i++ {
		if d.throttled() {
			return
		}

		if len(d.pending) == 0 {
			if d.srcEOF {
				d.complete()
				return
			}
			n, err := d.job.src.Read(d.buf)
			d.pending = d.buf[:n]
			if err == io.EOF {
				d.srcEOF = true
			} else if err != nil {
				d.fail(451, "Requested action aborted: local error in processing.", err)
				return
			}
			if n == 0 {
				continue
			}
		}

		n, err := d.ch.Write(d.pending)
		d.pending = d.pending[n:]
		d.bytes += int64(n)
		d.owed += n
		if errors.Is(err, stream.ErrWouldBlock) {
			return
		}
		if err != nil {
			d.fail(426, "Connection closed; transfer aborted.", err)
			return
		}
	}
	d.yield()
}

// transferIn drains the socket into the sink until it would block. EOF
// from the client completes the upload.
func (d *dataConn) transferIn() {
	for i := 0; i < chunksPerWake; i++ {
		if d.throttled() {
			return
		}

		n, err := d.ch.Read(d.buf)
		if n > 0 {
			if _, werr := d.job.dst.Write(d.buf[:n]); werr != nil {
				d.fail(451, "Requested action aborted: local error in processing.", werr)
				return
			}
			d.bytes += int64(n)
			d.owed += n
		}
		switch {
		case err == nil:
		case errors.Is(err, stream.ErrWouldBlock):
			return
		case err == io.EOF:
			d.complete()
			return
		default:
			d.fail(426, "Connection closed; transfer aborted.", err)
			return
		}
	}
	d.yield()
}

// yield reschedules a transfer that has more work without waiting for a
// readiness edge that will not come.
func (d *dataConn) yield() {
	if d.resumeAt.IsZero() {
		d.resumeAt = time.Now()
	}
}

func (d *dataConn) complete() {
	var err error
	if d.job.upload() && d.job.flush != nil {
		err = d.job.flush()
	}
	if !d.job.upload() {
		if cerr := d.ch.CloseWrite(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if cerr := d.close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		d.end(stateFailed, reply{code: 451, text: "Requested action aborted: local error in processing."}, err)
		return
	}

	r := reply{code: 226, text: fmt.Sprintf("Transfer complete (%d bytes).", d.bytes)}
	if d.job.listing {
		r.text = "Directory send OK."
	}
	d.end(stateClosed, r, nil)
}

// fail ends the transfer with an error reply.
func (d *dataConn) fail(code int, text string, cause error) {
	state := stateFailed
	if code == 426 && cause == nil {
		state = stateAborted
	}
	if err := d.close(); err != nil && cause == nil {
		cause = err
	}
	d.end(state, reply{code: code, text: text}, cause)
}

// abort is ABOR on a live transfer.
func (d *dataConn) abort() {
	d.fail(426, "Connection closed; transfer aborted.", nil)
}

// end records the final state, detaches the connection from the session
// and queues the final reply.
func (d *dataConn) end(state dataState, r reply, cause error) {
	d.state = state
	s := d.sess
	if s.data == d {
		s.data = nil
	}

	duration := time.Duration(0)
	if !d.started.IsZero() {
		duration = time.Since(d.started)
	}

	switch state {
	case stateClosed:
		throughputMBps := float64(0)
		if duration.Seconds() > 0 {
			throughputMBps = float64(d.bytes) / duration.Seconds() / 1024 / 1024
		}
		s.server.logger.Info("transfer_complete",
			"session_id", s.sessionID,
			"remote_ip", s.remoteIP,
			"user", s.user,
			"operation", d.job.verb,
			"mode", d.mode.String(),
			"path", s.server.redactPath(d.job.path),
			"bytes", d.bytes,
			"duration_ms", duration.Milliseconds(),
			"throughput_mbps", fmt.Sprintf("%.2f", throughputMBps),
		)
		if s.server.metricsCollector != nil {
			s.server.metricsCollector.RecordTransfer(d.job.verb, d.bytes, duration)
		}
		s.writeTransferLog(d, duration)
	case stateAborted:
		s.server.logger.Info("transfer_aborted",
			"session_id", s.sessionID,
			"user", s.user,
			"operation", d.job.verb,
			"path", s.server.redactPath(d.job.path),
			"bytes", d.bytes,
		)
	default:
		s.server.logger.Warn("transfer_failed",
			"session_id", s.sessionID,
			"user", s.user,
			"operation", d.job.verb,
			"path", s.server.redactPath(d.job.path),
			"bytes", d.bytes,
			"error", cause,
		)
	}

	if r.code != 0 {
		s.send(r)
	}
}

// close releases the channel and the store stream. It runs once; later
// calls return nil.
func (d *dataConn) close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	var result *multierror.Error
	if d.ch == nil && d.mode == modePassive {
		d.sess.closePassiveListener()
	}
	if d.ch != nil {
		d.sess.loop.unwatch(d.ch.FD())
		if err := d.ch.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if d.job.file != nil {
		if err := d.job.file.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// writeTransferLog appends an xferlog(5) style line for a completed
// transfer.
func (s *session) writeTransferLog(d *dataConn, duration time.Duration) {
	if s.server.transferLog == nil || d.job.listing {
		return
	}

	direction := "o"
	if d.job.upload() {
		direction = "i"
	}
	transferType := "b"
	if s.transferType == typeASCII {
		transferType = "a"
	}
	accessMode := "r"
	user := s.user
	if isAnonymous(user) {
		accessMode = "a"
	}

	secs := int64(duration.Seconds())
	if secs == 0 {
		secs = 1
	}
	line := fmt.Sprintf("%s %d %s %d %s %s _ %s %s %s ftp 0 * c\n",
		time.Now().Format("Mon Jan _2 15:04:05 2006"),
		secs,
		s.remoteIP,
		d.bytes,
		s.server.redactPath(d.job.path),
		transferType,
		direction,
		accessMode,
		user,
	)
	if _, err := io.WriteString(s.server.transferLog, line); err != nil {
		s.server.logger.Debug("transfer log write error", "error", err)
	}
}
