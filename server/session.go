package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/gonzalop/miniftp/internal/poller"
	"github.com/gonzalop/miniftp/internal/stream"
)

// MaxCommandLength is the maximum length of a command line.
const MaxCommandLength = 4096

// Reading from the control socket pauses while more than this much
// input waits for a login or a transfer, or output waits for the client.
const (
	maxPendingInput  = 4 * MaxCommandLength
	maxPendingOutput = 64 * 1024
)

// Transfer types.
const (
	typeASCII  = "A"
	typeBinary = "I"
)

// reply is one protocol reply. A reply with lines is sent in multi-line
// form: "code-text", the lines, then "code end".
type reply struct {
	code  int
	text  string
	lines []string
	end   string
}

// outcome is what a command handler asks the session to do: send a
// reply, and optionally start a transfer, authenticate or quit.
type outcome struct {
	reply    reply
	transfer *transferJob
	login    *loginRequest
	quit     bool
}

type loginRequest struct {
	user, pass string
}

func replyf(code int, format string, args ...any) outcome {
	return outcome{reply: reply{code: code, text: fmt.Sprintf(format, args...)}}
}

func multiline(code int, text string, lines []string, end string) outcome {
	return outcome{reply: reply{code: code, text: text, lines: lines, end: end}}
}

// command describes how a verb is dispatched.
type command struct {
	handler func(*session, string) outcome
	// auth requires a logged-in identity.
	auth bool
	// write requires an identity that is not read-only.
	write bool
}

// commandHandlers maps FTP verbs to their handlers.
var commandHandlers = map[string]command{
	// Access
	"USER": {handler: (*session).handleUSER},
	"PASS": {handler: (*session).handlePASS},
	"QUIT": {handler: (*session).handleQUIT},

	// File Management
	"CWD":  {handler: (*session).handleCWD, auth: true},
	"XCWD": {handler: (*session).handleCWD, auth: true},
	"CDUP": {handler: (*session).handleCDUP, auth: true},
	"XCUP": {handler: (*session).handleCDUP, auth: true},
	"PWD":  {handler: (*session).handlePWD, auth: true},
	"XPWD": {handler: (*session).handlePWD, auth: true},
	"LIST": {handler: (*session).handleLIST, auth: true},
	"NLST": {handler: (*session).handleNLST, auth: true},
	"MKD":  {handler: (*session).handleMKD, auth: true, write: true},
	"XMKD": {handler: (*session).handleMKD, auth: true, write: true},
	"RMD":  {handler: (*session).handleRMD, auth: true, write: true},
	"XRMD": {handler: (*session).handleRMD, auth: true, write: true},
	"DELE": {handler: (*session).handleDELE, auth: true, write: true},
	"RNFR": {handler: (*session).handleRNFR, auth: true, write: true},
	"RNTO": {handler: (*session).handleRNTO, auth: true, write: true},

	// File Transfer
	"RETR": {handler: (*session).handleRETR, auth: true},
	"STOR": {handler: (*session).handleSTOR, auth: true, write: true},
	"APPE": {handler: (*session).handleAPPE, auth: true, write: true},

	// Transfer Parameters
	"TYPE": {handler: (*session).handleTYPE, auth: true},
	"PORT": {handler: (*session).handlePORT, auth: true},
	"PASV": {handler: (*session).handlePASV, auth: true},
	"REST": {handler: (*session).handleREST, auth: true},
	"MODE": {handler: (*session).handleMODE, auth: true},
	"STRU": {handler: (*session).handleSTRU, auth: true},

	// Information
	"SIZE": {handler: (*session).handleSIZE, auth: true},
	"STAT": {handler: (*session).handleSTAT, auth: true},
	"FEAT": {handler: (*session).handleFEAT},
	"OPTS": {handler: (*session).handleOPTS},
	"SYST": {handler: (*session).handleSYST},
	"HELP": {handler: (*session).handleHELP},
	"NOOP": {handler: (*session).handleNOOP},

	// Site
	"SITE": {handler: (*session).handleSITE, auth: true},

	// Special
	"ABOR": {handler: (*session).handleABOR},
}

// session is the state of one control connection. It is owned by the
// event loop: every method runs on the loop goroutine.
type session struct {
	server *Server
	loop   *eventLoop
	ctrl   *stream.Channel

	// Session tracking
	sessionID string
	remoteIP  string

	// Control channel buffers
	inbuf     []byte
	outbuf    []byte
	wantWrite bool
	quitting  bool
	closed    bool
	// readClosed is set once the client half-closes; queued commands are
	// still answered.
	readClosed bool
	// readPaused is set while the session is backlogged.
	readPaused bool

	// State
	user          string
	identity      *Identity
	authPending   bool
	cwd           string
	transferType  string
	renameFrom    *string
	restartOffset *int64
	umask         os.FileMode

	// Data channel configuration, consumed by the next transfer
	pasv       *stream.Listener
	pasvConn   *stream.Channel
	pasvPorts  map[int]bool
	activeAddr *net.TCPAddr

	// data is the live data connection, if any.
	data *dataConn
}

func newSession(server *Server, loop *eventLoop, ctrl *stream.Channel) *session {
	remoteIP := ""
	if ctrl != nil && ctrl.RemoteAddr() != nil {
		remoteIP = ctrl.RemoteAddr().IP.String()
	}

	return &session{
		server:       server,
		loop:         loop,
		ctrl:         ctrl,
		sessionID:    uuid.NewString(),
		remoteIP:     remoteIP,
		cwd:          "/",
		transferType: typeBinary,
		umask:        0022,
		pasvPorts:    make(map[int]bool),
	}
}

// start sends the banner.
func (s *session) start() {
	s.server.logger.Info("session_started",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
	)
	s.outbuf = append(s.outbuf, s.server.welcomeMessage...)
	s.outbuf = append(s.outbuf, '\r', '\n')
	s.flush()
}

func (s *session) onControlEvent(ev poller.Event) {
	if ev.Error {
		s.teardown("control_error")
		return
	}
	if ev.Writable && !s.flush() {
		return
	}
	if s.readPaused {
		// Unread input stays in the socket until the backlog drains.
		s.processInput()
		return
	}
	if ev.Readable || ev.HangUp {
		if !s.readControl() {
			return
		}
		s.processInput()
	}
}

// readControl drains the control socket. The socket is edge-triggered, so
// it reads until the kernel reports it would block; stopping earlier would
// leave a command stranded until the client sends more. Reading pauses
// while the session is backlogged and resumes from processInput. It
// returns false if the session was torn down.
func (s *session) readControl() bool {
	var buf [4096]byte
	for !s.readClosed {
		if s.backlogged() {
			s.readPaused = true
			return s.checkLineLength()
		}
		n, err := s.ctrl.Read(buf[:])
		if n > 0 {
			s.inbuf = append(s.inbuf, buf[:n]...)
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, stream.ErrWouldBlock):
			return s.checkLineLength()
		case err == io.EOF:
			s.readClosed = true
		default:
			s.server.logger.Warn("read error",
				"session_id", s.sessionID,
				"remote_ip", s.remoteIP,
				"error", err,
			)
			s.teardown("read_error")
			return false
		}
	}
	return true
}

// checkLineLength ends the session if the unterminated input exceeds
// MaxCommandLength.
func (s *session) checkLineLength() bool {
	if len(s.inbuf) > MaxCommandLength && bytes.IndexByte(s.inbuf, '\n') < 0 {
		s.inbuf = nil
		s.send(reply{code: 500, text: "Command line too long."})
		s.quitting = true
		return s.flush()
	}
	return true
}

// busy reports whether commands must wait: a login or a transfer is in
// flight. ABOR is the only command acted upon while busy.
func (s *session) busy() bool {
	return s.authPending || s.data != nil
}

// processInput dispatches every complete command line. While busy, lines
// stay queued so replies keep command order. Once the client has
// half-closed and nothing is left to run, the session ends after the
// queued replies are written.
func (s *session) processInput() {
	for {
		s.dispatchQueued()
		if !s.flush() {
			return
		}
		if !s.readPaused || s.backlogged() {
			break
		}
		s.readPaused = false
		if !s.readControl() {
			return
		}
	}
	if s.readClosed && !s.quitting && !s.busy() {
		s.quitting = true
		s.flush()
	}
}

// backlogged reports whether queued input or output is at its limit.
func (s *session) backlogged() bool {
	return len(s.inbuf) >= maxPendingInput || len(s.outbuf) >= maxPendingOutput
}

func (s *session) dispatchQueued() {
	for !s.closed && !s.quitting {
		if s.busy() {
			if s.data != nil && s.abortQueued() {
				s.abortTransfer()
				continue
			}
			return
		}
		line, ok := s.nextLine()
		if !ok {
			return
		}
		s.dispatch(line)
	}
}

// nextLine pops one command line, without its terminator and Telnet
// sequences.
func (s *session) nextLine() (string, bool) {
	idx := bytes.IndexByte(s.inbuf, '\n')
	if idx < 0 {
		return "", false
	}
	raw := stripTelnet(s.inbuf[:idx])
	line := string(bytes.TrimRight(raw, "\r"))
	s.inbuf = append(s.inbuf[:0], s.inbuf[idx+1:]...)
	return line, true
}

// abortQueued reports whether an ABOR is among the queued lines.
func (s *session) abortQueued() bool {
	rest := s.inbuf
	for {
		idx := bytes.IndexByte(rest, '\n')
		if idx < 0 {
			return false
		}
		line := stripTelnet(append([]byte(nil), rest[:idx]...))
		verb, _ := parseCommand(string(bytes.TrimRight(line, "\r")))
		if verb == "ABOR" {
			return true
		}
		rest = rest[idx+1:]
	}
}

// parseCommand splits a line into its upper-cased verb and raw argument.
func parseCommand(line string) (string, string) {
	line = strings.TrimLeft(line, " ")
	verb, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(verb), arg
}

func (s *session) dispatch(line string) {
	verb, arg := parseCommand(line)
	if verb == "" {
		return
	}

	logArg := arg
	if verb == "PASS" {
		logArg = "***"
	}
	s.server.logger.Debug("command received",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
		"cmd", verb,
		"arg", logArg,
	)

	start := time.Now()
	out := s.execute(verb, arg)
	s.apply(out)

	if s.server.metricsCollector != nil && out.login == nil {
		s.server.metricsCollector.RecordCommand(verb, out.reply.code < 400, time.Since(start))
	}
}

// execute runs the handler for verb. Access checks happen here, so a
// handler needing a login never runs, and never reaches the file store,
// before one.
func (s *session) execute(verb, arg string) outcome {
	cmd, ok := commandHandlers[verb]
	if !ok || s.server.disabledCommands[verb] {
		return replyf(502, "Command not implemented.")
	}
	if cmd.auth && s.identity == nil {
		return replyf(530, "Not logged in.")
	}
	if cmd.write && s.identity.ReadOnly {
		return replyf(550, "Permission denied.")
	}
	return cmd.handler(s, arg)
}

func (s *session) apply(out outcome) {
	if out.reply.code != 0 {
		s.send(out.reply)
	}
	if out.login != nil {
		s.beginLogin(*out.login)
	}
	if out.transfer != nil {
		s.startTransfer(out.transfer)
	}
	if out.quit {
		s.quitting = true
	}
}

// send queues a reply on the control channel.
func (s *session) send(r reply) {
	if len(r.lines) == 0 && r.end == "" {
		s.outbuf = fmt.Appendf(s.outbuf, "%d %s\r\n", r.code, r.text)
		return
	}
	s.outbuf = fmt.Appendf(s.outbuf, "%d-%s\r\n", r.code, r.text)
	for _, line := range r.lines {
		s.outbuf = append(s.outbuf, line...)
		s.outbuf = append(s.outbuf, '\r', '\n')
	}
	s.outbuf = fmt.Appendf(s.outbuf, "%d %s\r\n", r.code, r.end)
}

// flush writes queued replies. What the socket does not take now is sent
// when it polls writable. It returns false if the session was torn down.
func (s *session) flush() bool {
	if s.closed {
		return false
	}
	if s.ctrl == nil {
		return true
	}

	for len(s.outbuf) > 0 {
		n, err := s.ctrl.Write(s.outbuf)
		s.outbuf = s.outbuf[n:]
		if errors.Is(err, stream.ErrWouldBlock) {
			return s.setWantWrite(true)
		}
		if err != nil {
			s.server.logger.Warn("write error",
				"session_id", s.sessionID,
				"remote_ip", s.remoteIP,
				"error", err,
			)
			s.teardown("write_error")
			return false
		}
	}
	s.outbuf = nil

	if s.quitting {
		reason := "quit"
		if s.readClosed {
			reason = "client_closed"
		}
		s.teardown(reason)
		return false
	}
	return s.setWantWrite(false)
}

func (s *session) setWantWrite(want bool) bool {
	if s.wantWrite == want {
		return true
	}
	in := poller.Readable | poller.EdgeTriggered
	if want {
		in |= poller.Writable
	}
	if err := s.loop.rewatch(s.ctrl.FD(), in); err != nil {
		s.server.logger.Error("poll_modify_error", "session_id", s.sessionID, "error", err)
		s.teardown("poll_error")
		return false
	}
	s.wantWrite = want
	return true
}

// beginLogin asks the identity provider off the loop; the result comes
// back through the loop's post queue.
func (s *session) beginLogin(req loginRequest) {
	provider := s.server.identity
	if s.loop == nil {
		id, err := provider.Authenticate(req.user, req.pass)
		s.finishLogin(req.user, id, err)
		return
	}

	s.authPending = true
	loop := s.loop
	go func() {
		id, err := provider.Authenticate(req.user, req.pass)
		loop.post(func() {
			s.finishLogin(req.user, id, err)
			s.processInput()
		})
	}()
}

func (s *session) finishLogin(user string, id *Identity, err error) {
	s.authPending = false
	if s.closed {
		return
	}
	if err == nil && id == nil {
		err = ErrAuthFailed
	}

	if s.server.metricsCollector != nil {
		s.server.metricsCollector.RecordAuthentication(err == nil, user)
	}

	if err != nil {
		s.server.logger.Warn("authentication_failed",
			"session_id", s.sessionID,
			"remote_ip", s.remoteIP,
			"user", user,
			"reason", err.Error(),
		)
		s.user = ""
		s.send(reply{code: 530, text: "Login incorrect."})
		return
	}

	s.identity = id
	s.cwd = cleanHome(id.Home)
	s.transferType = typeBinary
	s.renameFrom = nil
	s.restartOffset = nil
	s.server.logger.Info("authentication_success",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", id.User,
	)
	s.send(reply{code: 230, text: "User logged in, proceed."})
}

// onTimer fires the session's data-connection deadlines.
func (s *session) onTimer(now time.Time) {
	if s.data == nil {
		return
	}
	s.data.onTimer(now)
	if s.data == nil {
		s.processInput()
	}
}

// abortTransfer ends the live transfer for a queued ABOR. The ABOR line
// itself is answered when it is dispatched.
func (s *session) abortTransfer() {
	if s.data != nil {
		s.data.abort()
	}
}

// deadline returns the earliest pending timer of the session.
func (s *session) deadline() (time.Time, bool) {
	if s.data == nil {
		return time.Time{}, false
	}
	return s.data.deadline()
}

// clearDataConfig discards any pending PORT or PASV setup.
func (s *session) clearDataConfig() error {
	var result *multierror.Error
	if s.pasv != nil {
		s.loop.unwatch(s.pasv.FD())
		if err := s.pasv.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		s.pasv = nil
	}
	if s.pasvConn != nil {
		if err := s.pasvConn.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		s.pasvConn = nil
	}
	s.activeAddr = nil
	return result.ErrorOrNil()
}

// teardown releases every resource of the session. No reply is sent.
func (s *session) teardown(reason string) {
	if s.closed {
		return
	}

	var result *multierror.Error
	if s.data != nil {
		if err := s.data.close(); err != nil {
			result = multierror.Append(result, err)
		}
		s.data = nil
	}
	if err := s.clearDataConfig(); err != nil {
		result = multierror.Append(result, err)
	}

	s.closed = true
	s.loop.unwatch(s.ctrl.FD())
	if err := s.ctrl.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	s.loop.release(s)

	if err := result.ErrorOrNil(); err != nil {
		s.server.logger.Debug("session close error", "session_id", s.sessionID, "error", err)
	}
	s.server.logger.Info("session_closed",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
		"reason", reason,
	)
}

// storeError maps a file store error to a 550 reply.
func (s *session) storeError(op, path string, err error) outcome {
	s.server.logger.Debug("store error",
		"session_id", s.sessionID,
		"op", op,
		"path", s.server.redactPath(path),
		"error", err,
	)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return replyf(550, "File not found.")
	case errors.Is(err, os.ErrPermission):
		return replyf(550, "Permission denied.")
	case errors.Is(err, os.ErrExist):
		return replyf(550, "File already exists.")
	case errors.Is(err, ErrDirNotEmpty):
		return replyf(550, "Directory not empty.")
	case errors.Is(err, ErrNotFile):
		return replyf(550, "Not a plain file.")
	case errors.Is(err, ErrFileBusy):
		return replyf(450, "File busy.")
	case errors.Is(err, os.ErrInvalid):
		return replyf(550, "Invalid argument.")
	}
	return replyf(550, "Requested action not taken.")
}
