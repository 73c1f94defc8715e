package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/gonzalop/miniftp/internal/poller"
	"github.com/gonzalop/miniftp/internal/stream"
)

// hasDataConfig reports whether PORT or PASV prepared a data connection.
func (s *session) hasDataConfig() bool {
	return s.pasv != nil || s.pasvConn != nil || s.activeAddr != nil
}

// discardDataConfig drops the prepared data connection of a transfer
// command that failed before it started.
func (s *session) discardDataConfig() {
	if err := s.clearDataConfig(); err != nil {
		s.server.logger.Debug("data config close error", "session_id", s.sessionID, "error", err)
	}
}

// takeRestartOffset consumes the pending REST offset.
func (s *session) takeRestartOffset() int64 {
	if s.restartOffset == nil {
		return 0
	}
	offset := *s.restartOffset
	s.restartOffset = nil
	return offset
}

func (s *session) handleRETR(arg string) outcome {
	offset := s.takeRestartOffset()
	if arg == "" {
		return replyf(501, "Syntax error in parameters or arguments.")
	}
	if !s.hasDataConfig() {
		return replyf(425, "Use PORT or PASV first.")
	}

	target := s.resolve(arg)
	file, err := s.server.store.Open(target, os.O_RDONLY, offset)
	if err != nil {
		s.discardDataConfig()
		return s.storeError("RETR", target, err)
	}

	var src io.Reader = file
	if s.transferType == typeASCII {
		src = newASCIIReader(file, chunkSize)
	}

	text := "Opening data connection for RETR."
	if offset > 0 {
		text = fmt.Sprintf("Opening data connection for RETR (restarting at %d).", offset)
	}
	return outcome{
		reply:    reply{code: 150, text: text},
		transfer: &transferJob{verb: "RETR", path: target, src: src, file: file},
	}
}

func (s *session) handleSTOR(arg string) outcome {
	offset := s.takeRestartOffset()
	flag := os.O_WRONLY | os.O_CREATE
	if offset == 0 {
		flag |= os.O_TRUNC
	}
	return s.receiveFile("STOR", arg, flag, offset)
}

func (s *session) handleAPPE(arg string) outcome {
	s.restartOffset = nil
	return s.receiveFile("APPE", arg, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0)
}

func (s *session) receiveFile(verb, arg string, flag int, offset int64) outcome {
	if arg == "" {
		return replyf(501, "Syntax error in parameters or arguments.")
	}
	if !s.hasDataConfig() {
		return replyf(425, "Use PORT or PASV first.")
	}

	target := s.resolve(arg)
	_, statErr := s.server.store.Stat(target)
	file, err := s.server.store.Open(target, flag, offset)
	if err != nil {
		s.discardDataConfig()
		return s.storeError(verb, target, err)
	}
	if errors.Is(statErr, os.ErrNotExist) && s.umask != 0 {
		if err := s.server.store.Chmod(target, 0666&^s.umask); err != nil {
			s.server.logger.Debug("apply umask failed", "session_id", s.sessionID, "error", err)
		}
	}

	job := &transferJob{verb: verb, path: target, dst: file, file: file}
	if s.transferType == typeASCII {
		w := newASCIIWriter(file)
		job.dst = w
		job.flush = w.Flush
	}

	text := fmt.Sprintf("Ok to send data for %s.", verb)
	if offset > 0 {
		text = fmt.Sprintf("Ok to send data for %s (restarting at %d).", verb, offset)
	}
	return outcome{reply: reply{code: 150, text: text}, transfer: job}
}

func (s *session) handleTYPE(arg string) outcome {
	typ := strings.ToUpper(strings.Join(strings.Fields(arg), " "))
	if typ == "" {
		return replyf(501, "Syntax error in parameters or arguments.")
	}
	// Only ASCII (A) and Image (I) are supported. Other RFC 959 types get
	// 504; anything else is a syntax error.
	switch typ {
	case "A", "A N":
		s.transferType = typeASCII
	case "I", "L 8":
		s.transferType = typeBinary
	default:
		switch typ[0] {
		case 'A', 'E', 'I', 'L':
			return replyf(504, "Type not supported.")
		}
		return replyf(501, "Unrecognised TYPE command.")
	}
	// Offsets are not comparable across types.
	s.restartOffset = nil
	return replyf(200, "Type set to %s.", s.transferType)
}

// parseHostPort decodes the h1,h2,h3,h4,p1,p2 form of PORT.
func parseHostPort(arg string) (*net.TCPAddr, error) {
	parts := strings.Split(strings.TrimSpace(arg), ",")
	if len(parts) != 6 {
		return nil, fmt.Errorf("want 6 fields, got %d", len(parts))
	}
	var octets [6]byte
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 0 || v > 255 {
			return nil, fmt.Errorf("invalid field %q", p)
		}
		octets[i] = byte(v)
	}
	return &net.TCPAddr{
		IP:   net.IPv4(octets[0], octets[1], octets[2], octets[3]).To4(),
		Port: int(octets[4])<<8 | int(octets[5]),
	}, nil
}

// formatHostPort encodes addr in the h1,h2,h3,h4,p1,p2 form of PASV.
func formatHostPort(ip net.IP, port int) string {
	ip4 := ip.To4()
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", ip4[0], ip4[1], ip4[2], ip4[3], port>>8, port&0xff)
}

func (s *session) handlePORT(arg string) outcome {
	addr, err := parseHostPort(arg)
	if err != nil {
		return replyf(501, "Syntax error in parameters or arguments.")
	}

	// No bouncing to third parties or to privileged ports.
	if !addr.IP.Equal(net.ParseIP(s.remoteIP)) || addr.Port <= 1024 {
		s.server.logger.Warn("port_rejected",
			"session_id", s.sessionID,
			"remote_ip", s.remoteIP,
			"target", addr.String(),
		)
		return replyf(500, "Illegal PORT command.")
	}

	s.discardDataConfig()
	s.activeAddr = addr
	return replyf(200, "PORT command successful.")
}

// listenPassive binds a passive listener on ip on a port this session has
// not been given before.
func (s *session) listenPassive(ip net.IP) (*stream.Listener, error) {
	settings := s.server.settings
	if settings.PasvMinPort == 0 {
		// Rejected listeners stay open until the search ends so the kernel
		// cannot hand out their ports again.
		var rejected []*stream.Listener
		defer func() {
			for _, l := range rejected {
				l.Close()
			}
		}()
		for attempt := 0; attempt < 16; attempt++ {
			l, err := stream.ListenTCP(&net.TCPAddr{IP: ip})
			if err != nil {
				return nil, err
			}
			if !s.pasvPorts[l.Addr().Port] {
				return l, nil
			}
			rejected = append(rejected, l)
		}
		return nil, errors.New("no unused ephemeral port")
	}

	minPort, maxPort := settings.PasvMinPort, settings.PasvMaxPort
	n := maxPort - minPort + 1
	start := s.loop.nextPasvPort
	s.loop.nextPasvPort++

	for pass := 0; pass < 2; pass++ {
		for i := 0; i < n; i++ {
			port := minPort + (start+i)%n
			if s.pasvPorts[port] {
				continue
			}
			l, err := stream.ListenTCP(&net.TCPAddr{IP: ip, Port: port})
			if err == nil {
				return l, nil
			}
		}
		// The session went through the whole range; start over, still
		// skipping the ports held right now.
		held := make(map[int]bool)
		if s.pasv != nil {
			held[s.pasv.Addr().Port] = true
		}
		s.pasvPorts = held
	}
	return nil, fmt.Errorf("no available ports in range [%d, %d]", minPort, maxPort)
}

func (s *session) handlePASV(arg string) outcome {
	if arg != "" {
		return replyf(501, "Syntax error in parameters or arguments.")
	}

	local := s.ctrl.LocalAddr()
	if local == nil || local.IP.To4() == nil {
		return replyf(425, "Can't open passive connection.")
	}
	advertised := local.IP.To4()
	if s.server.pasvIP != nil {
		advertised = s.server.pasvIP
	}

	// Bind the new listener before the old one is released so the port
	// cannot repeat.
	l, err := s.listenPassive(local.IP)
	if err != nil {
		s.server.logger.Warn("passive listen failed", "session_id", s.sessionID, "error", err)
		return replyf(425, "Can't open passive connection.")
	}
	s.discardDataConfig()

	if err := s.loop.watch(l.FD(), poller.Readable, slotPassive, s); err != nil {
		l.Close()
		return replyf(425, "Can't open passive connection.")
	}
	s.pasv = l
	port := l.Addr().Port
	s.pasvPorts[port] = true

	s.server.logger.Debug("passive listener open", "session_id", s.sessionID, "port", port)
	return replyf(227, "Entering Passive Mode (%s).", formatHostPort(advertised, port))
}

func (s *session) handleREST(arg string) outcome {
	offset, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || offset < 0 {
		return replyf(501, "Invalid offset.")
	}
	if s.transferType == typeASCII {
		return replyf(504, "REST is only supported in binary mode.")
	}
	s.restartOffset = &offset
	return replyf(350, "Restarting at %d. Send STOR or RETR to initiate transfer.", offset)
}

// handleABOR runs when no transfer is live: either none was, or a queued
// ABOR already ended it.
func (s *session) handleABOR(_ string) outcome {
	return replyf(226, "ABOR command successful.")
}
