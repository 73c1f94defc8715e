package server

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"strings"
	"time"
)

// resolve turns a command argument into an absolute store path.
func (s *session) resolve(p string) string {
	if strings.HasPrefix(p, "/") {
		return path.Clean(p)
	}
	return path.Join(s.cwd, p)
}

func (s *session) handlePWD(arg string) outcome {
	if arg != "" {
		return replyf(501, "Syntax error in parameters or arguments.")
	}
	return replyf(257, "%s is the current directory.", quotePath(s.cwd))
}

// quotePath quotes p for a 257 reply, doubling embedded quotes.
func quotePath(p string) string {
	return `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
}

func (s *session) handleCWD(arg string) outcome {
	if arg == "" {
		return replyf(501, "Syntax error in parameters or arguments.")
	}
	target := s.resolve(arg)
	info, err := s.server.store.Stat(target)
	if err != nil {
		return s.storeError("CWD", target, err)
	}
	if !info.IsDir() {
		return replyf(550, "Not a directory.")
	}
	s.cwd = target
	return replyf(250, "Directory successfully changed.")
}

func (s *session) handleCDUP(arg string) outcome {
	if arg != "" {
		return replyf(501, "Syntax error in parameters or arguments.")
	}
	return s.handleCWD("..")
}

// listTarget strips ls-style flags ("-la") that clients put in front of
// the path.
func listTarget(arg string) string {
	fields := strings.Fields(arg)
	for len(fields) > 0 && strings.HasPrefix(fields[0], "-") {
		fields = fields[1:]
	}
	return strings.Join(fields, " ")
}

// readDir returns the entries to list for p: the directory's children, or
// the entry itself for a file.
func (s *session) readDir(p string) ([]os.FileInfo, error) {
	info, err := s.server.store.Stat(p)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []os.FileInfo{info}, nil
	}
	return s.server.store.List(p)
}

// formatListLine renders an entry the way ls -l does.
func formatListLine(info os.FileInfo, now time.Time) string {
	modTime := info.ModTime()
	stamp := modTime.Format("Jan 02 15:04")
	if now.Sub(modTime) > 180*24*time.Hour || modTime.After(now.Add(time.Hour)) {
		stamp = modTime.Format("Jan 02  2006")
	}
	return fmt.Sprintf("%s 1 owner group %d %s %s", info.Mode().String(), info.Size(), stamp, info.Name())
}

func (s *session) handleLIST(arg string) outcome {
	return s.list("LIST", arg, func(info os.FileInfo, now time.Time) string {
		return formatListLine(info, now)
	}, "Here comes the directory listing.")
}

func (s *session) handleNLST(arg string) outcome {
	return s.list("NLST", arg, func(info os.FileInfo, _ time.Time) string {
		return info.Name()
	}, "Here comes the file list.")
}

func (s *session) list(verb, arg string, format func(os.FileInfo, time.Time) string, msg string) outcome {
	if !s.hasDataConfig() {
		return replyf(425, "Use PORT or PASV first.")
	}

	target := s.cwd
	if p := listTarget(arg); p != "" {
		target = s.resolve(p)
	}
	entries, err := s.readDir(target)
	if err != nil {
		s.discardDataConfig()
		return s.storeError(verb, target, err)
	}

	var buf bytes.Buffer
	now := time.Now()
	for _, entry := range entries {
		buf.WriteString(format(entry, now))
		buf.WriteString("\r\n")
	}

	return outcome{
		reply: reply{code: 150, text: msg},
		transfer: &transferJob{
			verb:    verb,
			path:    target,
			src:     &buf,
			listing: true,
		},
	}
}

func (s *session) handleMKD(arg string) outcome {
	if arg == "" {
		return replyf(501, "Syntax error in parameters or arguments.")
	}
	target := s.resolve(arg)
	if err := s.server.store.Mkdir(target, 0777&^s.umask); err != nil {
		return s.storeError("MKD", target, err)
	}
	s.server.logger.Info("directory_created",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
		"path", s.server.redactPath(target),
	)
	// RFC 959: 257 "PATHNAME" created.
	return replyf(257, "%s created.", quotePath(target))
}

func (s *session) handleRMD(arg string) outcome {
	if arg == "" {
		return replyf(501, "Syntax error in parameters or arguments.")
	}
	target := s.resolve(arg)
	if err := s.server.store.Rmdir(target); err != nil {
		return s.storeError("RMD", target, err)
	}
	s.server.logger.Info("directory_removed",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
		"path", s.server.redactPath(target),
	)
	return replyf(250, "Directory removed.")
}

func (s *session) handleDELE(arg string) outcome {
	if arg == "" {
		return replyf(501, "Syntax error in parameters or arguments.")
	}
	target := s.resolve(arg)
	if err := s.server.store.Remove(target); err != nil {
		return s.storeError("DELE", target, err)
	}
	s.server.logger.Info("file_deleted",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
		"path", s.server.redactPath(target),
	)
	return replyf(250, "File deleted.")
}

func (s *session) handleRNFR(arg string) outcome {
	if arg == "" {
		return replyf(501, "Syntax error in parameters or arguments.")
	}
	target := s.resolve(arg)
	if _, err := s.server.store.Stat(target); err != nil {
		s.renameFrom = nil
		return s.storeError("RNFR", target, err)
	}
	s.renameFrom = &target
	return replyf(350, "Requested file action pending further information.")
}

func (s *session) handleRNTO(arg string) outcome {
	if s.renameFrom == nil {
		return replyf(503, "Bad sequence of commands. Send RNFR first.")
	}
	from := *s.renameFrom
	s.renameFrom = nil
	if arg == "" {
		return replyf(501, "Syntax error in parameters or arguments.")
	}

	to := s.resolve(arg)
	if err := s.server.store.Rename(from, to); err != nil {
		return s.storeError("RNTO", to, err)
	}
	s.server.logger.Info("file_renamed",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
		"from", s.server.redactPath(from),
		"to", s.server.redactPath(to),
	)
	return replyf(250, "Requested file action successful, file renamed.")
}
