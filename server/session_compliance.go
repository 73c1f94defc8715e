package server

import (
	"os"
	"strconv"
	"strings"
)

// handleMODE handles the MODE command.
// RFC 1123 requires Stream mode support.
func (s *session) handleMODE(arg string) outcome {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "":
		return replyf(501, "Syntax error in parameters or arguments.")
	case "S":
		return replyf(200, "Mode set to Stream.")
	case "B":
		return replyf(504, "Block mode not implemented.")
	case "C":
		return replyf(504, "Compressed mode not implemented.")
	}
	return replyf(504, "Command not implemented for that parameter.")
}

// handleSTRU handles the STRU command.
// RFC 1123 requires File structure support.
func (s *session) handleSTRU(arg string) outcome {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "":
		return replyf(501, "Syntax error in parameters or arguments.")
	case "F":
		return replyf(200, "Structure set to File.")
	case "R":
		return replyf(504, "Record structure not implemented.")
	case "P":
		return replyf(504, "Page structure not implemented.")
	}
	return replyf(504, "Command not implemented for that parameter.")
}

// parseMode parses an octal permission value with no special bits.
func parseMode(v string) (os.FileMode, bool) {
	mode, err := strconv.ParseUint(v, 8, 32)
	if err != nil || mode > 0777 {
		return 0, false
	}
	return os.FileMode(mode), true
}

// handleSITE handles the SITE command (RFC 959).
func (s *session) handleSITE(arg string) outcome {
	parts := strings.Fields(arg)
	if len(parts) == 0 {
		return replyf(501, "SITE command requires parameters.")
	}

	switch strings.ToUpper(parts[0]) {
	case "HELP":
		return replyf(214, "Available SITE commands: HELP, CHMOD, UMASK")

	case "CHMOD":
		// SITE CHMOD <mode> <path>; the path may contain spaces.
		if len(parts) < 3 {
			return replyf(501, "Syntax error in parameters or arguments.")
		}
		mode, ok := parseMode(parts[1])
		if !ok {
			return replyf(501, "Invalid mode.")
		}
		if s.identity.ReadOnly {
			return replyf(550, "Permission denied.")
		}
		// Rejoin the path from the raw argument so runs of spaces survive.
		rest := strings.TrimSpace(arg)
		rest = strings.TrimSpace(rest[len(parts[0]):])
		rest = strings.TrimSpace(rest[len(parts[1]):])
		target := s.resolve(rest)
		if err := s.server.store.Chmod(target, mode); err != nil {
			return s.storeError("SITE CHMOD", target, err)
		}
		return replyf(200, "SITE CHMOD command successful.")

	case "UMASK":
		if len(parts) == 1 {
			return replyf(200, "Current UMASK is %03o.", uint32(s.umask))
		}
		if len(parts) != 2 {
			return replyf(501, "Syntax error in parameters or arguments.")
		}
		mask, ok := parseMode(parts[1])
		if !ok {
			return replyf(501, "Invalid mode.")
		}
		s.umask = mask
		return replyf(200, "UMASK set to %03o.", uint32(mask))
	}
	return replyf(504, "SITE command not implemented for that parameter.")
}
