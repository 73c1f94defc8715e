package server

import (
	"fmt"
	"strings"
	"time"
)

// features is the FEAT capability set.
var features = []string{
	"PASV",
	"REST STREAM",
	"SIZE",
	"UTF8",
}

// helpLines is the HELP command listing.
var helpLines = []string{
	" USER PASS QUIT",
	" CWD XCWD CDUP XCUP PWD XPWD MKD XMKD RMD XRMD",
	" LIST NLST",
	" RETR STOR APPE DELE",
	" RNFR RNTO REST ABOR",
	" TYPE MODE STRU PORT PASV",
	" SIZE FEAT OPTS",
	" SYST STAT HELP NOOP SITE",
}

func helped(verb string) bool {
	for _, line := range helpLines {
		for _, v := range strings.Fields(line) {
			if v == verb {
				return true
			}
		}
	}
	return false
}

func (s *session) handleSIZE(arg string) outcome {
	if arg == "" {
		return replyf(501, "Syntax error in parameters or arguments.")
	}
	target := s.resolve(arg)
	info, err := s.server.store.Stat(target)
	if err != nil {
		return replyf(550, "Could not get file size.")
	}
	if info.IsDir() {
		return replyf(550, "Not a plain file.")
	}
	// The ASCII byte count differs from the stored size.
	if s.transferType == typeASCII {
		return replyf(550, "SIZE not allowed in ASCII mode.")
	}
	return replyf(213, "%d", info.Size())
}

func (s *session) handleFEAT(_ string) outcome {
	lines := make([]string, len(features))
	for i, f := range features {
		lines[i] = " " + f
	}
	return multiline(211, "Features:", lines, "End")
}

func (s *session) handleOPTS(arg string) outcome {
	switch strings.ToUpper(strings.Join(strings.Fields(arg), " ")) {
	case "UTF8 ON", "UTF8":
		return replyf(200, "Always in UTF8 mode.")
	}
	return replyf(501, "Option not understood.")
}

func (s *session) handleSYST(_ string) outcome {
	return replyf(215, "%s", s.server.serverName)
}

func (s *session) handleNOOP(_ string) outcome {
	return replyf(200, "NOOP ok.")
}

func (s *session) handleHELP(arg string) outcome {
	if arg != "" {
		verb := strings.ToUpper(strings.TrimSpace(arg))
		if helped(verb) && !s.server.disabledCommands[verb] {
			return replyf(214, "%s is supported.", verb)
		}
		return replyf(502, "Unknown command %s.", verb)
	}
	lines := make([]string, 0, len(helpLines))
	for _, line := range helpLines {
		var verbs []string
		for _, v := range strings.Fields(line) {
			if !s.server.disabledCommands[v] {
				verbs = append(verbs, v)
			}
		}
		if len(verbs) > 0 {
			lines = append(lines, " "+strings.Join(verbs, " "))
		}
	}
	return multiline(214, "The following commands are supported:", lines, "Help OK.")
}

// handleSTAT reports the session status, or with an argument, lists a
// path over the control connection.
func (s *session) handleSTAT(arg string) outcome {
	if arg != "" {
		target := s.resolve(listTarget(arg))
		entries, err := s.readDir(target)
		if err != nil {
			return s.storeError("STAT", target, err)
		}
		now := time.Now()
		lines := make([]string, len(entries))
		for i, entry := range entries {
			lines[i] = formatListLine(entry, now)
		}
		return multiline(213, fmt.Sprintf("Status of %s:", target), lines, "End of status.")
	}

	typeName := "BINARY"
	if s.transferType == typeASCII {
		typeName = "ASCII"
	}
	lines := []string{
		fmt.Sprintf(" Connected from %s", s.remoteIP),
		fmt.Sprintf(" Logged in as %s", s.identity.User),
		fmt.Sprintf(" TYPE: %s; STRUcture: File; transfer MODE: Stream", typeName),
		fmt.Sprintf(" Current directory: %s", s.cwd),
	}
	switch {
	case s.pasv != nil || s.pasvConn != nil:
		lines = append(lines, " Data connection: passive")
	case s.activeAddr != nil:
		lines = append(lines, fmt.Sprintf(" Data connection: active to %s", s.activeAddr))
	default:
		lines = append(lines, " Data connection: none")
	}
	if s.restartOffset != nil {
		lines = append(lines, fmt.Sprintf(" Restart offset: %d", *s.restartOffset))
	}
	return multiline(211, "FTP server status:", lines, "End of status.")
}
