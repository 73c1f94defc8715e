package server

const (
	// telnetIAC is Interpret As Command
	telnetIAC = 0xFF
	// telnetWILL negotiation command
	telnetWILL = 0xFB
	// telnetWONT negotiation command
	telnetWONT = 0xFC
	// telnetDO negotiation command
	telnetDO = 0xFD
	// telnetDONT negotiation command
	telnetDONT = 0xFE
)

// stripTelnet removes Telnet command sequences from a command line in
// place. Clients send IAC IP and IAC DM ahead of ABOR; a doubled IAC is an
// escaped 0xFF data byte.
func stripTelnet(line []byte) []byte {
	out := line[:0]
	for i := 0; i < len(line); i++ {
		b := line[i]
		if b != telnetIAC {
			out = append(out, b)
			continue
		}
		if i+1 >= len(line) {
			break
		}
		i++
		switch line[i] {
		case telnetIAC:
			out = append(out, telnetIAC)
		case telnetWILL, telnetWONT, telnetDO, telnetDONT:
			// IAC CMD OPT
			i++
		}
	}
	return out
}
