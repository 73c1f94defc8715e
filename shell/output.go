package shell

import (
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

// palette holds the colors of reply classes and shell messages.
type palette struct {
	ok   *color.Color
	info *color.Color
	warn *color.Color
	fail *color.Color
}

func newPalette() palette {
	return palette{
		ok:   color.New(color.FgGreen),
		info: color.New(color.FgCyan),
		warn: color.New(color.FgYellow),
		fail: color.New(color.FgRed),
	}
}

func (p palette) disable() {
	for _, c := range []*color.Color{p.ok, p.info, p.warn, p.fail} {
		c.DisableColor()
	}
}

// rate formats a transfer summary:
//
//	21863760 bytes received in 10.59 secs (1.9698 MB/s)
func (s *Shell) rate(n int64, verb string, elapsed time.Duration) {
	secs := elapsed.Seconds()
	mbps := 0.0
	if secs > 0 {
		mbps = float64(n) / secs / 1024 / 1024
	}
	s.printf("%d bytes %s in %.2f secs (%.4f MB/s)\n", n, verb, secs, mbps)
}

// renderHelp writes the command table.
func renderHelp(w io.Writer, cmds []*command) error {
	table := tablewriter.NewWriter(w)
	table.Header("Command", "Usage", "Description")
	for _, c := range cmds {
		if err := table.Append([]string{c.name, c.usage, c.help}); err != nil {
			return err
		}
	}
	return table.Render()
}
