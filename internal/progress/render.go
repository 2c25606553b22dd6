package progress

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
)

// TerminalRenderer prints one line per event, tagged with the worker id.
type TerminalRenderer struct {
	out   io.Writer
	now   func() time.Time
	tag   *color.Color
	ok    *color.Color
	fail  *color.Color
	phase *color.Color
}

// NewTerminalRenderer writes to out. Colors follow fatih/color's global
// NoColor setting, so piping to a file yields plain text.
func NewTerminalRenderer(out io.Writer) *TerminalRenderer {
	return &TerminalRenderer{
		out:   out,
		now:   time.Now,
		tag:   color.New(color.FgCyan, color.Bold),
		ok:    color.New(color.FgGreen),
		fail:  color.New(color.FgRed),
		phase: color.New(color.FgYellow),
	}
}

func (r *TerminalRenderer) Render(s Status) error {
	at := s.At
	if at.IsZero() {
		at = r.now()
	}
	msg := s.Message
	switch {
	case s.IsError:
		msg = r.fail.Sprint(msg)
	case s.Completed:
		msg = r.ok.Sprint(msg)
	}
	_, err := fmt.Fprintf(r.out, "%s %s %s %s\n",
		at.Format("15:04:05"),
		r.tag.Sprintf("[worker %d]", s.WorkerID),
		r.phase.Sprintf("%-10s", s.Phase),
		msg)
	return err
}
