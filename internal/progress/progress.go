// Package progress draws a single-line row counter on a terminal.
package progress

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Reporter redraws "Importing <label> N/M" in place. It stays silent when
// its output is not a terminal.
type Reporter struct {
	out     io.Writer
	enabled bool
	printer *message.Printer

	label string
	total int
	step  int
	drawn bool
}

// New returns a Reporter writing to f, enabled only when f is a terminal.
func New(f *os.File) *Reporter {
	return NewWriter(f, term.IsTerminal(int(f.Fd())))
}

// NewWriter returns a Reporter writing to w.
func NewWriter(w io.Writer, enabled bool) *Reporter {
	return &Reporter{
		out:     w,
		enabled: enabled,
		printer: message.NewPrinter(language.English),
	}
}

// Start begins counting total rows for label.
func (r *Reporter) Start(label string, total int) {
	r.label = label
	r.total = total
	r.step = max(1, total/500)
	r.drawn = false
}

// Update redraws the line for done rows, throttled so large batches do not
// flood the terminal.
func (r *Reporter) Update(done, skipped int) {
	if !r.enabled {
		return
	}
	if done != r.total && done%r.step != 0 {
		return
	}
	line := r.printer.Sprintf("Importing %s %d/%d", r.label, done, r.total)
	if skipped > 0 {
		line += r.printer.Sprintf(" (skipped %d)", skipped)
	}
	fmt.Fprintf(r.out, "\r\033[K%s", line)
	r.drawn = true
}

// Finish clears the line.
func (r *Reporter) Finish() {
	if r.enabled && r.drawn {
		fmt.Fprint(r.out, "\r\033[K")
		r.drawn = false
	}
}
