// Package report produces the human-facing outputs of an orchestration
// run: the status lines of the run report and the state tables.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"go.uber.org/multierr"
)

// LogFileName is the run report written to the destination directory.
const LogFileName = "smgr.log"

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed, color.Bold)
)

// Reporter appends status lines to the console and to the run report.
// Console output is coloured, the report file never is.
type Reporter struct {
	mu      sync.Mutex
	console io.Writer
	log     io.Writer
	closers []io.Closer
}

// New creates a reporter writing to console (nil for quiet runs) and
// appending to the file at logPath.
func New(console io.Writer, logPath string) (*Reporter, error) {
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open report %s: %w", logPath, err)
	}
	r := NewWriter(console, f)
	r.closers = append(r.closers, f)
	return r, nil
}

// NewWriter creates a reporter over arbitrary writers. Either may be nil.
func NewWriter(console, log io.Writer) *Reporter {
	if console == nil {
		console = io.Discard
	}
	if log == nil {
		log = io.Discard
	}
	return &Reporter{console: console, log: log}
}

// Printf writes one line to both outputs.
func (r *Reporter) Printf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	io.WriteString(r.console, line)
	io.WriteString(r.log, line)
}

// Status reports the outcome of a step for a case, e.g.
// "    - run S/A/RESU/run1 --> OK".
func (r *Reporter) Status(step, title, status string) {
	prefix := fmt.Sprintf("    - %s %s --> ", step, title)
	r.mu.Lock()
	defer r.mu.Unlock()
	io.WriteString(r.console, prefix+colorize(status)+"\n")
	io.WriteString(r.log, prefix+status+"\n")
}

// Write implements io.Writer, copying p verbatim to both outputs.
func (r *Reporter) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.console.Write(p)
	return r.log.Write(p)
}

// Section writes a step header.
func (r *Reporter) Section(title string) {
	r.Printf("\n  o %s", title)
}

func colorize(status string) string {
	switch {
	case strings.HasPrefix(status, "OK"):
		return okColor.Sprint(status)
	case strings.HasPrefix(status, "FAILED"), strings.HasPrefix(status, "DIFFERENCES"),
		strings.HasPrefix(status, "DIFFERENT"):
		return failColor.Sprint(status)
	case strings.HasPrefix(status, "SKIPPED"), strings.HasPrefix(status, "CANCELLED"):
		return warnColor.Sprint(status)
	}
	return status
}

// Close closes the report file.
func (r *Reporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	for _, c := range r.closers {
		err = multierr.Append(err, c.Close())
	}
	r.closers = nil
	return err
}
