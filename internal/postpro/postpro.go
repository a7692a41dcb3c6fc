// Package postpro runs the user scripts of a study: per-case scripts on
// each run directory and per-study post-processing over every case.
// Scripts live in the POST directory of the destination study.
package postpro

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/mattn/go-shellwords"
	"github.com/vk/casegrid/internal/config"
	"github.com/vk/casegrid/internal/ctxlog"
	"github.com/vk/casegrid/internal/execution"
	"github.com/vk/casegrid/internal/fsutil"
	"github.com/vk/casegrid/internal/report"
	"github.com/vk/casegrid/internal/study"
	"go.uber.org/multierr"
)

// LogFileName collects the output of every script. It is removed when
// the scripts printed nothing.
const LogFileName = "smgr_post_pro.log"

// PostDir holds the scripts of a study.
const PostDir = "POST"

// Runner runs scripts through an execution.Runner.
type Runner struct {
	runner      execution.Runner
	destination string
	report      *report.Reporter
	clock       clock.Clock

	log io.WriteCloser
}

// NewRunner returns a Runner for the studies of destination.
func NewRunner(runner execution.Runner, destination string, rep *report.Reporter) *Runner {
	return &Runner{runner: runner, destination: destination, report: rep, clock: clock.New()}
}

// WithClock replaces the clock used to time scripts.
func (r *Runner) WithClock(c clock.Clock) *Runner {
	r.clock = c
	return r
}

func (r *Runner) logPath() string {
	return filepath.Join(r.destination, LogFileName)
}

func (r *Runner) scriptPath(studyLabel, label string) string {
	return filepath.Join(r.destination, studyLabel, PostDir, label)
}

// Check disables plotting of every case with an enabled script missing
// from the POST directory of its study.
func (r *Runner) Check(cases []*study.Case) {
	for _, c := range cases {
		if !c.Plot {
			continue
		}
		for _, s := range c.Scripts {
			if !s.Enabled {
				continue
			}
			if p := r.scriptPath(c.Study, s.Label); !fsutil.IsFile(p) {
				r.report.Printf("    Warning: script %s not found.", p)
				c.Plot = false
				r.report.Status("check", c.Title(), "POST DISABLED")
				break
			}
		}
	}
}

// Scripts runs the scripts of every case still to be plotted with
// `-d <run dir>` appended.
func (r *Runner) Scripts(ctx context.Context, cases []*study.Case) error {
	var errs error
	for _, c := range cases {
		if !c.Plot {
			continue
		}
		for _, s := range c.Scripts {
			if !s.Enabled {
				continue
			}
			folder := c.RunDir()
			if s.Dest != "" {
				folder = filepath.Join(folder, s.Dest)
			}
			status, err := r.run(ctx, c.Study, s, "-d", folder)
			errs = multierr.Append(errs, err)
			r.report.Status("script", fmt.Sprintf("%s in %s", s.Label, c.Title()), status)
		}
	}
	return errs
}

// PostPro runs the post-processing scripts of each study with the labels
// and run directories of its cases.
func (r *Runner) PostPro(ctx context.Context, studies []*config.Study, cases []*study.Case) error {
	var errs error
	for _, st := range studies {
		var labels, dirs []string
		for _, c := range cases {
			if c.Study == st.Label {
				labels = append(labels, c.Label)
				dirs = append(dirs, c.RunDir())
			}
		}
		if len(labels) == 0 {
			continue
		}
		for _, s := range st.PostPro {
			if !s.Enabled {
				continue
			}
			status, err := r.run(ctx, st.Label, s,
				"-c", strings.Join(labels, " "), "-d", strings.Join(dirs, " "), "-s", st.Label)
			errs = multierr.Append(errs, err)
			r.report.Status("postpro", s.Label, status)
		}
	}
	return errs
}

// run executes one script and returns its status line. Only failures to
// launch the script are returned as errors.
func (r *Runner) run(ctx context.Context, studyLabel string, s *config.Script, extra ...string) (string, error) {
	path := r.scriptPath(studyLabel, s.Label)
	if !fsutil.IsFile(path) {
		return "SKIPPED (not found)", nil
	}
	if err := makeExecutable(path); err != nil {
		return "FAILED " + err.Error(), err
	}
	args, err := shellwords.Parse(s.Args)
	if err != nil {
		return "FAILED bad arguments", fmt.Errorf("script %s arguments %q: %w", s.Label, s.Args, err)
	}
	cmd := execution.Command{Path: path, Args: append(args, extra...), Dir: filepath.Dir(path)}

	log, err := r.openLog()
	if err != nil {
		return "FAILED " + err.Error(), err
	}
	ctxlog.FromContext(ctx).Debug("Running script.", "command", cmd.String())
	start := r.clock.Now()
	code, err := r.runner.Run(ctx, cmd, log)
	elapsed := r.clock.Since(start).Seconds()
	if err != nil {
		return fmt.Sprintf("FAILED (%.0f s)", elapsed), err
	}
	if code != 0 {
		return fmt.Sprintf("FAILED (%.0f s)", elapsed), nil
	}
	return fmt.Sprintf("OK (%.0f s)", elapsed), nil
}

func (r *Runner) openLog() (io.Writer, error) {
	if r.log == nil {
		f, err := os.OpenFile(r.logPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		r.log = f
	}
	return r.log, nil
}

func makeExecutable(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.Mode()&0111 == 0111 {
		return nil
	}
	return os.Chmod(path, fi.Mode()|0111)
}

// Close closes the script log, removing it when empty.
func (r *Runner) Close() error {
	if r.log == nil {
		return nil
	}
	err := r.log.Close()
	r.log = nil
	fi, statErr := os.Stat(r.logPath())
	if statErr != nil {
		return multierr.Append(err, statErr)
	}
	if fi.Size() == 0 {
		return multierr.Append(err, os.Remove(r.logPath()))
	}
	r.report.Printf(" Warning: logs generated during post-processing. See %s", r.logPath())
	return err
}
