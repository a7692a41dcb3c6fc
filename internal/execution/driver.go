package execution

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/vk/casegrid/internal/casestate"
	"github.com/vk/casegrid/internal/ctxlog"
	"github.com/vk/casegrid/internal/fsutil"
	"github.com/vk/casegrid/internal/report"
	"github.com/vk/casegrid/internal/study"
)

// memoryLeakFlag is or-ed into the solver exit code when --mem-log detects
// leaks.
const memoryLeakFlag = 2

// ControlFile is read by the running solver to adjust its time step limit.
const ControlFile = "control_file"

// Options configures a Driver.
type Options struct {
	// SolverExec is the solver front-end executable.
	SolverExec string
	// MemLog enables the solver's memory leak detection.
	MemLog bool
	// Resource is forwarded as --with-resource when set.
	Resource string
}

// Result is the outcome of a case run.
type Result struct {
	ExitCode   int
	Elapsed    time.Duration
	MemoryLeak bool
}

// Driver stages and runs cases through the solver front-end.
type Driver struct {
	runner Runner
	opts   Options
	report *report.Reporter
	clock  clock.Clock
}

// NewDriver returns a Driver running commands with runner.
func NewDriver(runner Runner, opts Options, rep *report.Reporter) *Driver {
	return &Driver{runner: runner, opts: opts, report: rep, clock: clock.New()}
}

// WithClock replaces the clock used to time runs.
func (d *Driver) WithClock(c clock.Clock) *Driver {
	d.clock = c
	return d
}

// StagingLog is the log staging output goes to until the run directory
// exists.
func StagingLog(c *study.Case) string {
	return filepath.Join(c.DestDir, fmt.Sprintf("run_%s_%s.log", c.Label, c.RunID))
}

// Prepared reports whether the run directory of c was already staged.
func Prepared(c *study.Case) bool {
	return fsutil.IsFile(filepath.Join(c.RunDir(), casestate.PreparedMarker))
}

// StageCommands returns the staging commands of c, one per subdomain for
// coupled cases.
func (d *Driver) StageCommands(c *study.Case) []Command {
	if !c.Coupled() {
		return []Command{d.stageCommand(c, c.RepoCaseDir(), c.DestDir)}
	}
	cmds := make([]Command, 0, len(c.Subdomains))
	for _, dom := range c.Subdomains {
		cmds = append(cmds, d.stageCommand(c, filepath.Join(c.RepoCaseDir(), dom), c.CaseDir()))
	}
	return cmds
}

func (d *Driver) stageCommand(c *study.Case, repo, dest string) Command {
	args := []string{"run", "--stage", "--case", repo, "--dest", dest, "--id", c.RunID}
	if c.NotebookArgs != "" {
		args = append(args, "--notebook-args", c.NotebookArgs)
	}
	if c.ParametricArgs != "" {
		args = append(args, "--parametric-args", c.ParametricArgs)
	}
	if c.KwArgs != "" {
		args = append(args, "--kw-args", kwArgs(c.KwArgs))
	}
	return Command{Path: d.opts.SolverExec, Args: args}
}

// kwArgs keeps a single "--opt" value from being taken for a flag of the
// solver front-end.
func kwArgs(s string) string {
	if !strings.Contains(s, " ") {
		return s + " "
	}
	return s
}

// RunCommand returns the command running an already staged case.
func (d *Driver) RunCommand(c *study.Case) Command {
	args := []string{"run", "--no-stage", "--case", c.RepoCaseDir(), "--dest", c.DestDir, "--id", c.RunID}
	if d.opts.MemLog {
		args = append(args, "--mem-log")
	}
	if c.KwArgs != "" {
		args = append(args, "--kw-args", kwArgs(c.KwArgs))
	}
	if c.ExplicitNProcs {
		args = append(args, "-n", strconv.Itoa(c.NProcs))
	}
	if d.opts.Resource != "" {
		args = append(args, "--with-resource", d.opts.Resource)
	}
	return Command{Path: d.opts.SolverExec, Args: args, Dir: c.RunDir()}
}

// BatchCommands renders the run of c as shell lines for a batch script.
func (d *Driver) BatchCommands(c *study.Case) string {
	cmd := d.RunCommand(c)
	return fmt.Sprintf("cd %s\n%s >> %s 2>&1\n", ShellQuote(cmd.Dir), cmd, casestate.RunLog)
}

// Stage prepares the run directory of c. A case that was already staged is
// left alone. If staging fails on a case that was never prepared, c is no
// longer computed.
func (d *Driver) Stage(ctx context.Context, c *study.Case) error {
	logger := ctxlog.FromContext(ctx).With("case", c.Title())

	if Prepared(c) {
		d.report.Status("prepare", c.Title(), "SKIPPED (already prepared)")
		return nil
	}
	if err := os.MkdirAll(c.DestDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", c.DestDir, err)
	}

	logPath := StagingLog(c)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open staging log %s: %w", logPath, err)
	}

	if c.Coupled() {
		if err := os.MkdirAll(c.CaseDir(), 0755); err != nil {
			f.Close()
			return fmt.Errorf("failed to create %s: %w", c.CaseDir(), err)
		}
		if err := fsutil.CopyFiles(c.RepoCaseDir(), c.CaseDir()); err != nil {
			logger.Warn("Failed to copy coupled case files.", "error", err)
		}
	}

	retcode := 0
	var runErr error
	for i, cmd := range d.StageCommands(c) {
		logger.Debug("Staging.", "command", cmd.String())
		code, err := d.runner.Run(ctx, cmd, f)
		if err != nil {
			runErr = err
			code = -1
		}
		if i == 0 || code < retcode {
			retcode = code
		}
	}
	if err := f.Close(); err != nil {
		logger.Warn("Failed to close staging log.", "error", err)
	}
	if runErr != nil {
		logger.Error("Staging command could not be run.", "error", runErr)
	}

	if retcode == 0 {
		if err := os.MkdirAll(c.RunDir(), 0755); err == nil {
			dst := filepath.Join(c.RunDir(), casestate.RunLog)
			if err := fsutil.Move(logPath, dst); err != nil {
				logger.Warn("Failed to move staging log.", "error", err)
			}
		}
		d.report.Status("prepare", c.Title(), "OK")
		return nil
	}

	sentinel := Prepared(c)
	status := "FAILED"
	if fsutil.IsFile(filepath.Join(c.RunDir(), casestate.RunLog)) {
		status = "SKIPPED (already present)"
		if sentinel {
			status = "SKIPPED (already prepared)"
		}
	}
	if !sentinel {
		c.Compute = false
		status += " see " + logPath
	}
	d.report.Status("prepare", c.Title(), status)
	return nil
}

// Run runs an already staged case, appending its output to the run log.
// A non-zero exit code disables comparison and plotting of c.
func (d *Driver) Run(ctx context.Context, c *study.Case) (Result, error) {
	logger := ctxlog.FromContext(ctx).With("case", c.Title())

	cmd := d.RunCommand(c)
	if err := os.MkdirAll(cmd.Dir, 0755); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("failed to create %s: %w", cmd.Dir, err)
	}
	logPath := filepath.Join(cmd.Dir, casestate.RunLog)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("failed to open run log %s: %w", logPath, err)
	}
	defer f.Close()

	logger.Debug("Running.", "command", cmd.String())
	start := d.clock.Now()
	code, runErr := d.runner.Run(ctx, cmd, f)
	res := Result{ExitCode: code, Elapsed: d.clock.Since(start)}

	if runErr == nil && d.opts.MemLog && code > 0 && code&memoryLeakFlag != 0 {
		res.MemoryLeak = true
		res.ExitCode -= memoryLeakFlag
	}

	status := fmt.Sprintf("OK (%.0f s)", res.Elapsed.Seconds())
	if runErr != nil || res.ExitCode != 0 {
		c.Compare = false
		c.Plot = false
		status = "FAILED see " + logPath
	}
	if res.MemoryLeak {
		status += " (memory leaks)"
	}
	d.report.Status("run", c.Title(), status)
	logger.Debug("Run finished.", "exit_code", res.ExitCode, "elapsed", res.Elapsed)

	if runErr != nil {
		return res, runErr
	}
	return res, nil
}

// Execute stages c when it is not prepared yet and runs it if it is still
// to be computed.
func (d *Driver) Execute(ctx context.Context, c *study.Case) (Result, error) {
	if !Prepared(c) {
		if err := d.Stage(ctx, c); err != nil {
			return Result{ExitCode: -1}, err
		}
	}
	if !c.Compute {
		return Result{}, nil
	}
	return d.Run(ctx, c)
}

// AddControlFile limits the number of time steps of the run of c. For a
// coupled case the file goes to the first domain. An existing control
// file is kept.
func (d *Driver) AddControlFile(c *study.Case, iterations int) error {
	dir := c.RunDir()
	if c.Coupled() {
		dir = filepath.Join(dir, c.Subdomains[0])
	}
	p := filepath.Join(dir, ControlFile)
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	content := fmt.Sprintf("time_step_limit %d\n", iterations)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	return nil
}
