package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/casegrid/internal/batch"
	"github.com/vk/casegrid/internal/casestate"
	"github.com/vk/casegrid/internal/compare"
	"github.com/vk/casegrid/internal/config"
	"github.com/vk/casegrid/internal/ctxlog"
	"github.com/vk/casegrid/internal/execution"
	"github.com/vk/casegrid/internal/fsutil"
	"github.com/vk/casegrid/internal/postpro"
	"github.com/vk/casegrid/internal/report"
	"github.com/vk/casegrid/internal/study"
	"go.uber.org/multierr"
)

// submitRetries is the number of extra sbatch attempts when it cannot be
// launched.
const submitRetries = 3

// Run executes the requested steps on every case of the graph. Case-level
// failures are reported and never returned; only failures to write the
// run's own outputs are.
func (a *App) Run(ctx context.Context) (err error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if a.config.CreateStudyFile {
		return a.createStudyFile(ctx)
	}

	dest := a.model.Destination
	ctx = ctxlog.With(ctx, "destination", dest)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	console := a.outW
	if a.config.Quiet {
		console = nil
	}
	rep, err := report.New(console, filepath.Join(dest, report.LogFileName))
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(rep))
	a.report = rep

	rep.Printf("\n  Repository:  %s\n  Destination: %s", a.model.Repository, dest)
	for _, w := range a.warnings {
		rep.Printf("    Warning: %s.", w)
	}
	if a.config.filtered() {
		rep.Section("Dump dependency graph")
		if err := a.graph.Dump(rep); err != nil {
			return err
		}
	}

	cases := a.graph.Nodes()
	if len(cases) == 0 {
		a.logger.Warn("No case selected, nothing to do.")
		return nil
	}

	if err := a.createStudies(ctx, cases); err != nil {
		return err
	}
	if a.config.Run {
		a.runCases(ctx, cases)
		if a.config.Slurm.Enabled {
			// The trailing batch runs the remaining steps.
			return nil
		}
	}
	if a.config.Compare {
		a.compareCases(ctx, cases)
	}
	if a.config.Post {
		a.postprocess(ctx, cases)
	}
	if a.config.State {
		if err := a.reportState(ctx, cases); err != nil {
			return err
		}
	}

	a.logger.Debug("App.Run method finished.")
	return nil
}

func (a *App) createStudyFile(ctx context.Context) error {
	if a.writer == nil {
		return fmt.Errorf("no study file writer configured")
	}
	model, err := study.Scan(a.config.Repository)
	if err != nil {
		return err
	}
	model.Destination = a.config.Destination
	if err := a.writer.Write(ctx, a.config.StudyFile, model); err != nil {
		return err
	}
	fmt.Fprintf(a.outW, "Study file %s created with %d studies and %d cases.\n",
		a.config.StudyFile, len(model.Studies), model.CaseCount())
	return nil
}

// createStudies creates the destination studies and, when running, cleans
// and stages the run directories.
func (a *App) createStudies(ctx context.Context, cases []*study.Case) error {
	rep := a.report
	rep.Section("Create all studies and run folders")
	if a.config.Run {
		if a.config.RemoveResults {
			rep.Printf("    All earlier run folders are erased (option --rm activated)")
		} else {
			rep.Printf("    All earlier run folders are kept. Use --rm to erase them.")
		}
	}

	studies := make(map[string]bool)
	cleaned := make(map[string]bool)
	var driver *execution.Driver
	if a.config.Run {
		driver = a.driver()
	}

	for _, c := range cases {
		if !studies[c.Study] {
			studies[c.Study] = true
			if err := a.createStudy(c.Study); err != nil {
				return err
			}
		}
		if !a.config.Run || !c.Compute {
			continue
		}

		resu := filepath.Join(c.CaseDir(), c.Resu)
		if a.config.RemoveResults && !cleaned[resu] {
			cleaned[resu] = true
			if entries, _ := os.ReadDir(resu); len(entries) > 0 {
				if err := os.RemoveAll(resu); err != nil {
					return fmt.Errorf("failed to remove %s: %w", resu, err)
				}
				if err := os.MkdirAll(resu, 0755); err != nil {
					return err
				}
				rep.Printf("    All earlier results in case %s/%s are removed", c.Label, c.Resu)
			}
		}

		if err := driver.Stage(ctx, c); err != nil {
			c.Compute = false
			rep.Status("prepare", c.Title(), "FAILED "+err.Error())
		}
		if !c.Compute {
			a.failed[c.Key()] = true
		}
	}
	return nil
}

// createStudy creates a destination study and refreshes its POST, REPORT
// and README content from the repository. STYLE is shared by all studies.
func (a *App) createStudy(label string) error {
	repo := filepath.Join(a.model.Repository, label)
	dest := filepath.Join(a.model.Destination, label)

	if !fsutil.IsDir(dest) {
		if err := os.MkdirAll(dest, 0755); err != nil {
			return fmt.Errorf("failed to create study %s: %w", label, err)
		}
		a.report.Printf("    - Create study %s", label)
	}

	refresh := func(src, dst string) {
		if !fsutil.IsDir(src) {
			return
		}
		if err := os.RemoveAll(dst); err == nil {
			err = fsutil.CopyTree(src, dst)
			if err == nil {
				return
			}
		}
		a.report.Printf("    Warning: failed to copy %s.", src)
	}
	refresh(filepath.Join(repo, postpro.PostDir), filepath.Join(dest, postpro.PostDir))
	refresh(filepath.Join(repo, "REPORT"), filepath.Join(dest, "REPORT"))
	refresh(filepath.Join(a.model.Repository, "STYLE"), filepath.Join(a.model.Destination, "STYLE"))

	return copyReadme(repo, dest)
}

// copyReadme copies README, or every README* file when there is no plain
// README.
func copyReadme(repo, dest string) error {
	if p := filepath.Join(repo, "README"); fsutil.IsFile(p) {
		return fsutil.CopyFile(p, filepath.Join(dest, "README"))
	}
	matches, err := filepath.Glob(filepath.Join(repo, "README*"))
	if err != nil {
		return err
	}
	var errs error
	for _, m := range matches {
		if fsutil.IsFile(m) {
			errs = multierr.Append(errs, fsutil.CopyFile(m, filepath.Join(dest, filepath.Base(m))))
		}
	}
	return errs
}

func (a *App) driver() *execution.Driver {
	return execution.NewDriver(a.runner, execution.Options{
		SolverExec: a.install.SolverExec,
		MemLog:     a.config.MemLog,
		Resource:   a.config.Resource,
	}, a.report).WithClock(a.clock)
}

// runCases runs the staged cases directly or submits them as batches. A
// case whose dependency failed in this process is cancelled.
func (a *App) runCases(ctx context.Context, cases []*study.Case) {
	logger := ctxlog.FromContext(ctx)
	driver := a.driver()

	if n := a.config.NIterations; n > 0 {
		for _, c := range cases {
			if !c.Compute {
				continue
			}
			if err := driver.AddControlFile(c, n); err != nil {
				logger.Warn("Failed to write control file.", "case", c.Title(), "error", err)
			}
		}
	}

	if a.config.Slurm.Enabled {
		a.submitBatches(ctx, driver)
		return
	}

	a.report.Section("Run all cases")
	for _, c := range cases {
		if !c.Compute {
			continue
		}
		if p := a.graph.Dependency(c); p != nil && a.failed[p.Key()] {
			a.failed[c.Key()] = true
			c.Disable()
			a.report.Status("run", c.Title(), "CANCELLED (dependency failed)")
			continue
		}
		res, err := driver.Execute(ctx, c)
		if err != nil {
			logger.Error("Case could not be run.", "case", c.Title(), "error", err)
		}
		if err != nil || res.ExitCode != 0 {
			a.failed[c.Key()] = true
		}
	}
}

func (a *App) submitBatches(ctx context.Context, driver *execution.Driver) {
	logger := ctxlog.FromContext(ctx)
	a.report.Section("Submit batches")

	sub := a.submitter
	if sub == nil {
		sub = &batch.SlurmSubmitter{Runner: a.runner, Exec: a.config.Slurm.SubmitExe, Retries: submitRetries}
	}
	sched := batch.NewScheduler(sub, driver, a.report, batch.Options{
		Destination: a.model.Destination,
		BatchSize:   a.config.Slurm.BatchSize,
		WallTime:    a.config.wallTimeMinutes(),
		JobName:     a.config.Slurm.JobName,
		ExtraArgs:   a.config.Slurm.Args,
		Failed:      a.failed,
	})
	if size := batch.EffectiveBatchSize(a.graph, a.config.Slurm.BatchSize); size != max(a.config.Slurm.BatchSize, 1) {
		a.report.Printf("    Warning: more than %d short cases detected, batch size set to %d.", batch.AutoBatchSize, size)
	}

	if err := sched.Schedule(ctx, a.graph); err != nil {
		logger.Error("Some batches could not be submitted.", "error", err)
	}
	if _, err := sched.SubmitFinal(ctx, len(a.graph.Studies()), a.finalCommand()); err != nil {
		logger.Error("Final batch could not be submitted.", "error", err)
	}
}

func (a *App) compareCases(ctx context.Context, cases []*study.Case) {
	logger := ctxlog.FromContext(ctx)
	cm := compare.NewComparer(a.runner, a.install.DiffExec, a.config.Reference, a.report)

	a.report.Section("Check dirs of results for comparison")
	for _, c := range cases {
		cm.Check(c)
	}
	a.report.Section("Compare results")
	for _, c := range cases {
		if _, err := cm.Compare(ctx, c); err != nil {
			logger.Warn("Comparison failed.", "case", c.Title(), "error", err)
		}
	}
}

func (a *App) postprocess(ctx context.Context, cases []*study.Case) {
	logger := ctxlog.FromContext(ctx)
	pr := postpro.NewRunner(a.runner, a.model.Destination, a.report).WithClock(a.clock)
	defer func() {
		if err := pr.Close(); err != nil {
			logger.Warn("Failed to close post-processing log.", "error", err)
		}
	}()

	a.report.Section("Check scripts of cases")
	pr.Check(cases)
	a.report.Section("Run scripts of cases")
	if err := pr.Scripts(ctx, cases); err != nil {
		logger.Warn("Some scripts could not be run.", "error", err)
	}

	var studies []*config.Study
	for _, s := range a.model.Studies {
		if s.Enabled && len(s.PostPro) > 0 {
			studies = append(studies, s)
		}
	}
	if len(studies) == 0 {
		return
	}
	a.report.Section("Post-process results of studies")
	if err := pr.PostPro(ctx, studies, cases); err != nil {
		logger.Warn("Some post-processing scripts could not be run.", "error", err)
	}
}

func (a *App) reportState(ctx context.Context, cases []*study.Case) error {
	a.report.Section("Check state for all cases")
	inspector := &casestate.Inspector{Clock: a.clock}

	rows := make([]report.StateRow, 0, len(cases))
	pending := 0
	for _, c := range cases {
		state, info := inspector.Inspect(c.RunDir(), c.Coupled(), casestate.DefaultTimeout)
		a.report.Status("state", c.Title(), state.String())
		rows = append(rows, report.StateRow{Study: c.Study, Case: c.Label, RunID: c.RunID, State: state, Info: info})
		if !state.Done() {
			pending++
		}
	}
	if pending > 0 {
		a.report.Printf("    %d of %d cases not finished", pending, len(rows))
	}

	path := a.config.StateFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.model.Destination, path)
	}
	if err := report.WriteState(path, a.model.Destination, rows); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("State report written.", "path", path, "cases", len(rows))
	a.report.Printf("    State report: %s", path)
	return nil
}
