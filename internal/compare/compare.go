package compare

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/vk/casegrid/internal/config"
	"github.com/vk/casegrid/internal/ctxlog"
	"github.com/vk/casegrid/internal/execution"
	"github.com/vk/casegrid/internal/fsutil"
	"github.com/vk/casegrid/internal/report"
	"github.com/vk/casegrid/internal/study"
	"go.uber.org/multierr"
)

// RunOK checks that a run directory holds a finished run: a summary file
// and no error file.
func RunOK(runDir string) error {
	if !fsutil.IsDir(runDir) {
		return fmt.Errorf("the result directory %s does not exist", runDir)
	}
	var err error
	if fsutil.IsFile(filepath.Join(runDir, "error")) {
		err = multierr.Append(err, fmt.Errorf("the result directory %s contains an error file", filepath.Base(runDir)))
	}
	if !fsutil.IsFile(filepath.Join(runDir, "summary")) {
		err = multierr.Append(err, fmt.Errorf("the result directory %s does not contain any summary file", filepath.Base(runDir)))
	}
	return err
}

// ResultDir picks the run to compare inside a results directory. An
// explicit run name must exist. Without one, the case's run id is used,
// except for the default run id, which only resolves when the results
// directory holds exactly one run.
func ResultDir(resuDir, run, runID string) (string, error) {
	if !fsutil.IsDir(resuDir) {
		return "", fmt.Errorf("the directory %s does not exist", resuDir)
	}
	if run == "" {
		runs, err := listRuns(resuDir)
		if err != nil {
			return "", err
		}
		switch {
		case len(runs) == 0:
			return "", fmt.Errorf("there is no result directory in %s", resuDir)
		case len(runs) > 1 && runID == study.DefaultRunID:
			return "", fmt.Errorf("there are several result directories in %s and no run id specified", resuDir)
		}
		run = runID
		if runID == study.DefaultRunID {
			run = runs[0]
		}
	}
	if err := RunOK(filepath.Join(resuDir, run)); err != nil {
		return "", err
	}
	return run, nil
}

func listRuns(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var runs []string
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), ".") {
			runs = append(runs, e.Name())
		}
	}
	sort.Strings(runs)
	return runs, nil
}

// Comparer runs the diff tool on cases.
type Comparer struct {
	runner   execution.Runner
	diffExec string
	report   *report.Reporter
	// reference replaces the repository as the source of reference
	// results when set.
	reference string
}

// NewComparer returns a Comparer running diffExec.
func NewComparer(runner execution.Runner, diffExec, reference string, rep *report.Reporter) *Comparer {
	return &Comparer{runner: runner, diffExec: diffExec, report: rep, reference: reference}
}

func specs(c *study.Case) []*config.Compare {
	if len(c.Compares) == 0 {
		return []*config.Compare{{}}
	}
	return c.Compares
}

func (cm *Comparer) repoResu(c *study.Case) string {
	if cm.reference != "" {
		return filepath.Join(cm.reference, c.Study, c.Label, c.Resu)
	}
	return filepath.Join(c.RepoCaseDir(), c.Resu)
}

func destResu(c *study.Case) string {
	return filepath.Join(c.CaseDir(), c.Resu)
}

// Check verifies the directories every comparison of c needs and disables
// comparison of c when one is missing or unfinished.
func (cm *Comparer) Check(c *study.Case) {
	if !c.Compare {
		return
	}
	for _, spec := range specs(c) {
		_, errRepo := ResultDir(cm.repoResu(c), spec.Repo, c.RunID)
		_, errDest := ResultDir(destResu(c), spec.Dest, c.RunID)
		if err := multierr.Combine(errRepo, errDest); err != nil {
			for _, e := range multierr.Errors(err) {
				cm.report.Printf("    Warning: %s.", e)
			}
			c.Compare = false
			cm.report.Status("check", c.Title(), "COMPARISON DISABLED")
			return
		}
	}
}

// Compare runs every comparison of c and reports each outcome.
func (cm *Comparer) Compare(ctx context.Context, c *study.Case) ([]Result, error) {
	if !c.Compare {
		return nil, nil
	}
	var results []Result
	var errs error
	for _, spec := range specs(c) {
		res, err := cm.compare(ctx, c, spec)
		if err != nil {
			errs = multierr.Append(errs, err)
			cm.report.Status("compare", c.Title(), "FAILED "+err.Error())
			continue
		}
		mode := "default mode"
		if spec.Args != "" {
			mode = "with args: " + spec.Args
		}
		cm.report.Status("compare", fmt.Sprintf("%s (%s)", c.Title(), mode), res.Outcome().String())
		results = append(results, res)
	}
	return results, errs
}

// Command builds the diff tool invocation for one comparison.
func (cm *Comparer) Command(c *study.Case, spec *config.Compare) (execution.Command, string, error) {
	repoResu := cm.repoResu(c)
	repoRun, err := ResultDir(repoResu, spec.Repo, c.RunID)
	if err != nil {
		return execution.Command{}, "", err
	}
	destRun, err := ResultDir(destResu(c), spec.Dest, c.RunID)
	if err != nil {
		return execution.Command{}, "", err
	}

	repo := filepath.Join(repoResu, repoRun, "checkpoint", "main")
	if !fsutil.IsFile(repo) {
		repo += ".csc"
	}
	dest := filepath.Join(destResu(c), destRun, "checkpoint", "main.csc")

	args := []string{repo, dest}
	threshold := "default"
	if spec.Threshold != "" {
		args = append(args, "--threshold", spec.Threshold)
		threshold = spec.Threshold
	}
	if spec.Args != "" {
		extra, err := shellwords.Parse(spec.Args)
		if err != nil {
			return execution.Command{}, "", fmt.Errorf("compare arguments %q: %w", spec.Args, err)
		}
		for i, a := range extra {
			if a == "--threshold" && i+1 < len(extra) {
				threshold = extra[i+1]
			}
		}
		args = append(args, extra...)
	}
	return execution.Command{Path: cm.diffExec, Args: args, Dir: c.CaseDir()}, threshold, nil
}

func (cm *Comparer) compare(ctx context.Context, c *study.Case, spec *config.Compare) (Result, error) {
	cmd, threshold, err := cm.Command(c, spec)
	if err != nil {
		return Result{}, err
	}
	ctxlog.FromContext(ctx).Debug("Comparing.", "case", c.Title(), "command", cmd.String())

	var out bytes.Buffer
	if _, err := cm.runner.Run(ctx, cmd, &out); err != nil {
		return Result{}, err
	}
	return Parse(out.String(), threshold), nil
}
