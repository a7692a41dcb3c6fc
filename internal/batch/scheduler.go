package batch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vk/casegrid/internal/ctxlog"
	"github.com/vk/casegrid/internal/execution"
	"github.com/vk/casegrid/internal/report"
	"github.com/vk/casegrid/internal/study"
	"go.uber.org/multierr"
)

// finalMinutesPerStudy is the wall-time allowance of the trailing batch
// for each study.
const finalMinutesPerStudy = 10

// Options configures a Scheduler.
type Options struct {
	// Destination is the root of the run directories; scripts go to its
	// slurm_files subdirectory.
	Destination string
	// BatchSize is the maximum number of cases per batch, 0 or 1 for the
	// default.
	BatchSize int
	// WallTime is the budget of a batch in minutes, DefaultWallTime when 0.
	WallTime int
	// JobName prefixes every job name.
	JobName string
	// ExtraArgs are appended as #SBATCH lines.
	ExtraArgs []string
	// Failed holds cases that failed before submission, such as cases
	// whose staging failed. Their dependents are cancelled.
	Failed map[study.Key]bool
}

// Scheduler packs the cases of a graph into batches and submits them.
type Scheduler struct {
	submitter Submitter
	driver    *execution.Driver
	report    *report.Reporter
	opts      Options

	scripts int
	tokens  []string
}

// NewScheduler returns a Scheduler rendering case commands with driver.
func NewScheduler(submitter Submitter, driver *execution.Driver, rep *report.Reporter, opts Options) *Scheduler {
	if opts.WallTime <= 0 {
		opts.WallTime = DefaultWallTime
	}
	if opts.JobName == "" {
		opts.JobName = "casegrid"
	}
	return &Scheduler{submitter: submitter, driver: driver, report: rep, opts: opts}
}

// Tokens returns the job tokens of every batch submitted so far.
func (s *Scheduler) Tokens() []string {
	return append([]string(nil), s.tokens...)
}

func (s *Scheduler) scriptDir() string {
	return filepath.Join(s.opts.Destination, ScriptDir)
}

// Schedule submits every case of g still to be computed, level by level
// and process count by process count. Each case gets the token of its
// batch as JobID. When a submission fails, its cases and every case
// depending on them are no longer computed; the returned error collects
// the submission failures. Cases whose dependency failed before
// submission, or cannot be restarted from, are cancelled too.
func (s *Scheduler) Schedule(ctx context.Context, g *study.Graph) error {
	logger := ctxlog.FromContext(ctx)
	size := EffectiveBatchSize(g, s.opts.BatchSize)
	logger.Debug("Scheduling batches.", "batch_size", size, "wall_time", s.opts.WallTime,
		"max_level", g.MaxLevel(), "max_proc", g.MaxProc())

	failed := make(map[study.Key]bool, len(s.opts.Failed))
	for k, v := range s.opts.Failed {
		failed[k] = v
	}
	var errs error

	for level := 0; level <= g.MaxLevel(); level++ {
		for nProcs := 1; nProcs <= g.MaxProc(); nProcs++ {
			cell := g.ExtractSubGraph(level, nProcs)
			var ready []*study.Case
			for _, c := range cell.Nodes() {
				if !c.Compute {
					continue
				}
				if p := g.Dependency(c); p != nil && (failed[p.Key()] || p.NoRestart) {
					failed[c.Key()] = true
					c.Disable()
					s.report.Status("submit", c.Title(), "CANCELLED (dependency was not submitted)")
					continue
				}
				ready = append(ready, c)
			}

			for _, b := range Pack(ready, size, s.opts.WallTime) {
				token, err := s.submitCases(ctx, g, b, nProcs)
				if err != nil {
					errs = multierr.Append(errs, err)
					for _, c := range b {
						failed[c.Key()] = true
						c.Disable()
						s.report.Status("submit", c.Title(), "FAILED "+err.Error())
					}
					continue
				}
				for _, c := range b {
					c.JobID = token
					s.report.Status("submit", c.Title(), "OK job "+token)
				}
			}
		}
	}
	return errs
}

func (s *Scheduler) submitCases(ctx context.Context, g *study.Graph, cases []*study.Case, nProcs int) (string, error) {
	minutes := 0
	var body strings.Builder
	for _, c := range cases {
		minutes += c.ExpectedTime
		body.WriteString(s.driver.BatchCommands(c))
		body.WriteString("\n")
	}
	s.scripts++
	sc := newScript(s.scripts, s.opts.JobName, nProcs, minutes, s.opts.ExtraArgs, true)
	sc.Body = body.String()
	return s.submit(ctx, sc, parentTokens(g, cases))
}

// SubmitFinal submits the trailing batch running command from the
// destination once every batch submitted so far has ended. Its budget is
// 10 minutes per study.
func (s *Scheduler) SubmitFinal(ctx context.Context, studies int, command execution.Command) (string, error) {
	s.scripts++
	sc := newScript(s.scripts, s.opts.JobName, 1, finalMinutesPerStudy*max(studies, 1), s.opts.ExtraArgs, false)
	sc.Body = fmt.Sprintf("cd %s\n%s\n", execution.ShellQuote(s.opts.Destination), command)

	token, err := s.submit(ctx, sc, s.Tokens())
	if err != nil {
		s.report.Status("submit", "final batch", "FAILED "+err.Error())
		return "", err
	}
	s.report.Status("submit", "final batch", "OK job "+token)
	return token, nil
}

func (s *Scheduler) submit(ctx context.Context, sc *script, deps []string) (string, error) {
	path, err := sc.write(s.scriptDir())
	if err != nil {
		return "", err
	}
	ctxlog.FromContext(ctx).Debug("Submitting batch.", "script", path, "dependencies", deps)
	token, err := s.submitter.Submit(ctx, path, deps)
	if err != nil {
		return "", fmt.Errorf("batch %d: %w", sc.ID, err)
	}
	s.tokens = append(s.tokens, token)
	return token, nil
}
