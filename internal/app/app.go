package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/benbjohnson/clock"
	"github.com/vk/casegrid/internal/batch"
	"github.com/vk/casegrid/internal/casestate"
	"github.com/vk/casegrid/internal/config"
	"github.com/vk/casegrid/internal/ctxlog"
	"github.com/vk/casegrid/internal/execution"
	"github.com/vk/casegrid/internal/fsutil"
	"github.com/vk/casegrid/internal/report"
	"github.com/vk/casegrid/internal/runconf"
	"github.com/vk/casegrid/internal/study"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config
	loader config.Loader
	writer config.Writer

	runner    execution.Runner
	submitter batch.Submitter
	clock     clock.Clock

	model    *config.Model
	install  *runconf.Install
	graph    *study.Graph
	warnings []error

	report *report.Reporter
	// failed holds the cases whose staging or run failed in this process.
	failed map[study.Key]bool
}

// Option customizes an App.
type Option func(*App)

// WithRunner replaces the runner of every external command.
func WithRunner(r execution.Runner) Option {
	return func(a *App) { a.runner = r }
}

// WithSubmitter replaces the batch submitter.
func WithSubmitter(s batch.Submitter) Option {
	return func(a *App) { a.submitter = s }
}

// WithClock replaces the clock used for timings and state inspection.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithWriter sets the study file writer used by --create-study-file.
func WithWriter(w config.Writer) Option {
	return func(a *App) { a.writer = w }
}

// NewApp is the constructor for the main application. It loads the study
// file and the install configuration and resolves every selected case into
// the dependency graph. Any error here is a configuration error.
func NewApp(outW io.Writer, cfg *Config, loader config.Loader, opts ...Option) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	a := &App{
		outW:   outW,
		logger: logger,
		config: cfg,
		loader: loader,
		runner: execution.ExecRunner{},
		clock:  clock.New(),
		failed: make(map[study.Key]bool),
	}
	for _, opt := range opts {
		opt(a)
	}

	if cfg.CreateStudyFile {
		return a, nil
	}
	if err := a.load(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// Graph returns the dependency graph of the selected cases.
func (a *App) Graph() *study.Graph {
	return a.graph
}

// Model returns the loaded study file.
func (a *App) Model() *config.Model {
	return a.model
}

func (a *App) load(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	model, err := a.loader.Load(ctx, a.config.StudyFile)
	if err != nil {
		return fmt.Errorf("failed to load study file: %w", err)
	}
	if a.config.Repository != "" {
		model.Repository = a.config.Repository
	}
	if a.config.Destination != "" {
		model.Destination = a.config.Destination
	}
	if model.Repository == "" || model.Destination == "" {
		return fmt.Errorf("both a repository and a destination are required")
	}
	if model.Repository, err = filepath.Abs(model.Repository); err != nil {
		return err
	}
	if model.Destination, err = filepath.Abs(model.Destination); err != nil {
		return err
	}
	if !fsutil.IsDir(model.Repository) {
		return fmt.Errorf("repository %s is not a directory", model.Repository)
	}
	a.model = model
	logger.Debug("Study file loaded.", "repository", model.Repository, "destination", model.Destination,
		"studies", len(model.Studies), "cases", model.CaseCount())

	install, err := runconf.LoadInstall(a.config.InstallConfig)
	if err != nil {
		return err
	}
	if a.config.Resource != "" {
		install.Resource.Name = a.config.Resource
	}
	if a.config.Slurm.Enabled && install.Resource.BatchName == "" {
		install.Resource.BatchName = "slurm"
	}
	if a.config.SolverExec != "" {
		install.SolverExec = a.config.SolverExec
	}
	if a.config.DiffExec != "" {
		install.DiffExec = a.config.DiffExec
	}
	a.install = install

	cases, err := a.resolveCases(ctx)
	if err != nil {
		return err
	}

	g := study.NewGraph()
	for _, c := range study.SortByDependency(cases) {
		if w := g.AddNode(c); w != nil {
			logger.Warn("Dangling dependency.", "case", c.Title(), "error", w)
			a.warnings = append(a.warnings, w)
		}
	}
	if a.config.filtered() {
		g = g.ExtractSubGraph(filter(a.config.FilterLevel), filter(a.config.FilterNProcs))
	}
	for _, c := range g.Nodes() {
		if !c.NoRestart {
			continue
		}
		// Dependents of the case are cancelled like those of a failed case.
		a.failed[c.Key()] = true
		a.warnings = append(a.warnings, fmt.Errorf("%s was cancelled. The restart folder seems problematic. See %s", c.Title(), c.Depends))
	}
	a.graph = g
	logger.Debug("Dependency graph built.", "cases", g.Len(), "max_level", g.MaxLevel(), "max_proc", g.MaxProc())
	return nil
}

// resolveCases turns the enabled cases of enabled studies into case
// records and keeps those matching the tag filters. Study tags apply to
// every case of the study.
func (a *App) resolveCases(ctx context.Context) ([]*study.Case, error) {
	env := study.Env{
		Repository:  a.model.Repository,
		Destination: a.model.Destination,
		Resource:    a.install.Resource,
		Inspector:   &casestate.Inspector{Clock: a.clock},
		Timeout:     casestate.DefaultTimeout,
	}
	steps := a.config.steps()

	var cases []*study.Case
	for _, s := range a.model.Studies {
		if !s.Enabled {
			continue
		}
		if !fsutil.IsDir(filepath.Join(a.model.Repository, s.Label)) {
			return nil, fmt.Errorf("study %s not found in repository %s", s.Label, a.model.Repository)
		}
		for _, desc := range s.Cases {
			if !desc.Enabled {
				continue
			}
			d := *desc
			d.Tags = append(append([]string(nil), s.Tags...), desc.Tags...)
			c, err := study.NewCase(s.Label, &d, steps, env)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve case %s/%s: %w", s.Label, desc.Label, err)
			}
			if !c.MatchTags(a.config.WithTags, a.config.WithoutTags) {
				ctxlog.FromContext(ctx).Debug("Case filtered out by tags.", "case", c.Title())
				continue
			}
			cases = append(cases, c)
		}
	}
	return cases, nil
}

// finalCommand re-invokes this program on the destination to report state
// once every batch has ended.
func (a *App) finalCommand() execution.Command {
	exe := a.install.PostprocessingExec
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			exe = "casegrid"
		}
	}
	args := []string{
		"--state",
		"--repo", a.model.Repository,
		"--dest", a.model.Destination,
		"--state-file", a.config.StateFile,
	}
	if a.config.Compare {
		args = append(args, "--compare")
	}
	if a.config.Post {
		args = append(args, "--post")
	}
	for _, t := range a.config.WithTags {
		args = append(args, "--with-tags", t)
	}
	for _, t := range a.config.WithoutTags {
		args = append(args, "--without-tags", t)
	}
	if a.config.FilterLevel != nil {
		args = append(args, "--filter-level", strconv.Itoa(*a.config.FilterLevel))
	}
	if a.config.FilterNProcs != nil {
		args = append(args, "--filter-n-procs", strconv.Itoa(*a.config.FilterNProcs))
	}
	if a.config.Resource != "" {
		args = append(args, "--resource", a.config.Resource)
	}
	if a.config.InstallConfig != "" {
		args = append(args, "--install-config", absPath(a.config.InstallConfig))
	}
	if a.config.DiffExec != "" {
		args = append(args, "--diff", a.config.DiffExec)
	}
	if a.config.Reference != "" {
		args = append(args, "--reference", absPath(a.config.Reference))
	}
	args = append(args, absPath(a.config.StudyFile))
	return execution.Command{Path: exe, Args: args}
}

// absPath makes p absolute, the final batch running from the destination.
func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
