package testutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/vk/casegrid/internal/casestate"
	"github.com/vk/casegrid/internal/execution"
	"github.com/vk/casegrid/internal/study"
)

// DefaultSummary is the summary written by successful fake runs.
const DefaultSummary = "[run]\nmessage = converged\ncompute_time = 12\ncompute_mem = 2097152\nmpi_ranks = 1\n"

// FakeSolver stands in for every external program of a run: the solver
// front-end, the diff tool and the post-processing scripts. It records
// each command and leaves the artifacts a real single-domain run would.
type FakeSolver struct {
	// FailStage and FailRun list the labels of the cases whose staging or
	// run fails.
	FailStage map[string]bool
	FailRun   map[string]bool
	// Summary replaces DefaultSummary when set.
	Summary string
	// Output is printed by commands other than the solver front-end.
	Output string

	mu    sync.Mutex
	calls []execution.Command
}

// Run implements execution.Runner.
func (s *FakeSolver) Run(_ context.Context, cmd execution.Command, out io.Writer) (int, error) {
	s.mu.Lock()
	s.calls = append(s.calls, cmd)
	s.mu.Unlock()

	if len(cmd.Args) == 0 || cmd.Args[0] != "run" {
		io.WriteString(out, s.Output)
		return 0, nil
	}
	label := filepath.Base(flagValue(cmd.Args, "--case"))
	if slices.Contains(cmd.Args, "--stage") {
		return s.stage(cmd, label, out)
	}
	return s.run(cmd, label, out)
}

func (s *FakeSolver) stage(cmd execution.Command, label string, out io.Writer) (int, error) {
	if s.FailStage[label] {
		fmt.Fprintf(out, "staging of %s failed\n", label)
		return 1, nil
	}
	runDir := filepath.Join(flagValue(cmd.Args, "--dest"), label, study.ResuDir, flagValue(cmd.Args, "--id"))
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return -1, err
	}
	fmt.Fprintf(out, "staged %s\n", label)
	return 0, os.WriteFile(filepath.Join(runDir, casestate.PreparedMarker), nil, 0644)
}

func (s *FakeSolver) run(cmd execution.Command, label string, out io.Writer) (int, error) {
	if s.FailRun[label] {
		fmt.Fprintf(out, "run of %s failed\n", label)
		return 1, os.WriteFile(filepath.Join(cmd.Dir, casestate.ErrorFile), nil, 0644)
	}
	summary := s.Summary
	if summary == "" {
		summary = DefaultSummary
	}
	if err := os.MkdirAll(filepath.Join(cmd.Dir, "checkpoint"), 0755); err != nil {
		return -1, err
	}
	if err := os.WriteFile(filepath.Join(cmd.Dir, "checkpoint", "main.csc"), nil, 0644); err != nil {
		return -1, err
	}
	fmt.Fprintf(out, "ran %s\n", label)
	return 0, os.WriteFile(filepath.Join(cmd.Dir, casestate.SummaryFile), []byte(summary), 0644)
}

// Calls returns every command run so far.
func (s *FakeSolver) Calls() []execution.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// SolverCalls returns the solver front-end commands carrying mode
// ("--stage" or "--no-stage"), as "<case label>" in call order.
func (s *FakeSolver) SolverCalls(mode string) []string {
	var labels []string
	for _, c := range s.Calls() {
		if len(c.Args) > 0 && c.Args[0] == "run" && slices.Contains(c.Args, mode) {
			labels = append(labels, filepath.Base(flagValue(c.Args, "--case")))
		}
	}
	return labels
}

// CallsTo returns the commands whose path ends with name.
func (s *FakeSolver) CallsTo(name string) []execution.Command {
	var calls []execution.Command
	for _, c := range s.Calls() {
		if strings.HasSuffix(c.Path, name) {
			calls = append(calls, c)
		}
	}
	return calls
}

func flagValue(args []string, name string) string {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// Submission is one script handed to a FakeSubmitter.
type Submission struct {
	Script string
	Deps   []string
}

// FakeSubmitter implements batch.Submitter, answering with sequential
// eight-digit job ids.
type FakeSubmitter struct {
	// Fail rejects the submissions with these 1-based numbers.
	Fail map[int]bool

	mu          sync.Mutex
	submissions []Submission
}

// Submit implements batch.Submitter.
func (f *FakeSubmitter) Submit(_ context.Context, script string, deps []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions = append(f.submissions, Submission{Script: script, Deps: slices.Clone(deps)})
	n := len(f.submissions)
	if f.Fail[n] {
		return "", fmt.Errorf("queue rejected %s", filepath.Base(script))
	}
	return fmt.Sprintf("%08d", 10000000+n), nil
}

// Submissions returns every submission so far.
func (f *FakeSubmitter) Submissions() []Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.submissions)
}
