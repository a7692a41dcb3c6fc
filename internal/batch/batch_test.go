package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/casegrid/internal/execution"
	"github.com/vk/casegrid/internal/report"
	"github.com/vk/casegrid/internal/study"
)

type submission struct {
	Script string
	Deps   []string
}

// fakeSubmitter hands out sequential 8-digit tokens.
type fakeSubmitter struct {
	submissions []submission
	// fail rejects the submissions with these 1-based numbers.
	fail map[int]bool
}

func (f *fakeSubmitter) Submit(_ context.Context, script string, deps []string) (string, error) {
	f.submissions = append(f.submissions, submission{Script: filepath.Base(script), Deps: deps})
	n := len(f.submissions)
	if f.fail[n] {
		return "", errors.New("queue rejected the job")
	}
	return fmt.Sprintf("%08d", 10000000+n), nil
}

func mkCase(label string, nProcs, expected int, depends string) *study.Case {
	c := &study.Case{
		Study: "S", Label: label, Resu: study.ResuDir, RunID: "run1",
		RepoDir: "/repo/S", DestDir: "/dest/S",
		NProcs: nProcs, ExpectedTime: expected, Compute: true, Compare: true, Plot: true,
	}
	if depends != "" {
		k, err := study.ParseKey(depends)
		if err != nil {
			panic(err)
		}
		c.Depends = &k
	}
	return c
}

func buildGraph(t *testing.T, cases ...*study.Case) *study.Graph {
	t.Helper()
	g := study.NewGraph()
	for _, c := range cases {
		require.NoError(t, g.AddNode(c))
	}
	return g
}

func expected(cases [][]*study.Case) [][]int {
	var out [][]int
	for _, b := range cases {
		var times []int
		for _, c := range b {
			times = append(times, c.ExpectedTime)
		}
		out = append(out, times)
	}
	return out
}

func newTestScheduler(t *testing.T, sub Submitter, opts Options) (*Scheduler, *bytes.Buffer) {
	t.Helper()
	var log bytes.Buffer
	rep := report.NewWriter(nil, &log)
	driver := execution.NewDriver(nil, execution.Options{SolverExec: "cs"}, rep)
	if opts.Destination == "" {
		opts.Destination = t.TempDir()
	}
	return NewScheduler(sub, driver, rep, opts), &log
}

func TestPack(t *testing.T) {
	four := []*study.Case{mkCase("A", 1, 3, ""), mkCase("B", 1, 3, ""), mkCase("C", 1, 3, ""), mkCase("D", 1, 3, "")}

	testCases := []struct {
		name     string
		cases    []*study.Case
		size     int
		wallTime int
		want     [][]int
	}{
		{name: "time budget", cases: four, size: 10, wallTime: 10, want: [][]int{{3, 3, 3}, {3}}},
		{name: "size budget", cases: four, size: 2, wallTime: 100, want: [][]int{{3, 3}, {3, 3}}},
		{name: "one per batch", cases: four, size: 1, wallTime: 100, want: [][]int{{3}, {3}, {3}, {3}}},
		{name: "zero size acts as one", cases: four[:2], size: 0, wallTime: 100, want: [][]int{{3}, {3}}},
		{
			name:     "budget reached exactly",
			cases:    []*study.Case{mkCase("A", 1, 5, ""), mkCase("B", 1, 5, ""), mkCase("C", 1, 1, "")},
			size:     10,
			wallTime: 10,
			want:     [][]int{{5, 5}, {1}},
		},
		{
			name:     "oversized case alone",
			cases:    []*study.Case{mkCase("A", 1, 2, ""), mkCase("B", 1, 30, ""), mkCase("C", 1, 2, "")},
			size:     10,
			wallTime: 10,
			want:     [][]int{{2}, {30}, {2}},
		},
		{name: "empty", cases: nil, size: 5, wallTime: 10, want: nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := expected(Pack(tc.cases, tc.size, tc.wallTime))
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Pack() mismatch (-want +got):\n%s", diff)
			}
			for _, b := range got {
				sum := 0
				for _, m := range b {
					sum += m
				}
				if len(b) > 1 {
					assert.LessOrEqual(t, sum, tc.wallTime)
				}
			}
		})
	}
}

func TestEffectiveBatchSize(t *testing.T) {
	graphWith := func(short int) *study.Graph {
		g := study.NewGraph()
		for i := 0; i < short; i++ {
			require.NoError(t, g.AddNode(mkCase(fmt.Sprintf("C%03d", i), 1, 4, "")))
		}
		require.NoError(t, g.AddNode(mkCase("LONG", 1, 60, "")))
		return g
	}

	assert.Equal(t, AutoBatchSize, EffectiveBatchSize(graphWith(51), 0))
	assert.Equal(t, AutoBatchSize, EffectiveBatchSize(graphWith(51), 1))
	assert.Equal(t, 1, EffectiveBatchSize(graphWith(49), 1))
	assert.Equal(t, 1, EffectiveBatchSize(graphWith(50), 1))
	assert.Equal(t, 7, EffectiveBatchSize(graphWith(51), 7))
}

func TestScriptRender(t *testing.T) {
	t.Run("small job on one node", func(t *testing.T) {
		sc := newScript(3, "vnv", 4, 125, []string{"--partition=short"}, true)
		sc.Body = "cd /run\ncs run\n"
		got, err := sc.render()
		require.NoError(t, err)
		want := "#!/bin/sh\n" +
			"#SBATCH --ntasks=4\n" +
			"#SBATCH --time=2:05:00\n" +
			"#SBATCH --output=vnv_3\n" +
			"#SBATCH --error=vnv_3\n" +
			"#SBATCH --job-name=vnv_3\n" +
			"#SBATCH --nodes=1\n" +
			"#SBATCH --ntasks-per-core=1\n" +
			"#SBATCH --partition=short\n" +
			"\n" +
			"cd /run\ncs run\n"
		assert.Equal(t, want, string(got))
	})

	t.Run("large job is exclusive", func(t *testing.T) {
		got, err := newScript(1, "vnv", 16, 30, nil, true).render()
		require.NoError(t, err)
		assert.Contains(t, string(got), "#SBATCH --exclusive\n")
		assert.NotContains(t, string(got), "--nodes=1")
	})

	t.Run("final batch has no placement", func(t *testing.T) {
		got, err := newScript(9, "vnv", 1, 20, nil, false).render()
		require.NoError(t, err)
		assert.NotContains(t, string(got), "--exclusive")
		assert.NotContains(t, string(got), "--nodes=1")
		assert.Contains(t, string(got), "#SBATCH --time=0:20:00\n")
	})
}

func TestScheduleEndToEnd(t *testing.T) {
	a := mkCase("A", 4, 2, "")
	b := mkCase("B", 4, 2, "S/A/RESU/run1")
	c := mkCase("C", 8, 20, "")
	g := buildGraph(t, a, b, c)
	require.Equal(t, 1, g.MaxLevel())
	require.Equal(t, 8, g.MaxProc())

	sub := &fakeSubmitter{}
	s, _ := newTestScheduler(t, sub, Options{})
	require.NoError(t, s.Schedule(context.Background(), g))

	want := []submission{
		{Script: "slurm_batch_file_1.sh"},
		{Script: "slurm_batch_file_2.sh"},
		{Script: "slurm_batch_file_3.sh", Deps: []string{"10000001"}},
	}
	if diff := cmp.Diff(want, sub.submissions); diff != "" {
		t.Errorf("submissions mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "10000001", a.JobID)
	assert.Equal(t, "10000002", c.JobID)
	assert.Equal(t, "10000003", b.JobID)

	script, err := os.ReadFile(filepath.Join(s.scriptDir(), "slurm_batch_file_3.sh"))
	require.NoError(t, err)
	assert.Contains(t, string(script), "#SBATCH --ntasks=4\n")
	assert.Contains(t, string(script), "cd /dest/S/B/RESU/run1\n")
	assert.Contains(t, string(script), ">> run_case.log 2>&1")
}

func TestScheduleBatchesAndDependencies(t *testing.T) {
	p1 := mkCase("P1", 2, 3, "")
	p2 := mkCase("P2", 2, 3, "")
	p3 := mkCase("P3", 2, 3, "")
	c1 := mkCase("C1", 2, 3, "S/P1/RESU/run1")
	c2 := mkCase("C2", 2, 3, "S/P3/RESU/run1")
	c3 := mkCase("C3", 2, 3, "S/P2/RESU/run1")
	g := buildGraph(t, p1, p2, p3, c1, c2, c3)

	sub := &fakeSubmitter{}
	s, _ := newTestScheduler(t, sub, Options{BatchSize: 10, WallTime: 7})
	require.NoError(t, s.Schedule(context.Background(), g))

	require.Len(t, sub.submissions, 4)
	// P1+P2 then P3 at level 0.
	assert.Equal(t, p1.JobID, p2.JobID)
	assert.NotEqual(t, p1.JobID, p3.JobID)
	// C1+C2 depend on both parent batches, C3 alone on the first.
	assert.Equal(t, []string{"10000001", "10000002"}, sub.submissions[2].Deps)
	assert.Equal(t, []string{"10000001"}, sub.submissions[3].Deps)
	assert.Equal(t, []string{"10000001", "10000002", "10000003", "10000004"}, s.Tokens())
}

func TestScheduleSkipsCasesNotComputed(t *testing.T) {
	a := mkCase("A", 1, 3, "")
	a.Compute = false
	b := mkCase("B", 1, 3, "S/A/RESU/run1")
	g := buildGraph(t, a, b)

	sub := &fakeSubmitter{}
	s, _ := newTestScheduler(t, sub, Options{})
	require.NoError(t, s.Schedule(context.Background(), g))

	require.Len(t, sub.submissions, 1)
	assert.Empty(t, sub.submissions[0].Deps)
	assert.Empty(t, a.JobID)
	assert.Equal(t, "10000001", b.JobID)
}

func TestScheduleSubmissionFailure(t *testing.T) {
	a := mkCase("A", 1, 3, "")
	b := mkCase("B", 1, 3, "S/A/RESU/run1")
	c := mkCase("C", 1, 3, "S/B/RESU/run1")
	x := mkCase("X", 1, 3, "")
	g := buildGraph(t, a, x, b, c)

	sub := &fakeSubmitter{fail: map[int]bool{1: true}}
	s, log := newTestScheduler(t, sub, Options{})
	err := s.Schedule(context.Background(), g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue rejected the job")

	assert.Len(t, sub.submissions, 2, "only A and X are submitted")
	assert.Empty(t, a.JobID)
	assert.Equal(t, "10000002", x.JobID)
	for _, blocked := range []*study.Case{a, b, c} {
		assert.False(t, blocked.Compute, blocked.Title())
	}
	assert.True(t, x.Compute)
	assert.Contains(t, log.String(), "submit S/C/RESU/run1 --> CANCELLED")
}

func TestScheduleCancelsDependentsOfUnsubmittedCases(t *testing.T) {
	// A failed staging and R cannot restart; neither is submitted.
	a := mkCase("A", 1, 3, "")
	a.Compute = false
	r := mkCase("R", 1, 3, "")
	r.Disable()
	r.NoRestart = true
	b := mkCase("B", 1, 3, "S/A/RESU/run1")
	c := mkCase("C", 1, 3, "S/B/RESU/run1")
	d := mkCase("D", 1, 3, "S/R/RESU/run1")
	x := mkCase("X", 1, 3, "")
	g := buildGraph(t, a, r, x, b, c, d)

	sub := &fakeSubmitter{}
	s, log := newTestScheduler(t, sub, Options{Failed: map[study.Key]bool{a.Key(): true}})
	require.NoError(t, s.Schedule(context.Background(), g))

	require.Len(t, sub.submissions, 1, "only X is submitted")
	assert.Empty(t, sub.submissions[0].Deps)
	assert.Equal(t, "10000001", x.JobID)
	for _, blocked := range []*study.Case{b, c, d} {
		assert.False(t, blocked.Compute, blocked.Title())
		assert.Empty(t, blocked.JobID, blocked.Title())
		assert.Contains(t, log.String(), "submit "+blocked.Title()+" --> CANCELLED (dependency was not submitted)")
	}
}

func TestSubmitFinal(t *testing.T) {
	sub := &fakeSubmitter{}
	s, _ := newTestScheduler(t, sub, Options{JobName: "nightly"})
	g := buildGraph(t, mkCase("A", 1, 3, ""), mkCase("B", 2, 3, ""))
	require.NoError(t, s.Schedule(context.Background(), g))

	cmd := execution.Command{Path: "/opt/bin/casegrid", Args: []string{"--state", "--file", "smgr.hcl"}}
	token, err := s.SubmitFinal(context.Background(), 2, cmd)
	require.NoError(t, err)
	assert.Equal(t, "10000003", token)
	assert.Equal(t, []string{"10000001", "10000002"}, sub.submissions[2].Deps)

	script, err := os.ReadFile(filepath.Join(s.scriptDir(), "slurm_batch_file_3.sh"))
	require.NoError(t, err)
	assert.Contains(t, string(script), "#SBATCH --time=0:20:00\n")
	assert.Contains(t, string(script), "#SBATCH --job-name=nightly_3\n")
	assert.True(t, strings.HasSuffix(string(script), "/opt/bin/casegrid --state --file smgr.hcl\n"))
}

// scriptedRunner answers submissions with canned outputs.
type scriptedRunner struct {
	outputs []string
	codes   []int
	errs    []error
	calls   []execution.Command
}

func (r *scriptedRunner) Run(_ context.Context, cmd execution.Command, out io.Writer) (int, error) {
	i := len(r.calls)
	r.calls = append(r.calls, cmd)
	if i < len(r.errs) && r.errs[i] != nil {
		return -1, r.errs[i]
	}
	if i < len(r.outputs) {
		io.WriteString(out, r.outputs[i])
	}
	if i < len(r.codes) {
		return r.codes[i], nil
	}
	return 0, nil
}

func TestSlurmSubmitter(t *testing.T) {
	script := filepath.Join("/dest", ScriptDir, "slurm_batch_file_1.sh")

	t.Run("job id and dependency", func(t *testing.T) {
		runner := &scriptedRunner{outputs: []string{"Submitted batch job 12345678\n"}}
		s := &SlurmSubmitter{Runner: runner}
		token, err := s.Submit(context.Background(), script, []string{"11111111", "22222222"})
		require.NoError(t, err)
		assert.Equal(t, "12345678", token)
		require.Len(t, runner.calls, 1)
		assert.Equal(t, execution.Command{
			Path: "sbatch",
			Args: []string{"--dependency=afterany:11111111:22222222", "slurm_batch_file_1.sh"},
			Dir:  filepath.Join("/dest", ScriptDir),
		}, runner.calls[0])
	})

	t.Run("missing job id", func(t *testing.T) {
		runner := &scriptedRunner{outputs: []string{"queued as 42\n"}}
		_, err := (&SlurmSubmitter{Runner: runner, Retries: 3}).Submit(context.Background(), script, nil)
		assert.ErrorIs(t, err, ErrNoJobID)
		assert.Len(t, runner.calls, 1)
	})

	t.Run("rejected script is not retried", func(t *testing.T) {
		runner := &scriptedRunner{outputs: []string{"sbatch: error: invalid partition"}, codes: []int{1}}
		s := &SlurmSubmitter{Runner: runner, Retries: 3, Backoff: func() backoff.BackOff { return &backoff.ZeroBackOff{} }}
		_, err := s.Submit(context.Background(), script, nil)
		assert.ErrorContains(t, err, "invalid partition")
		assert.Len(t, runner.calls, 1)
	})

	t.Run("transient failure is retried", func(t *testing.T) {
		runner := &scriptedRunner{
			errs:    []error{errors.New("fork failed"), nil},
			outputs: []string{"", "Submitted batch job 87654321"},
		}
		s := &SlurmSubmitter{Runner: runner, Retries: 2, Backoff: func() backoff.BackOff { return &backoff.ZeroBackOff{} }}
		token, err := s.Submit(context.Background(), script, nil)
		require.NoError(t, err)
		assert.Equal(t, "87654321", token)
		assert.Len(t, runner.calls, 2)
	})
}
