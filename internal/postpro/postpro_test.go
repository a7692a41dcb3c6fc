package postpro

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/casegrid/internal/config"
	"github.com/vk/casegrid/internal/execution"
	"github.com/vk/casegrid/internal/report"
	"github.com/vk/casegrid/internal/study"
)

type recordingRunner struct {
	calls  []execution.Command
	output string
	code   int
	clock  *clock.Mock
}

func (r *recordingRunner) Run(_ context.Context, cmd execution.Command, out io.Writer) (int, error) {
	r.calls = append(r.calls, cmd)
	io.WriteString(out, r.output)
	if r.clock != nil {
		r.clock.Add(3 * time.Second)
	}
	return r.code, nil
}

func setup(t *testing.T, scripts ...string) (string, []*study.Case) {
	t.Helper()
	dest := t.TempDir()
	post := filepath.Join(dest, "S", PostDir)
	require.NoError(t, os.MkdirAll(post, 0755))
	for _, s := range scripts {
		require.NoError(t, os.WriteFile(filepath.Join(post, s), []byte("#!/bin/sh\n"), 0644))
	}
	mk := func(label string) *study.Case {
		return &study.Case{
			Study: "S", Label: label, Resu: study.ResuDir, RunID: study.DefaultRunID,
			DestDir: filepath.Join(dest, "S"), Plot: true,
		}
	}
	return dest, []*study.Case{mk("A"), mk("B")}
}

func TestCheck(t *testing.T) {
	dest, cases := setup(t, "plot.py")
	cases[0].Scripts = []*config.Script{{Label: "plot.py", Enabled: true}}
	cases[1].Scripts = []*config.Script{{Label: "missing.py", Enabled: true}, {Label: "off.py"}}

	var log bytes.Buffer
	NewRunner(&recordingRunner{}, dest, report.NewWriter(nil, &log)).Check(cases)

	assert.True(t, cases[0].Plot)
	assert.False(t, cases[1].Plot)
	assert.Contains(t, log.String(), "    - check S/B/RESU/run1 --> POST DISABLED")
}

func TestScripts(t *testing.T) {
	dest, cases := setup(t, "plot.py")
	cases[0].Scripts = []*config.Script{{Label: "plot.py", Args: `-t "a b"`, Dest: "postprocessing", Enabled: true}}
	cases[1].Scripts = []*config.Script{{Label: "plot.py", Enabled: true}}
	cases[1].Plot = false

	mock := clock.NewMock()
	runner := &recordingRunner{clock: mock}
	var log bytes.Buffer
	r := NewRunner(runner, dest, report.NewWriter(nil, &log)).WithClock(mock)

	require.NoError(t, r.Scripts(context.Background(), cases))
	require.NoError(t, r.Close())

	require.Len(t, runner.calls, 1)
	script := filepath.Join(dest, "S", PostDir, "plot.py")
	assert.Equal(t, script, runner.calls[0].Path)
	assert.Equal(t, []string{"-t", "a b", "-d", filepath.Join(cases[0].RunDir(), "postprocessing")}, runner.calls[0].Args)
	assert.Contains(t, log.String(), "    - script plot.py in S/A/RESU/run1 --> OK (3 s)")

	fi, err := os.Stat(script)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0111), fi.Mode()&0111)

	_, err = os.Stat(filepath.Join(dest, LogFileName))
	assert.True(t, os.IsNotExist(err), "empty script log is removed")
}

func TestPostPro(t *testing.T) {
	dest, cases := setup(t, "summary.sh")
	studies := []*config.Study{
		{Label: "S", PostPro: []*config.Script{{Label: "summary.sh", Args: "-v", Enabled: true}}},
		{Label: "Other", PostPro: []*config.Script{{Label: "summary.sh", Enabled: true}}},
	}

	runner := &recordingRunner{output: "done\n", code: 1}
	var log bytes.Buffer
	r := NewRunner(runner, dest, report.NewWriter(nil, &log))

	require.NoError(t, r.PostPro(context.Background(), studies, cases))
	require.NoError(t, r.Close())

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{
		"-v", "-c", "A B", "-d", cases[0].RunDir() + " " + cases[1].RunDir(), "-s", "S",
	}, runner.calls[0].Args)
	assert.Contains(t, log.String(), "    - postpro summary.sh --> FAILED")

	b, err := os.ReadFile(filepath.Join(dest, LogFileName))
	require.NoError(t, err)
	assert.Equal(t, "done\n", string(b))
	assert.Contains(t, log.String(), "logs generated during post-processing")
}
