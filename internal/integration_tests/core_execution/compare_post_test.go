package integration_tests

import (
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/casegrid/internal/app"
	"github.com/vk/casegrid/internal/postpro"
	"github.com/vk/casegrid/internal/report"
	"github.com/vk/casegrid/internal/testutil"
)

const comparedStudy = `
study "S" {
  case "A" {
    compare {
      threshold = "1e-8"
    }
    script "plot.sh" {
      args = "-v"
    }
  }

  postpro "summary.sh" {}
}
`

func comparedFiles() map[string]string {
	return testutil.Merge(
		map[string]string{
			testutil.StudyFile:       comparedStudy,
			"repo/S/POST/plot.sh":    "#!/bin/sh\n",
			"repo/S/POST/summary.sh": "#!/bin/sh\n",
		},
		testutil.ReferenceCase("S", "A", map[string]string{
			"RESU/run1/summary":             "",
			"RESU/run1/checkpoint/main.csc": "",
		}),
	)
}

// Test for: a run followed by comparison and post-processing.
func TestCoreExecution_RunCompareAndPostprocess(t *testing.T) {
	// --- Arrange ---
	solver := &testutil.FakeSolver{Output: "Reading checkpoint/main.csc\n"}
	cfg := app.Config{Run: true, Compare: true, Post: true, DiffExec: "cs_io_dump"}

	// --- Act ---
	res := testutil.RunIntegrationTest(t, comparedFiles(), cfg,
		app.WithRunner(solver), app.WithClock(clock.NewMock()))

	// --- Assert ---
	require.NoError(t, res.Err)
	smgrLog := testutil.ReadFile(t, res.Path(report.LogFileName))
	assert.Contains(t, smgrLog, "    - compare S/A/RESU/run1 (default mode) --> NO DIFFERENCES FOUND")
	assert.Contains(t, smgrLog, "    - script plot.sh in S/A/RESU/run1 --> OK (0 s)")
	assert.Contains(t, smgrLog, "    - postpro summary.sh --> OK")

	diffs := solver.CallsTo("cs_io_dump")
	require.Len(t, diffs, 1)
	assert.Equal(t, res.Path("S", "A", "RESU", "run1", "checkpoint", "main.csc"), diffs[0].Args[1])
	assert.Equal(t, []string{"--threshold", "1e-8"}, diffs[0].Args[2:])

	plots := solver.CallsTo("plot.sh")
	require.Len(t, plots, 1)
	assert.Equal(t, []string{"-v", "-d", res.Path("S", "A", "RESU", "run1")}, plots[0].Args)

	summaries := solver.CallsTo("summary.sh")
	require.Len(t, summaries, 1)
	assert.Equal(t, []string{"-c", "A", "-d", res.Path("S", "A", "RESU", "run1"), "-s", "S"}, summaries[0].Args)

	assert.NoFileExists(t, res.Path(postpro.LogFileName), "empty post-processing log is removed")
}

// Test for: comparison is disabled when the case has no results.
func TestCoreExecution_CompareWithoutResults(t *testing.T) {
	solver := &testutil.FakeSolver{}
	cfg := app.Config{Compare: true, DiffExec: "cs_io_dump"}

	res := testutil.RunIntegrationTest(t, comparedFiles(), cfg, app.WithRunner(solver))

	require.NoError(t, res.Err)
	assert.Empty(t, solver.CallsTo("cs_io_dump"))
	assert.Contains(t, testutil.ReadFile(t, res.Path(report.LogFileName)),
		"    - check S/A/RESU/run1 --> COMPARISON DISABLED")
}
