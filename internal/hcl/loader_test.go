package hcl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/casegrid/internal/config"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

const studyFile = `
repository  = "${env.CASES}/repo"
destination = lower("/SCRATCH/runs")

study "channel" {
  tags = ["fast"]

  case "laminar" {
    n_procs       = 4
    expected_time = 30

    compare {
      threshold = "1e-8"
    }
    compare {
      args = "--section velocity"
    }
    script "profiles" {
      args = "-v"
    }
  }

  case "laminar" {
    run_id          = "restart"
    depends         = "channel/laminar/RESU/run1"
    parametric_args = format("-t %d", 10)
    kw_args         = "--opt"
    enabled         = false
  }

  postpro "summary" {
    args = join(" ", ["-a", "-b"])
  }
}

study "pipe" {
  enabled = false
}
`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "smgr.hcl", studyFile)

	model, err := NewLoaderWithEnv([]string{"CASES=/data", "EMPTY="}).Load(context.Background(), p)
	require.NoError(t, err)

	four := 4
	want := &config.Model{
		Repository:  "/data/repo",
		Destination: "/scratch/runs",
		Studies: []*config.Study{
			{
				Label:   "channel",
				Enabled: true,
				Tags:    []string{"fast"},
				Cases: []*config.Case{
					{
						Label:        "laminar",
						NProcs:       &four,
						ExpectedTime: "30",
						Enabled:      true,
						Compare: []*config.Compare{
							{Threshold: "1e-8"},
							{Args: "--section velocity"},
						},
						Scripts: []*config.Script{{Label: "profiles", Args: "-v", Enabled: true}},
					},
					{
						Label:          "laminar",
						RunID:          "restart",
						Depends:        "channel/laminar/RESU/run1",
						ParametricArgs: "-t 10",
						KwArgs:         "--opt",
						Enabled:        false,
					},
				},
				PostPro: []*config.Script{{Label: "summary", Args: "-a -b", Enabled: true}},
			},
			{Label: "pipe", Enabled: false},
		},
	}
	if diff := cmp.Diff(want, model); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, model.CaseCount())
}

func TestLoadDirectoryMergesFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.hcl", `repository = "/repo"
study "s1" {
  case "c1" {}
}`)
	writeFile(t, dir, "sub/b.hcl", `destination = "/dest"
study "s2" {
  case "c2" {}
}`)
	writeFile(t, dir, "notes.txt", "ignored")

	model, err := NewLoaderWithEnv(nil).Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "/repo", model.Repository)
	assert.Equal(t, "/dest", model.Destination)
	require.Len(t, model.Studies, 2)
	assert.Equal(t, "s1", model.Studies[0].Label)
	assert.Equal(t, "s2", model.Studies[1].Label)
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()
	l := NewLoaderWithEnv(nil)

	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"syntax", `study "s" {`, "failed to parse"},
		{"unknown attribute", `study "s" { colour = "red" }`, "failed to decode"},
		{"unknown function", `repository = shout("x")`, "failed to decode"},
		{"duplicate study", "study \"s\" {}\nstudy \"s\" {}", "defined more than once"},
		{"duplicate case", `study "s" {
  case "c" {}
  case "c" {}
}`, "defined more than once"},
		{"bad n_procs", `study "s" {
  case "c" { n_procs = 0 }
}`, "n_procs must be at least 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeFile(t, t.TempDir(), "smgr.hcl", tt.content)
			_, err := l.Load(ctx, p)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := l.Load(ctx, filepath.Join(t.TempDir(), "missing.hcl"))
		require.Error(t, err)
	})

	t.Run("empty directory", func(t *testing.T) {
		_, err := l.Load(ctx, t.TempDir())
		require.ErrorContains(t, err, "no study file")
	})
}

func TestWriteThenLoad(t *testing.T) {
	ctx := context.Background()
	two := 2
	model := &config.Model{
		Repository:  "/repo",
		Destination: "/dest",
		Studies: []*config.Study{{
			Label:   "s1",
			Enabled: true,
			Tags:    []string{"nightly"},
			Cases: []*config.Case{
				{Label: "a", Enabled: true, NProcs: &two, ExpectedTime: "01:00",
					Compare: []*config.Compare{{Threshold: "1e-6"}}},
				{Label: "b", RunID: "r2", Depends: "s1/a/RESU/run1", Enabled: false,
					Scripts: []*config.Script{{Label: "plot", Enabled: false}}},
			},
			PostPro: []*config.Script{{Label: "post", Args: "-x", Enabled: true}},
		}},
	}

	p := filepath.Join(t.TempDir(), "smgr.hcl")
	require.NoError(t, NewWriter().Write(ctx, p, model))
	require.Error(t, NewWriter().Write(ctx, p, model), "existing files are not overwritten")

	got, err := NewLoaderWithEnv(nil).Load(ctx, p)
	require.NoError(t, err)
	if diff := cmp.Diff(model, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
