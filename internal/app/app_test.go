package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/casegrid/internal/config"
)

// staticLoader returns a fixed model.
type staticLoader struct {
	model *config.Model
	err   error
}

func (l staticLoader) Load(context.Context, ...string) (*config.Model, error) {
	return l.model, l.err
}

func newRepo(t *testing.T, studies ...string) string {
	t.Helper()
	repo := t.TempDir()
	for _, s := range studies {
		require.NoError(t, os.MkdirAll(filepath.Join(repo, s, "A", "DATA"), 0755))
	}
	return repo
}

func TestNewApp_AppliesOverrides(t *testing.T) {
	repo := newRepo(t, "S")
	dest := t.TempDir()
	model := &config.Model{
		Repository:  "/elsewhere",
		Destination: "/elsewhere",
		Studies: []*config.Study{{
			Label:   "S",
			Enabled: true,
			Tags:    []string{"nightly"},
			Cases:   []*config.Case{{Label: "A", Enabled: true, Tags: []string{"fast"}}},
		}},
	}
	cfg, err := NewConfig(Config{
		StudyFile:   "s.hcl",
		Repository:  repo,
		Destination: dest,
		Run:         true,
		Resource:    "cluster",
		SolverExec:  "/opt/cs",
		Slurm:       SlurmConfig{Enabled: true},
	})
	require.NoError(t, err)

	var out bytes.Buffer
	a, err := NewApp(&out, cfg, staticLoader{model: model})
	require.NoError(t, err)

	assert.Equal(t, repo, a.Model().Repository)
	assert.Equal(t, dest, a.Model().Destination)
	assert.Equal(t, "cluster", a.install.Resource.Name)
	assert.Equal(t, "slurm", a.install.Resource.BatchName)
	assert.Equal(t, "/opt/cs", a.install.SolverExec)

	nodes := a.Graph().Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, []string{"nightly", "fast"}, nodes[0].Tags)
	assert.True(t, nodes[0].Compute)
	assert.Equal(t, []string{"fast"}, model.Studies[0].Cases[0].Tags, "the loaded model is left untouched")
}

func TestNewApp_Errors(t *testing.T) {
	repo := newRepo(t)
	testCases := []struct {
		name    string
		loader  staticLoader
		cfg     Config
		wantErr string
	}{
		{
			name:    "loader error",
			loader:  staticLoader{err: errors.New("boom")},
			wantErr: "failed to load study file: boom",
		},
		{
			name:    "no destination",
			loader:  staticLoader{model: &config.Model{Repository: repo}},
			wantErr: "both a repository and a destination are required",
		},
		{
			name:    "repository is not a directory",
			loader:  staticLoader{model: &config.Model{Repository: filepath.Join(repo, "missing"), Destination: repo}},
			wantErr: "is not a directory",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.cfg.StudyFile = "s.hcl"
			cfg, err := NewConfig(tc.cfg)
			require.NoError(t, err)

			a, err := NewApp(&bytes.Buffer{}, cfg, tc.loader)
			require.Error(t, err)
			assert.Nil(t, a)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestRun_NothingSelected(t *testing.T) {
	repo := newRepo(t, "S")
	dest := filepath.Join(t.TempDir(), "runs")
	cfg, err := NewConfig(Config{StudyFile: "s.hcl", Repository: repo, Destination: dest, Run: true, Quiet: true})
	require.NoError(t, err)
	model := &config.Model{Studies: []*config.Study{{Label: "S", Enabled: true}}}

	var out bytes.Buffer
	a, err := NewApp(&out, cfg, staticLoader{model: model})
	require.NoError(t, err)
	require.NoError(t, a.Run(context.Background()))

	assert.DirExists(t, dest)
	assert.Contains(t, out.String(), "No case selected")
	assert.NotContains(t, out.String(), "Repository:", "quiet runs only write the report file")
}
