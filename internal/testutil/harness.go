package testutil

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/casegrid/internal/app"
	"github.com/vk/casegrid/internal/hcl"
)

// Layout of the temporary tree built by the harness.
const (
	StudyFile  = "study.hcl"
	RepoDir    = "repo"
	DestDir    = "dest"
	logsEnvVar = "CASEGRID_TEST_LOGS"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// HarnessResult holds the outcomes of an integration test run.
type HarnessResult struct {
	LogOutput string
	// Err is the first error of configuration, construction or run.
	Err error
	App *app.App

	Root        string
	Repository  string
	Destination string
}

// Path joins elem to the destination directory.
func (r *HarnessResult) Path(elem ...string) string {
	return filepath.Join(append([]string{r.Destination}, elem...)...)
}

// RunIntegrationTest provides a standardized harness for running integration tests
// using a default background context.
func RunIntegrationTest(t *testing.T, files map[string]string, cfg app.Config, opts ...app.Option) *HarnessResult {
	t.Helper()
	return RunIntegrationTestWithContext(context.Background(), t, files, cfg, opts...)
}

// RunIntegrationTestWithContext writes files under a temporary root, with
// the repository under "repo" and the study file at "study.hcl", and runs
// the application on it. Repository, destination and study file default to
// that layout when cfg leaves them empty.
func RunIntegrationTestWithContext(ctx context.Context, t *testing.T, files map[string]string, cfg app.Config, opts ...app.Option) *HarnessResult {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, RepoDir), 0755))
	WriteTree(t, root, files)

	if cfg.StudyFile == "" {
		cfg.StudyFile = StudyFile
	}
	if !filepath.IsAbs(cfg.StudyFile) {
		cfg.StudyFile = filepath.Join(root, cfg.StudyFile)
	}
	if cfg.Repository == "" {
		cfg.Repository = filepath.Join(root, RepoDir)
	}
	if cfg.Destination == "" {
		cfg.Destination = filepath.Join(root, DestDir)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "debug"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}

	res := &HarnessResult{Root: root, Repository: cfg.Repository, Destination: cfg.Destination}
	logBuffer := &SafeBuffer{}
	defer func() {
		res.LogOutput = logBuffer.String()
		if os.Getenv(logsEnvVar) == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), res.LogOutput)
		}
	}()

	appConfig, err := app.NewConfig(cfg)
	if err != nil {
		res.Err = err
		return res
	}

	opts = append([]app.Option{app.WithWriter(hcl.NewWriter())}, opts...)
	testApp, err := app.NewApp(logBuffer, appConfig, hcl.NewLoader(), opts...)
	if err != nil {
		res.Err = err
		return res
	}
	res.App = testApp
	res.Err = testApp.Run(ctx)
	return res
}
