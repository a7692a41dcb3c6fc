package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// MinimalSetup is a solver parameter file without restart.
const MinimalSetup = "<?xml version=\"1.0\"?>\n<code_saturne_case/>\n"

// WriteTree writes every file of files, keyed by slash-separated path
// relative to root, creating parent directories as needed.
func WriteTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

// ReferenceCase returns the files of a reference case in the harness
// repository. Extra files are keyed relative to the case directory.
func ReferenceCase(studyLabel, caseLabel string, extra map[string]string) map[string]string {
	prefix := RepoDir + "/" + studyLabel + "/" + caseLabel + "/"
	files := map[string]string{prefix + "DATA/setup.xml": MinimalSetup}
	for name, content := range extra {
		files[prefix+name] = content
	}
	return files
}

// Merge combines file maps, later maps winning.
func Merge(maps ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// ReadFile returns the content of path, failing the test if it cannot be
// read.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}
