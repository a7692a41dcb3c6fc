package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestFindFilesByExtension(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "a.hcl"), "")
	write(t, filepath.Join(root, "sub", "b.hcl"), "")
	write(t, filepath.Join(root, "sub", "c.txt"), "")

	files, err := FindFilesByExtension(root, ".hcl")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{filepath.Join(root, "a.hcl"), filepath.Join(root, "sub", "b.hcl")}, files)

	files, err = FindFilesByExtension(filepath.Join(root, "a.hcl"), ".hcl")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "a.hcl")}, files)

	assert.Panics(t, func() { _, _ = FindFilesByExtension(root, "") })
}

func TestCopyTree(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "POST")
	write(t, filepath.Join(src, "plot.py"), "print(1)")
	write(t, filepath.Join(src, "data", "ref.csv"), "1,2")

	dst := filepath.Join(root, "dest", "POST")
	require.NoError(t, CopyTree(src, dst))

	b, err := os.ReadFile(filepath.Join(dst, "data", "ref.csv"))
	require.NoError(t, err)
	assert.Equal(t, "1,2", string(b))
	assert.True(t, IsDir(dst))
	assert.Error(t, CopyTree(src, dst))
}

func TestCopyFilesAndMove(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "case")
	write(t, filepath.Join(src, "run.cfg"), "[setup]")
	write(t, filepath.Join(src, "fluid", "DATA", "setup.xml"), "<x/>")
	dst := filepath.Join(root, "dest")
	require.NoError(t, os.MkdirAll(dst, 0755))

	require.NoError(t, CopyFiles(src, dst))
	assert.True(t, IsFile(filepath.Join(dst, "run.cfg")))
	assert.False(t, IsDir(filepath.Join(dst, "fluid")))

	require.NoError(t, Move(filepath.Join(dst, "run.cfg"), filepath.Join(dst, "moved.cfg")))
	assert.False(t, IsFile(filepath.Join(dst, "run.cfg")))
	assert.True(t, IsFile(filepath.Join(dst, "moved.cfg")))
}
