package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		name      string
		input     string
		want      string
		wantError bool
	}{
		{name: "empty path", input: "", wantError: true},
		{name: "absolute path", input: "/tmp/test/../x", want: filepath.Clean("/tmp/x")},
		{name: "home", input: "~", want: home},
		{name: "home relative", input: "~/data", want: filepath.Join(home, "data")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ResolvePath(tt.input)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, result)
		})
	}

	rel, err := ResolvePath("./test")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(rel))
}

func TestNormPath(t *testing.T) {
	assert.Equal(t, "a/b/c.txt", NormPath(filepath.Join("a", "b", "c.txt")))
	assert.Equal(t, "a/c", NormPath("a/b/../c"))
	assert.Equal(t, "a/b", NormPath("/a/b"))
}

func TestEnsureDirAndExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	assert.False(t, DirExists(dir))

	require.NoError(t, EnsureDir(dir))
	assert.True(t, DirExists(dir))
	assert.False(t, FileExists(dir))

	file := filepath.Join(dir, "c", "d.txt")
	require.NoError(t, EnsureParent(file))
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	assert.True(t, FileExists(file))
	assert.False(t, DirExists(file))
}

func TestRemoveEmptyParents(t *testing.T) {
	root := t.TempDir()
	deep := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(deep, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "keep.txt"), []byte("k"), 0o644))

	RemoveEmptyParents(root, filepath.Join(deep, "gone.txt"))

	assert.NoDirExists(t, filepath.Join(root, "a", "b"))
	assert.DirExists(t, filepath.Join(root, "a"))
	assert.DirExists(t, root)

	// root itself is never removed
	require.NoError(t, os.Remove(filepath.Join(root, "a", "keep.txt")))
	RemoveEmptyParents(root, filepath.Join(root, "a", "x"))
	assert.NoDirExists(t, filepath.Join(root, "a"))
	assert.DirExists(t, root)
}
