package syncer

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel string, content []byte) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

// readTree returns every regular file under root except version control
// metadata, keyed by slash separated relative path.
func readTree(t *testing.T, root string) map[string][]byte {
	t.Helper()
	tree := make(map[string][]byte)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == MetadataDirName {
				return fs.SkipDir
			}
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		tree[relPath(root, path)] = data
		return nil
	})
	require.NoError(t, err)
	return tree
}

func mustSnapshot(t *testing.T, files ...FileDescriptor) *Snapshot {
	t.Helper()
	s, err := NewSnapshot(files...)
	require.NoError(t, err)
	return s
}

func fd(path, fingerprint string) FileDescriptor {
	return FileDescriptor{Path: path, StoredPath: path, Fingerprint: fingerprint}
}
