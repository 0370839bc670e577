package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sha(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func paths(s *Snapshot) []string {
	var out []string
	for _, f := range s.Files() {
		out = append(out, f.Path)
	}
	return out
}

func TestScanEmptyDir(t *testing.T) {
	snap, err := NewScanner(ScanOptions{}).Scan(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Len())
	assert.Empty(t, snap.Warnings())
	assert.Empty(t, snap.Unreadable())
}

func TestScanMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "missing")
	_, err := NewScanner(ScanOptions{}).Scan(context.Background(), root)

	var scanErr *ScanError
	require.ErrorAs(t, err, &scanErr)
	assert.Equal(t, root, scanErr.Root)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestScanRootIsFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "file", []byte("x"))

	_, err := NewScanner(ScanOptions{}).Scan(context.Background(), filepath.Join(root, "file"))
	var scanErr *ScanError
	assert.ErrorAs(t, err, &scanErr)
}

func TestScanLocalTree(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.txt", []byte("bee"))
	writeFile(t, root, "a/nested/c.txt", []byte("sea"))
	writeFile(t, root, "empty", nil)

	snap, err := NewScanner(ScanOptions{Workers: 2}).Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"a/nested/c.txt", "b.txt", "empty"}, paths(snap))
	assert.Empty(t, snap.Warnings())

	b, ok := snap.Lookup("b.txt")
	require.True(t, ok)
	assert.Equal(t, sha("bee"), b.Fingerprint)
	assert.Equal(t, int64(3), b.Size)
	assert.Equal(t, Raw, b.Representation)

	empty, ok := snap.Lookup("empty")
	require.True(t, ok)
	assert.Equal(t, sha(""), empty.Fingerprint)
}

func TestScanExcludesMetadataDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".git/HEAD", []byte("ref: refs/heads/main"))
	writeFile(t, root, "sub/.git/config", []byte("[core]"))
	writeFile(t, root, ".gitignore", []byte("*.log"))
	writeFile(t, root, "sub/file.txt", []byte("x"))

	for _, stored := range []bool{false, true} {
		snap, err := NewScanner(ScanOptions{Stored: stored}).Scan(context.Background(), root)
		require.NoError(t, err)
		assert.Equal(t, []string{".gitignore", "sub/file.txt"}, paths(snap))
	}
}

func TestScanSkipsSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root := t.TempDir()
	writeFile(t, root, "real.txt", []byte("real"))
	require.NoError(t, os.Symlink(filepath.Join(root, "real.txt"), filepath.Join(root, "link.txt")))

	snap, err := NewScanner(ScanOptions{}).Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"real.txt"}, paths(snap))
}

func TestScanStoredTree(t *testing.T) {
	root := t.TempDir()
	compressed, storedPath, err := Encode([]byte("hi"), "a", CompressionPolicy{Enabled: true})
	require.NoError(t, err)
	writeFile(t, root, storedPath, compressed)
	writeFile(t, root, "plain.txt", []byte("plain"))
	writeFile(t, root, "empty-zstd", nil)

	snap, err := NewScanner(ScanOptions{Stored: true}).Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "empty", "plain.txt"}, paths(snap))

	a, ok := snap.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "a-zstd", a.StoredPath)
	assert.Equal(t, Zstd, a.Representation)
	assert.Equal(t, sha("hi"), a.Fingerprint)
	assert.Equal(t, int64(2), a.Size)

	empty, ok := snap.Lookup("empty")
	require.True(t, ok)
	assert.Equal(t, sha(""), empty.Fingerprint)
}

func TestScanCorruptStoredFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "bad-zstd", []byte("garbage"))
	writeFile(t, root, "good.txt", []byte("good"))

	snap, err := NewScanner(ScanOptions{Stored: true}).Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"good.txt"}, paths(snap))
	assert.Equal(t, []string{"bad"}, snap.Unreadable())
	require.Len(t, snap.Warnings(), 1)

	var codecErr *CodecError
	assert.ErrorAs(t, snap.Warnings()[0], &codecErr)
}

func TestScanDuplicateRepresentations(t *testing.T) {
	root := t.TempDir()
	compressed, _, err := Encode([]byte("zstd wins"), "a.txt", CompressionPolicy{Enabled: true})
	require.NoError(t, err)
	writeFile(t, root, "a.txt", []byte("raw loses"))
	writeFile(t, root, "a.txt-zstd", compressed)

	snap, err := NewScanner(ScanOptions{Stored: true}).Scan(context.Background(), root)
	require.NoError(t, err)

	require.Equal(t, 1, snap.Len())
	a, _ := snap.Lookup("a.txt")
	assert.Equal(t, "a.txt-zstd", a.StoredPath)
	assert.Equal(t, sha("zstd wins"), a.Fingerprint)
	require.Len(t, snap.Warnings(), 1)
	assert.Contains(t, snap.Warnings()[0].Error(), "duplicate representation of a.txt")
}

func TestScanLocalReservedNames(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", []byte("a"))
	writeFile(t, root, "a.txt-zstd", []byte("raw on the local side"))
	writeFile(t, root, "old-gzipped.txt", []byte("not gzip"))
	writeFile(t, root, "skipped.log-zstd", []byte("ignored first"))

	ignore := NewIgnoreList("*.log-zstd")
	snap, err := NewScanner(ScanOptions{Ignore: ignore}).Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt"}, paths(snap))
	assert.Equal(t, []string{"a.txt-zstd", "old-gzipped.txt"}, snap.Unreadable())
	require.Len(t, snap.Warnings(), 2)
	for _, warning := range snap.Warnings() {
		assert.ErrorIs(t, warning, ErrReservedName)
	}
}

func TestScanUnreadableDirectory(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced")
	}

	root := t.TempDir()
	writeFile(t, root, "a.txt", []byte("a"))
	writeFile(t, root, "keep/x.txt", []byte("x"))
	locked := filepath.Join(root, "keep")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { os.Chmod(locked, 0o755) })

	snap, err := NewScanner(ScanOptions{}).Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt"}, paths(snap))
	assert.Equal(t, []string{"keep"}, snap.Unreadable())
	require.Len(t, snap.Warnings(), 1)
	var fileErr *FileError
	require.ErrorAs(t, snap.Warnings()[0], &fileErr)
	assert.Equal(t, "walk", fileErr.Op)
	assert.Equal(t, "keep", fileErr.Path)
}

func TestScanIgnore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.txt", []byte("k"))
	writeFile(t, root, "skip.tmp", []byte("s"))
	writeFile(t, root, "build/out.bin", []byte("b"))
	writeFile(t, root, "data.log-zstd", []byte("never decoded"))

	ignore := NewIgnoreList("*.tmp", "build/", "# comment", "", "*.log")
	snap, err := NewScanner(ScanOptions{Stored: true, Ignore: ignore}).Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"keep.txt"}, paths(snap))
	assert.Empty(t, snap.Warnings())
}

func TestScanCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", []byte("a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewScanner(ScanOptions{}).Scan(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
}
