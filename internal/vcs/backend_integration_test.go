package vcs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBareRemote creates an empty bare repository usable as a local remote.
func newBareRemote(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "remote.git")
	_, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
		Bare:        true,
	})
	require.NoError(t, err)
	return dir
}

func backends() map[string]func() Backend {
	return map[string]func() Backend{
		BackendGoGit: func() Backend { return NewGoGitBackend(DefaultAuthor) },
		BackendExec:  func() Backend { return NewExecBackend("", DefaultAuthor) },
	}
}

func requireGit(t *testing.T) {
	t.Helper()
	// local transports shell out to git-upload-pack and git-receive-pack
	if !GitAvailable() {
		t.Skip("git is not available")
	}
}

func TestBackendRoundTrip(t *testing.T) {
	requireGit(t)

	for name, newBackend := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			backend := newBackend()
			remoteURL := newBareRemote(t)
			base := t.TempDir()

			// push into an empty remote
			pushRemote := Remote{URL: remoteURL, Branch: "main", CreateBranch: true}
			wc, err := backend.CloneOrOpen(ctx, pushRemote, filepath.Join(base, "push"))
			require.NoError(t, err)
			assert.True(t, wc.Cloned)
			require.NoError(t, backend.FetchLatest(ctx, wc))

			err = backend.Commit(ctx, wc, "empty")
			assert.ErrorIs(t, err, ErrNothingToCommit)

			require.NoError(t, os.WriteFile(filepath.Join(wc.Root, "a.txt"), []byte("hello"), 0o644))
			require.NoError(t, os.MkdirAll(filepath.Join(wc.Root, "dir"), 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(wc.Root, "dir", "b.txt"), []byte("bee"), 0o644))
			require.NoError(t, backend.Commit(ctx, wc, "Sync: +2 added, ~0 modified, -0 deleted"))
			require.NoError(t, backend.Push(ctx, wc))

			// a second working copy sees the pushed files
			pullRemote := Remote{URL: remoteURL, Branch: "main"}
			other, err := backend.CloneOrOpen(ctx, pullRemote, filepath.Join(base, "pull"))
			require.NoError(t, err)
			require.NoError(t, backend.FetchLatest(ctx, other))
			data, err := os.ReadFile(filepath.Join(other.Root, "dir", "b.txt"))
			require.NoError(t, err)
			assert.Equal(t, "bee", string(data))

			// delete and modify, then push again from the first working copy
			require.NoError(t, os.Remove(filepath.Join(wc.Root, "dir", "b.txt")))
			require.NoError(t, os.WriteFile(filepath.Join(wc.Root, "a.txt"), []byte("changed"), 0o644))
			require.NoError(t, backend.Commit(ctx, wc, "Sync: +0 added, ~1 modified, -1 deleted"))
			require.NoError(t, backend.Push(ctx, wc))

			// local edits in the reopened working copy are discarded by fetch
			reopened, err := backend.CloneOrOpen(ctx, pullRemote, other.Root)
			require.NoError(t, err)
			assert.False(t, reopened.Cloned)
			require.NoError(t, os.WriteFile(filepath.Join(other.Root, "junk.txt"), []byte("junk"), 0o644))
			require.NoError(t, backend.FetchLatest(ctx, reopened))

			data, err = os.ReadFile(filepath.Join(other.Root, "a.txt"))
			require.NoError(t, err)
			assert.Equal(t, "changed", string(data))
			assert.NoFileExists(t, filepath.Join(other.Root, "dir", "b.txt"))
			assert.NoFileExists(t, filepath.Join(other.Root, "junk.txt"))
		})
	}
}

func TestBackendMissingBranch(t *testing.T) {
	requireGit(t)

	for name, newBackend := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			backend := newBackend()
			remoteURL := newBareRemote(t)

			root := filepath.Join(t.TempDir(), "wc")
			wc, err := backend.CloneOrOpen(ctx, Remote{URL: remoteURL, Branch: "main", CreateBranch: true}, root)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(filepath.Join(wc.Root, "a.txt"), []byte("a"), 0o644))
			require.NoError(t, backend.Commit(ctx, wc, "init"))
			require.NoError(t, backend.Push(ctx, wc))

			// pulls never create branches
			_, err = backend.CloneOrOpen(ctx, Remote{URL: remoteURL, Branch: "release"}, filepath.Join(t.TempDir(), "pull"))
			var backendErr *BackendError
			require.ErrorAs(t, err, &backendErr)
			assert.Equal(t, StageClone, backendErr.Stage)

			// pushes branch off the default branch
			wc, err = backend.CloneOrOpen(ctx, Remote{URL: remoteURL, Branch: "release", CreateBranch: true}, filepath.Join(t.TempDir(), "push"))
			require.NoError(t, err)
			require.NoError(t, backend.FetchLatest(ctx, wc))
			require.NoError(t, os.WriteFile(filepath.Join(wc.Root, "r.txt"), []byte("r"), 0o644))
			require.NoError(t, backend.Commit(ctx, wc, "release"))
			require.NoError(t, backend.Push(ctx, wc))

			pulled, err := backend.CloneOrOpen(ctx, Remote{URL: remoteURL, Branch: "release"}, filepath.Join(t.TempDir(), "pull-release"))
			require.NoError(t, err)
			require.NoError(t, backend.FetchLatest(ctx, pulled))
			assert.FileExists(t, filepath.Join(pulled.Root, "a.txt"))
			assert.FileExists(t, filepath.Join(pulled.Root, "r.txt"))
		})
	}
}

func TestBackendCommitsGitignoredFiles(t *testing.T) {
	requireGit(t)

	for name, newBackend := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			backend := newBackend()
			remoteURL := newBareRemote(t)
			base := t.TempDir()

			wc, err := backend.CloneOrOpen(ctx, Remote{URL: remoteURL, Branch: "main", CreateBranch: true}, filepath.Join(base, "push"))
			require.NoError(t, err)
			require.NoError(t, backend.FetchLatest(ctx, wc))

			require.NoError(t, os.WriteFile(filepath.Join(wc.Root, ".gitignore"), []byte("*.log\n"), 0o644))
			require.NoError(t, os.WriteFile(filepath.Join(wc.Root, "app.log"), []byte("synced anyway"), 0o644))
			require.NoError(t, backend.Commit(ctx, wc, "Sync: +2 added, ~0 modified, -0 deleted"))
			require.NoError(t, backend.Push(ctx, wc))

			// nothing is left behind uncommitted
			err = backend.Commit(ctx, wc, "again")
			assert.ErrorIs(t, err, ErrNothingToCommit)

			other, err := backend.CloneOrOpen(ctx, Remote{URL: remoteURL, Branch: "main"}, filepath.Join(base, "pull"))
			require.NoError(t, err)
			require.NoError(t, backend.FetchLatest(ctx, other))
			data, err := os.ReadFile(filepath.Join(other.Root, "app.log"))
			require.NoError(t, err)
			assert.Equal(t, "synced anyway", string(data))

			// ignored leftovers are cleaned like any other local edit
			require.NoError(t, os.WriteFile(filepath.Join(other.Root, "stray.log"), []byte("junk"), 0o644))
			require.NoError(t, backend.FetchLatest(ctx, other))
			assert.NoFileExists(t, filepath.Join(other.Root, "stray.log"))
			assert.FileExists(t, filepath.Join(other.Root, "app.log"))
		})
	}
}

func TestBackendRemoteMismatch(t *testing.T) {
	requireGit(t)

	for name, newBackend := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			backend := newBackend()
			root := filepath.Join(t.TempDir(), "wc")

			_, err := backend.CloneOrOpen(ctx, Remote{URL: newBareRemote(t), Branch: "main", CreateBranch: true}, root)
			require.NoError(t, err)

			_, err = backend.CloneOrOpen(ctx, Remote{URL: newBareRemote(t), Branch: "main"}, root)
			assert.ErrorIs(t, err, ErrRemoteMismatch)
		})
	}
}

func TestBackendRefusesForeignDirectory(t *testing.T) {
	for name, newBackend := range backends() {
		t.Run(name, func(t *testing.T) {
			if name == BackendExec {
				requireGit(t)
			}
			root := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(root, "file.txt"), []byte("x"), 0o644))

			_, err := newBackend().CloneOrOpen(context.Background(), Remote{URL: "/nonexistent", Branch: "main"}, root)
			assert.ErrorContains(t, err, "is not a git working copy")
		})
	}
}
