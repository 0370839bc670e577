package vcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBackend(t *testing.T) {
	for _, kind := range []string{"", "go-git", "GoGit"} {
		b, err := NewBackend(kind, Options{})
		require.NoError(t, err, kind)
		gg, ok := b.(*GoGitBackend)
		require.True(t, ok, kind)
		assert.Equal(t, DefaultAuthor, gg.author)
	}

	b, err := NewBackend("exec", Options{GitBinary: "/usr/local/bin/git", Author: Author{Name: "bot"}})
	require.NoError(t, err)
	eb, ok := b.(*ExecBackend)
	require.True(t, ok)
	assert.Equal(t, "/usr/local/bin/git", eb.gitBinary)
	assert.Equal(t, Author{Name: "bot", Email: DefaultAuthor.Email}, eb.author)

	_, err = NewBackend("svn", Options{})
	assert.Error(t, err)
}

func TestBackendError(t *testing.T) {
	err := backendErr(StagePush, ErrNothingToCommit)
	assert.EqualError(t, err, "git push: nothing to commit")
	assert.ErrorIs(t, err, ErrNothingToCommit)

	// an existing BackendError keeps its stage
	assert.Same(t, err, backendErr(StageCommit, err))
	assert.NoError(t, backendErr(StageCommit, nil))

	wrapped := backendErrf(StageFetch, ErrBranchMissing, "fetch %s", "main")
	assert.EqualError(t, wrapped, "git fetch: fetch main: branch does not exist on remote")
}
