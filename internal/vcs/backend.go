// Package vcs implements the version control backends used to clone, update,
// commit and push the working copy of a sync.
package vcs

import (
	"context"
	"fmt"
	"strings"
)

const (
	DefaultRemoteName = "origin"
	DefaultBranch     = "main"

	BackendGoGit = "go-git"
	BackendExec  = "exec"
)

// Remote describes the repository a working copy tracks.
type Remote struct {
	URL    string
	Branch string
	// SSHKeyPath is an optional private key for ssh remotes.
	SSHKeyPath string
	// CreateBranch allows CloneOrOpen to create Branch when the remote does not
	// have it yet. Pushes set it, pulls do not.
	CreateBranch bool
}

// Author identifies the committer of sync commits.
type Author struct {
	Name  string
	Email string
}

var DefaultAuthor = Author{
	Name:  "filesyncer",
	Email: "filesyncer@localhost",
}

// WorkingCopy is a handle to a checked out repository.
type WorkingCopy struct {
	Root   string
	Remote Remote
	// Cloned is true when CloneOrOpen created the working copy.
	Cloned bool

	// backend specific state
	state any
}

// Backend performs the git side of a sync. Every method fails with *BackendError.
type Backend interface {
	// CloneOrOpen opens the working copy at root, cloning remote into it when
	// root holds no repository yet.
	CloneOrOpen(ctx context.Context, remote Remote, root string) (*WorkingCopy, error)
	// FetchLatest updates the working copy in place to the remote branch tip,
	// discarding local modifications.
	FetchLatest(ctx context.Context, wc *WorkingCopy) error
	// Commit stages every change in the working copy and commits it.
	Commit(ctx context.Context, wc *WorkingCopy, message string) error
	// Push publishes the branch to the remote.
	Push(ctx context.Context, wc *WorkingCopy) error
}

type Options struct {
	Author Author
	// GitBinary is used by the exec backend. Defaults to "git".
	GitBinary string
}

// NewBackend returns the backend registered under kind.
func NewBackend(kind string, opts Options) (Backend, error) {
	if opts.Author.Name == "" {
		opts.Author.Name = DefaultAuthor.Name
	}
	if opts.Author.Email == "" {
		opts.Author.Email = DefaultAuthor.Email
	}

	switch strings.ToLower(kind) {
	case "", BackendGoGit, "gogit":
		return NewGoGitBackend(opts.Author), nil
	case BackendExec, "git":
		return NewExecBackend(opts.GitBinary, opts.Author), nil
	default:
		return nil, fmt.Errorf("unknown backend %q, expected %q or %q", kind, BackendGoGit, BackendExec)
	}
}
