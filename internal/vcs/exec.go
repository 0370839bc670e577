package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/openmined/filesyncer/internal/utils"
)

const metadataDir = ".git"

// ExecBackend implements Backend by running the system git binary.
type ExecBackend struct {
	gitBinary string
	author    Author
}

func NewExecBackend(gitBinary string, author Author) *ExecBackend {
	if gitBinary == "" {
		gitBinary = "git"
	}
	return &ExecBackend{gitBinary: gitBinary, author: author}
}

// GitAvailable checks if the git executable can be found in the system's PATH.
func GitAvailable() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

func (b *ExecBackend) CloneOrOpen(ctx context.Context, remote Remote, root string) (*WorkingCopy, error) {
	if _, err := exec.LookPath(b.gitBinary); err != nil {
		return nil, &BackendError{Stage: StageClone, Err: ErrGitNotAvailable}
	}
	if remote.URL == "" {
		return nil, &BackendError{Stage: StageClone, Err: errors.New("remote URL cannot be empty")}
	}
	if remote.Branch == "" {
		remote.Branch = DefaultBranch
	}

	if utils.DirExists(filepath.Join(root, metadataDir)) {
		out, err := b.output(ctx, root, remote, "remote", "get-url", DefaultRemoteName)
		if err != nil {
			return nil, backendErr(StageOpen, err)
		}
		if url := strings.TrimSpace(out); url != remote.URL {
			return nil, &BackendError{Stage: StageOpen, Err: fmt.Errorf("%w: have %s, want %s", ErrRemoteMismatch, utils.RedactURL(url), utils.RedactURL(remote.URL))}
		}
		return &WorkingCopy{Root: root, Remote: remote}, nil
	}

	if utils.DirExists(root) && !isEmptyDir(root) {
		return nil, &BackendError{Stage: StageOpen, Err: fmt.Errorf("%s exists and is not a git working copy", root)}
	}
	if err := utils.EnsureDir(root); err != nil {
		return nil, backendErr(StageClone, err)
	}

	slog.Info("git clone", "url", utils.RedactURL(remote.URL), "branch", remote.Branch, "root", root)
	err := b.run(ctx, root, remote, "clone", "--branch", remote.Branch, remote.URL, ".")
	if err != nil {
		if !remote.CreateBranch {
			return nil, backendErrf(StageClone, err, "clone %s", utils.RedactURL(remote.URL))
		}
		slog.Info("branch not found, cloning default branch", "branch", remote.Branch, "error", err)
		// a failed clone may leave a partial checkout behind
		if err := clearDir(root); err != nil {
			return nil, backendErr(StageClone, err)
		}
		if err := b.run(ctx, root, remote, "clone", remote.URL, "."); err != nil {
			return nil, backendErrf(StageClone, err, "clone %s", utils.RedactURL(remote.URL))
		}
		if err := b.run(ctx, root, remote, "checkout", "-B", remote.Branch); err != nil {
			return nil, backendErrf(StageClone, err, "create branch %s", remote.Branch)
		}
	}

	return &WorkingCopy{Root: root, Remote: remote, Cloned: true}, nil
}

func (b *ExecBackend) FetchLatest(ctx context.Context, wc *WorkingCopy) error {
	out, err := b.output(ctx, wc.Root, wc.Remote, "ls-remote", "--heads", DefaultRemoteName, wc.Remote.Branch)
	if err != nil {
		return backendErr(StageFetch, err)
	}
	if strings.TrimSpace(out) == "" {
		if wc.Remote.CreateBranch {
			return b.resetLocal(ctx, wc)
		}
		return &BackendError{Stage: StageFetch, Err: fmt.Errorf("%w: %s", ErrBranchMissing, wc.Remote.Branch)}
	}

	remoteRef := DefaultRemoteName + "/" + wc.Remote.Branch
	refSpec := fmt.Sprintf("+refs/heads/%s:refs/remotes/%s", wc.Remote.Branch, remoteRef)
	steps := [][]string{
		{"fetch", DefaultRemoteName, refSpec},
		{"checkout", "-f", "-B", wc.Remote.Branch, remoteRef},
		{"reset", "--hard", remoteRef},
		{"clean", "-fdx"},
	}
	for _, args := range steps {
		if err := b.run(ctx, wc.Root, wc.Remote, args...); err != nil {
			return backendErrf(StageFetch, err, "git %s", args[0])
		}
	}
	return nil
}

// resetLocal drops uncommitted changes when there is no remote branch to reset to.
func (b *ExecBackend) resetLocal(ctx context.Context, wc *WorkingCopy) error {
	if err := b.run(ctx, wc.Root, wc.Remote, "rev-parse", "--verify", "--quiet", "HEAD"); err != nil {
		// unborn branch
		return backendErr(StageFetch, clearDir(wc.Root, metadataDir))
	}
	for _, args := range [][]string{{"reset", "--hard", "HEAD"}, {"clean", "-fdx"}} {
		if err := b.run(ctx, wc.Root, wc.Remote, args...); err != nil {
			return backendErrf(StageFetch, err, "git %s", args[0])
		}
	}
	return nil
}

func (b *ExecBackend) Commit(ctx context.Context, wc *WorkingCopy, message string) error {
	// --force also stages files matched by a .gitignore in the tree
	if err := b.run(ctx, wc.Root, wc.Remote, "add", "-A", "--force"); err != nil {
		return backendErr(StageCommit, err)
	}

	status, err := b.output(ctx, wc.Root, wc.Remote, "status", "--porcelain")
	if err != nil {
		return backendErr(StageCommit, err)
	}
	if strings.TrimSpace(status) == "" {
		return &BackendError{Stage: StageCommit, Err: ErrNothingToCommit}
	}

	cmd := b.command(ctx, wc.Root, wc.Remote,
		"-c", "user.name="+b.author.Name,
		"-c", "user.email="+b.author.Email,
		"commit", "-F", "-",
	)
	cmd.Stdin = strings.NewReader(message)
	if err := runCmd(cmd); err != nil {
		return backendErr(StageCommit, err)
	}
	return nil
}

func (b *ExecBackend) Push(ctx context.Context, wc *WorkingCopy) error {
	if err := b.run(ctx, wc.Root, wc.Remote, "push", DefaultRemoteName, wc.Remote.Branch); err != nil {
		return backendErr(StagePush, err)
	}
	return nil
}

func (b *ExecBackend) command(ctx context.Context, dir string, remote Remote, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, b.gitBinary, args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	if remote.SSHKeyPath != "" {
		cmd.Env = append(cmd.Env, "GIT_SSH_COMMAND="+BuildGitSSHCommand(remote.SSHKeyPath))
	}
	return cmd
}

func (b *ExecBackend) run(ctx context.Context, dir string, remote Remote, args ...string) error {
	return runCmd(b.command(ctx, dir, remote, args...))
}

func (b *ExecBackend) output(ctx context.Context, dir string, remote Remote, args ...string) (string, error) {
	cmd := b.command(ctx, dir, remote, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s failed: %q: %w", args[0], strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}

// runCmd runs cmd, logging its stderr at debug level and quoting it in the
// returned error.
func runCmd(cmd *exec.Cmd) error {
	var stderr bytes.Buffer
	gitLog := utils.NewLogWriter(slog.Default(), slog.LevelDebug, "git")
	cmd.Stderr = io.MultiWriter(&stderr, gitLog)
	err := cmd.Run()
	gitLog.Close()
	if err != nil {
		args := make([]string, len(cmd.Args))
		for i, arg := range cmd.Args {
			args[i] = utils.RedactURL(arg)
		}
		return fmt.Errorf("%s failed: %q: %w", strings.Join(args, " "), strings.TrimSpace(stderr.String()), err)
	}
	return nil
}

// clearDir empties dir, sparing the named entries.
func clearDir(dir string, keep ...string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if slices.Contains(keep, entry.Name()) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
