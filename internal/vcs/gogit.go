package vcs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/openmined/filesyncer/internal/utils"
)

// GoGitBackend implements Backend in-process with go-git.
type GoGitBackend struct {
	author Author
}

func NewGoGitBackend(author Author) *GoGitBackend {
	return &GoGitBackend{author: author}
}

func (b *GoGitBackend) CloneOrOpen(ctx context.Context, remote Remote, root string) (*WorkingCopy, error) {
	if remote.URL == "" {
		return nil, &BackendError{Stage: StageClone, Err: errors.New("remote URL cannot be empty")}
	}
	if remote.Branch == "" {
		remote.Branch = DefaultBranch
	}

	if utils.DirExists(root) {
		repo, err := git.PlainOpen(root)
		if err == nil {
			if err := checkOrigin(repo, remote.URL); err != nil {
				return nil, backendErr(StageOpen, err)
			}
			slog.Debug("git open", "root", root, "branch", remote.Branch)
			return &WorkingCopy{Root: root, Remote: remote, state: repo}, nil
		}
		if !errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, backendErrf(StageOpen, err, "open %s", root)
		}
		if !isEmptyDir(root) {
			return nil, &BackendError{Stage: StageOpen, Err: fmt.Errorf("%s exists and is not a git working copy", root)}
		}
	}

	if err := utils.EnsureParent(root); err != nil {
		return nil, backendErr(StageClone, err)
	}

	auth, err := sshAuth(remote)
	if err != nil {
		return nil, backendErr(StageClone, err)
	}

	slog.Info("git clone", "url", utils.RedactURL(remote.URL), "branch", remote.Branch, "root", root)
	repo, err := git.PlainCloneContext(ctx, root, false, &git.CloneOptions{
		URL:           remote.URL,
		Auth:          auth,
		RemoteName:    DefaultRemoteName,
		ReferenceName: plumbing.NewBranchReferenceName(remote.Branch),
		SingleBranch:  true,
	})
	switch {
	case err == nil:
	case errors.Is(err, transport.ErrEmptyRemoteRepository):
		slog.Info("remote repository is empty, initializing working copy", "url", utils.RedactURL(remote.URL))
		repo, err = initEmpty(root, remote)
		if err != nil {
			return nil, backendErr(StageClone, err)
		}
	case isMissingRef(err):
		if !remote.CreateBranch {
			return nil, &BackendError{Stage: StageClone, Err: fmt.Errorf("%w: %s", ErrBranchMissing, remote.Branch)}
		}
		slog.Info("branch not found, cloning default branch", "branch", remote.Branch)
		repo, err = cloneAndBranch(ctx, root, remote, auth)
		if err != nil {
			return nil, backendErr(StageClone, err)
		}
	default:
		return nil, backendErrf(StageClone, err, "clone %s", utils.RedactURL(remote.URL))
	}

	return &WorkingCopy{Root: root, Remote: remote, Cloned: true, state: repo}, nil
}

func (b *GoGitBackend) FetchLatest(ctx context.Context, wc *WorkingCopy) error {
	repo, err := repoOf(wc)
	if err != nil {
		return backendErr(StageFetch, err)
	}

	auth, err := sshAuth(wc.Remote)
	if err != nil {
		return backendErr(StageFetch, err)
	}

	branchRef := plumbing.NewBranchReferenceName(wc.Remote.Branch)
	remoteRef := plumbing.NewRemoteReferenceName(DefaultRemoteName, wc.Remote.Branch)
	refSpec := config.RefSpec(fmt.Sprintf("+%s:%s", branchRef, remoteRef))

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: DefaultRemoteName,
		RefSpecs:   []config.RefSpec{refSpec},
		Auth:       auth,
		Force:      true,
	})
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
	case errors.Is(err, transport.ErrEmptyRemoteRepository), isMissingRef(err):
		if wc.Remote.CreateBranch {
			slog.Debug("remote branch does not exist yet", "branch", wc.Remote.Branch)
			return resetToHead(repo, wc.Root)
		}
		return &BackendError{Stage: StageFetch, Err: fmt.Errorf("%w: %s", ErrBranchMissing, wc.Remote.Branch)}
	default:
		return backendErrf(StageFetch, err, "fetch %s", wc.Remote.Branch)
	}

	tip, err := repo.Reference(remoteRef, true)
	if err != nil {
		return backendErrf(StageFetch, err, "resolve %s", remoteRef)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return backendErr(StageFetch, err)
	}

	head, err := repo.Head()
	if err != nil || head.Name() != branchRef {
		opts := &git.CheckoutOptions{Branch: branchRef, Force: true}
		if _, err := repo.Reference(branchRef, false); err != nil {
			opts.Hash = tip.Hash()
			opts.Create = true
		}
		if err := wt.Checkout(opts); err != nil {
			return backendErrf(StageFetch, err, "checkout %s", wc.Remote.Branch)
		}
	}

	if err := wt.Reset(&git.ResetOptions{Commit: tip.Hash(), Mode: git.HardReset}); err != nil {
		return backendErrf(StageFetch, err, "reset to %s", tip.Hash())
	}
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return backendErrf(StageFetch, err, "clean")
	}
	if err := removeUntracked(repo, wc.Root); err != nil {
		return backendErrf(StageFetch, err, "clean ignored")
	}

	slog.Debug("git fetch", "branch", wc.Remote.Branch, "head", tip.Hash().String())
	return nil
}

// resetToHead drops uncommitted changes when there is no remote branch to reset to.
func resetToHead(repo *git.Repository, root string) error {
	head, err := repo.Head()
	if err != nil {
		// unborn branch
		return backendErr(StageFetch, clearDir(root, metadataDir))
	}
	wt, err := repo.Worktree()
	if err != nil {
		return backendErr(StageFetch, err)
	}
	if err := wt.Reset(&git.ResetOptions{Commit: head.Hash(), Mode: git.HardReset}); err != nil {
		return backendErrf(StageFetch, err, "reset to %s", head.Hash())
	}
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return backendErrf(StageFetch, err, "clean")
	}
	if err := removeUntracked(repo, root); err != nil {
		return backendErrf(StageFetch, err, "clean ignored")
	}
	return nil
}

func (b *GoGitBackend) Commit(ctx context.Context, wc *WorkingCopy, message string) error {
	repo, err := repoOf(wc)
	if err != nil {
		return backendErr(StageCommit, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return backendErr(StageCommit, err)
	}

	status, err := wt.Status()
	if err != nil {
		return backendErrf(StageCommit, err, "status")
	}

	staged := 0
	for path, st := range status {
		if err := ctx.Err(); err != nil {
			return backendErr(StageCommit, err)
		}
		if st.Worktree == git.Unmodified {
			if st.Staging != git.Unmodified {
				staged++
			}
			continue
		}
		if st.Worktree == git.Deleted {
			_, err = wt.Remove(path)
		} else {
			_, err = wt.Add(path)
		}
		if err != nil {
			return backendErrf(StageCommit, err, "stage %s", path)
		}
		staged++
	}

	// status hides untracked files matched by a .gitignore in the tree
	ignored, err := stageIgnored(repo, wt, wc.Root)
	if err != nil {
		return backendErr(StageCommit, err)
	}
	staged += ignored

	if staged == 0 {
		return &BackendError{Stage: StageCommit, Err: ErrNothingToCommit}
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  b.author.Name,
			Email: b.author.Email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return backendErr(StageCommit, err)
	}

	slog.Debug("git commit", "hash", hash.String(), "files", staged)
	return nil
}

// stageIgnored adds every file of the worktree that is missing from the index.
func stageIgnored(repo *git.Repository, wt *git.Worktree, root string) (int, error) {
	missing, err := untrackedFiles(repo, root)
	if err != nil {
		return 0, err
	}
	for _, path := range missing {
		if err := wt.AddWithOptions(&git.AddOptions{Path: path, SkipStatus: true}); err != nil {
			return 0, fmt.Errorf("stage %s: %w", path, err)
		}
	}
	if len(missing) > 0 {
		slog.Debug("git staged ignored files", "files", len(missing))
	}
	return len(missing), nil
}

// removeUntracked deletes the files Clean leaves behind because a .gitignore
// matches them.
func removeUntracked(repo *git.Repository, root string) error {
	missing, err := untrackedFiles(repo, root)
	if err != nil {
		return err
	}
	for _, path := range missing {
		full := filepath.Join(root, filepath.FromSlash(path))
		if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		utils.RemoveEmptyParents(root, full)
	}
	return nil
}

// untrackedFiles lists the regular files of the worktree that have no index
// entry, ignored or not.
func untrackedFiles(repo *git.Repository, root string) ([]string, error) {
	idx, err := repo.Storer.Index()
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	var missing []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == metadataDir {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if _, err := idx.Entry(rel); errors.Is(err, index.ErrEntryNotFound) {
			missing = append(missing, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk worktree: %w", err)
	}
	return missing, nil
}

func (b *GoGitBackend) Push(ctx context.Context, wc *WorkingCopy) error {
	repo, err := repoOf(wc)
	if err != nil {
		return backendErr(StagePush, err)
	}

	auth, err := sshAuth(wc.Remote)
	if err != nil {
		return backendErr(StagePush, err)
	}

	branchRef := plumbing.NewBranchReferenceName(wc.Remote.Branch)
	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: DefaultRemoteName,
		RefSpecs:   []config.RefSpec{config.RefSpec(branchRef + ":" + branchRef)},
		Auth:       auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return backendErrf(StagePush, err, "push %s", wc.Remote.Branch)
	}

	slog.Debug("git push", "branch", wc.Remote.Branch)
	return nil
}

func repoOf(wc *WorkingCopy) (*git.Repository, error) {
	if wc == nil {
		return nil, errors.New("nil working copy")
	}
	if repo, ok := wc.state.(*git.Repository); ok {
		return repo, nil
	}
	repo, err := git.PlainOpen(wc.Root)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", wc.Root, err)
	}
	wc.state = repo
	return repo, nil
}

func checkOrigin(repo *git.Repository, url string) error {
	origin, err := repo.Remote(DefaultRemoteName)
	if err != nil {
		return fmt.Errorf("remote %s: %w", DefaultRemoteName, err)
	}
	urls := origin.Config().URLs
	if len(urls) == 0 {
		return fmt.Errorf("%w: remote %s has no URL", ErrRemoteMismatch, DefaultRemoteName)
	}
	if urls[0] != url {
		return fmt.Errorf("%w: have %s, want %s", ErrRemoteMismatch, utils.RedactURL(urls[0]), utils.RedactURL(url))
	}
	return nil
}

func initEmpty(root string, remote Remote) (*git.Repository, error) {
	repo, err := git.PlainInit(root, false)
	if errors.Is(err, git.ErrRepositoryAlreadyExists) {
		repo, err = git.PlainOpen(root)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s: %w", root, err)
	}

	_, err = repo.CreateRemote(&config.RemoteConfig{
		Name: DefaultRemoteName,
		URLs: []string{remote.URL},
	})
	if err != nil && !errors.Is(err, git.ErrRemoteExists) {
		return nil, fmt.Errorf("create remote: %w", err)
	}

	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(remote.Branch))
	if err := repo.Storer.SetReference(head); err != nil {
		return nil, fmt.Errorf("set HEAD: %w", err)
	}
	return repo, nil
}

func cloneAndBranch(ctx context.Context, root string, remote Remote, auth transport.AuthMethod) (*git.Repository, error) {
	repo, err := git.PlainCloneContext(ctx, root, false, &git.CloneOptions{
		URL:        remote.URL,
		Auth:       auth,
		RemoteName: DefaultRemoteName,
	})
	if err != nil {
		return nil, fmt.Errorf("clone %s: %w", utils.RedactURL(remote.URL), err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, err
	}
	err = wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(remote.Branch),
		Create: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create branch %s: %w", remote.Branch, err)
	}
	return repo, nil
}

func isMissingRef(err error) bool {
	return errors.Is(err, plumbing.ErrReferenceNotFound) || errors.Is(err, git.NoMatchingRefSpecError{})
}

func isEmptyDir(path string) bool {
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) == 0
}
