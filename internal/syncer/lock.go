package syncer

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/openmined/filesyncer/internal/utils"
)

const lockFileSuffix = ".lock"

// WorkingCopyLock is an advisory, non-blocking lock that gives one sync
// exclusive use of a working copy. The lock file sits next to the working copy
// so it never shows up in scans or commits.
type WorkingCopyLock struct {
	flock *flock.Flock
}

func NewWorkingCopyLock(workingCopyRoot string) *WorkingCopyLock {
	return &WorkingCopyLock{
		flock: flock.New(LockPath(workingCopyRoot)),
	}
}

func LockPath(workingCopyRoot string) string {
	return filepath.Clean(workingCopyRoot) + lockFileSuffix
}

// Acquire takes the lock or fails with ErrLockContention without waiting.
func (l *WorkingCopyLock) Acquire() error {
	if err := utils.EnsureParent(l.flock.Path()); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	locked, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock working copy: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrLockContention, l.flock.Path())
	}
	return nil
}

// Release unlocks the working copy. The lock file is never removed, so every
// process always locks the same inode.
func (l *WorkingCopyLock) Release() error {
	if !l.flock.Locked() {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock working copy: %w", err)
	}
	return nil
}

func (l *WorkingCopyLock) Path() string {
	return l.flock.Path()
}
