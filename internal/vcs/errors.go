package vcs

import (
	"errors"
	"fmt"
)

// Stages reported by BackendError.
const (
	StageClone  = "clone"
	StageOpen   = "open"
	StageFetch  = "fetch"
	StageCommit = "commit"
	StagePush   = "push"
)

var (
	ErrGitNotAvailable = errors.New("git is not available on this system")
	ErrRemoteMismatch  = errors.New("working copy tracks a different remote")
	ErrBranchMissing   = errors.New("branch does not exist on remote")
	ErrNothingToCommit = errors.New("nothing to commit")
)

// BackendError is a failed backend call tagged with its stage.
type BackendError struct {
	Stage string
	Err   error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("git %s: %v", e.Stage, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func backendErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Stage: stage, Err: err}
}

func backendErrf(stage string, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &BackendError{Stage: stage, Err: fmt.Errorf(format+": %w", append(args, err)...)}
}
