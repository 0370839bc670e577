package syncer

import (
	"errors"
	"fmt"
	"time"

	"github.com/openmined/filesyncer/internal/vcs"
)

type SyncMode string

const (
	ModePush SyncMode = "push"
	ModePull SyncMode = "pull"
)

func ParseSyncMode(s string) (SyncMode, error) {
	switch SyncMode(s) {
	case ModePush, ModePull:
		return SyncMode(s), nil
	default:
		return "", errors.New("mode must be either 'push' or 'pull'")
	}
}

// SyncConfig is the fully resolved input of one sync run.
type SyncConfig struct {
	Mode            SyncMode
	LocalRoot       string
	WorkingCopyRoot string
	Compression     CompressionPolicy
	Remote          vcs.Remote

	// Workers bounds fingerprint parallelism; zero uses the number of CPUs.
	Workers int
	// BackendTimeout bounds each backend call; zero disables the timeout.
	BackendTimeout time.Duration
	// MaxListedPaths caps the path listing of commit messages.
	MaxListedPaths int
	// Ignore holds extra gitignore-style rules, applied on top of the local
	// root's ignore file.
	Ignore []string
}

func (c SyncConfig) Validate() error {
	if _, err := ParseSyncMode(string(c.Mode)); err != nil {
		return err
	}
	if c.LocalRoot == "" {
		return errors.New("local root is required")
	}
	if c.WorkingCopyRoot == "" {
		return errors.New("working copy root is required")
	}
	if c.Remote.URL == "" {
		return errors.New("repository URL is required")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers cannot be negative, got %d", c.Workers)
	}
	if c.BackendTimeout < 0 {
		return fmt.Errorf("backend timeout cannot be negative, got %s", c.BackendTimeout)
	}
	return nil
}
