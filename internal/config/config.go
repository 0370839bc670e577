package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/openmined/filesyncer/internal/syncer"
	"github.com/openmined/filesyncer/internal/utils"
	"github.com/openmined/filesyncer/internal/vcs"
)

const (
	appDir         = "filesyncer"
	ConfigFileName = "filesyncer"

	DefaultTimeout  = 5 * time.Minute
	DefaultLogLevel = "info"
)

var (
	DefaultConfigDir   = filepath.Join(xdg.ConfigHome, appDir)
	DefaultLogFilePath = filepath.Join(xdg.StateHome, appDir, "filesyncer.log")
	DefaultWorkTreeDir = filepath.Join(xdg.CacheHome, appDir, "worktrees")
)

// Config is the user facing configuration, as read from flags, environment
// and an optional config file.
type Config struct {
	Mode             string        `mapstructure:"mode"`
	Folder           string        `mapstructure:"folder"`
	Repo             string        `mapstructure:"repo"`
	Branch           string        `mapstructure:"branch"`
	SSHKey           string        `mapstructure:"ssh_key"`
	Compress         bool          `mapstructure:"compress"`
	CompressionLevel string        `mapstructure:"compression_level"`
	Workers          int           `mapstructure:"workers"`
	WorkDir          string        `mapstructure:"workdir"`
	Backend          string        `mapstructure:"backend"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxListed        int           `mapstructure:"max_listed"`
	Ignore           []string      `mapstructure:"ignore"`
	LogFile          string        `mapstructure:"log_file"`
	LogLevel         string        `mapstructure:"log_level"`

	// Path of the config file that was loaded, if any.
	Path string `mapstructure:"-"`
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Folder) == "" {
		return errors.New("folder path is required")
	}
	if strings.TrimSpace(c.Repo) == "" {
		return errors.New("repository URL is required")
	}
	if _, err := syncer.ParseSyncMode(c.Mode); err != nil {
		return err
	}
	if _, err := syncer.ParseCompressionLevel(c.CompressionLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.Backend) {
	case "", vcs.BackendGoGit, vcs.BackendExec:
	default:
		return fmt.Errorf("backend must be either '%s' or '%s'", vcs.BackendGoGit, vcs.BackendExec)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers cannot be negative, got %d", c.Workers)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative, got %s", c.Timeout)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SyncConfig resolves paths and defaults into the input of a sync run.
func (c *Config) SyncConfig() (syncer.SyncConfig, error) {
	if err := c.Validate(); err != nil {
		return syncer.SyncConfig{}, err
	}

	mode, _ := syncer.ParseSyncMode(c.Mode)
	level, _ := syncer.ParseCompressionLevel(c.CompressionLevel)

	localRoot, err := utils.ResolvePath(c.Folder)
	if err != nil {
		return syncer.SyncConfig{}, fmt.Errorf("folder: %w", err)
	}

	branch := c.Branch
	if branch == "" {
		branch = vcs.DefaultBranch
	}

	workDir := c.WorkDir
	if workDir == "" {
		workDir = DefaultWorkDir(c.Repo, branch)
	}
	workDir, err = utils.ResolvePath(workDir)
	if err != nil {
		return syncer.SyncConfig{}, fmt.Errorf("workdir: %w", err)
	}
	if isWithin(localRoot, workDir) || isWithin(workDir, localRoot) {
		return syncer.SyncConfig{}, fmt.Errorf("workdir %q and folder %q must not contain each other", workDir, localRoot)
	}

	var sshKey string
	if c.SSHKey != "" {
		if sshKey, err = utils.ResolvePath(c.SSHKey); err != nil {
			return syncer.SyncConfig{}, fmt.Errorf("ssh key: %w", err)
		}
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return syncer.SyncConfig{
		Mode:            mode,
		LocalRoot:       localRoot,
		WorkingCopyRoot: workDir,
		Compression:     syncer.CompressionPolicy{Enabled: c.Compress, Level: level},
		Remote: vcs.Remote{
			URL:        c.Repo,
			Branch:     branch,
			SSHKeyPath: sshKey,
		},
		Workers:        c.Workers,
		BackendTimeout: timeout,
		MaxListedPaths: c.MaxListed,
		Ignore:         c.Ignore,
	}, nil
}

// DefaultWorkDir returns a stable working copy location per repository and
// branch, so repeated runs reuse the same clone.
func DefaultWorkDir(repo, branch string) string {
	sum := sha256.Sum256([]byte(repo + "\x00" + branch))
	return filepath.Join(DefaultWorkTreeDir, hex.EncodeToString(sum[:])[:16])
}

func ParseLogLevel(s string) (slog.Level, error) {
	if s == "" {
		s = DefaultLogLevel
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level must be one of 'debug', 'info', 'warn' or 'error', got %q", s)
	}
	return level, nil
}

func isWithin(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
