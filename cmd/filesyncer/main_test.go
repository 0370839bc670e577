package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openmined/filesyncer/internal/syncer"
	"github.com/openmined/filesyncer/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFlags(t *testing.T) {
	t.Setenv("FILESYNCER_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"--mode", "push",
		"--folder", "/tmp/folder",
		"--repo", "git@github.com:user/repo.git",
		"-z", "--compression-level", "max",
		"--ignore", "*.tmp", "--ignore", "build/",
		"--timeout", "30s",
	}))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, "push", cfg.Mode)
	assert.Equal(t, "/tmp/folder", cfg.Folder)
	assert.Equal(t, "main", cfg.Branch)
	assert.True(t, cfg.Compress)
	assert.Equal(t, "max", cfg.CompressionLevel)
	assert.Equal(t, []string{"*.tmp", "build/"}, cfg.Ignore)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, syncer.DefaultMaxListedPaths, cfg.MaxListed)
	assert.Equal(t, "go-git", cfg.Backend)
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("FILESYNCER_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("FILESYNCER_MODE", "pull")
	t.Setenv("FILESYNCER_FOLDER", "/tmp/env-folder")
	t.Setenv("FILESYNCER_REPO", "https://example.com/repo.git")
	t.Setenv("FILESYNCER_BRANCH", "dev")
	t.Setenv("FILESYNCER_WORKERS", "3")

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags(nil))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, "pull", cfg.Mode)
	assert.Equal(t, "/tmp/env-folder", cfg.Folder)
	assert.Equal(t, "https://example.com/repo.git", cfg.Repo)
	assert.Equal(t, "dev", cfg.Branch)
	assert.Equal(t, 3, cfg.Workers)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filesyncer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: pull
folder: /tmp/yaml-folder
repo: https://example.com/yaml.git
compress: true
compression_level: fast
max_listed: 3
`), 0o644))

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--branch", "release"}))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "pull", cfg.Mode)
	assert.Equal(t, "/tmp/yaml-folder", cfg.Folder)
	assert.True(t, cfg.Compress)
	assert.Equal(t, "fast", cfg.CompressionLevel)
	assert.Equal(t, 3, cfg.MaxListed)
	// flags win over the file
	assert.Equal(t, "release", cfg.Branch)
}

func TestLoadConfigValidation(t *testing.T) {
	t.Setenv("FILESYNCER_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--mode", "sideways", "--folder", "/tmp/x", "--repo", "r"}))

	_, err := loadConfig(cmd)
	assert.EqualError(t, err, "mode must be either 'push' or 'pull'")
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, version.ShortWithApp(), strings.TrimSpace(out.String()))
}

func TestPrintReport(t *testing.T) {
	cs := syncer.NewChangeSet()
	cs.Added["a.txt"] = syncer.FileDescriptor{Path: "a.txt"}
	cs.Deleted.Add("old.txt")

	report := &syncer.Report{
		Mode:      syncer.ModePush,
		State:     syncer.StateDone,
		Changes:   cs,
		Message:   syncer.CommitMessage{Subject: "Sync: +1 added, ~0 modified, -1 deleted"},
		Committed: true,
		Pushed:    true,
		Warnings:  []error{errors.New("read b.txt: permission denied")},
	}

	var out bytes.Buffer
	printReport(&out, report)

	got := out.String()
	assert.Contains(t, got, "push")
	assert.Contains(t, got, "OK")
	assert.Contains(t, got, "+1 added")
	assert.Contains(t, got, "-1 deleted")
	assert.Contains(t, got, "Sync: +1 added, ~0 modified, -1 deleted")
	assert.Contains(t, got, "read b.txt: permission denied")
}
