package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openmined/filesyncer/internal/config"
	"github.com/openmined/filesyncer/internal/syncer"
	"github.com/openmined/filesyncer/internal/vcs"
	"github.com/openmined/filesyncer/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "FILESYNCER"

// flag name -> config key
var flagKeys = map[string]string{
	"mode":              "mode",
	"folder":            "folder",
	"repo":              "repo",
	"branch":            "branch",
	"ssh-key":           "ssh_key",
	"compress":          "compress",
	"compression-level": "compression_level",
	"workers":           "workers",
	"workdir":           "workdir",
	"backend":           "backend",
	"timeout":           "timeout",
	"max-listed":        "max_listed",
	"ignore":            "ignore",
	"log-file":          "log_file",
	"log-level":         "log_level",
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filesyncer",
		Short: "Sync a local folder with a git repository",
		Long: `filesyncer pushes a local folder into a git repository, or pulls the
repository contents back into a folder. Files can be stored zstd compressed.`,
		Version:      version.Detailed(),
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runSync(cmd, cfg)
		},
	}

	flags := cmd.Flags()
	flags.SortFlags = false
	flags.StringP("mode", "m", "", "Sync mode: push or pull")
	flags.StringP("folder", "f", "", "Local folder to sync")
	flags.StringP("repo", "r", "", "Git repository URL")
	flags.StringP("branch", "b", vcs.DefaultBranch, "Git branch")
	flags.String("ssh-key", "", "Private key for ssh remotes")
	flags.BoolP("compress", "z", false, "Store files zstd compressed")
	flags.String("compression-level", "default", "Compression level: fast, default or max")
	flags.IntP("workers", "j", 0, "Parallel hashing workers (0 = number of CPUs)")
	flags.String("workdir", "", "Working copy directory (default: per repository cache dir)")
	flags.String("backend", vcs.BackendGoGit, "Git backend: go-git or exec")
	flags.Duration("timeout", config.DefaultTimeout, "Timeout of each git operation")
	flags.Int("max-listed", syncer.DefaultMaxListedPaths, "Paths listed in commit messages")
	flags.StringSlice("ignore", nil, "Extra ignore pattern, gitignore syntax (repeatable)")
	flags.String("log-file", config.DefaultLogFilePath, "Log file, empty to disable")
	flags.String("log-level", config.DefaultLogLevel, "Log level: debug, info, warn or error")
	cmd.PersistentFlags().StringP("config", "c", "", "Config file (default: "+config.DefaultConfigDir+"/filesyncer.yaml)")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()

	// config path
	if cfgFlag := cmd.Flag("config"); cfgFlag != nil && cfgFlag.Changed {
		v.SetConfigFile(cfgFlag.Value.String())
	} else if envPath := os.Getenv(envPrefix + "_CONFIG"); envPath != "" {
		v.SetConfigFile(envPath)
	} else {
		v.AddConfigPath(config.DefaultConfigDir)
		v.SetConfigName(config.ConfigFileName)
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		var notFound viper.ConfigFileNotFoundError
		if !enoent && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	// Bind flags to viper
	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	// Set up environment variables
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()

	return &cfg, cfg.Validate()
}

func runSync(cmd *cobra.Command, cfg *config.Config) error {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	closer, err := setupLogger(level, cfg.LogFile)
	if err != nil {
		return err
	}
	defer closer.Close()

	if cfg.Path != "" {
		slog.Debug("config loaded", "path", cfg.Path)
	}

	syncCfg, err := cfg.SyncConfig()
	if err != nil {
		return err
	}

	backend, err := vcs.NewBackend(cfg.Backend, vcs.Options{})
	if err != nil {
		return err
	}

	orchestrator, err := syncer.New(syncCfg, backend)
	if err != nil {
		return err
	}

	report, err := orchestrator.Run(cmd.Context())
	if report != nil {
		printReport(cmd.OutOrStdout(), report)
	}
	return err
}
