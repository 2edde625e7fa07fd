package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/stacks/internal/config"
	"github.com/jackzampolin/stacks/internal/home"
	"github.com/jackzampolin/stacks/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string

	cfgManager *config.Manager
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "stacks",
	Short: "Batch literature processing engine",
	Long: `Stacks processes large batches of documents through a four-phase
pipeline: text extraction, content analysis, segment structuring, and
persistence.

Sessions are resource-planned, checkpointed, and resumable:
  - Concurrency is derived from host CPU and memory at session start
  - Phase results are checkpointed so interrupted runs resume cheaply
  - Items that exhaust retries degrade to metadata-only records
  - Reports summarize throughput, failures, and tuning recommendations`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.stacks/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "stacks home directory (default: ~/.stacks)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// .env is optional; API keys may come from the shell instead.
		_ = godotenv.Load()

		var err error
		cfgManager, err = config.NewManager(cfgFile)
		if err != nil {
			return err
		}

		logger = newLogger(cfgManager.Get().Log)
		slog.SetDefault(logger)
		return nil
	}

	rootCmd.AddCommand(versionCmd)
}

// newLogger builds the process logger from the log config section.
func newLogger(cfg config.LogCfg) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// getHome returns the home directory manager, creating the layout if needed.
func getHome() (*home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}
	return h, nil
}
