package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/procwatch/internal/config"
	"github.com/rewired-gh/procwatch/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

const defaultConfigPath = "configs/config.yaml"

var rootFlags struct {
	configPath string
	logLevel   string
}

var rootCmd = &cobra.Command{
	Use:   "procwatch",
	Short: "Forecast-based anomaly detection for process telemetry",
	Long: "procwatch polls process telemetry, scores every new point against a\n" +
		"per-variable forecast and records graded anomaly verdicts.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.configPath, "config", defaultConfigPath, "Path to configuration file")
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "Override logging.level")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(retrainCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.Version = version
}

// loadConfig reads and validates configuration, then initializes logging.
// A missing default config file falls back to defaults and environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := rootFlags.configPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if rootFlags.logLevel != "" {
		cfg.Logging.Level = rootFlags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logger.Setup(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	if path == "" {
		logger.Info("No config file found, using defaults and environment")
	} else {
		logger.Info("Configuration loaded from %s", path)
	}
	return cfg, nil
}
