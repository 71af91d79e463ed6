package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/gonas/internal/config"
	"github.com/cwbudde/gonas/internal/logging"
)

var (
	configFile string
	dataPath   string
	logLevel   string
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "gonas",
	Short: "Neural architecture search research harness",
	Long: `gonas runs NAS meta-optimizers (bananas, oneshot, rsws, rs, re) over the
nasbench101, nasbench201 and darts search spaces, and evaluates performance
predictors against tabular or surrogate benchmarks.

Configuration comes from a YAML file (--config-file) and trailing key/value
overrides, e.g. "gonas search search.epochs 20 seed 3".`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logLevel
		if level == "" {
			level = "info"
		}
		logger = logging.New(level, os.Stdout)
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config-file", "", "YAML experiment configuration (defaults are built in)")
	rootCmd.PersistentFlags().StringVar(&dataPath, "datapath", "", "Directory holding dataset CSV files")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config")
}

// loadConfig builds the experiment configuration from the config file, the
// positional overrides and the global flags, then prepares the experiment
// directory.
func loadConfig(overrides []string) (*config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		var err error
		if cfg, err = config.LoadConfig(configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyOverrides(overrides); err != nil {
		return nil, err
	}
	if dataPath != "" {
		cfg.DataPath = dataPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Prepare(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupExperiment loads the configuration and installs the experiment logger,
// which also writes to <save>/log.log.
func setupExperiment(overrides []string) (*config.Config, io.Closer, error) {
	cfg, err := loadConfig(overrides)
	if err != nil {
		return nil, nil, err
	}
	l, closer, err := logging.Setup(cfg.LogLevel, cfg.Save)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	logger = l
	logging.LogArgs(logger, cfg)
	return cfg, closer, nil
}
