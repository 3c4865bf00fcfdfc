package main

import (
	"fmt"
	"log/slog"

	"github.com/jpalmerr/compliancepulse"
	"github.com/jpalmerr/compliancepulse/config"
	"github.com/spf13/cobra"
)

// addConfigFlag registers the required -c/--config flag on cmd.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = cmd.MarkFlagRequired("config")
}

// loadConfig reads the file named by --config and builds the CLI logger.
// The --log-level flag wins over the config's log_level.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.LogLevel
	if flagLevel, _ := cmd.Flags().GetString("log-level"); flagLevel != "" {
		level = flagLevel
	}
	logger, err := newLogger(level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// newDashboard loads the config and constructs a dashboard. Extra options
// are applied after the config's own.
func newDashboard(cmd *cobra.Command, extra ...compliancepulse.Option) (*compliancepulse.Dashboard, *config.Config, *slog.Logger, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}

	opts, err := config.BuildOptions(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build options: %w", err)
	}
	opts = append(opts, compliancepulse.WithLogger(logger))
	opts = append(opts, extra...)

	d, err := compliancepulse.New(opts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create dashboard: %w", err)
	}
	return d, cfg, logger, nil
}
