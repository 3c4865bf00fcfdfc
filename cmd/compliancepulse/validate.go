package main

import (
	"fmt"
	"strings"

	"github.com/jpalmerr/compliancepulse"
	"github.com/jpalmerr/compliancepulse/config"
	"github.com/spf13/cobra"
)

// validateCmd validates a config file without polling.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a compliancepulse configuration file without contacting the backend.

This command parses the YAML, expands environment variables, loads fixture
files, and validates all fields. It's useful for CI/CD pipelines or
pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  compliancepulse validate -c config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	addConfigFlag(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Backend:       %s\n", cfg.BackendURL)
	fmt.Fprintf(out, "  Poll interval: %s\n", cfg.PollInterval.Duration())
	fmt.Fprintf(out, "  Channels:      %s\n", strings.Join(enabledChannels(cfg), ", "))
	fmt.Fprintf(out, "  Auto start:    %t\n", cfg.AutoStartEnabled())

	fixtures := cfg.OfflineFallback.Resolved()
	if cfg.OfflineFallback.Enabled {
		fmt.Fprintf(out, "  Offline:       fallback enabled, %d fixtures\n", len(fixtures))
	} else {
		fmt.Fprintf(out, "  Offline:       fallback disabled\n")
	}
	fmt.Fprintf(out, "  Relay port:    %d\n", cfg.Relay.Port)

	return nil
}

// enabledChannels lists the data channels the config leaves enabled, in
// display order.
func enabledChannels(cfg *config.Config) []string {
	var names []string
	for _, ch := range compliancepulse.DataChannels() {
		if enabled, ok := cfg.Channels[string(ch)]; ok && !enabled {
			continue
		}
		names = append(names, string(ch))
	}
	return names
}
