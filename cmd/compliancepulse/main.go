// Package main is the entry point for the compliancepulse CLI.
//
// compliancepulse can be run either as a library (SDK) or as a standalone
// binary with YAML configuration. This CLI provides the standalone binary
// approach.
//
// Usage:
//
//	compliancepulse serve -c config.yaml              # Start the relay
//	compliancepulse watch -c config.yaml              # Stream updates to stdout
//	compliancepulse probe -c config.yaml              # One connectivity check
//	compliancepulse validate -c config.yaml           # Validate configuration
//	compliancepulse notifications read 42 -c config.yaml
//	compliancepulse version                           # Show version info
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "compliancepulse",
	Short: "Keep a compliance dashboard's data fresh",
	Long: `compliancepulse polls a compliance dashboard backend and keeps the
overview, documents, notifications, timeline, and analytics data fresh.

It probes backend connectivity before every tick, fetches all channels
concurrently, and relays live updates over HTTP and Server-Sent Events.

Quick start:
  1. Create a config file (compliancepulse.yaml)
  2. Run: compliancepulse serve -c compliancepulse.yaml
  3. Open http://localhost:8080 in your browser

Example config:
  backend_url: http://localhost:8000
  poll_interval: 30s
  channels:
    analytics: false`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// cobra already prints the error
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this compliancepulse binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "compliancepulse %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	rootCmd.AddCommand(versionCmd)
}

// newLogger creates a JSON logger on stderr for CLI use.
func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
	})), nil
}
