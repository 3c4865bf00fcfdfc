package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/jpalmerr/compliancepulse"
	"github.com/spf13/cobra"
)

// probeCmd runs one connectivity check.
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check backend connectivity once",
	Long: `Probe the backend's health endpoint once and print the result.

Exit codes:
  0 - Backend is reachable
  1 - Backend is unreachable

Example:
  compliancepulse probe -c config.yaml`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	addConfigFlag(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	d, _, _, err := newDashboard(cmd, compliancepulse.WithAutoStart(false))
	if err != nil {
		return err
	}
	defer d.Close()

	state := d.Probe(cmd.Context())

	out := cmd.OutOrStdout()
	if !state.IsConnected {
		fmt.Fprintf(out, "Backend unreachable (checked %s)\n", humanize.Time(state.CheckedAt))
		return fmt.Errorf("backend unreachable: %s", state.Error)
	}

	fmt.Fprintf(out, "Backend reachable (checked %s)\n", humanize.Time(state.CheckedAt))
	fmt.Fprintf(out, "  Latency: %dms\n", state.ResponseTimeMs)
	if state.BackendStatus != "" {
		fmt.Fprintf(out, "  Status:  %s\n", state.BackendStatus)
	}
	return nil
}
