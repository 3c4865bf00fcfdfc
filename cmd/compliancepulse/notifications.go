package main

import (
	"fmt"

	"github.com/jpalmerr/compliancepulse"
	"github.com/spf13/cobra"
)

// notificationsCmd groups notification actions.
var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Act on dashboard notifications",
}

// notificationsReadCmd marks one notification as read.
var notificationsReadCmd = &cobra.Command{
	Use:   "read <id>",
	Short: "Mark a notification as read",
	Long: `Mark a notification as read on the backend, then refresh every channel
once so the change is visible.

Example:
  compliancepulse notifications read 42 -c config.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runNotificationsRead,
}

func init() {
	rootCmd.AddCommand(notificationsCmd)
	notificationsCmd.AddCommand(notificationsReadCmd)
	addConfigFlag(notificationsReadCmd)
}

func runNotificationsRead(cmd *cobra.Command, args []string) error {
	d, _, _, err := newDashboard(cmd, compliancepulse.WithAutoStart(false))
	if err != nil {
		return err
	}
	defer d.Close()

	id := args[0]
	if err := d.MarkNotificationRead(cmd.Context(), id); err != nil {
		return fmt.Errorf("failed to mark notification %s read: %w", id, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Notification %s marked read\n", id)
	return nil
}
