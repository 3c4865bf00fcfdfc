package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

// serveCmd starts polling and the relay server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start polling and the relay server",
	Long: `Start polling the compliance backend and serve the relay.

The server will:
  - Load configuration from the specified YAML file
  - Poll every enabled channel on the configured interval
  - Serve the relay page, JSON API, and SSE stream on the configured port

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  compliancepulse serve -c config.yaml
  compliancepulse serve --config /etc/compliancepulse/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addConfigFlag(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	d, cfg, logger, err := newDashboard(cmd)
	if err != nil {
		return err
	}

	logger.Info("starting server",
		"backend", cfg.BackendURL,
		"port", cfg.Relay.Port,
		"poll_interval", cfg.PollInterval.Duration().String(),
		"channels", len(d.Channels()),
	)

	// cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- d.Serve(ctx)
	}()

	var serveErr error
	select {
	case serveErr = <-errChan:
	case <-ctx.Done():
		select {
		case serveErr = <-errChan:
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
		}
	}

	d.Close()
	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	logger.Info("shutdown complete")
	return nil
}
