package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jpalmerr/compliancepulse"
	"github.com/spf13/cobra"
)

// watchCmd streams channel updates to stdout.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream channel updates to stdout",
	Long: `Poll the compliance backend and print every update as one line.

By default every enabled data channel plus connectivity and error updates
are printed. Use --channel to narrow the stream and --json for
machine-readable output.

Example:
  compliancepulse watch -c config.yaml
  compliancepulse watch -c config.yaml --channel notifications --channel error
  compliancepulse watch -c config.yaml --json | jq .`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	addConfigFlag(watchCmd)

	watchCmd.Flags().StringSlice("channel", nil, "channel to print (repeatable, default all)")
	watchCmd.Flags().Bool("json", false, "print updates as JSON lines")
}

func runWatch(cmd *cobra.Command, args []string) error {
	names, _ := cmd.Flags().GetStringSlice("channel")
	asJSON, _ := cmd.Flags().GetBool("json")

	channels := make([]compliancepulse.Channel, 0, len(names))
	for _, name := range names {
		ch, ok := compliancepulse.ParseChannel(name)
		if !ok {
			return fmt.Errorf("unknown channel %q", name)
		}
		channels = append(channels, ch)
	}

	// start manually so the first tick reaches our listeners
	d, _, logger, err := newDashboard(cmd, compliancepulse.WithAutoStart(false))
	if err != nil {
		return err
	}
	defer d.Close()

	if len(channels) == 0 {
		channels = append(d.Channels(), compliancepulse.ChannelConnectivity, compliancepulse.ChannelError)
	}

	w := &updateWriter{out: cmd.OutOrStdout(), json: asJSON}
	for _, ch := range channels {
		dispose := d.Subscribe(ch, w.write)
		defer dispose()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d.StartPolling(ctx)
	logger.Debug("watching", "channels", len(channels))

	<-ctx.Done()
	return nil
}

// updateWriter prints updates one per line. Listeners for different channels
// may run concurrently, so writes are serialized.
type updateWriter struct {
	mu   sync.Mutex
	out  io.Writer
	json bool
}

func (w *updateWriter) write(u compliancepulse.Update) {
	line := w.format(u)

	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, line)
}

func (w *updateWriter) format(u compliancepulse.Update) string {
	if w.json {
		data, err := json.Marshal(u)
		if err != nil {
			return fmt.Sprintf(`{"channel":%q,"error":%q}`, u.Channel, err.Error())
		}
		return string(data)
	}

	stamp := u.UpdatedAt.Format(time.TimeOnly)

	switch v := u.Value.(type) {
	case compliancepulse.ConnectivityState:
		if !v.IsConnected {
			return fmt.Sprintf("%s %-13s disconnected: %s", stamp, u.Channel, v.Error)
		}
		status := v.BackendStatus
		if status == "" {
			status = "unknown"
		}
		return fmt.Sprintf("%s %-13s connected backend=%s latency=%dms", stamp, u.Channel, status, v.ResponseTimeMs)

	case compliancepulse.ErrorEvent:
		if v.StatusCode != 0 {
			return fmt.Sprintf("%s %-13s %s %s (HTTP %d): %s", stamp, u.Channel, v.Kind, v.Channel, v.StatusCode, v.Message)
		}
		return fmt.Sprintf("%s %-13s %s %s: %s", stamp, u.Channel, v.Kind, v.Channel, v.Message)

	case json.RawMessage:
		return fmt.Sprintf("%s %-13s %s", stamp, u.Channel, humanize.Bytes(uint64(len(v))))

	default:
		return fmt.Sprintf("%s %-13s %v", stamp, u.Channel, v)
	}
}
