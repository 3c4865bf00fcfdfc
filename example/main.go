// Command example runs a mock compliance backend and a dashboard against it,
// printing every snapshot change and serving the relay on :8080.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/compliancepulse"
	"github.com/jpalmerr/compliancepulse/example/mockbackend"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(logger); err != nil {
		logger.Error("example failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// start mock backend on a free port
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	backend := &http.Server{
		Handler:           mockbackend.New(logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := backend.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("mock backend error", "error", err)
		}
	}()
	defer backend.Close()

	d, err := compliancepulse.New(
		compliancepulse.WithBackendURL("http://"+ln.Addr().String()),
		compliancepulse.WithPollingInterval(5*time.Second),
		compliancepulse.WithOfflineFallback(map[compliancepulse.Channel]json.RawMessage{
			compliancepulse.ChannelOverview: json.RawMessage(`{"status":"offline","data":{"compliance_score":null}}`),
		}),
		compliancepulse.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create dashboard: %w", err)
	}
	defer d.Close()

	d.OnChange(func(s compliancepulse.Snapshot) {
		switch {
		case s.Error != nil:
			fmt.Printf("error: %v\n", s.Error)
		case s.IsLoading:
			fmt.Println("loading...")
		case s.Connectivity != nil:
			fmt.Printf("connected=%t offline=%t latency=%dms updated=%s\n",
				s.Connectivity.IsConnected, s.Offline, s.Connectivity.ResponseTimeMs,
				s.LastUpdated.Format(time.TimeOnly))
		}
	})

	fmt.Println()
	fmt.Println("  Compliance dashboard demo")
	fmt.Println()
	fmt.Println("  Relay:   http://localhost:8080")
	fmt.Printf("  Backend: http://%s\n", ln.Addr())
	fmt.Println()
	fmt.Println("  The backend degrades and drops out every minute or so.")
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return d.Serve(ctx)
}
