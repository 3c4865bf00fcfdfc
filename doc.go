// Package compliancepulse keeps a client-side view of a compliance dashboard
// backend fresh.
//
// A [Dashboard] probes the backend's health endpoint, fetches five data
// channels (overview, documents, notifications, timeline, analytics) on a
// single shared timer, and fans every result out to subscribers. Consumers
// either read the aggregated [Snapshot] or subscribe to individual channels.
//
// # Quick Start
//
//	d, err := compliancepulse.New(
//	    compliancepulse.WithBackendURL("http://localhost:8000"),
//	)
//	if err != nil {
//	    return err
//	}
//	defer d.Close()
//
//	d.OnChange(func(s compliancepulse.Snapshot) {
//	    if s.Error != nil {
//	        log.Printf("dashboard: %v", s.Error)
//	    }
//	})
//
// # Configuration
//
// Dashboard uses the functional options pattern:
//
//	d, err := compliancepulse.New(
//	    compliancepulse.WithBackendURL("https://compliance.example.com"),
//	    compliancepulse.WithHeaders("Authorization", "Bearer "+token),
//	    compliancepulse.WithPollingInterval(15*time.Second),
//	    compliancepulse.WithChannel(compliancepulse.ChannelAnalytics, false),
//	    compliancepulse.WithOfflineFallback(fixtures),
//	)
//
// The same settings can be loaded from YAML with the config package.
//
// # Polling
//
// Every tick first probes connectivity and publishes a [ConnectivityState].
// If the backend is reachable, every enabled channel is fetched concurrently
// and each result is published independently: a failing channel publishes an
// [ErrorEvent] on [ChannelError] and never blocks the others. If the backend
// is unreachable, the fetches are skipped for that tick and one connectivity
// [ErrorEvent] is published instead. Failures are retried on the next tick;
// there is no backoff.
//
// The interval is never below [MinPollingInterval]. [Dashboard.Refresh] runs
// a tick immediately without disturbing the timer's phase.
//
// # Relay
//
// [Dashboard.Serve] exposes the live channels over HTTP, including a
// Server-Sent Events stream and polling controls, for browsers and other
// processes.
//
// # Architecture
//
//   - internal/store: channel registry with synchronous fan-out
//   - internal/poller: backend client, connectivity prober, and polling scheduler
//   - internal/server: HTTP relay with REST API and Server-Sent Events
//   - dashboard: embedded relay page
//   - config: YAML configuration
//
// The internal packages are not part of the public API and may change
// without notice.
package compliancepulse
