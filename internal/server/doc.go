// Package server provides the HTTP relay for a compliance dashboard.
//
// The relay re-exposes the client-side channel store to browsers and other
// processes:
//
//   - Relay page: serves the embedded HTML page at "/"
//   - REST API: last channel values at "/api/snapshot" and "/api/channels/{name}"
//   - Server-Sent Events: every publish, as it happens, at "/api/sse"
//   - Controls: manual refresh and polling start/stop/interval
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
//
// Users of the compliancepulse library should not need to interact with this
// package directly. The server is started by [compliancepulse.Dashboard.Serve].
package server
