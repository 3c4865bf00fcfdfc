// Package poller keeps dashboard channels in sync with the analysis backend.
//
// This package is internal to compliancepulse and handles the periodic
// polling of the backend. It owns the single polling timer and fans each
// tick out to the backend endpoints concurrently.
//
// The main components are:
//
//   - [Client]: HTTP client bound to one backend, with timeout and size limits
//   - [Prober]: Connectivity check against the backend health endpoint
//   - [Scheduler]: Start/stop state machine driving ticks on a shared timer
//   - [Source]: Mapping from a data channel to a backend endpoint
//
// Failures are never fatal. A failed probe or fetch is published to the
// error channel and polling continues at the configured interval.
//
// Users of the compliancepulse library should not need to interact with this
// package directly. Configuration is done through the root package.
package poller
