// Package store provides the channel registry for dashboard data.
//
// This package is internal to compliancepulse and holds the latest value of
// every named channel ("overview", "documents", "notifications", "timeline",
// "analytics", "connectivity", "error") together with the listeners
// registered on it.
//
// The main components are:
//
//   - [Store]: Interface defining publish, subscribe, and cached reads
//   - [MemoryStore]: In-memory implementation of Store
//   - [Update]: A single publication on a channel
//
// Dispatch iterates a copy of the listener list, so listeners may subscribe
// or unsubscribe from inside a callback. A panicking listener is recovered
// and logged; the remaining listeners still run.
//
// Users of the compliancepulse library should not need to interact with this
// package directly. Subscriptions are made through [compliancepulse.Dashboard].
package store
