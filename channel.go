package compliancepulse

import (
	"github.com/jpalmerr/compliancepulse/internal/poller"
	"github.com/jpalmerr/compliancepulse/internal/store"
)

// Channel identifies a named category of dashboard data.
//
// The five data channels ([ChannelOverview], [ChannelDocuments],
// [ChannelNotifications], [ChannelTimeline], [ChannelAnalytics]) are fetched
// from the backend. [ChannelConnectivity] carries a [ConnectivityState] after
// every probe and [ChannelError] carries an [ErrorEvent] for every
// recoverable failure.
type Channel = store.Channel

const (
	// ChannelOverview carries the compliance score summary from
	// /api/dashboard/overview.
	ChannelOverview = store.ChannelOverview

	// ChannelDocuments carries the policy document list from
	// /api/dashboard/documents.
	ChannelDocuments = store.ChannelDocuments

	// ChannelNotifications carries the notification feed from
	// /api/dashboard/notifications.
	ChannelNotifications = store.ChannelNotifications

	// ChannelTimeline carries the compliance history from
	// /api/dashboard/timeline, limited by [WithTimelineDays].
	ChannelTimeline = store.ChannelTimeline

	// ChannelAnalytics carries trend metrics from /api/dashboard/analytics.
	ChannelAnalytics = store.ChannelAnalytics

	// ChannelConnectivity carries a [ConnectivityState] after every probe.
	ChannelConnectivity = store.ChannelConnectivity

	// ChannelError carries an [ErrorEvent] for every recoverable failure.
	ChannelError = store.ChannelError
)

// DataChannels returns the channels fetched from the backend, in display order.
func DataChannels() []Channel {
	return append([]Channel(nil), store.DataChannels...)
}

// ParseChannel converts a channel name, reporting whether it is known.
func ParseChannel(name string) (Channel, bool) {
	return store.ParseChannel(name)
}

// Update is a single publication on a channel.
//
// For data channels Value is the backend payload as [encoding/json.RawMessage],
// passed through unmodified. For [ChannelConnectivity] it is a
// [ConnectivityState]; for [ChannelError] it is an [ErrorEvent].
type Update = store.Update

// Listener receives updates for one channel. Listeners run synchronously on
// the polling goroutine and must not block. A listener may call
// [Dashboard.Close].
type Listener = store.Listener

// ConnectivityState is the outcome of one backend health probe.
type ConnectivityState = poller.ConnectivityState

// ErrorEvent describes a recoverable polling failure.
type ErrorEvent = poller.ErrorEvent

// ErrorKind classifies an [ErrorEvent].
type ErrorKind = poller.ErrorKind

const (
	// ErrorKindConnectivity marks a failed health probe. Data fetches were
	// skipped for that tick.
	ErrorKindConnectivity = poller.ErrorKindConnectivity

	// ErrorKindFetch marks a single channel whose request failed. Other
	// channels in the same tick are unaffected.
	ErrorKindFetch = poller.ErrorKindFetch
)

// ConnectivityError reports that the backend could not be reached.
// It is carried by [ErrorEvent.Err] for connectivity failures.
type ConnectivityError = poller.ConnectivityError

// ChannelFetchError reports that one channel endpoint returned a non-success
// status or an invalid payload. It is carried by [ErrorEvent.Err] for fetch
// failures.
type ChannelFetchError = poller.FetchError

// CallbackError describes a listener that panicked. It is logged, never
// returned.
type CallbackError = store.CallbackError

// PollingState reports whether polling is running and at what interval.
type PollingState = poller.State

// MinPollingInterval is the floor applied to every polling interval.
const MinPollingInterval = poller.MinInterval

var (
	// ErrClosed is returned by operations on a closed [Dashboard].
	ErrClosed = poller.ErrClosed

	// ErrRefreshThrottled is returned by [Dashboard.Refresh] when manual
	// refreshes exceed the configured rate.
	ErrRefreshThrottled = poller.ErrRefreshThrottled

	// ErrInvalidPayload is wrapped by [ChannelFetchError] when the backend
	// returns a body that is not valid JSON.
	ErrInvalidPayload = poller.ErrInvalidPayload
)
