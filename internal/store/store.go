package store

import "time"

// Channel identifies a named category of dashboard data.
//
// Channel is a string type so it serialises naturally in JSON (SSE payloads,
// the relay API) and reads well in logs.
type Channel string

const (
	// ChannelOverview carries dashboard summary statistics.
	ChannelOverview Channel = "overview"

	// ChannelDocuments carries the processed document list.
	ChannelDocuments Channel = "documents"

	// ChannelNotifications carries user notifications.
	ChannelNotifications Channel = "notifications"

	// ChannelTimeline carries processing timeline events.
	ChannelTimeline Channel = "timeline"

	// ChannelAnalytics carries chart and metric data.
	ChannelAnalytics Channel = "analytics"

	// ChannelConnectivity carries the result of each connectivity probe.
	ChannelConnectivity Channel = "connectivity"

	// ChannelError carries recoverable polling failures.
	ChannelError Channel = "error"
)

// DataChannels lists the channels fetched from the backend on every tick,
// in a stable order.
var DataChannels = []Channel{
	ChannelOverview,
	ChannelDocuments,
	ChannelNotifications,
	ChannelTimeline,
	ChannelAnalytics,
}

// AllChannels lists every known channel, data channels first.
var AllChannels = append(append([]Channel(nil), DataChannels...), ChannelConnectivity, ChannelError)

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	for _, known := range AllChannels {
		if c == known {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer.
func (c Channel) String() string {
	return string(c)
}

// ParseChannel converts a name into a [Channel], reporting whether it is known.
func ParseChannel(name string) (Channel, bool) {
	c := Channel(name)
	return c, c.Valid()
}

// Update is a single publication on a channel.
//
// Value is opaque to the store. Data channels carry the backend payload
// unmodified (json.RawMessage); the connectivity and error channels carry
// structured values defined by the poller.
type Update struct {
	// Channel is the channel the value was published on.
	Channel Channel `json:"channel"`

	// Value is the published value.
	Value any `json:"value"`

	// UpdatedAt is when the value was published. Zero means never.
	UpdatedAt time.Time `json:"updated_at"`
}

// Listener receives updates for one channel.
type Listener func(Update)

// Store defines the channel registry used by the scheduler and the facade.
//
// Store implementations must be safe for concurrent access. Listeners are
// invoked synchronously from the publishing goroutine.
type Store interface {
	// Publish stores value as the channel's latest and notifies its listeners.
	Publish(ch Channel, value any)

	// Subscribe registers fn for ch and returns an idempotent disposer.
	Subscribe(ch Channel, fn Listener) func()

	// Last returns the cached latest update for ch.
	Last(ch Channel) (Update, bool)

	// Count returns the number of live subscriptions across all channels.
	Count() int
}
