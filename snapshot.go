package compliancepulse

import (
	"encoding/json"
	"time"
)

// Snapshot is the aggregated view of every channel at one moment.
//
// Payload fields hold the backend JSON exactly as received and must be
// treated as read-only. A nil payload means the channel has not produced a
// value yet or is disabled.
type Snapshot struct {
	Overview      json.RawMessage `json:"overview,omitempty"`
	Documents     json.RawMessage `json:"documents,omitempty"`
	Notifications json.RawMessage `json:"notifications,omitempty"`
	Timeline      json.RawMessage `json:"timeline,omitempty"`
	Analytics     json.RawMessage `json:"analytics,omitempty"`

	// Connectivity is the most recent probe result, nil before the first probe.
	Connectivity *ConnectivityState `json:"connectivity,omitempty"`

	// IsLoading is true until every enabled data channel has produced a value.
	IsLoading bool `json:"is_loading"`

	// LastUpdated is the latest publish time across enabled data channels.
	LastUpdated time.Time `json:"last_updated"`

	// Error is the most recent failure. It is cleared by the next successful
	// publish on any channel; a connectivity result counts as successful only
	// when connected, and fixture payloads never clear it.
	Error *ErrorEvent `json:"error,omitempty"`

	// Offline is true while fixture payloads stand in for an unreachable backend.
	Offline bool `json:"offline"`
}

// Payload returns the payload field for a data channel.
func (s Snapshot) Payload(ch Channel) json.RawMessage {
	switch ch {
	case ChannelOverview:
		return s.Overview
	case ChannelDocuments:
		return s.Documents
	case ChannelNotifications:
		return s.Notifications
	case ChannelTimeline:
		return s.Timeline
	case ChannelAnalytics:
		return s.Analytics
	default:
		return nil
	}
}

// aggregate folds channel updates into a Snapshot. It is not safe for
// concurrent use; Dashboard guards it with its mutex.
type aggregate struct {
	enabled  []Channel
	fallback bool

	data         map[Channel]json.RawMessage
	updated      map[Channel]time.Time
	connectivity *ConnectivityState
	err          *ErrorEvent
	offline      bool
}

func newAggregate(enabled []Channel, fallback bool) *aggregate {
	return &aggregate{
		enabled:  enabled,
		fallback: fallback,
		data:     make(map[Channel]json.RawMessage, len(enabled)),
		updated:  make(map[Channel]time.Time, len(enabled)),
	}
}

// apply folds u into the aggregate and reports whether anything changed.
// Values of an unexpected type are ignored.
func (a *aggregate) apply(u Update) bool {
	switch u.Channel {
	case ChannelConnectivity:
		state, ok := u.Value.(ConnectivityState)
		if !ok {
			return false
		}
		a.connectivity = &state
		a.offline = a.fallback && !state.IsConnected
		if state.IsConnected {
			a.err = nil
		}
	case ChannelError:
		ev, ok := u.Value.(ErrorEvent)
		if !ok {
			return false
		}
		a.err = &ev
	default:
		raw, ok := u.Value.(json.RawMessage)
		if !ok {
			return false
		}
		a.data[u.Channel] = raw
		a.updated[u.Channel] = u.UpdatedAt
		if !a.offline {
			a.err = nil
		}
	}
	return true
}

func (a *aggregate) snapshot() Snapshot {
	s := Snapshot{
		Overview:      a.data[ChannelOverview],
		Documents:     a.data[ChannelDocuments],
		Notifications: a.data[ChannelNotifications],
		Timeline:      a.data[ChannelTimeline],
		Analytics:     a.data[ChannelAnalytics],
		Offline:       a.offline,
	}
	if a.connectivity != nil {
		c := *a.connectivity
		s.Connectivity = &c
	}
	if a.err != nil {
		e := *a.err
		s.Error = &e
	}
	for _, ch := range a.enabled {
		at, ok := a.updated[ch]
		if !ok {
			s.IsLoading = true
			continue
		}
		if at.After(s.LastUpdated) {
			s.LastUpdated = at
		}
	}
	return s
}
