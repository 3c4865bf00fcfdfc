package poller

import (
	"errors"
	"fmt"
	"time"

	"github.com/jpalmerr/compliancepulse/internal/store"
)

// ErrInvalidPayload is wrapped by [FetchError] when a backend response is
// not valid JSON.
var ErrInvalidPayload = errors.New("invalid JSON payload")

// ErrClosed is returned by operations on a closed [Scheduler].
var ErrClosed = errors.New("scheduler closed")

// ErrRefreshThrottled is returned when manual refreshes exceed the
// configured rate.
var ErrRefreshThrottled = errors.New("refresh throttled")

// ConnectivityError reports that the backend could not be reached.
type ConnectivityError struct {
	ResponseTime time.Duration
	StatusCode   int
	Err          error
}

func (e *ConnectivityError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend unreachable: health check returned %d", e.StatusCode)
	}
	return fmt.Sprintf("backend unreachable: %v", e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// FetchError reports that a single channel endpoint failed.
type FetchError struct {
	Channel    store.Channel
	StatusCode int
	Detail     string
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Detail != "":
		return fmt.Sprintf("fetch %s: status %d: %s", e.Channel, e.StatusCode, e.Detail)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: status %d", e.Channel, e.StatusCode)
	default:
		return fmt.Sprintf("fetch %s: %v", e.Channel, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// ErrorKind classifies values published on the error channel.
type ErrorKind string

const (
	// ErrorKindConnectivity marks a failed connectivity probe.
	ErrorKindConnectivity ErrorKind = "connectivity"

	// ErrorKindFetch marks a failed channel fetch.
	ErrorKindFetch ErrorKind = "fetch"
)

// ErrorEvent is the value published on the error channel.
type ErrorEvent struct {
	// Channel is the channel whose refresh failed. For connectivity
	// failures it is the connectivity channel.
	Channel store.Channel `json:"channel"`

	// Kind classifies the failure.
	Kind ErrorKind `json:"kind"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// StatusCode is the HTTP status returned, if any.
	StatusCode int `json:"status_code,omitempty"`

	// At is when the failure was observed.
	At time.Time `json:"at"`

	// Err is the underlying error for errors.As/Is inspection.
	Err error `json:"-"`
}

func (e ErrorEvent) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e ErrorEvent) Unwrap() error { return e.Err }

// newErrorEvent builds an ErrorEvent from a typed poller error.
func newErrorEvent(err error, at time.Time) ErrorEvent {
	ev := ErrorEvent{Message: err.Error(), At: at, Err: err}

	var fetchErr *FetchError
	var connErr *ConnectivityError
	switch {
	case errors.As(err, &fetchErr):
		ev.Channel = fetchErr.Channel
		ev.Kind = ErrorKindFetch
		ev.StatusCode = fetchErr.StatusCode
	case errors.As(err, &connErr):
		ev.Channel = store.ChannelConnectivity
		ev.Kind = ErrorKindConnectivity
		ev.StatusCode = connErr.StatusCode
	}
	return ev
}
