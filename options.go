package compliancepulse

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// dashConfig holds mutable state during Dashboard construction.
type dashConfig struct {
	backendURL      string
	headers         map[string]string
	pollingInterval time.Duration
	fetchTimeout    time.Duration
	channels        map[Channel]bool
	autoStart       bool
	offlineFallback bool
	fixtures        map[Channel]json.RawMessage
	timelineDays    int
	healthPath      string
	refreshLimit    rate.Limit
	refreshBurst    int
	port            int
	title           string
	logger          *slog.Logger
	clock           clockwork.Clock
}

// Option is a function that configures a [Dashboard] during construction.
//
// Options return an error if validation fails; [New] stops at the first
// failing option.
type Option func(*dashConfig) error

// WithBackendURL sets the base URL of the compliance backend.
//
// Required. Every channel path is resolved against it, so a URL with a path
// prefix (https://example.com/compliance) is supported.
//
// Returns an error if the URL is empty.
func WithBackendURL(url string) Option {
	return func(cfg *dashConfig) error {
		if url == "" {
			return errors.New("backend url cannot be empty")
		}
		cfg.backendURL = url
		return nil
	}
}

// WithHeaders adds HTTP headers sent with every backend request.
//
// Headers are provided as key-value pairs:
//
//	compliancepulse.WithHeaders("Authorization", "Bearer token", "X-Tenant", "acme")
//
// Returns an error if an odd number of arguments is provided.
func WithHeaders(keyValues ...string) Option {
	return func(cfg *dashConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithHeaders requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.headers[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithPollingInterval sets the period between scheduled refreshes.
//
// Values below [MinPollingInterval] are raised to it. Defaults to 30 seconds.
//
// Returns an error if the duration is zero or negative.
func WithPollingInterval(d time.Duration) Option {
	return func(cfg *dashConfig) error {
		if d <= 0 {
			return errors.New("polling interval must be positive")
		}
		cfg.pollingInterval = d
		return nil
	}
}

// WithFetchTimeout bounds every backend request, including the health probe.
// Defaults to 10 seconds.
//
// Returns an error if the duration is zero or negative.
func WithFetchTimeout(d time.Duration) Option {
	return func(cfg *dashConfig) error {
		if d <= 0 {
			return errors.New("fetch timeout must be positive")
		}
		cfg.fetchTimeout = d
		return nil
	}
}

// WithChannel enables or disables fetching of a single data channel.
// All data channels are enabled by default.
//
// Returns an error if ch is not one of [DataChannels].
func WithChannel(ch Channel, enabled bool) Option {
	return func(cfg *dashConfig) error {
		if !isDataChannel(ch) {
			return fmt.Errorf("unknown data channel: %q", ch)
		}
		cfg.channels[ch] = enabled
		return nil
	}
}

// WithChannels enables exactly the given data channels and disables the rest.
//
// Example:
//
//	d, err := compliancepulse.New(
//	    compliancepulse.WithBackendURL(url),
//	    compliancepulse.WithChannels(compliancepulse.ChannelOverview, compliancepulse.ChannelNotifications),
//	)
//
// Returns an error if any channel is not one of [DataChannels].
func WithChannels(channels ...Channel) Option {
	return func(cfg *dashConfig) error {
		for _, ch := range channels {
			if !isDataChannel(ch) {
				return fmt.Errorf("unknown data channel: %q", ch)
			}
		}
		for _, ch := range DataChannels() {
			cfg.channels[ch] = false
		}
		for _, ch := range channels {
			cfg.channels[ch] = true
		}
		return nil
	}
}

// WithAutoStart controls whether polling starts as soon as the dashboard is
// created. Defaults to true.
func WithAutoStart(enabled bool) Option {
	return func(cfg *dashConfig) error {
		cfg.autoStart = enabled
		return nil
	}
}

// WithOfflineFallback enables offline mode. While the backend is unreachable
// the given fixtures are published for enabled channels and
// [Snapshot.Offline] reports true.
//
// Each fixture must be valid JSON. Returns an error otherwise, or if a key is
// not a data channel.
func WithOfflineFallback(fixtures map[Channel]json.RawMessage) Option {
	return func(cfg *dashConfig) error {
		for ch, raw := range fixtures {
			if !isDataChannel(ch) {
				return fmt.Errorf("offline fixture for unknown data channel: %q", ch)
			}
			if !json.Valid(raw) {
				return fmt.Errorf("offline fixture for %s is not valid JSON", ch)
			}
			cfg.fixtures[ch] = append(json.RawMessage(nil), raw...)
		}
		cfg.offlineFallback = true
		return nil
	}
}

// WithTimelineDays sets the window requested from the timeline endpoint.
// Defaults to 30.
//
// Returns an error if days is zero or negative.
func WithTimelineDays(days int) Option {
	return func(cfg *dashConfig) error {
		if days <= 0 {
			return errors.New("timeline days must be positive")
		}
		cfg.timelineDays = days
		return nil
	}
}

// WithHealthPath overrides the path probed for connectivity. Defaults to
// "/health".
func WithHealthPath(path string) Option {
	return func(cfg *dashConfig) error {
		if path == "" {
			return errors.New("health path cannot be empty")
		}
		cfg.healthPath = path
		return nil
	}
}

// WithRefreshLimit sets how often [Dashboard.Refresh] may be called.
//
// perSecond is the sustained rate and burst the number of refreshes allowed
// back to back. Defaults to 1 per second with a burst of 5. Refreshes beyond
// the limit return [ErrRefreshThrottled].
//
// Returns an error if either value is zero or negative.
func WithRefreshLimit(perSecond float64, burst int) Option {
	return func(cfg *dashConfig) error {
		if perSecond <= 0 {
			return errors.New("refresh rate must be positive")
		}
		if burst <= 0 {
			return errors.New("refresh burst must be positive")
		}
		cfg.refreshLimit = rate.Limit(perSecond)
		cfg.refreshBurst = burst
		return nil
	}
}

// WithPort sets the HTTP port used by [Dashboard.Serve]. Defaults to 8080.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *dashConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithTitle sets the title shown by the relay page.
//
// If not specified, defaults to "Compliance Dashboard".
func WithTitle(title string) Option {
	return func(cfg *dashConfig) error {
		cfg.title = title
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the dashboard and everything it
// owns. If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *dashConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithClock replaces the time source used for the polling timer and
// timestamps. Intended for tests driving a [clockwork.FakeClock].
//
// Returns an error if the clock is nil.
func WithClock(clock clockwork.Clock) Option {
	return func(cfg *dashConfig) error {
		if clock == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.clock = clock
		return nil
	}
}

func isDataChannel(ch Channel) bool {
	for _, c := range DataChannels() {
		if c == ch {
			return true
		}
	}
	return false
}
