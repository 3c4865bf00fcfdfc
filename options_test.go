package compliancepulse

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newOffline builds a dashboard that never polls, for option tests.
func newOffline(opts ...Option) (*Dashboard, error) {
	base := []Option{WithBackendURL("http://localhost:8000"), WithAutoStart(false), WithLogger(testLogger())}
	return New(append(base, opts...)...)
}

// mustOffline is newOffline for option sets that are expected to be valid.
// The dashboard is closed on test cleanup.
func mustOffline(t *testing.T, opts ...Option) *Dashboard {
	t.Helper()
	d, err := newOffline(opts...)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d
}

func TestNew_Valid(t *testing.T) {
	d := mustOffline(t)
	assert.Len(t, d.Channels(), 5)
}

func TestNew_NoBackendURL(t *testing.T) {
	_, err := New(WithAutoStart(false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend url is required")
}

func TestNew_InvalidBackendURL(t *testing.T) {
	for _, url := range []string{"localhost:8000", "ftp://example.com", "http://"} {
		_, err := New(WithBackendURL(url), WithAutoStart(false))
		assert.Error(t, err, "New(%q)", url)
	}
}

func TestNew_Defaults(t *testing.T) {
	d := mustOffline(t)

	assert.Equal(t, 8080, d.Port())
	assert.Equal(t, 30*time.Second, d.PollingState().Interval)
	assert.Equal(t, 10*time.Second, d.fetchTimeout)
	assert.Equal(t, "Compliance Dashboard", d.title)
	assert.False(t, d.PollingState().Running, "polling should not run with auto start disabled")
}

func TestWithPollingInterval(t *testing.T) {
	d := mustOffline(t, WithPollingInterval(45*time.Second))
	assert.Equal(t, 45*time.Second, d.PollingState().Interval)
}

func TestWithPollingInterval_ClampedToFloor(t *testing.T) {
	d := mustOffline(t, WithPollingInterval(500*time.Millisecond))
	assert.Equal(t, MinPollingInterval, d.PollingState().Interval)
}

func TestWithPollingInterval_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
	}{
		{"zero", 0},
		{"negative", -1 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newOffline(WithPollingInterval(tt.interval))
			assert.Error(t, err)
		})
	}
}

func TestWithFetchTimeout_Invalid(t *testing.T) {
	_, err := newOffline(WithFetchTimeout(0))
	assert.Error(t, err)
}

func TestWithHeaders_OddArgs(t *testing.T) {
	_, err := newOffline(WithHeaders("Authorization"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "even number")
}

func TestWithChannel(t *testing.T) {
	d := mustOffline(t, WithChannel(ChannelTimeline, false), WithChannel(ChannelDocuments, false))

	want := []Channel{ChannelOverview, ChannelNotifications, ChannelAnalytics}
	assert.Equal(t, want, d.Channels())
}

func TestWithChannel_NotDataChannel(t *testing.T) {
	for _, ch := range []Channel{ChannelConnectivity, ChannelError, "billing"} {
		_, err := newOffline(WithChannel(ch, true))
		assert.Error(t, err, "WithChannel(%q)", ch)
	}
}

func TestWithChannels(t *testing.T) {
	d := mustOffline(t, WithChannels(ChannelAnalytics, ChannelOverview))

	// display order is fixed regardless of argument order
	assert.Equal(t, []Channel{ChannelOverview, ChannelAnalytics}, d.Channels())
}

func TestWithOfflineFallback_InvalidFixture(t *testing.T) {
	_, err := newOffline(WithOfflineFallback(map[Channel]json.RawMessage{
		ChannelOverview: json.RawMessage(`{not json`),
	}))
	assert.Error(t, err, "invalid JSON fixture")

	_, err = newOffline(WithOfflineFallback(map[Channel]json.RawMessage{
		ChannelError: json.RawMessage(`{}`),
	}))
	assert.Error(t, err, "fixture on a non-data channel")
}

func TestWithOfflineFallback_CopiesFixtures(t *testing.T) {
	raw := json.RawMessage(`{"a":1}`)
	opt := WithOfflineFallback(map[Channel]json.RawMessage{ChannelOverview: raw})

	cfg := &dashConfig{fixtures: make(map[Channel]json.RawMessage)}
	require.NoError(t, opt(cfg))
	raw[2] = 'b'

	assert.Equal(t, `{"a":1}`, string(cfg.fixtures[ChannelOverview]), "fixture aliased caller memory")
	assert.True(t, cfg.offlineFallback)
}

func TestWithTimelineDays_Invalid(t *testing.T) {
	_, err := newOffline(WithTimelineDays(0))
	assert.Error(t, err)
}

func TestWithHealthPath_Empty(t *testing.T) {
	_, err := newOffline(WithHealthPath(""))
	assert.Error(t, err)
}

func TestWithRefreshLimit_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		rate  float64
		burst int
	}{
		{"zero rate", 0, 1},
		{"negative rate", -1, 1},
		{"zero burst", 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newOffline(WithRefreshLimit(tt.rate, tt.burst))
			assert.Error(t, err)
		})
	}
}

func TestWithPort(t *testing.T) {
	d := mustOffline(t, WithPort(9090))
	assert.Equal(t, 9090, d.Port())
}

func TestWithPort_Invalid(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"zero", 0},
		{"negative", -1},
		{"too high", 65536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newOffline(WithPort(tt.port))
			assert.Error(t, err)
		})
	}
}

func TestWithTitle(t *testing.T) {
	d := mustOffline(t, WithTitle("SOC 2 Readiness"))
	assert.Equal(t, "SOC 2 Readiness", d.title)
}

func TestWithLogger_Nil(t *testing.T) {
	_, err := New(WithBackendURL("http://localhost:8000"), WithLogger(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logger cannot be nil")
}

func TestWithClock_Nil(t *testing.T) {
	_, err := New(WithBackendURL("http://localhost:8000"), WithClock(nil))
	assert.Error(t, err)
}

func TestParseChannel(t *testing.T) {
	for _, ch := range DataChannels() {
		got, ok := ParseChannel(string(ch))
		assert.True(t, ok, "ParseChannel(%q)", ch)
		assert.Equal(t, ch, got)
	}
	_, ok := ParseChannel("billing")
	assert.False(t, ok)

	// callers cannot mutate the package-level order
	chs := DataChannels()
	chs[0] = "mutated"
	assert.Equal(t, ChannelOverview, DataChannels()[0], "DataChannels() returned shared slice")
}
