package poller

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

const defaultHealthPath = "/health"

// ConnectivityState is the value published on the connectivity channel.
type ConnectivityState struct {
	// IsConnected is true when the health endpoint answered with a 2xx status.
	IsConnected bool `json:"is_connected"`

	// ResponseTimeMs is the probe latency in milliseconds.
	ResponseTimeMs int64 `json:"response_time_ms"`

	// Error describes why the probe failed. Empty when connected.
	Error string `json:"error,omitempty"`

	// BackendStatus is the backend's self-reported health, normalised
	// ("healthy", "degraded", or the raw lowercase value). Empty if the
	// health body carried no status field.
	BackendStatus string `json:"backend_status,omitempty"`

	// CheckedAt is when the probe completed.
	CheckedAt time.Time `json:"checked_at"`
}

// Prober checks backend reachability.
type Prober struct {
	client  *Client
	path    string
	timeout time.Duration
	clock   clockwork.Clock
}

// NewProber creates a [Prober] hitting the backend health endpoint.
// An empty path defaults to "/health".
func NewProber(client *Client, path string, timeout time.Duration, clock clockwork.Clock) *Prober {
	if path == "" {
		path = defaultHealthPath
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Prober{client: client, path: path, timeout: timeout, clock: clock}
}

// Probe performs one health check. It never fails: transport and status
// errors are reported through the returned state.
func (p *Prober) Probe(ctx context.Context) ConnectivityState {
	state, _ := p.probe(ctx)
	return state
}

// probe returns the state plus the typed error behind a disconnect.
func (p *Prober) probe(ctx context.Context) (ConnectivityState, error) {
	resp := p.client.Do(ctx, http.MethodGet, p.path, nil, p.timeout)

	state := ConnectivityState{
		ResponseTimeMs: resp.Latency.Milliseconds(),
		CheckedAt:      p.clock.Now(),
	}

	if !resp.OK() {
		err := &ConnectivityError{
			ResponseTime: resp.Latency,
			StatusCode:   resp.StatusCode,
			Err:          resp.Error,
		}
		if resp.Error == nil {
			err.Err = errUnexpectedStatus(resp.StatusCode)
		}
		state.Error = err.Error()
		return state, err
	}

	state.IsConnected = true
	state.BackendStatus = backendStatus(resp.Body)
	return state, nil
}

// backendStatus extracts and normalises the "status" field of a health body.
func backendStatus(body []byte) string {
	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return ""
	}

	value := extractJSONPath(data, []string{"status"})
	if value == "" {
		return ""
	}
	return normaliseHealth(strings.ToLower(value))
}

// extractJSONPath walks a JSON structure using dot notation parts.
func extractJSONPath(data interface{}, parts []string) string {
	current := data

	for _, part := range parts {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return ""
		}
		current, ok = obj[part]
		if !ok {
			return ""
		}
	}

	switch v := current.(type) {
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// normaliseHealth maps common health vocabulary onto a small set.
func normaliseHealth(s string) string {
	switch s {
	case "ok", "healthy", "up", "active", "running", "pass", "passed", "true", "green", "operational":
		return "healthy"
	case "degraded", "warning", "partial", "yellow", "amber", "minimal":
		return "degraded"
	default:
		return s
	}
}
