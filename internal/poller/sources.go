package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jpalmerr/compliancepulse/internal/store"
)

// DefaultTimelineDays is the look-back window requested for the timeline.
const DefaultTimelineDays = 30

// Source maps a data channel onto a backend endpoint.
type Source struct {
	Channel store.Channel
	Path    string
	Query   url.Values
}

// DefaultSources returns the backend endpoints for every data channel.
// timelineDays <= 0 uses [DefaultTimelineDays].
func DefaultSources(timelineDays int) map[store.Channel]Source {
	if timelineDays <= 0 {
		timelineDays = DefaultTimelineDays
	}
	return map[store.Channel]Source{
		store.ChannelOverview:      {Channel: store.ChannelOverview, Path: "/api/dashboard/overview"},
		store.ChannelDocuments:     {Channel: store.ChannelDocuments, Path: "/api/dashboard/documents"},
		store.ChannelNotifications: {Channel: store.ChannelNotifications, Path: "/api/dashboard/notifications"},
		store.ChannelTimeline: {
			Channel: store.ChannelTimeline,
			Path:    "/api/dashboard/timeline",
			Query:   url.Values{"days": []string{strconv.Itoa(timelineDays)}},
		},
		store.ChannelAnalytics: {Channel: store.ChannelAnalytics, Path: "/api/dashboard/analytics"},
	}
}

// FetchSource retrieves one channel payload.
//
// The body is returned unmodified. A transport error, a non-2xx status, or
// a body that is not valid JSON yields a [FetchError].
func FetchSource(ctx context.Context, client *Client, src Source, timeout time.Duration) (json.RawMessage, error) {
	resp := client.Do(ctx, http.MethodGet, src.Path, src.Query, timeout)
	if resp.Error != nil {
		return nil, &FetchError{Channel: src.Channel, Err: resp.Error}
	}
	if !resp.OK() {
		return nil, &FetchError{
			Channel:    src.Channel,
			StatusCode: resp.StatusCode,
			Detail:     errorDetail(resp.Body),
			Err:        errUnexpectedStatus(resp.StatusCode),
		}
	}
	if !json.Valid(resp.Body) {
		return nil, &FetchError{Channel: src.Channel, Err: ErrInvalidPayload}
	}
	return json.RawMessage(resp.Body), nil
}

// MarkNotificationRead tells the backend a notification has been read.
func MarkNotificationRead(ctx context.Context, client *Client, id string, timeout time.Duration) error {
	if id == "" {
		return fmt.Errorf("notification id is required")
	}
	path := "/api/dashboard/notifications/" + url.PathEscape(id) + "/read"
	resp := client.Do(ctx, http.MethodPut, path, nil, timeout)
	if resp.Error != nil {
		return fmt.Errorf("mark notification %s read: %w", id, resp.Error)
	}
	if !resp.OK() {
		if detail := errorDetail(resp.Body); detail != "" {
			return fmt.Errorf("mark notification %s read: status %d: %s", id, resp.StatusCode, detail)
		}
		return fmt.Errorf("mark notification %s read: %w", id, errUnexpectedStatus(resp.StatusCode))
	}
	return nil
}

// errorDetail extracts the "detail" message the backend attaches to errors.
func errorDetail(body []byte) string {
	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return ""
	}
	return extractJSONPath(data, []string{"detail"})
}

func errUnexpectedStatus(code int) error {
	return fmt.Errorf("unexpected status %d", code)
}
