package config

import (
	"encoding/json"
	"errors"
	"sort"

	"github.com/jpalmerr/compliancepulse"
)

// BuildOptions converts parsed configuration into dashboard options.
//
// The logger and clock are left to the caller; append [compliancepulse.WithLogger]
// to the result before calling [compliancepulse.New].
func BuildOptions(cfg *Config) ([]compliancepulse.Option, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	opts := []compliancepulse.Option{
		compliancepulse.WithBackendURL(cfg.BackendURL),
		compliancepulse.WithPollingInterval(cfg.PollInterval.Duration()),
		compliancepulse.WithFetchTimeout(cfg.FetchTimeout.Duration()),
		compliancepulse.WithAutoStart(cfg.AutoStartEnabled()),
		compliancepulse.WithHealthPath(cfg.HealthPath),
		compliancepulse.WithTimelineDays(cfg.TimelineDays),
		compliancepulse.WithPort(cfg.Relay.Port),
	}

	if len(cfg.Headers) > 0 {
		opts = append(opts, compliancepulse.WithHeaders(mapToKeyValuePairs(cfg.Headers)...))
	}

	// display order, so repeated builds are identical
	for _, ch := range compliancepulse.DataChannels() {
		if enabled, ok := cfg.Channels[string(ch)]; ok {
			opts = append(opts, compliancepulse.WithChannel(ch, enabled))
		}
	}

	if cfg.OfflineFallback.Enabled {
		fixtures := make(map[compliancepulse.Channel]json.RawMessage, len(cfg.OfflineFallback.Resolved()))
		for name, raw := range cfg.OfflineFallback.Resolved() {
			fixtures[compliancepulse.Channel(name)] = raw
		}
		opts = append(opts, compliancepulse.WithOfflineFallback(fixtures))
	}

	if cfg.RefreshLimit.PerSecond > 0 || cfg.RefreshLimit.Burst > 0 {
		perSecond, burst := cfg.RefreshLimit.PerSecond, cfg.RefreshLimit.Burst
		if perSecond == 0 {
			perSecond = 1
		}
		if burst == 0 {
			burst = 5
		}
		opts = append(opts, compliancepulse.WithRefreshLimit(perSecond, burst))
	}

	if cfg.Relay.Title != "" {
		opts = append(opts, compliancepulse.WithTitle(cfg.Relay.Title))
	}

	return opts, nil
}

// mapToKeyValuePairs converts a map to a sorted slice of key-value pairs.
func mapToKeyValuePairs(m map[string]string) []string {
	// sort keys for deterministic ordering
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}
