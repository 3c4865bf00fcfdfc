// Package config provides YAML configuration parsing for compliancepulse.
//
// This package enables running the dashboard poller as a standalone binary
// with a configuration file, as an alternative to the programmatic SDK
// approach.
//
// Example configuration:
//
//	backend_url: ${COMPLIANCE_API_URL:-http://localhost:8000}
//	poll_interval: 30s
//	fetch_timeout: 10s
//
//	headers:
//	  Authorization: Bearer ${COMPLIANCE_TOKEN}
//
//	channels:
//	  analytics: false
//
//	offline_fallback:
//	  enabled: true
//	  fixtures:
//	    overview:
//	      compliance_score: 0
//	  fixture_files:
//	    documents: fixtures/documents.json
//
//	relay:
//	  port: 8080
//	  title: SOC 2 Readiness
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/compliancepulse"
)

// minPollInterval matches the scheduler floor. Configs asking for less are
// rejected rather than silently clamped.
const minPollInterval = compliancepulse.MinPollingInterval

// Config is the root configuration structure for compliancepulse.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// BackendURL is the compliance API base URL.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	BackendURL string `yaml:"backend_url"`

	// PollInterval is the time between polling ticks. Defaults to 30s.
	PollInterval Duration `yaml:"poll_interval"`

	// FetchTimeout bounds each backend request. Defaults to 10s.
	FetchTimeout Duration `yaml:"fetch_timeout"`

	// AutoStart starts polling as soon as the first subscriber appears.
	// Defaults to true.
	AutoStart *bool `yaml:"auto_start"`

	// HealthPath is the connectivity probe path. Defaults to /health.
	HealthPath string `yaml:"health_path"`

	// TimelineDays is the days query parameter for the timeline channel.
	// Defaults to 30.
	TimelineDays int `yaml:"timeline_days"`

	// Headers are sent with every backend request.
	// Values support environment variable substitution.
	Headers map[string]string `yaml:"headers"`

	// Channels toggles individual data channels. Unlisted channels stay
	// enabled.
	Channels map[string]bool `yaml:"channels"`

	OfflineFallback OfflineFallbackConfig `yaml:"offline_fallback"`
	RefreshLimit    RefreshLimitConfig    `yaml:"refresh_limit"`
	Relay           RelayConfig           `yaml:"relay"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level"`
}

// OfflineFallbackConfig configures the fixture data published when the
// backend is unreachable.
type OfflineFallbackConfig struct {
	Enabled bool `yaml:"enabled"`

	// Fixtures are inline YAML values, converted to JSON.
	Fixtures map[string]any `yaml:"fixtures"`

	// FixtureFiles maps a channel to a JSON file. Relative paths resolve
	// against the config file's directory when loaded with [Load].
	FixtureFiles map[string]string `yaml:"fixture_files"`

	// resolved holds the JSON payload for every configured channel.
	resolved map[string]json.RawMessage
}

// Resolved returns the JSON fixture for every configured channel.
func (o OfflineFallbackConfig) Resolved() map[string]json.RawMessage {
	return o.resolved
}

// RefreshLimitConfig throttles out-of-band refreshes.
type RefreshLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// RelayConfig configures the HTTP relay started by the serve command.
type RelayConfig struct {
	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// Title is the relay page title.
	Title string `yaml:"title"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// AutoStartEnabled reports the effective auto_start value.
func (c *Config) AutoStartEnabled() bool {
	return c.AutoStart == nil || *c.AutoStart
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Relative fixture_files paths resolve against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return parse(data, filepath.Dir(path))
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in backend_url and header values.
// Relative fixture_files paths resolve against the working directory.
func Parse(data []byte) (*Config, error) {
	return parse(data, ".")
}

func parse(data []byte, baseDir string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}
	if err := cfg.resolveFixtures(baseDir); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = Duration(30 * time.Second)
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = Duration(10 * time.Second)
	}
	if c.HealthPath == "" {
		c.HealthPath = "/health"
	}
	if c.TimelineDays == 0 {
		c.TimelineDays = 30
	}
	if c.Relay.Port == 0 {
		c.Relay.Port = 8080
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.BackendURL == "" {
		return errors.New("backend_url is required")
	}
	expanded, err := expandEnvVars(c.BackendURL)
	if err != nil {
		return fmt.Errorf("backend_url: %w", err)
	}
	c.BackendURL = expanded

	parsedURL, err := url.Parse(c.BackendURL)
	if err != nil {
		return fmt.Errorf("invalid backend_url: %w", err)
	}
	if parsedURL.Scheme == "" {
		return errors.New("backend_url must have a scheme (http:// or https://)")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("backend_url scheme must be http or https, got %q", parsedURL.Scheme)
	}

	for k, v := range c.Headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("headers[%s]: %w", k, err)
		}
		c.Headers[k] = expanded
	}

	if c.PollInterval.Duration() < minPollInterval {
		return fmt.Errorf("poll_interval must be at least %s, got %s", minPollInterval, c.PollInterval.Duration())
	}
	if c.FetchTimeout.Duration() < time.Second {
		return fmt.Errorf("fetch_timeout must be at least 1s, got %s", c.FetchTimeout.Duration())
	}
	if c.TimelineDays < 1 {
		return fmt.Errorf("timeline_days must be positive, got %d", c.TimelineDays)
	}

	for name := range c.Channels {
		if !isDataChannel(name) {
			return fmt.Errorf("channels: unknown channel %q", name)
		}
	}

	if c.RefreshLimit.PerSecond < 0 {
		return errors.New("refresh_limit.per_second cannot be negative")
	}
	if c.RefreshLimit.Burst < 0 {
		return errors.New("refresh_limit.burst cannot be negative")
	}

	if c.Relay.Port < 1 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay.port must be between 1 and 65535, got %d", c.Relay.Port)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// resolveFixtures converts inline fixtures and fixture files into JSON.
func (c *Config) resolveFixtures(baseDir string) error {
	fb := &c.OfflineFallback
	fb.resolved = make(map[string]json.RawMessage, len(fb.Fixtures)+len(fb.FixtureFiles))

	for name, v := range fb.Fixtures {
		if !isDataChannel(name) {
			return fmt.Errorf("offline_fallback.fixtures: unknown channel %q", name)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("offline_fallback.fixtures[%s]: %w", name, err)
		}
		fb.resolved[name] = raw
	}

	for name, path := range fb.FixtureFiles {
		if !isDataChannel(name) {
			return fmt.Errorf("offline_fallback.fixture_files: unknown channel %q", name)
		}
		if _, dup := fb.resolved[name]; dup {
			return fmt.Errorf("offline_fallback: channel %q has both an inline fixture and a fixture file", name)
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("offline_fallback.fixture_files[%s]: %w", name, err)
		}
		if !json.Valid(data) {
			return fmt.Errorf("offline_fallback.fixture_files[%s]: %s is not valid JSON", name, path)
		}
		fb.resolved[name] = json.RawMessage(data)
	}

	return nil
}

// isDataChannel reports whether name is one of the polled data channels.
func isDataChannel(name string) bool {
	return slices.Contains(compliancepulse.DataChannels(), compliancepulse.Channel(name))
}
