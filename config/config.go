// Package config holds the fieldpulse configuration, loaded from TOML via
// Viper with environment-variable overrides.
package config

import "time"

// Config represents the core fieldpulse configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Tracker  TrackerConfig  `mapstructure:"tracker"`
	Source   SourceConfig   `mapstructure:"source"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the fieldpulse dashboard feed server
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DefaultServerPort is the development port for the dashboard feed.
const DefaultServerPort = 8741

// TrackerConfig configures the job tracking engine
type TrackerConfig struct {
	// PollIntervalMS is the delay between status queries for an active job.
	// The next query is never issued before the previous one has resolved.
	PollIntervalMS int `mapstructure:"poll_interval_ms"`

	// Activity classifier timings, all in seconds. Zero values fall back
	// to defaults; tests override these with millisecond-scale values via
	// track.ClassifierConfig directly.
	EarlyCheckSeconds   int `mapstructure:"early_check_seconds"`   // one-shot observation check (default: 15)
	LoopIntervalSeconds int `mapstructure:"loop_interval_seconds"` // staleness re-evaluation period (default: 30)
	StaleGraceSeconds   int `mapstructure:"stale_grace_seconds"`   // staleness below this always continues (default: 45)
	StaleLimitSeconds   int `mapstructure:"stale_limit_seconds"`   // staleness above this forces completion (default: 120)
	HardCapSeconds      int `mapstructure:"hard_cap_seconds"`      // absolute ceiling after job start (default: 300)
	CapStaleSeconds     int `mapstructure:"cap_stale_seconds"`     // staleness tolerated at the cap (default: 60)

	// ActivityKeywords override the built-in phrases that mark a status
	// message as "still progressing". Empty = use built-ins.
	ActivityKeywords []string `mapstructure:"activity_keywords"`
	// ClosingKeywords override the built-in phrases that suppress the
	// hard cap while the browser session is tearing down.
	ClosingKeywords []string `mapstructure:"closing_keywords"`
}

// SourceConfig configures the automation status endpoint
type SourceConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	QueriesPerMinute int    `mapstructure:"queries_per_minute"` // rate cap on status queries (0 = unlimited)
}

// PollInterval returns the configured poll interval as a duration.
func (t TrackerConfig) PollInterval() time.Duration {
	if t.PollIntervalMS <= 0 {
		return time.Second
	}
	return time.Duration(t.PollIntervalMS) * time.Millisecond
}

// Timeout returns the configured source timeout as a duration.
func (s SourceConfig) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}
