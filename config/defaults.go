package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "fieldpulse.db")

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})

	// Tracker defaults - the three-stage escalation trades responsiveness
	// against false positives on slow-but-alive automations
	v.SetDefault("tracker.poll_interval_ms", 1000)
	v.SetDefault("tracker.early_check_seconds", 15)
	v.SetDefault("tracker.loop_interval_seconds", 30)
	v.SetDefault("tracker.stale_grace_seconds", 45)
	v.SetDefault("tracker.stale_limit_seconds", 120)
	v.SetDefault("tracker.hard_cap_seconds", 300)
	v.SetDefault("tracker.cap_stale_seconds", 60)

	// Status source defaults
	v.SetDefault("source.base_url", "http://localhost:8739")
	v.SetDefault("source.timeout_seconds", 10)
	v.SetDefault("source.queries_per_minute", 120) // polite cap, avoids hammering the runner
}
