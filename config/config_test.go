package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "fieldpulse.db", cfg.Database.Path)
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, time.Second, cfg.Tracker.PollInterval())
	assert.Equal(t, 15, cfg.Tracker.EarlyCheckSeconds)
	assert.Equal(t, 30, cfg.Tracker.LoopIntervalSeconds)
	assert.Equal(t, 45, cfg.Tracker.StaleGraceSeconds)
	assert.Equal(t, 120, cfg.Tracker.StaleLimitSeconds)
	assert.Equal(t, 300, cfg.Tracker.HardCapSeconds)
	assert.Equal(t, 60, cfg.Tracker.CapStaleSeconds)
	assert.Equal(t, 10*time.Second, cfg.Source.Timeout())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fieldpulse.toml")
	content := `
[database]
path = "/tmp/field.db"

[tracker]
poll_interval_ms = 250
stale_limit_seconds = 90
activity_keywords = ["filling form", "navigating"]

[source]
base_url = "http://runner.local:9000"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/field.db", cfg.Database.Path)
	assert.Equal(t, 250*time.Millisecond, cfg.Tracker.PollInterval())
	assert.Equal(t, 90, cfg.Tracker.StaleLimitSeconds)
	assert.Equal(t, []string{"filling form", "navigating"}, cfg.Tracker.ActivityKeywords)
	assert.Equal(t, "http://runner.local:9000", cfg.Source.BaseURL)
	// Unset values keep their defaults
	assert.Equal(t, 300, cfg.Tracker.HardCapSeconds)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fieldpulse.toml")
	require.NoError(t, os.WriteFile(path, []byte("[tracker]\npoll_interval_ms = 1000\n"), 0o644))

	cw, err := NewConfigWatcher(path, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { cw.Stop() })
	cw.debouncePeriod = 10 * time.Millisecond

	reloaded := make(chan *Config, 1)
	cw.OnReload(func(c *Config) error {
		select {
		case reloaded <- c:
		default:
		}
		return nil
	})
	cw.Start()

	require.NoError(t, os.WriteFile(path, []byte("[tracker]\npoll_interval_ms = 50\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 50*time.Millisecond, cfg.Tracker.PollInterval())
	case <-time.After(5 * time.Second):
		t.Fatal("config reload callback never fired")
	}
}
