package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "basilisk.toml")
	content := `
[database]
path = "/var/lib/basilisk/test.db"

[daemon]
workers = 4

[feeds]
enabled = ["feed.feodotracker"]

[feeds.intervals]
"feed.feodotracker" = 3600
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/basilisk/test.db", cfg.Database.Path)
	assert.Equal(t, 4, cfg.Daemon.Workers)

	// Unset values fall back to defaults.
	assert.Equal(t, 1, cfg.Daemon.TickerIntervalSeconds)
	assert.Equal(t, 60, cfg.HTTP.TimeoutSeconds)
	assert.Equal(t, 30, cfg.HTTP.RequestsPerMinute)

	assert.Equal(t, []string{"feed.feodotracker"}, cfg.Feeds.Enabled)
	assert.Equal(t, 3600, cfg.Feeds.Intervals["feed.feodotracker"])
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "basilisk.db", cfg.GetDatabasePath())
	assert.Equal(t, 2, cfg.Daemon.Workers)
	assert.Equal(t, time.Second, cfg.TickerInterval())
	assert.Equal(t, 60*time.Second, cfg.HTTPTimeout())
}

func TestFeedEnabled(t *testing.T) {
	var cfg Config

	// Empty list enables everything.
	assert.True(t, cfg.FeedEnabled("feed.feodotracker"))

	cfg.Feeds.Enabled = []string{"feed.sslblacklist"}
	assert.False(t, cfg.FeedEnabled("feed.feodotracker"))
	assert.True(t, cfg.FeedEnabled("feed.sslblacklist"))
}

func TestFeedInterval(t *testing.T) {
	var cfg Config

	assert.Equal(t, 24*time.Hour, cfg.FeedInterval("feed.feodotracker", 24*time.Hour))

	cfg.Feeds.Intervals = map[string]int{"feed.feodotracker": 600}
	assert.Equal(t, 10*time.Minute, cfg.FeedInterval("feed.feodotracker", 24*time.Hour))

	// Non-positive overrides are ignored.
	cfg.Feeds.Intervals["feed.sslblacklist"] = 0
	assert.Equal(t, time.Hour, cfg.FeedInterval("feed.sslblacklist", time.Hour))
}

func TestConfigAccessorFallbacks(t *testing.T) {
	var cfg Config

	assert.Equal(t, "basilisk.db", cfg.GetDatabasePath())
	assert.Equal(t, 60*time.Second, cfg.HTTPTimeout())
	assert.Equal(t, time.Second, cfg.TickerInterval())

	cfg.Database.Path = "custom.db"
	cfg.HTTP.TimeoutSeconds = 10
	cfg.Daemon.TickerIntervalSeconds = 5
	assert.Equal(t, "custom.db", cfg.GetDatabasePath())
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout())
	assert.Equal(t, 5*time.Second, cfg.TickerInterval())
}
