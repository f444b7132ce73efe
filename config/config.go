// Package config loads basilisk configuration from TOML files and
// environment variables via viper. Precedence, lowest to highest:
// /etc/basilisk/config.toml, ~/.basilisk/config.toml, a basilisk.toml found
// by walking up from the working directory, then BASILISK_* env vars.
package config

import "time"

// Config is the root basilisk configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Daemon   DaemonConfig   `mapstructure:"daemon"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Feeds    FeedsConfig    `mapstructure:"feeds"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// DaemonConfig configures the background daemon: worker pool and scheduler
type DaemonConfig struct {
	Workers               int `mapstructure:"workers"`                 // Concurrent feed workers (default: 2)
	TickerIntervalSeconds int `mapstructure:"ticker_interval_seconds"` // Scheduler scan interval (default: 1)
}

// HTTPConfig configures outbound feed fetching
type HTTPConfig struct {
	TimeoutSeconds    int `mapstructure:"timeout_seconds"`     // Per-request timeout (default: 60)
	RequestsPerMinute int `mapstructure:"requests_per_minute"` // Shared fetch rate limit (default: 30)
}

// FeedsConfig configures which feeds run and at what interval
type FeedsConfig struct {
	// Enabled lists the feed handler names to run (e.g. "feed.feodotracker").
	// Empty means all registered feeds.
	Enabled []string `mapstructure:"enabled"`
	// Intervals overrides a feed's built-in refresh interval, in seconds,
	// keyed by handler name.
	Intervals map[string]int `mapstructure:"intervals"`
}

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "basilisk.db"
	}
	return c.Database.Path
}

// HTTPTimeout returns the outbound request timeout as a duration.
func (c *Config) HTTPTimeout() time.Duration {
	if c.HTTP.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// TickerInterval returns the scheduler scan interval as a duration.
func (c *Config) TickerInterval() time.Duration {
	if c.Daemon.TickerIntervalSeconds <= 0 {
		return time.Second
	}
	return time.Duration(c.Daemon.TickerIntervalSeconds) * time.Second
}

// FeedEnabled reports whether a feed handler name should run. An empty
// enabled list means every feed runs.
func (c *Config) FeedEnabled(handlerName string) bool {
	if len(c.Feeds.Enabled) == 0 {
		return true
	}
	for _, name := range c.Feeds.Enabled {
		if name == handlerName {
			return true
		}
	}
	return false
}

// FeedInterval returns the configured interval override for a feed handler
// name, or the given fallback.
func (c *Config) FeedInterval(handlerName string, fallback time.Duration) time.Duration {
	if secs, ok := c.Feeds.Intervals[handlerName]; ok && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
