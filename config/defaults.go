package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "basilisk.db")

	// Daemon defaults
	v.SetDefault("daemon.workers", 2)
	v.SetDefault("daemon.ticker_interval_seconds", 1)

	// Outbound HTTP defaults
	v.SetDefault("http.timeout_seconds", 60)
	v.SetDefault("http.requests_per_minute", 30)
}

// BindSensitiveEnvVars explicitly binds sensitive or deploy-specific
// configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "BASILISK_DATABASE_PATH")
}
