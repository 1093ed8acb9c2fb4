package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds all process configuration. Values come from the environment
// (optionally seeded from a .env file in the working directory).
type Config struct {
	// Store
	MongoURL string
	MongoDB  string

	// Job queue
	RedisAddr string

	// Metadata authority
	TMDBAPIKey string

	// Disk cache
	CacheDir          string
	CachePurgeEnabled bool

	// Config files
	JobsFile        string
	CachePolicyFile string

	// Admin API
	Port int

	// Logging
	LogLevel string
}

// Load reads configuration from the environment and validates the required
// fields. A missing requirement is fatal at boot.
func Load() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	viper.SetDefault("MONGO_URL", "mongodb://localhost:27017")
	viper.SetDefault("MONGO_DB", "streamarc")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("CACHE_DIR", "/var/cache/streamarc")
	viper.SetDefault("JOBS_FILE", "jobs.json")
	viper.SetDefault("CACHE_POLICY_FILE", "cache_policy.json")
	viper.SetDefault("PORT", 8090)
	viper.SetDefault("LOG_LEVEL", "info")

	cfg := &Config{
		MongoURL:          viper.GetString("MONGO_URL"),
		MongoDB:           viper.GetString("MONGO_DB"),
		RedisAddr:         viper.GetString("REDIS_ADDR"),
		TMDBAPIKey:        viper.GetString("TMDB_API_KEY"),
		CacheDir:          viper.GetString("CACHE_DIR"),
		CachePurgeEnabled: viper.GetString("CACHE_PURGE_ENABLED") == "true",
		JobsFile:          viper.GetString("JOBS_FILE"),
		CachePolicyFile:   viper.GetString("CACHE_POLICY_FILE"),
		Port:              viper.GetInt("PORT"),
		LogLevel:          viper.GetString("LOG_LEVEL"),
	}

	if cfg.TMDBAPIKey == "" {
		return nil, fmt.Errorf("TMDB_API_KEY is required")
	}
	if cfg.MongoURL == "" {
		return nil, fmt.Errorf("MONGO_URL is required")
	}
	return cfg, nil
}
