// Package config loads process configuration from environment variables.
package config

import (
	"os"
	"time"
)

// Config holds everything wired at process startup.
type Config struct {
	Port        string
	DatabaseURL string // empty → in-memory store
	RedisURL    string // empty → no read-through cache
	CacheTTL    time.Duration

	FeedURL            string
	FeedReconnectDelay time.Duration
}

// Load reads configuration from the environment with sensible defaults.
func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		CacheTTL:           getDuration("CACHE_TTL", 30*time.Second),
		FeedURL:            getEnv("FEED_URL", "wss://ws.kraken.com/"),
		FeedReconnectDelay: getDuration("FEED_RECONNECT_DELAY", 5*time.Second),
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
