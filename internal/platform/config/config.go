// Package config loads application configuration from environment variables.
// All variables use the LEARN_ prefix.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Cache      CacheConfig
	Backend    BackendConfig
	Generation GenerationConfig
	Log        LogConfig
	// FixturesPath points at local outline fixtures used when no backend
	// URL is configured (offline/demo mode).
	FixturesPath string
	// DefaultSequentialUnlock is the unlock policy applied to new courses
	// that do not specify one. Some course types allow free navigation.
	DefaultSequentialUnlock bool
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int
	Host string
}

// DatabaseConfig holds PostgreSQL connection settings. An empty URL
// selects the in-memory store.
type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
}

// CacheConfig holds Dragonfly/Redis connection settings. An empty URL
// disables the snapshot cache.
type CacheConfig struct {
	URL            string
	SnapshotTTLMin int
}

// BackendConfig holds the learning backend endpoints.
type BackendConfig struct {
	// BaseURL of the curriculum and progress services. Empty selects the
	// fixture-backed offline mode.
	BaseURL string
	// UpdateFeedURL is the websocket feed for pushed block updates.
	// Empty disables the subscriber.
	UpdateFeedURL string
}

// GenerationConfig holds content-generation settings.
type GenerationConfig struct {
	TimeoutSeconds int
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables with LEARN_ prefix.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("LEARN_SERVER_PORT", 8080),
			Host: envStr("LEARN_SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			URL:      envStr("LEARN_DATABASE_URL", ""),
			MaxConns: envInt("LEARN_DATABASE_MAX_CONNS", 25),
			MinConns: envInt("LEARN_DATABASE_MIN_CONNS", 5),
		},
		Cache: CacheConfig{
			URL:            envStr("LEARN_CACHE_URL", ""),
			SnapshotTTLMin: envInt("LEARN_CACHE_SNAPSHOT_TTL_MIN", 1440),
		},
		Backend: BackendConfig{
			BaseURL:       envStr("LEARN_BACKEND_URL", ""),
			UpdateFeedURL: envStr("LEARN_BACKEND_FEED_URL", ""),
		},
		Generation: GenerationConfig{
			TimeoutSeconds: envInt("LEARN_GENERATION_TIMEOUT_SECONDS", 90),
		},
		Log: LogConfig{
			Level:  envStr("LEARN_LOG_LEVEL", "info"),
			Format: envStr("LEARN_LOG_FORMAT", "json"),
		},
		FixturesPath:            envStr("LEARN_FIXTURES_PATH", "./fixtures"),
		DefaultSequentialUnlock: envBool("LEARN_SEQUENTIAL_UNLOCK_DEFAULT", true),
	}

	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" && c.FixturesPath == "" {
		return fmt.Errorf("either LEARN_BACKEND_URL or LEARN_FIXTURES_PATH is required")
	}

	if c.Backend.UpdateFeedURL != "" &&
		!strings.HasPrefix(c.Backend.UpdateFeedURL, "ws://") &&
		!strings.HasPrefix(c.Backend.UpdateFeedURL, "wss://") {
		return fmt.Errorf("LEARN_BACKEND_FEED_URL must be a ws:// or wss:// URL, got %q", c.Backend.UpdateFeedURL)
	}

	if c.Generation.TimeoutSeconds <= 0 {
		return fmt.Errorf("LEARN_GENERATION_TIMEOUT_SECONDS must be positive, got %d", c.Generation.TimeoutSeconds)
	}

	return nil
}

// Offline returns true when the service runs against local fixtures
// instead of the remote backend.
func (c *Config) Offline() bool {
	return c.Backend.BaseURL == ""
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true") || v == "1"
	}
	return fallback
}
