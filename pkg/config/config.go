// Package config loads the pager configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/pagedsource/pkg/client"
	"github.com/Sternrassler/pagedsource/pkg/datasource"
	"github.com/Sternrassler/pagedsource/pkg/logging"
	"github.com/joho/godotenv"
)

// Cache backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// DefaultBaseURL is the Rick and Morty character collection.
const DefaultBaseURL = "https://rickandmortyapi.com/api/character"

// Config holds the settings of the pager proxy.
type Config struct {
	BaseURL          string
	Format           client.Format
	DisplayPageSize  int
	UpstreamPageSize int
	CacheBackend     string
	RedisURL         string
	CacheNamespace   string
	Port             string
	UserAgent        string
	HTTPTimeout      time.Duration
	MaxAttempts      int
	LogLevel         logging.LogLevel
	LogPretty        bool
}

// Load reads .env if present, then the environment. Unparseable numbers fall
// back to their defaults; Validate reports semantic errors.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		BaseURL:          getEnv("PAGER_BASE_URL", DefaultBaseURL),
		Format:           client.Format(strings.ToLower(getEnv("PAGER_FORMAT", string(client.FormatEnvelope)))),
		DisplayPageSize:  getIntEnv("PAGER_DISPLAY_PAGE_SIZE", datasource.DefaultDisplayPageSize),
		UpstreamPageSize: getIntEnv("PAGER_UPSTREAM_PAGE_SIZE", datasource.DefaultUpstreamPageSize),
		CacheBackend:     strings.ToLower(getEnv("PAGER_CACHE_BACKEND", BackendMemory)),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		CacheNamespace:   getEnv("PAGER_CACHE_NAMESPACE", "proxy"),
		Port:             getEnv("PORT", "8080"),
		UserAgent:        getEnv("USER_AGENT", "pagedsource/0.1.0"),
		HTTPTimeout:      getDurationEnv("HTTP_TIMEOUT", 30*time.Second),
		MaxAttempts:      getIntEnv("PAGER_MAX_ATTEMPTS", 1),
		LogLevel:         logging.LogLevel(getEnv("LOG_LEVEL", string(logging.LevelInfo))),
		LogPretty:        getBoolEnv("LOG_PRETTY", false),
	}
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("PAGER_BASE_URL is required")
	}
	if _, err := client.ParseFormat(string(c.Format)); err != nil {
		return fmt.Errorf("PAGER_FORMAT: %w", err)
	}
	if c.DisplayPageSize <= 0 {
		return fmt.Errorf("PAGER_DISPLAY_PAGE_SIZE must be > 0 (got %d)", c.DisplayPageSize)
	}
	if c.Format != client.FormatFlat && c.UpstreamPageSize <= 0 {
		return fmt.Errorf("PAGER_UPSTREAM_PAGE_SIZE must be > 0 (got %d)", c.UpstreamPageSize)
	}
	switch c.CacheBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("unknown PAGER_CACHE_BACKEND %q (want %s or %s)", c.CacheBackend, BackendMemory, BackendRedis)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("PAGER_MAX_ATTEMPTS must be >= 1 (got %d)", c.MaxAttempts)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive (got %s)", c.HTTPTimeout)
	}
	return nil
}

// ClientConfig returns the upstream client configuration.
func (c *Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.BaseURL)
	cfg.Format = c.Format
	cfg.UserAgent = c.UserAgent
	cfg.Timeout = c.HTTPTimeout
	cfg.Retry.MaxAttempts = c.MaxAttempts
	return cfg
}

// DataSourceConfig returns the data source configuration.
func (c *Config) DataSourceConfig() datasource.Config {
	cfg := datasource.DefaultConfig(c.BaseURL)
	cfg.DisplayPageSize = c.DisplayPageSize
	cfg.UpstreamPageSize = c.UpstreamPageSize
	cfg.Flat = c.Format == client.FormatFlat
	cfg.Namespace = c.CacheNamespace
	return cfg
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// bare integers are seconds
		if i, err := strconv.Atoi(value); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return fallback
}
