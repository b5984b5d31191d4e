// Package config reads server and client settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mmynk/tripsync/internal/search"
)

// Config holds every setting of the server and the CLI.
type Config struct {
	Addr      string
	DBPath    string
	JWTSecret string
	TokenTTL  time.Duration

	ServerURL string
	Token     string

	GeminiAPIKey   string
	GeminiModel    string
	GeminiEndpoint string

	SearchRegion   string
	SearchAudience string
	SearchTimeout  time.Duration
	SearchCacheTTL time.Duration

	PresenceMinInterval time.Duration
	PositionMinInterval time.Duration
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// Load reads the configuration. Malformed durations are an error.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:           getEnv("TRIPSYNC_ADDR", ":8080"),
		DBPath:         getEnv("DB_PATH", "./data/tripsync.db"),
		JWTSecret:      getEnv("JWT_SECRET", "dev-secret-change-me"),
		ServerURL:      getEnv("TRIPSYNC_SERVER", "http://localhost:8080"),
		Token:          os.Getenv("TRIPSYNC_TOKEN"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiEndpoint: getEnv("GEMINI_ENDPOINT", search.DefaultGeminiEndpoint),
		SearchRegion:   getEnv("SEARCH_REGION", "Cologne"),
		SearchAudience: getEnv("SEARCH_AUDIENCE", "teenagers (14 years old)"),
	}

	var errs []error
	duration := func(key, fallback string) time.Duration {
		raw := getEnv(key, fallback)
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q: %w", key, raw, err))
			return 0
		}
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s: negative duration %q", key, raw))
			return 0
		}
		return d
	}
	cfg.TokenTTL = duration("TOKEN_TTL", "24h")
	cfg.SearchTimeout = duration("SEARCH_TIMEOUT", "30s")
	cfg.SearchCacheTTL = duration("SEARCH_CACHE_TTL", "10m")
	cfg.PresenceMinInterval = duration("PRESENCE_MIN_INTERVAL", "0s")
	cfg.PositionMinInterval = duration("POSITION_MIN_INTERVAL", "0s")

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// SearchOptions returns the search bridge settings.
func (c *Config) SearchOptions() search.Options {
	return search.Options{
		Region:   c.SearchRegion,
		Audience: c.SearchAudience,
		Timeout:  c.SearchTimeout,
		CacheTTL: c.SearchCacheTTL,
	}
}
