package config

import (
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"TRIPSYNC_ADDR", "DB_PATH", "TOKEN_TTL", "SEARCH_TIMEOUT", "PRESENCE_MIN_INTERVAL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assert.Equal(t, cfg.Addr, ":8080")
	assert.Equal(t, cfg.DBPath, "./data/tripsync.db")
	assert.Equal(t, cfg.TokenTTL, 24*time.Hour)
	assert.Equal(t, cfg.SearchTimeout, 30*time.Second)
	assert.Equal(t, cfg.PresenceMinInterval, time.Duration(0))
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TRIPSYNC_ADDR", ":9090")
	t.Setenv("SEARCH_REGION", "Bonn")
	t.Setenv("PRESENCE_MIN_INTERVAL", "5s")
	t.Setenv("SEARCH_CACHE_TTL", "0s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assert.Equal(t, cfg.Addr, ":9090")
	assert.Equal(t, cfg.PresenceMinInterval, 5*time.Second)

	opts := cfg.SearchOptions()
	assert.Equal(t, opts.Region, "Bonn")
	assert.Equal(t, opts.CacheTTL, time.Duration(0))
}

func TestLoadRejectsBadDurations(t *testing.T) {
	t.Setenv("TOKEN_TTL", "forever")
	t.Setenv("SEARCH_TIMEOUT", "-1s")

	_, err := Load()
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, key := range []string{"TOKEN_TTL", "SEARCH_TIMEOUT"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("expected %s in error, got %v", key, err)
		}
	}
}
