package config

import (
	"testing"
	"time"
)

func TestLoadConsoleConfigDefaults(t *testing.T) {
	cfg := LoadConsoleConfig()
	if cfg.GatewayURL != "http://localhost:8080" {
		t.Fatalf("unexpected gateway url %q", cfg.GatewayURL)
	}
	if cfg.InactivityTimeout != 30*time.Minute {
		t.Fatalf("unexpected inactivity timeout %s", cfg.InactivityTimeout)
	}
	if cfg.HistoryLimit != 50 {
		t.Fatalf("unexpected history limit %d", cfg.HistoryLimit)
	}
	if cfg.StreamBackoff != 3*time.Second {
		t.Fatalf("unexpected stream backoff %s", cfg.StreamBackoff)
	}
	if cfg.SessionStore != SessionStoreFile {
		t.Fatalf("unexpected session store %q", cfg.SessionStore)
	}
}

func TestLoadConsoleConfigOverrides(t *testing.T) {
	t.Setenv("FAAS_GATEWAY_URL", "https://faas.example.com")
	t.Setenv("FAASDECK_INACTIVITY_MINUTES", "5")
	t.Setenv("BUILD_HISTORY_LIMIT", "10")
	t.Setenv("BUILD_STREAM_BACKOFF_MS", "250")
	t.Setenv("FAASDECK_SESSION_STORE", "redis")

	cfg := LoadConsoleConfig()
	if cfg.GatewayURL != "https://faas.example.com" {
		t.Fatalf("unexpected gateway url %q", cfg.GatewayURL)
	}
	if cfg.InactivityTimeout != 5*time.Minute {
		t.Fatalf("unexpected inactivity timeout %s", cfg.InactivityTimeout)
	}
	if cfg.HistoryLimit != 10 {
		t.Fatalf("unexpected history limit %d", cfg.HistoryLimit)
	}
	if cfg.StreamBackoff != 250*time.Millisecond {
		t.Fatalf("unexpected stream backoff %s", cfg.StreamBackoff)
	}
	if cfg.SessionStore != SessionStoreRedis {
		t.Fatalf("unexpected session store %q", cfg.SessionStore)
	}
}

func TestLoadConsoleConfigRejectsInvalidLimit(t *testing.T) {
	t.Setenv("BUILD_HISTORY_LIMIT", "-3")
	t.Setenv("BUILD_STREAM_BACKOFF_MS", "not-a-number")

	cfg := LoadConsoleConfig()
	if cfg.HistoryLimit != 50 {
		t.Fatalf("expected fallback history limit, got %d", cfg.HistoryLimit)
	}
	if cfg.StreamBackoff != 3*time.Second {
		t.Fatalf("expected fallback backoff, got %s", cfg.StreamBackoff)
	}
}
