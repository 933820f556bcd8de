package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.HTTPPort != "8082" {
		t.Fatalf("unexpected default port %s", cfg.HTTPPort)
	}
	if cfg.SessionBackend != "postgres" {
		t.Fatalf("unexpected default session backend %s", cfg.SessionBackend)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("unexpected default access ttl %s", cfg.AccessTTL)
	}
	if cfg.AbsenceAutomark {
		t.Fatalf("absence automark must default to off")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("SESSION_BACKEND", "memory")
	t.Setenv("ACCESS_TTL", "1h")
	t.Setenv("ABSENCE_AUTOMARK", "true")
	t.Setenv("RATE_LIMIT_PER_MIN", "7")

	cfg := Load()
	if cfg.HTTPPort != "9999" {
		t.Fatalf("port override ignored: %s", cfg.HTTPPort)
	}
	if cfg.SessionBackend != "memory" {
		t.Fatalf("backend override ignored: %s", cfg.SessionBackend)
	}
	if cfg.AccessTTL != time.Hour {
		t.Fatalf("ttl override ignored: %s", cfg.AccessTTL)
	}
	if !cfg.AbsenceAutomark {
		t.Fatalf("automark override ignored")
	}
	if cfg.RateLimitPerMin != 7 {
		t.Fatalf("rate limit override ignored: %d", cfg.RateLimitPerMin)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("ACCESS_TTL", "soon")
	t.Setenv("ABSENCE_AUTOMARK", "maybe")
	t.Setenv("RATE_LIMIT_PER_MIN", "lots")

	cfg := Load()
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("invalid duration should fall back, got %s", cfg.AccessTTL)
	}
	if cfg.AbsenceAutomark {
		t.Fatalf("invalid bool should fall back to off")
	}
	if cfg.RateLimitPerMin != 120 {
		t.Fatalf("invalid int should fall back, got %d", cfg.RateLimitPerMin)
	}
}
