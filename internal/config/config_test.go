package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DB_DSN", "CLINIC_TIMEZONE", "SWEEP_INTERVAL_SECONDS", "ROLLOVER_CHECK_SECONDS", "ENV"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %q", cfg.Port)
	}
	if cfg.ClinicTimezone != "Asia/Manila" {
		t.Fatalf("expected default timezone, got %q", cfg.ClinicTimezone)
	}
	if cfg.SweepInterval != time.Hour || cfg.RolloverCheckInterval != time.Minute {
		t.Fatalf("unexpected intervals %v %v", cfg.SweepInterval, cfg.RolloverCheckInterval)
	}
	if cfg.Env != "production" {
		t.Fatalf("expected production env, got %q", cfg.Env)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SWEEP_INTERVAL_SECONDS", "600")
	t.Setenv("BOOKING_RATE_LIMIT_PER_MIN", "not-a-number")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected port override, got %q", cfg.Port)
	}
	if cfg.SweepInterval != 10*time.Minute {
		t.Fatalf("expected 10m sweep interval, got %v", cfg.SweepInterval)
	}
	if cfg.BookingRateLimitPerMin != 30 {
		t.Fatalf("expected fallback rate limit, got %d", cfg.BookingRateLimitPerMin)
	}
}

func TestLoadTraceSampleRatio(t *testing.T) {
	t.Setenv("OTEL_TRACES_SAMPLE_RATIO", "")
	if cfg := Load(); cfg.TraceSampleRatio != 1 {
		t.Fatalf("expected full sampling by default, got %v", cfg.TraceSampleRatio)
	}

	t.Setenv("OTEL_TRACES_SAMPLE_RATIO", "0.2")
	if cfg := Load(); cfg.TraceSampleRatio != 0.2 {
		t.Fatalf("expected 0.2 sample ratio, got %v", cfg.TraceSampleRatio)
	}

	t.Setenv("OTEL_TRACES_SAMPLE_RATIO", "half")
	if cfg := Load(); cfg.TraceSampleRatio != 1 {
		t.Fatalf("expected fallback on bad ratio, got %v", cfg.TraceSampleRatio)
	}
}
