package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port                   string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	ClinicTimezone         string
	SweepInterval          time.Duration
	RolloverCheckInterval  time.Duration
	SweepTimeout           time.Duration
	BookingRateLimitPerMin int
	BookingRateLimitBurst  int
	LogLevel               string
	Env                    string
	TraceSampleRatio       float64
}

func Load() Config {
	return Config{
		Port:                   readString("PORT", "8080"),
		DatabaseURL:            os.Getenv("DB_DSN"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		ClinicTimezone:         readString("CLINIC_TIMEZONE", "Asia/Manila"),
		SweepInterval:          readDurationSeconds("SWEEP_INTERVAL_SECONDS", 3600),
		RolloverCheckInterval:  readDurationSeconds("ROLLOVER_CHECK_SECONDS", 60),
		SweepTimeout:           readDurationSeconds("SWEEP_TIMEOUT_SECONDS", 120),
		BookingRateLimitPerMin: readInt("BOOKING_RATE_LIMIT_PER_MIN", 30),
		BookingRateLimitBurst:  readInt("BOOKING_RATE_LIMIT_BURST", 10),
		LogLevel:               readString("LOG_LEVEL", "info"),
		Env:                    readString("ENV", "production"),
		TraceSampleRatio:       readFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
	}
}

func readString(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}
