package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "DB_DRIVER", "DB_PATH", "KAFKA_BROKERS", "SWEEP_INTERVAL",
		"SCHEDULER_ENABLED", "LOG_LEVEL", "LOG_FORMAT", "TIMEZONE", "EXPIRING_LOOKAHEAD_DAYS"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "worktime.db", cfg.Database.Path)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "overtime.movements", cfg.Kafka.Topic)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, time.Hour, cfg.Scheduler.Interval)
	assert.Equal(t, slog.LevelInfo, cfg.Log.Level)
	assert.Equal(t, 30, cfg.App.ExpiringLookaheadDays)
	assert.Equal(t, time.UTC, cfg.App.Location)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SWEEP_INTERVAL", "15m")
	t.Setenv("SCHEDULER_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, slog.LevelDebug, cfg.Log.Level)
	assert.NotNil(t, cfg.NewLogger())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port not a number", "PORT", "http"},
		{"bad duration", "SWEEP_INTERVAL", "hourly"},
		{"bad bool", "SCHEDULER_ENABLED", "maybe"},
		{"unknown driver", "DB_DRIVER", "mysql"},
		{"unknown timezone", "TIMEZONE", "Mars/Olympus"},
		{"unknown log format", "LOG_FORMAT", "xml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidate_PostgresNeedsURL(t *testing.T) {
	cfg := &Config{
		App:      AppConfig{Port: 8080},
		Database: DatabaseConfig{Driver: "postgres"},
		Log:      LogConfig{Format: "json"},
	}
	assert.Error(t, cfg.Validate())

	cfg.Database.URL = "postgres://localhost/worktime"
	assert.NoError(t, cfg.Validate())
}
