// Package config loads runtime settings from the environment, reading a
// .env file first when one exists.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Kafka     KafkaConfig
	Scheduler SchedulerConfig
	Log       LogConfig
}

// AppConfig holds application configuration
type AppConfig struct {
	Port        int
	CORSOrigins []string
	// Location of employee-day boundaries.
	Location *time.Location
	// Company whose holiday calendar applies (global holidays always do).
	CompanyID             string
	ExpiringLookaheadDays int
}

type DatabaseConfig struct {
	Driver string // sqlite | postgres
	Path   string
	URL    string
}

// KafkaConfig holds the movement-event publisher settings. No brokers
// disables publishing.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
}

type LogConfig struct {
	Level  slog.Level
	Format string // json | text
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	config := &Config{}

	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		return nil, err
	}
	lookahead, err := getEnvInt("EXPIRING_LOOKAHEAD_DAYS", 30)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(getEnv("TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	config.App = AppConfig{
		Port:                  port,
		CORSOrigins:           getEnvSlice("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:8080"}),
		Location:              loc,
		CompanyID:             getEnv("COMPANY_ID", ""),
		ExpiringLookaheadDays: lookahead,
	}

	config.Database = DatabaseConfig{
		Driver: getEnv("DB_DRIVER", "sqlite"),
		Path:   getEnv("DB_PATH", "worktime.db"),
		URL:    getEnv("DATABASE_URL", ""),
	}

	config.Kafka = KafkaConfig{
		Brokers: getEnvSlice("KAFKA_BROKERS", nil),
		Topic:   getEnv("KAFKA_TOPIC", "overtime.movements"),
	}

	interval, err := getEnvDuration("SWEEP_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}
	enabled, err := getEnvBool("SCHEDULER_ENABLED", true)
	if err != nil {
		return nil, err
	}
	config.Scheduler = SchedulerConfig{Enabled: enabled, Interval: interval}

	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	config.Log = LogConfig{Level: level, Format: getEnv("LOG_FORMAT", "json")}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.App.Port))
	}
	if c.App.ExpiringLookaheadDays < 0 {
		errs = append(errs, fmt.Errorf("EXPIRING_LOOKAHEAD_DAYS must be >= 0"))
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, fmt.Errorf("DB_PATH is required for sqlite"))
		}
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.Database.Driver))
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		errs = append(errs, fmt.Errorf("SWEEP_INTERVAL must be positive"))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("unknown LOG_FORMAT %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Log.Level}
	if c.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvSlice(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
