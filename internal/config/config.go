package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/pelletier/go-toml/v2"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	IsolationReadCommitted = "read_committed"
	IsolationSerializable  = "serializable"
)

type Config struct {
	Port                     string `toml:"port"`
	DBDriver                 string `toml:"db_driver"`
	DatabaseURL              string `toml:"db_dsn"`
	SQLitePath               string `toml:"sqlite_path"`
	OfficeTimezone           string `toml:"office_timezone"`
	CounterIsolation         string `toml:"counter_isolation"`
	StoreRetryAttempts       int    `toml:"store_retry_attempts"`
	StoreRetryBackoffMillis  int    `toml:"store_retry_backoff_ms"`
	ReconcileIntervalSeconds int    `toml:"reconcile_interval_seconds"`
	MonitorPollMillis        int    `toml:"monitor_poll_interval_ms"`
	MonitorBatchSize         int    `toml:"monitor_batch_size"`
	OutboxRetentionHours     int    `toml:"outbox_retention_hours"`
	RateLimitPerMinute       int    `toml:"rate_limit_per_min"`
	RateLimitBurst           int    `toml:"rate_limit_burst"`
	OTelEndpoint             string `toml:"otel_endpoint"`
	OTelInsecure             bool   `toml:"otel_insecure"`
}

func Default() Config {
	return Config{
		Port:                     "8080",
		DBDriver:                 DriverPostgres,
		SQLitePath:               "walkin-queue.db",
		OfficeTimezone:           "Asia/Manila",
		CounterIsolation:         IsolationReadCommitted,
		StoreRetryAttempts:       8,
		StoreRetryBackoffMillis:  10,
		ReconcileIntervalSeconds: 300,
		MonitorPollMillis:        1000,
		MonitorBatchSize:         100,
		OutboxRetentionHours:     48,
		RateLimitPerMinute:       120,
		RateLimitBurst:           30,
	}
}

// Load builds the configuration from defaults and environment variables.
func Load() Config {
	cfg := Default()
	applyEnv(&cfg)
	return cfg
}

// LoadFile decodes an optional TOML file over the defaults and then applies
// environment overrides. An empty path or a missing file is not an error.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("open config: %w", err)
		default:
			defer file.Close()
			decoder := toml.NewDecoder(file)
			decoder.DisallowUnknownFields()
			if err := decoder.Decode(&cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Port = readString("PORT", cfg.Port)
	cfg.DBDriver = strings.ToLower(readString("DB_DRIVER", cfg.DBDriver))
	cfg.DatabaseURL = readString("DB_DSN", cfg.DatabaseURL)
	cfg.SQLitePath = readString("SQLITE_PATH", cfg.SQLitePath)
	cfg.OfficeTimezone = readString("OFFICE_TIMEZONE", cfg.OfficeTimezone)
	cfg.CounterIsolation = strings.ToLower(readString("COUNTER_ISOLATION", cfg.CounterIsolation))
	cfg.StoreRetryAttempts = readInt("STORE_RETRY_ATTEMPTS", cfg.StoreRetryAttempts)
	cfg.StoreRetryBackoffMillis = readInt("STORE_RETRY_BACKOFF_MS", cfg.StoreRetryBackoffMillis)
	cfg.ReconcileIntervalSeconds = readInt("RECONCILE_INTERVAL_SECONDS", cfg.ReconcileIntervalSeconds)
	cfg.MonitorPollMillis = readInt("MONITOR_POLL_INTERVAL_MS", cfg.MonitorPollMillis)
	cfg.MonitorBatchSize = readInt("MONITOR_BATCH_SIZE", cfg.MonitorBatchSize)
	cfg.OutboxRetentionHours = readInt("OUTBOX_RETENTION_HOURS", cfg.OutboxRetentionHours)
	cfg.RateLimitPerMinute = readInt("RATE_LIMIT_PER_MIN", cfg.RateLimitPerMinute)
	cfg.RateLimitBurst = readInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)
	cfg.OTelEndpoint = readString("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTelEndpoint)
	cfg.OTelInsecure = readBool("OTEL_EXPORTER_OTLP_INSECURE", cfg.OTelInsecure)
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("db_dsn is required for the postgres driver (set DB_DSN)")
		}
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown db_driver %q", c.DBDriver)
	}
	switch c.CounterIsolation {
	case IsolationReadCommitted, IsolationSerializable:
	default:
		return fmt.Errorf("counter_isolation must be %q or %q", IsolationReadCommitted, IsolationSerializable)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.StoreRetryAttempts < 1 {
		return errors.New("store_retry_attempts must be at least 1")
	}
	return nil
}

// Location resolves the office time zone used for queue days.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.OfficeTimezone)
	if err != nil {
		return nil, fmt.Errorf("office_timezone %q: %w", c.OfficeTimezone, err)
	}
	return loc, nil
}

func (c Config) StoreRetryBackoff() time.Duration {
	return millis(c.StoreRetryBackoffMillis)
}

func (c Config) ReconcileInterval() time.Duration {
	return seconds(c.ReconcileIntervalSeconds)
}

func (c Config) MonitorPollInterval() time.Duration {
	return millis(c.MonitorPollMillis)
}

func (c Config) OutboxRetention() time.Duration {
	if c.OutboxRetentionHours <= 0 {
		return 0
	}
	return time.Duration(c.OutboxRetentionHours) * time.Hour
}

func seconds(value int) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func millis(value int) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Millisecond
}

func readString(key, fallback string) string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	return raw
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

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
