package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/wekeepgrowing/timesync/pkg/config"
)

// ServiceName is used as the config file name and the environment variable prefix.
const ServiceName = "timesync"

type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Crypto     CryptoConfig     `mapstructure:"crypto"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Redis      RedisConfig      `mapstructure:"redis"`
	HTTPClient HTTPClientConfig `mapstructure:"http_client"`
}

// Defaults returns the values used when neither the config file nor the
// environment set a key.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"service.name":                     ServiceName,
		"service.environment":              "dev",
		"server.http.host":                 "0.0.0.0",
		"server.http.port":                 8080,
		"server.grpc.host":                 "0.0.0.0",
		"server.grpc.port":                 9090,
		"database.host":                    "localhost",
		"database.port":                    5432,
		"database.name":                    "timesync",
		"database.user":                    "postgres",
		"database.sslmode":                 "disable",
		"database.max_open_conns":          10,
		"database.max_idle_conns":          5,
		"database.conn_max_lifetime":       "30m",
		"database.conn_max_idle_time":      "5m",
		"database.slow_threshold":          "200ms",
		"log.level":                        "info",
		"log.format":                       "json",
		"log.output":                       "stdout",
		"scheduler.pump_interval":          "5s",
		"scheduler.job_log_retention_days": 30,
		"scheduler.purge_schedule":         "0 3 * * *",
		"sync.default_days_to_sync":        14,
		"sync.history_lookback_days":       60,
		"sync.removal_window_days":         30,
		"sync.object_batch_size":           100,
		"redis.channel":                    "timesync:jobs",
		"http_client.timeout":              "30s",
		"http_client.rate_limit":           5.0,
		"http_client.rate_burst":           5,
		"http_client.max_retries":          3,
		"http_client.rate_limit_backoff":   "60s",
	}
}

// LoadConfig reads configs/{APP_ENV}/timesync.yaml (or CONFIG_PATH) with
// TIMESYNC_* environment overrides.
func LoadConfig() (*Config, error) {
	src, err := pkgconfig.Load(ServiceName, Defaults())
	if err != nil {
		return nil, err
	}
	return FromSource(src)
}

// FromSource decodes and validates a loaded configuration source.
func FromSource(src pkgconfig.Config) (*Config, error) {
	var cfg Config
	if err := src.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the scheduler and sync jobs cannot work with.
func (c *Config) Validate() error {
	if c.Scheduler.PumpInterval <= 0 {
		return fmt.Errorf("scheduler.pump_interval must be positive")
	}
	if c.Sync.ObjectBatchSize <= 0 {
		return fmt.Errorf("sync.object_batch_size must be positive")
	}
	if c.Sync.DefaultDaysToSync <= 0 {
		return fmt.Errorf("sync.default_days_to_sync must be positive")
	}
	if c.Sync.HistoryLookbackDays < 0 || c.Sync.RemovalWindowDays <= 0 {
		return fmt.Errorf("sync lookback windows must not be negative")
	}
	return nil
}

type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// CryptoConfig holds the hex encoded AES-256 key for service API keys at rest.
type CryptoConfig struct {
	Key string `mapstructure:"key"`
}

type SchedulerConfig struct {
	PumpInterval        time.Duration `mapstructure:"pump_interval"`
	JobLogRetentionDays int           `mapstructure:"job_log_retention_days"`
	PurgeSchedule       string        `mapstructure:"purge_schedule"`
}

type SyncConfig struct {
	DefaultDaysToSync   int `mapstructure:"default_days_to_sync"`
	HistoryLookbackDays int `mapstructure:"history_lookback_days"`
	RemovalWindowDays   int `mapstructure:"removal_window_days"`
	ObjectBatchSize     int `mapstructure:"object_batch_size"`
}

// RedisConfig is optional. An empty Addr disables job event publishing.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// HTTPClientConfig tunes the outbound client shared by service adapters.
type HTTPClientConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	RateLimit        float64       `mapstructure:"rate_limit"`
	RateBurst        int           `mapstructure:"rate_burst"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RateLimitBackoff time.Duration `mapstructure:"rate_limit_backoff"`
}
