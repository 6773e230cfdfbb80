package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level application configuration.
type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Sentry      SentryConfig   `mapstructure:"sentry"`
	Session     SessionConfig  `mapstructure:"session"`
	Risk        RiskConfig     `mapstructure:"risk"`
	Monitor     MonitorConfig  `mapstructure:"monitor"`
	Executor    ExecutorConfig `mapstructure:"executor"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds database connection settings. SQLite is the default
// driver; Postgres is used when configured.
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	DatabaseURL     string `mapstructure:"database_url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	SQLitePath      string `mapstructure:"sqlite_path"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns host:port for the Redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// SentryConfig holds error-reporting settings.
type SentryConfig struct {
	DSN              string  `mapstructure:"dsn"`
	TracesSampleRate float64 `mapstructure:"traces_sample_rate"`
}

// SessionConfig bounds what sessions users may create.
type SessionConfig struct {
	// AllowedDurationsMinutes is the closed set of session lengths.
	AllowedDurationsMinutes []int `mapstructure:"allowed_durations_minutes"`
	// MaxLossLimitFraction caps the loss limit relative to user balance.
	MaxLossLimitFraction float64 `mapstructure:"max_loss_limit_fraction"`
}

// RiskConfig tunes the pre-trade risk gate.
type RiskConfig struct {
	// MaxConcentrationFraction caps one position relative to portfolio value.
	MaxConcentrationFraction float64 `mapstructure:"max_concentration_fraction"`
	// HighVolatilityThreshold marks a regime as volatility sensitive.
	HighVolatilityThreshold float64 `mapstructure:"high_volatility_threshold"`
}

// MonitorConfig tunes the session monitor loop.
type MonitorConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	WarningThresholds []int         `mapstructure:"warning_thresholds"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
}

// ExecutorConfig tunes decision execution and the job layer.
type ExecutorConfig struct {
	// LimitOrderQtyThreshold switches large tickets to limit orders.
	LimitOrderQtyThreshold int64 `mapstructure:"limit_order_qty_threshold"`
	// LimitPriceBufferBps offsets limit prices from the current price.
	LimitPriceBufferBps int64 `mapstructure:"limit_price_buffer_bps"`
	// FillPollTimeout bounds the synchronous wait for a fill.
	FillPollTimeout time.Duration `mapstructure:"fill_poll_timeout"`
	// FillPollInterval is the spacing between fill status checks.
	FillPollInterval time.Duration `mapstructure:"fill_poll_interval"`
	// MaxPriceAge marks oracle prices older than this as unusable.
	MaxPriceAge time.Duration `mapstructure:"max_price_age"`
	// Workers sizes the worker pool consuming the job queue.
	Workers int `mapstructure:"workers"`
	// JobMaxAttempts bounds retries for infrastructure failures.
	JobMaxAttempts int `mapstructure:"job_max_attempts"`
	// JobBackoffBase is the first retry delay; subsequent delays double.
	JobBackoffBase time.Duration `mapstructure:"job_backoff_base"`
}

// Load reads configuration from config.yaml (optional) and the environment.
// Environment variables use the TRADEGATE_ prefix with underscores, e.g.
// TRADEGATE_DATABASE_DRIVER=postgres.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("TRADEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite_path", "tradegate.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "300s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("sentry.traces_sample_rate", 0.1)

	v.SetDefault("session.allowed_durations_minutes", []int{60, 240, 1440, 10080})
	v.SetDefault("session.max_loss_limit_fraction", 0.30)

	v.SetDefault("risk.max_concentration_fraction", 0.25)
	v.SetDefault("risk.high_volatility_threshold", 0.03)

	v.SetDefault("monitor.poll_interval", 30*time.Second)
	v.SetDefault("monitor.warning_thresholds", []int{80, 90, 95})
	v.SetDefault("monitor.sweep_interval", 10*time.Second)

	v.SetDefault("executor.limit_order_qty_threshold", 500)
	v.SetDefault("executor.limit_price_buffer_bps", 10)
	v.SetDefault("executor.fill_poll_timeout", 2*time.Second)
	v.SetDefault("executor.fill_poll_interval", 250*time.Millisecond)
	v.SetDefault("executor.max_price_age", 30*time.Second)
	v.SetDefault("executor.workers", 8)
	v.SetDefault("executor.job_max_attempts", 3)
	v.SetDefault("executor.job_backoff_base", time.Second)
}

// Validate rejects configurations that would undermine the session limits.
func (c *Config) Validate() error {
	if len(c.Session.AllowedDurationsMinutes) == 0 {
		return fmt.Errorf("session.allowed_durations_minutes must not be empty")
	}
	for _, d := range c.Session.AllowedDurationsMinutes {
		if d <= 0 {
			return fmt.Errorf("session duration %d must be positive", d)
		}
	}
	if c.Session.MaxLossLimitFraction <= 0 || c.Session.MaxLossLimitFraction > 1 {
		return fmt.Errorf("session.max_loss_limit_fraction must be in (0, 1]")
	}
	if c.Risk.MaxConcentrationFraction <= 0 || c.Risk.MaxConcentrationFraction > 1 {
		return fmt.Errorf("risk.max_concentration_fraction must be in (0, 1]")
	}
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval must be positive")
	}
	if len(c.Monitor.WarningThresholds) == 0 {
		return fmt.Errorf("monitor.warning_thresholds must not be empty")
	}
	for _, pct := range c.Monitor.WarningThresholds {
		if pct <= 0 || pct >= 100 {
			return fmt.Errorf("warning threshold %d must be in (0, 100)", pct)
		}
	}
	if c.Executor.Workers <= 0 {
		return fmt.Errorf("executor.workers must be positive")
	}
	if c.Executor.FillPollTimeout > 0 && c.Executor.FillPollInterval <= 0 {
		return fmt.Errorf("executor.fill_poll_interval must be positive when fill_poll_timeout is set")
	}
	if c.Executor.JobMaxAttempts <= 0 {
		return fmt.Errorf("executor.job_max_attempts must be positive")
	}
	return nil
}

// AllowsDuration reports whether a session duration is on the allow-list.
func (c *SessionConfig) AllowsDuration(minutes int) bool {
	for _, d := range c.AllowedDurationsMinutes {
		if d == minutes {
			return true
		}
	}
	return false
}
