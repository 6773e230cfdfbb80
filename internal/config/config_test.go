package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "tradegate.db", cfg.Database.SQLitePath)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, []int{60, 240, 1440, 10080}, cfg.Session.AllowedDurationsMinutes)
	assert.Equal(t, 0.30, cfg.Session.MaxLossLimitFraction)
	assert.Equal(t, 0.25, cfg.Risk.MaxConcentrationFraction)
	assert.Equal(t, 30*time.Second, cfg.Monitor.PollInterval)
	assert.Equal(t, []int{80, 90, 95}, cfg.Monitor.WarningThresholds)
	assert.Equal(t, 3, cfg.Executor.JobMaxAttempts)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TRADEGATE_DATABASE_DRIVER", "postgres")
	t.Setenv("TRADEGATE_SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	t.Run("valid defaults", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("empty durations", func(t *testing.T) {
		cfg := base()
		cfg.Session.AllowedDurationsMinutes = nil
		assert.Error(t, cfg.Validate())
	})

	t.Run("loss limit fraction out of range", func(t *testing.T) {
		cfg := base()
		cfg.Session.MaxLossLimitFraction = 1.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("warning threshold out of range", func(t *testing.T) {
		cfg := base()
		cfg.Monitor.WarningThresholds = []int{80, 100}
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero workers", func(t *testing.T) {
		cfg := base()
		cfg.Executor.Workers = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero fill poll interval with poll window", func(t *testing.T) {
		cfg := base()
		cfg.Executor.FillPollInterval = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero fill poll interval without poll window", func(t *testing.T) {
		cfg := base()
		cfg.Executor.FillPollTimeout = 0
		cfg.Executor.FillPollInterval = 0
		assert.NoError(t, cfg.Validate())
	})
}

func TestSessionConfig_AllowsDuration(t *testing.T) {
	cfg := SessionConfig{AllowedDurationsMinutes: []int{60, 240}}
	assert.True(t, cfg.AllowsDuration(60))
	assert.True(t, cfg.AllowsDuration(240))
	assert.False(t, cfg.AllowsDuration(90))
	assert.False(t, cfg.AllowsDuration(0))
}
