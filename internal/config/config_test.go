package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wekeepgrowing/timesync/internal/config"
)

const sampleConfig = `
server:
  http:
    port: 18080
database:
  host: db.internal
  password: secret
sync:
  default_days_to_sync: 7
jwt:
  secret: test-secret
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "timesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, sampleConfig))
	t.Setenv("TIMESYNC_DATABASE_PORT", "6543")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	t.Run("file values", func(t *testing.T) {
		assert.Equal(t, 18080, cfg.Server.HTTP.Port)
		assert.Equal(t, "db.internal", cfg.Database.Host)
		assert.Equal(t, 7, cfg.Sync.DefaultDaysToSync)
		assert.Equal(t, "test-secret", cfg.JWT.Secret)
	})

	t.Run("environment overrides", func(t *testing.T) {
		assert.Equal(t, 6543, cfg.Database.Port)
	})

	t.Run("defaults", func(t *testing.T) {
		assert.Equal(t, 5*time.Second, cfg.Scheduler.PumpInterval)
		assert.Equal(t, "0 3 * * *", cfg.Scheduler.PurgeSchedule)
		assert.Equal(t, 60, cfg.Sync.HistoryLookbackDays)
		assert.Equal(t, 30, cfg.Sync.RemovalWindowDays)
		assert.Equal(t, 100, cfg.Sync.ObjectBatchSize)
		assert.Equal(t, "timesync:jobs", cfg.Redis.Channel)
		assert.Equal(t, time.Minute, cfg.HTTPClient.RateLimitBackoff)
	})

	assert.Equal(t,
		"host=db.internal port=6543 user=postgres password=secret dbname=timesync sslmode=disable",
		cfg.Database.DSN())
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, "sync:\n  object_batch_size: 0\n"))

	_, err := config.LoadConfig()
	assert.Error(t, err)
}
