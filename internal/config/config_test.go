package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SIGNALBENCH_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.DevMode)
	assert.True(t, cfg.CacheEnabled)
	assert.Equal(t, 5, cfg.CacheOpTimeout)
	assert.Equal(t, 3, cfg.CacheOpRetries)
	assert.Equal(t, 30, cfg.HealthInterval)
	assert.Equal(t, 10000, cfg.HistoryLimit)
	assert.Equal(t, 1000, cfg.HealthSamples)
	assert.InDelta(t, 0.06, cfg.RiskFreeRate, 1e-12)
	assert.GreaterOrEqual(t, cfg.MaxWorkers, 1)
	assert.LessOrEqual(t, cfg.MaxWorkers, 8)
	assert.Nil(t, cfg.Backup)
	assert.True(t, filepath.IsAbs(cfg.DataDir))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SIGNALBENCH_DATA_DIR", t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("MAX_WORKERS", "4")
	t.Setenv("RISK_FREE_RATE", "0.03")
	t.Setenv("CACHE_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, 4, cfg.MaxWorkers)
	assert.InDelta(t, 0.03, cfg.RiskFreeRate, 1e-12)
	assert.False(t, cfg.CacheEnabled)
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("SIGNALBENCH_DATA_DIR", t.TempDir())
	t.Setenv("PORT", "70000")

	_, err := Load()
	assert.Error(t, err)
}

func TestBackupConfig_Enabled(t *testing.T) {
	assert.False(t, (*BackupConfig)(nil).Enabled())
	assert.False(t, (&BackupConfig{Endpoint: "https://s3.example.com"}).Enabled())
	assert.True(t, (&BackupConfig{Endpoint: "https://s3.example.com", Bucket: "b"}).Enabled())
}

func TestLoad_BackupFromEnv(t *testing.T) {
	t.Setenv("SIGNALBENCH_DATA_DIR", t.TempDir())
	t.Setenv("BACKUP_S3_ENDPOINT", "https://s3.example.com")
	t.Setenv("BACKUP_S3_BUCKET", "backups")
	t.Setenv("BACKUP_S3_REGION", "eu-central-1")

	cfg, err := Load()
	require.NoError(t, err)

	require.NotNil(t, cfg.Backup)
	assert.True(t, cfg.Backup.Enabled())
	assert.Equal(t, "eu-central-1", cfg.Backup.Region)
	assert.Equal(t, 30, cfg.Backup.RetentionDays)
}
