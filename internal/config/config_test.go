package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TREND_ENGINE_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, ":50051", cfg.Server.Address)
	require.Equal(t, DriverHTTP, cfg.Records.Driver)
	require.Equal(t, 2, cfg.Compute.Workers)
	require.Equal(t, 100, cfg.Compute.OffloadThreshold)
	require.Equal(t, 64, cfg.Compute.QueueSize)
	require.Equal(t, 14, cfg.Analysis.MinRecords)
	require.Equal(t, 24*time.Hour, cfg.Cache.Retention)
	require.False(t, cfg.Cache.Enabled)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trend-engine.yaml")
	yaml := `
server:
  address: ":6000"
records:
  driver: mysql
  mysql:
    addr: "db:3306"
    database: health
compute:
  workers: 4
analysis:
  trimOutliers: true
cache:
  retention: 48h
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("TREND_ENGINE_WORKERS", "0")
	t.Setenv("TREND_ENGINE_LOG_FORMAT", "json")
	t.Setenv("TREND_ENGINE_CACHE_SWEEP_INTERVAL", "15m")
	t.Setenv("TREND_ENGINE_MIN_RECORDS", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":6000", cfg.Server.Address)
	require.Equal(t, DriverMySQL, cfg.Records.Driver)
	require.Equal(t, "health", cfg.Records.MySQL.Database)
	require.Equal(t, 10, cfg.Records.MySQL.MaxOpenConns)
	require.Equal(t, 0, cfg.Compute.Workers)
	require.True(t, cfg.Analysis.TrimOutliers)
	require.True(t, cfg.Logging.JSON)
	require.Equal(t, 48*time.Hour, cfg.Cache.Retention)
	require.Equal(t, 15*time.Minute, cfg.Cache.SweepInterval)
	require.Equal(t, 14, cfg.Analysis.MinRecords)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Setenv("TREND_ENGINE_CONFIG", "")
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "not found")

	t.Setenv("TREND_ENGINE_RECORDS_DRIVER", "sqlite")
	_, err = Load("")
	require.ErrorContains(t, err, "records.driver")

	t.Setenv("TREND_ENGINE_RECORDS_DRIVER", "mysql")
	t.Setenv("TREND_ENGINE_CACHE_ENABLED", "true")
	_, err = Load("")
	require.ErrorContains(t, err, "records.mysql")
	require.ErrorContains(t, err, "cache.addr")
}
