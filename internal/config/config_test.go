package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "labreport.db", cfg.Database.Path)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, StorageFS, cfg.Storage.Driver)
	assert.Equal(t, 50, cfg.Render.HistoryLimit)
	assert.Equal(t, 2, cfg.Render.DefaultDecimals)
	assert.False(t, cfg.Render.StrictConditions)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 9100, cfg.Worker.MetricsPort)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("API_PORT", "9090")
	t.Setenv("DATABASE_DRIVER", "Postgres")
	t.Setenv("DATABASE_HOST", "db")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("RENDER_STRICT_CONDITIONS", "true")
	t.Setenv("RENDER_HISTORY_LIMIT", "10")
	t.Setenv("CLAMD_ADDR", "tcp://clamd:3310")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "host=db port=5432 user=labreport password=labreport dbname=labreport sslmode=disable", cfg.Database.DSN())
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr())
	assert.True(t, cfg.Render.StrictConditions)
	assert.Equal(t, 10, cfg.Render.HistoryLimit)
	assert.Equal(t, "tcp://clamd:3310", cfg.Assets.ClamdAddr)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown database driver", env: map[string]string{"DATABASE_DRIVER": "oracle"}},
		{name: "unknown storage driver", env: map[string]string{"STORAGE_DRIVER": "ftp"}},
		{name: "minio without credentials", env: map[string]string{"STORAGE_DRIVER": "minio"}},
		{name: "zero history", env: map[string]string{"RENDER_HISTORY_LIMIT": "0"}},
		{name: "negative port", env: map[string]string{"API_PORT": "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
