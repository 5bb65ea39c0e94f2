package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "files", cfg.Upload.Prefix)
	assert.Equal(t, int64(128849018880), cfg.Upload.MaxSize)
	assert.Equal(t, 5, cfg.Upload.DaysToKeep)
	assert.Equal(t, 5*24*time.Hour, cfg.Upload.Retention())
	assert.Equal(t, "sidecar", cfg.Storage.RecordBackend)
	assert.Equal(t, "memory", cfg.Upload.LockBackend)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("TUS_UPLOAD_MAX_SIZE", "1024")
	t.Setenv("TUS_STORAGE_LOCAL_PATH", "/srv/uploads")
	t.Setenv("TUS_UPLOAD_LOCK_TIMEOUT", "2s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, int64(1024), cfg.Upload.MaxSize)
	assert.Equal(t, "/srv/uploads", cfg.Storage.LocalPath)
	assert.Equal(t, 2*time.Second, cfg.Upload.LockTimeout)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
upload:
  prefix: uploads
  days_to_keep: 2
storage:
  record_backend: redis
redis:
  host: cache
  port: 6380
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "uploads", cfg.Upload.Prefix)
	assert.Equal(t, 2, cfg.Upload.DaysToKeep)
	assert.Equal(t, "redis", cfg.Storage.RecordBackend)
	assert.Equal(t, "cache:6380", cfg.Redis.RedisAddr())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max size", func(c *Config) { c.Upload.MaxSize = 0 }},
		{"zero retention", func(c *Config) { c.Upload.DaysToKeep = 0 }},
		{"zero fragment size", func(c *Config) { c.Upload.FragmentSize = 0 }},
		{"empty storage path", func(c *Config) { c.Storage.LocalPath = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)

			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDatabaseURL(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", db.DatabaseURL())
}
