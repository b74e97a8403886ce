package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultsAndFile(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/recon_test
server:
  port: 9090
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/recon_test", cfg.Database.URL)
	assert.Equal(t, 9090, cfg.Server.Port)

	// Unset values fall back to defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 25, cfg.Database.MaxConns)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 30, cfg.Ingest.RateLimit)
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/from_file
`)
	t.Setenv("DATABASE_URL", "postgres://localhost/from_env")
	t.Setenv("REDIS_PASSWORD", "hunter2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/from_env", cfg.Database.URL)
	assert.Equal(t, "hunter2", cfg.Redis.Password)
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.url")
}

func TestLoad_BadPort(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/x
server:
  port: 123456
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}
