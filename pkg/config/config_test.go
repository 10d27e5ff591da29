package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	profileYAML := `
name: Staging
cache:
  ttl_seconds: 30
  capacity: 500
sandbox:
  timeout_seconds: 60
  memory_limit_mb: 32
workers:
  sandbox: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_staging.yaml"), []byte(profileYAML), 0o644))

	p, err := LoadProfile(dir, "STAGING")
	require.NoError(t, err)

	assert.Equal(t, "Staging", p.Name)
	assert.Equal(t, "staging", p.Code, "code falls back to the filename")
	assert.Equal(t, 30*time.Second, p.Cache.TTL())
	assert.Equal(t, 500, p.Cache.Capacity)
	assert.Equal(t, time.Minute, p.Sandbox.Timeout())
	assert.Equal(t, 2, p.Workers.Sandbox)
}

func TestLoadProfileMissing(t *testing.T) {
	_, err := LoadProfile(t.TempDir(), "ghost")
	assert.Error(t, err)
}

func TestLoadAllProfiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_dev.yaml"),
		[]byte("name: Dev\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_prod.yaml"),
		[]byte("name: Prod\ncode: prod\n"), 0o644))

	profiles, err := LoadAllProfiles(dir)
	require.NoError(t, err)

	require.Len(t, profiles, 2)
	assert.Equal(t, "Dev", profiles["dev"].Name)
	assert.Equal(t, "Prod", profiles["prod"].Name)
}
