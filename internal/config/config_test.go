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
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "redis", cfg.Store)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.False(t, cfg.IsProduction())
}

func TestLoadFromDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("STORE=memory\nWORKERS=3\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("STORE")
		os.Unsetenv("WORKERS")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, 3, cfg.Workers)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("REDIS_DB", "not-an-int")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestValidate(t *testing.T) {
	cfg := &Config{Store: "postgres", Workers: 1}
	assert.Error(t, cfg.Validate())

	cfg = &Config{Store: "memory", Env: "production", Workers: 1}
	assert.Error(t, cfg.Validate())

	cfg.JWTSecret = "s"
	assert.NoError(t, cfg.Validate())
}
