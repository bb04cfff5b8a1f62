package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9090", cfg.Backend.URL)
	assert.Equal(t, 10*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Live.FrameInterval)
	assert.Equal(t, 10*time.Second, cfg.Live.DialTimeout)
	assert.Equal(t, 2*time.Hour, cfg.Redis.TTL)
	assert.Equal(t, "sentinel", cfg.Mongo.Database)
	assert.False(t, cfg.Debug)
}

func TestLoadFileAndEnv(t *testing.T) {
	file := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
debug: true
backend:
  url: https://proctor.example.com
live:
  frame-interval: 250ms
auth:
  email: proctor@example.com
`), 0o600))

	t.Setenv("SENTINEL_LIVE_DIAL_TIMEOUT", "3s")
	t.Setenv("SENTINEL_AUTH_PASSWORD", "secret")

	cfg, err := Load(viper.New(), file)
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.Equal(t, "https://proctor.example.com", cfg.Backend.URL)
	assert.Equal(t, 250*time.Millisecond, cfg.Live.FrameInterval)
	assert.Equal(t, 3*time.Second, cfg.Live.DialTimeout)
	assert.Equal(t, "proctor@example.com", cfg.Auth.Email)
	assert.Equal(t, "secret", cfg.Auth.Password)
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("SENTINEL_LIVE_FRAME_INTERVAL", "0s")
	chdir(t, t.TempDir())
	_, err = Load(viper.New(), "")
	assert.Error(t, err)
}

// chdir changes the working directory for the duration of the test
// (testing.T.Chdir is unavailable before Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { require.NoError(t, os.Chdir(old)) })
}
