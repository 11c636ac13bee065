package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 120, cfg.Cache.MaxFrames)
	assert.Equal(t, int64(512*1024*1024), cfg.Cache.MaxBytes)
	assert.Equal(t, 8, cfg.Cache.PoolSize)
	assert.Equal(t, 2.0, cfg.Preload.RadiusSeconds)
	assert.Equal(t, 2, cfg.Preload.MaxConcurrent)
	assert.Equal(t, 24.0, cfg.Monitor.MinFrameRate)
	assert.Equal(t, uint64(1<<30), cfg.Monitor.MaxMemoryBytes)
	assert.Equal(t, 50*time.Millisecond, cfg.Monitor.MaxDecodeTime)
	assert.Equal(t, 16*time.Millisecond, cfg.Monitor.MaxRenderTime)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Load(""))
	assert.Equal(t, Default(), m.Get())
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "velocut.yaml")
	data := []byte(`
server:
  port: 9100
cache:
  max_frames: 60
  pool_size: 4
preload:
  radius_seconds: 3.5
monitor:
  min_frame_rate: 30
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	m := NewManager()
	require.NoError(t, m.Load(path))

	cfg := m.Get()
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 60, cfg.Cache.MaxFrames)
	assert.Equal(t, 4, cfg.Cache.PoolSize)
	assert.Equal(t, 3.5, cfg.Preload.RadiusSeconds)
	assert.Equal(t, 30.0, cfg.Monitor.MinFrameRate)
	// Untouched sections keep their defaults.
	assert.Equal(t, 2, cfg.Preload.MaxConcurrent)
	assert.Equal(t, path, m.Path())
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "velocut.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9100\n"), 0o644))

	t.Setenv("VELOCUT_PORT", "9200")
	t.Setenv("VELOCUT_CACHE_MAX_FRAMES", "42")
	t.Setenv("VELOCUT_POOL_ACQUIRE_TIMEOUT", "500ms")
	t.Setenv("VELOCUT_PRELOAD_RADIUS", "4.5")

	m := NewManager()
	require.NoError(t, m.Load(path))

	cfg := m.Get()
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, 42, cfg.Cache.MaxFrames)
	assert.Equal(t, 500*time.Millisecond, cfg.Cache.PoolAcquireTimeout)
	assert.Equal(t, 4.5, cfg.Preload.RadiusSeconds)
}

func TestValidationRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"port out of range", map[string]string{"VELOCUT_PORT": "99999"}},
		{"zero max frames", map[string]string{"VELOCUT_CACHE_MAX_FRAMES": "0"}},
		{"zero pool size", map[string]string{"VELOCUT_POOL_SIZE": "0"}},
		{"zero fps window", map[string]string{"VELOCUT_FRAME_RATE_WINDOW": "0"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			m := NewManager()
			assert.Error(t, m.Load(""))
		})
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "velocut.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	m := NewManager()
	assert.Error(t, m.Load(path))
}

func TestWatchersSeeOldAndNewConfig(t *testing.T) {
	m := NewManager()

	var gotOld, gotNew *Config
	m.AddWatcher(func(oldCfg, newCfg *Config) {
		gotOld, gotNew = oldCfg, newCfg
	})

	t.Setenv("VELOCUT_PORT", "9300")
	require.NoError(t, m.Load(""))

	require.NotNil(t, gotOld)
	require.NotNil(t, gotNew)
	assert.Equal(t, 8090, gotOld.Server.Port)
	assert.Equal(t, 9300, gotNew.Server.Port)
}

func TestGetReturnsCopy(t *testing.T) {
	m := NewManager()
	cfg := m.Get()
	cfg.Server.Port = 1

	assert.Equal(t, 8090, m.Get().Server.Port)
}
