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
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("CONFIG_FILE", "")

	require.NoError(t, Load())
	require.NotNil(t, GlobalConfig)
	assert.Equal(t, 5*time.Second, GlobalConfig.StopTimeout)
	assert.Equal(t, 64, GlobalConfig.MaxTracks)
	assert.Equal(t, 4096, GlobalConfig.EventQueueSize)
	assert.Equal(t, "sessions", GlobalConfig.SessionsDir)
	assert.Equal(t, time.UTC, GlobalConfig.Location())
	assert.Equal(t, ":8081", GlobalConfig.HTTPAddr)
	assert.Equal(t, "local", GlobalConfig.CacheType)
	assert.True(t, GlobalConfig.SearchEnabled)
	assert.Equal(t, filepath.Join("sessions", ".search.bleve"), GlobalConfig.SearchIndexPath)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
sessions_dir = "/data/sessions"
timezone = "Asia/Colombo"
stop_timeout = "8s"
max_tracks = 12
whisper_model = "small"
http_addr = ":9999"
cache_type = "redis"
redis_addr = "cache:6379"
search_enabled = false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("WHISPER_MODEL", "large-v3")
	t.Setenv("EVENT_QUEUE_SIZE", "128")

	require.NoError(t, Load())
	cfg := GlobalConfig
	assert.Equal(t, "/data/sessions", cfg.SessionsDir)
	assert.Equal(t, 8*time.Second, cfg.StopTimeout)
	assert.Equal(t, 12, cfg.MaxTracks)
	assert.Equal(t, "large-v3", cfg.WhisperModel, "env overrides the file")
	assert.Equal(t, 128, cfg.EventQueueSize)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, "redis", cfg.CacheType)
	assert.Equal(t, "cache:6379", cfg.RedisAddr)
	assert.False(t, cfg.SearchEnabled)
	assert.Equal(t, filepath.Join("/data/sessions", ".search.bleve"), cfg.SearchIndexPath)

	_, offset := time.Date(2026, 2, 6, 0, 0, 0, 0, cfg.Location()).Zone()
	assert.Equal(t, 5*3600+30*60, offset)
}

func TestLocationFallback(t *testing.T) {
	cfg := Default()
	cfg.Timezone = "Not/AZone"
	assert.Equal(t, time.UTC, cfg.Location())
}
