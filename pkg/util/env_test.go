package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("SCRIBE_INT", "42")
	t.Setenv("SCRIBE_BOOL", "true")
	t.Setenv("SCRIBE_DUR", "5s")
	t.Setenv("SCRIBE_STR", "  hello ")

	assert.Equal(t, int64(42), GetIntEnv("SCRIBE_INT"))
	assert.True(t, GetBoolEnv("SCRIBE_BOOL"))
	assert.Equal(t, 5*time.Second, GetDurationEnv("SCRIBE_DUR"))
	assert.Equal(t, "hello", GetEnv("SCRIBE_STR"))
	assert.Equal(t, "fallback", GetEnvOr("SCRIBE_MISSING", "fallback"))
	assert.Equal(t, int64(0), GetIntEnv("SCRIBE_MISSING"))
	assert.Equal(t, time.Duration(0), GetDurationEnv("SCRIBE_MISSING"))
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	// 无文件时不报错
	require.NoError(t, LoadEnv("test"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.test"), []byte("SCRIBE_FROM_FILE=env-test\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SCRIBE_FROM_FILE=base\nSCRIBE_BASE_ONLY=yes\n"), 0o644))
	t.Setenv("SCRIBE_FROM_FILE", "")
	os.Unsetenv("SCRIBE_FROM_FILE")
	t.Cleanup(func() { os.Unsetenv("SCRIBE_BASE_ONLY") })

	require.NoError(t, LoadEnv("test"))
	assert.Equal(t, "env-test", os.Getenv("SCRIBE_FROM_FILE"))
	assert.Equal(t, "yes", os.Getenv("SCRIBE_BASE_ONLY"))
}

func TestOpenDatabaseInMemory(t *testing.T) {
	db, err := OpenDatabase("", "")
	require.NoError(t, err)
	var one int
	require.NoError(t, db.Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)
}
