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
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "5000", cfg.TCPPort)
	assert.Equal(t, "3000", cfg.HTTPPort)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "GPS_Data_Log.txt", cfg.RawLogFile)
	assert.Equal(t, 4096, cfg.ReadBufferSize)
	assert.Equal(t, 5*time.Second, cfg.SinkTimeout)
	assert.Zero(t, cfg.IdleTimeout)
	assert.Empty(t, cfg.RedisAddr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TCP_PORT", "7000")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "file:gps.db")
	t.Setenv("WORKERS", "9")
	t.Setenv("IDLE_TIMEOUT", "90s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.TCPPort)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "file:gps.db", cfg.DatabaseURL)
	assert.Equal(t, 9, cfg.Workers)
	assert.Equal(t, 90*time.Second, cfg.IdleTimeout)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gps.yaml")
	require.NoError(t, os.WriteFile(path, []byte("HTTP_PORT: \"8088\"\nREDIS_ADDR: \"redis:6379\"\n"), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_PORT", "8099")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8099", cfg.HTTPPort, "env wins over file")
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestLocation(t *testing.T) {
	assert.Equal(t, time.Local, Config{}.Location())
	assert.Equal(t, time.Local, Config{RawLogTZ: "Nowhere/City"}.Location())
	assert.Equal(t, "UTC", Config{RawLogTZ: "UTC"}.Location().String())
}
