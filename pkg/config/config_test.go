package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ksbot.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// clearEnv unsets the KSBOT_* surface so tests don't pick up the
// developer's exported values. t.Setenv registers the restore.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"KSBOT_NAME", "KSBOT_TOKEN", "KSBOT_STORE_PATH", "KSBOT_RECORD_PATH",
		"KSBOT_LOG_FILE", "KSBOT_LOG_LEVEL", "KSBOT_LOG_FORMAT",
		"KSBOT_STATUS_ADDR", "KSBOT_MIN_INTERVAL", "KSBOT_DEBUG",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadTokenFlagOnly(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("flag-token", "")
	require.NoError(t, err)

	assert.Equal(t, "flag-token", cfg.Token)
	assert.Equal(t, "__bot.db", cfg.StorePath)
	assert.Equal(t, "__bot.json", cfg.RecordPath)
	assert.Equal(t, 3*time.Minute, cfg.Refresh.MinInterval)
}

func TestLoadConfigFileWinsOverFlag(t *testing.T) {
	clearEnv(t)
	path := writeConf(t, "[Main]\nName = newsbot\nToken = file-token\n")

	cfg, err := Load("flag-token", path)
	require.NoError(t, err)

	assert.Equal(t, "file-token", cfg.Token)
	assert.Equal(t, "newsbot", cfg.Name)
}

func TestLoadFileWithoutTokenKeepsFlag(t *testing.T) {
	clearEnv(t)
	path := writeConf(t, "[Main]\nName = newsbot\n")

	cfg, err := Load("flag-token", path)
	require.NoError(t, err)

	assert.Equal(t, "flag-token", cfg.Token)
	assert.Equal(t, "newsbot", cfg.Name)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("KSBOT_TOKEN", "env-token")
	t.Setenv("KSBOT_STORE_PATH", "/var/lib/ksbot/db")
	t.Setenv("KSBOT_LOG_LEVEL", "debug")

	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Token)
	assert.Equal(t, "/var/lib/ksbot/db", cfg.StorePath)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadMissingTokenFails(t *testing.T) {
	clearEnv(t)
	_, err := Load("", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing token")
}

func TestLoadMissingFileFails(t *testing.T) {
	clearEnv(t)
	_, err := Load("tok", filepath.Join(t.TempDir(), "absent.conf"))
	require.Error(t, err)
}

func TestDebugLowersMinInterval(t *testing.T) {
	clearEnv(t)
	t.Setenv("KSBOT_DEBUG", "true")

	cfg, err := Load("tok", "")
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.Equal(t, 12*time.Second, cfg.Refresh.MinInterval)
}

func TestMinIntervalEnvBeatsDebug(t *testing.T) {
	clearEnv(t)
	t.Setenv("KSBOT_MIN_INTERVAL", "45s")
	t.Setenv("KSBOT_DEBUG", "true")

	cfg, err := Load("tok", "")
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Refresh.MinInterval)
}
