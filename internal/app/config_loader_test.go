package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/offline-downloads-go/internal/domain"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9999
downloads:
  user_required: false
  download_just_wifi: false
  platform: ios
  log_key: "[Offline]"
  native_call_timeout: 5s
storage:
  database_path: /tmp/offline-test.db
network:
  type_override: wifi
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, config.Server.Port)
	assert.Equal(t, "localhost", config.Server.Host)
	assert.False(t, config.Downloads.UserRequired)
	assert.False(t, config.Downloads.DownloadJustWifi)
	assert.Equal(t, domain.PlatformIOS, config.Downloads.Platform)
	assert.Equal(t, "[Offline]", config.Downloads.LogKey)
	assert.Equal(t, 5*time.Second, config.Downloads.NativeCallTimeout)
	assert.Equal(t, "/tmp/offline-test.db", config.Storage.DatabasePath)
	assert.Equal(t, domain.NetworkTypeWifi, config.Network.TypeOverride)
	assert.Equal(t, "yt-dlp", config.Engine.Binary)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 9000\n")
	t.Setenv("OFFLINE_SERVER_PORT", "9100")
	t.Setenv("OFFLINE_DOWNLOADS_DISABLED", "true")

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, config.Server.Port)
	assert.True(t, config.Downloads.Disabled)
}

func TestLoadConfig_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := writeConfigFile(t, "storage:\n  database_path: $HOME/db/downloads.db\n")

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "db", "downloads.db"), config.Storage.DatabasePath)
	assert.Equal(t, filepath.Join(home, ".offline-downloads", "media"), config.Downloads.RootDir)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad port", "server:\n  port: 70000\n"},
		{"bad platform", "downloads:\n  platform: web\n"},
		{"no database", "storage:\n  database_path: \"\"\n"},
		{"zero buffer", "downloads:\n  event_buffer: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfigFile(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	config := domain.DefaultConfig()
	config.Server.Port = 8123
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, SaveConfig(config, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8123, loaded.Server.Port)
}
