package logger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	l, err := New(Config{Level: "debug", Format: "json", OutputPath: path})
	require.NoError(t, err)
	l.Info("hello", zap.String("k", "v"))
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"k":"v"`)
}

func TestNew_FailsOnUnwritablePath(t *testing.T) {
	_, err := New(Config{OutputPath: filepath.Join(t.TempDir(), "missing", "dir", "app.log")})
	assert.Error(t, err)
}

func TestMultiLogger_RotatesDaily(t *testing.T) {
	dir := t.TempDir()
	ml, err := NewMultiLogger(MultiLoggerConfig{Level: "info", LogsDir: dir})
	require.NoError(t, err)
	defer ml.Close()

	day := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	ml.now = func() time.Time { return day }
	ml.LogDownloadEvent("item_added", zap.String("uri", "u1"))

	day = day.Add(2 * time.Minute)
	ml.LogDownloadEvent("item_removed", zap.String("uri", "u1"))
	ml.LogAppError("disk full")

	first, err := os.ReadFile(filepath.Join(dir, "downloads-20260301.log"))
	require.NoError(t, err)
	assert.Contains(t, string(first), "item_added")

	second, err := os.ReadFile(filepath.Join(dir, "downloads-20260302.log"))
	require.NoError(t, err)
	assert.Contains(t, string(second), "item_removed")

	errs, err := os.ReadFile(filepath.Join(dir, "error-20260302.log"))
	require.NoError(t, err)
	assert.Contains(t, string(errs), "disk full")
}

func TestNewMultiLogger_RequiresDir(t *testing.T) {
	_, err := NewMultiLogger(MultiLoggerConfig{})
	assert.Error(t, err)
}
