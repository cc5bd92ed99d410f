package logger_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refreshd/pkg/logger"
)

func TestNew_WritesJSONWithServiceField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refreshd.log")
	cfg := logger.DefaultConfig("refreshd-test")
	cfg.OutputPath = path

	l, err := logger.New(cfg)
	require.NoError(t, err)
	l.Info("refresh started")
	l.Debug("suppressed at info level")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "refresh started", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "refreshd-test", entry["service"])
}

func TestGet_ReturnsInitializedLogger(t *testing.T) {
	cfg := logger.DefaultConfig("refreshd-test")
	cfg.OutputPath = filepath.Join(t.TempDir(), "global.log")

	l, err := logger.Init(cfg)
	require.NoError(t, err)
	assert.Same(t, l, logger.Get())
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	cfg := logger.DefaultConfig("refreshd-test")
	cfg.Level = "loud"

	_, err := logger.New(cfg)
	assert.Error(t, err)
}

func TestNew_DebugLevelWritesDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")
	cfg := logger.DefaultConfig("refreshd-test")
	cfg.Level = "debug"
	cfg.OutputPath = path

	l, err := logger.New(cfg)
	require.NoError(t, err)
	l.Debug("lock acquired")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"lock acquired"`)
	assert.Contains(t, string(data), `"level":"debug"`)
}
