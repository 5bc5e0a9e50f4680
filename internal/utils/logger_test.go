package utils

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"device-scanner/internal/config"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewLoggerWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "scanner.log")
	logger, err := NewLogger(&config.LoggingConfig{
		Level:   "info",
		Format:  "json",
		Output:  path,
		MaxSize: 1,
	})
	require.NoError(t, err)

	logger.Info("Scanner started", zap.String("port", "/dev/ttyACM0"))
	require.NoError(t, CloseLogger(logger))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"Scanner started"`)
	assert.Contains(t, string(data), `"port":"/dev/ttyACM0"`)
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, err := NewLogger(&config.LoggingConfig{Level: "loud", Output: "stdout"})
	assert.Error(t, err)
}

func TestDeviceLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	dl := NewDeviceLogger(zap.New(core), "drt", "COM4")

	dl.LogAttempt(2, 5, errors.New("busy"))
	dl.LogConnection("open", false, errors.New("exhausted"))

	entries := logs.All()
	require.Len(t, entries, 2)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "drt", ctx["device_type"])
	assert.Equal(t, "COM4", ctx["port"])
	assert.Equal(t, int64(2), ctx["attempt"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}
