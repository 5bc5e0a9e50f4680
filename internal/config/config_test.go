package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, cfg.Scanner.PollInterval)
	assert.Equal(t, 5, cfg.Scanner.OpenAttempts)
	assert.Equal(t, time.Second, cfg.Scanner.RetryDelay)
	assert.Equal(t, 64, cfg.Scanner.EventBuffer)
	assert.Equal(t, "none", cfg.Serial.Parity)
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, 720*time.Hour, cfg.Database.Retention)
	assert.Equal(t, 6*time.Second, cfg.Scanner.StopTimeout)
	assert.Equal(t, "127.0.0.1:8085", cfg.GetServerAddr())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
app:
  environment: test
scanner:
  poll_interval: 250ms
  open_attempts: 3
  profiles:
    - device_type: wdrt
      vendor_id: "0x239A"
      product_id: "800C"
logging:
  level: debug
`)

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Scanner.PollInterval)
	assert.Equal(t, 3, cfg.Scanner.OpenAttempts)
	require.Len(t, cfg.Scanner.Profiles, 1)
	assert.Equal(t, "wdrt", cfg.Scanner.Profiles[0].DeviceType)
	assert.Equal(t, "0x239A", cfg.Scanner.Profiles[0].VendorID)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DEVICE_SCANNER_SCANNER_RETRY_DELAY", "2s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Scanner.RetryDelay)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero attempts", "scanner:\n  open_attempts: 0\n"},
		{"bad level", "logging:\n  level: loud\n"},
		{"bad parity", "serial:\n  parity: sideways\n"},
		{"profile without type", "scanner:\n  profiles:\n    - vendor_id: \"1\"\n      product_id: \"2\"\n"},
		{"bad environment", "app:\n  environment: moon\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "config validation failed")
		})
	}
}
