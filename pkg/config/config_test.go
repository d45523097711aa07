package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, time.Duration(0), cfg.SetupTimeout)
	assert.False(t, cfg.IncludeUnnamed)
	assert.Equal(t, 4096, cfg.SampleRetention)
	assert.Equal(t, 256, cfg.FeedBuffer)
	assert.Equal(t, 4096, cfg.RawTailBytes)
	assert.True(t, cfg.ScanAuthorized)
	assert.True(t, cfg.ConnectAuthorized)
	assert.Equal(t, "table", cfg.OutputFormat)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected logrus.Level
	}{
		{"creates logger with debug level", "debug", logrus.DebugLevel},
		{"creates logger with info level", "info", logrus.InfoLevel},
		{"creates logger with warn level", "warn", logrus.WarnLevel},
		{"creates logger with error level", "error", logrus.ErrorLevel},
		{"falls back to info", "chatty", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.expected, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blescope.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("empty path yields defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := writeConfig(t, `
log_level: debug
scan_timeout: 3s
setup_timeout: 15s
include_unnamed: true
sample_retention: 0
connect_authorized: false
service_uuids:
  - 6E400001-B5A3-F393-E0A9-E50E24DCCA9E
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, 3*time.Second, cfg.ScanTimeout)
		assert.Equal(t, 15*time.Second, cfg.SetupTimeout)
		assert.True(t, cfg.IncludeUnnamed)
		assert.Equal(t, 0, cfg.SampleRetention, "0 MUST be kept as unbounded retention")
		assert.False(t, cfg.ConnectAuthorized)
		assert.True(t, cfg.ScanAuthorized, "unset keys MUST keep defaults")
		assert.Equal(t, []string{"6E400001-B5A3-F393-E0A9-E50E24DCCA9E"}, cfg.ServiceUUIDs)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "scan_timeout: [1"))
		assert.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := Load(writeConfig(t, "scan_timeout: -1s\nfeed_buffer: 0\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scan_timeout")
		assert.Contains(t, err.Error(), "feed_buffer")
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"output format", func(c *Config) { c.OutputFormat = "xml" }, "output_format"},
		{"setup timeout", func(c *Config) { c.SetupTimeout = -time.Second }, "setup_timeout"},
		{"retention", func(c *Config) { c.SampleRetention = -1 }, "sample_retention"},
		{"feed too large", func(c *Config) { c.FeedBuffer = maxFeedBuffer + 1 }, "feed_buffer"},
		{"raw tail", func(c *Config) { c.RawTailBytes = -5 }, "raw_tail_bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
