package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel     string `yaml:"log_level" json:"log_level" default:"info"`
	OutputFormat string `yaml:"output_format" json:"output_format" default:"table"` // table, json
	Listen       string `yaml:"listen" json:"listen" default:":8080"`

	// Scanning
	ScanTimeout    time.Duration `yaml:"scan_timeout" json:"scan_timeout" default:"10s"`
	IncludeUnnamed bool          `yaml:"include_unnamed" json:"include_unnamed" default:"false"`
	AllowList      []string      `yaml:"allow_list" json:"allow_list,omitempty"`
	BlockList      []string      `yaml:"block_list" json:"block_list,omitempty"`
	ServiceUUIDs   []string      `yaml:"service_uuids" json:"service_uuids,omitempty"`

	// Streaming
	SetupTimeout    time.Duration `yaml:"setup_timeout" json:"setup_timeout" default:"0s"`
	SampleRetention int           `yaml:"sample_retention" json:"sample_retention" default:"4096"`
	FeedBuffer      int           `yaml:"feed_buffer" json:"feed_buffer" default:"256"`
	RawTailBytes    int           `yaml:"raw_tail_bytes" json:"raw_tail_bytes" default:"4096"`

	// Runtime grants as reported by the platform
	ScanAuthorized    bool `yaml:"scan_authorized" json:"scan_authorized" default:"true"`
	ConnectAuthorized bool `yaml:"connect_authorized" json:"connect_authorized" default:"true"`
}

// maxFeedBuffer mirrors the live feed's upper bound
const maxFeedBuffer = 1 << 20

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field at once
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch strings.ToLower(c.OutputFormat) {
	case "table", "json":
	default:
		errs = append(errs, fmt.Errorf("output_format: unsupported %q (table, json)", c.OutputFormat))
	}
	if c.ScanTimeout <= 0 {
		errs = append(errs, fmt.Errorf("scan_timeout: must be positive, got %s", c.ScanTimeout))
	}
	if c.SetupTimeout < 0 {
		errs = append(errs, fmt.Errorf("setup_timeout: must not be negative, got %s", c.SetupTimeout))
	}
	if c.SampleRetention < 0 {
		errs = append(errs, fmt.Errorf("sample_retention: must not be negative, got %d", c.SampleRetention))
	}
	if c.FeedBuffer <= 0 || c.FeedBuffer > maxFeedBuffer {
		errs = append(errs, fmt.Errorf("feed_buffer: must be in 1..%d, got %d", maxFeedBuffer, c.FeedBuffer))
	}
	if c.RawTailBytes < 0 {
		errs = append(errs, fmt.Errorf("raw_tail_bytes: must not be negative, got %d", c.RawTailBytes))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level, Info when unparsable
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
