// Package config holds the buddhactl application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Device   DeviceConfig `yaml:"device"`
	LogLevel string       `yaml:"log_level"`
}

// DeviceConfig holds scan and connection settings.
type DeviceConfig struct {
	// NamePrefix filters advertised device names, case-insensitively.
	NamePrefix string `yaml:"name_prefix"`
	// ScanTimeoutMs bounds the advertisement scan.
	ScanTimeoutMs int `yaml:"scan_timeout_ms"`
	// AdapterWaitMs bounds the wait for the radio to power on.
	AdapterWaitMs int `yaml:"adapter_wait_ms"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "buddhactl")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			NamePrefix:    "buddha",
			ScanTimeoutMs: 30000,
			AdapterWaitMs: 5000,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device.NamePrefix == "" {
		return fmt.Errorf("device.name_prefix must not be empty")
	}
	if c.Device.ScanTimeoutMs <= 0 {
		return fmt.Errorf("device.scan_timeout_ms must be > 0")
	}
	if c.Device.AdapterWaitMs <= 0 {
		return fmt.Errorf("device.adapter_wait_ms must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a config log level to a slog.Level, defaulting to
// info for anything unrecognized.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
