package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Timeouts TimeoutConfig  `yaml:"timeouts"`
	Protocol ProtocolConfig `yaml:"protocol"`
	LogLevel string         `yaml:"log_level"`
}

// DeviceConfig identifies the light to talk to.
type DeviceConfig struct {
	Address string `yaml:"address"` // MAC, or peripheral UUID on macOS
	Name    string `yaml:"name"`
}

// TimeoutConfig bounds every wait on the device.
type TimeoutConfig struct {
	Handshake time.Duration `yaml:"handshake"`
	Response  time.Duration `yaml:"response"`
	Scan      time.Duration `yaml:"scan"`
}

// ProtocolConfig holds wire-level overrides.
type ProtocolConfig struct {
	// QueryBody replaces the state query action body, as hex.
	QueryBody string `yaml:"query_body"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "glowctl")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Timeouts: TimeoutConfig{
			Handshake: 10 * time.Second,
			Response:  5 * time.Second,
			Scan:      10 * time.Second,
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

	cfg.Device.Address = strings.ToUpper(strings.TrimSpace(cfg.Device.Address))

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Timeouts.Handshake <= 0 {
		return fmt.Errorf("timeouts.handshake must be > 0")
	}
	if c.Timeouts.Response <= 0 {
		return fmt.Errorf("timeouts.response must be > 0")
	}
	if c.Timeouts.Scan <= 0 {
		return fmt.Errorf("timeouts.scan must be > 0")
	}

	if c.Protocol.QueryBody != "" {
		if _, err := c.QueryBody(); err != nil {
			return err
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// QueryBody decodes the protocol.query_body override. It returns nil when
// no override is set.
func (c *Config) QueryBody() ([]byte, error) {
	if c.Protocol.QueryBody == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(strings.ReplaceAll(c.Protocol.QueryBody, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("protocol.query_body must be hex: %w", err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("protocol.query_body must not be empty")
	}
	return b, nil
}

// ParseLogLevel maps a config log level onto slog. Unknown values mean info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

const defaultHeader = `# glowctl configuration
#
# device.address is the light's MAC (a peripheral UUID on macOS).
# Run "glowctl discover" to find it.
`

// WriteDefault writes the default config to DefaultConfigPath and returns
// the path. It returns ("", nil) when a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("checking %s: %w", path, err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}
