package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return cfgPath
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Device.Address != "" {
		t.Errorf("Device.Address = %q, want empty", cfg.Device.Address)
	}
	if cfg.Timeouts.Handshake != 10*time.Second {
		t.Errorf("Timeouts.Handshake = %s, want 10s", cfg.Timeouts.Handshake)
	}
	if cfg.Timeouts.Response != 5*time.Second {
		t.Errorf("Timeouts.Response = %s, want 5s", cfg.Timeouts.Response)
	}
	if cfg.Timeouts.Scan != 10*time.Second {
		t.Errorf("Timeouts.Scan = %s, want 10s", cfg.Timeouts.Scan)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad(t *testing.T) {
	cfgPath := writeConfig(t, `
device:
  address: " aa:bb:cc:dd:ee:ff "
  name: Jar-Bedroom
timeouts:
  handshake: 3s
  response: 1500ms
  scan: 30s
protocol:
  query_body: "9a 01 00"
log_level: debug
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.Address != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("Device.Address = %q, want %q", cfg.Device.Address, "AA:BB:CC:DD:EE:FF")
	}
	if cfg.Device.Name != "Jar-Bedroom" {
		t.Errorf("Device.Name = %q, want %q", cfg.Device.Name, "Jar-Bedroom")
	}
	if cfg.Timeouts.Handshake != 3*time.Second {
		t.Errorf("Timeouts.Handshake = %s, want 3s", cfg.Timeouts.Handshake)
	}
	if cfg.Timeouts.Response != 1500*time.Millisecond {
		t.Errorf("Timeouts.Response = %s, want 1.5s", cfg.Timeouts.Response)
	}
	if cfg.Timeouts.Scan != 30*time.Second {
		t.Errorf("Timeouts.Scan = %s, want 30s", cfg.Timeouts.Scan)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}

	body, err := cfg.QueryBody()
	if err != nil {
		t.Fatalf("QueryBody() error = %v", err)
	}
	if !bytes.Equal(body, []byte{0x9a, 0x01, 0x00}) {
		t.Errorf("QueryBody() = %x, want 9a0100", body)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	cfgPath := writeConfig(t, `
device:
  address: AA:BB:CC:DD:EE:FF
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Timeouts.Handshake != 10*time.Second {
		t.Errorf("Timeouts.Handshake = %s, want default 10s", cfg.Timeouts.Handshake)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want default info", cfg.LogLevel)
	}
	if body, err := cfg.QueryBody(); body != nil || err != nil {
		t.Errorf("QueryBody() = %x, %v; want nil, nil", body, err)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() should return error for missing file")
	}
}

func TestLoadBadDuration(t *testing.T) {
	cfgPath := writeConfig(t, "timeouts:\n  handshake: soon\n")
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should reject an unparseable duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid default",
			modify: func(c *Config) {},
		},
		{
			name:    "zero handshake timeout",
			modify:  func(c *Config) { c.Timeouts.Handshake = 0 },
			wantErr: "timeouts.handshake",
		},
		{
			name:    "negative response timeout",
			modify:  func(c *Config) { c.Timeouts.Response = -time.Second },
			wantErr: "timeouts.response",
		},
		{
			name:    "zero scan timeout",
			modify:  func(c *Config) { c.Timeouts.Scan = 0 },
			wantErr: "timeouts.scan",
		},
		{
			name:    "query body not hex",
			modify:  func(c *Config) { c.Protocol.QueryBody = "zz" },
			wantErr: "protocol.query_body",
		},
		{
			name:    "query body odd length",
			modify:  func(c *Config) { c.Protocol.QueryBody = "9a0" },
			wantErr: "protocol.query_body",
		},
		{
			name:    "query body only spaces",
			modify:  func(c *Config) { c.Protocol.QueryBody = "  " },
			wantErr: "protocol.query_body",
		},
		{
			name:    "bad log level",
			modify:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: "log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "glowctl", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# glowctl") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Timeouts.Handshake != 10*time.Second {
		t.Errorf("written Timeouts.Handshake = %s, want 10s", cfg.Timeouts.Handshake)
	}

	// The written file must load and validate as-is.
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() of written config error = %v", err)
	}
	if err := loaded.Validate(); err != nil {
		t.Errorf("written config does not validate: %v", err)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "glowctl")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("device:\n  address: AA:BB:CC:DD:EE:FF\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
