package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/ara-light/internal/ble"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Device.Firmware != "v3" {
		t.Errorf("Device.Firmware = %q, want %q", cfg.Device.Firmware, "v3")
	}
	if cfg.Device.ServiceUUID != ble.LightingServiceUUID {
		t.Errorf("Device.ServiceUUID = %q, want %q", cfg.Device.ServiceUUID, ble.LightingServiceUUID)
	}
	if cfg.Timing.SwitchPoll != 100*time.Millisecond {
		t.Errorf("Timing.SwitchPoll = %v, want 100ms", cfg.Timing.SwitchPoll)
	}
	if cfg.Timing.BrightnessPoll != 125*time.Millisecond {
		t.Errorf("Timing.BrightnessPoll = %v, want 125ms", cfg.Timing.BrightnessPoll)
	}
	if cfg.Timing.Inactivity != 4500*time.Millisecond {
		t.Errorf("Timing.Inactivity = %v, want 4.5s", cfg.Timing.Inactivity)
	}
	if cfg.Timing.BusyTimeout != 5*time.Second {
		t.Errorf("Timing.BusyTimeout = %v, want 5s", cfg.Timing.BusyTimeout)
	}
	if !cfg.Session.OptimisticUpdates {
		t.Error("Session.OptimisticUpdates should default to true")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
device:
  id: "AA:BB:CC:DD:EE:FF"
  firmware: v2
timing:
  switch_poll: 250ms
  inactivity: 10s
session:
  optimistic_updates: false
  notifications: true
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.ID != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("Device.ID = %q, want %q", cfg.Device.ID, "AA:BB:CC:DD:EE:FF")
	}
	if cfg.Device.Firmware != "v2" {
		t.Errorf("Device.Firmware = %q, want %q", cfg.Device.Firmware, "v2")
	}
	if cfg.Timing.SwitchPoll != 250*time.Millisecond {
		t.Errorf("Timing.SwitchPoll = %v, want 250ms", cfg.Timing.SwitchPoll)
	}
	if cfg.Timing.Inactivity != 10*time.Second {
		t.Errorf("Timing.Inactivity = %v, want 10s", cfg.Timing.Inactivity)
	}
	if cfg.Session.OptimisticUpdates {
		t.Error("Session.OptimisticUpdates = true, want false")
	}
	if !cfg.Session.Notifications {
		t.Error("Session.Notifications = false, want true")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}

	// Fields absent from the file keep their defaults.
	if cfg.Timing.BrightnessPoll != 125*time.Millisecond {
		t.Errorf("Timing.BrightnessPoll = %v, want default 125ms", cfg.Timing.BrightnessPoll)
	}
	if cfg.Device.Characteristics.Switch != ble.SwitchCharUUID {
		t.Errorf("Characteristics.Switch = %q, want default", cfg.Device.Characteristics.Switch)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("timing: [not, a, map"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should fail on malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "unknown firmware",
			modify:  func(c *Config) { c.Device.Firmware = "v9" },
			wantErr: true,
		},
		{
			name:    "malformed service uuid",
			modify:  func(c *Config) { c.Device.ServiceUUID = "ffe8badc" },
			wantErr: true,
		},
		{
			name:    "malformed characteristic uuid",
			modify:  func(c *Config) { c.Device.Characteristics.Brightness = "not-a-uuid" },
			wantErr: true,
		},
		{
			name:    "empty optional service is allowed",
			modify:  func(c *Config) { c.Device.OptionalService = "" },
			wantErr: false,
		},
		{
			name:    "zero poll interval",
			modify:  func(c *Config) { c.Timing.SwitchPoll = 0 },
			wantErr: true,
		},
		{
			name:    "negative busy timeout",
			modify:  func(c *Config) { c.Timing.BusyTimeout = -time.Second },
			wantErr: true,
		},
		{
			name:    "breaker without failure threshold",
			modify:  func(c *Config) { c.Breaker.MaxFailures = 0 },
			wantErr: true,
		},
		{
			name: "disabled breaker ignores threshold",
			modify: func(c *Config) {
				c.Breaker.Enabled = false
				c.Breaker.MaxFailures = 0
			},
			wantErr: false,
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: true,
		},
		{
			name: "invalid tracing exporter",
			modify: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "jaeger"
			},
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
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

	expectedPath := filepath.Join(tmpHome, ".config", "ara-light", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	if !strings.HasPrefix(string(data), "# ara-light") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Timing.BrightnessPoll != 125*time.Millisecond {
		t.Errorf("written config Timing.BrightnessPoll = %v, want 125ms", cfg.Timing.BrightnessPoll)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("written config does not validate: %v", err)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	existing := []byte("log_level: debug\n")
	if err := os.WriteFile(cfgPath, existing, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefaultTo(cfgPath)
	if err != nil {
		t.Fatalf("WriteDefaultTo() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefaultTo() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existing) {
		t.Errorf("existing config was modified: %q", data)
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
