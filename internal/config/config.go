package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/ara-light/internal/ble"
	"github.com/chaz8081/ara-light/internal/codec"
)

// Config holds all application configuration.
type Config struct {
	Device   DeviceConfig  `yaml:"device"`
	Timing   TimingConfig  `yaml:"timing"`
	Session  SessionConfig `yaml:"session"`
	Breaker  BreakerConfig `yaml:"breaker"`
	Blocks   BlocksConfig  `yaml:"blocks"`
	Log      LogConfig     `yaml:"log"`
	Tracing  TracingConfig `yaml:"tracing"`
	LogLevel string        `yaml:"log_level"`
}

// DeviceConfig identifies the light and the firmware revision it runs.
type DeviceConfig struct {
	ID              string              `yaml:"id"`       // address to connect to; empty means scan
	Firmware        string              `yaml:"firmware"` // codec profile: "v2" or "v3"
	ServiceUUID     string              `yaml:"service_uuid"`
	OptionalService string              `yaml:"optional_service_uuid"` // searched when a characteristic is not in service_uuid; empty disables
	Characteristics CharacteristicUUIDs `yaml:"characteristics"`
}

// CharacteristicUUIDs holds the per-channel characteristic UUIDs.
type CharacteristicUUIDs struct {
	Switch      string `yaml:"switch"`
	Brightness  string `yaml:"brightness"`
	Temperature string `yaml:"temperature"`
}

// TimingConfig holds poll intervals and safety deadlines.
type TimingConfig struct {
	SwitchPoll      time.Duration `yaml:"switch_poll"`
	BrightnessPoll  time.Duration `yaml:"brightness_poll"`
	TemperaturePoll time.Duration `yaml:"temperature_poll"`
	Inactivity      time.Duration `yaml:"inactivity"`
	BusyTimeout     time.Duration `yaml:"busy_timeout"`
	ScanTimeout     time.Duration `yaml:"scan_timeout"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ReconnectMax    time.Duration `yaml:"reconnect_max"` // backoff cap for watch --reconnect
}

// SessionConfig holds session manager policy switches.
type SessionConfig struct {
	OptimisticUpdates bool `yaml:"optimistic_updates"`
	Notifications     bool `yaml:"notifications"`
	WriteWithResponse bool `yaml:"write_with_response"`
}

// BreakerConfig configures the connect circuit breaker.
type BreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// BlocksConfig holds block adapter settings.
type BlocksConfig struct {
	FlashInterval time.Duration `yaml:"flash_interval"`
}

// LogConfig holds log output settings. Level lives in Config.LogLevel.
type LogConfig struct {
	Format     string `yaml:"format"` // "text" or "json"
	Output     string `yaml:"output"` // "stderr", "stdout" or a file path
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ara-light")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Firmware:        codec.DefaultProfile,
			ServiceUUID:     ble.LightingServiceUUID,
			OptionalService: ble.OptionalServiceUUID,
			Characteristics: CharacteristicUUIDs{
				Switch:      ble.SwitchCharUUID,
				Brightness:  ble.BrightnessCharUUID,
				Temperature: ble.TemperatureCharUUID,
			},
		},
		Timing: TimingConfig{
			SwitchPoll:      100 * time.Millisecond,
			BrightnessPoll:  125 * time.Millisecond,
			TemperaturePoll: time.Second,
			Inactivity:      4500 * time.Millisecond,
			BusyTimeout:     5 * time.Second,
			ScanTimeout:     5 * time.Second,
			ConnectTimeout:  10 * time.Second,
			ReconnectMax:    30 * time.Second,
		},
		Session: SessionConfig{
			OptimisticUpdates: true,
			WriteWithResponse: true,
		},
		Breaker: BreakerConfig{
			Enabled:     true,
			MaxFailures: 3,
			Timeout:     30 * time.Second,
		},
		Blocks: BlocksConfig{
			FlashInterval: 400 * time.Millisecond,
		},
		Log: LogConfig{
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Tracing: TracingConfig{
			Exporter: "noop",
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

const defaultHeader = `# ara-light configuration
# Durations use Go syntax (100ms, 4.5s).
`

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there. It returns the written path, or "" when a config already
// exists.
func WriteDefault() (string, error) {
	return WriteDefaultTo(DefaultConfigPath())
}

// WriteDefaultTo is WriteDefault for an explicit path.
func WriteDefaultTo(path string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
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

// ParseLogLevel converts a log_level string to a slog.Level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := codec.Profile(c.Device.Firmware); err != nil {
		return fmt.Errorf("device.firmware: %w", err)
	}

	uuids := [][2]string{
		{"device.service_uuid", c.Device.ServiceUUID},
		{"device.characteristics.switch", c.Device.Characteristics.Switch},
		{"device.characteristics.brightness", c.Device.Characteristics.Brightness},
		{"device.characteristics.temperature", c.Device.Characteristics.Temperature},
	}
	if c.Device.OptionalService != "" {
		uuids = append(uuids, [2]string{"device.optional_service_uuid", c.Device.OptionalService})
	}
	for _, u := range uuids {
		if _, err := uuid.Parse(u[1]); err != nil {
			return fmt.Errorf("%s must be a UUID, got %q: %w", u[0], u[1], err)
		}
	}

	durations := []struct {
		field string
		value time.Duration
	}{
		{"timing.switch_poll", c.Timing.SwitchPoll},
		{"timing.brightness_poll", c.Timing.BrightnessPoll},
		{"timing.temperature_poll", c.Timing.TemperaturePoll},
		{"timing.inactivity", c.Timing.Inactivity},
		{"timing.busy_timeout", c.Timing.BusyTimeout},
		{"timing.scan_timeout", c.Timing.ScanTimeout},
		{"timing.connect_timeout", c.Timing.ConnectTimeout},
		{"timing.reconnect_max", c.Timing.ReconnectMax},
		{"blocks.flash_interval", c.Blocks.FlashInterval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be > 0", d.field)
		}
	}

	if c.Breaker.Enabled && c.Breaker.MaxFailures == 0 {
		return fmt.Errorf("breaker.max_failures must be > 0 when the breaker is enabled")
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format)
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "stdout", "noop":
		default:
			return fmt.Errorf("tracing.exporter must be \"stdout\" or \"noop\", got %q", c.Tracing.Exporter)
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}
