package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/sensorhub/internal/adapters/firmware/serialfw"
	"github.com/ghalamif/sensorhub/internal/adapters/firmware/sysfs"
	"github.com/ghalamif/sensorhub/internal/adapters/natspub"
	"github.com/ghalamif/sensorhub/internal/domain"
	"github.com/ghalamif/sensorhub/internal/ports"
)

type Config struct {
	Socket      SocketConfig                `yaml:"socket"`
	Firmware    FirmwareConfig              `yaml:"firmware"`
	Resources   []domain.ResourceDescriptor `yaml:"resources"`
	Calibration CalibrationConfig           `yaml:"calibration"`
	Policy      ports.Policy                `yaml:"policy"`
	Metrics     MetricsConfig               `yaml:"metrics"`
	Monitor     MonitorConfig               `yaml:"monitor"`
	NATS        NATSConfig                  `yaml:"nats"`
	Journal     JournalConfig               `yaml:"journal"`
	Log         LogConfig                   `yaml:"log"`
}

type SocketConfig struct {
	Path string `yaml:"path"`
}

type FirmwareConfig struct {
	Driver          string          `yaml:"driver"` // "sysfs", "serial"
	Sysfs           sysfs.Config    `yaml:"sysfs"`
	Serial          serialfw.Config `yaml:"serial"`
	DiscoverTimeout time.Duration   `yaml:"discover_timeout"`
	RestartBackoff  time.Duration   `yaml:"restart_backoff"`
}

type CalibrationConfig struct {
	Store    string         `yaml:"store"` // "file", "postgres"
	Dir      string         `yaml:"dir"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type MonitorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type NATSConfig struct {
	natspub.Config `yaml:",inline"`
}

// Enabled reports whether hub events are mirrored to NATS.
func (n NATSConfig) Enabled() bool { return n.URL != "" }

type JournalConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a config with every default applied, as if loaded from an empty file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Socket.Path == "" {
		c.Socket.Path = "/run/sensorhub/sensorhubd.sock"
	}
	if c.Firmware.Driver == "" {
		c.Firmware.Driver = "sysfs"
	}
	if c.Firmware.DiscoverTimeout == 0 {
		c.Firmware.DiscoverTimeout = 3 * time.Second
	}
	if c.Firmware.RestartBackoff == 0 {
		c.Firmware.RestartBackoff = 2 * time.Second
	}
	c.Firmware.Sysfs.ApplyDefaults()
	c.Firmware.Serial.ApplyDefaults()

	if c.Calibration.Store == "" {
		c.Calibration.Store = "file"
	}
	if c.Calibration.Dir == "" {
		c.Calibration.Dir = "/var/lib/sensorhub"
	}
	if c.Calibration.Postgres.Table == "" {
		c.Calibration.Postgres.Table = "calibration_blobs"
	}

	if c.Policy.MaxOutboxLen == 0 {
		c.Policy.MaxOutboxLen = 1024
	}
	if c.Policy.OnOutboxFull == "" {
		c.Policy.OnOutboxFull = "drop"
	}
	if c.Policy.MaxEventQueue == 0 {
		c.Policy.MaxEventQueue = 10_000
	}
	if c.Policy.MaxBatchSize == 0 {
		c.Policy.MaxBatchSize = 256
	}
	if c.Policy.IdleSleep == 0 {
		c.Policy.IdleSleep = 5 * time.Millisecond
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9110"
	}
	if c.Monitor.Path == "" {
		c.Monitor.Path = "/ws/events"
	}
	c.NATS.ApplyDefaults()
	if c.Journal.Table == "" {
		c.Journal.Table = "hub_events"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	if c.Socket.Path == "" {
		return fmt.Errorf("socket.path is required")
	}
	switch c.Firmware.Driver {
	case "sysfs":
		if len(c.Firmware.Sysfs.Match) == 0 {
			return fmt.Errorf("firmware.sysfs.match needs at least one modalias pattern")
		}
	case "serial":
		if err := c.Firmware.Serial.Validate(); err != nil {
			return fmt.Errorf("firmware.serial: %w", err)
		}
	default:
		return fmt.Errorf("firmware.driver %q: want sysfs or serial", c.Firmware.Driver)
	}
	if c.Firmware.DiscoverTimeout < 0 || c.Firmware.RestartBackoff < 0 {
		return fmt.Errorf("firmware timeouts must not be negative")
	}
	if err := validateResources(c.Resources); err != nil {
		return err
	}

	switch c.Calibration.Store {
	case "file":
		if c.Calibration.Dir == "" {
			return fmt.Errorf("calibration.dir is required")
		}
	case "postgres":
		if c.Calibration.Postgres.ConnString == "" {
			return fmt.Errorf("calibration.postgres.conn_string is required")
		}
	default:
		return fmt.Errorf("calibration.store %q: want file or postgres", c.Calibration.Store)
	}

	switch c.Policy.OnOutboxFull {
	case "drop", "disconnect":
	default:
		return fmt.Errorf("policy.on_outbox_full %q: want drop or disconnect", c.Policy.OnOutboxFull)
	}
	if c.Policy.MaxOutboxLen < 0 || c.Policy.MaxEventQueue < 0 || c.Policy.MaxBatchSize < 0 {
		return fmt.Errorf("policy limits must not be negative")
	}

	if c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required")
	}
	if c.Journal.Enabled && c.Journal.ConnString == "" {
		return fmt.Errorf("journal.conn_string is required when the journal is enabled")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q: want debug, info, warn or error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q: want text or json", c.Log.Format)
	}
	return nil
}

func validateResources(descs []domain.ResourceDescriptor) error {
	names := make(map[string]bool, len(descs))
	ids := make(map[uint8]bool, len(descs))
	for i, d := range descs {
		if d.Name == "" || len(d.Name) > domain.MaxResourceNameLen {
			return fmt.Errorf("resources[%d]: invalid name %q", i, d.Name)
		}
		if d.Name == domain.EventResourceName {
			return fmt.Errorf("resources[%d]: %s is reserved", i, d.Name)
		}
		if names[d.Name] || ids[d.ID] {
			return fmt.Errorf("resources[%d]: duplicate name %q or id %d", i, d.Name, d.ID)
		}
		names[d.Name] = true
		ids[d.ID] = true
	}
	return nil
}
