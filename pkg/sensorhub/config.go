package sensorhub

import (
	"github.com/ghalamif/sensorhub/internal/adapters/firmware/serialfw"
	"github.com/ghalamif/sensorhub/internal/adapters/firmware/sysfs"
	"github.com/ghalamif/sensorhub/internal/app/config"
	"github.com/ghalamif/sensorhub/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy controls outbox and event queue limits.
	Policy = ports.Policy
	// FirmwareConfig selects and tunes the firmware driver.
	FirmwareConfig = config.FirmwareConfig
	// SysfsConfig locates the hwmon device.
	SysfsConfig = sysfs.Config
	// SerialConfig describes the UART.
	SerialConfig = serialfw.Config
	// CalibrationConfig picks the blob store.
	CalibrationConfig = config.CalibrationConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// MonitorConfig configures the websocket event monitor.
	MonitorConfig = config.MonitorConfig
	// NATSConfig configures the NATS event mirror.
	NATSConfig = config.NATSConfig
	// JournalConfig configures the Postgres event journal.
	JournalConfig = config.JournalConfig
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfig returns a config with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}
