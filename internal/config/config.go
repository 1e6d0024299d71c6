package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"rpiweatherd/internal/device"
	"rpiweatherd/internal/utils"
)

const (
	DefaultPath         = "/etc/rpiweatherd/rpiweatherd.conf"
	DefaultTriggerFile  = "/etc/rpiweatherd/rpiwd_triggers.conf"
	DefaultDatabase     = "/var/lib/rpiweatherd/weatherd.db"
	DefaultPIDFile      = "/tmp/rpiweatherd.pid"
	DefaultInterval     = "1h"
	DefaultPort         = 6005
	DefaultWorkers      = 1
	MaxWorkers          = 4
	DefaultTempUnit     = "f"
	DefaultTriggerUser  = "rpiweatherd"
	DefaultCPUSoftLimit = 5
	DefaultCPUHardLimit = 10
	DefaultMQTTTopic    = "rpiweatherd/readings"
)

// Config is the daemon configuration. A loaded Config is never modified;
// reloads build a new one.
type Config struct {
	Location        string
	QueryInterval   string
	DefaultTempUnit string
	Database        string
	PIDFile         string
	LogLevel        string
	LogFile         string

	DeviceName    string
	DeviceConfig  int
	ModbusAddress string

	Port           int
	Workers        int
	MetricsAddress string

	TriggerFile  string
	TriggerUser  string
	CPUSoftLimit int
	CPUHardLimit int

	MQTT MQTT

	// Warnings collects non-fatal remarks produced while loading.
	Warnings []string
}

// MQTT configures the optional reading publisher.
type MQTT struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      int
}

// Default returns a Config holding every default value.
func Default() *Config {
	return &Config{
		QueryInterval:   DefaultInterval,
		DefaultTempUnit: DefaultTempUnit,
		Database:        DefaultDatabase,
		PIDFile:         DefaultPIDFile,
		LogLevel:        "info",
		DeviceName:      device.Simulated,
		Port:            DefaultPort,
		Workers:         DefaultWorkers,
		TriggerFile:     DefaultTriggerFile,
		TriggerUser:     DefaultTriggerUser,
		CPUSoftLimit:    DefaultCPUSoftLimit,
		CPUHardLimit:    DefaultCPUHardLimit,
		MQTT:            MQTT{Topic: DefaultMQTTTopic, ClientID: "rpiweatherd"},
	}
}

// Load reads path (INI, or YAML for .yaml/.yml), applies WEATHERD_*
// environment overrides and validates the result. Nothing is returned
// unless the whole configuration is valid.
func Load(path string) (*Config, error) {
	cfg := Default()
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = loadYAML(path, cfg)
	default:
		err = loadINI(path, cfg)
	}
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field, returning the first problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Location) == "" {
		return fmt.Errorf("measure_location is required")
	}
	if _, err := c.Interval(); err != nil {
		return fmt.Errorf("query_interval: %w", err)
	}
	if !device.IsSupported(c.DeviceName) {
		return fmt.Errorf("device_name %q is not supported (supported: %s)", c.DeviceName, strings.Join(device.Names(), ", "))
	}
	if c.DeviceName == device.Modbus && c.ModbusAddress == "" {
		return fmt.Errorf("modbus_address is required for the %s device", device.Modbus)
	}
	if c.Workers < 1 || c.Workers > MaxWorkers {
		return fmt.Errorf("num_worker_threads must be between 1 and %d, got %d", MaxWorkers, c.Workers)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("comm_port must be between 1 and 65535, got %d", c.Port)
	}
	if c.DefaultTempUnit != "c" && c.DefaultTempUnit != "f" {
		return fmt.Errorf("default_tempunit must be c or f, got %q", c.DefaultTempUnit)
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.CPUSoftLimit < 1 || c.CPUHardLimit < c.CPUSoftLimit {
		return fmt.Errorf("cpu limits must satisfy 1 <= soft (%d) <= hard (%d)", c.CPUSoftLimit, c.CPUHardLimit)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	return nil
}

// Interval parses QueryInterval.
func (c *Config) Interval() (time.Duration, error) {
	d, err := utils.ParseUnits(c.QueryInterval)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive")
	}
	return d, nil
}

// ListenAddress is the query listener's bind address.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf(":%d", c.Port)
}
