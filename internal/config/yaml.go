package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlFile mirrors the INI layout for configs written in YAML.
type yamlFile struct {
	General struct {
		MeasureLocation *string `yaml:"measure_location"`
		QueryInterval   *string `yaml:"query_interval"`
		DefaultTempUnit *string `yaml:"default_tempunit"`
		Database        *string `yaml:"database"`
		PIDFile         *string `yaml:"pid_file"`
		LogLevel        *string `yaml:"log_level"`
		LogFile         *string `yaml:"log_file"`
		Units           *string `yaml:"units"`
	} `yaml:"general"`
	Device struct {
		DeviceName    *string `yaml:"device_name"`
		DeviceConfig  *int    `yaml:"device_config"`
		ModbusAddress *string `yaml:"modbus_address"`
	} `yaml:"device"`
	Server struct {
		CommPort         *int    `yaml:"comm_port"`
		NumWorkerThreads *int    `yaml:"num_worker_threads"`
		MetricsAddress   *string `yaml:"metrics_address"`
	} `yaml:"server"`
	Triggers struct {
		TriggerFile  *string `yaml:"trigger_file"`
		TriggerUser  *string `yaml:"trigger_user"`
		CPUSoftLimit *int    `yaml:"cpu_soft_limit"`
		CPUHardLimit *int    `yaml:"cpu_hard_limit"`
	} `yaml:"triggers"`
	MQTT struct {
		Broker   *string `yaml:"broker"`
		Topic    *string `yaml:"topic"`
		ClientID *string `yaml:"client_id"`
		QoS      *int    `yaml:"qos"`
	} `yaml:"mqtt"`
}

func loadYAML(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	var y yamlFile
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&y); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	setString(&cfg.Location, y.General.MeasureLocation)
	setString(&cfg.QueryInterval, y.General.QueryInterval)
	setString(&cfg.DefaultTempUnit, y.General.DefaultTempUnit)
	cfg.DefaultTempUnit = strings.ToLower(cfg.DefaultTempUnit)
	setString(&cfg.Database, y.General.Database)
	setString(&cfg.PIDFile, y.General.PIDFile)
	setString(&cfg.LogLevel, y.General.LogLevel)
	setString(&cfg.LogFile, y.General.LogFile)
	if y.General.Units != nil {
		cfg.Warnings = append(cfg.Warnings, "general.units is deprecated and ignored; use tempunit in queries")
	}

	setString(&cfg.DeviceName, y.Device.DeviceName)
	cfg.DeviceName = strings.ToLower(cfg.DeviceName)
	setInt(&cfg.DeviceConfig, y.Device.DeviceConfig)
	setString(&cfg.ModbusAddress, y.Device.ModbusAddress)

	setInt(&cfg.Port, y.Server.CommPort)
	setInt(&cfg.Workers, y.Server.NumWorkerThreads)
	setString(&cfg.MetricsAddress, y.Server.MetricsAddress)

	setString(&cfg.TriggerFile, y.Triggers.TriggerFile)
	setString(&cfg.TriggerUser, y.Triggers.TriggerUser)
	setInt(&cfg.CPUSoftLimit, y.Triggers.CPUSoftLimit)
	setInt(&cfg.CPUHardLimit, y.Triggers.CPUHardLimit)

	setString(&cfg.MQTT.Broker, y.MQTT.Broker)
	setString(&cfg.MQTT.Topic, y.MQTT.Topic)
	setString(&cfg.MQTT.ClientID, y.MQTT.ClientID)
	setInt(&cfg.MQTT.QoS, y.MQTT.QoS)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
