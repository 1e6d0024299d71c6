package config

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"
)

const (
	sectionGeneral  = "General"
	sectionDevice   = "Device Configuration"
	sectionServer   = "Server Configuration"
	sectionTriggers = "Trigger Configuration"
	sectionMQTT     = "MQTT"
)

func loadINI(path string, cfg *Config) error {
	f, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return fromINI(f, cfg)
}

func fromINI(f *ini.File, cfg *Config) error {
	for _, sec := range f.Sections() {
		for _, key := range sec.Keys() {
			var err error
			switch sec.Name() {
			case ini.DefaultSection:
				err = fmt.Errorf("key outside of any section")
			case sectionGeneral:
				err = assignGeneral(cfg, key)
			case sectionDevice:
				err = assignDevice(cfg, key)
			case sectionServer:
				err = assignServer(cfg, key)
			case sectionTriggers:
				err = assignTriggers(cfg, key)
			case sectionMQTT:
				err = assignMQTT(cfg, key)
			default:
				err = fmt.Errorf("unknown section")
			}
			if err != nil {
				return fmt.Errorf("[%s] %s: %w", sec.Name(), key.Name(), err)
			}
		}
	}
	return nil
}

func assignGeneral(cfg *Config, key *ini.Key) error {
	v := parseString(key.String())
	switch key.Name() {
	case "measure_location":
		cfg.Location = v
	case "query_interval":
		cfg.QueryInterval = v
	case "default_tempunit":
		cfg.DefaultTempUnit = strings.ToLower(v)
	case "database":
		cfg.Database = v
	case "pid_file":
		cfg.PIDFile = v
	case "log_level":
		cfg.LogLevel = v
	case "log_file":
		cfg.LogFile = v
	case "units":
		cfg.Warnings = append(cfg.Warnings, "[General] units is deprecated and ignored; use tempunit in queries")
	default:
		return fmt.Errorf("unknown key")
	}
	return nil
}

func assignDevice(cfg *Config, key *ini.Key) error {
	switch key.Name() {
	case "device_name":
		cfg.DeviceName = strings.ToLower(parseString(key.String()))
	case "device_config":
		n, err := key.Int()
		if err != nil {
			return err
		}
		cfg.DeviceConfig = n
	case "modbus_address":
		cfg.ModbusAddress = parseString(key.String())
	default:
		return fmt.Errorf("unknown key")
	}
	return nil
}

func assignServer(cfg *Config, key *ini.Key) error {
	var err error
	switch key.Name() {
	case "comm_port":
		cfg.Port, err = key.Int()
	case "num_worker_threads":
		cfg.Workers, err = key.Int()
	case "metrics_address":
		cfg.MetricsAddress = parseString(key.String())
	default:
		err = fmt.Errorf("unknown key")
	}
	return err
}

func assignTriggers(cfg *Config, key *ini.Key) error {
	var err error
	switch key.Name() {
	case "trigger_file":
		cfg.TriggerFile = parseString(key.String())
	case "trigger_user":
		cfg.TriggerUser = parseString(key.String())
	case "cpu_soft_limit":
		cfg.CPUSoftLimit, err = key.Int()
	case "cpu_hard_limit":
		cfg.CPUHardLimit, err = key.Int()
	default:
		err = fmt.Errorf("unknown key")
	}
	return err
}

func assignMQTT(cfg *Config, key *ini.Key) error {
	var err error
	switch key.Name() {
	case "broker":
		cfg.MQTT.Broker = parseString(key.String())
	case "topic":
		cfg.MQTT.Topic = parseString(key.String())
	case "client_id":
		cfg.MQTT.ClientID = parseString(key.String())
	case "qos":
		cfg.MQTT.QoS, err = key.Int()
	default:
		err = fmt.Errorf("unknown key")
	}
	return err
}

func parseString(value string) string {
	value = strings.TrimSpace(value)
	if len(value) >= 2 && (value[0] == '"' && value[len(value)-1] == '"' || value[0] == '\'' && value[len(value)-1] == '\'') {
		return value[1 : len(value)-1]
	}
	return value
}
