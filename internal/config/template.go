package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/ini.v1"
)

type templateKey struct {
	section, name, value, comment string
}

// WriteTemplate writes a commented configuration holding the defaults.
// An existing file is never overwritten.
func WriteTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	d := Default()
	keys := []templateKey{
		{sectionGeneral, "measure_location", "", "Free-text location stored with every reading (required)"},
		{sectionGeneral, "query_interval", d.QueryInterval, "Sampling interval: <n>s, <n>m, <n>h or <n>d"},
		{sectionGeneral, "default_tempunit", d.DefaultTempUnit, "Temperature unit of query responses: c or f"},
		{sectionGeneral, "database", d.Database, "SQLite database file"},
		{sectionGeneral, "pid_file", d.PIDFile, ""},
		{sectionGeneral, "log_level", d.LogLevel, "debug, info, warn or error"},
		{sectionGeneral, "log_file", "", "Optional log file; stdout is always used"},
		{sectionDevice, "device_name", d.DeviceName, "Sensor driver, see rpiweatherd -l"},
		{sectionDevice, "device_config", strconv.Itoa(d.DeviceConfig), "Driver specific number (Modbus slave id)"},
		{sectionDevice, "modbus_address", "", "host:port or rtu:/dev/ttyUSB0?baud=9600 for the modbus driver"},
		{sectionServer, "comm_port", strconv.Itoa(d.Port), "TCP port of the query interface"},
		{sectionServer, "num_worker_threads", strconv.Itoa(d.Workers), "Query workers, 1 to 4"},
		{sectionServer, "metrics_address", "", "Optional Prometheus listen address, e.g. :9105"},
		{sectionTriggers, "trigger_file", d.TriggerFile, ""},
		{sectionTriggers, "trigger_user", d.TriggerUser, "Account exec triggers run as"},
		{sectionTriggers, "cpu_soft_limit", strconv.Itoa(d.CPUSoftLimit), "CPU seconds before SIGXCPU"},
		{sectionTriggers, "cpu_hard_limit", strconv.Itoa(d.CPUHardLimit), "CPU seconds before SIGKILL"},
		{sectionMQTT, "broker", "", "Optional broker URL, e.g. tcp://localhost:1883"},
		{sectionMQTT, "topic", d.MQTT.Topic, ""},
		{sectionMQTT, "client_id", d.MQTT.ClientID, ""},
		{sectionMQTT, "qos", strconv.Itoa(d.MQTT.QoS), ""},
	}

	f := ini.Empty()
	for _, k := range keys {
		sec, err := f.NewSection(k.section)
		if err != nil {
			return err
		}
		key, err := sec.NewKey(k.name, k.value)
		if err != nil {
			return err
		}
		if k.comment != "" {
			key.Comment = k.comment
		}
	}
	if err := f.SaveTo(path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
