package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnvFile loads a dotenv file into the process environment. Variables
// that are already set keep their values.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

type envBinding struct {
	name string
	str  *string
	num  *int
}

// ApplyEnv overrides cfg from WEATHERD_* variables.
func ApplyEnv(cfg *Config) error {
	bindings := []envBinding{
		{name: "WEATHERD_LOCATION", str: &cfg.Location},
		{name: "WEATHERD_QUERY_INTERVAL", str: &cfg.QueryInterval},
		{name: "WEATHERD_TEMPUNIT", str: &cfg.DefaultTempUnit},
		{name: "WEATHERD_DATABASE", str: &cfg.Database},
		{name: "WEATHERD_LOG_LEVEL", str: &cfg.LogLevel},
		{name: "WEATHERD_LOG_FILE", str: &cfg.LogFile},
		{name: "WEATHERD_DEVICE_NAME", str: &cfg.DeviceName},
		{name: "WEATHERD_DEVICE_CONFIG", num: &cfg.DeviceConfig},
		{name: "WEATHERD_MODBUS_ADDRESS", str: &cfg.ModbusAddress},
		{name: "WEATHERD_COMM_PORT", num: &cfg.Port},
		{name: "WEATHERD_WORKERS", num: &cfg.Workers},
		{name: "WEATHERD_METRICS_ADDRESS", str: &cfg.MetricsAddress},
		{name: "WEATHERD_TRIGGER_FILE", str: &cfg.TriggerFile},
		{name: "WEATHERD_TRIGGER_USER", str: &cfg.TriggerUser},
		{name: "WEATHERD_MQTT_BROKER", str: &cfg.MQTT.Broker},
		{name: "WEATHERD_MQTT_TOPIC", str: &cfg.MQTT.Topic},
	}
	for _, b := range bindings {
		v, ok := os.LookupEnv(b.name)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if b.str != nil {
			*b.str = v
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", b.name, err)
		}
		*b.num = n
	}
	cfg.DefaultTempUnit = strings.ToLower(cfg.DefaultTempUnit)
	cfg.DeviceName = strings.ToLower(cfg.DeviceName)
	return nil
}
