package device

import (
	"fmt"
	"sort"
	"time"

	"rpiweatherd/internal/model"
)

// Status is a sensor query outcome.
type Status int

const (
	Success        Status = 0
	DeviceFailure  Status = -1
	DataFailure    Status = -2
	GeneralFailure Status = -3
	MemoryError    Status = -4
	UnitError      Status = -5
)

func (s Status) Error() string {
	switch s {
	case Success:
		return "success"
	case DeviceFailure:
		return "device failure"
	case DataFailure:
		return "data failure"
	case GeneralFailure:
		return "general failure"
	case MemoryError:
		return "memory error"
	case UnitError:
		return "unit error"
	default:
		return fmt.Sprintf("device status %d", int(s))
	}
}

// Transient reports whether a retry may succeed.
func (s Status) Transient() bool {
	return s == DeviceFailure || s == DataFailure || s == GeneralFailure
}

// SensorDevice yields calibrated readings. Implementations need not be
// safe for concurrent use; the Gate serializes access.
type SensorDevice interface {
	Name() string
	Test() bool
	Query() (model.Reading, Status)
}

// Settings are the driver inputs taken from the configuration.
type Settings struct {
	Config  int
	Address string
	Timeout time.Duration
}

// Driver names.
const (
	Simulated = "sim"
	Modbus    = "modbus"
)

type factory func(Settings) (SensorDevice, error)

var drivers = map[string]factory{
	Simulated: func(s Settings) (SensorDevice, error) { return NewSimulated(int64(s.Config)), nil },
	Modbus: func(s Settings) (SensorDevice, error) {
		m, err := NewModbus(s)
		if err != nil {
			return nil, err
		}
		return m, nil
	},
}

// Names lists the supported drivers.
func Names() []string {
	out := make([]string, 0, len(drivers))
	for name := range drivers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func IsSupported(name string) bool {
	_, ok := drivers[name]
	return ok
}

// Open creates the named driver.
func Open(name string, s Settings) (SensorDevice, error) {
	f, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("unsupported device %q", name)
	}
	return f(s)
}
