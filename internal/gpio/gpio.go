// Package gpio drives output pins for trigger actions.
package gpio

import (
	"fmt"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"
)

// MaxPin is the highest BCM pin number on the Raspberry Pi header.
const MaxPin = 53

// Driver sets output pins.
type Driver interface {
	SetHigh(pin int) error
	SetLow(pin int) error
	Close() error
}

// RPIO drives pins through /dev/gpiomem.
type RPIO struct {
	mu sync.Mutex
}

// OpenRPIO maps the GPIO registers.
func OpenRPIO() (*RPIO, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}
	return &RPIO{}, nil
}

func (d *RPIO) SetHigh(pin int) error { return d.set(pin, rpio.High) }
func (d *RPIO) SetLow(pin int) error  { return d.set(pin, rpio.Low) }

func (d *RPIO) set(pin int, state rpio.State) error {
	if pin < 0 || pin > MaxPin {
		return fmt.Errorf("pin %d out of range", pin)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p := rpio.Pin(pin)
	p.Output()
	p.Write(state)
	return nil
}

func (d *RPIO) Close() error { return rpio.Close() }

// Unavailable reports the reason GPIO could not be opened on every call.
type Unavailable struct {
	Err error
}

func (u Unavailable) SetHigh(pin int) error { return fmt.Errorf("set pin %d high: %w", pin, u.Err) }
func (u Unavailable) SetLow(pin int) error  { return fmt.Errorf("set pin %d low: %w", pin, u.Err) }
func (u Unavailable) Close() error          { return nil }

// Open returns the hardware driver, or Unavailable when the GPIO
// registers cannot be mapped on this host.
func Open() (Driver, error) {
	d, err := OpenRPIO()
	if err != nil {
		return Unavailable{Err: err}, err
	}
	return d, nil
}
