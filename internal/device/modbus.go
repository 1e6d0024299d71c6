package device

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	mb "github.com/goburrow/modbus"

	"rpiweatherd/internal/model"
	"rpiweatherd/internal/utils"
)

// Input register layout of a Modbus sensor. Both values are tenths.
const (
	RegisterTemperature uint16 = 0
	RegisterHumidity    uint16 = 1
	RegisterScale              = 10.0
)

// handlerWithConn embeds mb.ClientHandler and exposes Connect/Close used for lifecycle.
type handlerWithConn interface {
	mb.ClientHandler
	Connect() error
	Close() error
}

// ModbusSensor reads temperature and humidity from Modbus input registers
// over TCP or RTU.
type ModbusSensor struct {
	handler   handlerWithConn
	client    mb.Client
	addr      string
	connected bool
}

// NewModbus builds the driver. Settings.Address is host:port for TCP or an
// rtu: serial address; Settings.Config is the slave id (0 means 1).
func NewModbus(s Settings) (*ModbusSensor, error) {
	h, addr, err := newHandler(s)
	if err != nil {
		return nil, err
	}
	return &ModbusSensor{handler: h, client: mb.NewClient(h), addr: addr}, nil
}

func newHandler(s Settings) (handlerWithConn, string, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if s.Config < 0 || s.Config > 247 {
		return nil, "", fmt.Errorf("modbus slave id %d out of range", s.Config)
	}
	slave := byte(s.Config)
	if slave == 0 {
		slave = 1
	}
	addr := strings.TrimSpace(s.Address)
	switch {
	case addr == "":
		return nil, "", fmt.Errorf("modbus address is required")
	case strings.HasPrefix(addr, "rtu:"):
		sp, err := utils.ParseSerialAddress(addr)
		if err != nil {
			return nil, "", err
		}
		h := mb.NewRTUClientHandler(sp.Address)
		h.BaudRate = sp.BaudRate
		h.DataBits = sp.DataBits
		h.StopBits = sp.StopBits
		h.Parity = sp.Parity
		h.Timeout = sp.Timeout
		h.SlaveId = slave
		return h, sp.Address, nil
	default:
		h := mb.NewTCPClientHandler(addr)
		h.Timeout = timeout
		h.SlaveId = slave
		return h, addr, nil
	}
}

func (m *ModbusSensor) Name() string { return Modbus }

func (m *ModbusSensor) connect() error {
	if m.connected {
		return nil
	}
	if err := m.handler.Connect(); err != nil {
		return fmt.Errorf("connect %s: %w", m.addr, err)
	}
	m.connected = true
	return nil
}

// reset drops the connection so the next call reconnects.
func (m *ModbusSensor) reset() {
	_ = m.handler.Close()
	m.connected = false
}

func (m *ModbusSensor) Test() bool {
	if err := m.connect(); err != nil {
		return false
	}
	if _, err := m.client.ReadInputRegisters(RegisterTemperature, 1); err != nil {
		m.reset()
		return false
	}
	return true
}

func (m *ModbusSensor) Query() (model.Reading, Status) {
	if err := m.connect(); err != nil {
		return model.Reading{}, DeviceFailure
	}
	data, err := m.client.ReadInputRegisters(RegisterTemperature, 2)
	if err != nil {
		m.reset()
		return model.Reading{}, DeviceFailure
	}
	if len(data) < 4 {
		return model.Reading{}, DataFailure
	}
	temp := float64(int16(binary.BigEndian.Uint16(data[0:2]))) / RegisterScale
	humid := float64(binary.BigEndian.Uint16(data[2:4])) / RegisterScale
	if humid > 100 {
		return model.Reading{}, DataFailure
	}
	return model.NewReading(temp, humid), Success
}

func (m *ModbusSensor) Close() error {
	if !m.connected {
		return nil
	}
	m.connected = false
	return m.handler.Close()
}
