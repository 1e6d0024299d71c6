// Package modbus serves a simulated Modbus TCP temperature/humidity sensor.
package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
)

const (
	functionReadHoldingRegs = 0x03
	functionReadInputRegs   = 0x04

	exceptionIllegalFunction = 0x01
	exceptionIllegalDataAddr = 0x02
	exceptionIllegalDataVal  = 0x03

	// Registers is the size of each register bank.
	Registers = 16

	// Input register addresses and their scale.
	TemperatureRegister = 0
	HumidityRegister    = 1
	Scale               = 10.0
)

var (
	errOutOfRange    = errors.New("out of range")
	errInvalidQty    = errors.New("invalid quantity")
	errInvalidPDULen = errors.New("invalid pdu length")
)

// Server answers read-register requests from a small register bank.
// Temperature (int16) and humidity (uint16) live in input registers 0 and 1
// as tenths; holding registers mirror the input bank.
type Server struct {
	listener  net.Listener
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once

	mu    sync.RWMutex
	input [Registers]uint16
	// failNext makes the next n requests answer with a device exception.
	failNext int
}

func NewServer() *Server {
	return &Server{quit: make(chan struct{})}
}

// Listen starts accepting Modbus TCP connections on the provided address.
func (s *Server) Listen(address string) error {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	s.listener = l

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.quit:
			conn.Close()
		case <-done:
		}
	}()

	header := make([]byte, 7)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		length := binary.BigEndian.Uint16(header[4:6])
		pduLength := int(length) - 1
		if pduLength <= 0 {
			continue
		}
		pdu := make([]byte, pduLength)
		if _, err := io.ReadFull(conn, pdu); err != nil {
			return
		}

		response := s.handlePDU(pdu)
		binary.BigEndian.PutUint16(header[2:4], 0)
		binary.BigEndian.PutUint16(header[4:6], uint16(len(response)+1))
		if _, err := conn.Write(append(header, response...)); err != nil {
			return
		}
	}
}

func (s *Server) handlePDU(pdu []byte) []byte {
	function := pdu[0]
	if function != functionReadHoldingRegs && function != functionReadInputRegs {
		return exceptionResponse(function, exceptionIllegalFunction)
	}
	s.mu.Lock()
	if s.failNext > 0 {
		s.failNext--
		s.mu.Unlock()
		return exceptionResponse(function, exceptionIllegalDataVal)
	}
	s.mu.Unlock()

	data, err := s.readRegisters(pdu)
	if err != nil {
		return exceptionResponse(function, errToCode(err))
	}
	return append([]byte{function, byte(len(data))}, data...)
}

func (s *Server) readRegisters(pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return nil, errInvalidPDULen
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	quantity := binary.BigEndian.Uint16(pdu[3:5])
	if quantity == 0 || quantity > 125 {
		return nil, errInvalidQty
	}
	if int(start)+int(quantity) > Registers {
		return nil, errOutOfRange
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]byte, quantity*2)
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(result[i*2:], s.input[int(start)+i])
	}
	return result, nil
}

func exceptionResponse(function byte, code byte) []byte {
	return []byte{function | 0x80, code}
}

func errToCode(err error) byte {
	switch {
	case errors.Is(err, errOutOfRange):
		return exceptionIllegalDataAddr
	case errors.Is(err, errInvalidQty), errors.Is(err, errInvalidPDULen):
		return exceptionIllegalDataVal
	default:
		return exceptionIllegalFunction
	}
}

// Close stops the server and waits for all goroutines to exit.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
	})
	s.wg.Wait()
}

// SetReading stores a temperature (Celsius) and relative humidity.
func (s *Server) SetReading(temperature, humidity float64) error {
	t := math.Round(temperature * Scale)
	h := math.Round(humidity * Scale)
	if t < math.MinInt16 || t > math.MaxInt16 {
		return fmt.Errorf("temperature %.1f out of range", temperature)
	}
	if h < 0 || h > math.MaxUint16 {
		return fmt.Errorf("humidity %.1f out of range", humidity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input[TemperatureRegister] = uint16(int16(t))
	s.input[HumidityRegister] = uint16(h)
	return nil
}

// Reading returns the stored temperature and humidity.
func (s *Server) Reading() (float64, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return float64(int16(s.input[TemperatureRegister])) / Scale, float64(s.input[HumidityRegister]) / Scale
}

// FailNext makes the next n requests fail with an exception response.
func (s *Server) FailNext(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}
