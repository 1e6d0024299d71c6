package modbus

import (
	"testing"
	"time"

	mb "github.com/goburrow/modbus"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer()
	if err := s.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func newClient(t *testing.T, s *Server) mb.Client {
	t.Helper()
	h := mb.NewTCPClientHandler(s.Addr().String())
	h.Timeout = 2 * time.Second
	h.SlaveId = 1
	if err := h.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return mb.NewClient(h)
}

func TestServerServesReading(t *testing.T) {
	s := newTestServer(t)
	if err := s.SetReading(-3.5, 61.2); err != nil {
		t.Fatalf("SetReading failed: %v", err)
	}
	c := newClient(t, s)

	data, err := c.ReadInputRegisters(TemperatureRegister, 2)
	if err != nil {
		t.Fatalf("ReadInputRegisters failed: %v", err)
	}
	if len(data) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(data))
	}
	temp := int16(uint16(data[0])<<8 | uint16(data[1]))
	humid := uint16(data[2])<<8 | uint16(data[3])
	if temp != -35 || humid != 612 {
		t.Fatalf("unexpected registers temp=%d humid=%d", temp, humid)
	}

	if _, err := c.ReadHoldingRegisters(0, 1); err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}
}

func TestServerExceptions(t *testing.T) {
	s := newTestServer(t)
	c := newClient(t, s)

	if _, err := c.ReadInputRegisters(Registers-1, 2); err == nil {
		t.Fatalf("expected out of range exception")
	}
	if _, err := c.ReadCoils(0, 1); err == nil {
		t.Fatalf("expected illegal function exception")
	}

	s.FailNext(1)
	if _, err := c.ReadInputRegisters(0, 1); err == nil {
		t.Fatalf("expected injected failure")
	}
	if _, err := c.ReadInputRegisters(0, 1); err != nil {
		t.Fatalf("expected recovery after injected failure: %v", err)
	}
}

func TestSetReadingRange(t *testing.T) {
	s := NewServer()
	if err := s.SetReading(4000, 10); err == nil {
		t.Fatalf("expected temperature range error")
	}
	if err := s.SetReading(20, -1); err == nil {
		t.Fatalf("expected humidity range error")
	}
	if err := s.SetReading(22.4, 48.1); err != nil {
		t.Fatalf("SetReading failed: %v", err)
	}
	if temp, humid := s.Reading(); temp != 22.4 || humid != 48.1 {
		t.Fatalf("unexpected reading %v %v", temp, humid)
	}
}
