package modbus

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/goburrow/serial"

	"rpiweatherd/internal/utils"
)

// rtuRequestLen covers slave, function, start, quantity and CRC.
const rtuRequestLen = 8

// CRC16 computes the Modbus RTU checksum of data.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// Frame appends the CRC to an address+PDU frame.
func Frame(slave byte, pdu []byte) []byte {
	out := make([]byte, 0, len(pdu)+3)
	out = append(out, slave)
	out = append(out, pdu...)
	return binary.LittleEndian.AppendUint16(out, CRC16(out))
}

// ServeRTU answers fixed-size read requests arriving on rw until a read or
// write fails. Frames with a bad CRC or another slave id get no answer.
func (s *Server) ServeRTU(rw io.ReadWriter, slave byte) error {
	frame := make([]byte, rtuRequestLen)
	for {
		if _, err := io.ReadFull(rw, frame); err != nil {
			return err
		}
		body := frame[:rtuRequestLen-2]
		if binary.LittleEndian.Uint16(frame[rtuRequestLen-2:]) != CRC16(body) {
			continue
		}
		if slave != 0 && body[0] != slave {
			continue
		}
		resp := Frame(body[0], s.handlePDU(body[1:]))
		if _, err := rw.Write(resp); err != nil {
			return err
		}
	}
}

// OpenSerial opens the line described by sp for ServeRTU.
func OpenSerial(sp utils.SerialParams) (io.ReadWriteCloser, error) {
	utils.EnsureSerialDefaults(&sp)
	port, err := serial.Open(&serial.Config{
		Address:  sp.Address,
		BaudRate: sp.BaudRate,
		DataBits: sp.DataBits,
		StopBits: sp.StopBits,
		Parity:   strings.ToUpper(sp.Parity),
		Timeout:  sp.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", sp.Address, err)
	}
	return port, nil
}
