package modbus

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Port is the serial transport the driver writes frames through. It is an
// interface so tests can script responses without hardware.
type Port interface {
	// Write sends a complete frame.
	Write(p []byte) (int, error)
	// Read fills p with response bytes, honoring the configured timeout.
	Read(p []byte) (int, error)
	// ResetBuffers drops any stale input/output before a transaction.
	ResetBuffers() error
	// Close releases the port.
	Close() error
}

// serialPort adapts go.bug.st/serial to the Port interface.
type serialPort struct {
	port serial.Port
}

// OpenPort opens an RS-485 serial device in 8N1 mode with a read timeout.
func OpenPort(device string, baudRate int, readTimeout time.Duration) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", device, err)
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	return &serialPort{port: p}, nil
}

func (s *serialPort) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *serialPort) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *serialPort) ResetBuffers() error {
	if err := s.port.ResetInputBuffer(); err != nil {
		return err
	}
	return s.port.ResetOutputBuffer()
}

func (s *serialPort) Close() error {
	return s.port.Close()
}
