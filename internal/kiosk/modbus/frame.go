// Package modbus implements the RS-485 relay driver: Modbus RTU framing,
// serial transport, and the locker-to-channel mapping with pulse and retry
// discipline. One Driver owns one physical bus.
package modbus

import (
	"encoding/binary"
	"fmt"

	"github.com/dmitrijs2005/kioskeeper/internal/common"
)

// Modbus RTU function codes used by the relay cards.
const (
	FuncWriteSingleCoil     = 0x05
	FuncWriteSingleRegister = 0x06
)

// Coil payload values for Write Single Coil.
const (
	coilOn  = 0xFF00
	coilOff = 0x0000
)

// SlaveAddressRegister is the holding register where Waveshare relay cards
// store their Modbus slave address.
const SlaveAddressRegister = 0x4000

// exceptionNames maps Modbus exception codes to their standard descriptions.
var exceptionNames = map[byte]string{
	0x01: "illegal function",
	0x02: "illegal data address",
	0x03: "illegal data value",
	0x04: "slave device failure",
	0x05: "acknowledge",
	0x06: "slave device busy",
	0x08: "memory parity error",
	0x0A: "gateway path unavailable",
	0x0B: "gateway target device failed to respond",
}

// crc16 computes the Modbus RTU checksum (poly 0xA001, init 0xFFFF).
func crc16(data []byte) uint16 {
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

// appendCRC appends the checksum to a frame, low byte first.
func appendCRC(frame []byte) []byte {
	crc := crc16(frame)
	return binary.LittleEndian.AppendUint16(frame, crc)
}

// buildWriteCoil builds a Write Single Coil request energizing or releasing
// one relay channel. Coil addresses are zero-based on the wire.
func buildWriteCoil(slave byte, coil uint16, on bool) []byte {
	value := uint16(coilOff)
	if on {
		value = coilOn
	}
	frame := []byte{slave, FuncWriteSingleCoil}
	frame = binary.BigEndian.AppendUint16(frame, coil)
	frame = binary.BigEndian.AppendUint16(frame, value)
	return appendCRC(frame)
}

// buildWriteRegister builds a Write Single Register request, used for the
// slave-address register during provisioning.
func buildWriteRegister(slave byte, register uint16, value uint16) []byte {
	frame := []byte{slave, FuncWriteSingleRegister}
	frame = binary.BigEndian.AppendUint16(frame, register)
	frame = binary.BigEndian.AppendUint16(frame, value)
	return appendCRC(frame)
}

// checkResponse validates a response against the request: CRC, slave echo,
// and exception detection. A normal write response echoes the request, so
// the caller compares nothing beyond what is checked here.
func checkResponse(request, response []byte) error {
	if len(response) < 5 {
		return fmt.Errorf("response too short (%d bytes): %w", len(response), common.ErrHardwareNack)
	}

	payload := response[:len(response)-2]
	got := binary.LittleEndian.Uint16(response[len(response)-2:])
	if crc16(payload) != got {
		return fmt.Errorf("crc mismatch: %w", common.ErrHardwareNack)
	}

	if response[0] != request[0] {
		return fmt.Errorf("slave mismatch: got %#02x want %#02x: %w", response[0], request[0], common.ErrHardwareNack)
	}

	// Exception responses set the high bit of the function code.
	if response[1] == request[1]|0x80 {
		code := response[2]
		name, ok := exceptionNames[code]
		if !ok {
			name = fmt.Sprintf("unknown exception %#02x", code)
		}
		return fmt.Errorf("modbus exception: %s: %w", name, common.ErrHardwareNack)
	}

	if response[1] != request[1] {
		return fmt.Errorf("unexpected function code %#02x: %w", response[1], common.ErrHardwareNack)
	}
	return nil
}
