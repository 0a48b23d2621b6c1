package modbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/kioskeeper/internal/common"
)

func TestCRC16_KnownVector(t *testing.T) {
	// Write Single Coil, slave 1, coil 0, ON.
	frame := []byte{0x01, 0x05, 0x00, 0x00, 0xFF, 0x00}
	assert.Equal(t, uint16(0x3A8C), crc16(frame))
}

func TestBuildWriteCoil_On(t *testing.T) {
	frame := buildWriteCoil(0x01, 0, true)
	assert.Equal(t, []byte{0x01, 0x05, 0x00, 0x00, 0xFF, 0x00, 0x8C, 0x3A}, frame)
}

func TestBuildWriteCoil_Off(t *testing.T) {
	frame := buildWriteCoil(0x01, 0, false)
	assert.Equal(t, []byte{0x01, 0x05, 0x00, 0x00, 0x00, 0x00, 0xCD, 0xCA}, frame)
}

func TestBuildWriteCoil_HighChannel(t *testing.T) {
	frame := buildWriteCoil(0x02, 0x0102, true)
	require.Len(t, frame, 8)
	assert.Equal(t, byte(0x02), frame[0])
	assert.Equal(t, byte(FuncWriteSingleCoil), frame[1])
	assert.Equal(t, []byte{0x01, 0x02}, frame[2:4])
	assert.Equal(t, []byte{0xFF, 0x00}, frame[4:6])
	// Trailing CRC must validate.
	require.NoError(t, checkResponse(frame, frame))
}

func TestBuildWriteRegister_SlaveAddress(t *testing.T) {
	frame := buildWriteRegister(0x01, SlaveAddressRegister, 0x0005)
	require.Len(t, frame, 8)
	assert.Equal(t, byte(0x01), frame[0])
	assert.Equal(t, byte(FuncWriteSingleRegister), frame[1])
	assert.Equal(t, []byte{0x40, 0x00}, frame[2:4])
	assert.Equal(t, []byte{0x00, 0x05}, frame[4:6])
}

func TestCheckResponse_EchoAccepted(t *testing.T) {
	request := buildWriteCoil(0x01, 3, true)
	require.NoError(t, checkResponse(request, request))
}

func TestCheckResponse_TooShort(t *testing.T) {
	request := buildWriteCoil(0x01, 0, true)
	err := checkResponse(request, []byte{0x01, 0x05})
	require.ErrorIs(t, err, common.ErrHardwareNack)
}

func TestCheckResponse_BadCRC(t *testing.T) {
	request := buildWriteCoil(0x01, 0, true)
	response := append([]byte(nil), request...)
	response[len(response)-1] ^= 0xFF

	err := checkResponse(request, response)
	require.ErrorIs(t, err, common.ErrHardwareNack)
	assert.Contains(t, err.Error(), "crc mismatch")
}

func TestCheckResponse_WrongSlave(t *testing.T) {
	request := buildWriteCoil(0x01, 0, true)
	response := buildWriteCoil(0x02, 0, true)

	err := checkResponse(request, response)
	require.ErrorIs(t, err, common.ErrHardwareNack)
	assert.Contains(t, err.Error(), "slave mismatch")
}

func TestCheckResponse_Exception(t *testing.T) {
	request := buildWriteCoil(0x01, 0, true)
	// Exception frame: func|0x80, code 0x02 (illegal data address).
	response := appendCRC([]byte{0x01, 0x85, 0x02})

	err := checkResponse(request, response)
	require.ErrorIs(t, err, common.ErrHardwareNack)
	assert.Contains(t, err.Error(), "illegal data address")
}

func TestCheckResponse_UnknownException(t *testing.T) {
	request := buildWriteCoil(0x01, 0, true)
	response := appendCRC([]byte{0x01, 0x85, 0x7F})

	err := checkResponse(request, response)
	require.ErrorIs(t, err, common.ErrHardwareNack)
	assert.Contains(t, err.Error(), "unknown exception")
}

func TestCheckResponse_WrongFunction(t *testing.T) {
	request := buildWriteCoil(0x01, 0, true)
	response := buildWriteRegister(0x01, 0x0000, 0xFF00)

	err := checkResponse(request, response)
	require.ErrorIs(t, err, common.ErrHardwareNack)
	assert.Contains(t, err.Error(), "unexpected function code")
}
