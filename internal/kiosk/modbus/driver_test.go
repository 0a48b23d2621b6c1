package modbus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/kioskeeper/internal/common"
	"github.com/dmitrijs2005/kioskeeper/internal/logging"
)

// fakePort scripts one response per write. An empty scripted response makes
// the next read return zero bytes, which the driver treats as a timeout.
type fakePort struct {
	writes    [][]byte
	responses [][]byte
	readBuf   []byte
	resets    int
	closed    bool
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.writes = append(f.writes, append([]byte(nil), p...))
	if len(f.responses) > 0 {
		f.readBuf = f.responses[0]
		f.responses = f.responses[1:]
	} else {
		f.readBuf = nil
	}
	return len(p), nil
}

func (f *fakePort) Read(p []byte) (int, error) {
	if len(f.readBuf) == 0 {
		return 0, nil
	}
	n := copy(p, f.readBuf)
	f.readBuf = f.readBuf[n:]
	return n, nil
}

func (f *fakePort) ResetBuffers() error {
	f.resets++
	return nil
}

func (f *fakePort) Close() error {
	f.closed = true
	return nil
}

// echo scripts the normal response: the card echoes the request.
func (f *fakePort) echo(frames ...[]byte) {
	for _, frame := range frames {
		f.responses = append(f.responses, append([]byte(nil), frame...))
	}
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestDriver(t *testing.T, cfg Config) (*Driver, *fakePort, *[]time.Duration) {
	t.Helper()
	if len(cfg.Cards) == 0 {
		cfg.Cards = []Card{{Address: 1, Channels: 8}}
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	port := &fakePort{}
	d := NewDriver(port, cfg, testLogger())

	var sleeps []time.Duration
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		sleeps = append(sleeps, dur)
		return nil
	}
	return d, port, &sleeps
}

func TestOpenLocker_PulsesOnThenOff(t *testing.T) {
	d, port, sleeps := newTestDriver(t, Config{Pulse: 400 * time.Millisecond})
	on := buildWriteCoil(1, 0, true)
	off := buildWriteCoil(1, 0, false)
	port.echo(on, off)

	require.NoError(t, d.OpenLocker(context.Background(), 1))

	require.Len(t, port.writes, 2)
	assert.Equal(t, on, port.writes[0])
	assert.Equal(t, off, port.writes[1])
	assert.Contains(t, *sleeps, 400*time.Millisecond)
	assert.Equal(t, 2, port.resets)
}

func TestOpenLocker_CardAutoResetSkipsRelease(t *testing.T) {
	d, port, _ := newTestDriver(t, Config{CardAutoReset: true})
	on := buildWriteCoil(1, 0, true)
	port.echo(on)

	require.NoError(t, d.OpenLocker(context.Background(), 1))
	require.Len(t, port.writes, 1)
	assert.Equal(t, on, port.writes[0])
}

func TestOpenLocker_MapsAcrossCards(t *testing.T) {
	d, port, _ := newTestDriver(t, Config{
		Cards: []Card{{Address: 1, Channels: 8}, {Address: 2, Channels: 4}},
	})
	// Locker 10 is the second channel of the second card, zero-based coil 1.
	on := buildWriteCoil(2, 1, true)
	off := buildWriteCoil(2, 1, false)
	port.echo(on, off)

	require.NoError(t, d.OpenLocker(context.Background(), 10))
	require.Len(t, port.writes, 2)
	assert.Equal(t, on, port.writes[0])
}

func TestOpenLocker_BeyondConfiguredChannels(t *testing.T) {
	d, _, _ := newTestDriver(t, Config{Cards: []Card{{Address: 1, Channels: 8}}})

	err := d.OpenLocker(context.Background(), 9)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "beyond configured channels")

	err = d.OpenLocker(context.Background(), 0)
	require.Error(t, err)
}

func TestOpenLocker_RetriesOnTimeout(t *testing.T) {
	d, port, _ := newTestDriver(t, Config{Retries: 2})
	on := buildWriteCoil(1, 0, true)
	off := buildWriteCoil(1, 0, false)
	// First energize gets no response; the retry succeeds.
	port.responses = append(port.responses, nil)
	port.echo(on, off)

	require.NoError(t, d.OpenLocker(context.Background(), 1))
	require.Len(t, port.writes, 3)
	assert.Equal(t, on, port.writes[0])
	assert.Equal(t, on, port.writes[1])
	assert.Equal(t, off, port.writes[2])
}

func TestOpenLocker_NackExhaustsRetries(t *testing.T) {
	d, port, _ := newTestDriver(t, Config{Retries: 1})
	nack := appendCRC([]byte{0x01, 0x85, 0x04})
	port.echo(nack, nack)

	err := d.OpenLocker(context.Background(), 1)
	require.ErrorIs(t, err, common.ErrHardwareNack)
	// Initial attempt plus one retry, then the release is never attempted.
	assert.Len(t, port.writes, 2)
}

func TestCloseAll_WritesEveryChannel(t *testing.T) {
	d, port, _ := newTestDriver(t, Config{
		Cards: []Card{{Address: 1, Channels: 2}, {Address: 3, Channels: 3}},
	})
	port.echo(
		buildWriteCoil(1, 0, false),
		buildWriteCoil(1, 1, false),
		buildWriteCoil(3, 0, false),
		buildWriteCoil(3, 1, false),
		buildWriteCoil(3, 2, false),
	)

	require.NoError(t, d.CloseAll(context.Background()))
	require.Len(t, port.writes, 5)
	assert.Equal(t, buildWriteCoil(3, 2, false), port.writes[4])
}

func TestCloseAll_CollectsPerChannelErrors(t *testing.T) {
	d, port, _ := newTestDriver(t, Config{
		Cards: []Card{{Address: 1, Channels: 2}}, Retries: 1,
	})
	// First channel answers, the second stays silent on both attempts.
	port.echo(buildWriteCoil(1, 0, false))

	err := d.CloseAll(context.Background())
	require.ErrorIs(t, err, common.ErrHardwareTimeout)
	assert.Contains(t, err.Error(), "channel 1")
}

func TestSetSlaveAddress_ValidatesRange(t *testing.T) {
	d, _, _ := newTestDriver(t, Config{})

	require.Error(t, d.SetSlaveAddress(context.Background(), 1, 0))
	require.Error(t, d.SetSlaveAddress(context.Background(), 1, 248))
}

func TestSetSlaveAddress_WritesRegister(t *testing.T) {
	d, port, _ := newTestDriver(t, Config{})
	frame := buildWriteRegister(1, SlaveAddressRegister, 5)
	port.echo(frame)

	require.NoError(t, d.SetSlaveAddress(context.Background(), 1, 5))
	require.Len(t, port.writes, 1)
	assert.Equal(t, frame, port.writes[0])
}

func TestChannels_SumsCards(t *testing.T) {
	d, _, _ := newTestDriver(t, Config{
		Cards: []Card{{Address: 1, Channels: 16}, {Address: 2, Channels: 8}},
	})
	assert.Equal(t, 24, d.Channels())
}

func TestClose_ReleasesPort(t *testing.T) {
	d, port, _ := newTestDriver(t, Config{})
	require.NoError(t, d.Close())
	assert.True(t, port.closed)
}
