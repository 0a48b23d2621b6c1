package modbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/kioskeeper/internal/common"
	"github.com/dmitrijs2005/kioskeeper/internal/logging"
	"github.com/sethvargo/go-retry"
)

// Card describes one addressable relay card on the bus: the slave address
// set via its DIP switches and the number of actuator channels it exposes.
type Card struct {
	Address  byte
	Channels int
}

// Config tunes the driver. All timing comes from configuration, not
// constants: relay cards differ in pulse needs and cannot be flooded.
type Config struct {
	// Cards lists the relay cards in locker-numbering order.
	Cards []Card
	// Pulse is how long a channel stays energized on open.
	Pulse time.Duration
	// Retries bounds re-attempts per write on timeout or NACK.
	Retries int
	// RetryDelay is the fixed wait between attempts.
	RetryDelay time.Duration
	// Spacing is the minimum gap between any two bus transactions.
	Spacing time.Duration
	// CardAutoReset skips the de-energize write for cards that reset the
	// relay themselves after a built-in hold time.
	CardAutoReset bool
}

func (c *Config) applyDefaults() {
	if c.Pulse <= 0 {
		c.Pulse = 400 * time.Millisecond
	}
	if c.Retries <= 0 {
		c.Retries = 2
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 100 * time.Millisecond
	}
	if c.Spacing <= 0 {
		c.Spacing = 50 * time.Millisecond
	}
}

// Driver owns exclusive access to one serial bus. All writes are serialized
// through its mutex: only one Modbus transaction is in flight at a time,
// regardless of how many logical callers request opens concurrently.
type Driver struct {
	mu     sync.Mutex
	port   Port
	cfg    Config
	logger logging.Logger
	lastTx time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewDriver wraps an open port. The driver takes ownership of the port and
// closes it on Close.
func NewDriver(port Port, cfg Config, l logging.Logger) *Driver {
	cfg.applyDefaults()
	return &Driver{
		port:   port,
		cfg:    cfg,
		logger: l.With("module", "modbus"),
		sleep:  sleepCtx,
	}
}

// Channels returns the total channel count across all configured cards,
// which equals the highest addressable locker id.
func (d *Driver) Channels() int {
	total := 0
	for _, card := range d.cfg.Cards {
		total += card.Channels
	}
	return total
}

// mapLocker resolves a locker id to its card address and zero-based coil.
// Lockers are numbered 1..N across the cards in configuration order.
func (d *Driver) mapLocker(lockerID int) (byte, uint16, error) {
	if lockerID < 1 {
		return 0, 0, fmt.Errorf("invalid locker id %d", lockerID)
	}
	offset := lockerID - 1
	for _, card := range d.cfg.Cards {
		if offset < card.Channels {
			return card.Address, uint16(offset), nil
		}
		offset -= card.Channels
	}
	return 0, 0, fmt.Errorf("locker %d beyond configured channels (%d)", lockerID, d.Channels())
}

// OpenLocker pulses the relay channel mapped to the locker: energize, hold
// for the configured pulse, release. A hardware failure is returned to the
// caller so the coordinator can roll back the pending reservation instead
// of confirming ownership.
func (d *Driver) OpenLocker(ctx context.Context, lockerID int) error {
	slave, coil, err := d.mapLocker(lockerID)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Info(ctx, "opening locker", "locker_id", lockerID, "slave", slave, "coil", coil)

	if err := d.writeCoil(ctx, slave, coil, true); err != nil {
		return fmt.Errorf("locker %d energize failed: %w", lockerID, err)
	}

	if err := d.sleep(ctx, d.cfg.Pulse); err != nil {
		// Still try to release the relay before giving up.
		_ = d.writeCoil(context.WithoutCancel(ctx), slave, coil, false)
		return err
	}

	if d.cfg.CardAutoReset {
		return nil
	}
	if err := d.writeCoil(ctx, slave, coil, false); err != nil {
		return fmt.Errorf("locker %d release failed: %w", lockerID, err)
	}
	return nil
}

// CloseAll de-energizes every channel on every card, sequentially and with
// normal spacing. It is the emergency recovery path: it bypasses the
// command queue and is used only by staff action.
func (d *Driver) CloseAll(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for _, card := range d.cfg.Cards {
		for ch := 0; ch < card.Channels; ch++ {
			if err := d.writeCoil(ctx, card.Address, uint16(ch), false); err != nil {
				errs = append(errs, fmt.Errorf("card %#02x channel %d: %w", card.Address, ch, err))
			}
		}
	}
	return errors.Join(errs...)
}

// SetSlaveAddress rewrites a card's slave address register (maintenance,
// replaces DIP switching on cards that support it). The new address must be
// a valid Modbus unicast address.
func (d *Driver) SetSlaveAddress(ctx context.Context, current, next byte) error {
	if next < 1 || next > 247 {
		return fmt.Errorf("invalid slave address %d: must be 1..247", next)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	request := buildWriteRegister(current, SlaveAddressRegister, uint16(next))
	return d.withRetry(ctx, func(ctx context.Context) error {
		return d.transact(ctx, request, 8)
	})
}

// writeCoil performs one coil write with the bounded retry policy. The
// caller must hold the driver mutex.
func (d *Driver) writeCoil(ctx context.Context, slave byte, coil uint16, on bool) error {
	request := buildWriteCoil(slave, coil, on)
	return d.withRetry(ctx, func(ctx context.Context) error {
		return d.transact(ctx, request, 8)
	})
}

// withRetry re-attempts a transaction on hardware errors with a fixed
// inter-attempt delay. Cards cannot be flooded, so the delay is constant,
// not exponential.
func (d *Driver) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(d.cfg.Retries), retry.NewConstant(d.cfg.RetryDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, common.ErrHardwareTimeout) || errors.Is(err, common.ErrHardwareNack) {
			d.logger.Warn(ctx, "bus transaction failed, retrying", "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

// transact sends one frame and reads the expected response length. It
// enforces the minimum inter-command spacing and flushes stale buffers
// before writing. The caller must hold the driver mutex.
func (d *Driver) transact(ctx context.Context, request []byte, respLen int) error {
	if wait := d.cfg.Spacing - time.Since(d.lastTx); wait > 0 {
		if err := d.sleep(ctx, wait); err != nil {
			return err
		}
	}
	defer func() { d.lastTx = time.Now() }()

	if err := d.port.ResetBuffers(); err != nil {
		return fmt.Errorf("failed to reset buffers: %w", err)
	}
	if _, err := d.port.Write(request); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}

	response := make([]byte, respLen)
	read := 0
	for read < respLen {
		n, err := d.port.Read(response[read:])
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}
		if n == 0 {
			// The port read timeout elapsed without data.
			return fmt.Errorf("no response after %d bytes: %w", read, common.ErrHardwareTimeout)
		}
		read += n
	}

	return checkResponse(request, response)
}

// Close releases the serial port.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.port.Close()
}

func sleepCtx(ctx context.Context, dur time.Duration) error {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
