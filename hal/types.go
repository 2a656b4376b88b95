// Package hal defines the SPI hardware abstraction layer: the status
// model, the device addressing surface and the operations contract that
// every backend implements.
package hal

import (
	"errors"
	"fmt"
)

// MaxDevices is the number of independent SPI device slots (limited to
// 7 interfaces).
const MaxDevices = 7

// Status sentinels. Backends wrap these with context via fmt.Errorf and
// %w; callers classify with errors.Is.
var (
	// ErrGeneric is an unclassified failure (short reads/writes,
	// connection failures).
	ErrGeneric = errors.New("spi: failure")

	// ErrBusy means the device or backend is already engaged.
	ErrBusy = errors.New("spi: device busy")

	// ErrTimeout means a bounded wait elapsed before a response arrived.
	ErrTimeout = errors.New("spi: timeout")

	// ErrInvalidParam means a bad device id, empty buffer or malformed
	// configuration/registration.
	ErrInvalidParam = errors.New("spi: invalid parameter")

	// ErrNotInitialized means no backend is registered, or the device
	// (or its connection) is not ready.
	ErrNotInitialized = errors.New("spi: not initialized")
)

// DeviceID identifies one logical SPI channel. Valid ids are
// 0..MaxDevices-1; the meaning is shared across all backends.
type DeviceID uint8

// Mode is the SPI clock polarity/phase combination.
type Mode uint8

const (
	Mode0 Mode = 0 // CPOL=0, CPHA=0
	Mode1 Mode = 1 // CPOL=0, CPHA=1
	Mode2 Mode = 2 // CPOL=1, CPHA=0
	Mode3 Mode = 3 // CPOL=1, CPHA=1
)

// BitOrder selects which bit of a word goes on the wire first.
type BitOrder uint8

const (
	MSBFirst BitOrder = 0
	LSBFirst BitOrder = 1
)

// Config is the per-device SPI configuration. It is a value type:
// backends store a snapshot on init/set-config, never a reference.
type Config struct {
	Baudrate uint32 // clock frequency in Hz
	Mode     Mode   // clock polarity/phase (0-3)
	BitOrder BitOrder
	DataBits uint8 // bits per transfer word (8, 16, 32)
}

// Validate reports whether the configuration is usable.
func (c Config) Validate() error {
	if c.Baudrate == 0 {
		return fmt.Errorf("%w: baudrate must be positive", ErrInvalidParam)
	}
	if c.Mode > Mode3 {
		return fmt.Errorf("%w: mode must be 0-3, got %d", ErrInvalidParam, c.Mode)
	}
	if c.BitOrder > LSBFirst {
		return fmt.Errorf("%w: bit order must be MSB or LSB first", ErrInvalidParam)
	}
	return nil
}

// State is the lifecycle state of a device slot.
type State uint8

const (
	StateReset State = 0 // not initialized
	StateReady State = 1 // configured, idle
	StateBusy  State = 2 // operation in flight
	StateError State = 3 // unrecoverable fault
)

func (s State) String() string {
	switch s {
	case StateReset:
		return "reset"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// DeviceStatus is a snapshot of one device slot. Counters increase
// monotonically between init and deinit; deinit resets the record.
type DeviceStatus struct {
	State      State
	TxCount    uint32 // total transmitted bytes
	RxCount    uint32 // total received bytes
	ErrorCount uint32 // total failed operations
	Busy       bool
}
