package hal

import "time"

// Ops is the capability contract every backend must fully implement
// (bridge pattern implementor). All operations are synchronous and
// block the caller; the timeout argument bounds only the remote
// backend's receive step (zero means no bound).
//
// Backends validate lifecycle state themselves: operations on an
// uninitialized device return ErrNotInitialized, overlapping
// operations on the same device return ErrBusy.
type Ops interface {
	// Init configures a device slot. Allowed only from the reset
	// state; a second init without an intervening Deinit returns
	// ErrBusy and leaves the stored configuration unchanged.
	Init(dev DeviceID, cfg Config) error

	// Deinit releases the device slot, discarding its configuration
	// and counters.
	Deinit(dev DeviceID) error

	// Transfer performs a full-duplex exchange: len(tx) bytes are
	// clocked out while the same number are clocked into rx.
	Transfer(dev DeviceID, tx, rx []byte, timeout time.Duration) error

	// Send writes data without keeping the simultaneously received
	// bytes.
	Send(dev DeviceID, data []byte, timeout time.Duration) error

	// Receive reads len(buf) bytes, clocking out idle words.
	Receive(dev DeviceID, buf []byte, timeout time.Duration) error

	// SetConfig replaces the stored configuration at runtime without
	// resetting counters or state.
	SetConfig(dev DeviceID, cfg Config) error

	// Status returns a snapshot of the device slot. It is read-only
	// and never rejected for busy.
	Status(dev DeviceID) (DeviceStatus, error)
}
