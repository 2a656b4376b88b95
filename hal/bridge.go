package hal

import (
	"fmt"
	"sync"
	"time"
)

// Bridge routes the abstract SPI API to exactly one registered backend.
// It validates parameters and lifecycle preconditions, then forwards to
// the backend's operations verbatim: no retries, no result
// transformation, no device state of its own.
//
// Construct a Bridge per consumer and register the backend explicitly;
// there is no process-wide instance. Registration is safe for
// concurrent use. Per-device call serialization remains the caller's
// job; backends turn overlapping calls on one device into ErrBusy.
type Bridge struct {
	mu  sync.RWMutex
	ops Ops
}

// NewBridge returns a Bridge with no backend registered. Every
// forwarding operation fails with ErrNotInitialized until Register is
// called.
func NewBridge() *Bridge {
	return &Bridge{}
}

// Register installs ops as the active backend, replacing any previous
// one (last writer wins). A nil contract is rejected with
// ErrInvalidParam and leaves the previously active backend unchanged.
func (b *Bridge) Register(ops Ops) error {
	if ops == nil {
		return fmt.Errorf("%w: nil operations contract", ErrInvalidParam)
	}
	b.mu.Lock()
	b.ops = ops
	b.mu.Unlock()
	return nil
}

func (b *Bridge) backend() (Ops, error) {
	b.mu.RLock()
	ops := b.ops
	b.mu.RUnlock()
	if ops == nil {
		return nil, fmt.Errorf("%w: no backend registered", ErrNotInitialized)
	}
	return ops, nil
}

func checkDevice(dev DeviceID) error {
	if dev >= MaxDevices {
		return fmt.Errorf("%w: device %d out of range [0,%d)", ErrInvalidParam, dev, MaxDevices)
	}
	return nil
}

// Init validates and forwards an init request.
func (b *Bridge) Init(dev DeviceID, cfg Config) error {
	ops, err := b.backend()
	if err != nil {
		return err
	}
	if err := checkDevice(dev); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return ops.Init(dev, cfg)
}

// Deinit validates and forwards a deinit request.
func (b *Bridge) Deinit(dev DeviceID) error {
	ops, err := b.backend()
	if err != nil {
		return err
	}
	if err := checkDevice(dev); err != nil {
		return err
	}
	return ops.Deinit(dev)
}

// Transfer validates and forwards a full-duplex exchange. tx and rx
// must be non-empty and of equal length.
func (b *Bridge) Transfer(dev DeviceID, tx, rx []byte, timeout time.Duration) error {
	ops, err := b.backend()
	if err != nil {
		return err
	}
	if err := checkDevice(dev); err != nil {
		return err
	}
	if len(tx) == 0 || len(rx) == 0 {
		return fmt.Errorf("%w: zero-length transfer", ErrInvalidParam)
	}
	if len(tx) != len(rx) {
		return fmt.Errorf("%w: tx/rx length mismatch (%d != %d)", ErrInvalidParam, len(tx), len(rx))
	}
	return ops.Transfer(dev, tx, rx, timeout)
}

// Send validates and forwards a write-only request.
func (b *Bridge) Send(dev DeviceID, data []byte, timeout time.Duration) error {
	ops, err := b.backend()
	if err != nil {
		return err
	}
	if err := checkDevice(dev); err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: zero-length send", ErrInvalidParam)
	}
	return ops.Send(dev, data, timeout)
}

// Receive validates and forwards a read-only request.
func (b *Bridge) Receive(dev DeviceID, buf []byte, timeout time.Duration) error {
	ops, err := b.backend()
	if err != nil {
		return err
	}
	if err := checkDevice(dev); err != nil {
		return err
	}
	if len(buf) == 0 {
		return fmt.Errorf("%w: zero-length receive", ErrInvalidParam)
	}
	return ops.Receive(dev, buf, timeout)
}

// SetConfig validates and forwards a runtime reconfiguration.
func (b *Bridge) SetConfig(dev DeviceID, cfg Config) error {
	ops, err := b.backend()
	if err != nil {
		return err
	}
	if err := checkDevice(dev); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return ops.SetConfig(dev, cfg)
}

// Status validates and forwards a status query.
func (b *Bridge) Status(dev DeviceID) (DeviceStatus, error) {
	ops, err := b.backend()
	if err != nil {
		return DeviceStatus{}, err
	}
	if err := checkDevice(dev); err != nil {
		return DeviceStatus{}, err
	}
	return ops.Status(dev)
}
