// Package stub is the hardware backend template. It carries the full
// registry and lifecycle behavior of a real controller port but no
// register programming: byte exchange is bridged onto an optional
// drivers.SPI bus, and without one it clocks out zeroes. Map New to a
// concrete bus when porting to real silicon.
package stub

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/drivers"

	"spihal/hal"
)

// Backend is the hardware-template implementation of hal.Ops.
type Backend struct {
	table hal.DeviceTable

	// busMu serializes exchanges on the shared bus.
	busMu sync.Mutex
	bus   drivers.SPI
}

var _ hal.Ops = (*Backend)(nil)

// New returns a backend with no bus attached. Transfers succeed and
// keep the counters honest, but received bytes are zeroes.
func New() *Backend {
	return &Backend{}
}

// NewWithBus returns a backend that exchanges bytes on bus. All device
// slots share the one bus; chip selection is the caller's concern.
func NewWithBus(bus drivers.SPI) *Backend {
	return &Backend{bus: bus}
}

// Init configures a device slot.
func (b *Backend) Init(dev hal.DeviceID, cfg hal.Config) error {
	if err := b.table.Init(dev, cfg); err != nil {
		return err
	}
	slog.Debug("stub: device initialized", "device", dev, "baudrate", cfg.Baudrate, "mode", cfg.Mode)
	return nil
}

// Deinit releases a device slot.
func (b *Backend) Deinit(dev hal.DeviceID) error {
	return b.table.Deinit(dev)
}

func (b *Backend) exchange(tx, rx []byte) error {
	if b.bus == nil {
		for i := range rx {
			rx[i] = 0
		}
		return nil
	}
	b.busMu.Lock()
	defer b.busMu.Unlock()
	if err := b.bus.Tx(tx, rx); err != nil {
		return fmt.Errorf("%w: bus exchange: %v", hal.ErrGeneric, err)
	}
	return nil
}

// Transfer performs a full-duplex exchange on the attached bus.
func (b *Backend) Transfer(dev hal.DeviceID, tx, rx []byte, timeout time.Duration) error {
	if err := b.table.Begin(dev); err != nil {
		return err
	}
	err := b.exchange(tx, rx)
	b.table.End(dev, len(tx), len(rx), err)
	return err
}

// Send writes data, discarding the clocked-in bytes.
func (b *Backend) Send(dev hal.DeviceID, data []byte, timeout time.Duration) error {
	if err := b.table.Begin(dev); err != nil {
		return err
	}
	err := b.exchange(data, nil)
	b.table.End(dev, len(data), 0, err)
	return err
}

// Receive reads len(buf) bytes, clocking out idle words.
func (b *Backend) Receive(dev hal.DeviceID, buf []byte, timeout time.Duration) error {
	if err := b.table.Begin(dev); err != nil {
		return err
	}
	err := b.exchange(nil, buf)
	b.table.End(dev, 0, len(buf), err)
	return err
}

// SetConfig replaces the stored configuration. Reprogramming a real
// peripheral would happen here.
func (b *Backend) SetConfig(dev hal.DeviceID, cfg hal.Config) error {
	return b.table.SetConfig(dev, cfg)
}

// Status returns the device status snapshot.
func (b *Backend) Status(dev hal.DeviceID) (hal.DeviceStatus, error) {
	return b.table.Status(dev)
}
