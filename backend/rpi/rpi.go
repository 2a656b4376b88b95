//go:build linux

// Package rpi implements the SPI operations contract on a Raspberry Pi
// using the BCM283x SPI0 peripheral via go-rpio. All device slots share
// the one physical bus; exchanges are serialized with a mutex and the
// bus clock follows the configuration of whichever device is active.
package rpi

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stianeikeland/go-rpio/v4"

	"spihal/hal"
)

// Backend is the Raspberry Pi implementation of hal.Ops.
type Backend struct {
	table hal.DeviceTable

	mu     sync.Mutex
	active int // initialized devices; the bus closes when it drops to 0
}

var _ hal.Ops = (*Backend)(nil)

// New returns a Raspberry Pi backend. The SPI bus is opened lazily on
// the first device init.
func New() *Backend {
	return &Backend{}
}

func (b *Backend) busUp() error {
	if b.active > 0 {
		return nil
	}
	if err := rpio.Open(); err != nil {
		return fmt.Errorf("%w: open gpio memory: %v", hal.ErrGeneric, err)
	}
	if err := rpio.SpiBegin(rpio.Spi0); err != nil {
		rpio.Close()
		return fmt.Errorf("%w: begin spi: %v", hal.ErrGeneric, err)
	}
	return nil
}

func (b *Backend) busDown() {
	rpio.SpiEnd(rpio.Spi0)
	if err := rpio.Close(); err != nil {
		slog.Warn("rpi: closing gpio memory", "err", err)
	}
}

// applyConfig programs the bus clock and mode for the active device.
func applyConfig(cfg hal.Config) {
	rpio.SpiSpeed(int(cfg.Baudrate))
	rpio.SpiMode(byte(cfg.Mode)>>1&1, byte(cfg.Mode)&1)
}

// Init opens the bus if needed and configures a device slot.
func (b *Backend) Init(dev hal.DeviceID, cfg hal.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.busUp(); err != nil {
		return err
	}
	if err := b.table.Init(dev, cfg); err != nil {
		if b.active == 0 {
			b.busDown()
		}
		return err
	}
	b.active++
	slog.Info("rpi: device initialized", "device", dev, "baudrate", cfg.Baudrate, "mode", cfg.Mode)
	return nil
}

// Deinit releases a device slot; the bus closes with the last one.
func (b *Backend) Deinit(dev hal.DeviceID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.table.Deinit(dev); err != nil {
		return err
	}
	b.active--
	if b.active == 0 {
		b.busDown()
	}
	return nil
}

// Transfer performs a full-duplex exchange on the shared bus.
func (b *Backend) Transfer(dev hal.DeviceID, tx, rx []byte, timeout time.Duration) error {
	if err := b.table.Begin(dev); err != nil {
		return err
	}
	cfg, err := b.table.Config(dev)
	if err != nil {
		b.table.End(dev, 0, 0, err)
		return err
	}
	b.mu.Lock()
	applyConfig(cfg)
	buf := make([]byte, len(tx))
	copy(buf, tx)
	rpio.SpiExchange(buf)
	copy(rx, buf)
	b.mu.Unlock()
	b.table.End(dev, len(tx), len(rx), nil)
	return nil
}

// Send writes data, discarding the clocked-in bytes.
func (b *Backend) Send(dev hal.DeviceID, data []byte, timeout time.Duration) error {
	if err := b.table.Begin(dev); err != nil {
		return err
	}
	cfg, err := b.table.Config(dev)
	if err != nil {
		b.table.End(dev, 0, 0, err)
		return err
	}
	b.mu.Lock()
	applyConfig(cfg)
	rpio.SpiTransmit(data...)
	b.mu.Unlock()
	b.table.End(dev, len(data), 0, nil)
	return nil
}

// Receive reads len(buf) bytes, clocking out idle words.
func (b *Backend) Receive(dev hal.DeviceID, buf []byte, timeout time.Duration) error {
	if err := b.table.Begin(dev); err != nil {
		return err
	}
	cfg, err := b.table.Config(dev)
	if err != nil {
		b.table.End(dev, 0, 0, err)
		return err
	}
	b.mu.Lock()
	applyConfig(cfg)
	copy(buf, rpio.SpiReceive(len(buf)))
	b.mu.Unlock()
	b.table.End(dev, 0, len(buf), nil)
	return nil
}

// SetConfig replaces the stored configuration; the bus is reprogrammed
// on the device's next exchange.
func (b *Backend) SetConfig(dev hal.DeviceID, cfg hal.Config) error {
	return b.table.SetConfig(dev, cfg)
}

// Status returns the device status snapshot.
func (b *Backend) Status(dev hal.DeviceID) (hal.DeviceStatus, error) {
	return b.table.Status(dev)
}
