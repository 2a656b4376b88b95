// Package sim implements the SPI operations contract entirely in
// memory, for PC-based development without hardware. Transfers echo the
// transmitted bytes; sends are queued per device and handed back by
// later receives (loopback), with any shortfall filled from a
// pseudo-random source.
package sim

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gammazero/deque"

	"spihal/hal"
)

// rxQueueLimit caps how many loopback bytes a device queues; sends
// beyond the limit drop the overflow.
const rxQueueLimit = 1024

// Backend is the simulated SPI implementation of hal.Ops.
type Backend struct {
	table hal.DeviceTable

	mu  sync.Mutex
	rx  [hal.MaxDevices]deque.Deque[byte]
	rnd *rand.Rand
}

var _ hal.Ops = (*Backend)(nil)

// New returns a simulator backend with empty loopback queues.
func New() *Backend {
	return &Backend{
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Init configures a simulated device and clears its loopback queue.
func (b *Backend) Init(dev hal.DeviceID, cfg hal.Config) error {
	if err := b.table.Init(dev, cfg); err != nil {
		return err
	}
	b.mu.Lock()
	b.rx[dev].Clear()
	b.mu.Unlock()
	slog.Debug("sim: device initialized",
		"device", dev, "baudrate", cfg.Baudrate, "mode", cfg.Mode, "data_bits", cfg.DataBits)
	return nil
}

// Deinit releases a simulated device.
func (b *Backend) Deinit(dev hal.DeviceID) error {
	st, err := b.table.Status(dev)
	if err != nil {
		return err
	}
	if err := b.table.Deinit(dev); err != nil {
		return err
	}
	b.mu.Lock()
	b.rx[dev].Clear()
	b.mu.Unlock()
	slog.Debug("sim: device deinitialized",
		"device", dev, "tx", st.TxCount, "rx", st.RxCount, "errors", st.ErrorCount)
	return nil
}

// Transfer echoes the transmitted bytes back into rx.
func (b *Backend) Transfer(dev hal.DeviceID, tx, rx []byte, timeout time.Duration) error {
	if err := b.table.Begin(dev); err != nil {
		return err
	}
	copy(rx, tx)
	b.table.End(dev, len(tx), len(rx), nil)
	return nil
}

// Send queues the data on the device's loopback queue.
func (b *Backend) Send(dev hal.DeviceID, data []byte, timeout time.Duration) error {
	if err := b.table.Begin(dev); err != nil {
		return err
	}
	b.mu.Lock()
	q := &b.rx[dev]
	for _, v := range data {
		if q.Len() >= rxQueueLimit {
			break
		}
		q.PushBack(v)
	}
	b.mu.Unlock()
	b.table.End(dev, len(data), 0, nil)
	return nil
}

// Receive drains queued loopback bytes and fills the remainder of buf
// with pseudo-random data.
func (b *Backend) Receive(dev hal.DeviceID, buf []byte, timeout time.Duration) error {
	if err := b.table.Begin(dev); err != nil {
		return err
	}
	b.mu.Lock()
	q := &b.rx[dev]
	n := 0
	for n < len(buf) && q.Len() > 0 {
		buf[n] = q.PopFront()
		n++
	}
	for ; n < len(buf); n++ {
		buf[n] = byte(b.rnd.Intn(256))
	}
	b.mu.Unlock()
	b.table.End(dev, 0, len(buf), nil)
	return nil
}

// SetConfig replaces the stored configuration.
func (b *Backend) SetConfig(dev hal.DeviceID, cfg hal.Config) error {
	return b.table.SetConfig(dev, cfg)
}

// Status returns the simulated device status.
func (b *Backend) Status(dev hal.DeviceID) (hal.DeviceStatus, error) {
	return b.table.Status(dev)
}
