// Package socket implements the SPI operations contract by proxying
// every byte exchange over a stream connection to an external harness,
// one connection per device. Requests and responses are framed by the
// wire package; correlation relies on strict request/response ordering
// over the connection, cross-checked against the echoed sequence
// number.
package socket

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"spihal/hal"
	"spihal/wire"
)

// Backend is the remote-transport implementation of hal.Ops.
type Backend struct {
	table hal.DeviceTable
	opts  Options
	devs  [hal.MaxDevices]remoteDevice
}

// remoteDevice carries the connection bookkeeping for one device slot.
// conn is nil while the device runs in the disconnected sub-state.
type remoteDevice struct {
	mu   sync.Mutex
	conn Conn
	seq  uint32
}

var _ hal.Ops = (*Backend)(nil)

// New returns a socket backend. Devices connect lazily on Init.
func New(opts Options) *Backend {
	return &Backend{opts: opts.withDefaults()}
}

// Init configures a device slot and connects it to the harness. A
// failed connection is not fatal: the device comes up initialized but
// disconnected, status queries work, and byte-exchange operations
// return ErrNotInitialized until a later Deinit/Init cycle
// re-establishes a connection.
func (b *Backend) Init(dev hal.DeviceID, cfg hal.Config) error {
	if err := b.table.Init(dev, cfg); err != nil {
		return err
	}
	host, port := b.opts.target()
	conn, err := connect(b.opts, host, port)
	if err != nil {
		slog.Warn("socket: running in disconnected mode", "device", dev, "err", err)
		return nil
	}

	d := &b.devs[dev]
	d.mu.Lock()
	d.conn = conn
	d.seq = 0
	d.mu.Unlock()

	// Announce the device to the harness. The reply is consumed so the
	// stream stays aligned for the first transfer.
	if _, err := b.roundTrip(dev, wire.MsgInit, wire.MarshalConfig(cfg), 0, ackTimeout); err != nil {
		slog.Warn("socket: init announcement failed", "device", dev, "err", err)
	}
	return nil
}

// Deinit announces the teardown (best effort, result ignored), closes
// the connection and clears the device record.
func (b *Backend) Deinit(dev hal.DeviceID) error {
	if !b.table.Initialized(dev) {
		if dev >= hal.MaxDevices {
			return fmt.Errorf("%w: device %d out of range [0,%d)", hal.ErrInvalidParam, dev, hal.MaxDevices)
		}
		return fmt.Errorf("%w: device %d", hal.ErrNotInitialized, dev)
	}
	d := &b.devs[dev]
	d.mu.Lock()
	if d.conn != nil {
		hdr := wire.Header{Type: wire.MsgDeinit, Device: uint8(dev), Seq: d.seq}
		d.seq++
		_ = wire.WriteMessage(d.conn, hdr, nil)
		_ = d.conn.Close()
		d.conn = nil
	}
	d.mu.Unlock()
	return b.table.Deinit(dev)
}

// exchangeResult carries the decoded response of one round trip.
type exchangeResult struct {
	payload []byte
}

// roundTrip sends one framed request and reads the correlated
// response. wantLen > 0 asserts the exact response payload length
// (transfer); wantLen == 0 allows any length. Failure classification
// follows the protocol steps: short writes are generic errors, a
// header that does not arrive intact within the deadline is a timeout,
// a short payload read is a generic error.
func (b *Backend) roundTrip(dev hal.DeviceID, t wire.MsgType, payload []byte, wantLen int, timeout time.Duration) (*exchangeResult, error) {
	d := &b.devs[dev]
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil, fmt.Errorf("%w: device %d not connected", hal.ErrNotInitialized, dev)
	}

	hdr := wire.Header{Type: t, Device: uint8(dev), Seq: d.seq}
	d.seq++
	if err := wire.WriteMessage(d.conn, hdr, payload); err != nil {
		return nil, fmt.Errorf("%w: %s request: %v", hal.ErrGeneric, t, err)
	}

	if timeout > 0 {
		_ = d.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		_ = d.conn.SetReadDeadline(time.Time{})
	}
	resp, err := wire.ReadHeader(d.conn)
	if err != nil {
		return nil, fmt.Errorf("%w: %s response header: %v", hal.ErrTimeout, t, err)
	}
	if resp.Type != wire.MsgResponse {
		return nil, fmt.Errorf("%w: unexpected message type %s", hal.ErrGeneric, resp.Type)
	}
	if resp.Seq != hdr.Seq {
		return nil, fmt.Errorf("%w: response sequence %d does not match request %d",
			hal.ErrGeneric, resp.Seq, hdr.Seq)
	}
	data, err := wire.ReadPayload(d.conn, resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %s response payload: %v", hal.ErrGeneric, t, err)
	}
	if wantLen > 0 && len(data) != wantLen {
		return nil, fmt.Errorf("%w: %s response length %d, want %d",
			hal.ErrGeneric, t, len(data), wantLen)
	}
	return &exchangeResult{payload: data}, nil
}

// connected reports whether the device has a live connection.
func (b *Backend) connected(dev hal.DeviceID) bool {
	d := &b.devs[dev]
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn != nil
}

// checkReady mirrors the pre-busy validation: the device must be
// initialized and connected before it can claim the busy flag.
func (b *Backend) checkReady(dev hal.DeviceID) error {
	if dev >= hal.MaxDevices {
		return fmt.Errorf("%w: device %d out of range [0,%d)", hal.ErrInvalidParam, dev, hal.MaxDevices)
	}
	if !b.table.Initialized(dev) {
		return fmt.Errorf("%w: device %d", hal.ErrNotInitialized, dev)
	}
	if !b.connected(dev) {
		return fmt.Errorf("%w: device %d not connected", hal.ErrNotInitialized, dev)
	}
	return nil
}

// Transfer proxies a full-duplex exchange: the outgoing bytes ride in
// the request payload and the response payload must carry exactly the
// same number of bytes back. Counters advance only on a fully
// successful round trip; any failure increments the error counter and
// clears the busy flag.
func (b *Backend) Transfer(dev hal.DeviceID, tx, rx []byte, timeout time.Duration) error {
	if err := b.checkReady(dev); err != nil {
		return err
	}
	if err := b.table.Begin(dev); err != nil {
		return err
	}
	res, err := b.roundTrip(dev, wire.MsgTransfer, tx, len(tx), timeout)
	if err != nil {
		b.table.End(dev, 0, 0, err)
		return err
	}
	copy(rx, res.payload)
	b.table.End(dev, len(tx), len(rx), nil)
	return nil
}

// Send proxies a write-only request. The arrival of an empty response
// is the acknowledgment.
func (b *Backend) Send(dev hal.DeviceID, data []byte, timeout time.Duration) error {
	if err := b.checkReady(dev); err != nil {
		return err
	}
	if err := b.table.Begin(dev); err != nil {
		return err
	}
	_, err := b.roundTrip(dev, wire.MsgSend, data, 0, timeout)
	if err != nil {
		b.table.End(dev, 0, 0, err)
		return err
	}
	b.table.End(dev, len(data), 0, nil)
	return nil
}

// Receive proxies a read-only request: the payload asks the harness
// for a byte count and the response carries the bytes.
func (b *Backend) Receive(dev hal.DeviceID, buf []byte, timeout time.Duration) error {
	if err := b.checkReady(dev); err != nil {
		return err
	}
	if len(buf) > wire.MaxPayload {
		return fmt.Errorf("%w: receive length %d exceeds %d", hal.ErrInvalidParam, len(buf), wire.MaxPayload)
	}
	if err := b.table.Begin(dev); err != nil {
		return err
	}
	res, err := b.roundTrip(dev, wire.MsgReceive, wire.MarshalLengthRequest(uint16(len(buf))), 0, timeout)
	if err != nil {
		b.table.End(dev, 0, 0, err)
		return err
	}
	if len(res.payload) > len(buf) {
		err := fmt.Errorf("%w: receive response %d bytes exceeds buffer %d",
			hal.ErrGeneric, len(res.payload), len(buf))
		b.table.End(dev, 0, 0, err)
		return err
	}
	n := copy(buf, res.payload)
	b.table.End(dev, 0, n, nil)
	return nil
}

// SetConfig updates the local snapshot and forwards the new
// configuration to the harness.
func (b *Backend) SetConfig(dev hal.DeviceID, cfg hal.Config) error {
	if err := b.checkReady(dev); err != nil {
		return err
	}
	if err := b.table.SetConfig(dev, cfg); err != nil {
		return err
	}
	if _, err := b.roundTrip(dev, wire.MsgSetConfig, wire.MarshalConfig(cfg), 0, ackTimeout); err != nil {
		slog.Warn("socket: set-config announcement failed", "device", dev, "err", err)
	}
	return nil
}

// Status answers from the local device record; no round trip.
func (b *Backend) Status(dev hal.DeviceID) (hal.DeviceStatus, error) {
	return b.table.Status(dev)
}
