package hal

import (
	"fmt"
	"sync"
)

// DeviceTable is a bounded arena of per-device lifecycle records shared
// by backend implementations. Each slot moves through
// reset -> ready -> busy -> ready, with deinit returning it to reset.
// Slot access is mutex-guarded, so the busy check-and-set is atomic and
// overlapping operations on one device surface as ErrBusy rather than
// a data race.
//
// The zero value is ready to use: all slots start in the reset state.
type DeviceTable struct {
	slots [MaxDevices]deviceSlot
}

type deviceSlot struct {
	mu          sync.Mutex
	initialized bool
	cfg         Config
	status      DeviceStatus
}

func (t *DeviceTable) slot(dev DeviceID) (*deviceSlot, error) {
	if dev >= MaxDevices {
		return nil, fmt.Errorf("%w: device %d out of range [0,%d)", ErrInvalidParam, dev, MaxDevices)
	}
	return &t.slots[dev], nil
}

// Init stores a configuration snapshot, zeroes the counters and marks
// the slot ready. A slot that is already initialized returns ErrBusy
// (a reentrancy guard, not a hardware-busy signal) and keeps its
// existing configuration.
func (t *DeviceTable) Init(dev DeviceID, cfg Config) error {
	s, err := t.slot(dev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return fmt.Errorf("%w: device %d already initialized", ErrBusy, dev)
	}
	s.cfg = cfg
	s.status = DeviceStatus{State: StateReady}
	s.initialized = true
	return nil
}

// Deinit clears the whole record back to reset, discarding the
// configuration and counters.
func (t *DeviceTable) Deinit(dev DeviceID) error {
	s, err := t.slot(dev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return fmt.Errorf("%w: device %d", ErrNotInitialized, dev)
	}
	s.cfg = Config{}
	s.status = DeviceStatus{}
	s.initialized = false
	return nil
}

// Begin claims the slot for one in-flight operation. It fails with
// ErrNotInitialized outside the init->deinit window and with ErrBusy
// while another operation holds the slot.
func (t *DeviceTable) Begin(dev DeviceID) error {
	s, err := t.slot(dev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return fmt.Errorf("%w: device %d", ErrNotInitialized, dev)
	}
	if s.status.Busy {
		return fmt.Errorf("%w: device %d", ErrBusy, dev)
	}
	s.status.Busy = true
	s.status.State = StateBusy
	return nil
}

// End releases a slot claimed by Begin. On success the byte counters
// advance by tx and rx; on failure only the error counter increments.
// Counters are never rolled back.
func (t *DeviceTable) End(dev DeviceID, tx, rx int, opErr error) {
	s, err := t.slot(dev)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if opErr != nil {
		s.status.ErrorCount++
	} else {
		s.status.TxCount += uint32(tx)
		s.status.RxCount += uint32(rx)
	}
	s.status.Busy = false
	s.status.State = StateReady
}

// SetConfig replaces the stored configuration atomically. It is
// rejected while an operation is in flight and does not touch counters
// or state.
func (t *DeviceTable) SetConfig(dev DeviceID, cfg Config) error {
	s, err := t.slot(dev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return fmt.Errorf("%w: device %d", ErrNotInitialized, dev)
	}
	if s.status.Busy {
		return fmt.Errorf("%w: device %d", ErrBusy, dev)
	}
	s.cfg = cfg
	return nil
}

// Status returns a snapshot of the slot. Busy slots may be queried.
func (t *DeviceTable) Status(dev DeviceID) (DeviceStatus, error) {
	s, err := t.slot(dev)
	if err != nil {
		return DeviceStatus{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return DeviceStatus{}, fmt.Errorf("%w: device %d", ErrNotInitialized, dev)
	}
	return s.status, nil
}

// Config returns the stored configuration snapshot.
func (t *DeviceTable) Config(dev DeviceID) (Config, error) {
	s, err := t.slot(dev)
	if err != nil {
		return Config{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return Config{}, fmt.Errorf("%w: device %d", ErrNotInitialized, dev)
	}
	return s.cfg, nil
}

// Initialized reports whether the slot is inside its init->deinit
// window.
func (t *DeviceTable) Initialized(dev DeviceID) bool {
	s, err := t.slot(dev)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}
