package harness

import "log/slog"

// TLE92104 simulates the register file and SPI pipeline of the
// Infineon TLE92104 4-channel high-side switch sitting behind the
// harness. Frames are 16 bits:
//
//	[CMD(2) | ADDR(4) | DATA(8) | PARITY(1) | RESERVED(1)]
//
// CMD 00 reads, 01 writes. A response carries the data of the previous
// transaction (pipeline behavior) with even parity over bits 15:2.
type TLE92104 struct {
	registers [registerCount]uint8

	wdgCount         uint32
	lastResponseData uint8
	lastResponseAddr uint8
}

// Register addresses.
const (
	RegCtrl1 = 0x00
	RegCtrl2 = 0x01
	RegCtrl3 = 0x02
	RegCfg   = 0x03
	RegDiag  = 0x04
	RegWdg   = 0x05
	RegIcr   = 0x06
	RegHwcr  = 0x07
	RegDevID = 0x08

	registerCount = 16
)

// DeviceID is the value of the read-only DEVID register.
const DeviceID = 0x5A

// Frame field layout.
const (
	cmdShift  = 14
	addrShift = 10
	dataShift = 2
	parityBit = 1

	cmdRead  = 0x00
	cmdWrite = 0x01
)

// NewTLE92104 returns a simulator with default register values.
func NewTLE92104() *TLE92104 {
	t := &TLE92104{}
	t.registers[RegDevID] = DeviceID
	return t
}

// Frame processes one 16-bit frame and returns the 16-bit response.
func (t *TLE92104) Frame(frame uint16) uint16 {
	cmd := uint8(frame>>cmdShift) & 0x03
	addr := uint8(frame>>addrShift) & 0x0F
	data := uint8(frame >> dataShift)

	respData := t.lastResponseData
	respAddr := t.lastResponseAddr

	switch cmd {
	case cmdRead:
		t.lastResponseData = t.registers[addr]
		t.lastResponseAddr = addr
		slog.Debug("tle92104: read", "reg", addr, "value", t.lastResponseData)
	case cmdWrite:
		if addr != RegDevID {
			t.registers[addr] = data
			slog.Debug("tle92104: write", "reg", addr, "value", data)
			if addr == RegWdg {
				t.wdgCount++
			}
		} else {
			slog.Debug("tle92104: write to read-only DEVID ignored")
		}
		t.lastResponseData = t.registers[addr]
		t.lastResponseAddr = addr
	default:
		slog.Debug("tle92104: unknown command", "cmd", cmd)
		t.lastResponseData = 0
		t.lastResponseAddr = 0
	}

	resp := uint16(respAddr&0x0F)<<addrShift | uint16(respData)<<dataShift
	resp |= evenParity(resp) << parityBit
	return resp
}

// WatchdogCount reports how many times the watchdog register has been
// serviced.
func (t *TLE92104) WatchdogCount() uint32 {
	return t.wdgCount
}

// evenParity computes even parity over frame bits 15:2.
func evenParity(frame uint16) uint16 {
	v := (frame >> 2) & 0x3FFF
	var p uint16
	for i := 0; i < 14; i++ {
		p ^= v & 1
		v >>= 1
	}
	return p
}

// exchange runs a raw SPI payload through the simulator, two bytes per
// frame. An odd trailing byte is padded with zero in the response.
func (t *TLE92104) exchange(payload []byte) []byte {
	resp := make([]byte, 0, len(payload))
	for i := 0; i+1 < len(payload); i += 2 {
		tx := uint16(payload[i])<<8 | uint16(payload[i+1])
		rx := t.Frame(tx)
		resp = append(resp, byte(rx>>8), byte(rx))
	}
	if len(payload)%2 != 0 {
		resp = append(resp, 0x00)
	}
	return resp
}
