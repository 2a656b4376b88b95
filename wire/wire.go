// Package wire implements the framing of the remote SPI protocol: a
// fixed 8-byte header followed by a raw payload. All multi-byte fields
// are big-endian (network order) on both sides of the link.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"spihal/hal"
)

// MsgType tags a protocol message.
type MsgType uint8

const (
	MsgInit      MsgType = 0x01
	MsgDeinit    MsgType = 0x02
	MsgTransfer  MsgType = 0x03
	MsgSend      MsgType = 0x04
	MsgReceive   MsgType = 0x05
	MsgSetConfig MsgType = 0x06
	MsgGetStatus MsgType = 0x07

	// MsgResponse is the single reply tag used for all request types.
	// Correlation relies on request/response ordering over one
	// connection plus the echoed sequence number.
	MsgResponse MsgType = 0x80
)

func (t MsgType) String() string {
	switch t {
	case MsgInit:
		return "INIT"
	case MsgDeinit:
		return "DEINIT"
	case MsgTransfer:
		return "TRANSFER"
	case MsgSend:
		return "SEND"
	case MsgReceive:
		return "RECEIVE"
	case MsgSetConfig:
		return "SET_CONFIG"
	case MsgGetStatus:
		return "GET_STATUS"
	case MsgResponse:
		return "RESPONSE"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
	}
}

const (
	// HeaderSize is the fixed header length:
	// type(1) device(1) length(2) sequence(4).
	HeaderSize = 8

	// MaxPayload bounds a single message payload.
	MaxPayload = 4096
)

// Header is the fixed-size message header. Length counts the payload
// bytes that follow; Seq is assigned per connection by the sender and
// echoed in the response.
type Header struct {
	Type   MsgType
	Device uint8
	Length uint16
	Seq    uint32
}

// Marshal renders the header in wire order.
func (h Header) Marshal() [HeaderSize]byte {
	var b [HeaderSize]byte
	b[0] = byte(h.Type)
	b[1] = h.Device
	binary.BigEndian.PutUint16(b[2:4], h.Length)
	binary.BigEndian.PutUint32(b[4:8], h.Seq)
	return b
}

// ParseHeader decodes a header from buf, which must hold at least
// HeaderSize bytes.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("wire: header truncated: %d bytes", len(buf))
	}
	return Header{
		Type:   MsgType(buf[0]),
		Device: buf[1],
		Length: binary.BigEndian.Uint16(buf[2:4]),
		Seq:    binary.BigEndian.Uint32(buf[4:8]),
	}, nil
}

// WriteMessage frames and writes one message. The header's Length field
// is set from the payload. A short write surfaces as an error from w.
func WriteMessage(w io.Writer, h Header, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("wire: payload %d exceeds maximum %d", len(payload), MaxPayload)
	}
	h.Length = uint16(len(payload))
	hdr := h.Marshal()
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("wire: write payload: %w", err)
		}
	}
	return nil
}

// ReadHeader reads exactly one header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("wire: read header: %w", err)
	}
	return ParseHeader(buf[:])
}

// ReadPayload reads the payload announced by h. A zero-length payload
// returns nil.
func ReadPayload(r io.Reader, h Header) ([]byte, error) {
	if h.Length == 0 {
		return nil, nil
	}
	if h.Length > MaxPayload {
		return nil, fmt.Errorf("wire: announced payload %d exceeds maximum %d", h.Length, MaxPayload)
	}
	buf := make([]byte, h.Length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("wire: read payload: %w", err)
	}
	return buf, nil
}

// ConfigLen is the serialized size of a device configuration:
// baudrate(4) mode(1) bit order(1) data bits(1).
const ConfigLen = 7

// MarshalConfig serializes a device configuration.
func MarshalConfig(cfg hal.Config) []byte {
	b := make([]byte, ConfigLen)
	binary.BigEndian.PutUint32(b[0:4], cfg.Baudrate)
	b[4] = byte(cfg.Mode)
	b[5] = byte(cfg.BitOrder)
	b[6] = cfg.DataBits
	return b
}

// ParseConfig decodes a device configuration payload.
func ParseConfig(b []byte) (hal.Config, error) {
	if len(b) < ConfigLen {
		return hal.Config{}, fmt.Errorf("wire: config payload truncated: %d bytes", len(b))
	}
	return hal.Config{
		Baudrate: binary.BigEndian.Uint32(b[0:4]),
		Mode:     hal.Mode(b[4]),
		BitOrder: hal.BitOrder(b[5]),
		DataBits: b[6],
	}, nil
}

// StatusLen is the serialized size of a device status:
// state(1) busy(1) tx(4) rx(4) errors(4).
const StatusLen = 14

// MarshalStatus serializes a device status snapshot.
func MarshalStatus(st hal.DeviceStatus) []byte {
	b := make([]byte, StatusLen)
	b[0] = byte(st.State)
	if st.Busy {
		b[1] = 1
	}
	binary.BigEndian.PutUint32(b[2:6], st.TxCount)
	binary.BigEndian.PutUint32(b[6:10], st.RxCount)
	binary.BigEndian.PutUint32(b[10:14], st.ErrorCount)
	return b
}

// ParseStatus decodes a device status payload.
func ParseStatus(b []byte) (hal.DeviceStatus, error) {
	if len(b) < StatusLen {
		return hal.DeviceStatus{}, fmt.Errorf("wire: status payload truncated: %d bytes", len(b))
	}
	return hal.DeviceStatus{
		State:      hal.State(b[0]),
		Busy:       b[1] != 0,
		TxCount:    binary.BigEndian.Uint32(b[2:6]),
		RxCount:    binary.BigEndian.Uint32(b[6:10]),
		ErrorCount: binary.BigEndian.Uint32(b[10:14]),
	}, nil
}

// MarshalLengthRequest builds the RECEIVE request payload: the
// requested byte count as a 2-byte big-endian integer.
func MarshalLengthRequest(n uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, n)
	return b
}

// ParseLengthRequest decodes a RECEIVE request payload.
func ParseLengthRequest(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, fmt.Errorf("wire: length request truncated: %d bytes", len(b))
	}
	return binary.BigEndian.Uint16(b), nil
}
