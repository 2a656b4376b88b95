package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spihal/hal"
)

func TestHeaderWireLayout(t *testing.T) {
	h := Header{Type: MsgTransfer, Device: 2, Length: 0x0104, Seq: 0x01020304}
	b := h.Marshal()

	// type(1) device(1) length(2, big-endian) seq(4, big-endian)
	assert.Equal(t, [HeaderSize]byte{0x03, 0x02, 0x01, 0x04, 0x01, 0x02, 0x03, 0x04}, b)

	back, err := ParseHeader(b[:])
	require.NoError(t, err)
	assert.Equal(t, h, back)
}

func TestParseHeaderTruncated(t *testing.T) {
	_, err := ParseHeader([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestWriteReadMessage(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{0xAA, 0xBB, 0xCC}
	require.NoError(t, WriteMessage(&buf, Header{Type: MsgSend, Device: 1, Seq: 7}, payload))

	h, err := ReadHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgSend, h.Type)
	assert.Equal(t, uint8(1), h.Device)
	assert.Equal(t, uint16(3), h.Length) // set from the payload, not the caller
	assert.Equal(t, uint32(7), h.Seq)

	got, err := ReadPayload(&buf, h)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestWriteMessageNoPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, Header{Type: MsgDeinit, Device: 4, Seq: 1}, nil))
	assert.Equal(t, HeaderSize, buf.Len())

	h, err := ReadHeader(&buf)
	require.NoError(t, err)
	got, err := ReadPayload(&buf, h)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWriteMessageOversized(t *testing.T) {
	var buf bytes.Buffer
	err := WriteMessage(&buf, Header{Type: MsgSend}, make([]byte, MaxPayload+1))
	assert.Error(t, err)
	assert.Zero(t, buf.Len())
}

func TestReadPayloadBounds(t *testing.T) {
	_, err := ReadPayload(bytes.NewReader(nil), Header{Length: MaxPayload + 1})
	assert.Error(t, err)

	// Announced more than the stream holds.
	_, err = ReadPayload(bytes.NewReader([]byte{0x01}), Header{Length: 4})
	assert.Error(t, err)
}

func TestReadHeaderShortStream(t *testing.T) {
	_, err := ReadHeader(bytes.NewReader([]byte{0x03, 0x00, 0x00}))
	assert.Error(t, err)
}

func TestConfigCodec(t *testing.T) {
	cfg := hal.Config{Baudrate: 1000000, Mode: hal.Mode3, BitOrder: hal.LSBFirst, DataBits: 16}
	b := MarshalConfig(cfg)
	require.Len(t, b, ConfigLen)
	assert.Equal(t, []byte{0x00, 0x0F, 0x42, 0x40, 0x03, 0x01, 0x10}, b)

	back, err := ParseConfig(b)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)

	_, err = ParseConfig(b[:ConfigLen-1])
	assert.Error(t, err)
}

func TestStatusCodec(t *testing.T) {
	st := hal.DeviceStatus{
		State:      hal.StateReady,
		TxCount:    300,
		RxCount:    12,
		ErrorCount: 2,
		Busy:       true,
	}
	b := MarshalStatus(st)
	require.Len(t, b, StatusLen)

	back, err := ParseStatus(b)
	require.NoError(t, err)
	assert.Equal(t, st, back)

	_, err = ParseStatus(b[:StatusLen-1])
	assert.Error(t, err)
}

func TestLengthRequestCodec(t *testing.T) {
	b := MarshalLengthRequest(0x0205)
	assert.Equal(t, []byte{0x02, 0x05}, b)

	n, err := ParseLengthRequest(b)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0205), n)

	_, err = ParseLengthRequest([]byte{0x01})
	assert.Error(t, err)
}

func TestMsgTypeString(t *testing.T) {
	assert.Equal(t, "INIT", MsgInit.String())
	assert.Equal(t, "GET_STATUS", MsgGetStatus.String())
	assert.Equal(t, "RESPONSE", MsgResponse.String())
	assert.Equal(t, "UNKNOWN(0x42)", MsgType(0x42).String())
}
