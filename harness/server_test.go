package harness

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spihal/config"
	"spihal/hal"
	"spihal/wire"
)

func startServer(t *testing.T) (*Server, net.Conn) {
	t.Helper()
	srv, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return srv, conn
}

func request(t *testing.T, conn net.Conn, msgType wire.MsgType, dev uint8, seq uint32, payload []byte) (wire.Header, []byte) {
	t.Helper()
	require.NoError(t, wire.WriteMessage(conn, wire.Header{Type: msgType, Device: dev, Seq: seq}, payload))
	hdr, err := wire.ReadHeader(conn)
	require.NoError(t, err)
	data, err := wire.ReadPayload(conn, hdr)
	require.NoError(t, err)
	return hdr, data
}

func TestServerSession(t *testing.T) {
	_, conn := startServer(t)
	cfg := hal.Config{Baudrate: 1000000, Mode: hal.Mode0, BitOrder: hal.MSBFirst, DataBits: 8}

	hdr, data := request(t, conn, wire.MsgInit, 0, 1, wire.MarshalConfig(cfg))
	assert.Equal(t, wire.MsgResponse, hdr.Type)
	assert.Equal(t, uint8(0), hdr.Device)
	assert.Equal(t, uint32(1), hdr.Seq)
	assert.Empty(t, data)

	// Two read-DEVID frames; the second response carries the id thanks
	// to the peripheral's pipeline.
	read := readFrame(RegDevID)
	payload := []byte{byte(read >> 8), byte(read), byte(read >> 8), byte(read)}
	hdr, data = request(t, conn, wire.MsgTransfer, 0, 2, payload)
	require.Equal(t, uint32(2), hdr.Seq)
	require.Len(t, data, 4)
	second := uint16(data[2])<<8 | uint16(data[3])
	assert.Equal(t, uint8(DeviceID), respData(second))

	_, data = request(t, conn, wire.MsgSend, 0, 3, []byte{0x01, 0x02})
	assert.Empty(t, data)

	_, data = request(t, conn, wire.MsgReceive, 0, 4, wire.MarshalLengthRequest(6))
	assert.Len(t, data, 6)

	_, data = request(t, conn, wire.MsgGetStatus, 0, 5, nil)
	st, err := wire.ParseStatus(data)
	require.NoError(t, err)
	assert.Equal(t, hal.StateReady, st.State)
	// Counters are from the harness's point of view: it received the
	// transfer and send payloads and transmitted the responses.
	assert.Equal(t, uint32(6), st.RxCount)
	assert.Equal(t, uint32(10), st.TxCount)

	hdr, data = request(t, conn, wire.MsgDeinit, 0, 6, nil)
	assert.Equal(t, uint32(6), hdr.Seq)
	assert.Empty(t, data)
}

func TestServerUnknownType(t *testing.T) {
	_, conn := startServer(t)
	hdr, data := request(t, conn, wire.MsgType(0x55), 3, 9, nil)
	// Unknown requests still get an empty response so the stream stays
	// aligned.
	assert.Equal(t, wire.MsgResponse, hdr.Type)
	assert.Equal(t, uint32(9), hdr.Seq)
	assert.Empty(t, data)
}

func TestServerResponseDelay(t *testing.T) {
	srv, conn := startServer(t)
	srv.SetFaults(Faults{ResponseDelay: 50 * time.Millisecond})

	start := time.Now()
	request(t, conn, wire.MsgSend, 0, 1, []byte{0x01})
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestWatchConfigReloadsFaults(t *testing.T) {
	srv, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	path := filepath.Join(t.TempDir(), "harness.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Harness:\n  Faults:\n    DropResponses: false\n"), 0o644))

	stop, err := srv.WatchConfig(path)
	require.NoError(t, err)
	t.Cleanup(stop)

	require.NoError(t, os.WriteFile(path, []byte("Harness:\n  Faults:\n    DropResponses: true\n    TruncateBy: 2\n"), 0o644))

	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return srv.faults.DropResponses && srv.faults.TruncateBy == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestApplyFaults(t *testing.T) {
	srv, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	srv.ApplyFaults(config.FaultsConfig{DropResponses: true, TruncateBy: 1, ResponseDelayMillis: 20})

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.True(t, srv.faults.DropResponses)
	assert.Equal(t, 1, srv.faults.TruncateBy)
	assert.Equal(t, 20*time.Millisecond, srv.faults.ResponseDelay)
}
