package socket

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spihal/hal"
	"spihal/harness"
)

const opTimeout = 500 * time.Millisecond

func testConfig() hal.Config {
	return hal.Config{Baudrate: 1000000, Mode: hal.Mode0, BitOrder: hal.MSBFirst, DataBits: 8}
}

// startHarness runs an in-process harness on an ephemeral port and
// returns a backend pointed at it.
func startHarness(t *testing.T) (*harness.Server, *Backend) {
	t.Helper()
	srv, err := harness.Listen("127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })

	host, port, err := net.SplitHostPort(srv.Addr().String())
	require.NoError(t, err)
	b := New(Options{Host: host, Port: port, Retries: 1, RetryDelay: time.Millisecond})
	return srv, b
}

// unusedPort grabs an ephemeral port and releases it so dialing it
// fails.
func unusedPort(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, err := net.SplitHostPort(lis.Addr().String())
	require.NoError(t, err)
	require.NoError(t, lis.Close())
	return port
}

func TestTransferRoundTrip(t *testing.T) {
	_, b := startHarness(t)
	require.NoError(t, b.Init(0, testConfig()))

	tx := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	rx := make([]byte, len(tx))
	require.NoError(t, b.Transfer(0, tx, rx, opTimeout))

	st, err := b.Status(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), st.TxCount)
	assert.Equal(t, uint32(4), st.RxCount)
	assert.Zero(t, st.ErrorCount)
	assert.False(t, st.Busy)
}

func TestSendReceiveCounters(t *testing.T) {
	_, b := startHarness(t)
	const dev = hal.DeviceID(2)
	require.NoError(t, b.Init(dev, testConfig()))

	require.NoError(t, b.Send(dev, []byte{1, 2, 3, 4, 5}, opTimeout))

	buf := make([]byte, 5)
	require.NoError(t, b.Receive(dev, buf, opTimeout))

	st, err := b.Status(dev)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), st.TxCount)
	assert.Equal(t, uint32(5), st.RxCount)
	assert.Zero(t, st.ErrorCount)
}

func TestDroppedResponseTimesOut(t *testing.T) {
	srv, b := startHarness(t)
	require.NoError(t, b.Init(0, testConfig()))
	srv.SetFaults(harness.Faults{DropResponses: true})

	tx := []byte{0x01, 0x02}
	rx := make([]byte, 2)
	err := b.Transfer(0, tx, rx, 100*time.Millisecond)
	assert.ErrorIs(t, err, hal.ErrTimeout)

	// The failure is recorded and the busy flag released, so the next
	// operation is allowed through.
	st, serr := b.Status(0)
	require.NoError(t, serr)
	assert.Equal(t, uint32(1), st.ErrorCount)
	assert.Zero(t, st.TxCount)
	assert.False(t, st.Busy)

	srv.SetFaults(harness.Faults{})
	require.NoError(t, b.Transfer(0, tx, rx, opTimeout))
	st, _ = b.Status(0)
	assert.Equal(t, uint32(2), st.TxCount)
}

func TestTruncatedResponseIsGenericError(t *testing.T) {
	srv, b := startHarness(t)
	require.NoError(t, b.Init(0, testConfig()))
	srv.SetFaults(harness.Faults{TruncateBy: 1})

	tx := []byte{0x01, 0x02, 0x03, 0x04}
	rx := make([]byte, 4)
	err := b.Transfer(0, tx, rx, 100*time.Millisecond)
	// The header arrived, so this is a short payload, not a timeout.
	assert.ErrorIs(t, err, hal.ErrGeneric)
	assert.NotErrorIs(t, err, hal.ErrTimeout)

	st, serr := b.Status(0)
	require.NoError(t, serr)
	assert.Equal(t, uint32(1), st.ErrorCount)
	assert.False(t, st.Busy)
}

func TestSendAckFailureCountsError(t *testing.T) {
	srv, b := startHarness(t)
	require.NoError(t, b.Init(1, testConfig()))
	srv.SetFaults(harness.Faults{DropResponses: true})

	err := b.Send(1, []byte{0x10, 0x20, 0x30}, 100*time.Millisecond)
	assert.ErrorIs(t, err, hal.ErrTimeout)

	st, serr := b.Status(1)
	require.NoError(t, serr)
	assert.Zero(t, st.TxCount)
	assert.Equal(t, uint32(1), st.ErrorCount)
}

func TestDisconnectedMode(t *testing.T) {
	b := New(Options{
		Host:       "127.0.0.1",
		Port:       unusedPort(t),
		Retries:    1,
		RetryDelay: time.Millisecond,
	})

	// Init succeeds even though no harness is reachable.
	require.NoError(t, b.Init(0, testConfig()))

	st, err := b.Status(0)
	require.NoError(t, err)
	assert.Equal(t, hal.StateReady, st.State)

	// Byte exchanges are refused until a reconnecting init cycle.
	rx := make([]byte, 2)
	assert.ErrorIs(t, b.Transfer(0, []byte{1, 2}, rx, opTimeout), hal.ErrNotInitialized)
	assert.ErrorIs(t, b.Send(0, []byte{1}, opTimeout), hal.ErrNotInitialized)
	assert.ErrorIs(t, b.Receive(0, rx, opTimeout), hal.ErrNotInitialized)
	assert.ErrorIs(t, b.SetConfig(0, testConfig()), hal.ErrNotInitialized)

	require.NoError(t, b.Deinit(0))
}

func TestConnectRetriesExhausted(t *testing.T) {
	attempts := 0
	b := New(Options{
		Retries:    3,
		RetryDelay: time.Millisecond,
		Dial: func(host, port string) (Conn, error) {
			attempts++
			return nil, hal.ErrGeneric
		},
	})

	require.NoError(t, b.Init(0, testConfig()))
	assert.Equal(t, 3, attempts)

	rx := make([]byte, 1)
	assert.ErrorIs(t, b.Receive(0, rx, opTimeout), hal.ErrNotInitialized)
}

func TestEnvOverridesAddress(t *testing.T) {
	srv, err := harness.Listen("127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })

	host, port, err := net.SplitHostPort(srv.Addr().String())
	require.NoError(t, err)
	t.Setenv(EnvHost, host)
	t.Setenv(EnvPort, port)

	// The configured address is unreachable; the environment wins.
	b := New(Options{
		Host:       "192.0.2.1",
		Port:       "1",
		Retries:    1,
		RetryDelay: time.Millisecond,
	})
	require.NoError(t, b.Init(0, testConfig()))

	rx := make([]byte, 2)
	require.NoError(t, b.Transfer(0, []byte{0x01, 0x02}, rx, opTimeout))
}

func TestLifecycle(t *testing.T) {
	_, b := startHarness(t)
	require.NoError(t, b.Init(3, testConfig()))
	assert.ErrorIs(t, b.Init(3, testConfig()), hal.ErrBusy)

	require.NoError(t, b.Deinit(3))
	assert.ErrorIs(t, b.Deinit(3), hal.ErrNotInitialized)

	rx := make([]byte, 1)
	assert.ErrorIs(t, b.Transfer(3, []byte{1}, rx, opTimeout), hal.ErrNotInitialized)

	// The slot can be brought back up afterwards.
	require.NoError(t, b.Init(3, testConfig()))
	require.NoError(t, b.Transfer(3, []byte{1}, rx, opTimeout))
}

func TestSetConfigRoundTrip(t *testing.T) {
	_, b := startHarness(t)
	require.NoError(t, b.Init(0, testConfig()))

	next := testConfig()
	next.Baudrate = 2000000
	next.Mode = hal.Mode3
	require.NoError(t, b.SetConfig(0, next))

	// The new snapshot is visible locally; the stream stays aligned for
	// the next exchange.
	rx := make([]byte, 2)
	require.NoError(t, b.Transfer(0, []byte{0x0F, 0xF0}, rx, opTimeout))
}

func TestReceiveOversizedBuffer(t *testing.T) {
	_, b := startHarness(t)
	require.NoError(t, b.Init(0, testConfig()))

	buf := make([]byte, 5000)
	assert.ErrorIs(t, b.Receive(0, buf, opTimeout), hal.ErrInvalidParam)
}
