package socket

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tarm/serial"

	"spihal/hal"
)

// pollInterval is the underlying serial read timeout; the deadline is
// enforced on top of it, so it only bounds how quickly a deadline
// change takes effect.
const pollInterval = 50 * time.Millisecond

// serialConn adapts a serial port to the Conn transport. Read
// deadlines are layered over the port's polling read timeout, since a
// raw serial port has no per-call deadline of its own.
type serialConn struct {
	port *serial.Port

	mu       sync.Mutex
	deadline time.Time
}

// SerialDialer returns a DialFunc that opens the given serial device
// instead of a TCP connection, letting the harness sit on the far end
// of a serial link. The host/port arguments of the returned DialFunc
// are ignored.
func SerialDialer(device string, baud int) DialFunc {
	return func(string, string) (Conn, error) {
		return DialSerial(device, baud)
	}
}

// DialSerial opens a serial transport to the harness.
func DialSerial(device string, baud int) (Conn, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: pollInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open serial port %s: %v", hal.ErrGeneric, device, err)
	}
	return &serialConn{port: port}, nil
}

func (c *serialConn) Read(p []byte) (int, error) {
	for {
		n, err := c.port.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
		// Poll timed out with no data; honor the deadline.
		c.mu.Lock()
		deadline := c.deadline
		c.mu.Unlock()
		if !deadline.IsZero() && time.Now().After(deadline) {
			return 0, os.ErrDeadlineExceeded
		}
	}
}

func (c *serialConn) Write(p []byte) (int, error) {
	return c.port.Write(p)
}

func (c *serialConn) Close() error {
	return c.port.Close()
}

func (c *serialConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}
