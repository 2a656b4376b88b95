package socket

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"spihal/hal"
)

// Conn is the stream transport the backend speaks over: a TCP
// connection by default, or a serial link via DialSerial.
type Conn interface {
	io.ReadWriteCloser

	// SetReadDeadline bounds subsequent reads. The zero time removes
	// the bound.
	SetReadDeadline(t time.Time) error
}

// DialFunc opens a transport to the harness.
type DialFunc func(host, port string) (Conn, error)

// Environment overrides for the harness address, read at init time.
const (
	EnvHost = "SPIHAL_SOCKET_HOST"
	EnvPort = "SPIHAL_SOCKET_PORT"
)

// Defaults for the harness address and the connect retry loop.
const (
	DefaultHost       = "127.0.0.1"
	DefaultPort       = "9000"
	DefaultRetries    = 3
	DefaultRetryDelay = time.Second

	dialTimeout = 5 * time.Second
	// ackTimeout bounds the response reads of init/set-config, which
	// carry no caller-supplied timeout.
	ackTimeout = 2 * time.Second
)

// Options configures the socket backend. Zero fields take defaults;
// the host and port can additionally be overridden through the
// environment at init time.
type Options struct {
	Host       string
	Port       string
	Retries    int           // connect attempts per device init
	RetryDelay time.Duration // pause between attempts

	// Dial replaces the TCP transport, e.g. with DialSerial or an
	// in-memory pipe in tests.
	Dial DialFunc
}

func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = DefaultHost
	}
	if o.Port == "" {
		o.Port = DefaultPort
	}
	if o.Retries <= 0 {
		o.Retries = DefaultRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.Dial == nil {
		o.Dial = dialTCP
	}
	return o
}

// target resolves the harness address, applying environment overrides.
func (o Options) target() (host, port string) {
	host, port = o.Host, o.Port
	if v := os.Getenv(EnvHost); v != "" {
		host = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port = v
	}
	return host, port
}

// dialTCP attempts each resolved address in order and takes the first
// that accepts a stream connection (net.Dial iterates the resolver
// results itself).
func dialTCP(host, port string) (Conn, error) {
	c, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s:%s: %v", hal.ErrGeneric, host, port, err)
	}
	return c.(Conn), nil
}

// connect runs the retry loop around the dial function.
func connect(opts Options, host, port string) (Conn, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		c, err := opts.Dial(host, port)
		if err == nil {
			slog.Info("socket: connected", "host", host, "port", port, "attempt", attempt)
			return c, nil
		}
		lastErr = err
		if attempt >= opts.Retries {
			break
		}
		slog.Warn("socket: connect failed, retrying",
			"host", host, "port", port, "attempt", attempt, "delay", opts.RetryDelay)
		time.Sleep(opts.RetryDelay)
	}
	return nil, lastErr
}
