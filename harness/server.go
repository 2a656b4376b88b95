// Package harness is the socket server the remote SPI backend talks
// to: it accepts framed requests, runs transfers through a simulated
// TLE92104 peripheral and answers every request with a RESPONSE frame
// echoing the device id and sequence number. Fault injection knobs
// exist to exercise the client's timeout and short-read handling.
package harness

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"spihal/config"
	"spihal/hal"
	"spihal/wire"
)

// Faults shapes how the server (mis)behaves when responding.
type Faults struct {
	// DropResponses suppresses every response, forcing client
	// timeouts.
	DropResponses bool

	// TruncateBy shortens each response payload by this many bytes
	// while the header still announces the full length, forcing a
	// short read on the client.
	TruncateBy int

	// ResponseDelay is slept before each response.
	ResponseDelay time.Duration
}

// deviceRecord tracks one announced device on the server side.
type deviceRecord struct {
	cfg     hal.Config
	txCount uint32
	rxCount uint32
}

// Server is the SPI socket harness. One client is served at a time,
// matching the strict request/response ordering the protocol relies
// on.
type Server struct {
	lis net.Listener

	mu      sync.Mutex
	faults  Faults
	sim     *TLE92104
	devices map[uint8]*deviceRecord
	closed  bool
}

// Listen binds the harness to addr (host:port).
func Listen(addr string) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("harness: listen %s: %w", addr, err)
	}
	return &Server{
		lis:     lis,
		sim:     NewTLE92104(),
		devices: make(map[uint8]*deviceRecord),
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.lis.Addr()
}

// SetFaults replaces the fault-injection settings.
func (s *Server) SetFaults(f Faults) {
	s.mu.Lock()
	s.faults = f
	s.mu.Unlock()
}

// ApplyFaults adopts fault settings from a configuration document.
func (s *Server) ApplyFaults(f config.FaultsConfig) {
	s.SetFaults(Faults{
		DropResponses: f.DropResponses,
		TruncateBy:    f.TruncateBy,
		ResponseDelay: f.ResponseDelay(),
	})
}

// Serve accepts clients until Close. It returns nil after Close and
// the accept error otherwise.
func (s *Server) Serve() error {
	slog.Info("harness: listening", "addr", s.lis.Addr())
	for {
		conn, err := s.lis.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("harness: accept: %w", err)
		}
		slog.Info("harness: client connected", "remote", conn.RemoteAddr())
		s.handleClient(conn)
		slog.Info("harness: client disconnected", "remote", conn.RemoteAddr())
	}
}

// Close stops the listener; a Serve in progress returns after the
// current client disconnects.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.lis.Close()
}

func (s *Server) handleClient(conn net.Conn) {
	defer conn.Close()
	for {
		hdr, err := wire.ReadHeader(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("harness: read header", "err", err)
			}
			return
		}
		payload, err := wire.ReadPayload(conn, hdr)
		if err != nil {
			slog.Debug("harness: read payload", "err", err)
			return
		}

		resp := s.process(hdr, payload)

		s.mu.Lock()
		faults := s.faults
		s.mu.Unlock()

		if faults.ResponseDelay > 0 {
			time.Sleep(faults.ResponseDelay)
		}
		if faults.DropResponses {
			slog.Debug("harness: dropping response", "type", hdr.Type, "seq", hdr.Seq)
			continue
		}
		if err := s.respond(conn, hdr, resp, faults.TruncateBy); err != nil {
			slog.Debug("harness: write response", "err", err)
			return
		}
	}
}

// respond sends a RESPONSE frame echoing the request's device id and
// sequence. With truncateBy > 0 the header announces the full payload
// but fewer bytes follow.
func (s *Server) respond(conn net.Conn, req wire.Header, payload []byte, truncateBy int) error {
	hdr := wire.Header{
		Type:   wire.MsgResponse,
		Device: req.Device,
		Length: uint16(len(payload)),
		Seq:    req.Seq,
	}
	raw := hdr.Marshal()
	if _, err := conn.Write(raw[:]); err != nil {
		return err
	}
	if truncateBy > 0 {
		if truncateBy >= len(payload) {
			payload = nil
		} else {
			payload = payload[:len(payload)-truncateBy]
		}
	}
	if len(payload) > 0 {
		if _, err := conn.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// process dispatches one request and builds the response payload.
// Every request type gets a response, unknown ones an empty payload,
// so the stream never loses alignment.
func (s *Server) process(hdr wire.Header, payload []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch hdr.Type {
	case wire.MsgInit:
		cfg, err := wire.ParseConfig(payload)
		if err != nil {
			slog.Warn("harness: malformed init config", "device", hdr.Device, "err", err)
			return nil
		}
		s.devices[hdr.Device] = &deviceRecord{cfg: cfg}
		// A fresh init resets the simulated peripheral.
		s.sim = NewTLE92104()
		slog.Info("harness: device initialized",
			"device", hdr.Device, "baudrate", cfg.Baudrate, "mode", cfg.Mode, "data_bits", cfg.DataBits)
		return nil

	case wire.MsgDeinit:
		delete(s.devices, hdr.Device)
		slog.Info("harness: device deinitialized", "device", hdr.Device)
		return nil

	case wire.MsgTransfer:
		resp := s.sim.exchange(payload)
		if rec := s.devices[hdr.Device]; rec != nil {
			rec.rxCount += uint32(len(payload))
			rec.txCount += uint32(len(resp))
		}
		return resp

	case wire.MsgSend:
		// Clock the bytes through the peripheral, discard its output.
		s.sim.exchange(payload)
		if rec := s.devices[hdr.Device]; rec != nil {
			rec.rxCount += uint32(len(payload))
		}
		return nil

	case wire.MsgReceive:
		n, err := wire.ParseLengthRequest(payload)
		if err != nil {
			slog.Warn("harness: malformed receive request", "device", hdr.Device, "err", err)
			return nil
		}
		if rec := s.devices[hdr.Device]; rec != nil {
			rec.txCount += uint32(n)
		}
		return make([]byte, n)

	case wire.MsgSetConfig:
		cfg, err := wire.ParseConfig(payload)
		if err != nil {
			slog.Warn("harness: malformed set-config", "device", hdr.Device, "err", err)
			return nil
		}
		if rec := s.devices[hdr.Device]; rec != nil {
			rec.cfg = cfg
			slog.Info("harness: device reconfigured", "device", hdr.Device, "baudrate", cfg.Baudrate)
		}
		return nil

	case wire.MsgGetStatus:
		st := hal.DeviceStatus{State: hal.StateReady}
		if rec := s.devices[hdr.Device]; rec != nil {
			st.TxCount = rec.txCount
			st.RxCount = rec.rxCount
		}
		return wire.MarshalStatus(st)

	default:
		slog.Warn("harness: unknown message type", "type", hdr.Type)
		return nil
	}
}
