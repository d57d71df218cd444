// Package knxtest provides an in-process knxd stand-in for tests.
//
// The server speaks the subset of the knxd client protocol the bridge uses:
// EIB_OPEN_GROUPCON, EIB_OPEN_T_GROUP and EIB_APDU_PACKET. APDUs sent on a
// request channel are echoed to every open group monitor, as knxd does, and
// group reads of a stored address are answered with a response.
package knxtest

import (
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/nerrad567/knxbridge/internal/knx"
)

// Frame is an APDU received on a request channel.
type Frame struct {
	Destination knx.GroupAddress
	APDU        []byte
}

// Server is a fake knxd listening on 127.0.0.1.
type Server struct {
	ln net.Listener

	// Source is the individual address stamped on echoed telegrams.
	Source uint16

	mu       sync.Mutex
	monitors map[net.Conn]struct{}
	conns    map[net.Conn]struct{}
	frames   []Frame
	values   map[knx.GroupAddress]storedValue
	reject   uint16
	closed   bool

	wg sync.WaitGroup
}

// NewServer starts a server and registers its shutdown with t.Cleanup.
func NewServer(t testing.TB) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("knxtest: listen: %v", err)
	}

	s := &Server{
		ln:       ln,
		Source:   0x1101,
		monitors: make(map[net.Conn]struct{}),
		conns:    make(map[net.Conn]struct{}),
		values:   make(map[knx.GroupAddress]storedValue),
	}

	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

// Host returns the listen host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.ln.Addr().String())
	return host
}

// Port returns the listen port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.ln.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Addr returns "host:port".
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Dialer returns a knx.Dialer pointed at the server.
func (s *Server) Dialer() *knx.Dialer {
	return knx.NewDialer(s.Host(), s.Port())
}

// RejectNext makes the server answer the given EIB_OPEN_* type with
// EIB_CLOSE instead of an echo. Zero clears it.
func (s *Server) RejectNext(msgType uint16) {
	s.mu.Lock()
	s.reject = msgType
	s.mu.Unlock()
}

// storedValue is the last value of a group address. Values written in a
// short frame are answered in one.
type storedValue struct {
	data  []byte
	short bool
}

// SetValue stores the payload returned for group reads of ga. It is always
// answered in a long frame.
func (s *Server) SetValue(ga knx.GroupAddress, data []byte) {
	s.mu.Lock()
	s.values[ga] = storedValue{data: append([]byte(nil), data...)}
	s.mu.Unlock()
}

// Frames returns a copy of every APDU received so far, in arrival order.
func (s *Server) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

// MonitorCount returns the number of open group monitors.
func (s *Server) MonitorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.monitors)
}

// Broadcast sends a group packet to every open monitor.
func (s *Server) Broadcast(src uint16, dest knx.GroupAddress, apdu []byte) {
	msg := knx.EncodeMessage(knx.EIBGroupPacket, knx.EncodeGroupPacket(src, dest, apdu))

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.monitors {
		c.Write(msg) //nolint:errcheck // monitor may be gone
	}
}

// DropMonitors closes every open group monitor connection, simulating a
// gateway restart.
func (s *Server) DropMonitors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.monitors {
		c.Close()
		delete(s.monitors, c)
	}
}

// Close stops the listener and closes all client connections.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.ln.Close()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			c.Close()
			return
		}
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(c)
	}
}

func (s *Server) serve(c net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.monitors, c)
		delete(s.conns, c)
		s.mu.Unlock()
		c.Close()
	}()

	var dest knx.GroupAddress
	for {
		msgType, payload, err := readMessage(c)
		if err != nil {
			return
		}

		switch msgType {
		case knx.EIBOpenGroupCon:
			if !s.acknowledge(c, msgType) {
				return
			}
			s.mu.Lock()
			s.monitors[c] = struct{}{}
			s.mu.Unlock()

		case knx.EIBOpenTGroup:
			if len(payload) >= 2 {
				dest = knx.GroupAddressFromUint16(binary.BigEndian.Uint16(payload[0:2]))
			}
			if !s.acknowledge(c, msgType) {
				return
			}

		case knx.EIBAPDUPacket:
			s.handleAPDU(dest, payload)
		}
	}
}

func (s *Server) acknowledge(c net.Conn, msgType uint16) bool {
	s.mu.Lock()
	rejected := s.reject == msgType
	if rejected {
		s.reject = 0
	}
	s.mu.Unlock()

	if rejected {
		c.Write(knx.EncodeMessage(knx.EIBClose, nil)) //nolint:errcheck // test server
		return false
	}
	_, err := c.Write(knx.EncodeMessage(msgType, nil))
	return err == nil
}

func (s *Server) handleAPDU(dest knx.GroupAddress, apdu []byte) {
	frame := Frame{Destination: dest, APDU: append([]byte(nil), apdu...)}

	s.mu.Lock()
	s.frames = append(s.frames, frame)
	apci := byte(0)
	if len(apdu) >= 2 {
		apci = apdu[1] & 0xC0
	}
	var reply []byte
	switch apci {
	case knx.APCIWrite:
		if len(apdu) > 2 {
			s.values[dest] = storedValue{data: append([]byte(nil), apdu[2:]...)}
		} else {
			s.values[dest] = storedValue{data: []byte{apdu[1] & 0x3F}, short: true}
		}
	case knx.APCIRead:
		if v, ok := s.values[dest]; ok {
			var dpt knx.DPT
			if v.short {
				dpt = knx.DPTBool
			}
			reply = knx.EncodeResponseAPDU(dpt, v.data)
		}
	}
	src := s.Source
	s.mu.Unlock()

	s.Broadcast(src, dest, frame.APDU)
	if reply != nil {
		s.Broadcast(src, dest, reply)
	}
}

func readMessage(r io.Reader) (uint16, []byte, error) {
	head := make([]byte, 2)
	if _, err := io.ReadFull(r, head); err != nil {
		return 0, nil, err
	}
	size := int(binary.BigEndian.Uint16(head))
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	if size < 2 {
		return 0, nil, io.ErrUnexpectedEOF
	}
	return binary.BigEndian.Uint16(body[0:2]), body[2:], nil
}
