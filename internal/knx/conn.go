package knx

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

const (
	// DefaultPort is the knxd client protocol TCP port.
	DefaultPort = 6720

	defaultConnectTimeout = 10 * time.Second
	defaultIOTimeout      = 5 * time.Second

	// maxMessageSize bounds a single knxd message. Group packets are tiny;
	// anything larger means the stream is out of step.
	maxMessageSize = 256
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Dialer opens sockets to a knxd daemon. Each call to Open yields an
// independent connection.
type Dialer struct {
	// Network is "tcp" or "unix".
	Network string

	// Address is "host:port" for TCP or a socket path for Unix.
	Address string

	// Timeout bounds socket establishment. Default: 10 seconds.
	Timeout time.Duration

	logger Logger
}

// NewDialer returns a TCP dialer for host:port. A zero port selects
// DefaultPort.
func NewDialer(host string, port int) *Dialer {
	if port == 0 {
		port = DefaultPort
	}
	return &Dialer{
		Network: "tcp",
		Address: net.JoinHostPort(host, strconv.Itoa(port)),
	}
}

// ParseDialer builds a dialer from a connection URL:
//   - "unix:///run/knxd" for a Unix socket
//   - "tcp://localhost:6720" for TCP
func ParseDialer(connURL string) (*Dialer, error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %w", ErrConnectionFailed, err)
	}

	switch u.Scheme {
	case "unix":
		return &Dialer{Network: "unix", Address: u.Path}, nil
	case "tcp":
		host := u.Host
		if host == "" {
			host = net.JoinHostPort("localhost", strconv.Itoa(DefaultPort))
		}
		return &Dialer{Network: "tcp", Address: host}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q (use unix or tcp)", ErrConnectionFailed, u.Scheme)
	}
}

// SetLogger sets the logger handed to every Conn this dialer opens.
func (d *Dialer) SetLogger(logger Logger) {
	d.logger = logger
}

// String returns the dial target.
func (d *Dialer) String() string {
	return d.Network + "://" + d.Address
}

// Open establishes a new socket to knxd.
func (d *Dialer) Open(ctx context.Context) (*Conn, error) {
	timeout := d.Timeout
	if timeout == 0 {
		timeout = defaultConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var nd net.Dialer
	nc, err := nd.DialContext(dialCtx, d.Network, d.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, d, err)
	}

	return newConn(nc, d.logger), nil
}

// Conn is a single knxd client socket. It is used either as a group monitor
// (OpenGroupMonitor) or as a request channel (OpenRequestChannel + SendAPDU),
// never both.
//
// Done is closed when the socket is closed, whether by Close or by a read
// failure on the monitor.
type Conn struct {
	nc     net.Conn
	logger Logger

	writeMu sync.Mutex

	monitoring atomic.Bool
	done       *closeOnce
	wg         sync.WaitGroup

	errMu    sync.Mutex
	closeErr error

	telegramsRx atomic.Uint64
}

func newConn(nc net.Conn, logger Logger) *Conn {
	return &Conn{
		nc:     nc,
		logger: logger,
		done:   newCloseOnce(),
	}
}

// OpenGroupMonitor switches the socket into group monitor mode and starts
// delivering every received group telegram to handle, one at a time and in
// arrival order, from a single goroutine.
//
// When the stream fails the socket is closed and Done fires.
func (c *Conn) OpenGroupMonitor(ctx context.Context, handle func(Telegram)) error {
	if !c.monitoring.CompareAndSwap(false, true) {
		return ErrMonitorOpen
	}

	if err := c.request(ctx, EIBOpenGroupCon, []byte{0x00, 0x00, 0x00}); err != nil {
		c.monitoring.Store(false)
		return err
	}

	c.wg.Add(1)
	go c.receiveLoop(handle)
	return nil
}

// OpenRequestChannel binds the socket to ga (EIB_OPEN_T_GROUP) so that a
// following SendAPDU is delivered to that group.
func (c *Conn) OpenRequestChannel(ctx context.Context, ga GroupAddress) error {
	payload := make([]byte, 3)
	binary.BigEndian.PutUint16(payload[0:2], ga.ToUint16())
	payload[2] = 0x00 // write_only off
	return c.request(ctx, EIBOpenTGroup, payload)
}

// SendAPDU transmits one APDU on a request channel.
func (c *Conn) SendAPDU(ctx context.Context, apdu []byte) error {
	if len(apdu) < 2 {
		return fmt.Errorf("%w: APDU too short (%d bytes)", ErrEncodingFailed, len(apdu))
	}
	return c.write(ctx, EncodeMessage(EIBAPDUPacket, apdu))
}

// Done is closed once the socket is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done.Done()
}

// Err returns the error that closed the socket, or nil for a clean Close.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.closeErr
}

// Close closes the socket and waits for the receive loop to exit.
// Safe to call multiple times.
func (c *Conn) Close() error {
	c.shutdown(nil)
	c.wg.Wait()
	return nil
}

// TelegramsReceived returns the number of group telegrams delivered.
func (c *Conn) TelegramsReceived() uint64 {
	return c.telegramsRx.Load()
}

func (c *Conn) shutdown(cause error) {
	c.errMu.Lock()
	if cause != nil && c.closeErr == nil {
		c.closeErr = cause
	}
	c.errMu.Unlock()
	c.done.Close()
	c.nc.Close()
}

// request writes an EIB_OPEN_* message and waits for knxd to echo its type.
func (c *Conn) request(ctx context.Context, msgType uint16, payload []byte) error {
	if err := c.write(ctx, EncodeMessage(msgType, payload)); err != nil {
		return err
	}

	if err := c.nc.SetReadDeadline(deadline(ctx)); err != nil {
		return fmt.Errorf("%w: set read deadline: %w", ErrHandshakeFailed, err)
	}
	defer c.nc.SetReadDeadline(time.Time{}) //nolint:errcheck // best effort reset

	buf := make([]byte, maxMessageSize)
	gotType, _, err := c.readMessage(buf)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	if gotType != msgType {
		return fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrHandshakeFailed, msgType, gotType)
	}
	return nil
}

func (c *Conn) write(ctx context.Context, msg []byte) error {
	select {
	case <-c.done.Done():
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("write: %w", ctx.Err())
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.nc.SetWriteDeadline(deadline(ctx)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := c.nc.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// readMessage reads one framed message into buf.
func (c *Conn) readMessage(buf []byte) (uint16, []byte, error) {
	if _, err := io.ReadFull(c.nc, buf[:2]); err != nil {
		return 0, nil, fmt.Errorf("read size: %w", err)
	}

	size := int(binary.BigEndian.Uint16(buf[:2]))
	if size < 2 || size+2 > len(buf) {
		return 0, nil, fmt.Errorf("%w: message size %d", ErrProtocolDesync, size)
	}

	total := size + 2
	if _, err := io.ReadFull(c.nc, buf[2:total]); err != nil {
		return 0, nil, fmt.Errorf("read message: %w", err)
	}

	return ParseMessage(buf[:total])
}

func (c *Conn) receiveLoop(handle func(Telegram)) {
	defer c.wg.Done()

	buf := make([]byte, maxMessageSize)
	for {
		msgType, payload, err := c.readMessage(buf)
		if err != nil {
			select {
			case <-c.done.Done():
				return
			default:
			}
			if !errors.Is(err, io.EOF) {
				c.logError("group monitor read failed", err)
			}
			c.shutdown(err)
			return
		}

		if msgType != EIBGroupPacket {
			continue
		}

		telegram, err := ParseTelegram(payload)
		if err != nil {
			c.logError("parse telegram failed", err)
			continue
		}
		c.telegramsRx.Add(1)
		handle(telegram)
	}
}

func (c *Conn) logError(msg string, err error) {
	if c.logger != nil {
		c.logger.Error(msg, "error", err)
	}
}

// deadline returns the context deadline, or now+defaultIOTimeout when the
// context has none or a later one.
func deadline(ctx context.Context) time.Time {
	d := time.Now().Add(defaultIOTimeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}
