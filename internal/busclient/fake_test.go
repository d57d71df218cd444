package busclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/knxbridge/internal/knx"
)

const (
	waitTimeout = 2 * time.Second
	tick        = 5 * time.Millisecond
)

var errConcurrentRequest = errors.New("fake gateway: concurrent request channel")

// sentFrame is one APDU received on a request channel.
type sentFrame struct {
	address string
	apdu    []byte
}

func (f sentFrame) isRead() bool { return f.apdu[1]&0xC0 == knx.APCIRead }

// fakeGateway records requests and lets tests drive the monitor.
// It fails any request channel opened while another is still open.
type fakeGateway struct {
	mu sync.Mutex

	openErrs   []error // consumed one per Open call
	monitorErr error
	channelErr map[string]error
	sendErr    map[string]error
	sendDelay  time.Duration

	// respond, when set, is called for every read sent and returns the payload
	// to answer with; ok=false sends nothing.
	respond func(address string) (knx.Payload, bool)

	opened   int
	active   int
	overlap  bool
	frames   []sentFrame
	monitors []*fakeConn
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		channelErr: make(map[string]error),
		sendErr:    make(map[string]error),
	}
}

func (g *fakeGateway) Open(_ context.Context) (GatewayConn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.opened++
	if len(g.openErrs) > 0 {
		err := g.openErrs[0]
		g.openErrs = g.openErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &fakeConn{gw: g, done: make(chan struct{})}, nil
}

func (g *fakeGateway) failNextOpens(errs ...error) {
	g.mu.Lock()
	g.openErrs = append(g.openErrs, errs...)
	g.mu.Unlock()
}

func (g *fakeGateway) openCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opened
}

func (g *fakeGateway) sent() []sentFrame {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentFrame(nil), g.frames...)
}

func (g *fakeGateway) readsSent() int {
	n := 0
	for _, f := range g.sent() {
		if f.isRead() {
			n++
		}
	}
	return n
}

func (g *fakeGateway) sawOverlap() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.overlap
}

func (g *fakeGateway) monitorCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.monitors)
}

func (g *fakeGateway) currentMonitor() *fakeConn {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.monitors) - 1; i >= 0; i-- {
		m := g.monitors[i]
		select {
		case <-m.done:
		default:
			return m
		}
	}
	return nil
}

// dropMonitor closes the current monitor as if the gateway went away.
func (g *fakeGateway) dropMonitor() {
	if m := g.currentMonitor(); m != nil {
		m.Close()
	}
}

// emit delivers a telegram on the current monitor.
func (g *fakeGateway) emit(t knx.Telegram) {
	if m := g.currentMonitor(); m != nil {
		m.deliver(t)
	}
}

func (g *fakeGateway) emitWrite(address string, p knx.Payload) {
	g.emit(telegram(knx.APCIWrite, address, p))
}

func (g *fakeGateway) emitResponse(address string, p knx.Payload) {
	g.emit(telegram(knx.APCIResponse, address, p))
}

func telegram(apci byte, address string, p knx.Payload) knx.Telegram {
	return knx.Telegram{
		Source:      "1.1.9",
		Destination: knx.MustParseGroupAddress(address),
		APCI:        apci,
		Data:        p,
		Timestamp:   time.Now(),
	}
}

type fakeConn struct {
	gw   *fakeGateway
	done chan struct{}
	once sync.Once

	emitMu sync.Mutex
	handle func(knx.Telegram)

	channel bool
	address string
}

func (c *fakeConn) OpenGroupMonitor(_ context.Context, handle func(knx.Telegram)) error {
	c.gw.mu.Lock()
	defer c.gw.mu.Unlock()
	if c.gw.monitorErr != nil {
		return c.gw.monitorErr
	}
	c.handle = handle
	c.gw.monitors = append(c.gw.monitors, c)
	return nil
}

func (c *fakeConn) OpenRequestChannel(_ context.Context, ga knx.GroupAddress) error {
	c.gw.mu.Lock()
	defer c.gw.mu.Unlock()

	address := ga.String()
	if err := c.gw.channelErr[address]; err != nil {
		return err
	}
	c.gw.active++
	c.channel = true
	c.address = address
	if c.gw.active > 1 {
		c.gw.overlap = true
		return errConcurrentRequest
	}
	return nil
}

func (c *fakeConn) SendAPDU(_ context.Context, apdu []byte) error {
	c.gw.mu.Lock()
	delay := c.gw.sendDelay
	err := c.gw.sendErr[c.address]
	c.gw.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return err
	}

	f := sentFrame{address: c.address, apdu: append([]byte(nil), apdu...)}
	c.gw.mu.Lock()
	c.gw.frames = append(c.gw.frames, f)
	respond := c.gw.respond
	c.gw.mu.Unlock()

	if f.isRead() && respond != nil {
		if p, ok := respond(f.address); ok {
			go c.gw.emitResponse(f.address, p)
		}
	}
	return nil
}

func (c *fakeConn) deliver(t knx.Telegram) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if c.handle != nil {
		c.handle(t)
	}
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		c.gw.mu.Lock()
		if c.channel {
			c.gw.active--
		}
		c.gw.mu.Unlock()
		close(c.done)
	})
	return nil
}

// recorder is a Subscriber that keeps every update it sees.
type recorder struct {
	name string
	log  *[]string
	mu   sync.Mutex
	got  []Update
}

func (r *recorder) BusUpdate(u Update) {
	r.mu.Lock()
	r.got = append(r.got, u)
	if r.log != nil {
		*r.log = append(*r.log, r.name)
	}
	r.mu.Unlock()
}

func (r *recorder) updates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.got...)
}

func (r *recorder) synthetic() int {
	n := 0
	for _, u := range r.updates() {
		if u.Synthetic {
			n++
		}
	}
	return n
}
