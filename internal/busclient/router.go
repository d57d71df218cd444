package busclient

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/knxbridge/internal/knx"
)

type subscription struct {
	address    string
	subscriber Subscriber
}

// pendingRead is a one-shot response handler for a group address.
type pendingRead struct {
	id      string
	address string
	timer   *time.Timer // guarded by Client.mu

	once   sync.Once
	handle func(p knx.Payload, err error)
}

func (r *pendingRead) deliver(p knx.Payload, err error) {
	r.once.Do(func() { r.handle(p, err) })
}

func (r *pendingRead) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// Subscribe registers s for write events on address. The subscriber also
// receives one synthetic update with the current value each time the client
// attaches, starting now if it is already attached. There is no unsubscribe.
func (c *Client) Subscribe(address string, s Subscriber) error {
	if _, err := parseAddress(address); err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNilSubscriber, address)
	}

	sub := &subscription{address: address, subscriber: s}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.subs = append(c.subs, sub)
	if c.state == StateAttached {
		c.subscribeReadLocked(sub)
	}
	c.mu.Unlock()

	c.logInfo("subscribed to group address", "address", address)
	return nil
}

// Read schedules a group read of address. The future resolves with the
// payload of the next response seen on address, or with the send error.
func (c *Client) Read(address string) *Future[knx.Payload] {
	f := newFuture[knx.Payload]()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readLocked(address, func(p knx.Payload, err error) { f.resolve(p, err) }); err != nil {
		f.resolve(nil, err)
	}
	return f
}

// Write schedules a group write of value encoded as dpt. The future reports
// whether the telegram was handed to the gateway, not whether any device
// acted on it.
func (c *Client) Write(address string, dpt knx.DPT, value any) *Future[struct{}] {
	ga, err := parseAddress(address)
	if err != nil {
		return failed[struct{}](err)
	}
	data, err := knx.Encode(dpt, value)
	if err != nil {
		return failed[struct{}](fmt.Errorf("%w: %w", ErrInvalidValue, err))
	}

	f := newFuture[struct{}]()
	r := &request{
		id:       newRequestID(),
		kind:     requestWrite,
		address:  address,
		ga:       ga,
		dpt:      dpt,
		apdu:     knx.EncodeWriteAPDU(dpt, data),
		complete: func(err error) { f.resolve(struct{}{}, err) },
	}

	c.logDebug("writing to group address", "request_id", r.id, "address", address, "value", value, "dpt", string(dpt))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		f.resolve(struct{}{}, ErrClosed)
		return f
	}
	c.enqueueLocked(r)
	return f
}

// readLocked registers a response handler for address and queues the read
// request behind it.
func (c *Client) readLocked(address string, handle func(knx.Payload, error)) error {
	if c.closed {
		return ErrClosed
	}
	ga, err := parseAddress(address)
	if err != nil {
		return err
	}

	id := newRequestID()
	pr := &pendingRead{id: id, address: address, handle: handle}
	c.reads[address] = append(c.reads[address], pr)

	c.logDebug("reading from group address", "request_id", id, "address", address)
	c.enqueueLocked(&request{
		id:       id,
		kind:     requestRead,
		address:  address,
		ga:       ga,
		apdu:     knx.EncodeReadAPDU(),
		read:     pr,
		complete: func(error) {},
	})
	return nil
}

// subscribeReadLocked issues the implicit read whose result becomes a
// synthetic update for sub.
func (c *Client) subscribeReadLocked(sub *subscription) {
	err := c.readLocked(sub.address, func(p knx.Payload, err error) {
		if err != nil {
			c.logWarn("initial read failed", "address", sub.address, "error", err)
			return
		}
		c.notify(sub.subscriber, Update{Address: sub.address, Payload: p, Synthetic: true})
	})
	if err != nil {
		c.logWarn("initial read not scheduled", "address", sub.address, "error", err)
	}
}

// removeReadLocked drops pr from the handler list and reports whether it was
// still registered.
func (c *Client) removeReadLocked(address string, pr *pendingRead) bool {
	handlers := c.reads[address]
	i := slices.Index(handlers, pr)
	if i < 0 {
		return false
	}
	handlers = slices.Delete(handlers, i, i+1)
	if len(handlers) == 0 {
		delete(c.reads, address)
	} else {
		c.reads[address] = handlers
	}
	pr.stopTimer()
	return true
}

// armReadTimeoutLocked starts the ReadTimeout clock once the read request has
// gone out.
func (c *Client) armReadTimeoutLocked(address string, pr *pendingRead) {
	if c.cfg.ReadTimeout <= 0 || !slices.Contains(c.reads[address], pr) {
		return
	}
	pr.timer = time.AfterFunc(c.cfg.ReadTimeout, func() {
		c.mu.Lock()
		removed := c.removeReadLocked(address, pr)
		c.mu.Unlock()
		if removed {
			c.readsTimedOut.Add(1)
			c.logWarn("read timed out", "request_id", pr.id, "address", address)
			pr.deliver(nil, ErrReadTimeout)
		}
	})
}

// dispatch routes one monitor telegram. It runs on the monitor goroutine.
func (c *Client) dispatch(t knx.Telegram) {
	var kind EventKind
	switch {
	case t.IsWrite():
		kind = EventWrite
	case t.IsResponse():
		kind = EventResponse
	default:
		return
	}

	dpt, value := knx.GuessValue(t.Data, t.Short)
	ev := Event{
		Kind:        kind,
		Source:      t.Source,
		Destination: t.Destination.String(),
		Payload:     t.Data,
		DPT:         dpt,
		Value:       value,
		Time:        t.Timestamp,
	}
	c.touch()

	var (
		targets []Subscriber
		handler *pendingRead
	)

	c.mu.Lock()
	observers := slices.Clone(c.observers)
	switch kind {
	case EventWrite:
		for _, sub := range c.subs {
			if sub.address == ev.Destination {
				targets = append(targets, sub.subscriber)
			}
		}
	case EventResponse:
		if handlers := c.reads[ev.Destination]; len(handlers) > 0 {
			handler = handlers[0]
			c.removeReadLocked(ev.Destination, handler)
		}
	}
	c.mu.Unlock()

	for _, o := range observers {
		c.observe(o, ev)
	}

	switch kind {
	case EventWrite:
		c.writesReceived.Add(1)
		u := Update{Address: ev.Destination, Source: ev.Source, Payload: ev.Payload}
		for _, s := range targets {
			c.notify(s, u)
		}
	case EventResponse:
		c.responsesReceived.Add(1)
		if handler == nil {
			c.responsesUnmatched.Add(1)
			return
		}
		handler.deliver(ev.Payload, nil)
	}
}

func (c *Client) notify(s Subscriber, u Update) {
	defer func() {
		if r := recover(); r != nil {
			c.logError("subscriber panic", "address", u.Address, "panic", r)
		}
	}()
	s.BusUpdate(u)
}

func (c *Client) observe(o Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logError("observer panic", "address", ev.Destination, "panic", r)
		}
	}()
	if ev.Kind == EventWrite {
		o.OnWrite(ev)
	} else {
		o.OnResponse(ev)
	}
}

// trafficLogger logs every event at debug level.
type trafficLogger struct{ c *Client }

func (t trafficLogger) OnWrite(e Event) {
	t.c.logDebug("bus write", "source", e.Source, "destination", e.Destination, "value", e.Value, "dpt", string(e.DPT))
}

func (t trafficLogger) OnResponse(e Event) {
	t.c.logDebug("bus response", "source", e.Source, "destination", e.Destination, "value", e.Value, "dpt", string(e.DPT))
}
