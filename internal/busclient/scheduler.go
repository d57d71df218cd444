package busclient

import (
	"context"
	"fmt"

	"github.com/nerrad567/knxbridge/internal/knx"
)

type requestKind int

const (
	requestRead requestKind = iota + 1
	requestWrite
)

func (k requestKind) String() string {
	if k == requestRead {
		return "read"
	}
	return "write"
}

// request is one queued bus operation. Requests are never merged, even when
// several target the same address.
type request struct {
	id      string
	kind    requestKind
	address string
	ga      knx.GroupAddress
	dpt     knx.DPT
	apdu    []byte

	// read is the handler a read request registered; nil for writes.
	read *pendingRead

	complete func(err error)
}

// enqueueLocked appends r and starts it if the line is free.
func (c *Client) enqueueLocked(r *request) {
	c.queue = append(c.queue, r)
	c.kickLocked()
}

// kickLocked starts the head of the queue when nothing is in flight and the
// monitor is attached.
func (c *Client) kickLocked() {
	if c.inFlight != nil || c.closed || c.state != StateAttached || len(c.queue) == 0 {
		return
	}

	head := c.queue[0]
	c.inFlight = head
	c.wg.Add(1)
	go c.execute(head)
}

func (c *Client) execute(r *request) {
	defer c.wg.Done()

	err := c.transmit(r)
	c.finish(r, err)
}

// transmit performs the three request phases on a fresh gateway socket.
func (c *Client) transmit(r *request) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()

	conn, err := c.gateway.Open(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEphemeralOpen, r.address, err)
	}
	defer conn.Close()

	if err := conn.OpenRequestChannel(ctx, r.ga); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRequestChannel, r.address, err)
	}

	if err := conn.SendAPDU(ctx, r.apdu); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSend, r.address, err)
	}
	return nil
}

// finish dequeues r, starts the next request and reports r's outcome.
func (c *Client) finish(r *request, err error) {
	c.mu.Lock()
	var head *request
	if len(c.queue) > 0 {
		head = c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
	}
	if head != r {
		c.logWarn("request queue corrupted: completed request was not at the head",
			"request_id", r.id, "head_id", requestID(head))
	}
	c.inFlight = nil

	readFailed := false
	if r.read != nil {
		if err != nil {
			readFailed = c.removeReadLocked(r.address, r.read)
		} else {
			c.armReadTimeoutLocked(r.address, r.read)
		}
	}
	c.kickLocked()
	c.mu.Unlock()

	if err != nil {
		c.requestsFailed.Add(1)
		c.logError("bus request failed",
			"request_id", r.id, "kind", r.kind.String(), "address", r.address, "error", err)
	} else {
		c.requestsSent.Add(1)
		c.touch()
	}

	if r.read != nil {
		if readFailed {
			r.read.deliver(nil, err)
		}
		return
	}
	r.complete(err)
}

func requestID(r *request) string {
	if r == nil {
		return ""
	}
	return r.id
}
