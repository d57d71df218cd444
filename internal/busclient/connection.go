package busclient

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Connect opens the group monitor and attaches the client to the bus.
//
// A failure leaves the client disconnected and is not retried; the caller
// decides whether to call Connect again. Once attached, a later connection
// loss is recovered automatically until Close. Connect on a client that is
// already attached or connecting does nothing.
func (c *Client) Connect(ctx context.Context) error {
	err := c.attach(ctx)
	if errors.Is(err, errAttached) || errors.Is(err, errAttaching) {
		return nil
	}
	if err != nil {
		c.logError("gateway connection failed", "error", err)
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	return nil
}

// attach runs one connection attempt: open socket, open monitor, replay
// subscriptions, release the queue.
func (c *Client) attach(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	switch c.state {
	case StateAttached:
		c.mu.Unlock()
		return errAttached
	case StateConnecting:
		c.mu.Unlock()
		return errAttaching
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.logInfo("connecting to gateway")

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, err := c.gateway.Open(ctx)
	if err != nil {
		c.setDisconnected()
		return fmt.Errorf("open socket: %w", err)
	}

	c.logInfo("attaching to bus")
	if err := conn.OpenGroupMonitor(ctx, c.dispatch); err != nil {
		conn.Close()
		c.setDisconnected()
		return fmt.Errorf("open group monitor: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.monitor = conn
	c.state = StateAttached

	// Subscription reads go ahead of anything that queued while detached. A
	// request still on the wire from before the drop keeps the head.
	var waiting []*request
	if c.inFlight != nil {
		waiting = c.queue[1:]
		c.queue = []*request{c.queue[0]}
	} else {
		waiting = c.queue
		c.queue = nil
	}
	for _, sub := range c.subs {
		c.subscribeReadLocked(sub)
	}
	c.queue = append(c.queue, waiting...)
	resubscribed := len(c.subs)
	c.kickLocked()

	c.wg.Add(1)
	go c.watch(conn)
	c.mu.Unlock()

	c.resubscriptions.Add(uint64(resubscribed)) //nolint:gosec // slice length
	c.touch()
	c.logInfo("attached to bus", "subscriptions", resubscribed)
	return nil
}

func (c *Client) setDisconnected() {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
}

// watch waits for the monitor socket to close and then reconnects.
func (c *Client) watch(conn GatewayConn) {
	defer c.wg.Done()

	select {
	case <-c.ctx.Done():
		return
	case <-conn.Done():
	}

	c.mu.Lock()
	if c.closed || c.monitor != conn {
		c.mu.Unlock()
		return
	}
	c.monitor = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	conn.Close()
	c.logWarn("gateway connection closed, reconnecting", "delay", c.cfg.ReconnectDelay.String())
	c.reconnectLoop()
}

// reconnectLoop retries attach at a fixed interval until it succeeds or the
// client closes.
func (c *Client) reconnectLoop() {
	timer := time.NewTimer(c.cfg.ReconnectDelay)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-c.ctx.Done():
			return
		case <-timer.C:
		}

		err := c.attach(c.ctx)
		switch {
		case err == nil:
			c.reconnects.Add(1)
			c.logInfo("reconnected to gateway", "attempt", attempt)
			return
		case errors.Is(err, errAttached):
			// Connect got there first and runs its own watcher.
			c.logDebug("gateway attached by another caller", "attempt", attempt)
			return
		case errors.Is(err, errAttaching):
			// Keep polling in case that attempt fails.
			timer.Reset(c.cfg.ReconnectDelay)
			continue
		case c.ctx.Err() != nil:
			return
		}

		c.logError("reconnect failed", "attempt", attempt, "error", err)
		timer.Reset(c.cfg.ReconnectDelay)
	}
}
