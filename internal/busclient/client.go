package busclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/knxbridge/internal/knx"
)

// Client is the bus communication core. Construct one per gateway with New
// and share it between all adapters.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Subscriber and Observer callbacks run on the monitor goroutine, outside
//     the client lock, in bus order.
type Client struct {
	cfg     Config
	gateway Gateway

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards everything below it.
	mu        sync.Mutex
	state     ConnectionState
	monitor   GatewayConn
	queue     []*request
	inFlight  *request
	subs      []*subscription
	reads     map[string][]*pendingRead
	observers []Observer
	closed    bool

	logger   Logger
	loggerMu sync.RWMutex

	requestsSent       atomic.Uint64
	requestsFailed     atomic.Uint64
	readsTimedOut      atomic.Uint64
	writesReceived     atomic.Uint64
	responsesReceived  atomic.Uint64
	responsesUnmatched atomic.Uint64
	reconnects         atomic.Uint64
	resubscriptions    atomic.Uint64
	lastActivity       atomic.Int64
}

// New creates a client for gw. It does not connect; call Connect.
func New(gw Gateway, cfg Config) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:     cfg.withDefaults(),
		gateway: gw,
		ctx:     ctx,
		cancel:  cancel,
		reads:   make(map[string][]*pendingRead),
	}
	if c.cfg.LogBusTraffic {
		c.observers = append(c.observers, trafficLogger{c})
	}
	return c
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// AddObserver registers o for every write and response event.
func (c *Client) AddObserver(o Observer) {
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the monitor is attached.
func (c *Client) IsConnected() bool {
	return c.State() == StateAttached
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	pending := 0
	for _, handlers := range c.reads {
		pending += len(handlers)
	}
	s := Stats{
		State:         c.state.String(),
		QueueDepth:    len(c.queue),
		PendingReads:  pending,
		Subscriptions: len(c.subs),
	}
	if tc, ok := c.monitor.(telegramCounter); ok {
		s.MonitorTelegrams = tc.TelegramsReceived()
	}
	c.mu.Unlock()

	s.RequestsSent = c.requestsSent.Load()
	s.RequestsFailed = c.requestsFailed.Load()
	s.ReadsTimedOut = c.readsTimedOut.Load()
	s.WritesReceived = c.writesReceived.Load()
	s.ResponsesReceived = c.responsesReceived.Load()
	s.ResponsesUnmatched = c.responsesUnmatched.Load()
	s.Reconnects = c.reconnects.Load()
	s.Resubscriptions = c.resubscriptions.Load()
	if ts := c.lastActivity.Load(); ts > 0 {
		s.LastActivity = time.Unix(0, ts)
	}
	return s
}

// Close detaches from the gateway and stops reconnecting. Queued requests
// that have not started fail with ErrClosed, as do pending reads. A request
// already on the wire is allowed to finish. Safe to call multiple times.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancel()

	monitor := c.monitor
	c.monitor = nil
	c.state = StateDisconnected

	var abandoned []*request
	if c.inFlight != nil {
		abandoned = append(abandoned, c.queue[1:]...)
		c.queue = c.queue[:1]
	} else {
		abandoned = c.queue
		c.queue = nil
	}

	var reads []*pendingRead
	for addr, handlers := range c.reads {
		reads = append(reads, handlers...)
		delete(c.reads, addr)
	}
	for _, r := range reads {
		r.stopTimer()
	}
	c.mu.Unlock()

	if monitor != nil {
		monitor.Close()
	}
	for _, r := range abandoned {
		r.complete(ErrClosed)
	}
	for _, r := range reads {
		r.deliver(nil, ErrClosed)
	}

	c.wg.Wait()
	c.logInfo("bus client closed")
	return nil
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func parseAddress(address string) (knx.GroupAddress, error) {
	ga, err := knx.ParseGroupAddress(address)
	if err != nil {
		return knx.GroupAddress{}, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	return ga, nil
}

func newRequestID() string {
	return uuid.NewString()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}
