package busclient

import (
	"context"
	"time"

	"github.com/nerrad567/knxbridge/internal/knx"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Gateway opens independent sockets to the bus gateway.
type Gateway interface {
	Open(ctx context.Context) (GatewayConn, error)
}

// GatewayConn is one gateway socket, used either as the group monitor or as
// a single-use request channel.
type GatewayConn interface {
	// OpenGroupMonitor starts delivering bus telegrams to handle, in order,
	// from one goroutine.
	OpenGroupMonitor(ctx context.Context, handle func(knx.Telegram)) error

	// OpenRequestChannel binds the socket to a destination group address.
	OpenRequestChannel(ctx context.Context, ga knx.GroupAddress) error

	// SendAPDU transmits one APDU on a request channel.
	SendAPDU(ctx context.Context, apdu []byte) error

	// Done is closed when the socket closes for any reason.
	Done() <-chan struct{}

	Close() error
}

// telegramCounter is implemented by gateway sockets that count received
// frames, like *knx.Conn.
type telegramCounter interface {
	TelegramsReceived() uint64
}

// ConnectionState is the lifecycle state of the monitor connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateAttached
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAttached:
		return "attached"
	default:
		return "disconnected"
	}
}

// EventKind distinguishes the bus events the router dispatches.
type EventKind int

const (
	EventWrite EventKind = iota + 1
	EventResponse
)

func (k EventKind) String() string {
	switch k {
	case EventWrite:
		return "write"
	case EventResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Event is a write or response telegram observed on the monitor, including
// ones this client caused.
type Event struct {
	Kind        EventKind
	Source      string
	Destination string
	Payload     knx.Payload

	// DPT and Value are guessed from the payload length; adapters decode
	// Payload with the DPT they expect.
	DPT   knx.DPT
	Value any

	Time time.Time
}

// Update is what a subscriber receives: either a write event on its address
// or the result of the implicit read issued on (re)attach.
type Update struct {
	Address string
	Source  string
	Payload knx.Payload

	// Synthetic is true for updates produced by the implicit read.
	Synthetic bool
}

// Subscriber receives updates for the addresses it subscribed to.
// BusUpdate is called from the monitor goroutine and must not block for long.
type Subscriber interface {
	BusUpdate(u Update)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(u Update)

// BusUpdate calls f(u).
func (f SubscriberFunc) BusUpdate(u Update) { f(u) }

// Observer sees every write and response event, regardless of subscriptions.
type Observer interface {
	OnWrite(e Event)
	OnResponse(e Event)
}

// Config holds client settings. Zero values select defaults.
type Config struct {
	// ReconnectDelay is the fixed wait before each reconnection attempt.
	// Default: 100ms.
	ReconnectDelay time.Duration

	// ConnectTimeout bounds opening and attaching the monitor.
	// Default: 10s.
	ConnectTimeout time.Duration

	// RequestTimeout bounds one request's socket exchange.
	// Default: 10s.
	RequestTimeout time.Duration

	// ReadTimeout removes a pending read that saw no response after its
	// request was sent. Zero disables it.
	ReadTimeout time.Duration

	// LogBusTraffic logs every write and response at debug level.
	LogBusTraffic bool
}

const (
	defaultReconnectDelay = 100 * time.Millisecond
	defaultConnectTimeout = 10 * time.Second
	defaultRequestTimeout = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	return c
}

// Stats is a snapshot of client counters.
type Stats struct {
	State         string `json:"state"`
	QueueDepth    int    `json:"queue_depth"`
	PendingReads  int    `json:"pending_reads"`
	Subscriptions int    `json:"subscriptions"`

	RequestsSent       uint64 `json:"requests_sent"`
	RequestsFailed     uint64 `json:"requests_failed"`
	ReadsTimedOut      uint64 `json:"reads_timed_out"`
	WritesReceived     uint64 `json:"writes_received"`
	ResponsesReceived  uint64 `json:"responses_received"`
	ResponsesUnmatched uint64 `json:"responses_unmatched"`
	Reconnects         uint64 `json:"reconnects"`
	Resubscriptions    uint64 `json:"resubscriptions"`

	// MonitorTelegrams counts every frame the current monitor socket has
	// delivered, group reads included. It restarts at zero on
	// reconnect and stays zero for gateways that do not count.
	MonitorTelegrams uint64 `json:"monitor_telegrams"`

	LastActivity time.Time `json:"last_activity"`
}
