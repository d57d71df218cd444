package mqtt

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/knxbridge/internal/infrastructure/config"
)

var errTimeout = errors.New("timed out")

// MessageHandler receives one message. A returned error is logged; the
// message is acknowledged either way.
type MessageHandler func(topic string, payload []byte) error

// Logger is the subset of logging.Logger the client reports through.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Client is the bridge's broker session. It announces itself on the status
// topic, keeps the will armed and replays its subscriptions after paho
// reconnects, since clean sessions lose them.
type Client struct {
	paho     pahomqtt.Client
	topics   Topics
	clientID string
	qos      byte

	mu           sync.Mutex
	routes       map[string]route
	onConnect    func()
	onDisconnect func(error)
	logger       Logger
}

type route struct {
	qos     byte
	handler MessageHandler
}

func newClient(cfg config.MQTTConfig) *Client {
	return &Client{
		topics:   NewTopics(cfg.TopicPrefix),
		clientID: cfg.Broker.ClientID,
		qos:      byte(cfg.QoS), //nolint:gosec // validated 0-2
		routes:   make(map[string]route),
	}
}

// Connect opens the broker session. A refused first connect is retried up
// to reconnect.max_attempts times with a doubling delay; after that paho's
// own auto-reconnect takes over for the life of the client.
func Connect(ctx context.Context, cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)
	opts := clientOptions(cfg, c.topics)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connected() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.warn("reconnecting to broker", "host", cfg.Broker.Host)
	})
	c.paho = pahomqtt.NewClient(opts)

	attempts := max(cfg.Reconnect.MaxAttempts, 1)
	for attempt := 1; ; attempt++ {
		err := await(c.paho.Connect(), connectTimeout)
		if err == nil {
			return c, nil
		}
		if attempt >= attempts {
			return nil, fmt.Errorf("%w: %s:%d: %w", ErrConnectionFailed, cfg.Broker.Host, cfg.Broker.Port, err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
		case <-time.After(retryDelay(cfg.Reconnect, attempt)):
		}
	}
}

// connected runs on every (re)connect.
func (c *Client) connected() {
	c.mu.Lock()
	routes := maps.Clone(c.routes)
	onConnect := c.onConnect
	c.mu.Unlock()

	for topic, r := range routes {
		if err := await(c.paho.Subscribe(topic, r.qos, c.dispatch(r.handler)), subscribeTimeout); err != nil {
			c.warn("resubscribe failed", "topic", topic, "error", err)
		}
	}
	if err := c.publishStatus("online", ""); err != nil {
		c.warn("status publish failed", "error", err)
	}
	if onConnect != nil {
		onConnect()
	}
}

func (c *Client) lost(err error) {
	c.mu.Lock()
	onDisconnect := c.onDisconnect
	c.mu.Unlock()

	if onDisconnect != nil {
		onDisconnect(err)
	}
}

// Publish sends payload to topic and waits for the broker to take it.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d byte payload for %s", ErrPublishFailed, len(payload), topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := await(c.paho.Publish(topic, qos, retained, payload), publishTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// Subscribe routes messages matching topic to handler, now and after every
// reconnect. Handlers run on paho's delivery goroutine in arrival order.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := await(c.paho.Subscribe(topic, qos, c.dispatch(handler)), subscribeTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}

	c.mu.Lock()
	c.routes[topic] = route{qos: qos, handler: handler}
	c.mu.Unlock()
	return nil
}

func (c *Client) dispatch(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if l := c.getLogger(); l != nil {
					l.Error("handler panicked", "topic", msg.Topic(), "panic", r)
				}
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.warn("handler failed", "topic", msg.Topic(), "error", err)
		}
	}
}

func (c *Client) publishStatus(status, reason string) error {
	return await(c.paho.Publish(c.topics.Status(), c.qos, true, statusPayload(c.clientID, status, reason)), publishTimeout)
}

// Close publishes a graceful offline status, which replaces the will, and
// disconnects.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		if err := c.publishStatus("offline", "graceful_shutdown"); err != nil {
			c.warn("status publish failed", "error", err)
		}
	}
	c.paho.Disconnect(disconnectQuiesce)
	return nil
}

// HealthCheck reports ErrNotConnected while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the session is currently open. It is false
// while paho is between reconnect attempts.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.paho.IsConnectionOpen()
}

// SetOnConnect registers fn to run after every reconnect, once
// subscriptions are restored.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect registers fn to run when the session drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

func (c *Client) SetLogger(l Logger) {
	c.mu.Lock()
	c.logger = l
	c.mu.Unlock()
}

func (c *Client) Topics() Topics {
	return c.topics
}

func (c *Client) getLogger() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

func (c *Client) warn(msg string, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Warn(msg, args...)
	}
}

func validate(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > 2 {
		return fmt.Errorf("%w: %d", ErrInvalidQoS, qos)
	}
	return nil
}

func await(tok pahomqtt.Token, timeout time.Duration) error {
	if !tok.WaitTimeout(timeout) {
		return errTimeout
	}
	return tok.Error()
}
