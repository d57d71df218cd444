package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/knxbridge/internal/infrastructure/config"
)

// Broker tests live in integration_test.go behind the integration tag.

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "knxbridge-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		TopicPrefix: "home",
	}
}

// fakeSession stands in for the paho client. Methods the Client never calls
// fall through to the nil embedded interface.
type fakeSession struct {
	pahomqtt.Client

	mu           sync.Mutex
	open         bool
	publishErr   error
	subscribeErr error
	published    []sent
	handlers     map[string]pahomqtt.MessageHandler
	disconnected bool
}

type sent struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{open: true, handlers: make(map[string]pahomqtt.MessageHandler)}
}

func (f *fakeSession) IsConnectionOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeSession) Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return doneToken{err: f.publishErr}
	}
	f.published = append(f.published, sent{topic: topic, payload: payload.([]byte), qos: qos, retained: retained})
	return doneToken{}
}

func (f *fakeSession) Subscribe(topic string, _ byte, cb pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return doneToken{err: f.subscribeErr}
	}
	f.handlers[topic] = cb
	return doneToken{}
}

func (f *fakeSession) Disconnect(uint) {
	f.mu.Lock()
	f.open = false
	f.disconnected = true
	f.mu.Unlock()
}

// deliver hands a message to whatever handler is registered for filter.
func (f *fakeSession) deliver(filter, topic string, payload []byte) {
	f.mu.Lock()
	cb := f.handlers[filter]
	f.mu.Unlock()
	cb(f, fakeMessage{topic: topic, payload: payload})
}

func (f *fakeSession) lastPublished(t *testing.T) sent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.published)
	return f.published[len(f.published)-1]
}

type doneToken struct{ err error }

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                 { return t.err }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	pahomqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func connectedClient(t *testing.T) (*Client, *fakeSession) {
	t.Helper()
	session := newFakeSession()
	c := newClient(testConfig())
	c.paho = session
	return c, session
}

func decodeStatus(t *testing.T, payload []byte) StatusMessage {
	t.Helper()
	var msg StatusMessage
	require.NoError(t, json.Unmarshal(payload, &msg))
	return msg
}

func TestClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "bridge", Password: "secret"}

	opts := clientOptions(cfg, NewTopics("home"))

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://127.0.0.1:1883", opts.Servers[0].String())
	assert.Equal(t, "knxbridge-test", opts.ClientID)
	assert.Equal(t, "bridge", opts.Username)
	assert.Equal(t, "secret", opts.Password)
	assert.True(t, opts.AutoReconnect)
	assert.False(t, opts.ConnectRetry, "a refused first connect must surface to Connect")
	assert.Equal(t, 5*time.Second, opts.MaxReconnectInterval)

	require.True(t, opts.WillEnabled)
	assert.Equal(t, "home/status", opts.WillTopic)
	assert.True(t, opts.WillRetained)
	will := decodeStatus(t, opts.WillPayload)
	assert.Equal(t, "offline", will.Status)
	assert.Equal(t, "unexpected_disconnect", will.Reason)
	assert.Equal(t, "knxbridge-test", will.ClientID)
}

func TestClientOptionsTLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := clientOptions(cfg, NewTopics("home"))

	assert.Equal(t, "ssl", opts.Servers[0].Scheme)
	require.NotNil(t, opts.TLSConfig)
	assert.Equal(t, uint16(tlsMinVersion), opts.TLSConfig.MinVersion)
}

func TestRetryDelay(t *testing.T) {
	cfg := config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 5}
	assert.Equal(t, time.Second, retryDelay(cfg, 1))
	assert.Equal(t, 2*time.Second, retryDelay(cfg, 2))
	assert.Equal(t, 4*time.Second, retryDelay(cfg, 3))
	assert.Equal(t, 5*time.Second, retryDelay(cfg, 4))
	assert.Equal(t, 5*time.Second, retryDelay(cfg, 40))

	assert.Equal(t, time.Second, retryDelay(config.MQTTReconnectConfig{}, 1))
}

func TestConnectRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 1
	cfg.Reconnect.MaxAttempts = 1

	_, err := Connect(context.Background(), cfg)
	require.ErrorIs(t, err, ErrConnectionFailed)
}

func TestConnectRetryStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 1
	cfg.Reconnect = config.MQTTReconnectConfig{InitialDelay: 30, MaxDelay: 60, MaxAttempts: 10}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Connect(ctx, cfg)
	require.ErrorIs(t, err, ErrConnectionFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPublishValidation(t *testing.T) {
	client := &Client{}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"invalid qos", "home/x", nil, 3, ErrInvalidQoS},
		{"oversized payload", "home/x", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "home/x", []byte("x"), 1, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, client.Publish(tt.topic, tt.payload, tt.qos, false), tt.want)
		})
	}
}

func TestPublish(t *testing.T) {
	c, session := connectedClient(t)

	require.NoError(t, c.Publish("home/accessory/hall/state", []byte(`{"on":true}`), 1, true))
	assert.Equal(t, sent{topic: "home/accessory/hall/state", payload: []byte(`{"on":true}`), qos: 1, retained: true}, session.lastPublished(t))

	session.publishErr = errors.New("broker gone")
	err := c.Publish("home/x", []byte("x"), 0, false)
	require.ErrorIs(t, err, ErrPublishFailed)
	assert.Contains(t, err.Error(), "broker gone")
}

func TestSubscribeValidation(t *testing.T) {
	client := &Client{}
	noop := func(string, []byte) error { return nil }

	assert.ErrorIs(t, client.Subscribe("", 1, noop), ErrInvalidTopic)
	assert.ErrorIs(t, client.Subscribe("home/x", 3, noop), ErrInvalidQoS)
	assert.ErrorIs(t, client.Subscribe("home/x", 1, nil), ErrSubscribeFailed)
	assert.ErrorIs(t, client.Subscribe("home/x", 1, noop), ErrNotConnected)
	assert.Empty(t, client.routes)
}

func TestSubscribeRefusedIsNotReplayed(t *testing.T) {
	c, session := connectedClient(t)
	session.subscribeErr = errors.New("not authorised")

	err := c.Subscribe("home/accessory/+/set", 1, func(string, []byte) error { return nil })
	require.ErrorIs(t, err, ErrSubscribeFailed)
	assert.Empty(t, c.routes)
}

func TestSubscribeDispatches(t *testing.T) {
	c, session := connectedClient(t)
	logger := &recordingLogger{}
	c.SetLogger(logger)

	var got []string
	require.NoError(t, c.Subscribe("home/accessory/+/set", 1, func(topic string, payload []byte) error {
		got = append(got, topic+"="+string(payload))
		switch string(payload) {
		case "bad":
			return errors.New("bad command")
		case "boom":
			panic("boom")
		}
		return nil
	}))

	session.deliver("home/accessory/+/set", "home/accessory/a/set", []byte("1"))
	session.deliver("home/accessory/+/set", "home/accessory/a/set", []byte("bad"))
	session.deliver("home/accessory/+/set", "home/accessory/a/set", []byte("boom"))

	assert.Equal(t, []string{"home/accessory/a/set=1", "home/accessory/a/set=bad", "home/accessory/a/set=boom"}, got)
	assert.Equal(t, []string{"handler failed"}, logger.warns)
	assert.Equal(t, []string{"handler panicked"}, logger.errors)
}

func TestReconnectReplaysSubscriptions(t *testing.T) {
	c, session := connectedClient(t)
	require.NoError(t, c.Subscribe("home/accessory/+/set", 1, func(string, []byte) error { return nil }))

	var reconnects int
	c.SetOnConnect(func() { reconnects++ })

	// a clean session comes back with no subscriptions
	session.handlers = make(map[string]pahomqtt.MessageHandler)
	c.connected()

	assert.Contains(t, session.handlers, "home/accessory/+/set")
	assert.Equal(t, 1, reconnects)

	status := session.lastPublished(t)
	assert.Equal(t, "home/status", status.topic)
	assert.True(t, status.retained)
	assert.Equal(t, "online", decodeStatus(t, status.payload).Status)
}

func TestConnectionLostNotifies(t *testing.T) {
	c, _ := connectedClient(t)

	var got error
	c.SetOnDisconnect(func(err error) { got = err })
	lostErr := errors.New("EOF")
	c.lost(lostErr)

	assert.Equal(t, lostErr, got)
}

func TestCloseAnnouncesShutdown(t *testing.T) {
	c, session := connectedClient(t)

	require.NoError(t, c.Close())

	status := session.lastPublished(t)
	assert.Equal(t, "home/status", status.topic)
	msg := decodeStatus(t, status.payload)
	assert.Equal(t, "offline", msg.Status)
	assert.Equal(t, "graceful_shutdown", msg.Reason)
	assert.True(t, session.disconnected)
	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Publish("home/x", []byte("x"), 1, false), ErrNotConnected)
}

func TestHealthCheck(t *testing.T) {
	c, session := connectedClient(t)
	require.NoError(t, c.HealthCheck(context.Background()))

	session.open = false
	assert.ErrorIs(t, c.HealthCheck(context.Background()), ErrNotConnected)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.HealthCheck(ctx), context.Canceled)
}

func TestZeroClient(t *testing.T) {
	client := &Client{}

	assert.False(t, client.IsConnected())
	assert.ErrorIs(t, client.HealthCheck(context.Background()), ErrNotConnected)
	assert.NoError(t, client.Close())
}

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics("home")

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"AccessoryState", topics.AccessoryState("hall"), "home/accessory/hall/state"},
		{"AccessorySet", topics.AccessorySet("hall"), "home/accessory/hall/set"},
		{"AllAccessorySets", topics.AllAccessorySets(), "home/accessory/+/set"},
		{"Ack", topics.Ack("hall"), "home/ack/hall"},
		{"Health", topics.Health(), "home/health"},
		{"Status", topics.Status(), "home/status"},
		{"DefaultPrefix", Topics{}.Health(), "knxbridge/health"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.got)
		})
	}
}

func TestAccessoryIDFromSetTopic(t *testing.T) {
	topics := NewTopics("home")

	tests := []struct {
		topic  string
		wantID string
		wantOK bool
	}{
		{"home/accessory/hall/set", "hall", true},
		{"home/accessory/switch-1-0-1/set", "switch-1-0-1", true},
		{"home/accessory//set", "", false},
		{"home/accessory/a/b/set", "", false},
		{"home/accessory/hall/state", "", false},
		{"other/accessory/hall/set", "", false},
		{"home/ack/hall", "", false},
	}
	for _, tt := range tests {
		id, ok := topics.AccessoryIDFromSetTopic(tt.topic)
		assert.Equal(t, tt.wantID, id, tt.topic)
		assert.Equal(t, tt.wantOK, ok, tt.topic)
	}
}
