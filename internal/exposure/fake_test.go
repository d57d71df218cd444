package exposure

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/knxbridge/internal/accessory"
	"github.com/nerrad567/knxbridge/internal/busclient"
	"github.com/nerrad567/knxbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/knxbridge/internal/knx"
)

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// mockMQTT implements MQTTClient for testing.
type mockMQTT struct {
	mu         sync.Mutex
	connected  bool
	publishErr error
	messages   []publishedMessage
	handlers   map[string]mqtt.MessageHandler
	onConnect  func()
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{connected: true, handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *mockMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.messages = append(m.messages, publishedMessage{topic, payload, qos, retained})
	return nil
}

func (m *mockMQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTT) SetOnConnect(callback func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnect = callback
}

func (m *mockMQTT) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

func (m *mockMQTT) getMessages() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedMessage(nil), m.messages...)
}

// on returns the messages published to topic.
func (m *mockMQTT) on(topic string) []publishedMessage {
	var out []publishedMessage
	for _, msg := range m.getMessages() {
		if msg.topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

func (m *mockMQTT) reset() {
	m.mu.Lock()
	m.messages = nil
	m.mu.Unlock()
}

// mockBus implements BusStatus.
type mockBus struct {
	connected bool
	stats     busclient.Stats
}

func (b *mockBus) IsConnected() bool      { return b.connected }
func (b *mockBus) Stats() busclient.Stats { return b.stats }

type setCall struct {
	property string
	value    any
}

// mockAccessory implements accessory.Accessory.
type mockAccessory struct {
	id      string
	address string

	mu     sync.Mutex
	state  accessory.State
	setErr error
	sets   []setCall
	ctxErr bool

	// release, when set, holds Set until it is closed.
	release chan struct{}
}

func (a *mockAccessory) ID() string           { return a.id }
func (a *mockAccessory) Name() string         { return "Mock " + a.id }
func (a *mockAccessory) Kind() accessory.Kind { return accessory.KindSwitch }
func (a *mockAccessory) Address() string      { return a.address }
func (a *mockAccessory) DPT() knx.DPT         { return knx.DPTSwitch }

func (a *mockAccessory) State() accessory.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make(accessory.State, len(a.state))
	for k, v := range a.state {
		cp[k] = v
	}
	return cp
}

func (a *mockAccessory) Set(ctx context.Context, property string, value any) error {
	a.mu.Lock()
	a.sets = append(a.sets, setCall{property, value})
	waitCtx, release, setErr := a.ctxErr, a.release, a.setErr
	a.mu.Unlock()

	if waitCtx {
		<-ctx.Done()
		return ctx.Err()
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return setErr
}

func (a *mockAccessory) setCalls() []setCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]setCall(nil), a.sets...)
}

// mockAccessories implements Accessories.
type mockAccessories []accessory.Accessory

func (m mockAccessories) Get(id string) (accessory.Accessory, bool) {
	for _, a := range m {
		if a.ID() == id {
			return a, true
		}
	}
	return nil, false
}

func (m mockAccessories) All() []accessory.Accessory { return m }

func decode[T any](t *testing.T, payload []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(payload, &v), string(payload))
	return v
}
