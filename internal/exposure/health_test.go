package exposure

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/knxbridge/internal/busclient"
)

func TestNewHealthReporterDefaults(t *testing.T) {
	hr := NewHealthReporter(HealthReporterConfig{BridgeID: "b"})

	assert.Equal(t, defaultHealthInterval, hr.interval)
	assert.Equal(t, "knxbridge/health", hr.topic)
	assert.NoError(t, hr.PublishNow(), "publishing without a publisher")
}

func TestHealthDetermineStatus(t *testing.T) {
	tests := []struct {
		name       string
		mqttUp     bool
		bus        BusStatus
		wantStatus HealthStatus
		wantReason string
	}{
		{"all connected", true, &mockBus{connected: true}, HealthHealthy, ""},
		{"mqtt down", false, &mockBus{connected: true}, HealthDegraded, "MQTT disconnected"},
		{"gateway down", true, &mockBus{connected: false}, HealthDegraded, "gateway disconnected"},
		{"no bus", true, nil, HealthDegraded, "gateway disconnected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := newMockMQTT()
			pub.setConnected(tt.mqttUp)
			hr := NewHealthReporter(HealthReporterConfig{Publisher: pub, Bus: tt.bus})

			status, reason := hr.determineStatus()
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestHealthMessageIncludesBusStats(t *testing.T) {
	bus := &mockBus{
		connected: true,
		stats: busclient.Stats{
			State:          "attached",
			RequestsSent:   12,
			RequestsFailed: 1,
			Reconnects:     2,

			MonitorTelegrams: 40,
		},
	}
	hr := NewHealthReporter(HealthReporterConfig{
		BridgeID:       "house",
		Version:        "0.3.0",
		GatewayAddress: "unix:///run/knx",
		Bus:            bus,
	})
	hr.SetAccessoryCount(7)

	msg := hr.Message(HealthHealthy, "")
	assert.Equal(t, "house", msg.Bridge)
	assert.Equal(t, "0.3.0", msg.Version)
	assert.Equal(t, 7, msg.AccessoriesManaged)
	require.NotNil(t, msg.Gateway)
	assert.Equal(t, "unix:///run/knx", msg.Gateway.Address)
	assert.Equal(t, uint64(12), msg.Gateway.RequestsSent)
	assert.Equal(t, uint64(2), msg.Gateway.Reconnects)
	assert.Equal(t, uint64(40), msg.Gateway.MonitorTelegrams)
}

func TestHealthReporterStartStop(t *testing.T) {
	pub := newMockMQTT()
	hr := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "house",
		Topic:     "home/health",
		QoS:       1,
		Interval:  10 * time.Millisecond,
		Publisher: pub,
		Bus:       &mockBus{connected: true},
	})

	hr.Start(context.Background())

	require.Eventually(t, func() bool { return len(pub.on("home/health")) >= 3 }, 2*time.Second, 5*time.Millisecond)

	hr.Stop()
	hr.Stop()

	msgs := pub.on("home/health")
	require.GreaterOrEqual(t, len(msgs), 4)
	for _, m := range msgs {
		assert.True(t, m.retained)
		assert.Equal(t, byte(1), m.qos)
	}
	assert.Equal(t, HealthHealthy, decode[HealthMessage](t, msgs[0].payload).Status)
	assert.Equal(t, HealthStopping, decode[HealthMessage](t, msgs[len(msgs)-1].payload).Status)
}

func TestHealthReporterStopsOnContextCancel(t *testing.T) {
	pub := newMockMQTT()
	hr := NewHealthReporter(HealthReporterConfig{Interval: time.Hour, Publisher: pub})

	ctx, cancel := context.WithCancel(context.Background())
	hr.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		hr.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("report loop did not exit on context cancel")
	}
}
