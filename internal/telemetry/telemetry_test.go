package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/knxbridge/internal/accessory"
	"github.com/nerrad567/knxbridge/internal/busclient"
	"github.com/nerrad567/knxbridge/internal/knx"
)

type point struct {
	measurement string
	tags        map[string]string
	fields      map[string]any
	ts          time.Time
}

type recordingWriter struct {
	mu     sync.Mutex
	points []point
}

func (w *recordingWriter) WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, point{measurement, tags, fields, ts})
}

func (w *recordingWriter) all() []point {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]point(nil), w.points...)
}

type stubAccessory struct{}

func (stubAccessory) ID() string { return "thermostat-3-0-1" }
func (stubAccessory) Name() string { return "Living room" }
func (stubAccessory) Kind() accessory.Kind { return accessory.KindThermostat }
func (stubAccessory) Address() string { return "3/0/1" }
func (stubAccessory) DPT() knx.DPT { return knx.DPTTemperature }
func (stubAccessory) State() accessory.State { return nil }
func (stubAccessory) Set(context.Context, string, any) error { return nil }

func fixedClock(t *Telemetry, at time.Time) {
	t.now = func() time.Time { return at }
}

func TestBusTrafficPoints(t *testing.T) {
	w := &recordingWriter{}
	tel := New(w)

	at := time.Unix(1_760_000_000, 0)
	tel.OnWrite(busclient.Event{
		Kind:        busclient.EventWrite,
		Source:      "1.1.5",
		Destination: "3/0/2",
		Payload:     knx.Payload{0x0C, 0x1A},
		DPT:         "9",
		Value:       21.0,
		Time:        at,
	})
	tel.OnResponse(busclient.Event{
		Kind:        busclient.EventResponse,
		Destination: "9/9/9",
		Payload:     knx.Payload{0x01, 0x02, 0x03, 0x04},
		Value:       "01020304",
	})

	points := w.all()
	require.Len(t, points, 2)

	write := points[0]
	assert.Equal(t, MeasurementBusTraffic, write.measurement)
	assert.Equal(t, map[string]string{
		"kind":        "write",
		"destination": "3/0/2",
		"source":      "1.1.5",
		"dpt":         "9",
	}, write.tags)
	assert.Equal(t, map[string]any{"payload": "0C1A", "bytes": 2, "value": 21.0}, write.fields)
	assert.Equal(t, at, write.ts)

	resp := points[1]
	assert.Equal(t, map[string]string{"kind": "response", "destination": "9/9/9"}, resp.tags)
	assert.NotContains(t, resp.fields, "value", "hex fallback is not a number")
	assert.False(t, resp.ts.IsZero())
}

func TestAccessoryStatePoints(t *testing.T) {
	w := &recordingWriter{}
	tel := New(w)
	at := time.Unix(1_760_000_100, 0)
	fixedClock(tel, at)

	tel.StateChanged(stubAccessory{}, accessory.State{
		"current_temperature": 20.5,
		"target_temperature":  21.0,
		"heating":             true,
		"mode":                "auto",
	})

	points := w.all()
	require.Len(t, points, 1)
	p := points[0]
	assert.Equal(t, MeasurementAccessoryState, p.measurement)
	assert.Equal(t, map[string]string{
		"accessory_id": "thermostat-3-0-1",
		"kind":         "thermostat",
		"address":      "3/0/1",
	}, p.tags)
	assert.Equal(t, map[string]any{
		"current_temperature": 20.5,
		"target_temperature":  21.0,
		"heating":             1.0,
	}, p.fields)
	assert.Equal(t, at, p.ts)
}

func TestAccessoryStateWithoutNumbersIsSkipped(t *testing.T) {
	w := &recordingWriter{}
	New(w).StateChanged(stubAccessory{}, accessory.State{"mode": "auto"})
	assert.Empty(t, w.all())
}

func TestNumeric(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{21.5, 21.5, true},
		{42, 42, true},
		{uint8(7), 7, true},
		{true, 1, true},
		{false, 0, true},
		{"21.5", 0, false},
		{nil, 0, false},
		{knx.RGB{R: 1}, 0, false},
	}
	for _, tt := range tests {
		got, ok := numeric(tt.in)
		assert.Equal(t, tt.ok, ok, "numeric(%v)", tt.in)
		assert.Equal(t, tt.want, got, "numeric(%v)", tt.in)
	}
}

var (
	_ busclient.Observer  = (*Telemetry)(nil)
	_ accessory.StateSink = (*Telemetry)(nil)
)
