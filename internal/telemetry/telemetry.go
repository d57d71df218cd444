package telemetry

import (
	"time"

	"github.com/nerrad567/knxbridge/internal/accessory"
	"github.com/nerrad567/knxbridge/internal/busclient"
	"github.com/nerrad567/knxbridge/internal/knx"
)

// Measurement names.
const (
	MeasurementBusTraffic     = "bus_traffic"
	MeasurementAccessoryState = "accessory_state"
)

// PointWriter queues time-series points. *influxdb.Client satisfies it.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time)
}

// Telemetry turns bus events and accessory state changes into points.
// It is both a busclient.Observer and an accessory.StateSink.
type Telemetry struct {
	w   PointWriter
	now func() time.Time
}

// New creates a Telemetry writing to w.
func New(w PointWriter) *Telemetry {
	return &Telemetry{w: w, now: time.Now}
}

// OnWrite implements busclient.Observer.
func (t *Telemetry) OnWrite(e busclient.Event) { t.busTraffic(e) }

// OnResponse implements busclient.Observer.
func (t *Telemetry) OnResponse(e busclient.Event) { t.busTraffic(e) }

func (t *Telemetry) busTraffic(e busclient.Event) {
	tags := map[string]string{
		"kind":        e.Kind.String(),
		"destination": e.Destination,
	}
	if e.Source != "" {
		tags["source"] = e.Source
	}
	if e.DPT != "" {
		tags["dpt"] = string(e.DPT)
	}

	fields := map[string]any{
		"payload": e.Payload.String(),
		"bytes":   len(e.Payload),
	}
	if f, ok := numeric(e.Value); ok {
		fields["value"] = f
	}

	ts := e.Time
	if ts.IsZero() {
		ts = t.now()
	}
	t.w.WritePoint(MeasurementBusTraffic, tags, fields, ts)
}

// StateChanged implements accessory.StateSink. Only numeric and boolean
// properties are written; booleans become 0 or 1.
func (t *Telemetry) StateChanged(a accessory.Accessory, s accessory.State) {
	fields := make(map[string]any, len(s))
	for k, v := range s {
		if f, ok := numeric(v); ok {
			fields[k] = f
		}
	}
	if len(fields) == 0 {
		return
	}

	tags := map[string]string{
		"accessory_id": a.ID(),
		"kind":         string(a.Kind()),
		"address":      a.Address(),
	}
	t.w.WritePoint(MeasurementAccessoryState, tags, fields, t.now())
}

// numeric converts numbers and booleans to float64. Strings are not parsed.
func numeric(v any) (float64, bool) {
	if _, isString := v.(string); isString {
		return 0, false
	}
	return knx.ToFloat(v)
}
