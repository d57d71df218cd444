package accessory

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/nerrad567/knxbridge/internal/busclient"
	"github.com/nerrad567/knxbridge/internal/knx"
)

// Kind names an accessory type. Values match the config list names in
// singular form.
type Kind string

const (
	KindSwitch              Kind = "switch"
	KindFan                 Kind = "fan"
	KindWindowCovering      Kind = "window_covering"
	KindThermostat          Kind = "thermostat"
	KindTemperatureSensor   Kind = "temperature_sensor"
	KindHumiditySensor      Kind = "humidity_sensor"
	KindLightSensor         Kind = "light_sensor"
	KindCarbonDioxideSensor Kind = "carbon_dioxide_sensor"
	KindAirQualitySensor    Kind = "air_quality_sensor"
)

// State is a snapshot of an accessory's properties keyed by property name.
type State map[string]any

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Bus is the part of the bus client accessories use. *busclient.Client
// satisfies it.
type Bus interface {
	Subscribe(address string, s busclient.Subscriber) error
	Read(address string) *busclient.Future[knx.Payload]
	Write(address string, dpt knx.DPT, value any) *busclient.Future[struct{}]
}

// StateSink receives every state change. It is called from the bus monitor
// goroutine or from the goroutine running Set, never with an accessory lock
// held.
type StateSink interface {
	StateChanged(a Accessory, s State)
}

// StateSinkFunc adapts a function to StateSink.
type StateSinkFunc func(a Accessory, s State)

// StateChanged calls f(a, s).
func (f StateSinkFunc) StateChanged(a Accessory, s State) { f(a, s) }

// Sinks fans every state change out to each sink in order. Sinks must not
// modify the state they receive.
type Sinks []StateSink

// StateChanged calls every sink.
func (ss Sinks) StateChanged(a Accessory, s State) {
	for _, sink := range ss {
		sink.StateChanged(a, s)
	}
}

// Accessory is a bus-backed device exposed by the bridge.
type Accessory interface {
	ID() string
	Name() string
	Kind() Kind

	// Address is the primary group address; DPT is the type written to it.
	Address() string
	DPT() knx.DPT

	// State returns a copy of the current properties.
	State() State

	// Set changes a writable property. It returns once the bus write has been
	// handed to the gateway, or with the first error.
	Set(ctx context.Context, property string, value any) error
}

// Deps bundles what every accessory needs.
type Deps struct {
	Bus    Bus
	Sink   StateSink
	Logger Logger
}

// base carries the identity and plumbing shared by all accessories.
type base struct {
	id      string
	name    string
	kind    Kind
	address string
	dpt     knx.DPT

	bus    Bus
	sink   StateSink
	logger Logger

	// self is the embedding accessory, passed to the sink.
	self Accessory

	// mu guards the embedding accessory's state fields.
	mu sync.Mutex
}

func newBase(id, name string, kind Kind, address string, dpt knx.DPT, deps Deps) *base {
	if id == "" {
		id = DefaultID(kind, address)
	}
	return &base{
		id:      id,
		name:    name,
		kind:    kind,
		address: address,
		dpt:     dpt,
		bus:     deps.Bus,
		sink:    deps.Sink,
		logger:  deps.Logger,
	}
}

// DefaultID derives an accessory ID from its kind and primary address,
// e.g. "switch-1-0-1".
func DefaultID(kind Kind, address string) string {
	return string(kind) + "-" + strings.ReplaceAll(address, "/", "-")
}

func (b *base) ID() string      { return b.id }
func (b *base) Name() string    { return b.name }
func (b *base) Kind() Kind      { return b.kind }
func (b *base) Address() string { return b.address }
func (b *base) DPT() knx.DPT    { return b.dpt }

// subscribe registers s on each non-empty address.
func (b *base) subscribe(s busclient.Subscriber, addresses ...string) error {
	for _, addr := range addresses {
		if addr == "" {
			continue
		}
		if err := b.bus.Subscribe(addr, s); err != nil {
			return fmt.Errorf("subscribe %s: %w", addr, err)
		}
	}
	return nil
}

// publish reports the current state to the sink. Callers must not hold mu.
func (b *base) publish() {
	if b.sink == nil || b.self == nil {
		return
	}
	b.sink.StateChanged(b.self, b.self.State())
}

// write sends value to address and waits for the scheduler's verdict.
func (b *base) write(ctx context.Context, address string, dpt knx.DPT, value any) error {
	b.logDebug("writing", "address", address, "value", value, "dpt", string(dpt))
	return b.bus.Write(address, dpt, value).Err(ctx)
}

// decodeFloat decodes u's payload as dpt, logging and reporting false on a
// malformed payload.
func (b *base) decodeFloat(u busclient.Update, dpt knx.DPT) (float64, bool) {
	v, err := u.Payload.Float(dpt)
	if err != nil {
		b.logWarn("ignoring undecodable update",
			"address", u.Address, "dpt", string(dpt), "payload", u.Payload.String(), "error", err)
		return 0, false
	}
	return v, true
}

func (b *base) logDebug(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, append([]any{"accessory", b.id}, keysAndValues...)...)
	}
}

func (b *base) logWarn(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, append([]any{"accessory", b.id}, keysAndValues...)...)
	}
}

func (b *base) logError(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Error(msg, append([]any{"accessory", b.id}, keysAndValues...)...)
	}
}

func boolValue(property string, v any) (bool, error) {
	on, ok := knx.ToBool(v)
	if !ok {
		return false, fmt.Errorf("%w: %s expects a boolean, got %v", ErrInvalidValue, property, v)
	}
	return on, nil
}

func floatValue(property string, v any) (float64, error) {
	f, ok := knx.ToFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %s expects a number, got %v", ErrInvalidValue, property, v)
	}
	return f, nil
}

func unknownProperty(a Accessory, property string) error {
	return fmt.Errorf("%w: %s has no property %q", ErrUnknownProperty, a.Kind(), property)
}

func readOnly(a Accessory, property string) error {
	return fmt.Errorf("%w: %s.%s", ErrReadOnly, a.Kind(), property)
}
