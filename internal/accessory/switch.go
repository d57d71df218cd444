package accessory

import (
	"context"

	"github.com/nerrad567/knxbridge/internal/busclient"
	"github.com/nerrad567/knxbridge/internal/infrastructure/config"
	"github.com/nerrad567/knxbridge/internal/knx"
)

// Switch is a single on/off group address (DPT 1.001). Fans use the same
// adapter with the "active" property.
type Switch struct {
	*base
	property string
	on       bool
}

// NewSwitch creates a switch and subscribes it to its group address.
func NewSwitch(cfg config.SwitchConfig, deps Deps) (*Switch, error) {
	return newOnOff(cfg, KindSwitch, "on", deps)
}

// NewFan creates a fan. Only on/off is supported.
func NewFan(cfg config.SwitchConfig, deps Deps) (*Switch, error) {
	return newOnOff(cfg, KindFan, "active", deps)
}

func newOnOff(cfg config.SwitchConfig, kind Kind, property string, deps Deps) (*Switch, error) {
	s := &Switch{
		base:     newBase(cfg.ID, cfg.Name, kind, cfg.GroupAddress, knx.DPTSwitch, deps),
		property: property,
	}
	s.self = s
	if err := s.subscribe(s, cfg.GroupAddress); err != nil {
		return nil, err
	}
	return s, nil
}

// BusUpdate implements busclient.Subscriber. Any non-zero value is "on".
func (s *Switch) BusUpdate(u busclient.Update) {
	v, ok := s.decodeFloat(u, knx.DPTSwitch)
	if !ok {
		return
	}
	s.mu.Lock()
	s.on = v > 0
	s.mu.Unlock()
	s.publish()
}

// On reports the last known state.
func (s *Switch) On() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}

// State implements Accessory.
func (s *Switch) State() State {
	return State{s.property: s.On()}
}

// Set implements Accessory. The new state is taken from the bus echo, not
// assumed.
func (s *Switch) Set(ctx context.Context, property string, value any) error {
	if property != s.property {
		return unknownProperty(s, property)
	}
	on, err := boolValue(property, value)
	if err != nil {
		return err
	}
	return s.write(ctx, s.address, knx.DPTSwitch, on)
}
