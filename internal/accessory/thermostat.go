package accessory

import (
	"context"
	"fmt"
	"strings"

	"github.com/nerrad567/knxbridge/internal/busclient"
	"github.com/nerrad567/knxbridge/internal/infrastructure/config"
	"github.com/nerrad567/knxbridge/internal/knx"
)

// HeatingCooling is the thermostat's derived activity.
type HeatingCooling string

const (
	HeatingCoolingOff  HeatingCooling = "off"
	HeatingCoolingHeat HeatingCooling = "heat"
	HeatingCoolingCool HeatingCooling = "cool"
)

const (
	defaultTemperature = 21.0

	// valveHeatMargin is how far the setpoint must exceed the room
	// temperature before an open valve counts as heating.
	valveHeatMargin = 0.5

	modeAuto     = "auto"
	unitsCelsius = "celsius"
)

// Thermostat is a room controller with a setpoint (DPT 9.001), a measured
// temperature and an optional valve level (DPT 5.001). Only automatic mode
// and Celsius are supported.
type Thermostat struct {
	*base
	cfg config.ThermostatConfig

	current float64
	target  float64
	valve   float64
}

// NewThermostat creates a thermostat and subscribes it to its addresses.
func NewThermostat(cfg config.ThermostatConfig, deps Deps) (*Thermostat, error) {
	cfg = cfg.WithDefaults()
	t := &Thermostat{
		base:    newBase(cfg.ID, cfg.Name, KindThermostat, cfg.TargetAddress, knx.DPTTemperature, deps),
		cfg:     cfg,
		current: defaultTemperature,
		target:  defaultTemperature,
	}
	t.self = t
	if err := t.subscribe(t, cfg.TargetAddress, cfg.StatusAddress, cfg.ValveAddress); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Thermostat) hasValve() bool { return t.cfg.ValveAddress != "" }

// BusUpdate implements busclient.Subscriber.
func (t *Thermostat) BusUpdate(u busclient.Update) {
	var field *float64
	dpt := knx.DPTTemperature
	switch u.Address {
	case t.cfg.TargetAddress:
		field = &t.target
	case t.cfg.StatusAddress:
		field = &t.current
	case t.cfg.ValveAddress:
		field = &t.valve
		dpt = knx.DPTPercent
	default:
		return
	}

	v, ok := t.decodeFloat(u, dpt)
	if !ok {
		return
	}
	t.mu.Lock()
	*field = v
	t.mu.Unlock()
	t.publish()
}

// HeatingCooling derives the current activity. With a valve, an open valve
// means heating when the setpoint is at least half a degree above the room
// and cooling otherwise; a closed valve means off. Without a valve the
// setpoint is compared with the room temperature directly.
func (t *Thermostat) HeatingCooling() HeatingCooling {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.heatingCoolingLocked()
}

func (t *Thermostat) heatingCoolingLocked() HeatingCooling {
	if t.hasValve() {
		switch {
		case t.valve <= 0:
			return HeatingCoolingOff
		case t.target >= t.current+valveHeatMargin:
			return HeatingCoolingHeat
		default:
			return HeatingCoolingCool
		}
	}
	switch {
	case t.target > t.current:
		return HeatingCoolingHeat
	case t.target < t.current:
		return HeatingCoolingCool
	default:
		return HeatingCoolingOff
	}
}

// State implements Accessory.
func (t *Thermostat) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := State{
		"current_temperature":          t.current,
		"target_temperature":           t.target,
		"heating_cooling_state":        string(t.heatingCoolingLocked()),
		"target_heating_cooling_state": modeAuto,
		"temperature_display_units":    unitsCelsius,
	}
	if t.hasValve() {
		s["valve"] = t.valve
	}
	return s
}

// Set implements Accessory. A new setpoint is written to the bus and adopted
// when the bus echoes it.
func (t *Thermostat) Set(ctx context.Context, property string, value any) error {
	switch property {
	case "target_temperature":
		v, err := floatValue(property, value)
		if err != nil {
			return err
		}
		if v < t.cfg.MinTemperature || v > t.cfg.MaxTemperature {
			return fmt.Errorf("%w: target_temperature %v outside %v..%v",
				ErrInvalidValue, v, t.cfg.MinTemperature, t.cfg.MaxTemperature)
		}
		return t.write(ctx, t.cfg.TargetAddress, knx.DPTTemperature, v)

	case "target_heating_cooling_state":
		return requireOnly(property, value, modeAuto)

	case "temperature_display_units":
		return requireOnly(property, value, unitsCelsius)

	case "current_temperature", "heating_cooling_state":
		return readOnly(t, property)

	case "valve":
		if t.hasValve() {
			return readOnly(t, property)
		}
	}
	return unknownProperty(t, property)
}

// requireOnly accepts value only if it names the single supported option.
func requireOnly(property string, value any, supported string) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("%w: %s expects a string, got %v", ErrInvalidValue, property, value)
	}
	if !strings.EqualFold(s, supported) {
		return fmt.Errorf("%w: %s %q (only %q)", ErrNotSupported, property, s, supported)
	}
	return nil
}
