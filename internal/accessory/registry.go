package accessory

import (
	"context"
	"fmt"

	"github.com/nerrad567/knxbridge/internal/infrastructure/config"
)

// Registry holds the configured accessories in configuration order.
// It is built once at startup and is read-only afterwards.
type Registry struct {
	list []Accessory
	byID map[string]Accessory
}

// NewRegistry builds and subscribes every accessory in cfg.
func NewRegistry(cfg config.AccessoriesConfig, deps Deps) (*Registry, error) {
	r := &Registry{byID: make(map[string]Accessory, cfg.Count())}

	steps := []func() error{
		func() error { return build(r, "switches", cfg.Switches, deps, NewSwitch) },
		func() error { return build(r, "fans", cfg.Fans, deps, NewFan) },
		func() error { return build(r, "window_coverings", cfg.WindowCoverings, deps, NewWindowCovering) },
		func() error { return build(r, "thermostats", cfg.Thermostats, deps, NewThermostat) },
		func() error { return build(r, "temperature_sensors", cfg.TemperatureSensors, deps, NewTemperatureSensor) },
		func() error { return build(r, "humidity_sensors", cfg.HumiditySensors, deps, NewHumiditySensor) },
		func() error { return build(r, "light_sensors", cfg.LightSensors, deps, NewLightSensor) },
		func() error {
			return build(r, "carbon_dioxide_sensors", cfg.CarbonDioxideSensors, deps, NewCarbonDioxideSensor)
		},
		func() error { return build(r, "air_quality_sensors", cfg.AirQualitySensors, deps, NewAirQualitySensor) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}

	if deps.Logger != nil {
		deps.Logger.Info("accessories registered", "count", len(r.list))
	}
	return r, nil
}

func build[C any, A Accessory](r *Registry, section string, cfgs []C, deps Deps, create func(C, Deps) (A, error)) error {
	for i, c := range cfgs {
		a, err := create(c, deps)
		if err != nil {
			return fmt.Errorf("%s[%d]: %w", section, i, err)
		}
		if err := r.add(a); err != nil {
			return fmt.Errorf("%s[%d]: %w", section, i, err)
		}
	}
	return nil
}

func (r *Registry) add(a Accessory) error {
	if _, exists := r.byID[a.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, a.ID())
	}
	r.byID[a.ID()] = a
	r.list = append(r.list, a)
	return nil
}

// Get returns the accessory with the given ID.
func (r *Registry) Get(id string) (Accessory, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// All returns the accessories in configuration order.
func (r *Registry) All() []Accessory {
	return append([]Accessory(nil), r.list...)
}

// Len returns the number of accessories.
func (r *Registry) Len() int {
	return len(r.list)
}

// Set routes a property change to the accessory with the given ID.
func (r *Registry) Set(ctx context.Context, id, property string, value any) error {
	a, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccessory, id)
	}
	return a.Set(ctx, property, value)
}
