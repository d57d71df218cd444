package accessory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/knxbridge/internal/infrastructure/config"
	"github.com/nerrad567/knxbridge/internal/knx"
)

func houseConfig() config.AccessoriesConfig {
	return config.AccessoriesConfig{
		Switches: []config.SwitchConfig{
			{Name: "Hall", GroupAddress: "1/0/1"},
			{ID: "porch", Name: "Porch", GroupAddress: "1/0/2"},
		},
		Fans: []config.SwitchConfig{{Name: "Bathroom", GroupAddress: "1/1/1"}},
		WindowCoverings: []config.WindowCoveringConfig{
			{Name: "Kitchen", TargetAddress: "2/0/1", StatusAddress: "2/0/2"},
		},
		Thermostats: []config.ThermostatConfig{
			{Name: "Living", TargetAddress: "3/0/1", StatusAddress: "3/0/2"},
		},
		TemperatureSensors:   []config.TemperatureSensorConfig{{Name: "Outside", GroupAddress: "4/0/1"}},
		HumiditySensors:      []config.SensorConfig{{Name: "Bath", GroupAddress: "4/1/1"}},
		LightSensors:         []config.SensorConfig{{Name: "Roof", GroupAddress: "4/2/1"}},
		CarbonDioxideSensors: []config.CarbonDioxideSensorConfig{{Name: "Office", GroupAddress: "4/3/1"}},
		AirQualitySensors:    []config.AirQualitySensorConfig{{Name: "Bedroom", GroupAddress: "4/4/1"}},
	}
}

func TestNewRegistry(t *testing.T) {
	bus := newFakeBus()
	cfg := houseConfig()
	r, err := NewRegistry(cfg, testDeps(bus, nil))
	require.NoError(t, err)

	assert.Equal(t, cfg.Count(), r.Len())

	var ids []string
	for _, a := range r.All() {
		ids = append(ids, a.ID())
	}
	assert.Equal(t, []string{
		"switch-1-0-1",
		"porch",
		"fan-1-1-1",
		"window_covering-2-0-1",
		"thermostat-3-0-1",
		"temperature_sensor-4-0-1",
		"humidity_sensor-4-1-1",
		"light_sensor-4-2-1",
		"carbon_dioxide_sensor-4-3-1",
		"air_quality_sensor-4-4-1",
	}, ids)

	// Every address a component listens on is subscribed exactly once.
	for _, addr := range []string{"1/0/1", "1/0/2", "1/1/1", "2/0/1", "2/0/2", "3/0/1", "3/0/2", "4/0/1", "4/4/1"} {
		assert.Equal(t, 1, bus.subscribed(addr), addr)
	}

	a, ok := r.Get("porch")
	require.True(t, ok)
	assert.Equal(t, "Porch", a.Name())
	assert.Equal(t, KindSwitch, a.Kind())

	_, ok = r.Get("garage")
	assert.False(t, ok)
}

func TestRegistryAllIsACopy(t *testing.T) {
	r, err := NewRegistry(houseConfig(), testDeps(newFakeBus(), nil))
	require.NoError(t, err)

	all := r.All()
	all[0] = nil
	assert.NotNil(t, r.All()[0])
}

func TestRegistrySet(t *testing.T) {
	bus := newFakeBus()
	r, err := NewRegistry(houseConfig(), testDeps(bus, nil))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "porch", "on", true))
	assert.Equal(t, []busWrite{{"1/0/2", knx.DPTSwitch, true}}, bus.sentWrites())

	assert.ErrorIs(t, r.Set(ctx, "garage", "on", true), ErrUnknownAccessory)
	assert.ErrorIs(t, r.Set(ctx, "light_sensor-4-2-1", "lux", 3), ErrReadOnly)
}

func TestRegistryRejectsDuplicateIDs(t *testing.T) {
	cfg := config.AccessoriesConfig{
		Switches: []config.SwitchConfig{{ID: "hall", Name: "Hall", GroupAddress: "1/0/1"}},
		Fans:     []config.SwitchConfig{{ID: "hall", Name: "Hall fan", GroupAddress: "1/1/1"}},
	}
	_, err := NewRegistry(cfg, testDeps(newFakeBus(), nil))
	require.ErrorIs(t, err, ErrDuplicateID)
	assert.Contains(t, err.Error(), "fans[0]")
}

func TestRegistryPropagatesSubscribeErrors(t *testing.T) {
	bus := newFakeBus()
	bus.subErr = errors.New("client closed")

	_, err := NewRegistry(houseConfig(), testDeps(bus, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "switches[0]: subscribe 1/0/1")
}

func TestRegistryEmpty(t *testing.T) {
	r, err := NewRegistry(config.AccessoriesConfig{}, testDeps(newFakeBus(), nil))
	require.NoError(t, err)
	assert.Zero(t, r.Len())
	assert.Empty(t, r.All())
}
