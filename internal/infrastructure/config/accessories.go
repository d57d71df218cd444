package config

import (
	"fmt"

	"github.com/nerrad567/knxbridge/internal/knx"
)

// AccessoriesConfig lists the accessories exposed by the bridge, one list
// per accessory kind. The lists sit at the top level of config.yaml.
type AccessoriesConfig struct {
	Switches             []SwitchConfig              `yaml:"switches"`
	Fans                 []SwitchConfig              `yaml:"fans"`
	WindowCoverings      []WindowCoveringConfig      `yaml:"window_coverings"`
	Thermostats          []ThermostatConfig          `yaml:"thermostats"`
	TemperatureSensors   []TemperatureSensorConfig   `yaml:"temperature_sensors"`
	HumiditySensors      []SensorConfig              `yaml:"humidity_sensors"`
	LightSensors         []SensorConfig              `yaml:"light_sensors"`
	CarbonDioxideSensors []CarbonDioxideSensorConfig `yaml:"carbon_dioxide_sensors"`
	AirQualitySensors    []AirQualitySensorConfig    `yaml:"air_quality_sensors"`
}

// Count returns the total number of configured accessories.
func (a AccessoriesConfig) Count() int {
	return len(a.Switches) + len(a.Fans) + len(a.WindowCoverings) + len(a.Thermostats) +
		len(a.TemperatureSensors) + len(a.HumiditySensors) + len(a.LightSensors) +
		len(a.CarbonDioxideSensors) + len(a.AirQualitySensors)
}

// SwitchConfig describes a single-address on/off accessory (switch or fan).
type SwitchConfig struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	GroupAddress string `yaml:"group_address"`
}

// SensorConfig describes a read-only accessory on one group address.
type SensorConfig struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	GroupAddress string `yaml:"group_address"`
}

// TemperatureSensorConfig is a SensorConfig with a reporting range.
type TemperatureSensorConfig struct {
	ID             string  `yaml:"id"`
	Name           string  `yaml:"name"`
	GroupAddress   string  `yaml:"group_address"`
	MinTemperature float64 `yaml:"min_temperature"`
	MaxTemperature float64 `yaml:"max_temperature"`
}

// WithDefaults fills in the reporting range when none is configured.
func (c TemperatureSensorConfig) WithDefaults() TemperatureSensorConfig {
	if c.MinTemperature == 0 && c.MaxTemperature == 0 {
		c.MinTemperature, c.MaxTemperature = -40, 80
	}
	return c
}

// CarbonDioxideSensorConfig describes a CO2 sensor (DPT 9.008, ppm).
type CarbonDioxideSensorConfig struct {
	ID               string  `yaml:"id"`
	Name             string  `yaml:"name"`
	GroupAddress     string  `yaml:"group_address"`
	WarningThreshold float64 `yaml:"warning_threshold"`
}

// WithDefaults fills in the warning threshold.
func (c CarbonDioxideSensorConfig) WithDefaults() CarbonDioxideSensorConfig {
	if c.WarningThreshold == 0 {
		c.WarningThreshold = 1000
	}
	return c
}

// AirQualitySensorConfig describes a VOC sensor (DPT 9.008).
type AirQualitySensorConfig struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	GroupAddress string `yaml:"group_address"`

	// VOCUnit is "ppm" or "ppb".
	VOCUnit string `yaml:"voc_unit"`

	// MolecularWeight is the average molecular weight (g/mol) of the measured
	// compounds, used to convert ppb to µg/m³.
	MolecularWeight float64 `yaml:"molecular_weight"`
}

// WithDefaults fills in unit and molecular weight.
func (c AirQualitySensorConfig) WithDefaults() AirQualitySensorConfig {
	if c.VOCUnit == "" {
		c.VOCUnit = "ppb"
	}
	if c.MolecularWeight == 0 {
		c.MolecularWeight = 30
	}
	return c
}

// WindowCoveringConfig describes a blind or shutter.
type WindowCoveringConfig struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	TargetAddress string `yaml:"target_group_address"`
	StatusAddress string `yaml:"status_group_address"`

	// HoldAddress is optional. When set, retargeting a moving covering stops
	// it first and reads back the actual position.
	HoldAddress string `yaml:"hold_group_address"`

	// Reverse disables the open/closed inversion for actuators that report
	// the open percentage.
	Reverse bool `yaml:"reverse"`

	// MinValue and MaxValue bound the device's position range.
	MinValue float64 `yaml:"min_value"`
	MaxValue float64 `yaml:"max_value"`
}

// WithDefaults fills in the device range.
func (c WindowCoveringConfig) WithDefaults() WindowCoveringConfig {
	if c.MinValue == 0 && c.MaxValue == 0 {
		c.MaxValue = 100
	}
	return c
}

// ThermostatConfig describes a room temperature controller.
type ThermostatConfig struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	TargetAddress string `yaml:"target_group_address"`
	StatusAddress string `yaml:"status_group_address"`

	// ValveAddress is optional; when set, the heating/cooling state is
	// derived from the valve level.
	ValveAddress string `yaml:"valve_group_address"`

	MinTemperature float64 `yaml:"min_temperature"`
	MaxTemperature float64 `yaml:"max_temperature"`
}

// WithDefaults fills in the setpoint range.
func (c ThermostatConfig) WithDefaults() ThermostatConfig {
	if c.MinTemperature == 0 && c.MaxTemperature == 0 {
		c.MinTemperature, c.MaxTemperature = 10, 38
	}
	return c
}

func (a AccessoriesConfig) validate() []string {
	var errs []string

	for i, s := range a.Switches {
		errs = append(errs, validateAddresses(fmt.Sprintf("switches[%d]", i), s.Name,
			required("group_address", s.GroupAddress))...)
	}
	for i, s := range a.Fans {
		errs = append(errs, validateAddresses(fmt.Sprintf("fans[%d]", i), s.Name,
			required("group_address", s.GroupAddress))...)
	}
	for i, s := range a.HumiditySensors {
		errs = append(errs, validateAddresses(fmt.Sprintf("humidity_sensors[%d]", i), s.Name,
			required("group_address", s.GroupAddress))...)
	}
	for i, s := range a.LightSensors {
		errs = append(errs, validateAddresses(fmt.Sprintf("light_sensors[%d]", i), s.Name,
			required("group_address", s.GroupAddress))...)
	}
	for i, s := range a.TemperatureSensors {
		path := fmt.Sprintf("temperature_sensors[%d]", i)
		errs = append(errs, validateAddresses(path, s.Name, required("group_address", s.GroupAddress))...)
		if s := s.WithDefaults(); s.MinTemperature >= s.MaxTemperature {
			errs = append(errs, path+": min_temperature must be below max_temperature")
		}
	}
	for i, s := range a.CarbonDioxideSensors {
		path := fmt.Sprintf("carbon_dioxide_sensors[%d]", i)
		errs = append(errs, validateAddresses(path, s.Name, required("group_address", s.GroupAddress))...)
		if s.WarningThreshold < 0 {
			errs = append(errs, path+": warning_threshold must not be negative")
		}
	}
	for i, s := range a.AirQualitySensors {
		path := fmt.Sprintf("air_quality_sensors[%d]", i)
		errs = append(errs, validateAddresses(path, s.Name, required("group_address", s.GroupAddress))...)
		s = s.WithDefaults()
		if s.VOCUnit != "ppm" && s.VOCUnit != "ppb" {
			errs = append(errs, fmt.Sprintf("%s: voc_unit must be ppm or ppb, got %q", path, s.VOCUnit))
		}
		if s.MolecularWeight < 0 {
			errs = append(errs, path+": molecular_weight must be positive")
		}
	}
	for i, w := range a.WindowCoverings {
		path := fmt.Sprintf("window_coverings[%d]", i)
		errs = append(errs, validateAddresses(path, w.Name,
			required("target_group_address", w.TargetAddress),
			required("status_group_address", w.StatusAddress),
			optional("hold_group_address", w.HoldAddress))...)
		if w := w.WithDefaults(); w.MinValue >= w.MaxValue {
			errs = append(errs, path+": min_value must be below max_value")
		}
	}
	for i, t := range a.Thermostats {
		path := fmt.Sprintf("thermostats[%d]", i)
		errs = append(errs, validateAddresses(path, t.Name,
			required("target_group_address", t.TargetAddress),
			required("status_group_address", t.StatusAddress),
			optional("valve_group_address", t.ValveAddress))...)
		if t := t.WithDefaults(); t.MinTemperature >= t.MaxTemperature {
			errs = append(errs, path+": min_temperature must be below max_temperature")
		}
	}

	return errs
}

type addressField struct {
	key      string
	value    string
	required bool
}

func required(key, value string) addressField { return addressField{key, value, true} }
func optional(key, value string) addressField { return addressField{key, value, false} }

func validateAddresses(path, name string, fields ...addressField) []string {
	var errs []string
	if name == "" {
		errs = append(errs, path+": name is required")
	}
	for _, f := range fields {
		if f.value == "" {
			if f.required {
				errs = append(errs, fmt.Sprintf("%s: %s is required", path, f.key))
			}
			continue
		}
		if _, err := knx.ParseGroupAddress(f.value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %s: %v", path, f.key, err))
		}
	}
	return errs
}
