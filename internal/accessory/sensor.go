package accessory

import (
	"context"
	"math"

	"github.com/nerrad567/knxbridge/internal/busclient"
	"github.com/nerrad567/knxbridge/internal/infrastructure/config"
	"github.com/nerrad567/knxbridge/internal/knx"
)

// Sensor is a read-only accessory reporting one numeric group address.
// The reported state is derived from the raw bus value by the sensor kind.
type Sensor struct {
	*base
	value float64
	state func(v float64) State
}

func newSensor(id, name string, kind Kind, address string, dpt knx.DPT, initial float64,
	state func(float64) State, deps Deps) (*Sensor, error) {
	s := &Sensor{
		base:  newBase(id, name, kind, address, dpt, deps),
		value: initial,
		state: state,
	}
	s.self = s
	if err := s.subscribe(s, address); err != nil {
		return nil, err
	}
	return s, nil
}

// NewTemperatureSensor reports DPT 9.001 °C, clamped to the configured range.
func NewTemperatureSensor(cfg config.TemperatureSensorConfig, deps Deps) (*Sensor, error) {
	cfg = cfg.WithDefaults()
	return newSensor(cfg.ID, cfg.Name, KindTemperatureSensor, cfg.GroupAddress, knx.DPTTemperature, 0,
		func(v float64) State {
			return State{"temperature": clamp(v, cfg.MinTemperature, cfg.MaxTemperature)}
		}, deps)
}

// NewHumiditySensor reports DPT 9.007 relative humidity in percent.
func NewHumiditySensor(cfg config.SensorConfig, deps Deps) (*Sensor, error) {
	return newSensor(cfg.ID, cfg.Name, KindHumiditySensor, cfg.GroupAddress, knx.DPTHumidity, 0,
		func(v float64) State { return State{"humidity": clamp(v, 0, 100)} }, deps)
}

// NewLightSensor reports DPT 9.004 illuminance in lux.
func NewLightSensor(cfg config.SensorConfig, deps Deps) (*Sensor, error) {
	return newSensor(cfg.ID, cfg.Name, KindLightSensor, cfg.GroupAddress, knx.DPTLux, 0,
		func(v float64) State { return State{"lux": v} }, deps)
}

// defaultCO2Level is reported until the first value arrives.
const defaultCO2Level = 401.33

// NewCarbonDioxideSensor reports DPT 9.008 ppm and flags levels at or above
// the warning threshold.
func NewCarbonDioxideSensor(cfg config.CarbonDioxideSensorConfig, deps Deps) (*Sensor, error) {
	cfg = cfg.WithDefaults()
	return newSensor(cfg.ID, cfg.Name, KindCarbonDioxideSensor, cfg.GroupAddress, knx.DPTPPM, defaultCO2Level,
		func(v float64) State {
			return State{
				"co2_level":    v,
				"co2_detected": v >= cfg.WarningThreshold,
			}
		}, deps)
}

// AirQuality is a coarse rating derived from VOC concentration.
type AirQuality string

const (
	AirQualityExcellent AirQuality = "excellent"
	AirQualityGood      AirQuality = "good"
	AirQualityFair      AirQuality = "fair"
	AirQualityInferior  AirQuality = "inferior"
	AirQualityPoor      AirQuality = "poor"
)

// RateVOC maps a VOC concentration in ppb to a quality band.
func RateVOC(ppb float64) AirQuality {
	switch {
	case ppb < 100:
		return AirQualityExcellent
	case ppb < 250:
		return AirQualityGood
	case ppb < 1000:
		return AirQualityFair
	case ppb < 2500:
		return AirQualityInferior
	default:
		return AirQualityPoor
	}
}

// VOCDensity converts ppb to µg/m³ for the given molecular weight (g/mol).
func VOCDensity(ppb, molecularWeight float64) float64 {
	return 0.0409 * ppb * molecularWeight
}

// NewAirQualitySensor reports a DPT 9.008 VOC reading as µg/m³ plus a quality
// band.
func NewAirQualitySensor(cfg config.AirQualitySensorConfig, deps Deps) (*Sensor, error) {
	cfg = cfg.WithDefaults()
	toPPB := func(v float64) float64 {
		if cfg.VOCUnit == "ppm" {
			return v * 1000
		}
		return v
	}
	return newSensor(cfg.ID, cfg.Name, KindAirQualitySensor, cfg.GroupAddress, knx.DPTPPM, 0,
		func(v float64) State {
			ppb := toPPB(v)
			return State{
				"voc_ppb":     ppb,
				"voc_density": VOCDensity(ppb, cfg.MolecularWeight),
				"air_quality": string(RateVOC(ppb)),
			}
		}, deps)
}

// BusUpdate implements busclient.Subscriber.
func (s *Sensor) BusUpdate(u busclient.Update) {
	v, ok := s.decodeFloat(u, s.dpt)
	if !ok {
		return
	}
	s.mu.Lock()
	s.value = v
	s.mu.Unlock()
	s.publish()
}

// Value returns the last raw bus value.
func (s *Sensor) Value() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// State implements Accessory.
func (s *Sensor) State() State {
	return s.state(s.Value())
}

// Set implements Accessory. Sensors have no writable properties.
func (s *Sensor) Set(_ context.Context, property string, _ any) error {
	if _, ok := s.State()[property]; ok {
		return readOnly(s, property)
	}
	return unknownProperty(s, property)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
