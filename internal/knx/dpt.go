package knx

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	dpt5MaxValue     = 255
	dpt5AngleMax     = 360
	dpt9MaxExponent  = 15
	dpt9MantissaMask = 0x07FF
	dpt9Invalid      = 0x7FFF
	dpt17MaxScene    = 63
	dpt17SceneMask   = 0x3F
	dptRGBBytes      = 3
	byteShift        = 8
)

// DPT is a KNX datapoint type identifier in "main.sub" form, e.g. "9.001".
// A bare main number ("1") is accepted where the subtype does not matter.
type DPT string

// Datapoint types used by the bridge's accessories.
const (
	DPTSwitch    DPT = "1.001" // 0=Off, 1=On
	DPTBool      DPT = "1.002"
	DPTUpDown    DPT = "1.008" // 0=Up, 1=Down
	DPTStart     DPT = "1.010" // 0=Stop, 1=Start
	DPTTrigger   DPT = "1.017"
	DPTDimming   DPT = "3.007"
	DPTBlind     DPT = "3.008"
	DPTPercent   DPT = "5.001" // 0-100%
	DPTAngle     DPT = "5.003" // 0-360°
	DPTPercentU8 DPT = "5.004" // 0-255 raw

	DPTTemperature DPT = "9.001" // °C
	DPTLux         DPT = "9.004"
	DPTSpeed       DPT = "9.005"
	DPTHumidity    DPT = "9.007" // %
	DPTPPM         DPT = "9.008" // parts per million

	DPTSceneNumber  DPT = "17.001"
	DPTSceneControl DPT = "18.001"
	DPTColourRGB    DPT = "232.600"
)

// ParseDPT normalises a datapoint type identifier.
//
// Accepts "9.001" and the eibd spelling "DPT9.001" (case-insensitive prefix).
// A missing subtype yields just the main number.
func ParseDPT(s string) (DPT, error) {
	v := strings.TrimSpace(s)
	if len(v) >= 3 && strings.EqualFold(v[:3], "dpt") {
		v = v[3:]
	}
	if v == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDPT)
	}

	mainPart, subPart, hasSub := strings.Cut(v, ".")
	if _, err := strconv.ParseUint(mainPart, 10, 16); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDPT, s)
	}
	if hasSub {
		if _, err := strconv.ParseUint(subPart, 10, 16); err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidDPT, s)
		}
	}
	return DPT(v), nil
}

// Main returns the main number of the DPT, or -1 if it is malformed.
func (d DPT) Main() int {
	mainPart, _, _ := strings.Cut(string(d), ".")
	n, err := strconv.Atoi(mainPart)
	if err != nil {
		return -1
	}
	return n
}

// Sub returns the subtype string ("001"), or "" when absent.
func (d DPT) Sub() string {
	_, sub, _ := strings.Cut(string(d), ".")
	return sub
}

// FitsShortFrame reports whether values of this DPT travel inside the APCI
// byte (6 bits or less).
func (d DPT) FitsShortFrame() bool {
	switch d.Main() {
	case 1, 2, 3:
		return true
	default:
		return false
	}
}

// EncodeDPT1 encodes a boolean to 1-bit format.
func EncodeDPT1(value bool) []byte {
	if value {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// DecodeDPT1 decodes a 1-bit value.
func DecodeDPT1(data []byte) (bool, error) {
	if len(data) < 1 {
		return false, fmt.Errorf("%w: DPT1 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return (data[0] & 0x01) != 0, nil
}

// EncodeDPT3 encodes a dimming/blind control value. Steps 0 means stop.
func EncodeDPT3(increase bool, steps uint8) []byte {
	var value byte
	if increase {
		value = 0x08
	}
	value |= steps & 0x07
	return []byte{value}
}

// DecodeDPT3 decodes a dimming/blind control value.
func DecodeDPT3(data []byte) (increase bool, steps uint8, err error) {
	if len(data) < 1 {
		return false, 0, fmt.Errorf("%w: DPT3 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return (data[0] & 0x08) != 0, data[0] & 0x07, nil
}

// EncodeDPT5 scales a percentage (0-100) to 0-255. Out-of-range input is clamped.
func EncodeDPT5(percent float64) []byte {
	percent = math.Max(0, math.Min(100, percent))
	return []byte{uint8(math.Round(percent * dpt5MaxValue / 100))}
}

// DecodeDPT5 scales 0-255 to a percentage.
func DecodeDPT5(data []byte) (float64, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: DPT5 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return float64(data[0]) * 100 / dpt5MaxValue, nil
}

// EncodeDPT5Angle scales an angle (0-360) to 0-255.
func EncodeDPT5Angle(angle float64) []byte {
	angle = math.Max(0, math.Min(dpt5AngleMax, angle))
	return []byte{uint8(math.Round(angle * dpt5MaxValue / dpt5AngleMax))}
}

// DecodeDPT5Angle scales 0-255 to degrees.
func DecodeDPT5Angle(data []byte) (float64, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: DPT5 angle requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return float64(data[0]) * dpt5AngleMax / dpt5MaxValue, nil
}

// EncodeDPT9 encodes a value to KNX 2-byte float.
//
// KNX 2-byte float format:
//
//	Byte 0: SEEE EMMM (Sign, Exponent, Mantissa high)
//	Byte 1: MMMM MMMM (Mantissa low)
//
// Value = (0.01 × Mantissa) × 2^Exponent, mantissa two's complement.
func EncodeDPT9(value float64) ([]byte, error) {
	if math.IsNaN(value) || value < -671088.64 || value > 670760.96 {
		return nil, fmt.Errorf("%w: DPT9 value out of range: %.2f", ErrEncodingFailed, value)
	}

	mantissa := math.Round(value * 100)
	exp := 0
	for mantissa < -2048 || mantissa > 2047 {
		mantissa = math.Round(mantissa / 2)
		exp++
	}
	if exp > dpt9MaxExponent {
		return nil, fmt.Errorf("%w: DPT9 exponent overflow for value %.2f", ErrEncodingFailed, value)
	}

	m := int16(mantissa)
	var sign uint16
	if m < 0 {
		sign = 0x8000
	}
	encoded := sign | uint16(exp)<<11 | uint16(m)&dpt9MantissaMask //nolint:gosec // exp bounded, mantissa masked
	return []byte{byte(encoded >> byteShift), byte(encoded)}, nil
}

// DecodeDPT9 decodes a KNX 2-byte float. 0x7FFF is the "invalid data" marker.
func DecodeDPT9(data []byte) (float64, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("%w: DPT9 requires 2 bytes, got %d", ErrDecodingFailed, len(data))
	}

	raw := uint16(data[0])<<byteShift | uint16(data[1])
	if raw == dpt9Invalid {
		return 0, fmt.Errorf("%w: DPT9 invalid value 0x7FFF", ErrDecodingFailed)
	}

	exp := (raw >> 11) & 0x0F
	mantissa := int16(raw & dpt9MantissaMask) //nolint:gosec // 11-bit value
	if raw&0x8000 != 0 {
		mantissa |= -0x800
	}
	return float64(mantissa) * 0.01 * math.Pow(2, float64(exp)), nil
}

// EncodeDPT17 encodes a scene number (0-63).
func EncodeDPT17(scene uint8) ([]byte, error) {
	if scene > dpt17MaxScene {
		return nil, fmt.Errorf("%w: DPT17 scene must be 0-%d, got %d", ErrEncodingFailed, dpt17MaxScene, scene)
	}
	return []byte{scene}, nil
}

// DecodeDPT17 decodes a scene number.
func DecodeDPT17(data []byte) (uint8, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: DPT17 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return data[0] & dpt17SceneMask, nil
}

// EncodeDPT18 encodes a scene control value; learn sets bit 7.
func EncodeDPT18(scene uint8, learn bool) ([]byte, error) {
	if scene > dpt17MaxScene {
		return nil, fmt.Errorf("%w: DPT18 scene must be 0-%d, got %d", ErrEncodingFailed, dpt17MaxScene, scene)
	}
	value := scene
	if learn {
		value |= 0x80
	}
	return []byte{value}, nil
}

// DecodeDPT18 decodes a scene control value.
func DecodeDPT18(data []byte) (scene uint8, learn bool, err error) {
	if len(data) < 1 {
		return 0, false, fmt.Errorf("%w: DPT18 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return data[0] & dpt17SceneMask, data[0]&0x80 != 0, nil
}

// RGB is a DPT 232.600 colour.
type RGB struct {
	R uint8
	G uint8
	B uint8
}

// EncodeDPT232 encodes an RGB colour.
func EncodeDPT232(rgb RGB) []byte {
	return []byte{rgb.R, rgb.G, rgb.B}
}

// DecodeDPT232 decodes an RGB colour.
func DecodeDPT232(data []byte) (RGB, error) {
	if len(data) < dptRGBBytes {
		return RGB{}, fmt.Errorf("%w: DPT232 requires %d bytes, got %d", ErrDecodingFailed, dptRGBBytes, len(data))
	}
	return RGB{R: data[0], G: data[1], B: data[2]}, nil
}
