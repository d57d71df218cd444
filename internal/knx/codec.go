package knx

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Payload is the data part of a group telegram, as carried on the wire after
// the APCI bits have been stripped. Short frames yield a single byte holding
// the 6-bit value.
type Payload []byte

// Encode converts a Go value to the wire payload for dpt.
//
// Accepted value kinds: bool, any integer or float type, json.Number, and for
// DPT 1 the strings "on"/"off"/"true"/"false". DPT 232 also accepts RGB.
func Encode(dpt DPT, value any) (Payload, error) {
	switch dpt.Main() {
	case 1:
		b, ok := toBool(value)
		if !ok {
			return nil, fmt.Errorf("%w: DPT%s expects bool, got %T", ErrEncodingFailed, dpt, value)
		}
		return EncodeDPT1(b), nil

	case 3:
		f, ok := toFloat(value)
		if !ok || f < -7 || f > 7 {
			return nil, fmt.Errorf("%w: DPT%s expects steps -7..7, got %v", ErrEncodingFailed, dpt, value)
		}
		return EncodeDPT3(f > 0, uint8(math.Abs(f))), nil

	case 5:
		f, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("%w: DPT%s expects number, got %T", ErrEncodingFailed, dpt, value)
		}
		switch dpt.Sub() {
		case "001":
			return EncodeDPT5(f), nil
		case "003":
			return EncodeDPT5Angle(f), nil
		default:
			if f < 0 || f > dpt5MaxValue {
				return nil, fmt.Errorf("%w: DPT%s raw value must be 0-255, got %v", ErrEncodingFailed, dpt, f)
			}
			return Payload{uint8(math.Round(f))}, nil
		}

	case 9:
		f, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("%w: DPT%s expects number, got %T", ErrEncodingFailed, dpt, value)
		}
		return EncodeDPT9(f)

	case 17, 18:
		f, ok := toFloat(value)
		if !ok || f < 0 || f > dpt17MaxScene {
			return nil, fmt.Errorf("%w: DPT%s expects scene 0-%d, got %v", ErrEncodingFailed, dpt, dpt17MaxScene, value)
		}
		if dpt.Main() == 17 {
			return EncodeDPT17(uint8(f))
		}
		return EncodeDPT18(uint8(f), false)

	case 232:
		rgb, ok := value.(RGB)
		if !ok {
			return nil, fmt.Errorf("%w: DPT%s expects RGB, got %T", ErrEncodingFailed, dpt, value)
		}
		return EncodeDPT232(rgb), nil
	}

	return nil, fmt.Errorf("%w: %q not supported for encoding", ErrInvalidDPT, dpt)
}

// Decode interprets the payload as dpt and returns a typed value:
// bool (DPT 1), int (DPT 3, signed steps), float64 (DPT 5, 9),
// uint8 (DPT 17, 18) or RGB (DPT 232).
func (p Payload) Decode(dpt DPT) (any, error) {
	switch dpt.Main() {
	case 1:
		return DecodeDPT1(p)
	case 3:
		inc, steps, err := DecodeDPT3(p)
		if err != nil {
			return nil, err
		}
		if inc {
			return int(steps), nil
		}
		return -int(steps), nil
	case 5:
		switch dpt.Sub() {
		case "001":
			return DecodeDPT5(p)
		case "003":
			return DecodeDPT5Angle(p)
		default:
			if len(p) < 1 {
				return nil, fmt.Errorf("%w: DPT5 requires 1 byte", ErrDecodingFailed)
			}
			return float64(p[0]), nil
		}
	case 9:
		return DecodeDPT9(p)
	case 17:
		return DecodeDPT17(p)
	case 18:
		scene, _, err := DecodeDPT18(p)
		return scene, err
	case 232:
		return DecodeDPT232(p)
	}
	return nil, fmt.Errorf("%w: %q not supported for decoding", ErrInvalidDPT, dpt)
}

// Float decodes the payload as dpt and returns a numeric view of it.
// Booleans map to 0/1.
func (p Payload) Float(dpt DPT) (float64, error) {
	v, err := p.Decode(dpt)
	if err != nil {
		return 0, err
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("%w: DPT%s is not numeric", ErrDecodingFailed, dpt)
	}
	return f, nil
}

// String returns the payload as upper-case hex.
func (p Payload) String() string {
	return strings.ToUpper(hex.EncodeToString(p))
}

// GuessValue decodes a payload without knowing its DPT, choosing the type by
// frame length: short frames as DPT 1 (raw 6-bit value), one byte as DPT 5
// raw, two bytes as DPT 9 float, three as DPT 232. Anything else is returned
// as a hex string.
func GuessValue(p Payload, short bool) (DPT, any) {
	switch {
	case short && len(p) == 1:
		return "1", int(p[0])
	case len(p) == 1:
		return "5", int(p[0])
	case len(p) == 2:
		f, err := DecodeDPT9(p)
		if err != nil {
			return "9", nil
		}
		return "9", f
	case len(p) == dptRGBBytes:
		rgb, _ := DecodeDPT232(p)
		return "232", rgb
	default:
		return "", p.String()
	}
}

func toBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "on", "true", "1":
			return true, true
		case "off", "false", "0":
			return false, true
		}
		return false, false
	}
	if f, ok := toFloat(v); ok {
		return f > 0, true
	}
	return false, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// ToFloat exposes the numeric coercion used by Encode for callers that
// receive loosely typed values (e.g. JSON commands).
func ToFloat(v any) (float64, bool) { return toFloat(v) }

// ToBool exposes the boolean coercion used by Encode.
func ToBool(v any) (bool, bool) { return toBool(v) }
