package knx

import (
	"fmt"
	"strconv"
	"strings"
)

// GroupAddress is a KNX group address in 3-level format.
//
// Layout when packed: MMMM MIII SSSS SSSS
//   - Main:   0-31  (5 bits)
//   - Middle: 0-7   (3 bits)
//   - Sub:    0-255 (8 bits)
type GroupAddress struct {
	Main   uint8
	Middle uint8
	Sub    uint8
}

const (
	maxMain   = 31
	maxMiddle = 7
	maxSub    = 255

	gaLevelCount = 3

	gaMainMask   = 0x1F
	gaMiddleMask = 0x07
	gaSubMask    = 0xFF
)

// ParseGroupAddress parses a "main/middle/sub" string.
//
// Parameters:
//   - s: Group address string, e.g. "2/1/5"
//
// Returns:
//   - GroupAddress: Parsed address
//   - error: ErrInvalidGroupAddress if s is malformed or out of range
func ParseGroupAddress(s string) (GroupAddress, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != gaLevelCount {
		return GroupAddress{}, fmt.Errorf("%w: expected main/middle/sub, got %q", ErrInvalidGroupAddress, s)
	}

	levels := [gaLevelCount]uint64{}
	limits := [gaLevelCount]uint64{maxMain, maxMiddle, maxSub}
	names := [gaLevelCount]string{"main", "middle", "sub"}

	for i, part := range parts {
		v, err := strconv.ParseUint(part, 10, 8)
		if err != nil || v > limits[i] {
			return GroupAddress{}, fmt.Errorf("%w: %s group must be 0-%d, got %q",
				ErrInvalidGroupAddress, names[i], limits[i], part)
		}
		levels[i] = v
	}

	return GroupAddress{
		Main:   uint8(levels[0]), //nolint:gosec // range checked above
		Middle: uint8(levels[1]), //nolint:gosec // range checked above
		Sub:    uint8(levels[2]), //nolint:gosec // range checked above
	}, nil
}

// MustParseGroupAddress is like ParseGroupAddress but panics on error.
// Intended for constants in tests and tools.
func MustParseGroupAddress(s string) GroupAddress {
	ga, err := ParseGroupAddress(s)
	if err != nil {
		panic(err)
	}
	return ga
}

// String returns the address in "main/middle/sub" form.
func (ga GroupAddress) String() string {
	return fmt.Sprintf("%d/%d/%d", ga.Main, ga.Middle, ga.Sub)
}

// ToUint16 packs the address into its 16-bit wire form.
func (ga GroupAddress) ToUint16() uint16 {
	return uint16(ga.Main&gaMainMask)<<11 | uint16(ga.Middle&gaMiddleMask)<<8 | uint16(ga.Sub)
}

// GroupAddressFromUint16 unpacks a 16-bit wire address.
func GroupAddressFromUint16(value uint16) GroupAddress {
	return GroupAddress{
		Main:   uint8((value >> 11) & gaMainMask),  //nolint:gosec // masked to 5 bits
		Middle: uint8((value >> 8) & gaMiddleMask), //nolint:gosec // masked to 3 bits
		Sub:    uint8(value & gaSubMask),           //nolint:gosec // masked to 8 bits
	}
}

// IsValid reports whether all levels are within range.
func (ga GroupAddress) IsValid() bool {
	return ga.Main <= maxMain && ga.Middle <= maxMiddle
}

// FormatIndividualAddress converts a 16-bit individual (physical) address to
// "area.line.device" form.
func FormatIndividualAddress(ia uint16) string {
	area := (ia >> 12) & 0x0F
	line := (ia >> 8) & 0x0F
	device := ia & 0xFF
	return fmt.Sprintf("%d.%d.%d", area, line, device)
}
