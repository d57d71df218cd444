package accessory

import "errors"

var (
	// ErrUnknownAccessory indicates no accessory has the requested ID.
	ErrUnknownAccessory = errors.New("accessory: unknown accessory")

	// ErrDuplicateID indicates two configured accessories share an ID.
	ErrDuplicateID = errors.New("accessory: duplicate id")

	// ErrUnknownProperty indicates the accessory has no such property.
	ErrUnknownProperty = errors.New("accessory: unknown property")

	// ErrReadOnly indicates the property cannot be set.
	ErrReadOnly = errors.New("accessory: property is read-only")

	// ErrInvalidValue indicates the value has the wrong type or is out of range.
	ErrInvalidValue = errors.New("accessory: invalid value")

	// ErrNotSupported indicates a mode the accessory does not implement.
	ErrNotSupported = errors.New("accessory: not supported")
)
