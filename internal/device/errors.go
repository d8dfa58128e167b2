package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrUnknownDeviceType) {
//	    // snapshot entry skipped
//	}
var (
	// ErrDeviceNotFound is returned when an address is not in the registry.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrUnknownDeviceType is returned when no constructor is registered for a type id.
	ErrUnknownDeviceType = errors.New("device: unknown type")

	// ErrDuplicateType is returned when two constructors claim the same type id.
	ErrDuplicateType = errors.New("device: duplicate type id")

	// ErrUnknownAttribute is returned when setting or reporting an attribute
	// the device type does not declare.
	ErrUnknownAttribute = errors.New("device: unknown attribute")

	// ErrUnknownCommand is returned when a device has no handler for a command.
	ErrUnknownCommand = errors.New("device: unknown command")

	// ErrInvalidDevice is returned when a device is constructed without an address.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidSnapshot is returned when a snapshot field cannot be converted.
	ErrInvalidSnapshot = errors.New("device: invalid snapshot field")
)
