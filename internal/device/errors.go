package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceDisabled is returned when resolving a disabled device.
	ErrDeviceDisabled = errors.New("device: disabled")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidProtocol is returned when a protocol name is malformed.
	ErrInvalidProtocol = errors.New("device: invalid protocol")

	// ErrInvalidAddress is returned when address validation fails.
	ErrInvalidAddress = errors.New("device: invalid address")

	// ErrInvalidFile is returned when a device seed file cannot be parsed.
	ErrInvalidFile = errors.New("device: invalid device file")
)
