package device

import (
	"fmt"
	"regexp"
)

// Validation constants.
const (
	maxIDLength       = 128
	maxNameLength     = 100
	maxAddressKeys    = 20
	maxStringValueLen = 1024
)

var (
	idRegex       = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]*$`)
	protocolRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// ValidateDevice checks a device and returns the first problem found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}
	if d.ID == "" || len(d.ID) > maxIDLength || !idRegex.MatchString(d.ID) {
		return fmt.Errorf("%w: id %q", ErrInvalidDevice, d.ID)
	}
	if len(d.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDevice, maxNameLength)
	}
	if !protocolRegex.MatchString(d.Protocol) {
		return fmt.Errorf("%w: %q", ErrInvalidProtocol, d.Protocol)
	}
	return validateAddress(d.Protocol, d.Address)
}

func validateAddress(protocol string, a Address) error {
	if len(a) > maxAddressKeys {
		return fmt.Errorf("%w: more than %d keys", ErrInvalidAddress, maxAddressKeys)
	}
	for k, v := range a {
		if s, ok := v.(string); ok && len(s) > maxStringValueLen {
			return fmt.Errorf("%w: %s too long", ErrInvalidAddress, k)
		}
	}

	switch protocol {
	case ProtocolHTTP:
		if _, ok := a.String("url"); !ok {
			return fmt.Errorf("%w: http device requires url", ErrInvalidAddress)
		}
	case ProtocolModbus:
		if _, ok := a["unit_id"]; ok {
			if id, ok := a.Int("unit_id"); !ok || id < 0 || id > 247 {
				return fmt.Errorf("%w: unit_id must be 0-247", ErrInvalidAddress)
			}
		}
	}
	return nil
}
