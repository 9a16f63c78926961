package device

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Protocol names understood by the built-in adapters. Other names are
// accepted; they fail at dispatch if no adapter is registered for them.
const (
	ProtocolMQTT   = "mqtt"
	ProtocolModbus = "modbus"
	ProtocolHTTP   = "http"
)

// Device is a command target.
type Device struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Protocol  string    `json:"protocol"`
	Address   Address   `json:"address"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates an independent copy of the device.
// Modifications to the copy do not affect the original.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Address = d.Address.clone()
	return &cp
}

// Address holds protocol-specific addressing.
type Address map[string]any

func (a Address) clone() Address {
	if a == nil {
		return nil
	}
	// Values come from JSON or YAML; a round trip copies nested maps.
	data, err := json.Marshal(a)
	if err != nil {
		cp := make(Address, len(a))
		for k, v := range a {
			cp[k] = v
		}
		return cp
	}
	var cp Address
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil
	}
	return cp
}

// String returns a string field.
func (a Address) String(key string) (string, bool) {
	v, ok := a[key]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, t != ""
	case fmt.Stringer:
		return t.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

// Int returns an integer field. Numbers decoded from JSON or YAML and
// numeric strings are accepted.
func (a Address) Int(key string) (int, bool) {
	v, ok := a[key]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case uint64:
		return int(t), true
	case float64:
		if t != float64(int(t)) {
			return 0, false
		}
		return int(t), true
	case json.Number:
		n, err := t.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	default:
		return 0, false
	}
}

// Bool returns a boolean field.
func (a Address) Bool(key string) bool {
	switch t := a[key].(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	default:
		return false
	}
}

// Stats holds registry statistics for monitoring.
type Stats struct {
	Total      int            `json:"total"`
	Enabled    int            `json:"enabled"`
	ByProtocol map[string]int `json:"by_protocol"`
}
