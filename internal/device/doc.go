// Package device resolves command targets to a protocol and address.
//
// The dispatcher treats device configuration as external input: it asks
// "which protocol and address does fan1 use?" and trusts the answer. This
// package keeps that answer in the devices table, caches it in memory and
// keeps it in sync with an optional YAML seed file.
//
// # Components
//
//   - Device: id, name, protocol, protocol-specific address, enabled flag
//   - Repository / SQLiteRepository: persistence in the devices table
//   - Registry: RWMutex cache over the repository; implements Resolver
//   - ImportFile / Watch: YAML seed file loading and fsnotify-driven reload
//
// # Address Formats
//
// The address map is interpreted by the adapter for the device protocol:
//
//	mqtt:   {"topic": "fan1"}                         (defaults to the device ID)
//	modbus: {"host": "10.0.0.5", "port": 502, "unit_id": 1, "coil": 4}
//	http:   {"url": "http://10.0.0.9:8080"}
//
// # Thread Safety
//
// Registry methods are safe for concurrent use. Devices returned from the
// registry are deep copies.
package device
