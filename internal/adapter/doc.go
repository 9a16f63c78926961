// Package adapter delivers commands to devices over a concrete protocol.
//
// An Adapter turns a resolved Dispatch into protocol traffic and reports
// one of three outcomes:
//
//   - Outcome{Confirmed: true}: the device confirmed execution synchronously
//   - Outcome{Confirmed: false}: the command was handed off; an Ack is expected later
//   - error: an *Error classifying the failure for the retry decision
//
// Adapters never retry internally. The processor owns the retry policy and
// uses Retryable to decide whether a failure is worth another attempt.
//
// # Built-in Adapters
//
//	mqtt:   JSON CommandMessage on graylogic/command/{protocol}/{address}, acks on graylogic/ack/+/+
//	modbus: coil and register writes via github.com/goburrow/modbus (TCP or RTU)
//	http:   POST {url}/commands/{command}; 202 means "ack will follow"
//
// # Thread Safety
//
// Registry and all built-in adapters are safe for concurrent use.
package adapter
