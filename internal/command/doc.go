// Package command defines the command data model for Gray Logic Dispatch.
//
// A command is a logical instruction for one device ("turn on fan1") that
// the dispatcher turns into a protocol-specific downlink, tracks, and
// retries under failure. This package holds the types shared by the queue,
// processor, acknowledgement handler, state store and event bus:
//
//   - Request: the immutable command plus its mutable attempt counter
//   - Priority: Low < Normal < High < Critical < Emergency
//   - Status: the lifecycle state machine with three terminal states
//   - Record: the durable view of a command kept by the state store
//   - Ack, Event and the derived statistics types
//
// # Lifecycle
//
//	queued ─▶ dispatched ─▶ awaiting_ack ─▶ acknowledged ─▶ completed
//	   ▲           │              │
//	   └─ retrying ◀┴──────────────┤
//	                               ├─▶ failed
//	                               └─▶ expired
//
// completed, failed and expired are terminal and immutable once recorded.
package command
