// Package manager is the external façade of command dispatch.
//
// It ties the queue, the state store, the processor and the
// acknowledgment handler together for callers such as the HTTP API:
//
//	id, err := mgr.Submit(ctx, req)       // validate, persist, enqueue
//	rec, err := mgr.Status(ctx, id)
//	err = mgr.Cancel(ctx, id)             // only while queued or retrying
//	err = mgr.Retry(ctx, id)              // only failed commands
//
// Submit surfaces command.ErrQueueFull to the caller instead of queuing
// past capacity; the record created for the rejected command is removed.
//
// Recover rebuilds the in-memory queue from the store after a restart.
// Run observes the event bus for metrics, the time-series outcome log
// and the MQTT event mirror, and runs the retention cleanup.
package manager
