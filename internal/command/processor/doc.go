// Package processor runs the dispatch loop.
//
// Workers take the highest-priority command from the queue, resolve its
// device and adapter, and send one attempt. The outcome decides what
// happens next:
//
//	confirmed     -> completed
//	unconfirmed   -> awaiting_ack (the ack handler settles it)
//	retryable err -> retrying, re-queued after RetryPolicy.Delay(attempt)
//	other err     -> failed
//
// Ack timeouts come back through HandleAckTimeout and follow the same
// retry path; exhausting attempts on timeouts ends in expired rather
// than failed.
//
// Run blocks until its context is cancelled and stops all pending retry
// timers before returning. Commands whose timers were stopped stay in
// retrying and are picked up by restart recovery.
package processor
