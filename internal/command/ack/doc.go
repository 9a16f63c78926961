// Package ack correlates asynchronous device acknowledgements with
// in-flight commands.
//
// After an unconfirmed send the processor registers the command here with
// a deadline. Exactly one of two things then settles the entry:
//
//   - OnAck: a matching ack arrives; the command is acknowledged and then
//     completed (or failed when the device rejected it)
//   - Sweep: the deadline passes; the entry is handed to the TimeoutHandler,
//     which treats it like an adapter timeout
//
// Both paths remove the entry under the table lock, so whichever runs
// first wins and the other finds nothing to do.
//
// Ack errors (unknown command, stale attempt) are returned to the caller
// for logging and never change command state.
package ack
