// Package audit records the command lifecycle trail in the audit_logs table.
//
// A Recorder subscribes to the command event bus and writes one row per
// event: the action is the event type, the entity is the command, the
// source is the submitter kind and the user is the actor for user-issued
// commands. Writes are serial and best-effort; events that overflow the
// subscription buffer are dropped and counted by the bus.
package audit
