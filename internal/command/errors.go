package command

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for command dispatch.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, command.ErrQueueFull) {
//	    // back off or drop
//	}
var (
	// ErrQueueFull is returned when the queue is at capacity.
	ErrQueueFull = errors.New("command: queue full")

	// ErrInvalidRequest is returned when request validation fails.
	// The wrapped ValidationErrors carry the individual problems.
	ErrInvalidRequest = errors.New("command: invalid request")

	// ErrNotFound is returned when a command ID does not exist.
	ErrNotFound = errors.New("command: not found")

	// ErrDuplicateID is returned when a command ID is already known.
	ErrDuplicateID = errors.New("command: duplicate id")

	// ErrNotCancellable is returned when cancelling a command that has
	// already been handed to an adapter.
	ErrNotCancellable = errors.New("command: not cancellable")

	// ErrNotFailed is returned when retrying a command that is not failed.
	ErrNotFailed = errors.New("command: not failed")

	// ErrTerminal is returned when mutating a command in a terminal state.
	ErrTerminal = errors.New("command: already terminal")

	// ErrUnknownProtocol is returned when no adapter is registered for a protocol.
	ErrUnknownProtocol = errors.New("command: unknown protocol")

	// ErrUnknownDevice is returned when a device cannot be resolved.
	ErrUnknownDevice = errors.New("command: unknown device")

	// ErrUnknownCommand is returned for an ack whose command is not pending.
	ErrUnknownCommand = errors.New("command: ack for unknown command")

	// ErrStaleAck is returned for an ack addressed to a superseded attempt.
	ErrStaleAck = errors.New("command: stale ack")

	// ErrMalformedAck is returned when an ack cannot be decoded.
	ErrMalformedAck = errors.New("command: malformed ack")
)

// IsAckError reports whether err is an acknowledgement error. Ack errors
// are logged and discarded; they never affect the command state machine.
func IsAckError(err error) bool {
	return errors.Is(err, ErrUnknownCommand) ||
		errors.Is(err, ErrStaleAck) ||
		errors.Is(err, ErrMalformedAck)
}

// ValidationError describes one invalid request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors is the full list of problems found in a request.
// It unwraps to ErrInvalidRequest.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, len(e))
	for i, v := range e {
		parts[i] = v.Error()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidRequest, strings.Join(parts, "; "))
}

// Unwrap lets errors.Is match ErrInvalidRequest.
func (e ValidationErrors) Unwrap() error {
	return ErrInvalidRequest
}
