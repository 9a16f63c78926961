package adapter

import (
	"errors"
	"fmt"
)

// Registry errors.
var (
	// ErrAlreadyRegistered is returned when registering a second adapter
	// for the same protocol.
	ErrAlreadyRegistered = errors.New("adapter: protocol already registered")

	// ErrStopped is wrapped by errors from an adapter that has been stopped.
	ErrStopped = errors.New("adapter: stopped")
)

// Kind classifies an adapter failure.
type Kind int

// Failure kinds.
const (
	KindOther Kind = iota
	KindConfiguration
	KindConnection
	KindCommunication
	KindTimeout
	KindStopped
)

// String returns the kind name used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindConnection:
		return "connection"
	case KindCommunication:
		return "communication"
	case KindTimeout:
		return "timeout"
	case KindStopped:
		return "stopped"
	default:
		return "other"
	}
}

// Error is a classified adapter failure.
//
// Transient is only meaningful for KindCommunication: a transient
// communication failure (device busy, broker hiccup, HTTP 503) is worth
// retrying, a permanent one (rejected request) is not.
type Error struct {
	Kind      Kind
	Protocol  string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	prefix := "adapter"
	if e.Protocol != "" {
		prefix += " " + e.Protocol
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", prefix, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", prefix, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error.
func NewError(kind Kind, protocol string, err error) *Error {
	return &Error{Kind: kind, Protocol: protocol, Err: err}
}

// NewTransientError builds a retryable communication error.
func NewTransientError(protocol string, err error) *Error {
	return &Error{Kind: KindCommunication, Protocol: protocol, Transient: true, Err: err}
}

// Retryable reports whether err is worth another attempt.
//
// Connection failures, timeouts and transient communication failures are
// retryable. Everything else, including errors that are not an *Error
// such as an unknown protocol or device, is not.
func Retryable(err error) bool {
	var ae *Error
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.Kind {
	case KindConnection, KindTimeout:
		return true
	case KindCommunication:
		return ae.Transient
	default:
		return false
	}
}

// KindOf returns the kind of an adapter error, or KindOther.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindOther
}
