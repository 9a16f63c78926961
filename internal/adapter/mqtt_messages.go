package adapter

import (
	"encoding/json"
	"time"
)

// CommandMessage is published to a bridge or device to execute a command.
// Topic: graylogic/command/{protocol}/{address}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement.
	ID string `json:"id"`

	// Attempt is echoed back in the ack so late replies to superseded
	// attempts can be told apart.
	Attempt int `json:"attempt"`

	// Timestamp is when this attempt was issued (UTC).
	Timestamp time.Time `json:"timestamp"`

	DeviceID string `json:"device_id"`
	Command  string `json:"command"`

	// Parameters contains command-specific values, e.g. {"level": 50}.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source is the originator kind ("user", "rule", ...).
	Source string `json:"source"`

	// ActorID is the user who triggered the command, if any.
	ActorID string `json:"actor_id,omitempty"`

	Priority string `json:"priority"`
}

// AckStatus represents the acknowledgement status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was executed by the device.
	AckAccepted AckStatus = "accepted"

	// AckQueued indicates the bridge holds the command until the device is free.
	AckQueued AckStatus = "queued"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the device did not respond to the bridge in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is published by a bridge or device to acknowledge a command.
// Topic: graylogic/ack/{protocol}/{address}
type AckMessage struct {
	CommandID string          `json:"command_id"`
	Attempt   int             `json:"attempt,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	DeviceID  string          `json:"device_id"`
	Status    AckStatus       `json:"status"`
	Protocol  string          `json:"protocol"`
	Address   string          `json:"address"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     *AckError       `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g., "DEVICE_UNREACHABLE").
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes bridges report in AckError.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
)

// String renders the error as "CODE: message".
func (e *AckError) String() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Code == "":
		return e.Message
	case e.Message == "":
		return e.Code
	default:
		return e.Code + ": " + e.Message
	}
}
