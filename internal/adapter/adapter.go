package adapter

import (
	"context"

	"github.com/nerrad567/gray-logic-dispatch/internal/command"
	"github.com/nerrad567/gray-logic-dispatch/internal/device"
)

// Adapter delivers commands over one protocol.
type Adapter interface {
	// Protocol returns the protocol name devices refer to.
	Protocol() string

	// Send delivers one attempt of a command. It must honour ctx and must
	// not retry internally.
	Send(ctx context.Context, d Dispatch) (Outcome, error)
}

// Stopper is implemented by adapters holding resources.
type Stopper interface {
	Stop() error
}

// Dispatch is one attempt of a command, resolved to its target device.
type Dispatch struct {
	CommandID   string
	DeviceID    string
	CommandName string
	Parameters  command.Parameters
	Source      command.Source
	Priority    command.Priority
	Attempt     int
	Target      device.Device
}

// NewDispatch builds the dispatch for the request's current attempt.
func NewDispatch(req command.Request, target device.Device) Dispatch {
	return Dispatch{
		CommandID:   req.ID,
		DeviceID:    req.DeviceID,
		CommandName: req.CommandName,
		Parameters:  req.Parameters.Clone(),
		Source:      req.Source,
		Priority:    req.Priority,
		Attempt:     req.AttemptCount,
		Target:      target,
	}
}

// Outcome is a successful send.
type Outcome struct {
	// Confirmed is true when the device confirmed execution synchronously.
	Confirmed bool
	// Response is an optional JSON-encodable device reply.
	Response any
}

// Logger defines the logging interface used by adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
