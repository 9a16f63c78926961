package audit

import (
	"context"

	"github.com/nerrad567/gray-logic-dispatch/internal/command"
	"github.com/nerrad567/gray-logic-dispatch/internal/command/eventbus"
)

// EntityCommand is the entity type of command lifecycle entries.
const EntityCommand = "command"

// DefaultBuffer is the recorder's event buffer when none is given.
const DefaultBuffer = 256

// Subscriber is the event source. *eventbus.Bus satisfies it.
type Subscriber interface {
	Subscribe(filter eventbus.Filter, buffer int) *eventbus.Subscription
}

// Logger defines the logging interface used by the recorder.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder writes command lifecycle events to a Repository.
type Recorder struct {
	repo   Repository
	sub    *eventbus.Subscription
	logger Logger
}

// NewRecorder creates a recorder and subscribes it to bus straight away,
// so events published before Run are buffered rather than missed.
// A buffer of zero uses DefaultBuffer.
func NewRecorder(repo Repository, bus Subscriber, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Recorder{
		repo:   repo,
		sub:    bus.Subscribe(eventbus.Filter{}, buffer),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Run records events until ctx is cancelled, then writes whatever is
// still buffered before returning.
func (r *Recorder) Run(ctx context.Context) error {
	sub := r.sub
	defer sub.Close()

	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			r.record(ev)
		case <-ctx.Done():
			for {
				select {
				case ev, ok := <-sub.C():
					if !ok {
						return nil
					}
					r.record(ev)
				default:
					if n := sub.Dropped(); n > 0 {
						r.logger.Warn("audit recorder dropped events", "count", n)
					}
					return nil
				}
			}
		}
	}
}

func (r *Recorder) record(ev command.Event) {
	e := EntryFromEvent(ev)
	// Writes outlive the run context so the shutdown drain still lands.
	if err := r.repo.Create(context.Background(), &e); err != nil {
		r.logger.Error("audit write failed",
			"action", e.Action,
			"command_id", ev.CommandID,
			"error", err,
		)
	}
}

// EntryFromEvent maps a lifecycle event to an audit entry.
func EntryFromEvent(ev command.Event) Entry {
	details := map[string]any{
		"device_id": ev.DeviceID,
		"command":   ev.CommandName,
		"priority":  ev.Priority.String(),
	}
	if ev.Attempt > 0 {
		details["attempt"] = ev.Attempt
	}
	if ev.Detail != "" {
		details["detail"] = ev.Detail
	}
	if ref := ev.Source.Ref(); ref != "" {
		details["source_ref"] = ref
	}

	e := Entry{
		Action:     string(ev.Type),
		EntityType: EntityCommand,
		EntityID:   ev.CommandID,
		Source:     string(ev.Source.Kind),
		Details:    details,
		CreatedAt:  ev.Timestamp,
	}
	if ev.Source.Kind == command.SourceUser {
		e.UserID = ev.Source.ActorID
	}
	return e
}
