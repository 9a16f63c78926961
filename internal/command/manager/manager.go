package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-dispatch/internal/command"
	"github.com/nerrad567/gray-logic-dispatch/internal/command/eventbus"
	"github.com/nerrad567/gray-logic-dispatch/internal/command/processor"
	"github.com/nerrad567/gray-logic-dispatch/internal/command/store"
	"github.com/nerrad567/gray-logic-dispatch/internal/device"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/metrics"
)

// Queue is the part of *queue.Queue the manager uses.
type Queue interface {
	Enqueue(req command.Request) (command.Request, error)
	EnqueueThen(req command.Request, then func(command.Request)) (command.Request, error)
	Remove(id string) bool
	Len() int
	Stats() command.QueueStats
}

// Store is the part of *store.Store the manager uses.
type Store interface {
	Create(ctx context.Context, req command.Request) (*command.Record, error)
	Get(ctx context.Context, id string) (*command.Record, error)
	List(ctx context.Context, f store.Filter) ([]*command.Record, error)
	PutStatus(ctx context.Context, id string, status command.Status, d store.Detail) (*command.Record, error)
	PutStatusFrom(ctx context.Context, id string, from []command.Status, status command.Status, d store.Detail) (*command.Record, error)
	Reopen(ctx context.Context, id string) (*command.Record, error)
	Delete(ctx context.Context, id string) error
	NonTerminal(ctx context.Context) ([]*command.Record, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
	Stats(ctx context.Context) (command.StoreStats, error)
}

// Processor is the part of *processor.Processor the manager uses.
type Processor interface {
	CancelRetry(id string) bool
	Stats() processor.Stats
}

// AckTable is the part of *ack.Handler the manager uses.
type AckTable interface {
	OnAck(ctx context.Context, ack command.Ack) error
	Pending() int
}

// Adapters is the part of *adapter.Registry the manager uses.
type Adapters interface {
	Has(protocol string) bool
	Stats() []command.AdapterStats
}

// Bus is the event bus. *eventbus.Bus satisfies it.
type Bus interface {
	Publish(ev command.Event)
	Subscribe(filter eventbus.Filter, buffer int) *eventbus.Subscription
}

// Logger defines the logging interface used by the manager.
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

// Recovery policies.
const (
	RecoveryRequeue = "requeue"
	RecoveryExpire  = "expire"
)

// Cancellation and recovery details recorded on the command.
const (
	DetailCancelled   = "cancelled"
	DetailInterrupted = "interrupted by restart"
)

// Config controls the manager.
type Config struct {
	// DefaultRetry fills the zero fields of a submitted retry policy.
	DefaultRetry command.RetryPolicy

	// CheckTargets makes Submit reject commands whose device cannot be
	// resolved or whose protocol has no adapter.
	CheckTargets bool

	// Recovery is RecoveryRequeue (default) or RecoveryExpire.
	Recovery string

	// Retention is how long terminal records are kept.
	Retention time.Duration

	// CleanupInterval is how often Run removes old records. Zero disables cleanup.
	CleanupInterval time.Duration
}

// Stats is the combined view returned by Manager.Stats.
type Stats struct {
	Queue       command.QueueStats     `json:"queue"`
	Processor   processor.Stats        `json:"processor"`
	Adapters    []command.AdapterStats `json:"adapters"`
	PendingAcks int                    `json:"pending_acks"`
	Store       command.StoreStats     `json:"store"`
}

// Manager is the command dispatch façade.
//
// Thread Safety: all methods are safe for concurrent use.
type Manager struct {
	queue    Queue
	store    Store
	proc     Processor
	acks     AckTable
	adapters Adapters
	devices  device.Resolver
	bus      Bus
	cfg      Config
	logger   Logger

	outcomes OutcomeWriter
	mirror   EventMirror

	// sub feeds Run. It is opened in New so events published by Recover
	// before Run starts are still observed.
	sub *eventbus.Subscription
}

// New creates a manager.
//
// Parameters:
//   - q: the command queue
//   - st: the state store
//   - proc: the processor, for retry cancellation and stats
//   - acks: the pending-ack table
//   - adapters: the adapter registry
//   - devices: device resolver, used when cfg.CheckTargets is set (may be nil otherwise)
//   - bus: the lifecycle event bus
//   - cfg: defaults, recovery policy and retention
func New(q Queue, st Store, proc Processor, acks AckTable, adapters Adapters, devices device.Resolver, bus Bus, cfg Config) *Manager {
	if cfg.Recovery == "" {
		cfg.Recovery = RecoveryRequeue
	}
	return &Manager{
		queue:    q,
		store:    st,
		proc:     proc,
		acks:     acks,
		adapters: adapters,
		devices:  devices,
		bus:      bus,
		cfg:      cfg,
		logger:   noopLogger{},
		sub:      bus.Subscribe(eventbus.Filter{}, observerBuffer),
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Submit validates req, records it as queued and enqueues it.
//
// Returns:
//   - string: the command ID (assigned when req.ID is empty)
//   - error: nil on success, or:
//   - command.ErrInvalidRequest (as command.ValidationErrors) for a bad request
//   - command.ErrUnknownDevice / command.ErrUnknownProtocol when CheckTargets is set
//   - command.ErrDuplicateID when the ID is already known
//   - command.ErrQueueFull when the queue is at capacity
func (m *Manager) Submit(ctx context.Context, req command.Request) (string, error) {
	req.Prepare(m.cfg.DefaultRetry)
	req.AttemptCount = 0
	req.Sequence = 0

	if err := req.Validate(); err != nil {
		return "", err
	}
	if m.cfg.CheckTargets {
		if err := m.checkTarget(ctx, req.DeviceID); err != nil {
			return "", err
		}
	}

	if _, err := m.store.Create(ctx, req); err != nil {
		return "", err
	}

	// enqueued is published before a worker can take the command, so
	// subscribers never see dispatched first.
	queued, err := m.queue.EnqueueThen(req, func(admitted command.Request) {
		m.bus.Publish(command.NewEvent(command.EventEnqueued, admitted, ""))
	})
	if err != nil {
		if delErr := m.store.Delete(ctx, req.ID); delErr != nil {
			m.logger.Error("removing rejected command", "command_id", req.ID, "error", delErr)
		}
		if errors.Is(err, command.ErrQueueFull) {
			m.logger.Warn("command rejected: queue full",
				"command_id", req.ID,
				"device_id", req.DeviceID,
				"priority", req.Priority.String(),
			)
		}
		return "", err
	}

	metrics.IncSubmitted(queued.Priority.String())
	m.logger.Debug("command submitted",
		"command_id", queued.ID,
		"device_id", queued.DeviceID,
		"command", queued.CommandName,
		"priority", queued.Priority.String(),
		"source", queued.Source.String(),
	)
	return queued.ID, nil
}

func (m *Manager) checkTarget(ctx context.Context, deviceID string) error {
	if m.devices == nil {
		return nil
	}
	target, err := m.devices.Resolve(ctx, deviceID)
	if err != nil {
		return err
	}
	if !m.adapters.Has(target.Protocol) {
		return fmt.Errorf("%w: %s", command.ErrUnknownProtocol, target.Protocol)
	}
	return nil
}

// Status returns the record for id, or command.ErrNotFound.
func (m *Manager) Status(ctx context.Context, id string) (*command.Record, error) {
	return m.store.Get(ctx, id)
}

// List returns records matching f, newest first.
func (m *Manager) List(ctx context.Context, f store.Filter) ([]*command.Record, error) {
	return m.store.List(ctx, f)
}

// Cancel expires a command that has not been handed to an adapter.
//
// Queued commands are removed from the queue; retrying commands have
// their backoff timer stopped. Both end expired with detail "cancelled".
//
// Returns command.ErrNotCancellable once the command has been dispatched,
// command.ErrTerminal when it already finished and command.ErrNotFound
// for an unknown id.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	cancellable := []command.Status{command.StatusQueued, command.StatusRetrying}

	rec, err := m.store.PutStatusFrom(ctx, id, cancellable, command.StatusExpired, store.Detail{Error: DetailCancelled})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: %w", command.ErrNotCancellable, err)
		}
		return err
	}

	// A worker that dequeued the command meanwhile finds it terminal and drops it.
	m.queue.Remove(id)
	m.proc.CancelRetry(id)

	m.bus.Publish(command.NewEvent(command.EventExpired, rec.Request, DetailCancelled))
	m.logger.Info("command cancelled", "command_id", id, "device_id", rec.Request.DeviceID)
	return nil
}

// Retry re-submits a failed command with its attempt count reset.
//
// Returns command.ErrNotFailed unless the command is failed. When the
// queue is full the command is failed again and command.ErrQueueFull is
// returned.
func (m *Manager) Retry(ctx context.Context, id string) error {
	rec, err := m.store.Reopen(ctx, id)
	if err != nil {
		return err
	}

	queued, err := m.queue.EnqueueThen(rec.Request, func(admitted command.Request) {
		m.bus.Publish(command.NewEvent(command.EventEnqueued, admitted, "manual retry"))
	})
	if err != nil {
		if _, putErr := m.store.PutStatus(ctx, id, command.StatusFailed,
			store.Detail{Error: fmt.Sprintf("manual retry: %v", err)}); putErr != nil {
			m.logger.Error("restoring failed status", "command_id", id, "error", putErr)
		}
		return err
	}

	metrics.IncSubmitted(queued.Priority.String())
	m.logger.Info("command re-submitted", "command_id", id, "device_id", queued.DeviceID)
	return nil
}

// Cleanup removes terminal records older than olderThan.
func (m *Manager) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := m.store.Cleanup(ctx, olderThan)
	if err != nil {
		return n, fmt.Errorf("cleanup: %w", err)
	}
	if n > 0 {
		m.logger.Info("removed old command records", "count", n, "older_than", olderThan)
	}
	return n, nil
}

// Stats returns queue, processor, adapter, ack and store statistics.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	st, err := m.store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Queue:       m.queue.Stats(),
		Processor:   m.proc.Stats(),
		Adapters:    m.adapters.Stats(),
		PendingAcks: m.acks.Pending(),
		Store:       st,
	}, nil
}

// Subscribe returns a subscription to lifecycle events matching filter.
// The caller must Close it.
func (m *Manager) Subscribe(filter eventbus.Filter, buffer int) *eventbus.Subscription {
	return m.bus.Subscribe(filter, buffer)
}

// OnAck hands an acknowledgement to the ack handler. Ack errors (unknown
// or superseded command) are logged, counted and returned; they never
// change command state.
func (m *Manager) OnAck(ctx context.Context, ack command.Ack) error {
	err := m.acks.OnAck(ctx, ack)
	if err == nil || !command.IsAckError(err) {
		return err
	}

	reason := "unknown"
	switch {
	case errors.Is(err, command.ErrStaleAck):
		reason = "stale"
	case errors.Is(err, command.ErrMalformedAck):
		reason = "malformed"
	}
	metrics.IncAckDiscarded(reason)
	m.logger.Warn("ack discarded", "command_id", ack.CommandID, "attempt", ack.Attempt, "reason", reason)
	return err
}
