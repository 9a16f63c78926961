package ack

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-dispatch/internal/command"
	"github.com/nerrad567/gray-logic-dispatch/internal/command/store"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/metrics"
)

// DefaultSweepInterval is used when Run is given a non-positive interval.
const DefaultSweepInterval = time.Second

// PendingEntry is a command awaiting acknowledgement.
type PendingEntry struct {
	CommandID    string          `json:"command_id"`
	Attempt      int             `json:"attempt"`
	DispatchedAt time.Time       `json:"dispatched_at"`
	Deadline     time.Time       `json:"deadline"`
	Request      command.Request `json:"-"`
}

// StatusStore persists status transitions. *store.Store satisfies it.
type StatusStore interface {
	PutStatus(ctx context.Context, id string, status command.Status, d store.Detail) (*command.Record, error)
}

// Publisher broadcasts lifecycle events. *eventbus.Bus satisfies it.
type Publisher interface {
	Publish(ev command.Event)
}

// TimeoutHandler is told about entries whose deadline passed.
type TimeoutHandler interface {
	HandleAckTimeout(ctx context.Context, req command.Request, attempt int)
}

// Logger defines the logging interface used by the handler.
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

// Handler holds the pending-ack table.
//
// Thread Safety: all methods are safe for concurrent use. Store writes
// and event publication happen outside the table lock.
type Handler struct {
	mu      sync.Mutex
	pending map[string]*PendingEntry

	store    StatusStore
	bus      Publisher
	timeouts TimeoutHandler
	logger   Logger
	now      func() time.Time
}

// New creates a handler persisting through st and publishing on bus.
func New(st StatusStore, bus Publisher) *Handler {
	return &Handler{
		pending: make(map[string]*PendingEntry),
		store:   st,
		bus:     bus,
		logger:  noopLogger{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the handler.
func (h *Handler) SetLogger(logger Logger) {
	h.logger = logger
}

// SetTimeoutHandler sets the receiver of expired entries.
// It must be set before Run or Sweep is called.
func (h *Handler) SetTimeoutHandler(t TimeoutHandler) {
	h.timeouts = t
}

// Register records or replaces the pending entry for req.
func (h *Handler) Register(req command.Request, attempt int, deadline time.Time) {
	entry := &PendingEntry{
		CommandID:    req.ID,
		Attempt:      attempt,
		DispatchedAt: h.now(),
		Deadline:     deadline,
		Request:      req.Clone(),
	}

	h.mu.Lock()
	h.pending[req.ID] = entry
	n := len(h.pending)
	h.mu.Unlock()

	metrics.SetPendingAcks(n)
}

// Remove drops the entry for id. Returns false if none was pending.
func (h *Handler) Remove(id string) bool {
	_, err := h.take(id, 0)
	return err == nil
}

// take removes the entry for id when attempt matches (0 matches any).
func (h *Handler) take(id string, attempt int) (*PendingEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.pending[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", command.ErrUnknownCommand, id)
	}
	if attempt != 0 && attempt != entry.Attempt {
		return nil, fmt.Errorf("%w: %s attempt %d, pending attempt %d", command.ErrStaleAck, id, attempt, entry.Attempt)
	}
	delete(h.pending, id)
	metrics.SetPendingAcks(len(h.pending))
	return entry, nil
}

// OnAck settles the pending entry matching ack.
//
// Returns:
//   - command.ErrUnknownCommand if no entry is pending for the ID
//   - command.ErrStaleAck if the ack names a superseded attempt (the entry is kept)
//   - a store error if persisting the outcome failed; the entry is then
//     restored with its original deadline so a redelivered ack or the
//     sweep can still settle the command
func (h *Handler) OnAck(ctx context.Context, ack command.Ack) error {
	entry, err := h.take(ack.CommandID, ack.Attempt)
	if err != nil {
		return err
	}
	if err := h.settle(ctx, entry, ack); err != nil {
		if !errors.Is(err, command.ErrTerminal) && !errors.Is(err, command.ErrNotFound) {
			h.restore(entry)
		}
		return err
	}
	return nil
}

// restore puts entry back unless a newer attempt registered meanwhile.
func (h *Handler) restore(entry *PendingEntry) {
	h.mu.Lock()
	if _, ok := h.pending[entry.CommandID]; !ok {
		h.pending[entry.CommandID] = entry
	}
	n := len(h.pending)
	h.mu.Unlock()

	metrics.SetPendingAcks(n)
	h.logger.Warn("ack not recorded, command left pending",
		"command_id", entry.CommandID, "attempt", entry.Attempt, "deadline", entry.Deadline)
}

func (h *Handler) settle(ctx context.Context, entry *PendingEntry, ack command.Ack) error {

	req := entry.Request
	req.AttemptCount = entry.Attempt

	if _, err := h.store.PutStatus(ctx, req.ID, command.StatusAcknowledged, store.Detail{Attempt: entry.Attempt}); err != nil {
		return fmt.Errorf("recording ack for %s: %w", req.ID, err)
	}
	h.bus.Publish(command.NewEvent(command.EventAcked, req, ackDetail(ack)))

	receivedAt := ack.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = h.now()
	}

	if ack.Accepted {
		result := &command.Result{
			Success:     true,
			Response:    ack.Payload,
			CompletedAt: receivedAt,
			Attempts:    entry.Attempt,
		}
		if _, err := h.store.PutStatus(ctx, req.ID, command.StatusCompleted, store.Detail{Result: result}); err != nil {
			return fmt.Errorf("completing %s: %w", req.ID, err)
		}
		h.bus.Publish(command.NewEvent(command.EventCompleted, req, ""))
		h.logger.Debug("command acknowledged", "command_id", req.ID, "attempt", entry.Attempt,
			"latency", receivedAt.Sub(entry.DispatchedAt))
		return nil
	}

	reason := ack.Error
	if reason == "" {
		reason = "rejected by device"
	}
	result := &command.Result{
		Success:     false,
		Response:    ack.Payload,
		Error:       reason,
		CompletedAt: receivedAt,
		Attempts:    entry.Attempt,
	}
	if _, err := h.store.PutStatus(ctx, req.ID, command.StatusFailed, store.Detail{Error: reason, Result: result}); err != nil {
		return fmt.Errorf("failing %s: %w", req.ID, err)
	}
	h.bus.Publish(command.NewEvent(command.EventFailed, req, reason))
	h.logger.Info("command rejected by device", "command_id", req.ID, "attempt", entry.Attempt, "error", reason)
	return nil
}

func ackDetail(ack command.Ack) string {
	if ack.Accepted {
		return "accepted"
	}
	return "rejected"
}

// Sweep removes entries whose deadline is at or before now and hands each
// to the TimeoutHandler. It returns the number of expired entries.
func (h *Handler) Sweep(ctx context.Context, now time.Time) int {
	h.mu.Lock()
	var expired []*PendingEntry
	for id, entry := range h.pending {
		if !entry.Deadline.After(now) {
			expired = append(expired, entry)
			delete(h.pending, id)
		}
	}
	n := len(h.pending)
	h.mu.Unlock()

	if len(expired) == 0 {
		return 0
	}
	metrics.SetPendingAcks(n)

	sort.Slice(expired, func(i, j int) bool { return expired[i].Deadline.Before(expired[j].Deadline) })
	for _, entry := range expired {
		h.logger.Debug("ack deadline passed", "command_id", entry.CommandID, "attempt", entry.Attempt)
		if h.timeouts == nil {
			continue
		}
		req := entry.Request
		req.AttemptCount = entry.Attempt
		h.timeouts.HandleAckTimeout(ctx, req, entry.Attempt)
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done.
func (h *Handler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.Sweep(ctx, h.now())
		}
	}
}

// Pending returns the number of commands awaiting acknowledgement.
func (h *Handler) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// Entries returns a snapshot of the pending table ordered by deadline.
func (h *Handler) Entries() []PendingEntry {
	h.mu.Lock()
	out := make([]PendingEntry, 0, len(h.pending))
	for _, e := range h.pending {
		out = append(out, *e)
	}
	h.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	return out
}
