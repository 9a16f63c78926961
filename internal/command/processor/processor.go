package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-dispatch/internal/adapter"
	"github.com/nerrad567/gray-logic-dispatch/internal/command"
	"github.com/nerrad567/gray-logic-dispatch/internal/command/store"
	"github.com/nerrad567/gray-logic-dispatch/internal/device"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/metrics"
)

// Defaults applied to a zero Config.
const (
	DefaultWorkers     = 4
	DefaultSendTimeout = 10 * time.Second

	// DefaultStateRetryDelay is the wait before a command whose status
	// write failed is put back in the queue.
	DefaultStateRetryDelay = time.Second
)

// Queue is the source of commands to dispatch. *queue.Queue satisfies it.
type Queue interface {
	Dequeue(ctx context.Context) (command.Request, error)
	EnqueueThen(req command.Request, then func(command.Request)) (command.Request, error)
}

// Store persists status transitions. *store.Store satisfies it.
type Store interface {
	PutStatus(ctx context.Context, id string, status command.Status, d store.Detail) (*command.Record, error)
	PutStatusFrom(ctx context.Context, id string, from []command.Status, status command.Status, d store.Detail) (*command.Record, error)
}

// Sender delivers a dispatch through the adapter for a protocol.
// *adapter.Registry satisfies it.
type Sender interface {
	Send(ctx context.Context, protocol string, d adapter.Dispatch) (adapter.Outcome, error)
}

// AckRegistrar tracks unconfirmed sends. *ack.Handler satisfies it.
type AckRegistrar interface {
	Register(req command.Request, attempt int, deadline time.Time)
}

// Publisher broadcasts lifecycle events. *eventbus.Bus satisfies it.
type Publisher interface {
	Publish(ev command.Event)
}

// Logger defines the logging interface used by the processor.
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

// Config controls the dispatch loop.
type Config struct {
	// Workers is the number of concurrent dispatch workers.
	Workers int
	// SendTimeout bounds a single adapter send.
	SendTimeout time.Duration
	// StateRetryDelay is how long a command waits before re-entering the
	// queue after the store refused a status write.
	StateRetryDelay time.Duration
}

// Stats counts processor decisions since start.
type Stats struct {
	Dispatched     uint64 `json:"dispatched"`
	Completed      uint64 `json:"completed"`
	AwaitingAck    uint64 `json:"awaiting_ack"`
	Failed         uint64 `json:"failed"`
	Retried        uint64 `json:"retried"`
	Expired        uint64 `json:"expired"`
	PendingRetries int    `json:"pending_retries"`
}

// Processor dispatches queued commands and decides retries.
//
// Thread Safety: Dispatch, HandleFailure and HandleAckTimeout are safe
// for concurrent use; Run may be called once.
type Processor struct {
	queue    Queue
	store    Store
	adapters Sender
	devices  device.Resolver
	acks     AckRegistrar
	bus      Publisher
	cfg      Config
	logger   Logger
	now      func() time.Time

	timersMu sync.Mutex
	timers   map[string]*time.Timer
	stopped  bool

	dispatched  atomic.Uint64
	completed   atomic.Uint64
	awaitingAck atomic.Uint64
	failed      atomic.Uint64
	retried     atomic.Uint64
	expired     atomic.Uint64
}

// New creates a processor.
//
// Parameters:
//   - q: queue the workers drain
//   - st: state store, the authority for command status
//   - adapters: protocol adapters
//   - devices: resolves device IDs to protocol and address
//   - acks: pending-ack table for unconfirmed sends
//   - bus: lifecycle event bus
//   - cfg: worker count and send timeout
func New(q Queue, st Store, adapters Sender, devices device.Resolver, acks AckRegistrar, bus Publisher, cfg Config) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.StateRetryDelay <= 0 {
		cfg.StateRetryDelay = DefaultStateRetryDelay
	}
	return &Processor{
		queue:    q,
		store:    st,
		adapters: adapters,
		devices:  devices,
		acks:     acks,
		bus:      bus,
		cfg:      cfg,
		logger:   noopLogger{},
		now:      func() time.Time { return time.Now().UTC() },
		timers:   make(map[string]*time.Timer),
	}
}

// SetLogger sets the logger for the processor.
func (p *Processor) SetLogger(logger Logger) {
	p.logger = logger
}

// Run starts the workers and blocks until ctx is cancelled or a worker
// fails. Pending retry timers are stopped before Run returns.
func (p *Processor) Run(ctx context.Context) error {
	p.logger.Info("command processor started", "workers", p.cfg.Workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			return p.worker(gctx, worker)
		})
	}
	err := g.Wait()

	stopped := p.stopTimers()
	p.logger.Info("command processor stopped", "pending_retries_stopped", stopped)
	return err
}

func (p *Processor) worker(ctx context.Context, id int) error {
	for {
		req, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("worker %d: %w", id, err)
		}
		p.Dispatch(ctx, req)
	}
}

// Dispatch sends one attempt of req and records the outcome.
func (p *Processor) Dispatch(ctx context.Context, req command.Request) {
	attempt := req.AttemptCount + 1
	if attempt > req.RetryPolicy.MaxAttempts {
		p.finish(ctx, req, command.StatusFailed, "attempts exhausted")
		return
	}
	req.AttemptCount = attempt

	if _, err := p.store.PutStatus(ctx, req.ID, command.StatusDispatched, store.Detail{Attempt: attempt}); err != nil {
		if errors.Is(err, command.ErrTerminal) {
			p.logger.Debug("command settled before dispatch", "command_id", req.ID, "error", err)
			return
		}
		// Nothing was sent; the attempt does not count.
		p.logger.Error("recording dispatch failed, will requeue",
			"command_id", req.ID, "delay", p.cfg.StateRetryDelay, "error", err)
		req.AttemptCount = attempt - 1
		p.schedule(req, p.cfg.StateRetryDelay)
		return
	}
	p.dispatched.Add(1)
	p.bus.Publish(command.NewEvent(command.EventDispatched, req, ""))

	target, err := p.devices.Resolve(ctx, req.DeviceID)
	if err != nil {
		p.HandleFailure(ctx, req, err)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
	out, err := p.adapters.Send(sendCtx, target.Protocol, adapter.NewDispatch(req, target))
	cancel()
	if err != nil {
		p.HandleFailure(ctx, req, err)
		return
	}

	if out.Confirmed {
		p.complete(ctx, req, out.Response)
		return
	}

	p.acks.Register(req, attempt, p.now().Add(req.RetryPolicy.AttemptTimeout))
	_, err = p.store.PutStatusFrom(ctx, req.ID,
		[]command.Status{command.StatusDispatched}, command.StatusAwaitingAck, store.Detail{})
	switch {
	case err == nil:
		p.awaitingAck.Add(1)
	case errors.Is(err, command.ErrTerminal), errors.Is(err, store.ErrConflict):
		// The ack (or its deadline) got there first.
		p.logger.Debug("ack settled before awaiting_ack", "command_id", req.ID)
	default:
		p.logger.Error("recording awaiting_ack failed", "command_id", req.ID, "error", err)
	}
}

func (p *Processor) complete(ctx context.Context, req command.Request, response any) {
	result := &command.Result{
		Success:     true,
		CompletedAt: p.now(),
		Attempts:    req.AttemptCount,
	}
	if response != nil {
		raw, err := json.Marshal(response)
		if err != nil {
			p.logger.Warn("discarding unencodable response", "command_id", req.ID, "error", err)
		} else {
			result.Response = raw
		}
	}

	if _, err := p.store.PutStatus(ctx, req.ID, command.StatusCompleted, store.Detail{Result: result}); err != nil {
		p.logger.Error("recording completion failed", "command_id", req.ID, "error", err)
		return
	}
	p.completed.Add(1)
	p.bus.Publish(command.NewEvent(command.EventCompleted, req, ""))
}

// HandleFailure decides between retry and failure after a failed attempt.
//
// Retryable errors with attempts remaining move the command to retrying
// and schedule a re-enqueue after the backoff delay. Anything else fails
// the command.
func (p *Processor) HandleFailure(ctx context.Context, req command.Request, err error) {
	p.handle(ctx, req, err, command.StatusFailed)
}

// HandleAckTimeout treats a missed ack deadline as a timeout of the
// attempt. Exhausting attempts this way expires the command.
func (p *Processor) HandleAckTimeout(ctx context.Context, req command.Request, attempt int) {
	req.AttemptCount = attempt
	err := adapter.NewError(adapter.KindTimeout, "", fmt.Errorf("no ack within %s", req.RetryPolicy.AttemptTimeout))
	p.handle(ctx, req, err, command.StatusExpired)
}

func (p *Processor) handle(ctx context.Context, req command.Request, cause error, exhausted command.Status) {
	reason := cause.Error()

	if !adapter.Retryable(cause) {
		p.finish(ctx, req, command.StatusFailed, reason)
		return
	}
	if !req.AttemptsRemaining() {
		p.finish(ctx, req, exhausted, reason)
		return
	}

	delay := req.RetryPolicy.Delay(req.AttemptCount)
	if _, err := p.store.PutStatus(ctx, req.ID, command.StatusRetrying, store.Detail{Attempt: req.AttemptCount, Error: reason}); err != nil {
		if !errors.Is(err, command.ErrTerminal) {
			p.logger.Error("recording retry failed", "command_id", req.ID, "error", err)
		}
		return
	}
	p.retried.Add(1)
	metrics.IncRetry()
	p.bus.Publish(command.NewEvent(command.EventRetried, req, reason))
	p.logger.Info("command retry scheduled",
		"command_id", req.ID,
		"attempt", req.AttemptCount,
		"max_attempts", req.RetryPolicy.MaxAttempts,
		"delay", delay,
		"error", reason,
	)

	p.schedule(req, delay)
}

// finish moves req to a terminal status and publishes the matching event.
func (p *Processor) finish(ctx context.Context, req command.Request, status command.Status, reason string) {
	if _, err := p.store.PutStatus(ctx, req.ID, status, store.Detail{Attempt: req.AttemptCount, Error: reason}); err != nil {
		if !errors.Is(err, command.ErrTerminal) {
			p.logger.Error("recording terminal status failed", "command_id", req.ID, "status", status, "error", err)
		}
		return
	}

	evType, _ := command.TerminalEvent(status)
	if status == command.StatusExpired {
		p.expired.Add(1)
	} else {
		p.failed.Add(1)
	}
	p.bus.Publish(command.NewEvent(evType, req, reason))
	p.logger.Warn("command "+string(status), "command_id", req.ID, "attempts", req.AttemptCount, "error", reason)
}

// =============================================================================
// Retry Timers
// =============================================================================

func (p *Processor) schedule(req command.Request, delay time.Duration) {
	p.timersMu.Lock()
	defer p.timersMu.Unlock()

	if p.stopped {
		return
	}
	if old, ok := p.timers[req.ID]; ok {
		old.Stop()
	}
	p.timers[req.ID] = time.AfterFunc(delay, func() {
		p.timersMu.Lock()
		delete(p.timers, req.ID)
		stopped := p.stopped
		p.timersMu.Unlock()
		if !stopped {
			p.requeue(req)
		}
	})
}

// requeue returns a retrying command (or a queued one whose dispatch
// could not be recorded) to the queue, unless something else (a cancel)
// moved it on meanwhile. A failed store write is retried after
// StateRetryDelay.
func (p *Processor) requeue(req command.Request) {
	ctx := context.Background()

	_, err := p.store.PutStatusFrom(ctx, req.ID,
		[]command.Status{command.StatusRetrying, command.StatusQueued}, command.StatusQueued, store.Detail{})
	if err != nil {
		if errors.Is(err, command.ErrTerminal) || errors.Is(err, store.ErrConflict) {
			p.logger.Debug("retry abandoned", "command_id", req.ID, "error", err)
			return
		}
		p.logger.Error("recording requeue failed, will try again",
			"command_id", req.ID, "delay", p.cfg.StateRetryDelay, "error", err)
		p.schedule(req, p.cfg.StateRetryDelay)
		return
	}

	_, err = p.queue.EnqueueThen(req, func(admitted command.Request) {
		p.bus.Publish(command.NewEvent(command.EventEnqueued, admitted, "retry"))
	})
	switch {
	case err == nil:
	case errors.Is(err, command.ErrDuplicateID):
		p.logger.Debug("command already queued", "command_id", req.ID)
	default:
		p.finish(ctx, req, command.StatusFailed, fmt.Sprintf("re-enqueue after backoff: %v", err))
	}
}

// CancelRetry stops a pending retry timer. Returns false if none was pending.
func (p *Processor) CancelRetry(id string) bool {
	p.timersMu.Lock()
	defer p.timersMu.Unlock()

	t, ok := p.timers[id]
	if !ok {
		return false
	}
	t.Stop()
	delete(p.timers, id)
	return true
}

func (p *Processor) stopTimers() int {
	p.timersMu.Lock()
	defer p.timersMu.Unlock()

	p.stopped = true
	n := 0
	for id, t := range p.timers {
		if t.Stop() {
			n++
		}
		delete(p.timers, id)
	}
	return n
}

// Stats returns the processor counters.
func (p *Processor) Stats() Stats {
	p.timersMu.Lock()
	pending := len(p.timers)
	p.timersMu.Unlock()

	return Stats{
		Dispatched:     p.dispatched.Load(),
		Completed:      p.completed.Load(),
		AwaitingAck:    p.awaitingAck.Load(),
		Failed:         p.failed.Load(),
		Retried:        p.retried.Load(),
		Expired:        p.expired.Load(),
		PendingRetries: pending,
	}
}
