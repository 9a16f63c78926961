package adapter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-dispatch/internal/command"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/metrics"
)

// Registry maps protocol names to adapters and counts sends per adapter.
//
// Thread Safety: read-mostly; lookups take a read lock only.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]*entry
	logger   Logger
}

type entry struct {
	adapter    Adapter
	dispatched atomic.Uint64
	succeeded  atomic.Uint64
	failed     atomic.Uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]*entry),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register adds an adapter under its protocol name.
func (r *Registry) Register(a Adapter) error {
	protocol := a.Protocol()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.adapters[protocol]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, protocol)
	}
	r.adapters[protocol] = &entry{adapter: a}
	r.logger.Info("adapter registered", "protocol", protocol)
	return nil
}

// Unregister removes and stops the adapter for protocol.
// Returns false if none was registered.
func (r *Registry) Unregister(protocol string) bool {
	r.mu.Lock()
	e, ok := r.adapters[protocol]
	delete(r.adapters, protocol)
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.stop(protocol, e.adapter)
	return true
}

// Get returns the adapter for protocol.
// Returns command.ErrUnknownProtocol if none is registered.
func (r *Registry) Get(protocol string) (Adapter, error) {
	e, err := r.lookup(protocol)
	if err != nil {
		return nil, err
	}
	return e.adapter, nil
}

func (r *Registry) lookup(protocol string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.adapters[protocol]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", command.ErrUnknownProtocol, protocol)
	}
	return e, nil
}

// Protocols returns the registered protocol names in sorted order.
func (r *Registry) Protocols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Has reports whether an adapter is registered for protocol.
func (r *Registry) Has(protocol string) bool {
	_, err := r.lookup(protocol)
	return err == nil
}

// Send resolves the adapter for protocol and delivers d through it.
func (r *Registry) Send(ctx context.Context, protocol string, d Dispatch) (Outcome, error) {
	e, err := r.lookup(protocol)
	if err != nil {
		return Outcome{}, err
	}

	e.dispatched.Add(1)
	start := time.Now()
	out, err := e.adapter.Send(ctx, d)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		e.failed.Add(1)
		metrics.ObserveSend(protocol, metrics.SendError, elapsed)
	case out.Confirmed:
		e.succeeded.Add(1)
		metrics.ObserveSend(protocol, metrics.SendConfirmed, elapsed)
	default:
		e.succeeded.Add(1)
		metrics.ObserveSend(protocol, metrics.SendUnconfirmed, elapsed)
	}
	return out, err
}

// Stats returns per-adapter counters ordered by protocol.
func (r *Registry) Stats() []command.AdapterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]command.AdapterStats, 0, len(r.adapters))
	for p, e := range r.adapters {
		out = append(out, command.AdapterStats{
			Protocol:   p,
			Dispatched: e.dispatched.Load(),
			Succeeded:  e.succeeded.Load(),
			Failed:     e.failed.Load(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Protocol < out[j].Protocol })
	return out
}

// Close stops and removes every adapter.
func (r *Registry) Close() error {
	r.mu.Lock()
	adapters := r.adapters
	r.adapters = make(map[string]*entry)
	r.mu.Unlock()

	var errs []error
	for p, e := range adapters {
		if err := r.stop(p, e.adapter); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) stop(protocol string, a Adapter) error {
	s, ok := a.(Stopper)
	if !ok {
		return nil
	}
	if err := s.Stop(); err != nil {
		r.logger.Warn("adapter stop failed", "protocol", protocol, "error", err)
		return fmt.Errorf("stopping %s adapter: %w", protocol, err)
	}
	return nil
}
