package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-dispatch/internal/command"
)

// DefaultBuffer is the channel size used when Subscribe is given zero.
const DefaultBuffer = 64

// Filter selects events for a subscription. Zero fields match everything.
type Filter struct {
	Types     []command.EventType
	CommandID string
	DeviceID  string
}

// Match reports whether ev passes the filter.
func (f Filter) Match(ev command.Event) bool {
	if f.CommandID != "" && ev.CommandID != f.CommandID {
		return false
	}
	if f.DeviceID != "" && ev.DeviceID != f.DeviceID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == ev.Type {
			return true
		}
	}
	return false
}

// Subscription receives events matching its filter.
type Subscription struct {
	bus     *Bus
	filter  Filter
	ch      chan command.Event
	dropped atomic.Uint64
	closed  bool
}

// C returns the event channel. It is closed when the subscription or the
// bus is closed.
func (s *Subscription) C() <-chan command.Event {
	return s.ch
}

// Dropped returns how many events did not fit in the buffer.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.remove(s)
}

// Bus fans events out to subscribers.
//
// Thread Safety:
//   - Publish, Subscribe and Close may be called concurrently.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a subscriber with the given buffer size.
// Subscribing to a closed bus returns an already closed subscription.
func (b *Bus) Subscribe(filter Filter, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &Subscription{bus: b, filter: filter, ch: make(chan command.Event, buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish delivers ev to every matching subscriber without blocking.
func (b *Bus) Publish(ev command.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	b.published.Add(1)
	for sub := range b.subs {
		if !sub.filter.Match(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	delete(b.subs, sub)
	close(sub.ch)
}

// SubscriberCount returns the number of open subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Published returns the number of events published.
func (b *Bus) Published() uint64 { return b.published.Load() }

// Dropped returns the number of deliveries dropped across all subscribers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close closes every subscription. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.closed = true
		close(sub.ch)
	}
	b.subs = make(map[*Subscription]struct{})
}
