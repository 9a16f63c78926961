package eventbus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-dispatch/internal/command"
)

func event(t command.EventType, id, device string) command.Event {
	return command.Event{Type: t, CommandID: id, DeviceID: device}
}

func drain(sub *Subscription) []command.Event {
	var out []command.Event
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestPublish_FanOut(t *testing.T) {
	bus := New()
	a := bus.Subscribe(Filter{}, 8)
	b := bus.Subscribe(Filter{}, 8)

	bus.Publish(event(command.EventEnqueued, "c1", "fan1"))

	assert.Len(t, drain(a), 1)
	assert.Len(t, drain(b), 1)
	assert.Equal(t, uint64(1), bus.Published())
}

func TestFilter_Match(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		ev     command.Event
		want   bool
	}{
		{"empty matches", Filter{}, event(command.EventFailed, "c1", "fan1"), true},
		{"type match", Filter{Types: []command.EventType{command.EventCompleted, command.EventFailed}}, event(command.EventFailed, "c1", "fan1"), true},
		{"type miss", Filter{Types: []command.EventType{command.EventCompleted}}, event(command.EventRetried, "c1", "fan1"), false},
		{"command match", Filter{CommandID: "c1"}, event(command.EventAcked, "c1", "fan1"), true},
		{"command miss", Filter{CommandID: "c2"}, event(command.EventAcked, "c1", "fan1"), false},
		{"device miss", Filter{DeviceID: "pump1"}, event(command.EventAcked, "c1", "fan1"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(tt.ev))
		})
	}
}

func TestPublish_FilteredDelivery(t *testing.T) {
	bus := New()
	terminal := bus.Subscribe(Filter{Types: []command.EventType{command.EventCompleted}}, 8)

	bus.Publish(event(command.EventDispatched, "c1", "fan1"))
	bus.Publish(event(command.EventCompleted, "c1", "fan1"))

	got := drain(terminal)
	require.Len(t, got, 1)
	assert.Equal(t, command.EventCompleted, got[0].Type)
}

func TestPublish_NeverBlocks(t *testing.T) {
	bus := New()
	slow := bus.Subscribe(Filter{}, 2)
	fast := bus.Subscribe(Filter{}, 10)

	for i := 0; i < 5; i++ {
		bus.Publish(event(command.EventEnqueued, "c1", "fan1"))
	}

	assert.Equal(t, uint64(3), slow.Dropped())
	assert.Equal(t, uint64(0), fast.Dropped())
	assert.Equal(t, uint64(3), bus.Dropped())
	assert.Len(t, drain(slow), 2)
	assert.Len(t, drain(fast), 5)
}

func TestSubscription_Close(t *testing.T) {
	bus := New()
	sub := bus.Subscribe(Filter{}, 0)
	assert.Equal(t, 1, bus.SubscriberCount())

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, bus.SubscriberCount())

	_, ok := <-sub.C()
	assert.False(t, ok, "channel closed")

	bus.Publish(event(command.EventEnqueued, "c1", "fan1"))
}

func TestBus_Close(t *testing.T) {
	bus := New()
	sub := bus.Subscribe(Filter{}, 4)
	bus.Close()
	bus.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)
	sub.Close()

	late := bus.Subscribe(Filter{}, 4)
	_, ok = <-late.C()
	assert.False(t, ok, "subscription on closed bus is closed")

	bus.Publish(event(command.EventEnqueued, "c1", "fan1"))
	assert.Equal(t, uint64(0), bus.Published())
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	bus := New()
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(event(command.EventDispatched, "c", "fan1"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				sub := bus.Subscribe(Filter{}, 1)
				sub.Close()
			}
		}()
	}
	wg.Wait()
	bus.Close()

	assert.Equal(t, uint64(400), bus.Published())
	assert.Equal(t, 0, bus.SubscriberCount())
}
