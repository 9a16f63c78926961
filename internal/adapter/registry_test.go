package adapter

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-dispatch/internal/command"
)

// fakeAdapter records dispatches and returns a scripted outcome.
type fakeAdapter struct {
	protocol string

	mu      sync.Mutex
	sent    []Dispatch
	outcome Outcome
	err     error
	stopped bool
	stopErr error
}

func (f *fakeAdapter) Protocol() string { return f.protocol }

func (f *fakeAdapter) Send(_ context.Context, d Dispatch) (Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, d)
	return f.outcome, f.err
}

func (f *fakeAdapter) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return f.stopErr
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	a := &fakeAdapter{protocol: "mqtt"}

	if err := r.Register(a); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(&fakeAdapter{protocol: "mqtt"}); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("duplicate Register() error = %v, want ErrAlreadyRegistered", err)
	}

	got, err := r.Get("mqtt")
	if err != nil || got != a {
		t.Errorf("Get(mqtt) = %v, %v", got, err)
	}
	if _, err := r.Get("zigbee"); !errors.Is(err, command.ErrUnknownProtocol) {
		t.Errorf("Get(zigbee) error = %v, want ErrUnknownProtocol", err)
	}
	if !r.Has("mqtt") || r.Has("zigbee") {
		t.Error("Has() mismatch")
	}
}

func TestRegistry_Protocols(t *testing.T) {
	r := NewRegistry()
	for _, p := range []string{"modbus", "http", "mqtt"} {
		if err := r.Register(&fakeAdapter{protocol: p}); err != nil {
			t.Fatalf("Register(%s) error = %v", p, err)
		}
	}
	got := r.Protocols()
	want := []string{"http", "modbus", "mqtt"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Protocols() = %v, want %v", got, want)
		}
	}
}

func TestRegistry_SendCountsOutcomes(t *testing.T) {
	r := NewRegistry()
	ok := &fakeAdapter{protocol: "http", outcome: Outcome{Confirmed: true}}
	bad := &fakeAdapter{protocol: "mqtt", err: NewError(KindConnection, "mqtt", errors.New("down"))}
	r.Register(ok)  //nolint:errcheck // fresh registry
	r.Register(bad) //nolint:errcheck // fresh registry

	d := Dispatch{CommandID: "cmd-1", DeviceID: "fan1", CommandName: "turn_on", Attempt: 1}

	out, err := r.Send(context.Background(), "http", d)
	if err != nil || !out.Confirmed {
		t.Errorf("Send(http) = %+v, %v", out, err)
	}
	if _, err := r.Send(context.Background(), "mqtt", d); !Retryable(err) {
		t.Errorf("Send(mqtt) error = %v, want retryable", err)
	}
	if _, err := r.Send(context.Background(), "knx", d); !errors.Is(err, command.ErrUnknownProtocol) {
		t.Errorf("Send(knx) error = %v, want ErrUnknownProtocol", err)
	}

	stats := r.Stats()
	if len(stats) != 2 {
		t.Fatalf("Stats() = %d entries, want 2", len(stats))
	}
	if stats[0].Protocol != "http" || stats[0].Dispatched != 1 || stats[0].Succeeded != 1 {
		t.Errorf("http stats = %+v", stats[0])
	}
	if stats[1].Protocol != "mqtt" || stats[1].Dispatched != 1 || stats[1].Failed != 1 {
		t.Errorf("mqtt stats = %+v", stats[1])
	}
	if len(ok.sent) != 1 || ok.sent[0].CommandID != "cmd-1" {
		t.Errorf("adapter received %+v", ok.sent)
	}
}

func TestRegistry_UnregisterAndClose(t *testing.T) {
	r := NewRegistry()
	a := &fakeAdapter{protocol: "mqtt"}
	b := &fakeAdapter{protocol: "http", stopErr: errors.New("stuck")}
	r.Register(a) //nolint:errcheck // fresh registry
	r.Register(b) //nolint:errcheck // fresh registry

	if !r.Unregister("mqtt") {
		t.Error("Unregister(mqtt) = false, want true")
	}
	if !a.stopped {
		t.Error("Unregister should stop the adapter")
	}
	if r.Unregister("mqtt") {
		t.Error("second Unregister(mqtt) = true, want false")
	}

	if err := r.Close(); err == nil {
		t.Error("Close() error = nil, want stop error")
	}
	if !b.stopped {
		t.Error("Close should stop remaining adapters")
	}
	if len(r.Protocols()) != 0 {
		t.Errorf("Protocols() after Close = %v", r.Protocols())
	}
}
