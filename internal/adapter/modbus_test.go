package adapter

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/goburrow/modbus"

	"github.com/nerrad567/gray-logic-dispatch/internal/command"
	"github.com/nerrad567/gray-logic-dispatch/internal/device"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/config"
)

// fakeModbus records writes and returns a scripted error.
type fakeModbus struct {
	mu     sync.Mutex
	writes []string
	addr   uint16
	value  uint16
	values []byte
	err    error
	block  chan struct{}
}

func (f *fakeModbus) record(fn string, addr, value uint16, values []byte) ([]byte, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, fn)
	f.addr, f.value, f.values = addr, value, values
	if f.err != nil {
		return nil, f.err
	}
	return []byte{byte(addr >> 8), byte(addr)}, nil
}

func (f *fakeModbus) WriteSingleCoil(address, value uint16) ([]byte, error) {
	return f.record("coil", address, value, nil)
}

func (f *fakeModbus) WriteSingleRegister(address, value uint16) ([]byte, error) {
	return f.record("register", address, value, nil)
}

func (f *fakeModbus) WriteMultipleRegisters(address, _ uint16, value []byte) ([]byte, error) {
	return f.record("registers", address, 0, value)
}

// newTestModbus returns an adapter whose dialer hands out fake.
func newTestModbus(fake *fakeModbus, dialErr error) (*ModbusAdapter, *[]modbusEndpoint) {
	a := NewModbus(config.ModbusConfig{Mode: "tcp", TCPHost: "127.0.0.1", TCPPort: 1502, UnitID: 1})
	var mu sync.Mutex
	var dialed []modbusEndpoint
	a.dial = func(ep modbusEndpoint, _ time.Duration, _ config.ModbusConfig) (*modbusConn, error) {
		mu.Lock()
		dialed = append(dialed, ep)
		mu.Unlock()
		if dialErr != nil {
			return nil, dialErr
		}
		return &modbusConn{client: fake, close: func() error { return nil }}, nil
	}
	return a, &dialed
}

func modbusDispatch(cmd string, addr device.Address, params command.Parameters) Dispatch {
	return Dispatch{
		CommandID:   "cmd-mb",
		DeviceID:    "pump1",
		CommandName: cmd,
		Parameters:  params,
		Attempt:     1,
		Target:      device.Device{ID: "pump1", Protocol: device.ProtocolModbus, Address: addr, Enabled: true},
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestModbusAdapter_Commands(t *testing.T) {
	tests := []struct {
		name      string
		dispatch  Dispatch
		wantWrite string
		wantAddr  uint16
		wantValue uint16
	}{
		{
			name:      "turn_on",
			dispatch:  modbusDispatch(CommandTurnOn, device.Address{"coil": 4}, nil),
			wantWrite: "coil", wantAddr: 4, wantValue: coilOn,
		},
		{
			name:      "turn_off",
			dispatch:  modbusDispatch(CommandTurnOff, device.Address{"coil": 4}, nil),
			wantWrite: "coil", wantAddr: 4, wantValue: coilOff,
		},
		{
			name: "write_coil with parameter address",
			dispatch: modbusDispatch(CommandWriteCoil, nil, command.Parameters{
				{Name: "coil", Value: command.Int(9)},
				{Name: "value", Value: command.Bool(true)},
			}),
			wantWrite: "coil", wantAddr: 9, wantValue: coilOn,
		},
		{
			name: "set_register",
			dispatch: modbusDispatch(CommandSetRegister, device.Address{"register": 40}, command.Parameters{
				{Name: "value", Value: command.Int(1234)},
			}),
			wantWrite: "register", wantAddr: 40, wantValue: 1234,
		},
		{
			name: "write_registers",
			dispatch: modbusDispatch(CommandWriteRegisters, device.Address{"register": 100}, command.Parameters{
				{Name: "values", Value: command.Binary([]byte{0, 1, 0, 2})},
			}),
			wantWrite: "registers", wantAddr: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeModbus{}
			a, _ := newTestModbus(fake, nil)

			out, err := a.Send(context.Background(), tt.dispatch)
			if err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			if !out.Confirmed {
				t.Error("Modbus writes must be confirmed")
			}
			if len(fake.writes) != 1 || fake.writes[0] != tt.wantWrite {
				t.Fatalf("writes = %v, want [%s]", fake.writes, tt.wantWrite)
			}
			if fake.addr != tt.wantAddr || fake.value != tt.wantValue {
				t.Errorf("wrote addr=%d value=%#x, want addr=%d value=%#x", fake.addr, fake.value, tt.wantAddr, tt.wantValue)
			}
		})
	}
}

func TestModbusAdapter_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name     string
		dispatch Dispatch
	}{
		{"unsupported command", modbusDispatch("dance", device.Address{"coil": 1}, nil)},
		{"missing coil", modbusDispatch(CommandTurnOn, nil, nil)},
		{"set_register without value", modbusDispatch(CommandSetRegister, device.Address{"register": 1}, nil)},
		{"register value out of range", modbusDispatch(CommandSetRegister, device.Address{"register": 1},
			command.Parameters{{Name: "value", Value: command.Int(70000)}})},
		{"odd register payload", modbusDispatch(CommandWriteRegisters, device.Address{"register": 1},
			command.Parameters{{Name: "values", Value: command.Binary([]byte{1, 2, 3})}})},
		{"unit out of range", modbusDispatch(CommandTurnOn, device.Address{"coil": 1, "unit_id": 300}, nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeModbus{}
			a, _ := newTestModbus(fake, nil)

			_, err := a.Send(context.Background(), tt.dispatch)
			if KindOf(err) != KindConfiguration {
				t.Errorf("Send() error = %v, want configuration", err)
			}
			if Retryable(err) {
				t.Error("configuration errors must not be retryable")
			}
			if len(fake.writes) != 0 {
				t.Errorf("writes = %v, want none", fake.writes)
			}
		})
	}
}

// =============================================================================
// Error Classification Tests
// =============================================================================

func TestModbusAdapter_Exceptions(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantKind  Kind
		retryable bool
	}{
		{"device busy", &modbus.ModbusError{FunctionCode: 5, ExceptionCode: modbus.ExceptionCodeServerDeviceBusy}, KindCommunication, true},
		{"illegal address", &modbus.ModbusError{FunctionCode: 5, ExceptionCode: modbus.ExceptionCodeIllegalDataAddress}, KindCommunication, false},
		{"io timeout", &net.OpError{Op: "read", Net: "tcp", Err: timeoutErr{}}, KindTimeout, true},
		{"connection reset", errors.New("unexpected EOF"), KindCommunication, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeModbus{err: tt.err}
			a, _ := newTestModbus(fake, nil)

			_, err := a.Send(context.Background(), modbusDispatch(CommandTurnOn, device.Address{"coil": 1}, nil))
			if KindOf(err) != tt.wantKind {
				t.Errorf("Send() error = %v, want kind %s", err, tt.wantKind)
			}
			if Retryable(err) != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", Retryable(err), tt.retryable)
			}
		})
	}
}

// timeoutErr is a net.Error reporting a timeout.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestModbusAdapter_DialFailure(t *testing.T) {
	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	a, _ := newTestModbus(&fakeModbus{}, dialErr)

	_, err := a.Send(context.Background(), modbusDispatch(CommandTurnOn, device.Address{"coil": 1}, nil))
	if KindOf(err) != KindConnection || !Retryable(err) {
		t.Errorf("Send() error = %v, want retryable connection error", err)
	}
}

func TestModbusAdapter_ContextDeadline(t *testing.T) {
	fake := &fakeModbus{block: make(chan struct{})}
	defer close(fake.block)
	a, _ := newTestModbus(fake, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := a.Send(ctx, modbusDispatch(CommandTurnOn, device.Address{"coil": 1}, nil))
	if KindOf(err) != KindTimeout {
		t.Errorf("Send() error = %v, want timeout", err)
	}
}

// gatedDialer blocks dials to one host until release is closed.
type gatedDialer struct {
	slowHost string
	release  chan struct{}
	fake     *fakeModbus

	mu    sync.Mutex
	dials map[string]int
}

func (g *gatedDialer) dial(ep modbusEndpoint, _ time.Duration, _ config.ModbusConfig) (*modbusConn, error) {
	g.mu.Lock()
	g.dials[ep.address]++
	g.mu.Unlock()
	if host, _, _ := net.SplitHostPort(ep.address); host == g.slowHost {
		<-g.release
	}
	return &modbusConn{client: g.fake, close: func() error { return nil }}, nil
}

func (g *gatedDialer) count(addr string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dials[addr]
}

func TestModbusAdapter_SlowDialDoesNotBlockOtherEndpoints(t *testing.T) {
	g := &gatedDialer{slowHost: "10.0.0.9", release: make(chan struct{}), fake: &fakeModbus{}, dials: map[string]int{}}
	a, _ := newTestModbus(g.fake, nil)
	a.dial = g.dial

	slow := device.Address{"coil": 1, "host": "10.0.0.9"}
	slowDone := make(chan error, 1)
	go func() {
		_, err := a.Send(context.Background(), modbusDispatch(CommandTurnOn, slow, nil))
		slowDone <- err
	}()
	time.Sleep(20 * time.Millisecond)

	fastDone := make(chan error, 1)
	go func() {
		_, err := a.Send(context.Background(), modbusDispatch(CommandTurnOn, device.Address{"coil": 1}, nil))
		fastDone <- err
	}()
	select {
	case err := <-fastDone:
		if err != nil {
			t.Fatalf("Send() to healthy endpoint error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Send() to healthy endpoint waited on another endpoint's dial")
	}

	close(g.release)
	select {
	case err := <-slowDone:
		if err != nil {
			t.Errorf("Send() to slow endpoint error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("slow Send() did not finish after dial released")
	}
}

func TestModbusAdapter_DialHonorsContext(t *testing.T) {
	g := &gatedDialer{slowHost: "127.0.0.1", release: make(chan struct{}), fake: &fakeModbus{}, dials: map[string]int{}}
	a, _ := newTestModbus(g.fake, nil)
	a.dial = g.dial
	d := modbusDispatch(CommandTurnOn, device.Address{"coil": 1}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := a.Send(ctx, d)
	if KindOf(err) != KindTimeout {
		t.Fatalf("Send() error = %v, want timeout", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Send() returned after %v, want it to stop at the deadline", elapsed)
	}

	// The abandoned dial completes and is reused.
	close(g.release)
	deadline := time.Now().Add(time.Second)
	for {
		a.mu.Lock()
		n := len(a.conns)
		a.mu.Unlock()
		if n == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := a.Send(context.Background(), d); err != nil {
		t.Fatalf("Send() after dial completed error = %v", err)
	}
	if n := g.count("127.0.0.1:1502"); n != 1 {
		t.Errorf("dialed %d times, want 1", n)
	}
}

func TestModbusAdapter_ConcurrentSendsShareOneDial(t *testing.T) {
	g := &gatedDialer{slowHost: "127.0.0.1", release: make(chan struct{}), fake: &fakeModbus{}, dials: map[string]int{}}
	a, _ := newTestModbus(g.fake, nil)
	a.dial = g.dial

	const senders = 5
	var wg sync.WaitGroup
	errs := make(chan error, senders)
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Send(context.Background(), modbusDispatch(CommandTurnOn, device.Address{"coil": 1}, nil))
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(g.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Send() error = %v", err)
		}
	}
	if n := g.count("127.0.0.1:1502"); n != 1 {
		t.Errorf("dialed %d times, want 1", n)
	}
}

func TestModbusAdapter_StopDuringDial(t *testing.T) {
	closed := make(chan struct{})
	release := make(chan struct{})
	a, _ := newTestModbus(&fakeModbus{}, nil)
	a.dial = func(modbusEndpoint, time.Duration, config.ModbusConfig) (*modbusConn, error) {
		<-release
		return &modbusConn{client: &fakeModbus{}, close: func() error { close(closed); return nil }}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := a.Send(context.Background(), modbusDispatch(CommandTurnOn, device.Address{"coil": 1}, nil))
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	close(release)

	if err := <-done; KindOf(err) != KindStopped {
		t.Errorf("Send() error = %v, want stopped", err)
	}
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Error("connection dialed after Stop was not closed")
	}
}

// =============================================================================
// Endpoint Tests
// =============================================================================

func TestModbusAdapter_EndpointResolution(t *testing.T) {
	fake := &fakeModbus{}
	a, dialed := newTestModbus(fake, nil)
	ctx := context.Background()

	// Config defaults.
	if _, err := a.Send(ctx, modbusDispatch(CommandTurnOn, device.Address{"coil": 1}, nil)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	// Same endpoint reuses the connection.
	if _, err := a.Send(ctx, modbusDispatch(CommandTurnOff, device.Address{"coil": 1}, nil)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	// Device overrides.
	addr := device.Address{"coil": 1, "host": "10.0.0.5", "port": 5020, "unit_id": 7}
	if _, err := a.Send(ctx, modbusDispatch(CommandTurnOn, addr, nil)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if len(*dialed) != 2 {
		t.Fatalf("dialed %d endpoints, want 2", len(*dialed))
	}
	if got := (*dialed)[0].String(); got != "tcp://127.0.0.1:1502/1" {
		t.Errorf("default endpoint = %s", got)
	}
	if got := (*dialed)[1].String(); got != "tcp://10.0.0.5:5020/7" {
		t.Errorf("override endpoint = %s", got)
	}
}

func TestModbusAdapter_Stop(t *testing.T) {
	a, _ := newTestModbus(&fakeModbus{}, nil)
	if _, err := a.Send(context.Background(), modbusDispatch(CommandTurnOn, device.Address{"coil": 1}, nil)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	_, err := a.Send(context.Background(), modbusDispatch(CommandTurnOn, device.Address{"coil": 1}, nil))
	if KindOf(err) != KindStopped {
		t.Errorf("Send() after Stop error = %v, want stopped", err)
	}
}
