package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/goburrow/modbus"
	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/gray-logic-dispatch/internal/command"
	"github.com/nerrad567/gray-logic-dispatch/internal/device"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/config"
)

// Modbus coil values for WriteSingleCoil.
const (
	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000

	defaultModbusPort    = 502
	defaultModbusTimeout = 3 * time.Second
	modbusIdleTimeout    = 60 * time.Second
	maxRegisterWrite     = 123
)

// Modbus command names.
const (
	CommandTurnOn         = "turn_on"
	CommandTurnOff        = "turn_off"
	CommandWriteCoil      = "write_coil"
	CommandSetRegister    = "set_register"
	CommandWriteRegisters = "write_registers"
)

// modbusWriter is the subset of modbus.Client used for commands.
type modbusWriter interface {
	WriteSingleCoil(address, value uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

// modbusEndpoint identifies one connection: a TCP host or a serial line,
// plus the unit (slave) ID.
type modbusEndpoint struct {
	network string // "tcp" or "rtu"
	address string
	unitID  byte
}

func (e modbusEndpoint) String() string {
	return e.network + "://" + e.address + "/" + strconv.Itoa(int(e.unitID))
}

type modbusConn struct {
	client modbusWriter
	close  func() error
}

// dialFunc opens a connection to an endpoint.
type dialFunc func(ep modbusEndpoint, timeout time.Duration, cfg config.ModbusConfig) (*modbusConn, error)

// ModbusAdapter writes coils and registers over Modbus TCP or RTU.
//
// Modbus writes are echoed by the device, so every successful send is a
// confirmed outcome. Connections are cached per endpoint.
type ModbusAdapter struct {
	cfg     config.ModbusConfig
	timeout time.Duration
	dial    dialFunc

	mu      sync.Mutex
	conns   map[modbusEndpoint]*modbusConn
	dials   singleflight.Group
	stopped atomic.Bool

	logger Logger
}

// NewModbus creates a Modbus adapter from configuration.
func NewModbus(cfg config.ModbusConfig) *ModbusAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultModbusTimeout
	}
	return &ModbusAdapter{
		cfg:     cfg,
		timeout: timeout,
		dial:    dialModbus,
		conns:   make(map[modbusEndpoint]*modbusConn),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the adapter.
func (a *ModbusAdapter) SetLogger(logger Logger) {
	a.logger = logger
}

// Protocol returns "modbus".
func (a *ModbusAdapter) Protocol() string { return device.ProtocolModbus }

// Send executes one command as a single Modbus write.
func (a *ModbusAdapter) Send(ctx context.Context, d Dispatch) (Outcome, error) {
	if a.stopped.Load() {
		return Outcome{}, NewError(KindStopped, a.Protocol(), ErrStopped)
	}

	op, err := planModbusWrite(d)
	if err != nil {
		return Outcome{}, NewError(KindConfiguration, a.Protocol(), err)
	}
	ep, err := a.endpoint(d.Target.Address)
	if err != nil {
		return Outcome{}, NewError(KindConfiguration, a.Protocol(), err)
	}

	conn, err := a.conn(ctx, ep)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, NewError(KindTimeout, a.Protocol(), err)
		}
		if errors.Is(err, ErrStopped) {
			return Outcome{}, NewError(KindStopped, a.Protocol(), err)
		}
		return Outcome{}, a.classify(err)
	}

	// goburrow has no context support; the handler timeout bounds the
	// write and ctx bounds how long the caller waits for it.
	type result struct {
		resp []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := op.run(conn.client)
		done <- result{resp, err}
	}()

	select {
	case <-ctx.Done():
		a.drop(ep)
		return Outcome{}, NewError(KindTimeout, a.Protocol(), ctx.Err())
	case r := <-done:
		if r.err != nil {
			if !isModbusException(r.err) {
				a.drop(ep)
			}
			return Outcome{}, a.classify(r.err)
		}
		a.logger.Debug("modbus write confirmed", "command_id", d.CommandID, "endpoint", ep.String(), "function", op.function)
		return Outcome{Confirmed: true, Response: op.response(r.resp)}, nil
	}
}

// Stop closes all cached connections.
func (a *ModbusAdapter) Stop() error {
	a.stopped.Store(true)

	a.mu.Lock()
	conns := a.conns
	a.conns = make(map[modbusEndpoint]*modbusConn)
	a.mu.Unlock()

	var errs []error
	for ep, c := range conns {
		if err := c.close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", ep, err))
		}
	}
	return errors.Join(errs...)
}

// endpoint resolves a device address against configured defaults.
func (a *ModbusAdapter) endpoint(addr device.Address) (modbusEndpoint, error) {
	unit := a.cfg.UnitID
	if u, ok := addr.Int("unit_id"); ok {
		unit = u
	}
	if unit < 0 || unit > 247 {
		return modbusEndpoint{}, fmt.Errorf("unit_id %d out of range", unit)
	}

	if a.cfg.Mode == "rtu" {
		dev := a.cfg.RTUDevice
		if d, ok := addr.String("device"); ok {
			dev = d
		}
		if dev == "" {
			return modbusEndpoint{}, errors.New("no serial device configured")
		}
		return modbusEndpoint{network: "rtu", address: dev, unitID: byte(unit)}, nil
	}

	host := a.cfg.TCPHost
	if h, ok := addr.String("host"); ok {
		host = h
	}
	if host == "" {
		return modbusEndpoint{}, errors.New("no modbus host configured")
	}
	port := a.cfg.TCPPort
	if p, ok := addr.Int("port"); ok {
		port = p
	}
	if port <= 0 {
		port = defaultModbusPort
	}
	return modbusEndpoint{
		network: "tcp",
		address: net.JoinHostPort(host, strconv.Itoa(port)),
		unitID:  byte(unit),
	}, nil
}

// conn returns the cached connection for ep, dialing it if needed.
// Concurrent callers for one endpoint share a single dial, and no lock is
// held while it runs, so a slow device never stalls sends to other
// endpoints. A caller whose ctx ends stops waiting; the dial finishes in
// the background and its connection is cached for the next send.
func (a *ModbusAdapter) conn(ctx context.Context, ep modbusEndpoint) (*modbusConn, error) {
	a.mu.Lock()
	c, ok := a.conns[ep]
	a.mu.Unlock()
	if ok {
		return c, nil
	}

	ch := a.dials.DoChan(ep.String(), func() (any, error) {
		c, err := a.dial(ep, a.timeout, a.cfg)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.stopped.Load() {
			c.close() //nolint:errcheck // adapter stopped mid-dial
			return nil, ErrStopped
		}
		if existing, ok := a.conns[ep]; ok {
			c.close() //nolint:errcheck // lost the race to another dial
			return existing, nil
		}
		a.conns[ep] = c
		return c, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*modbusConn), nil
	}
}

// drop closes and forgets a connection after a transport failure.
func (a *ModbusAdapter) drop(ep modbusEndpoint) {
	a.mu.Lock()
	c, ok := a.conns[ep]
	delete(a.conns, ep)
	a.mu.Unlock()
	if ok {
		c.close() //nolint:errcheck // best effort after a failed write
	}
}

// classify maps a Modbus or transport error onto an adapter error kind.
func (a *ModbusAdapter) classify(err error) *Error {
	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) {
		if mbErr.ExceptionCode == modbus.ExceptionCodeServerDeviceBusy {
			return NewTransientError(a.Protocol(), err)
		}
		return NewError(KindCommunication, a.Protocol(), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(KindTimeout, a.Protocol(), err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return NewError(KindConnection, a.Protocol(), err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return NewError(KindConnection, a.Protocol(), err)
	}
	return NewTransientError(a.Protocol(), err)
}

func isModbusException(err error) bool {
	var mbErr *modbus.ModbusError
	return errors.As(err, &mbErr)
}

// dialModbus builds a goburrow handler for ep and connects it.
func dialModbus(ep modbusEndpoint, timeout time.Duration, cfg config.ModbusConfig) (*modbusConn, error) {
	switch ep.network {
	case "rtu":
		h := modbus.NewRTUClientHandler(ep.address)
		h.BaudRate = cfg.RTUBaud
		if h.BaudRate == 0 {
			h.BaudRate = 9600
		}
		h.DataBits = 8
		h.Parity = "N"
		h.StopBits = 1
		h.SlaveId = ep.unitID
		h.Timeout = timeout
		if err := h.Connect(); err != nil {
			return nil, fmt.Errorf("opening %s: %w", ep.address, err)
		}
		return &modbusConn{client: modbus.NewClient(h), close: h.Close}, nil
	default:
		h := modbus.NewTCPClientHandler(ep.address)
		h.SlaveId = ep.unitID
		h.Timeout = timeout
		h.IdleTimeout = modbusIdleTimeout
		if err := h.Connect(); err != nil {
			return nil, fmt.Errorf("connecting %s: %w", ep.address, err)
		}
		return &modbusConn{client: modbus.NewClient(h), close: h.Close}, nil
	}
}

// =============================================================================
// Command Planning
// =============================================================================

// modbusWrite is a planned write derived from a command.
type modbusWrite struct {
	function string
	address  uint16
	value    uint16
	values   []byte
}

func (w modbusWrite) run(c modbusWriter) ([]byte, error) {
	switch w.function {
	case "write_single_coil":
		return c.WriteSingleCoil(w.address, w.value)
	case "write_single_register":
		return c.WriteSingleRegister(w.address, w.value)
	default:
		return c.WriteMultipleRegisters(w.address, uint16(len(w.values)/2), w.values)
	}
}

func (w modbusWrite) response(raw []byte) map[string]any {
	resp := map[string]any{
		"function": w.function,
		"address":  int(w.address),
	}
	switch w.function {
	case "write_single_coil":
		resp["value"] = w.value == coilOn
	case "write_single_register":
		resp["value"] = int(w.value)
	default:
		resp["quantity"] = len(w.values) / 2
	}
	if len(raw) > 0 {
		resp["raw"] = raw
	}
	return resp
}

// planModbusWrite validates a command against the device address.
func planModbusWrite(d Dispatch) (modbusWrite, error) {
	addr := d.Target.Address
	switch d.CommandName {
	case CommandTurnOn, CommandTurnOff:
		coil, err := modbusRef(addr, d.Parameters, "coil")
		if err != nil {
			return modbusWrite{}, err
		}
		value := coilOff
		if d.CommandName == CommandTurnOn {
			value = coilOn
		}
		return modbusWrite{function: "write_single_coil", address: coil, value: value}, nil

	case CommandWriteCoil:
		coil, err := modbusRef(addr, d.Parameters, "coil")
		if err != nil {
			return modbusWrite{}, err
		}
		v, ok := d.Parameters.Get("value")
		on, isBool := v.AsBool()
		if !ok || !isBool {
			return modbusWrite{}, errors.New("write_coil requires a bool value parameter")
		}
		value := coilOff
		if on {
			value = coilOn
		}
		return modbusWrite{function: "write_single_coil", address: coil, value: value}, nil

	case CommandSetRegister:
		reg, err := modbusRef(addr, d.Parameters, "register")
		if err != nil {
			return modbusWrite{}, err
		}
		v, ok := d.Parameters.Get("value")
		if !ok {
			return modbusWrite{}, errors.New("set_register requires a value parameter")
		}
		n, err := registerValue(v)
		if err != nil {
			return modbusWrite{}, err
		}
		return modbusWrite{function: "write_single_register", address: reg, value: n}, nil

	case CommandWriteRegisters:
		reg, err := modbusRef(addr, d.Parameters, "register")
		if err != nil {
			return modbusWrite{}, err
		}
		v, ok := d.Parameters.Get("values")
		raw, isBinary := v.AsBinary()
		if !ok || !isBinary || len(raw) == 0 || len(raw)%2 != 0 {
			return modbusWrite{}, errors.New("write_registers requires binary values of even length")
		}
		if len(raw)/2 > maxRegisterWrite {
			return modbusWrite{}, fmt.Errorf("write_registers limited to %d registers", maxRegisterWrite)
		}
		return modbusWrite{function: "write_multiple_registers", address: reg, values: raw}, nil

	default:
		return modbusWrite{}, fmt.Errorf("unsupported modbus command %q", d.CommandName)
	}
}

// modbusRef reads a coil or register number from parameters, falling
// back to the device address.
func modbusRef(addr device.Address, params command.Parameters, key string) (uint16, error) {
	if v, ok := params.Get(key); ok {
		n, isInt := v.AsInt()
		if !isInt || n < 0 || n > 0xFFFF {
			return 0, fmt.Errorf("parameter %s must be 0-65535", key)
		}
		return uint16(n), nil
	}
	n, ok := addr.Int(key)
	if !ok {
		return 0, fmt.Errorf("device address has no %s", key)
	}
	if n < 0 || n > 0xFFFF {
		return 0, fmt.Errorf("address %s must be 0-65535", key)
	}
	return uint16(n), nil
}

func registerValue(v command.Value) (uint16, error) {
	if n, ok := v.AsInt(); ok && n >= 0 && n <= 0xFFFF {
		return uint16(n), nil
	}
	if b, ok := v.AsBool(); ok {
		if b {
			return 1, nil
		}
		return 0, nil
	}
	return 0, errors.New("register value must be an integer 0-65535")
}
