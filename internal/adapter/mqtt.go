package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-dispatch/internal/command"
	"github.com/nerrad567/gray-logic-dispatch/internal/device"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/mqtt"
)

// Publisher is the subset of the MQTT client the adapter needs.
// *mqtt.Client satisfies it.
type Publisher interface {
	IsConnected() bool
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// AckSink receives acknowledgements decoded from the broker.
type AckSink interface {
	OnAck(ctx context.Context, ack command.Ack) error
}

// MQTTAdapter publishes commands to bridges and devices over MQTT.
//
// Sends are never confirmed: a successful publish only means the broker
// accepted the message. The device answers on graylogic/ack/+/+, which
// the adapter decodes and forwards to its AckSink.
type MQTTAdapter struct {
	client Publisher
	qos    byte

	sink    AckSink
	sinkMu  sync.RWMutex
	stopped atomic.Bool

	logger Logger
	now    func() time.Time
}

// NewMQTT creates an MQTT adapter publishing with the given QoS.
func NewMQTT(client Publisher, qos byte) *MQTTAdapter {
	return &MQTTAdapter{
		client: client,
		qos:    qos,
		logger: noopLogger{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the adapter.
func (a *MQTTAdapter) SetLogger(logger Logger) {
	a.logger = logger
}

// Protocol returns "mqtt".
func (a *MQTTAdapter) Protocol() string { return device.ProtocolMQTT }

// Send publishes one attempt of a command.
func (a *MQTTAdapter) Send(ctx context.Context, d Dispatch) (Outcome, error) {
	if a.stopped.Load() {
		return Outcome{}, NewError(KindStopped, a.Protocol(), ErrStopped)
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, NewError(KindTimeout, a.Protocol(), err)
	}

	msg := CommandMessage{
		ID:         d.CommandID,
		Attempt:    d.Attempt,
		Timestamp:  a.now(),
		DeviceID:   d.DeviceID,
		Command:    d.CommandName,
		Parameters: d.Parameters.Map(),
		Source:     string(d.Source.Kind),
		ActorID:    d.Source.ActorID,
		Priority:   d.Priority.String(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return Outcome{}, NewError(KindOther, a.Protocol(), fmt.Errorf("encoding command: %w", err))
	}

	if !a.client.IsConnected() {
		return Outcome{}, NewError(KindConnection, a.Protocol(), mqtt.ErrNotConnected)
	}

	topic := mqtt.Topics{}.DeviceCommand(a.Protocol(), mqttAddress(d))
	if err := a.client.Publish(topic, payload, a.qos, false); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			return Outcome{}, NewError(KindConnection, a.Protocol(), err)
		}
		return Outcome{}, NewTransientError(a.Protocol(), err)
	}

	a.logger.Debug("command published", "command_id", d.CommandID, "topic", topic, "attempt", d.Attempt)
	return Outcome{}, nil
}

// mqttAddress is the device topic segment, defaulting to the device ID.
func mqttAddress(d Dispatch) string {
	if topic, ok := d.Target.Address.String("topic"); ok {
		return topic
	}
	if d.Target.ID != "" {
		return d.Target.ID
	}
	return d.DeviceID
}

// Start subscribes to acknowledgements and forwards them to sink.
func (a *MQTTAdapter) Start(sink AckSink) error {
	a.sinkMu.Lock()
	a.sink = sink
	a.sinkMu.Unlock()

	if err := a.client.Subscribe(mqtt.Topics{}.AllDeviceAcks(), a.qos, a.handleAck); err != nil {
		return fmt.Errorf("subscribing to acks: %w", err)
	}
	return nil
}

// Stop unsubscribes from acknowledgements. Later sends fail with KindStopped.
func (a *MQTTAdapter) Stop() error {
	if a.stopped.Swap(true) {
		return nil
	}
	a.sinkMu.RLock()
	started := a.sink != nil
	a.sinkMu.RUnlock()
	if !started || !a.client.IsConnected() {
		return nil
	}
	return a.client.Unsubscribe(mqtt.Topics{}.AllDeviceAcks())
}

// handleAck decodes an ack message and forwards it to the sink.
// Errors are logged by the MQTT client and never affect the command.
func (a *MQTTAdapter) handleAck(topic string, payload []byte) error {
	ack, forward, err := a.decodeAck(payload)
	if err != nil {
		metrics.IncAckDiscarded("malformed")
		return fmt.Errorf("%w: %s: %w", command.ErrMalformedAck, topic, err)
	}
	if !forward {
		return nil
	}

	a.sinkMu.RLock()
	sink := a.sink
	a.sinkMu.RUnlock()
	if sink == nil {
		return nil
	}
	return sink.OnAck(context.Background(), ack)
}

// decodeAck maps an AckMessage onto a command.Ack. forward is false for
// intermediate statuses that do not settle the command.
func (a *MQTTAdapter) decodeAck(payload []byte) (ack command.Ack, forward bool, err error) {
	var msg AckMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return command.Ack{}, false, err
	}
	if msg.CommandID == "" {
		return command.Ack{}, false, errors.New("missing command_id")
	}

	ack = command.Ack{
		CommandID:  msg.CommandID,
		Attempt:    msg.Attempt,
		Payload:    msg.Payload,
		ReceivedAt: a.now(),
	}

	switch msg.Status {
	case AckAccepted:
		ack.Accepted = true
	case AckFailed, AckTimeout:
		ack.Error = msg.Error.String()
		if ack.Error == "" {
			ack.Error = string(msg.Status)
		}
	case AckQueued:
		a.logger.Debug("command queued by bridge", "command_id", msg.CommandID, "device_id", msg.DeviceID)
		return command.Ack{}, false, nil
	default:
		return command.Ack{}, false, fmt.Errorf("unknown status %q", msg.Status)
	}
	return ack, true, nil
}
