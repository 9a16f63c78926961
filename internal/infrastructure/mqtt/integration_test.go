//go:build integration

package mqtt

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// Broker-backed tests. They require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -count=1 -v ./internal/infrastructure/mqtt/...

func TestIntegration_Connect(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "graylogic-dispatch-int-connect"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if !client.Stats().Connected {
		t.Error("Stats().Connected = false, want true")
	}
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "graylogic-dispatch-int-subs"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	handler := func(string, []byte) error { return nil }
	topics := []string{Topics{}.AllDeviceAcks(), Topics{}.AllCommandEvents()}

	for _, topic := range topics {
		if err := client.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	if client.SubscriptionCount() != len(topics) {
		t.Errorf("SubscriptionCount() = %d, want %d", client.SubscriptionCount(), len(topics))
	}

	if err := client.Unsubscribe(topics[0]); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.SubscriptionCount() != len(topics)-1 {
		t.Errorf("SubscriptionCount() = %d after unsubscribe, want %d", client.SubscriptionCount(), len(topics)-1)
	}
}

func TestIntegration_CommandAckRoundtrip(t *testing.T) {
	cfg := testConfig()

	cfg.Broker.ClientID = "graylogic-dispatch-int-pub"
	pub, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pub.Close()

	cfg.Broker.ClientID = "graylogic-dispatch-int-sub"
	sub, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer sub.Close()

	received := make(chan map[string]any, 1)
	var once sync.Once
	err = sub.Subscribe(Topics{}.AllDeviceAcks(), 1, func(_ string, p []byte) error {
		var msg map[string]any
		if err := json.Unmarshal(p, &msg); err != nil {
			return err
		}
		once.Do(func() { received <- msg })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	ack := map[string]any{"command_id": "cmd-int-1", "status": "accepted"}
	if err := pub.PublishJSON(Topics{}.DeviceAck("mqtt", "fan1"), ack, 1); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg["command_id"] != "cmd-int-1" {
			t.Errorf("command_id = %v, want cmd-int-1", msg["command_id"])
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for ack")
	}
}
