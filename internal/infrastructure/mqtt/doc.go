// Package mqtt provides MQTT client connectivity for Gray Logic Dispatch.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//   - Connection statistics for the health endpoint
//
// # Architecture
//
// MQTT is the downlink for devices that sit behind a protocol bridge or
// speak MQTT natively. The dispatcher publishes commands and listens for
// acknowledgements; it never waits on a publish for device execution.
//
//	Dispatch ──graylogic/command/{protocol}/{address}──▶ Broker ──▶ Bridge/Device
//	Dispatch ◀──graylogic/ack/{protocol}/{address}───── Broker ◀── Bridge/Device
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceAcks(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("ack on %s: %s", topic, payload)
//	        return nil
//	    })
//
//	topic := mqtt.Topics{}.DeviceCommand("mqtt", "fan1")
//	client.PublishJSON(topic, msg, 1)
//
// Broker-backed tests live behind the "integration" build tag.
package mqtt
