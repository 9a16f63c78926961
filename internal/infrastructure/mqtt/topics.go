package mqtt

import "fmt"

// Topic prefixes for the dispatch service.
//
// Downlink topics use the flat scheme graylogic/{category}/{protocol}/{address}
// shared with the protocol bridges, so a bridge subscribes to
// graylogic/command/{its protocol}/+ and answers on graylogic/ack/{protocol}/{address}.
const (
	// TopicPrefixBridge is the base for all bridge-facing topics.
	TopicPrefixBridge = "graylogic"

	// TopicPrefixCore is the base for events published by the service.
	TopicPrefixCore = "graylogic/core"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graylogic/system"
)

// Topics provides builders for Gray Logic MQTT topics.
//
//	topics := mqtt.Topics{}
//	cmdTopic := topics.DeviceCommand("mqtt", "fan1")
//	// Returns: "graylogic/command/mqtt/fan1"
type Topics struct{}

// =============================================================================
// Downlink Topics
// =============================================================================

// DeviceCommand returns the topic a command for a device is published on.
//
// Example: graylogic/command/mqtt/fan1
func (Topics) DeviceCommand(protocol, address string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixBridge, protocol, address)
}

// DeviceAck returns the topic a device or bridge acknowledges commands on.
//
// Example: graylogic/ack/mqtt/fan1
func (Topics) DeviceAck(protocol, address string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefixBridge, protocol, address)
}

// =============================================================================
// Core and System Topics
// =============================================================================

// CommandEvent returns the topic a command lifecycle event is mirrored to.
//
// Example: graylogic/core/event/command.completed
func (Topics) CommandEvent(eventType string) string {
	return fmt.Sprintf("%s/event/command.%s", TopicPrefixCore, eventType)
}

// SystemStatus returns the system status topic (online/offline, LWT).
//
// Example: graylogic/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllDeviceAcks returns a pattern matching every acknowledgement.
//
// Pattern: graylogic/ack/+/+
func (Topics) AllDeviceAcks() string {
	return fmt.Sprintf("%s/ack/+/+", TopicPrefixBridge)
}

// AllDeviceCommands returns a pattern matching every downlink command.
//
// Pattern: graylogic/command/+/+
func (Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/command/+/+", TopicPrefixBridge)
}

// AllCommandEvents returns a pattern matching every mirrored command event.
//
// Pattern: graylogic/core/event/+
func (Topics) AllCommandEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefixCore)
}
