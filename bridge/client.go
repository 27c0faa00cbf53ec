// Package bridge connects the stand core to an MQTT broker.
//
// Every core notification is published as JSON under a topic prefix, and operator commands
// received on <prefix>/cmd are executed through controller.Commands with the result published on
// <prefix>/cmd/result. While the broker is unreachable, QoS 1 messages are kept in a bounded
// buffer and replayed on reconnect; QoS 0 messages are dropped.
package bridge

// Client is the MQTT transport used by the Bridge.
type Client interface {
	// Publish sends payload to topic. It returns an error if the message could not be handed to the broker.
	Publish(topic string, qos byte, retained bool, payload []byte) error

	// Subscribe registers handler for messages on topic.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected reports whether the broker connection is up.
	IsConnected() bool

	// OnConnect registers fn to be called after every (re)connection.
	OnConnect(fn func())

	// Close disconnects from the broker.
	Close() error
}

// Message is a published MQTT message.
type Message struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}
