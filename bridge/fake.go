package bridge

import (
	"errors"
	"sync"
)

// FakeClient records published messages for test assertions.
type FakeClient struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	messages  []Message
	handlers  map[string]func(topic string, payload []byte)
	onConnect func()

	// PublishError, if set, is returned by Publish.
	PublishError error
}

var _ Client = (*FakeClient)(nil)

// NewFakeClient creates a FakeClient in the given connection state.
func NewFakeClient(connected bool) *FakeClient {
	return &FakeClient{connected: connected, handlers: make(map[string]func(string, []byte))}
}

func (f *FakeClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return errors.New("not connected")
	}
	if f.PublishError != nil {
		return f.PublishError
	}
	f.messages = append(f.messages, Message{Topic: topic, QoS: qos, Retained: retained, Payload: append([]byte(nil), payload...)})

	return nil
}

func (f *FakeClient) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.handlers[topic] = handler

	return nil
}

func (f *FakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.connected
}

func (f *FakeClient) OnConnect(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.onConnect = fn
}

func (f *FakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	f.connected = false

	return nil
}

// SetConnected changes the connection state. Connecting runs the OnConnect callback.
func (f *FakeClient) SetConnected(connected bool) {
	f.mu.Lock()
	was := f.connected
	f.connected = connected
	fn := f.onConnect
	f.mu.Unlock()

	if connected && !was && fn != nil {
		fn()
	}
}

// Deliver simulates an inbound message. It reports whether a handler was subscribed to topic.
func (f *FakeClient) Deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()

	if h == nil {
		return false
	}
	h(topic, payload)

	return true
}

// Messages returns every published message.
func (f *FakeClient) Messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]Message(nil), f.messages...)
}

// Closed reports whether Close was called.
func (f *FakeClient) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}
