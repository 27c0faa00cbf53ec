package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-gse/controller"
	"github.com/arloliu/go-gse/internal/queue"
	"github.com/arloliu/go-gse/logger"
	"github.com/arloliu/go-gse/notify"
)

const (
	defaultPrefix         = "gse"
	defaultBufferSize     = 256
	defaultSubscribeSize  = 1024
	defaultCommandTimeout = 5 * time.Second
	commandQueueSize      = 16
)

// Bridge forwards notifications to MQTT and executes commands received from it.
type Bridge struct {
	client Client
	cmds   controller.Commands
	logger logger.Logger

	prefix         string
	mcuHost        string
	mcuPort        int
	commandTimeout time.Duration
	subscribeSize  int

	offline  *queue.Ring[Message]
	commands chan []byte

	published atomic.Uint64
	dropped   atomic.Uint64
}

// Option configures a Bridge.
type Option func(*Bridge) error

// WithTopicPrefix sets the topic prefix. Defaults to "gse".
func WithTopicPrefix(prefix string) Option {
	return func(b *Bridge) error {
		if prefix == "" {
			return errors.New("topic prefix is empty")
		}
		b.prefix = prefix

		return nil
	}
}

// WithBufferSize sets how many QoS 1 messages are kept while the broker is unreachable.
func WithBufferSize(n int) Option {
	return func(b *Bridge) error {
		if n < 1 {
			return errors.New("buffer size must be positive")
		}
		b.offline = queue.NewRing[Message](n)

		return nil
	}
}

// WithMCU sets the address used by a connect command that names none.
func WithMCU(host string, port int) Option {
	return func(b *Bridge) error {
		b.mcuHost, b.mcuPort = host, port
		return nil
	}
}

// WithCommandTimeout bounds the execution of one command.
func WithCommandTimeout(d time.Duration) Option {
	return func(b *Bridge) error {
		if d <= 0 {
			return errors.New("command timeout must be positive")
		}
		b.commandTimeout = d

		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Bridge) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		b.logger = l

		return nil
	}
}

// New creates a Bridge. Call Run to start forwarding.
func New(client Client, cmds controller.Commands, opts ...Option) (*Bridge, error) {
	if client == nil || cmds == nil {
		return nil, errors.New("bridge requires a client and a command target")
	}

	b := &Bridge{
		client:         client,
		cmds:           cmds,
		logger:         logger.GetLogger(),
		prefix:         defaultPrefix,
		commandTimeout: defaultCommandTimeout,
		subscribeSize:  defaultSubscribeSize,
		offline:        queue.NewRing[Message](defaultBufferSize),
		commands:       make(chan []byte, commandQueueSize),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	b.logger = b.logger.With("component", "bridge")

	return b, nil
}

// Run forwards notifications and executes commands until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.cmds.Subscribe(b.subscribeSize)
	defer sub.Close()

	b.client.OnConnect(b.onConnect)
	if b.client.IsConnected() {
		b.onConnect()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.commandLoop(ctx)
	}()
	defer func() { <-done }()

	b.logger.Info("mqtt bridge started", "prefix", b.prefix)
	for {
		select {
		case <-ctx.Done():
			if n := sub.Dropped(); n > 0 {
				b.logger.Warn("notifications dropped by slow bridge", "count", n)
			}
			return nil
		case ev := <-sub.C:
			b.forward(ev)
		}
	}
}

// Published returns the number of messages handed to the broker.
func (b *Bridge) Published() uint64 { return b.published.Load() }

// Dropped returns the number of messages lost while the broker was unreachable.
func (b *Bridge) Dropped() uint64 { return b.dropped.Load() + b.offline.Evicted() }

// Buffered returns the number of QoS 1 messages waiting for the broker.
func (b *Bridge) Buffered() int { return b.offline.Length() }

func (b *Bridge) forward(ev notify.Event) {
	topic, qos, retained := Route(b.prefix, ev)
	if topic == "" {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("encode notification", "kind", ev.Kind(), "error", err)
		return
	}

	b.publish(Message{Topic: topic, QoS: qos, Retained: retained, Payload: payload})
}

func (b *Bridge) publish(msg Message) {
	if b.client.IsConnected() {
		err := b.client.Publish(msg.Topic, msg.QoS, msg.Retained, msg.Payload)
		if err == nil {
			b.published.Add(1)
			return
		}
		b.logger.Warn("mqtt publish failed", "topic", msg.Topic, "error", err)
	}

	if msg.QoS == 0 {
		b.dropped.Add(1)
		return
	}
	if evicted, ok := b.offline.Enqueue(msg); ok {
		b.logger.Warn("mqtt offline buffer full, dropping oldest", "topic", evicted.Topic)
	}
}

// onConnect subscribes to the command topic and replays the offline buffer.
func (b *Bridge) onConnect() {
	if err := b.client.Subscribe(CommandTopic(b.prefix), 1, b.receive); err != nil {
		b.logger.Error("subscribe to command topic", "topic", CommandTopic(b.prefix), "error", err)
	}

	pending := b.offline.Drain()
	if len(pending) > 0 {
		b.logger.Info("replaying buffered messages", "count", len(pending))
	}
	for _, msg := range pending {
		b.publish(msg)
	}
}

// receive runs on the MQTT client goroutine and must not block.
func (b *Bridge) receive(_ string, payload []byte) {
	select {
	case b.commands <- append([]byte(nil), payload...):
	default:
		b.logger.Warn("command queue full, command rejected")
		b.reply(Result{Error: "command queue full", At: time.Now()})
	}
}

func (b *Bridge) commandLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-b.commands:
			b.reply(b.handle(ctx, payload))
		}
	}
}

func (b *Bridge) reply(res Result) {
	payload, err := json.Marshal(res)
	if err != nil {
		b.logger.Error("encode command result", "error", err)
		return
	}
	b.publish(Message{Topic: ResultTopic(b.prefix), QoS: 1, Payload: payload})
}
