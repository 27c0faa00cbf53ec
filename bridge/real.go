package bridge

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/arloliu/go-gse/logger"
)

// PahoConfig configures a PahoClient.
type PahoConfig struct {
	Broker   string
	ClientID string

	// StatusTopic receives a retained "offline" last will and "online" on every connection.
	StatusTopic string

	// ConnectTimeout bounds the initial connection wait. Defaults to 10s.
	ConnectTimeout time.Duration
	// RetryInterval is the delay between connection attempts. Defaults to 5s.
	RetryInterval time.Duration
	// PublishTimeout bounds every publish and subscribe. Defaults to 5s.
	PublishTimeout time.Duration
}

// PahoClient is a Client backed by an actual MQTT broker.
type PahoClient struct {
	client    paho.Client
	cfg       PahoConfig
	logger    logger.Logger
	onConnect atomic.Pointer[func()]
}

var _ Client = (*PahoClient)(nil)

// NewPahoClient creates a client for cfg.Broker. It does not connect; call Connect.
func NewPahoClient(cfg PahoConfig, l logger.Logger) (*PahoClient, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is empty")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if l == nil {
		l = logger.GetLogger()
	}

	p := &PahoClient{cfg: cfg, logger: l.With("component", "mqtt", "broker", cfg.Broker)}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(cfg.RetryInterval).
		SetOrderMatters(false).
		SetOnConnectHandler(func(paho.Client) {
			p.logger.Info("mqtt connected")
			if cfg.StatusTopic != "" {
				p.client.Publish(cfg.StatusTopic, 1, true, "online")
			}
			if fn := p.onConnect.Load(); fn != nil {
				(*fn)()
			}
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.logger.Warn("mqtt connection lost", "error", err)
		})
	if cfg.StatusTopic != "" {
		opts.SetWill(cfg.StatusTopic, "offline", 1, true)
	}
	p.client = paho.NewClient(opts)

	return p, nil
}

// Connect starts connecting. It waits up to the connect timeout; if the broker is still
// unreachable the client keeps retrying in the background and Connect returns nil.
func (p *PahoClient) Connect() error {
	token := p.client.Connect()
	if !token.WaitTimeout(p.cfg.ConnectTimeout) {
		p.logger.Warn("mqtt broker unreachable, retrying in background", "timeout", p.cfg.ConnectTimeout)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}

	return nil
}

// Publish sends payload and waits for the broker hand-off.
func (p *PahoClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(p.cfg.PublishTimeout) {
		return errors.New("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	return nil
}

// Subscribe registers handler for topic.
func (p *PahoClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	token := p.client.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(p.cfg.PublishTimeout) {
		return errors.New("subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	return nil
}

func (p *PahoClient) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

func (p *PahoClient) OnConnect(fn func()) {
	p.onConnect.Store(&fn)
}

// Close publishes the offline status and disconnects with a one second quiesce.
func (p *PahoClient) Close() error {
	if p.cfg.StatusTopic != "" && p.client.IsConnectionOpen() {
		p.client.Publish(p.cfg.StatusTopic, 1, true, "offline").WaitTimeout(time.Second)
	}
	p.client.Disconnect(1000)

	return nil
}
