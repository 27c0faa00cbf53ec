package link

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-gse/logger"
)

// LocalPortSameAsRemote binds the local socket to the same port number as the MCU,
// which is what the stand firmware sends telemetry to.
const LocalPortSameAsRemote = -1

// Config represents the timing and socket parameters of the MCU link.
type Config struct {
	// heartbeatTxCadence is the interval between NOOP transmissions. It should be between 1ms and 1s.
	// Defaults to 10ms.
	heartbeatTxCadence time.Duration

	// heartbeatRxMissInterval is the maximum silence tolerated from the MCU before the link
	// is declared lost. It should be between 5ms and 10s and longer than heartbeatTxCadence.
	// Defaults to 100ms.
	heartbeatRxMissInterval time.Duration

	// pollInterval is how often the heartbeat task wakes up. It should be between 100µs and 100ms.
	// Defaults to 1ms.
	pollInterval time.Duration

	// connectTimeout bounds the wait for the first datagram from the MCU. It should be between 10ms and 30s.
	// Defaults to 1 second.
	connectTimeout time.Duration

	// recvTimeout is the read deadline of each listener iteration. It should be between 1ms and 5s.
	// A read timeout is not an error, liveness belongs to the heartbeat.
	// Defaults to 250ms.
	recvTimeout time.Duration

	// closeTimeout bounds how long Disconnect waits for session goroutines. It should be between 10ms and 30s.
	// Defaults to 1 second.
	closeTimeout time.Duration

	// localPort is the local UDP port. LocalPortSameAsRemote uses the MCU port, 0 picks an ephemeral port.
	// Defaults to LocalPortSameAsRemote.
	localPort int

	// eventBufferSize is the capacity of the channel returned by Manager.Events.
	// Events beyond it are queued without bound, never dropped.
	// Defaults to 64.
	eventBufferSize int

	// maxLineLength bounds a partial line carried between datagrams. Defaults to 64KiB.
	maxLineLength int

	logger logger.Logger
}

// NewConfig creates a link configuration with default values, then applies opts in order.
//
// Returns the configuration and the first error reported by an option or by the final
// cross-field validation.
func NewConfig(opts ...ConnOption) (*Config, error) {
	cfg := &Config{
		heartbeatTxCadence:      10 * time.Millisecond,
		heartbeatRxMissInterval: 100 * time.Millisecond,
		pollInterval:            time.Millisecond,
		connectTimeout:          time.Second,
		recvTimeout:             250 * time.Millisecond,
		closeTimeout:            time.Second,
		localPort:               LocalPortSameAsRemote,
		eventBufferSize:         64,
		maxLineLength:           64 * 1024,
		logger:                  logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.heartbeatRxMissInterval <= cfg.heartbeatTxCadence {
		return cfg, errors.New("heartbeat rx miss interval must exceed tx cadence")
	}

	return cfg, nil
}

func (cfg *Config) HeartbeatTxCadence() time.Duration      { return cfg.heartbeatTxCadence }
func (cfg *Config) HeartbeatRxMissInterval() time.Duration { return cfg.heartbeatRxMissInterval }
func (cfg *Config) PollInterval() time.Duration            { return cfg.pollInterval }
func (cfg *Config) ConnectTimeout() time.Duration          { return cfg.connectTimeout }
func (cfg *Config) RecvTimeout() time.Duration             { return cfg.recvTimeout }
func (cfg *Config) CloseTimeout() time.Duration            { return cfg.closeTimeout }
func (cfg *Config) LocalPort() int                         { return cfg.localPort }
func (cfg *Config) Logger() logger.Logger                  { return cfg.logger }

// ConnOption represents a functional option for configuring a Config.
type ConnOption interface {
	apply(*Config) error
}

type connOptFunc struct {
	name      string
	applyFunc func(*Config) error
}

func (c *connOptFunc) apply(cfg *Config) error {
	if cfg == nil {
		return ErrConnConfigNil
	}

	return c.applyFunc(cfg)
}

func newConnOptFunc(name string, f func(*Config) error) *connOptFunc {
	return &connOptFunc{name: name, applyFunc: f}
}

func durationInRange(name string, val, lo, hi time.Duration) error {
	if val < lo || val > hi {
		return fmt.Errorf("%s out of range [%v, %v]", name, lo, hi)
	}

	return nil
}

// WithHeartbeatTxCadence sets the NOOP transmit cadence, between 1ms and 1s.
func WithHeartbeatTxCadence(val time.Duration) ConnOption {
	return newConnOptFunc("WithHeartbeatTxCadence", func(cfg *Config) error {
		if err := durationInRange("heartbeat tx cadence", val, time.Millisecond, time.Second); err != nil {
			return err
		}
		cfg.heartbeatTxCadence = val

		return nil
	})
}

// WithHeartbeatRxMissInterval sets the receive silence that declares the link lost, between 5ms and 10s.
func WithHeartbeatRxMissInterval(val time.Duration) ConnOption {
	return newConnOptFunc("WithHeartbeatRxMissInterval", func(cfg *Config) error {
		if err := durationInRange("heartbeat rx miss interval", val, 5*time.Millisecond, 10*time.Second); err != nil {
			return err
		}
		cfg.heartbeatRxMissInterval = val

		return nil
	})
}

// WithPollInterval sets the heartbeat task wake-up interval, between 100µs and 100ms.
func WithPollInterval(val time.Duration) ConnOption {
	return newConnOptFunc("WithPollInterval", func(cfg *Config) error {
		if err := durationInRange("poll interval", val, 100*time.Microsecond, 100*time.Millisecond); err != nil {
			return err
		}
		cfg.pollInterval = val

		return nil
	})
}

// WithConnectTimeout sets how long to wait for the first MCU datagram, between 10ms and 30s.
func WithConnectTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithConnectTimeout", func(cfg *Config) error {
		if err := durationInRange("connect timeout", val, 10*time.Millisecond, 30*time.Second); err != nil {
			return err
		}
		cfg.connectTimeout = val

		return nil
	})
}

// WithRecvTimeout sets the listener read deadline, between 1ms and 5s.
func WithRecvTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithRecvTimeout", func(cfg *Config) error {
		if err := durationInRange("recv timeout", val, time.Millisecond, 5*time.Second); err != nil {
			return err
		}
		cfg.recvTimeout = val

		return nil
	})
}

// WithCloseTimeout sets how long Disconnect waits for session goroutines, between 10ms and 30s.
func WithCloseTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithCloseTimeout", func(cfg *Config) error {
		if err := durationInRange("close timeout", val, 10*time.Millisecond, 30*time.Second); err != nil {
			return err
		}
		cfg.closeTimeout = val

		return nil
	})
}

// WithLocalPort sets the local UDP port. Use LocalPortSameAsRemote to mirror the MCU port,
// or 0 for an ephemeral port.
func WithLocalPort(port int) ConnOption {
	return newConnOptFunc("WithLocalPort", func(cfg *Config) error {
		if port < LocalPortSameAsRemote || port > 65535 {
			return fmt.Errorf("local port out of range [%d, 65535]", LocalPortSameAsRemote)
		}
		cfg.localPort = port

		return nil
	})
}

// WithEventBufferSize sets the capacity of the events channel, between 1 and 65536.
func WithEventBufferSize(size int) ConnOption {
	return newConnOptFunc("WithEventBufferSize", func(cfg *Config) error {
		if size < 1 || size > 65536 {
			return errors.New("event buffer size out of range [1, 65536]")
		}
		cfg.eventBufferSize = size

		return nil
	})
}

// WithLogger sets the logger. A nil logger is rejected.
func WithLogger(l logger.Logger) ConnOption {
	return newConnOptFunc("WithLogger", func(cfg *Config) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
