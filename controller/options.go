package controller

import (
	"errors"
	"time"

	"github.com/arloliu/go-gse/logger"
	"github.com/arloliu/go-gse/notify"
	"github.com/arloliu/go-gse/safety"
	"github.com/arloliu/go-gse/sequence"
	"github.com/arloliu/go-gse/valve"
)

const (
	// DefaultEvalInterval is the abort check cadence.
	DefaultEvalInterval = 10 * time.Millisecond
	// DefaultIgnitionCountdown is the countdown used by ArmIgnition.
	DefaultIgnitionCountdown = 10 * time.Second

	defaultInboxSize = 64
)

type options struct {
	logger            logger.Logger
	roster            []string
	evalInterval      time.Duration
	ignitionCountdown time.Duration
	inboxSize         int
	bus               *notify.Bus
	safetyOpts        []safety.Option
	sequenceOpts      []sequence.Option
}

func defaultOptions() *options {
	return &options{
		logger:            logger.GetLogger(),
		roster:            valve.DefaultRoster,
		evalInterval:      DefaultEvalInterval,
		ignitionCountdown: DefaultIgnitionCountdown,
		inboxSize:         defaultInboxSize,
	}
}

// Option configures a Controller.
type Option interface {
	apply(*options) error
}

type optFunc func(*options) error

func (f optFunc) apply(o *options) error { return f(o) }

// WithLogger sets the logger of the controller. It is also handed to the supervisor and engine
// unless their own options override it.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(o *options) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		o.logger = l

		return nil
	})
}

// WithRoster sets the valve roster. Defaults to valve.DefaultRoster.
func WithRoster(roster []string) Option {
	return optFunc(func(o *options) error {
		if len(roster) == 0 {
			return valve.ErrEmptyRoster
		}
		o.roster = roster

		return nil
	})
}

// WithEvalInterval sets the abort check cadence.
func WithEvalInterval(d time.Duration) Option {
	return optFunc(func(o *options) error {
		if d < time.Millisecond || d > time.Second {
			return errors.New("eval interval out of range [1ms, 1s]")
		}
		o.evalInterval = d

		return nil
	})
}

// WithIgnitionCountdown sets the ignition countdown length.
func WithIgnitionCountdown(d time.Duration) Option {
	return optFunc(func(o *options) error {
		if d <= 0 || d > time.Hour {
			return errors.New("ignition countdown out of range (0, 1h]")
		}
		o.ignitionCountdown = d

		return nil
	})
}

// WithInboxSize sets the buffer of the command inbox.
func WithInboxSize(n int) Option {
	return optFunc(func(o *options) error {
		if n < 1 {
			return errors.New("inbox size must be positive")
		}
		o.inboxSize = n

		return nil
	})
}

// WithBus publishes notifications on bus instead of a private one.
func WithBus(bus *notify.Bus) Option {
	return optFunc(func(o *options) error {
		if bus == nil {
			return errors.New("bus is nil")
		}
		o.bus = bus

		return nil
	})
}

// WithSafetyOptions passes options to the safety supervisor.
func WithSafetyOptions(opts ...safety.Option) Option {
	return optFunc(func(o *options) error {
		o.safetyOpts = append(o.safetyOpts, opts...)
		return nil
	})
}

// WithSequenceOptions passes options to the sequence engine. A sequence.WithScheduler given here
// replaces the controller's inbox scheduler.
func WithSequenceOptions(opts ...sequence.Option) Option {
	return optFunc(func(o *options) error {
		o.sequenceOpts = append(o.sequenceOpts, opts...)
		return nil
	})
}
