// Package controller wires the link, the safety supervisor and the sequence engine into a single
// owner goroutine and exposes the command API used by operator-facing collaborators.
//
// Run is the only goroutine that drives the supervisor and the engine. Link events, posted
// commands, sequence timers and the abort check ticker are all serialized through it.
package controller

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-gse/link"
	"github.com/arloliu/go-gse/logger"
	"github.com/arloliu/go-gse/notify"
	"github.com/arloliu/go-gse/safety"
	"github.com/arloliu/go-gse/sequence"
	"github.com/arloliu/go-gse/telemetry"
	"github.com/arloliu/go-gse/valve"
)

// ReasonOperatorDisconnect is the link disconnect reason used by Disconnect.
const ReasonOperatorDisconnect = "operator disconnect"

// Link is the part of link.Manager the controller uses.
type Link interface {
	Events() <-chan link.Event
	State() link.ConnState
	IsConnected() bool
	Connect(host string, port int) error
	Disconnect(reason string)
	SendValveCommand(name string, open bool)
}

// Commands is the collaborator-facing command surface.
type Commands interface {
	Connect(ctx context.Context, host string, port int) error
	Disconnect(ctx context.Context) error
	TriggerManualAbort(ctx context.Context) error
	ConfirmSafeState(ctx context.Context) error
	ApplyOperation(ctx context.Context, name string) error
	SetValve(ctx context.Context, name string, open bool) error
	ToggleAbortMode(ctx context.Context, id string, enabled bool) error
	ArmIgnition(ctx context.Context) error
	CancelIgnition(ctx context.Context) error
	Status(ctx context.Context) (Status, error)
	Operations() []string
	Subscribe(size int, kinds ...notify.Kind) *notify.Subscription
}

var _ Commands = (*Controller)(nil)

// Status is a point-in-time view of the stand.
type Status struct {
	Connection        link.ConnState
	Locked            bool
	Valves            []valve.State
	Readings          []telemetry.Sample
	Operation         string
	Pending           []sequence.PendingStep
	IgnitionArmed     bool
	IgnitionRemaining time.Duration
	LastAbort         *safety.Abort
	Modes             []safety.AbortMode
}

// Controller is the single-owner actor of the stand core.
type Controller struct {
	link     Link
	logger   logger.Logger
	bus      *notify.Bus
	store    *valve.Store
	readings *telemetry.Store
	sup      *safety.Supervisor
	eng      *sequence.Engine

	evalInterval      time.Duration
	ignitionCountdown time.Duration

	// highest session id that has ended; telemetry from it or older is stale
	endedSession uint64

	inbox     chan func()
	done      chan struct{}
	running   atomic.Bool
	malformed atomic.Uint64
}

// New creates a Controller over lnk. Call Run to start it.
func New(lnk Link, opts ...Option) (*Controller, error) {
	if lnk == nil {
		return nil, ErrLinkNil
	}

	o := defaultOptions()
	for _, opt := range opts {
		if err := opt.apply(o); err != nil {
			return nil, err
		}
	}
	if o.bus == nil {
		o.bus = notify.NewBus()
	}

	store, err := valve.NewStore(o.roster)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		link:              lnk,
		logger:            o.logger.With("component", "controller"),
		bus:               o.bus,
		store:             store,
		readings:          telemetry.NewStore(),
		evalInterval:      o.evalInterval,
		ignitionCountdown: o.ignitionCountdown,
		inbox:             make(chan func(), o.inboxSize),
		done:              make(chan struct{}),
	}

	supOpts := append([]safety.Option{safety.WithLogger(o.logger)}, o.safetyOpts...)
	c.sup, err = safety.NewSupervisor(store, lnk, lnk, c.bus, supOpts...)
	if err != nil {
		return nil, err
	}

	seqOpts := append([]sequence.Option{
		sequence.WithLogger(o.logger),
		sequence.WithScheduler(sequence.SchedulerFunc(c.afterFunc)),
	}, o.sequenceOpts...)
	c.eng, err = sequence.NewEngine(store, lnk, c.bus, seqOpts...)
	if err != nil {
		return nil, err
	}

	c.sup.OnAbort(func(ab safety.Abort) {
		c.eng.CancelPending()
	})

	return c, nil
}

// Run processes link events, commands, sequence timers and abort checks until ctx is done.
// Pending timed steps are cancelled on return.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)

	c.logger.Info("controller started", "eval_interval", c.evalInterval)

	ticker := time.NewTicker(c.evalInterval)
	defer ticker.Stop()

	events := c.link.Events()
	for {
		select {
		case <-ctx.Done():
			c.eng.CancelPending()
			c.logger.Info("controller stopped")

			return nil

		case ev, ok := <-events:
			if !ok {
				c.logger.Warn("link event stream closed")
				events = nil

				continue
			}
			c.handleLinkEvent(ev)

		case fn := <-c.inbox:
			fn()

		case now := <-ticker.C:
			c.sup.Evaluate(now, c.readings.Snapshot())
		}
	}
}

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Subscribe registers a notification subscriber. See notify.Bus.Subscribe.
func (c *Controller) Subscribe(size int, kinds ...notify.Kind) *notify.Subscription {
	return c.bus.Subscribe(size, kinds...)
}

// Bus returns the notification bus.
func (c *Controller) Bus() *notify.Bus {
	return c.bus
}

// Operations returns the operation names in table order.
func (c *Controller) Operations() []string {
	return c.eng.Operations()
}

// Readings returns the latest sensor samples. It is safe to call from any goroutine.
func (c *Controller) Readings() *telemetry.Store {
	return c.readings
}

// Valves returns the valve store. It is safe to read from any goroutine.
func (c *Controller) Valves() *valve.Store {
	return c.store
}

// MalformedTokens returns the number of telemetry tokens dropped as malformed.
func (c *Controller) MalformedTokens() uint64 {
	return c.malformed.Load()
}

// Connect starts a connection attempt. The outcome is reported as a connection notification.
func (c *Controller) Connect(ctx context.Context, host string, port int) error {
	return c.do(ctx, func() error {
		return c.link.Connect(host, port)
	})
}

// Disconnect drops the link. Like any link loss it aborts.
func (c *Controller) Disconnect(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.link.Disconnect(ReasonOperatorDisconnect)
		return nil
	})
}

// TriggerManualAbort aborts. It is a no-op while already locked out.
func (c *Controller) TriggerManualAbort(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.sup.TriggerManualAbort()
		return nil
	})
}

// ConfirmSafeState releases the lockout. It fails with safety.ErrNotConnected while the link is down.
func (c *Controller) ConfirmSafeState(ctx context.Context) error {
	return c.do(ctx, c.sup.ConfirmSafeState)
}

// ApplyOperation applies a named operation. It fails with sequence.ErrLocked while locked out
// and with ErrNotConnected while the link is not connected.
func (c *Controller) ApplyOperation(ctx context.Context, name string) error {
	return c.do(ctx, func() error {
		if !c.link.IsConnected() {
			return ErrNotConnected
		}
		return c.eng.ApplyOperation(name)
	})
}

// SetValve commands a single valve. It returns sequence.ErrLocked while the lockout is engaged
// and ErrNotConnected while the link is down; neither transmits anything.
func (c *Controller) SetValve(ctx context.Context, name string, open bool) error {
	return c.do(ctx, func() error {
		if !c.link.IsConnected() {
			return ErrNotConnected
		}
		return c.eng.SetValve(name, open)
	})
}

// ToggleAbortMode enables or disables an automatic abort rule.
func (c *Controller) ToggleAbortMode(ctx context.Context, id string, enabled bool) error {
	return c.do(ctx, func() error {
		return c.sup.SetModeEnabled(id, enabled)
	})
}

// ArmIgnition starts the ignition countdown. It requires a connected link.
func (c *Controller) ArmIgnition(ctx context.Context) error {
	return c.do(ctx, func() error {
		if !c.link.IsConnected() {
			return ErrNotConnected
		}
		return c.eng.ArmIgnition(c.ignitionCountdown)
	})
}

// CancelIgnition stops the ignition countdown.
func (c *Controller) CancelIgnition(ctx context.Context) error {
	return c.do(ctx, c.eng.CancelIgnition)
}

// Status returns a snapshot taken on the controller goroutine.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, func() error {
		st = c.snapshot()
		return nil
	})

	return st, err
}

func (c *Controller) snapshot() Status {
	remaining, armed := c.eng.IgnitionArmed()

	return Status{
		Connection:        c.link.State(),
		Locked:            c.store.Locked(),
		Valves:            c.store.Snapshot(),
		Readings:          c.readings.Samples(),
		Operation:         c.eng.Current(),
		Pending:           c.eng.Pending(),
		IgnitionArmed:     armed,
		IgnitionRemaining: remaining,
		LastAbort:         c.sup.LastAbort(),
		Modes:             c.sup.Modes(),
	}
}

func (c *Controller) handleLinkEvent(ev link.Event) {
	switch ev.Type {
	case link.EventTelemetry:
		if ev.Session <= c.endedSession {
			c.logger.Debug("stale telemetry dropped", "session", ev.Session)
			return
		}
		c.ingest(ev)

	case link.EventStateChanged:
		// Disconnected is published with its reason by the event that caused it.
		if ev.State != link.Disconnected {
			c.bus.Publish(notify.ConnectionChanged{State: ev.State.String(), At: ev.At})
		}

	case link.EventConnectionFailed:
		reason := ""
		if ev.Err != nil {
			reason = ev.Err.Error()
		}
		c.logger.Warn("connection attempt failed", "session", ev.Session, "error", ev.Err)
		c.endSession(ev.Session)
		c.bus.Publish(notify.ConnectionChanged{State: link.Disconnected.String(), Reason: reason, At: ev.At})

	case link.EventDisconnected:
		c.logger.Warn("link lost", "session", ev.Session, "reason", ev.Reason)
		c.endSession(ev.Session)
		c.readings.Reset()
		c.bus.Publish(notify.ConnectionChanged{State: link.Disconnected.String(), Reason: ev.Reason, At: ev.At})
		c.sup.HandleDisconnect(ev.Reason)
	}
}

func (c *Controller) endSession(id uint64) {
	if id > c.endedSession {
		c.endedSession = id
	}
}

func (c *Controller) ingest(ev link.Event) {
	frame, errs := telemetry.Parse(ev.Line)
	for _, err := range errs {
		c.malformed.Add(1)
		c.logger.Debug("telemetry token dropped", "error", err)
	}

	for _, smp := range c.readings.Update(frame, ev.At) {
		c.bus.Publish(notify.SensorUpdated{ID: smp.ID, Value: smp.Value, MCUTimestamp: smp.MCUTimestamp, At: smp.At})
	}
}

// do runs fn on the controller goroutine and waits for its result.
func (c *Controller) do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	select {
	case c.inbox <- func() { res <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}

	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrStopped
		}
	}
}

// afterFunc schedules fn to run on the controller goroutine after d.
func (c *Controller) afterFunc(d time.Duration, fn func()) sequence.Timer {
	return time.AfterFunc(d, func() {
		select {
		case c.inbox <- fn:
		case <-c.done:
		}
	})
}
