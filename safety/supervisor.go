// Package safety evaluates sensor limits and link health and drives the abort and lockout state.
//
// The Supervisor is the only component that forces valves during an abort. An abort atomically
// snapshots the valve state, applies the abort-safe configuration and engages the lockout; only
// ConfirmSafeState, while the link is connected, releases it.
package safety

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-gse/logger"
	"github.com/arloliu/go-gse/notify"
	"github.com/arloliu/go-gse/valve"
)

var (
	// ErrNotConnected is returned by ConfirmSafeState while the link is down.
	ErrNotConnected = errors.New("cannot confirm safe state while disconnected")
	// ErrUnknownMode indicates an abort mode id that does not exist.
	ErrUnknownMode = errors.New("unknown abort mode")
)

// LinkStatus reports link health.
type LinkStatus interface {
	IsConnected() bool
}

// Abort records one abort.
type Abort struct {
	Type   string
	Reason string
	At     time.Time
	// PreAbort is the valve state right before the safe configuration was applied.
	PreAbort []valve.State
}

// Supervisor owns the abort state machine.
//
// It is not safe for concurrent use: Evaluate, HandleAbort and the other methods are called from
// the controller goroutine. The valve store it writes is itself safe to read from anywhere.
type Supervisor struct {
	store  *valve.Store
	cmd    valve.Commander
	link   LinkStatus
	pub    notify.Publisher
	logger logger.Logger
	now    func() time.Time

	thresholds      Thresholds
	ventValve       string
	regulationValve string
	modes           map[string]bool

	upstreamOx   window
	upstreamFuel window
	autoVentOpen bool
	lastAbort    *Abort
	listeners    []func(Abort)
}

// Option configures a Supervisor.
type Option func(*Supervisor) error

// WithThresholds replaces the default limits.
func WithThresholds(t Thresholds) Option {
	return func(s *Supervisor) error {
		if err := t.Validate(); err != nil {
			return err
		}
		s.thresholds = t

		return nil
	}
}

// WithVentValve sets the valve left open by an abort. An empty name closes every valve on abort.
func WithVentValve(name string) Option {
	return func(s *Supervisor) error {
		if name != "" && !s.store.Has(name) {
			return fmt.Errorf("vent valve: %w: %q", valve.ErrUnknownValve, name)
		}
		s.ventValve = name

		return nil
	}
}

// WithRegulationValve sets the valve driven by P2 regulation.
func WithRegulationValve(name string) Option {
	return func(s *Supervisor) error {
		if !s.store.Has(name) {
			return fmt.Errorf("regulation valve: %w: %q", valve.ErrUnknownValve, name)
		}
		s.regulationValve = name

		return nil
	}
}

// WithModeEnabled sets the initial state of an abort mode.
func WithModeEnabled(id string, enabled bool) Option {
	return func(s *Supervisor) error {
		if _, ok := s.modes[id]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownMode, id)
		}
		s.modes[id] = enabled

		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Supervisor) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		s.logger = l

		return nil
	}
}

// WithClock sets the time source used to stamp aborts and notifications.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) error {
		s.now = now
		return nil
	}
}

// NewSupervisor creates a Supervisor with every abort mode enabled, NCS3 as vent and
// regulation valve (when present in the roster) and the default thresholds.
func NewSupervisor(store *valve.Store, cmd valve.Commander, link LinkStatus, pub notify.Publisher, opts ...Option) (*Supervisor, error) {
	if store == nil || cmd == nil || link == nil {
		return nil, errors.New("supervisor requires a valve store, commander and link status")
	}
	if pub == nil {
		pub = notify.Discard
	}

	s := &Supervisor{
		store:      store,
		cmd:        cmd,
		link:       link,
		pub:        pub,
		logger:     logger.GetLogger(),
		now:        time.Now,
		thresholds: DefaultThresholds(),
		modes:      make(map[string]bool, len(modeOrder)),
	}
	for _, id := range modeOrder {
		s.modes[id] = true
	}
	if store.Has("NCS3") {
		s.ventValve = "NCS3"
		s.regulationValve = "NCS3"
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.regulationValve == "" {
		return nil, errors.New("regulation valve is not configured")
	}
	s.logger = s.logger.With("component", "safety")

	return s, nil
}

// OnAbort registers fn to be called after every abort.
func (s *Supervisor) OnAbort(fn func(Abort)) {
	if fn != nil {
		s.listeners = append(s.listeners, fn)
	}
}

// Thresholds returns the active limits.
func (s *Supervisor) Thresholds() Thresholds {
	return s.thresholds
}

// Locked reports whether the lockout is engaged.
func (s *Supervisor) Locked() bool {
	return s.store.Locked()
}

// LastAbort returns the most recent abort, or nil.
func (s *Supervisor) LastAbort() *Abort {
	if s.lastAbort == nil {
		return nil
	}
	ab := *s.lastAbort

	return &ab
}

// Modes returns the abort modes in a stable order.
func (s *Supervisor) Modes() []AbortMode {
	out := make([]AbortMode, 0, len(modeOrder))
	for _, id := range modeOrder {
		out = append(out, AbortMode{ID: id, Enabled: s.modes[id], Description: s.thresholds.describe(id)})
	}

	return out
}

// SetModeEnabled enables or disables an abort mode. It affects future evaluations only and never
// releases a lockout. Disabling ModeHighP2 disables P2 vent regulation.
func (s *Supervisor) SetModeEnabled(id string, enabled bool) error {
	if _, ok := s.modes[id]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMode, id)
	}
	if s.modes[id] != enabled {
		s.logger.Info("abort mode changed", "mode", id, "enabled", enabled)
	}
	s.modes[id] = enabled
	if id == ModeHighUpstreamPressure && !enabled {
		s.upstreamOx.reset()
		s.upstreamFuel.reset()
	}

	return nil
}

// Evaluate runs P2 regulation and every enabled abort rule against the latest sensor values.
//
// It does nothing before the first reading arrives. While locked it only resets the sustained
// violation windows. A missing sensor reads as 0.
func (s *Supervisor) Evaluate(now time.Time, values map[string]float64) {
	if len(values) == 0 {
		return
	}
	if s.store.Locked() {
		s.upstreamOx.reset()
		s.upstreamFuel.reset()
		return
	}

	th := s.thresholds
	if s.modes[ModeHighP2] {
		s.regulate(values["P2"])
	}

	p8, p7 := values["P8"], values["P7"]
	if s.modes[ModeHighChamberPressure] && p8 > th.ChamberMax {
		s.HandleAbort(ModeHighChamberPressure, fmt.Sprintf("Chamber pressure %g psi > %g psi", p8, th.ChamberMax))
	}
	if s.modes[ModeReverseFlow] && p8 > p7 {
		s.HandleAbort(ModeReverseFlow, fmt.Sprintf("Chamber pressure %g psi > Line pressure %g psi", p8, p7))
	}

	if s.modes[ModeHighUpstreamPressure] {
		p3, p4, p5, p6 := values["P3"], values["P4"], values["P5"], values["P6"]
		if s.upstreamOx.observe(now, p5-p3 >= th.UpstreamDelta, th.UpstreamWindow) {
			s.HandleAbort(ModeHighUpstreamPressure,
				fmt.Sprintf("P5 %g psi > P3 %g psi by %g+ psi for %v", p5, p3, th.UpstreamDelta, th.UpstreamWindow))
		}
		if s.upstreamFuel.observe(now, p6-p4 >= th.UpstreamDelta, th.UpstreamWindow) {
			s.HandleAbort(ModeHighUpstreamPressure,
				fmt.Sprintf("P6 %g psi > P4 %g psi by %g+ psi for %v", p6, p4, th.UpstreamDelta, th.UpstreamWindow))
		}
	}
}

// regulate opens the regulation valve above the open threshold and closes it below the close
// threshold, but only if it was opened here.
func (s *Supervisor) regulate(p2 float64) {
	name := s.regulationValve
	switch {
	case p2 > s.thresholds.P2OpenAbove && !s.store.IsOpen(name):
		if _, err := s.store.Set(name, true); err != nil {
			return
		}
		s.autoVentOpen = true
		s.logger.Info("P2 regulation opened valve", "valve", name, "p2", p2)
		s.cmd.SendValveCommand(name, true)
		s.pub.Publish(notify.ValveChanged{Name: name, Open: true, Source: notify.SourceRegulation, At: s.now()})

	case p2 < s.thresholds.P2CloseBelow && s.autoVentOpen:
		if _, err := s.store.Set(name, false); err != nil {
			return
		}
		s.autoVentOpen = false
		s.logger.Info("P2 regulation closed valve", "valve", name, "p2", p2)
		s.cmd.SendValveCommand(name, false)
		s.pub.Publish(notify.ValveChanged{Name: name, Open: false, Source: notify.SourceRegulation, At: s.now()})
	}
}

// TriggerManualAbort aborts on operator request. It reports whether an abort happened.
func (s *Supervisor) TriggerManualAbort() bool {
	return s.HandleAbort(AbortManual, "Operator triggered manual abort")
}

// HandleDisconnect aborts because the link went down. It reports whether an abort happened.
func (s *Supervisor) HandleDisconnect(reason string) bool {
	return s.HandleAbort(AbortDisconnected, reason)
}

// HandleAbort applies the abort-safe configuration and engages the lockout.
//
// It is a no-op returning false while already locked. Every roster valve is commanded, not only the
// ones that changed. It never blocks.
func (s *Supervisor) HandleAbort(abortType string, reason string) bool {
	safe := s.safeConfig()
	changed, pre, ok := s.store.Lockout(safe)
	if !ok {
		s.logger.Debug("abort ignored, already locked", "type", abortType, "reason", reason)
		return false
	}

	s.upstreamOx.reset()
	s.upstreamFuel.reset()
	s.autoVentOpen = false

	ab := Abort{Type: abortType, Reason: reason, At: s.now(), PreAbort: pre}
	s.lastAbort = &ab
	s.logger.Warn("abort triggered", "type", abortType, "reason", reason)

	for _, name := range s.store.Roster() {
		s.cmd.SendValveCommand(name, safe[name])
	}

	s.pub.Publish(notify.AbortTriggered{Type: abortType, Reason: reason, At: ab.At})
	s.pub.Publish(notify.LockoutChanged{Locked: true, At: ab.At})
	for _, st := range changed {
		s.pub.Publish(notify.ValveChanged{Name: st.Name, Open: st.Open, Source: notify.SourceAbort, At: ab.At})
	}

	for _, fn := range s.listeners {
		fn(ab)
	}

	return true
}

// ConfirmSafeState releases the lockout. It requires a connected link and never re-opens valves.
func (s *Supervisor) ConfirmSafeState() error {
	if !s.link.IsConnected() {
		return ErrNotConnected
	}

	if s.store.Unlock() {
		s.logger.Info("safe state confirmed, lockout released")
		s.pub.Publish(notify.LockoutChanged{Locked: false, At: s.now()})
	}

	return nil
}

func (s *Supervisor) safeConfig() map[string]bool {
	safe := make(map[string]bool, 1)
	if s.ventValve != "" {
		safe[s.ventValve] = true
	}

	return safe
}
