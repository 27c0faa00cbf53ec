// Package sequence maps named operations to valve configurations and runs timed, cancelable
// multi-step sequences such as the automated firing sequence.
//
// Every valve write goes through the shared valve.Store and is refused while the abort lockout is
// engaged. Timed steps re-check the lockout when they fire, so a step scheduled before an abort
// never reopens a valve after it.
package sequence

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/go-gse/logger"
	"github.com/arloliu/go-gse/notify"
	"github.com/arloliu/go-gse/valve"
)

var (
	// ErrLocked is returned while the abort lockout is engaged.
	ErrLocked = errors.New("operation refused: lockout engaged")
	// ErrIgnitionArmed is returned by ArmIgnition when a countdown is already running.
	ErrIgnitionArmed = errors.New("ignition countdown already armed")
	// ErrIgnitionNotArmed is returned by CancelIgnition when no countdown is running.
	ErrIgnitionNotArmed = errors.New("ignition countdown not armed")
)

// IgnitionSequence is the Sequence name reported for the ignition countdown step.
const IgnitionSequence = "ignition"

// PendingStep is a scheduled timed step.
type PendingStep struct {
	Sequence  string
	Index     int
	Delay     time.Duration
	Operation string
	Due       time.Time

	gen   uint64
	timer Timer
}

type ignition struct {
	remaining time.Duration
	timer     Timer
}

// Engine applies operations and owns pending timed steps. It is safe for concurrent use.
type Engine struct {
	mu     sync.Mutex
	store  *valve.Store
	cmd    valve.Commander
	pub    notify.Publisher
	logger logger.Logger
	sched  Scheduler
	now    func() time.Time

	table      []Operation
	order      []string
	ops        map[string]map[string]bool
	seqs       map[string]Sequence
	ignitionOp string

	gen      uint64
	pending  []*PendingStep
	current  string
	ignition *ignition
}

// Option configures an Engine.
type Option func(*Engine) error

// WithOperations replaces the default operation table.
func WithOperations(ops []Operation) Option {
	return func(e *Engine) error {
		e.setOperations(ops)
		return nil
	}
}

// WithSequences replaces the default timed sequences.
func WithSequences(seqs []Sequence) Option {
	return func(e *Engine) error {
		e.seqs = make(map[string]Sequence, len(seqs))
		for _, s := range seqs {
			e.seqs[s.Trigger] = s
		}

		return nil
	}
}

// WithScheduler sets the scheduler for timed steps. Defaults to RealScheduler.
func WithScheduler(s Scheduler) Option {
	return func(e *Engine) error {
		if s == nil {
			return errors.New("scheduler is nil")
		}
		e.sched = s

		return nil
	}
}

// WithIgnitionOperation sets the operation applied when the ignition countdown completes.
// Defaults to Pressurization.
func WithIgnitionOperation(name string) Option {
	return func(e *Engine) error {
		e.ignitionOp = name
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		e.logger = l

		return nil
	}
}

// WithClock sets the time source for notifications.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) error {
		e.now = now
		return nil
	}
}

// NewEngine creates an Engine over store using the default operation table and sequences.
func NewEngine(store *valve.Store, cmd valve.Commander, pub notify.Publisher, opts ...Option) (*Engine, error) {
	if store == nil || cmd == nil {
		return nil, errors.New("engine requires a valve store and commander")
	}
	if pub == nil {
		pub = notify.Discard
	}

	e := &Engine{
		store:      store,
		cmd:        cmd,
		pub:        pub,
		logger:     logger.GetLogger(),
		sched:      RealScheduler,
		now:        time.Now,
		ignitionOp: OpPressurization,
	}
	e.setOperations(DefaultOperations())
	if err := WithSequences(DefaultSequences())(e); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	if err := ValidateTable(store.Roster(), e.table, e.sequences()); err != nil {
		return nil, err
	}
	if _, ok := e.ops[e.ignitionOp]; !ok {
		return nil, fmt.Errorf("ignition operation %q is not an operation", e.ignitionOp)
	}
	e.logger = e.logger.With("component", "sequence")

	return e, nil
}

// Operations returns the operation names in table order.
func (e *Engine) Operations() []string {
	return append([]string(nil), e.order...)
}

// Table returns the operation table in table order.
func (e *Engine) Table() []Operation {
	out := make([]Operation, len(e.table))
	for i, op := range e.table {
		out[i] = Operation{Name: op.Name, Open: append([]string(nil), op.Open...)}
	}

	return out
}

// Current returns the last applied operation, or "" if none.
func (e *Engine) Current() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.current
}

// Pending returns the scheduled steps in schedule order.
func (e *Engine) Pending() []PendingStep {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]PendingStep, 0, len(e.pending))
	for _, ps := range e.pending {
		cp := *ps
		cp.timer = nil
		out = append(out, cp)
	}

	return out
}

// IgnitionArmed reports whether the ignition countdown is running, and the time remaining.
func (e *Engine) IgnitionArmed() (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ignition == nil {
		return 0, false
	}

	return e.ignition.remaining, true
}

// ApplyOperation applies the named operation on operator request.
//
// It returns ErrLocked, without side effects, while locked out. Pending timed steps and a running
// ignition countdown are cancelled first. An unknown name closes every valve. Only valves whose
// state changes are commanded, in roster order. If name triggers a sequence its steps are scheduled.
func (e *Engine) ApplyOperation(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store.Locked() {
		e.logger.Info("operation refused, lockout engaged", "operation", name)
		return ErrLocked
	}

	return e.applyOperatorLocked(name)
}

// SetValve commands a single valve on operator request. Pending timed steps and the ignition
// countdown keep running.
//
// It returns ErrLocked, without transmitting, while locked out and valve.ErrUnknownValve for a
// name outside the roster. Setting a valve to its current state sends nothing.
func (e *Engine) SetValve(name string, open bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	changed, err := e.store.Set(name, open)
	if err != nil {
		if errors.Is(err, valve.ErrLocked) {
			e.logger.Info("manual valve command refused, lockout engaged", "valve", name)
			return ErrLocked
		}
		return err
	}
	if !changed {
		return nil
	}

	e.cmd.SendValveCommand(name, open)
	e.logger.Info("valve set manually", "valve", name, "open", open)
	e.pub.Publish(notify.ValveChanged{Name: name, Open: open, Source: notify.SourceManual, At: e.now()})

	return nil
}

// CancelPending cancels every pending timed step and the ignition countdown.
func (e *Engine) CancelPending() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelPendingLocked()
}

// ArmIgnition starts the ignition countdown. When it completes, the ignition operation is applied
// as if by the operator, unless the lockout is engaged at that moment.
//
// A Countdown notification is published at arming and at every whole second.
func (e *Engine) ArmIgnition(countdown time.Duration) error {
	if countdown <= 0 {
		return fmt.Errorf("ignition countdown must be positive, got %v", countdown)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store.Locked() {
		return ErrLocked
	}
	if e.ignition != nil {
		return ErrIgnitionArmed
	}

	ig := &ignition{remaining: countdown}
	e.ignition = ig
	e.logger.Warn("ignition countdown armed", "countdown", countdown)
	e.pub.Publish(notify.Countdown{Remaining: countdown, At: e.now()})
	e.scheduleIgnitionTick(ig)

	return nil
}

// CancelIgnition stops a running ignition countdown.
func (e *Engine) CancelIgnition() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ignition == nil {
		return ErrIgnitionNotArmed
	}
	e.cancelIgnitionLocked()

	return nil
}

func (e *Engine) applyOperatorLocked(name string) error {
	e.cancelPendingLocked()

	if err := e.applyLocked(name); err != nil {
		return err
	}

	if seq, ok := e.seqs[name]; ok {
		e.scheduleLocked(seq)
	}

	return nil
}

// applyLocked writes the configuration of name to the store, then commands the changed valves.
func (e *Engine) applyLocked(name string) error {
	set, known := e.ops[name]
	if !known {
		e.logger.Warn("unknown operation, closing all valves", "operation", name)
	}

	roster := e.store.Roster()
	target := make(map[string]bool, len(roster))
	for _, v := range roster {
		target[v] = set[v]
	}

	changed, err := e.store.Apply(target)
	if err != nil {
		if errors.Is(err, valve.ErrLocked) {
			return ErrLocked
		}
		return err
	}

	at := e.now()
	for _, st := range changed {
		e.cmd.SendValveCommand(st.Name, st.Open)
		e.pub.Publish(notify.ValveChanged{Name: st.Name, Open: st.Open, Source: notify.SourceOperation, At: at})
	}
	e.current = name
	e.logger.Info("operation applied", "operation", name, "changed", len(changed))
	e.pub.Publish(notify.OperationChanged{Name: name, At: at})

	return nil
}

func (e *Engine) scheduleLocked(seq Sequence) {
	gen := e.gen
	origin := e.now()
	for i, st := range seq.Steps {
		ps := &PendingStep{
			Sequence:  seq.Trigger,
			Index:     i,
			Delay:     st.After,
			Operation: st.Operation,
			Due:       origin.Add(st.After),
			gen:       gen,
		}
		ps.timer = e.sched.AfterFunc(st.After, func() { e.fire(ps) })
		e.pending = append(e.pending, ps)
		e.logger.Debug("timed step scheduled", "sequence", seq.Trigger, "step", i, "operation", st.Operation, "after", st.After)
	}
}

// fire runs a timed step. The step is skipped when superseded or locked out.
func (e *Engine) fire(ps *PendingStep) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.removePendingLocked(ps)

	skipped := ps.gen != e.gen
	if !skipped && e.store.Locked() {
		skipped = true
	}
	if !skipped {
		if err := e.applyLocked(ps.Operation); err != nil {
			skipped = true
		}
	}

	if skipped {
		e.logger.Info("timed step skipped", "sequence", ps.Sequence, "operation", ps.Operation)
	}
	e.pub.Publish(notify.SequenceStep{Sequence: ps.Sequence, Operation: ps.Operation, Skipped: skipped, At: e.now()})
}

func (e *Engine) removePendingLocked(ps *PendingStep) {
	for i, p := range e.pending {
		if p == ps {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			return
		}
	}
}

func (e *Engine) cancelPendingLocked() {
	e.gen++
	for _, ps := range e.pending {
		ps.timer.Stop()
	}
	if n := len(e.pending); n > 0 {
		e.logger.Info("pending timed steps cancelled", "count", n)
	}
	e.pending = nil

	if e.ignition != nil {
		e.cancelIgnitionLocked()
	}
}

func (e *Engine) cancelIgnitionLocked() {
	if e.ignition.timer != nil {
		e.ignition.timer.Stop()
	}
	remaining := e.ignition.remaining
	e.ignition = nil
	e.logger.Warn("ignition countdown cancelled", "remaining", remaining)
	e.pub.Publish(notify.Countdown{Remaining: remaining, Cancelled: true, At: e.now()})
}

func (e *Engine) scheduleIgnitionTick(ig *ignition) {
	step := time.Second
	if ig.remaining < step {
		step = ig.remaining
	}
	ig.timer = e.sched.AfterFunc(step, func() { e.ignitionTick(ig, step) })
}

func (e *Engine) ignitionTick(ig *ignition, step time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ignition != ig {
		return
	}

	ig.remaining -= step
	if ig.remaining > 0 {
		e.pub.Publish(notify.Countdown{Remaining: ig.remaining, At: e.now()})
		e.scheduleIgnitionTick(ig)

		return
	}

	e.ignition = nil
	if e.store.Locked() {
		e.logger.Warn("ignition skipped, lockout engaged")
		e.pub.Publish(notify.Countdown{Cancelled: true, At: e.now()})
		e.pub.Publish(notify.SequenceStep{Sequence: IgnitionSequence, Operation: e.ignitionOp, Skipped: true, At: e.now()})

		return
	}

	e.pub.Publish(notify.Countdown{At: e.now()})
	err := e.applyOperatorLocked(e.ignitionOp)
	e.pub.Publish(notify.SequenceStep{Sequence: IgnitionSequence, Operation: e.ignitionOp, Skipped: err != nil, At: e.now()})
}

func (e *Engine) setOperations(ops []Operation) {
	e.table = append([]Operation(nil), ops...)
	e.order = make([]string, 0, len(ops))
	e.ops = make(map[string]map[string]bool, len(ops))
	for _, op := range ops {
		if _, dup := e.ops[op.Name]; !dup {
			e.order = append(e.order, op.Name)
		}
		set := make(map[string]bool, len(op.Open))
		for _, v := range op.Open {
			set[v] = true
		}
		e.ops[op.Name] = set
	}
}

func (e *Engine) sequences() []Sequence {
	out := make([]Sequence, 0, len(e.seqs))
	for _, s := range e.seqs {
		out = append(out, s)
	}

	return out
}
