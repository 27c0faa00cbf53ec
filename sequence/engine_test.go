package sequence

import (
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-gse/notify"
	"github.com/arloliu/go-gse/valve"
	"github.com/stretchr/testify/require"
)

type cmdRecorder struct {
	mu   sync.Mutex
	cmds []string
}

func (r *cmdRecorder) SendValveCommand(name string, open bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := "0"
	if open {
		state = "1"
	}
	r.cmds = append(r.cmds, name+":"+state)
}

func (r *cmdRecorder) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.cmds...)
}

type engineFixture struct {
	store *valve.Store
	cmd   *cmdRecorder
	sched *manualScheduler
	sub   *notify.Subscription
	eng   *Engine
}

func newEngineFixture(t *testing.T, opts ...Option) *engineFixture {
	t.Helper()

	store, err := valve.NewStore(valve.DefaultRoster)
	require.NoError(t, err)

	bus := notify.NewBus()
	f := &engineFixture{store: store, cmd: &cmdRecorder{}, sched: &manualScheduler{}, sub: bus.Subscribe(512)}
	f.eng, err = NewEngine(store, f.cmd, bus, append([]Option{WithScheduler(f.sched)}, opts...)...)
	require.NoError(t, err)

	return f
}

func (f *engineFixture) drain(kind notify.Kind) []notify.Event {
	var out []notify.Event
	for {
		select {
		case ev := <-f.sub.C:
			if ev.Kind() == kind {
				out = append(out, ev)
			}
		default:
			return out
		}
	}
}

func TestEngine_Operations(t *testing.T) {
	require := require.New(t)

	f := newEngineFixture(t)
	ops := f.eng.Operations()
	require.Len(ops, 21)
	require.Equal("Open Pressure", ops[0])
	require.Equal(OpPowerDown, ops[len(ops)-1])
	require.Len(f.eng.Table(), 21)
}

func TestEngine_ApplyCommandsOnlyChangedValves(t *testing.T) {
	require := require.New(t)

	f := newEngineFixture(t)

	require.NoError(f.eng.ApplyOperation("Open Pressure"))
	require.Equal([]string{"LA-BV1:1"}, f.cmd.sent())

	require.NoError(f.eng.ApplyOperation("Oxidizer Leak Check Fill"))
	require.Equal([]string{"LA-BV1:1", "NCS1:1"}, f.cmd.sent())

	// re-applying the same operation sends nothing
	require.NoError(f.eng.ApplyOperation("Oxidizer Leak Check Fill"))
	require.Len(f.cmd.sent(), 2)

	require.Equal("Oxidizer Leak Check Fill", f.eng.Current())
	require.Len(f.drain(notify.KindOperation), 3)
}

func TestEngine_UnknownOperationClosesAll(t *testing.T) {
	require := require.New(t)

	f := newEngineFixture(t)
	require.NoError(f.eng.ApplyOperation("Oxidizer Vent"))
	require.Len(f.store.OpenSet(), 4)

	require.NoError(f.eng.ApplyOperation("No Such Operation"))
	require.Empty(f.store.OpenSet())
	require.Equal("No Such Operation", f.eng.Current())
}

func TestEngine_LockedApplyHasNoEffect(t *testing.T) {
	require := require.New(t)

	f := newEngineFixture(t)
	_, _, ok := f.store.Lockout(map[string]bool{"NCS3": true})
	require.True(ok)
	f.drain(notify.KindValve)

	require.ErrorIs(f.eng.ApplyOperation("Fire"), ErrLocked)
	require.Equal(map[string]bool{"NCS3": true}, f.store.OpenSet())
	require.Empty(f.cmd.sent())
	require.Empty(f.drain(notify.KindOperation))
	require.Empty(f.eng.Pending())
}

func TestEngine_SetValve(t *testing.T) {
	require := require.New(t)

	f := newEngineFixture(t)
	require.NoError(f.eng.ApplyOperation(OpPressurization))
	require.Len(f.eng.Pending(), 2)
	f.drain(notify.KindValve)

	require.NoError(f.eng.SetValve("NCS3", true))
	require.True(f.store.IsOpen("NCS3"))
	require.Contains(f.cmd.sent(), "NCS3:1")
	require.Len(f.eng.Pending(), 2)

	evs := f.drain(notify.KindValve)
	require.Len(evs, 1)
	vc, ok := evs[0].(notify.ValveChanged)
	require.True(ok)
	require.Equal(notify.SourceManual, vc.Source)

	// no change, no transmission
	n := len(f.cmd.sent())
	require.NoError(f.eng.SetValve("NCS3", true))
	require.Len(f.cmd.sent(), n)

	require.ErrorIs(f.eng.SetValve("NOPE", true), valve.ErrUnknownValve)
}

func TestEngine_SetValveLocked(t *testing.T) {
	require := require.New(t)

	f := newEngineFixture(t)
	_, _, ok := f.store.Lockout(nil)
	require.True(ok)
	f.drain(notify.KindValve)

	require.ErrorIs(f.eng.SetValve("NCS1", true), ErrLocked)
	require.False(f.store.IsOpen("NCS1"))
	require.Empty(f.cmd.sent())
	require.Empty(f.drain(notify.KindValve))
}

func TestEngine_FiringSequence(t *testing.T) {
	require := require.New(t)

	f := newEngineFixture(t)

	require.NoError(f.eng.ApplyOperation(OpPressurization))
	require.Equal([]string{"NCS1:1", "LA-BV1:1"}, f.cmd.sent())
	pending := f.eng.Pending()
	require.Len(pending, 2)
	require.Equal(OpFire, pending[0].Operation)
	require.Equal(5*time.Second, pending[0].Delay)
	require.Equal(OpKillAndVent, pending[1].Operation)
	require.Equal(20*time.Second, pending[1].Delay)

	f.sched.Advance(4999 * time.Millisecond)
	require.Len(f.cmd.sent(), 2)

	f.sched.Advance(time.Millisecond)
	require.Equal(OpFire, f.eng.Current())
	require.Equal([]string{"NCS1:1", "LA-BV1:1", "GV-1:1", "GV-2:1"}, f.cmd.sent())
	require.Equal(map[string]bool{"NCS1": true, "LA-BV1": true, "GV-1": true, "GV-2": true}, f.store.OpenSet())

	f.sched.Advance(15 * time.Second)
	require.Equal(OpKillAndVent, f.eng.Current())
	require.Equal([]string{"NCS1:1", "LA-BV1:1", "GV-1:1", "GV-2:1", "NCS1:0", "NCS3:1"}, f.cmd.sent())
	require.Empty(f.eng.Pending())

	steps := f.drain(notify.KindSequence)
	require.Len(steps, 2)
	for _, ev := range steps {
		require.False(ev.(notify.SequenceStep).Skipped)
	}
}

func TestEngine_AbortCancelsPendingSteps(t *testing.T) {
	require := require.New(t)

	f := newEngineFixture(t)
	require.NoError(f.eng.ApplyOperation(OpPressurization))

	f.sched.Advance(2 * time.Second)
	_, _, ok := f.store.Lockout(map[string]bool{"NCS3": true})
	require.True(ok)
	f.eng.CancelPending()
	require.Zero(f.sched.active())

	f.sched.Advance(30 * time.Second)
	require.Equal(map[string]bool{"NCS3": true}, f.store.OpenSet())
	require.Equal([]string{"NCS1:1", "LA-BV1:1"}, f.cmd.sent())
}

func TestEngine_StepSkippedWhileLocked(t *testing.T) {
	require := require.New(t)

	f := newEngineFixture(t)
	require.NoError(f.eng.ApplyOperation(OpPressurization))

	// lockout without cancelling: the step must re-check at fire time
	_, _, ok := f.store.Lockout(nil)
	require.True(ok)
	f.sched.Advance(5 * time.Second)

	require.Empty(f.store.OpenSet())
	require.False(f.store.IsOpen("GV-1"))
	steps := f.drain(notify.KindSequence)
	require.Len(steps, 1)
	require.True(steps[0].(notify.SequenceStep).Skipped)
}

func TestEngine_ReapplySupersedesTimers(t *testing.T) {
	require := require.New(t)

	f := newEngineFixture(t)
	require.NoError(f.eng.ApplyOperation(OpPressurization))
	f.sched.Advance(3 * time.Second)
	require.NoError(f.eng.ApplyOperation(OpPressurization))
	require.Len(f.eng.Pending(), 2)

	// the first Fire at t=5s is gone
	f.sched.Advance(2 * time.Second)
	require.Equal(OpPressurization, f.eng.Current())

	f.sched.Advance(3 * time.Second)
	require.Equal(OpFire, f.eng.Current())

	// an unrelated operator operation cancels the remaining Kill and Vent
	require.NoError(f.eng.ApplyOperation("Postfire Purge"))
	require.Empty(f.eng.Pending())
	f.sched.Advance(time.Minute)
	require.Equal("Postfire Purge", f.eng.Current())
}

func TestEngine_Ignition(t *testing.T) {
	t.Run("countdown applies pressurization", func(t *testing.T) {
		require := require.New(t)

		f := newEngineFixture(t)
		require.NoError(f.eng.ArmIgnition(3 * time.Second))
		require.ErrorIs(f.eng.ArmIgnition(3*time.Second), ErrIgnitionArmed)

		remaining, armed := f.eng.IgnitionArmed()
		require.True(armed)
		require.Equal(3*time.Second, remaining)

		f.sched.Advance(2 * time.Second)
		require.Empty(f.cmd.sent())
		f.sched.Advance(time.Second)
		require.Equal(OpPressurization, f.eng.Current())
		require.Len(f.eng.Pending(), 2)

		var got []time.Duration
		for _, ev := range f.drain(notify.KindCountdown) {
			got = append(got, ev.(notify.Countdown).Remaining)
		}
		require.Equal([]time.Duration{3 * time.Second, 2 * time.Second, time.Second, 0}, got)

		_, armed = f.eng.IgnitionArmed()
		require.False(armed)
	})

	t.Run("cancel", func(t *testing.T) {
		require := require.New(t)

		f := newEngineFixture(t)
		require.ErrorIs(f.eng.CancelIgnition(), ErrIgnitionNotArmed)
		require.NoError(f.eng.ArmIgnition(10 * time.Second))
		f.sched.Advance(4 * time.Second)
		require.NoError(f.eng.CancelIgnition())
		f.sched.Advance(time.Minute)
		require.Empty(f.cmd.sent())

		cds := f.drain(notify.KindCountdown)
		last := cds[len(cds)-1].(notify.Countdown)
		require.True(last.Cancelled)
		require.Equal(6*time.Second, last.Remaining)
	})

	t.Run("refused while locked", func(t *testing.T) {
		f := newEngineFixture(t)
		f.store.Lockout(nil)
		require.ErrorIs(t, f.eng.ArmIgnition(time.Second), ErrLocked)
	})

	t.Run("abort cancels countdown", func(t *testing.T) {
		require := require.New(t)

		f := newEngineFixture(t)
		require.NoError(f.eng.ArmIgnition(10 * time.Second))
		f.store.Lockout(nil)
		f.eng.CancelPending()
		f.sched.Advance(time.Minute)
		require.Empty(f.cmd.sent())
		_, armed := f.eng.IgnitionArmed()
		require.False(armed)
	})

	t.Run("lockout at expiry skips", func(t *testing.T) {
		require := require.New(t)

		f := newEngineFixture(t)
		require.NoError(f.eng.ArmIgnition(2 * time.Second))
		f.store.Lockout(nil)
		f.sched.Advance(2 * time.Second)
		require.Empty(f.cmd.sent())

		steps := f.drain(notify.KindSequence)
		require.Len(steps, 1)
		require.Equal(IgnitionSequence, steps[0].(notify.SequenceStep).Sequence)
		require.True(steps[0].(notify.SequenceStep).Skipped)
	})

	t.Run("invalid countdown", func(t *testing.T) {
		f := newEngineFixture(t)
		require.Error(t, f.eng.ArmIgnition(0))
	})
}

func TestNewEngine_Validation(t *testing.T) {
	store, err := valve.NewStore(valve.DefaultRoster)
	require.NoError(t, err)

	tests := []struct {
		name   string
		opts   []Option
		errMsg string
	}{
		{
			name:   "unknown valve",
			opts:   []Option{WithOperations([]Operation{{"Bad", []string{"NCS4"}}})},
			errMsg: `opens unknown valve "NCS4"`,
		},
		{
			name:   "duplicate operation",
			opts:   []Option{WithOperations([]Operation{{"A", nil}, {"A", nil}}), WithSequences(nil), WithIgnitionOperation("A")},
			errMsg: `duplicate operation "A"`,
		},
		{
			name:   "unknown step operation",
			opts:   []Option{WithSequences([]Sequence{{Trigger: OpPressurization, Steps: []Step{{time.Second, "Nope"}}}})},
			errMsg: `unknown operation "Nope"`,
		},
		{
			name:   "non-positive delay",
			opts:   []Option{WithSequences([]Sequence{{Trigger: OpPressurization, Steps: []Step{{0, OpFire}}}})},
			errMsg: "delay must be positive",
		},
		{
			name:   "unknown trigger",
			opts:   []Option{WithSequences([]Sequence{{Trigger: "Nope", Steps: []Step{{time.Second, OpFire}}}})},
			errMsg: `trigger "Nope"`,
		},
		{
			name:   "unknown ignition operation",
			opts:   []Option{WithIgnitionOperation("Nope")},
			errMsg: `ignition operation "Nope"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(store, &cmdRecorder{}, nil, tt.opts...)
			require.ErrorContains(t, err, tt.errMsg)
		})
	}
}
