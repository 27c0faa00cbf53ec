package link

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-gse/logger"
)

// ConnState represents the stages of the MCU link.
type ConnState uint32

const (
	// Disconnected indicates that no socket is open.
	Disconnected ConnState = iota
	// Connecting indicates that the socket is bound and the first datagram from the MCU is awaited.
	Connecting
	// Connected indicates that START was sent and heartbeat supervision is running.
	Connected
)

// String returns string representation of the state.
func (cs ConnState) String() string {
	switch cs {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// StateChangeHandler is invoked when the link state changes.
//
// Note: the handler is invoked while the state manager holds its lock. It must not block and
// must not call back into the state manager.
type StateChangeHandler func(prevState ConnState, newState ConnState)

// StateMgr manages the connection state of the link.
//
// It provides guarded transitions and notifies handlers of every change. Only one
// Disconnected -> Connecting transition can succeed, which is what makes concurrent
// Connect calls safe.
type StateMgr struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	logger   logger.Logger
	handlers []StateChangeHandler
}

// NewStateMgr creates a state manager in the Disconnected state.
func NewStateMgr(l logger.Logger, handlers ...StateChangeHandler) *StateMgr {
	if l == nil {
		l = logger.GetLogger()
	}
	sm := &StateMgr{logger: l}
	sm.cond = sync.NewCond(&sm.mu)
	sm.state.Store(uint32(Disconnected))
	sm.AddHandler(handlers...)

	return sm
}

// State returns the current connection state.
func (sm *StateMgr) State() ConnState {
	return ConnState(sm.state.Load())
}

// IsConnected returns if the current state is Connected.
func (sm *StateMgr) IsConnected() bool {
	return sm.State() == Connected
}

// AddHandler adds one or more handlers to be invoked on state changes.
func (sm *StateMgr) AddHandler(handlers ...StateChangeHandler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			sm.handlers = append(sm.handlers, h)
		}
	}
}

// WaitState waits for the connection state to reach the specified state or until the context is done.
// It returns nil if the desired state is reached, or the context error otherwise.
func (sm *StateMgr) WaitState(ctx context.Context, state ConnState) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.State() == state {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		sm.mu.Lock()
		sm.cond.Broadcast()
		sm.mu.Unlock()
	})
	defer stop()

	for sm.State() != state {
		if err := ctx.Err(); err != nil {
			return err
		}
		sm.cond.Wait()
	}

	return nil
}

// ToConnecting transitions Disconnected -> Connecting.
//
// Returns ErrInvalidTransition from any other state.
func (sm *StateMgr) ToConnecting() error {
	return sm.transition(Connecting, Disconnected)
}

// ToConnected transitions Connecting -> Connected.
//
// Returns ErrInvalidTransition from any other state, which happens when the attempt
// was cancelled by a concurrent disconnect.
func (sm *StateMgr) ToConnected() error {
	return sm.transition(Connected, Connecting)
}

// ToDisconnected transitions to Disconnected from any state.
// It reports whether the state actually changed.
func (sm *StateMgr) ToDisconnected() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cur := sm.State()
	if cur == Disconnected {
		return false
	}
	sm.setState(Disconnected)
	sm.invokeHandlers(cur, Disconnected)

	return true
}

func (sm *StateMgr) transition(to ConnState, from ConnState) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cur := sm.State()
	if cur != from {
		sm.logger.Debug("rejected link state transition", "method", "transition", "cur_state", cur, "desired_state", to)
		return ErrInvalidTransition
	}
	sm.setState(to)
	sm.invokeHandlers(cur, to)

	return nil
}

// setState stores newState and wakes any WaitState callers. Caller holds sm.mu.
func (sm *StateMgr) setState(newState ConnState) {
	sm.state.Store(uint32(newState))
	sm.cond.Broadcast()
}

func (sm *StateMgr) invokeHandlers(prevState ConnState, newState ConnState) {
	for _, handler := range sm.handlers {
		handler(prevState, newState)
	}
}
