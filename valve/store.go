// Package valve holds the commanded state of every stand valve together with the abort lockout flag.
//
// Store is the single place where valve state and lockout change. Apply and Lockout are atomic
// check-and-set operations, so there is no window in which a caller observes "unlocked" and then
// writes a valve while an abort locks the store.
package valve

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrLocked is returned by Apply while the store is locked out.
	ErrLocked = errors.New("valve control locked out")
	// ErrUnknownValve indicates a valve name outside the roster.
	ErrUnknownValve = errors.New("unknown valve")
	// ErrEmptyRoster is returned by NewStore for an empty roster.
	ErrEmptyRoster = errors.New("valve roster is empty")
)

// DefaultRoster is the stand valve roster in command order.
var DefaultRoster = []string{"NCS1", "NCS2", "NCS3", "NCS5", "NCS6", "LA-BV1", "GV-1", "GV-2"}

// State is the commanded state of one valve.
type State struct {
	Name string
	Open bool
}

// Commander transmits a valve command to the stand. Implementations must not block for long
// and must not return errors: delivery is best effort.
type Commander interface {
	SendValveCommand(name string, open bool)
}

// CommanderFunc adapts a function to Commander.
type CommanderFunc func(name string, open bool)

func (f CommanderFunc) SendValveCommand(name string, open bool) { f(name, open) }

// Store is the mutex guarded valve state and lockout flag.
type Store struct {
	mu     sync.RWMutex
	roster []string
	index  map[string]int
	open   []bool
	locked bool
}

// NewStore creates a store with every roster valve closed and the lockout released.
func NewStore(roster []string) (*Store, error) {
	if len(roster) == 0 {
		return nil, ErrEmptyRoster
	}

	s := &Store{
		roster: make([]string, len(roster)),
		index:  make(map[string]int, len(roster)),
		open:   make([]bool, len(roster)),
	}
	for i, name := range roster {
		if name == "" {
			return nil, fmt.Errorf("valve %d has an empty name", i)
		}
		if _, dup := s.index[name]; dup {
			return nil, fmt.Errorf("duplicate valve %q in roster", name)
		}
		s.roster[i] = name
		s.index[name] = i
	}

	return s, nil
}

// Roster returns the valve names in command order.
func (s *Store) Roster() []string {
	return append([]string(nil), s.roster...)
}

// Has reports whether name is in the roster.
func (s *Store) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// IsOpen returns the commanded state of name. Unknown valves read as closed.
func (s *Store) IsOpen(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[name]
	return ok && s.open[i]
}

// Locked reports whether the abort lockout is engaged.
func (s *Store) Locked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.locked
}

// Snapshot returns every valve state in roster order.
func (s *Store) Snapshot() []State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshotLocked()
}

// OpenSet returns the names of the open valves as a set.
func (s *Store) OpenSet() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool)
	for i, name := range s.roster {
		if s.open[i] {
			out[name] = true
		}
	}

	return out
}

// Apply sets the valves named in target, leaving the others untouched, and returns the valves
// whose state changed in roster order.
//
// It returns ErrLocked, without side effects, while locked and ErrUnknownValve if target names
// a valve outside the roster.
func (s *Store) Apply(target map[string]bool) ([]State, error) {
	for name := range target {
		if !s.Has(name) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownValve, name)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locked {
		return nil, ErrLocked
	}

	return s.applyLocked(target), nil
}

// Set changes a single valve. It is Apply for one name.
func (s *Store) Set(name string, open bool) (bool, error) {
	changed, err := s.Apply(map[string]bool{name: open})
	return len(changed) > 0, err
}

// Lockout atomically engages the lockout and applies the safe configuration.
//
// safe maps valve names to their safe state; roster valves missing from safe are closed.
// It returns the valves that changed, the full pre-abort snapshot and true, or false with no
// side effects if the store was already locked.
func (s *Store) Lockout(safe map[string]bool) (changed []State, pre []State, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locked {
		return nil, nil, false
	}

	pre = s.snapshotLocked()
	full := make(map[string]bool, len(s.roster))
	for _, name := range s.roster {
		full[name] = safe[name]
	}
	changed = s.applyLocked(full)
	s.locked = true

	return changed, pre, true
}

// Unlock releases the lockout. Valve states are not touched.
// It reports whether the store was locked.
func (s *Store) Unlock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	was := s.locked
	s.locked = false

	return was
}

func (s *Store) applyLocked(target map[string]bool) []State {
	var changed []State
	for i, name := range s.roster {
		want, ok := target[name]
		if !ok || s.open[i] == want {
			continue
		}
		s.open[i] = want
		changed = append(changed, State{Name: name, Open: want})
	}

	return changed
}

func (s *Store) snapshotLocked() []State {
	out := make([]State, len(s.roster))
	for i, name := range s.roster {
		out[i] = State{Name: name, Open: s.open[i]}
	}

	return out
}
