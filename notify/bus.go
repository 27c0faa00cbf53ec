package notify

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Publisher is the producer side of a Bus.
type Publisher interface {
	Publish(ev Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ev Event)

func (f PublisherFunc) Publish(ev Event) { f(ev) }

// Discard is a Publisher that drops every event.
var Discard Publisher = PublisherFunc(func(Event) {})

// Bus fans events out to subscribers.
type Bus struct {
	subs   *xsync.MapOf[uint64, *Subscription]
	nextID atomic.Uint64
}

// NewBus creates a Bus without subscribers.
func NewBus() *Bus {
	return &Bus{subs: xsync.NewMapOf[uint64, *Subscription]()}
}

// Subscription receives events on C until Close is called.
type Subscription struct {
	// C delivers events in publish order.
	C <-chan Event

	ch      chan Event
	bus     *Bus
	id      uint64
	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
	kinds   map[Kind]bool
}

// Subscribe registers a subscriber with a buffer of size events. An optional kinds filter
// restricts delivery to those kinds.
//
// A full buffer evicts its oldest non-critical event, so a slow subscriber loses sensor and
// countdown updates before it loses an abort or a lockout change.
func (b *Bus) Subscribe(size int, kinds ...Kind) *Subscription {
	if size < 1 {
		size = 1
	}
	ch := make(chan Event, size)
	sub := &Subscription{C: ch, ch: ch, bus: b, id: b.nextID.Add(1)}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}
	b.subs.Store(sub.id, sub)

	return sub
}

// Publish delivers ev to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	if ev == nil {
		return
	}
	b.subs.Range(func(_ uint64, sub *Subscription) bool {
		sub.deliver(ev)
		return true
	})
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	return b.subs.Size()
}

// Dropped returns how many events this subscriber lost to a full buffer. Critical events are
// only lost when the whole buffer is critical.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	s.bus.subs.Delete(s.id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *Subscription) deliver(ev Event) {
	if s.kinds != nil && !s.kinds[ev.Kind()] {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.ch <- ev:
		return
	default:
	}

	// Full. Evict the oldest non-critical event; the consumer may be draining concurrently,
	// so take what is buffered, drop one, and put the rest back in order.
	buf := make([]Event, 0, cap(s.ch))
drain:
	for len(buf) < cap(s.ch) {
		select {
		case old := <-s.ch:
			buf = append(buf, old)
		default:
			break drain
		}
	}

	if len(buf) == cap(s.ch) {
		victim := -1
		for i, old := range buf {
			if !Critical(old.Kind()) {
				victim = i
				break
			}
		}
		switch {
		case victim >= 0:
			buf = append(buf[:victim], buf[victim+1:]...)
		case !Critical(ev.Kind()):
			// every buffered event is critical: drop the incoming one
			ev = nil
		default:
			buf = buf[1:]
		}
		s.dropped.Add(1)
	}

	// s.mu serializes producers, so the re-enqueue never blocks.
	for _, old := range buf {
		s.ch <- old
	}
	if ev != nil {
		s.ch <- ev
	}
}

// Critical reports whether events of kind k are kept in preference to others when a
// subscriber's buffer is full. Aborts and lockout changes are critical.
func Critical(k Kind) bool {
	return k == KindAbort || k == KindLockout
}
