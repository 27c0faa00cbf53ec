package link

import (
	"sync"
	"time"

	"github.com/arloliu/go-gse/internal/queue"
)

// EventType identifies the kind of a link Event.
type EventType uint8

const (
	// EventStateChanged reports a connection state transition.
	EventStateChanged EventType = iota + 1
	// EventConnectionFailed reports that a connection attempt ended without reaching Connected.
	EventConnectionFailed
	// EventDisconnected reports the end of a session that reached Connecting or Connected.
	EventDisconnected
	// EventTelemetry carries one telemetry line from the MCU.
	EventTelemetry
)

func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state_changed"
	case EventConnectionFailed:
		return "connection_failed"
	case EventDisconnected:
		return "disconnected"
	case EventTelemetry:
		return "telemetry"
	default:
		return "unknown"
	}
}

// Event is a notification from the Manager. Only the fields relevant to Type are set.
type Event struct {
	Type EventType
	// Session identifies the connection session the event belongs to.
	Session uint64
	At      time.Time

	// EventStateChanged
	PrevState ConnState
	State     ConnState

	// EventDisconnected
	Reason string

	// EventConnectionFailed
	Err error

	// EventTelemetry
	Line string
}

// eventPump moves events from an unbounded lock-free queue to a channel, so that
// socket goroutines never block on a slow consumer and ordering is preserved.
type eventPump struct {
	q      queue.Queue[Event]
	signal chan struct{}
	out    chan Event
	done   chan struct{}
	once   sync.Once
}

func newEventPump(bufSize int) *eventPump {
	p := &eventPump{
		q:      queue.NewLockFreeQueue[Event](),
		signal: make(chan struct{}, 1),
		out:    make(chan Event, bufSize),
		done:   make(chan struct{}),
	}
	go p.run()

	return p
}

func (p *eventPump) push(ev Event) {
	select {
	case <-p.done:
		return
	default:
	}

	p.q.Enqueue(ev)
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *eventPump) run() {
	defer close(p.out)

	for {
		for {
			ev, ok := p.q.Dequeue()
			if !ok {
				break
			}
			select {
			case p.out <- ev:
			case <-p.done:
				return
			}
		}

		select {
		case <-p.signal:
		case <-p.done:
			return
		}
	}
}

// pending returns the number of events queued but not yet moved to the channel.
func (p *eventPump) pending() int {
	return p.q.Length()
}

// close stops the pump. Events not yet delivered are dropped and the output channel is closed.
func (p *eventPump) close() {
	p.once.Do(func() { close(p.done) })
}
