package controller

import (
	"sync"
	"time"

	"github.com/arloliu/go-gse/link"
)

// fakeLink is an in-memory Link. Connect succeeds immediately.
type fakeLink struct {
	mu         sync.Mutex
	state      link.ConnState
	events     chan link.Event
	cmds       []string
	connectErr error
	session    uint64
}

func newFakeLink() *fakeLink {
	return &fakeLink{events: make(chan link.Event, 256)}
}

func (f *fakeLink) Events() <-chan link.Event { return f.events }

func (f *fakeLink) State() link.ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state
}

func (f *fakeLink) IsConnected() bool { return f.State() == link.Connected }

func (f *fakeLink) Connect(host string, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.connectErr != nil {
		return f.connectErr
	}
	if f.state == link.Connected {
		f.disconnectLocked(link.ReasonManualReconnect)
	}
	f.session++
	f.setStateLocked(link.Connecting)
	f.setStateLocked(link.Connected)

	return nil
}

func (f *fakeLink) Disconnect(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.disconnectLocked(reason)
}

func (f *fakeLink) SendValveCommand(name string, open bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cmds = append(f.cmds, string(link.FormatValveSet(name, open)))
}

func (f *fakeLink) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.cmds...)
}

// telemetry delivers one telemetry line.
func (f *fakeLink) telemetry(line string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events <- link.Event{Type: link.EventTelemetry, Session: f.session, Line: line, At: time.Now()}
}

// fail reports a failed connection attempt.
func (f *fakeLink) fail(err error) {
	f.events <- link.Event{Type: link.EventConnectionFailed, Err: err, At: time.Now()}
}

func (f *fakeLink) disconnectLocked(reason string) {
	if f.state == link.Disconnected {
		return
	}
	f.setStateLocked(link.Disconnected)
	f.events <- link.Event{Type: link.EventDisconnected, Session: f.session, Reason: reason, At: time.Now()}
}

func (f *fakeLink) setStateLocked(state link.ConnState) {
	prev := f.state
	f.state = state
	f.events <- link.Event{Type: link.EventStateChanged, Session: f.session, PrevState: prev, State: state, At: time.Now()}
}
