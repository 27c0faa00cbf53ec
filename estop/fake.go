package estop

import (
	"sync"
	"time"
)

// FakeButton is a test double pressed from code.
type FakeButton struct {
	presses chan time.Time
	once    sync.Once
}

var _ Button = (*FakeButton)(nil)

// NewFakeButton creates a FakeButton.
func NewFakeButton() *FakeButton {
	return &FakeButton{presses: make(chan time.Time, 8)}
}

// Press simulates one debounced press.
func (f *FakeButton) Press() {
	f.presses <- time.Now()
}

func (f *FakeButton) Presses() <-chan time.Time { return f.presses }

func (f *FakeButton) Close() error {
	f.once.Do(func() { close(f.presses) })
	return nil
}
