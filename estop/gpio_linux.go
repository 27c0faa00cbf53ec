//go:build linux

package estop

import (
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOButton is an E-stop button on a GPIO line.
type GPIOButton struct {
	line    *gpiocdev.Line
	presses chan time.Time
	once    sync.Once
	mu      sync.Mutex
	closed  bool
}

var _ Button = (*GPIOButton)(nil)

// NewGPIOButton requests the line described by cfg with edge detection.
func NewGPIOButton(cfg Config) (*GPIOButton, error) {
	b := &GPIOButton{presses: make(chan time.Time, 1)}

	opts := []gpiocdev.LineReqOption{
		gpiocdev.WithConsumer("gse-estop"),
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(b.handle),
	}
	if cfg.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow, gpiocdev.WithPullUp)
	} else {
		opts = append(opts, gpiocdev.WithPullDown)
	}
	if cfg.Debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(cfg.Debounce))
	}

	line, err := gpiocdev.RequestLine(cfg.Chip, cfg.Line, opts...)
	if err != nil {
		return nil, fmt.Errorf("request e-stop line %s:%d: %w", cfg.Chip, cfg.Line, err)
	}
	b.line = line

	return b, nil
}

// handle runs on the gpiocdev watcher goroutine. A press is the transition to the active level.
func (b *GPIOButton) handle(evt gpiocdev.LineEvent) {
	if evt.Type != gpiocdev.LineEventRisingEdge {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.presses <- time.Now():
	default:
		// a press is already pending and aborts are idempotent
	}
}

func (b *GPIOButton) Presses() <-chan time.Time { return b.presses }

// Close releases the line and closes Presses.
func (b *GPIOButton) Close() error {
	var err error
	b.once.Do(func() {
		err = b.line.Close()

		b.mu.Lock()
		b.closed = true
		close(b.presses)
		b.mu.Unlock()
	})

	return err
}
