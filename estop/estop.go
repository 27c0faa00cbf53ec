// Package estop turns a hardware emergency-stop button into a manual abort.
//
// The real button is a debounced, edge-triggered Linux GPIO line. Other platforms get a stub
// that fails to open, and tests use FakeButton.
package estop

import (
	"context"
	"errors"
	"time"

	"github.com/arloliu/go-gse/logger"
)

// ErrUnsupported is returned by NewGPIOButton on platforms without GPIO character devices.
var ErrUnsupported = errors.New("estop: gpio not supported on this platform (requires Linux)")

// Config locates the button line.
type Config struct {
	// Chip is the GPIO chip name, such as "gpiochip0".
	Chip string
	// Line is the line offset on Chip.
	Line int
	// ActiveLow inverts the line, for buttons that pull the line to ground.
	ActiveLow bool
	// Debounce filters contact bounce. Zero disables debouncing.
	Debounce time.Duration
}

// Button reports E-stop presses.
type Button interface {
	// Presses delivers the time of each press. It is closed by Close.
	Presses() <-chan time.Time
	Close() error
}

// Aborter is the abort entry point, satisfied by controller.Controller.
type Aborter interface {
	TriggerManualAbort(ctx context.Context) error
}

const abortTimeout = time.Second

// Watch triggers a manual abort for every press until ctx is done or the button is closed.
func Watch(ctx context.Context, btn Button, target Aborter, l logger.Logger) error {
	if btn == nil || target == nil {
		return errors.New("estop: button and abort target are required")
	}
	if l == nil {
		l = logger.GetLogger()
	}
	l = l.With("component", "estop")

	presses := btn.Presses()
	for {
		select {
		case <-ctx.Done():
			return nil
		case at, ok := <-presses:
			if !ok {
				l.Warn("e-stop button closed")
				return nil
			}
			l.Warn("e-stop pressed", "at", at)

			actx, cancel := context.WithTimeout(ctx, abortTimeout)
			if err := target.TriggerManualAbort(actx); err != nil {
				l.Error("e-stop abort failed", "error", err)
			}
			cancel()
		}
	}
}
