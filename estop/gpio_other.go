//go:build !linux

package estop

import "time"

// GPIOButton is not available on non-Linux platforms.
type GPIOButton struct{}

// NewGPIOButton returns ErrUnsupported on non-Linux platforms.
func NewGPIOButton(Config) (*GPIOButton, error) {
	return nil, ErrUnsupported
}

func (b *GPIOButton) Presses() <-chan time.Time { return nil }

func (b *GPIOButton) Close() error { return nil }
