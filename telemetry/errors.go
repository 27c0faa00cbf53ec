package telemetry

import (
	"errors"
	"fmt"
)

// ErrMalformedToken indicates a token that is not a SENSOR:value pair with a numeric value.
var ErrMalformedToken = errors.New("malformed telemetry token")

// ProtocolError describes one dropped token.
type ProtocolError struct {
	Token string
	Err   error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil && !errors.Is(e.Err, ErrMalformedToken) {
		return fmt.Sprintf("%s %q: %v", ErrMalformedToken, e.Token, e.Err)
	}

	return fmt.Sprintf("%s %q", ErrMalformedToken, e.Token)
}

// Unwrap lets errors.Is match ErrMalformedToken and the underlying parse error.
func (e *ProtocolError) Unwrap() []error {
	if e.Err == nil || errors.Is(e.Err, ErrMalformedToken) {
		return []error{ErrMalformedToken}
	}

	return []error{ErrMalformedToken, e.Err}
}
