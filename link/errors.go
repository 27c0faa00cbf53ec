package link

import "errors"

var (
	// ErrConnConfigNil indicates that a nil Config was provided.
	ErrConnConfigNil = errors.New("link config is nil")

	// ErrAlreadyConnecting is returned by Connect while another connection attempt is in flight.
	ErrAlreadyConnecting = errors.New("connection attempt already in progress")

	// ErrNotConnected indicates that an operation requires the Connected state.
	ErrNotConnected = errors.New("link is not connected")

	// ErrClosed is returned when the Manager has been closed.
	ErrClosed = errors.New("link manager closed")
)

var (
	// ErrInvalidTransition is returned when an attempt is made to transition the connection
	// state to an invalid state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrConnectTimeout indicates that no datagram arrived from the MCU within the connect timeout.
	ErrConnectTimeout = errors.New("connect timeout: no data from MCU")
)

var (
	// ErrMalformedCommand indicates that a line is not a well formed command.
	ErrMalformedCommand = errors.New("malformed command")
)
