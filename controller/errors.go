package controller

import "errors"

var (
	// ErrStopped is returned by commands once Run has returned.
	ErrStopped = errors.New("controller stopped")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("controller already running")
	// ErrLinkNil indicates that New was called without a link.
	ErrLinkNil = errors.New("link is nil")
	// ErrNotConnected is returned by valve-moving commands while the link is not connected.
	ErrNotConnected = errors.New("link not connected")
)
