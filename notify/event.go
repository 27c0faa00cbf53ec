// Package notify carries typed core notifications to collaborators (operator console, MQTT bridge,
// metrics exporter, tests).
//
// Publishing never blocks the core. Each subscriber owns a bounded buffer; when it is full the
// oldest pending non-critical event is evicted and counted, so a stalled subscriber loses sensor
// history but keeps aborts and lockout changes, and never delays a safety action.
package notify

import (
	"time"
)

// Kind identifies an event type.
type Kind string

const (
	KindConnection Kind = "connection"
	KindValve      Kind = "valve"
	KindSensor     Kind = "sensor"
	KindAbort      Kind = "abort"
	KindLockout    Kind = "lockout"
	KindOperation  Kind = "operation"
	KindSequence   Kind = "sequence"
	KindCountdown  Kind = "countdown"
)

// Event is a core notification.
type Event interface {
	Kind() Kind
}

// ValveSource tells which component changed a valve.
type ValveSource string

const (
	SourceOperation  ValveSource = "operation"
	SourceAbort      ValveSource = "abort"
	SourceRegulation ValveSource = "regulation"
	SourceManual     ValveSource = "manual"
)

// ConnectionChanged reports a link state change. Reason is set when the link went down
// or an attempt failed.
type ConnectionChanged struct {
	State  string    `json:"state"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// ValveChanged reports a commanded valve state change.
type ValveChanged struct {
	Name   string      `json:"name"`
	Open   bool        `json:"open"`
	Source ValveSource `json:"source"`
	At     time.Time   `json:"at"`
}

// SensorUpdated reports a new sensor reading.
type SensorUpdated struct {
	ID           string    `json:"id"`
	Value        float64   `json:"value"`
	MCUTimestamp string    `json:"mcu_ts,omitempty"`
	At           time.Time `json:"at"`
}

// AbortTriggered reports an abort. Type is the abort mode id, "manual_abort" or "disconnected".
type AbortTriggered struct {
	Type   string    `json:"type"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// LockoutChanged reports the lockout being engaged or released.
type LockoutChanged struct {
	Locked bool      `json:"locked"`
	At     time.Time `json:"at"`
}

// OperationChanged reports that a named operation was applied.
type OperationChanged struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}

// SequenceStep reports a timed sequence step firing. Skipped is true when the step was
// suppressed by lockout or superseded.
type SequenceStep struct {
	Sequence  string    `json:"sequence"`
	Operation string    `json:"operation"`
	Skipped   bool      `json:"skipped"`
	At        time.Time `json:"at"`
}

// Countdown reports the remaining ignition countdown. Remaining is zero when the countdown
// completes; Cancelled is set when it was aborted.
type Countdown struct {
	Remaining time.Duration `json:"remaining"`
	Cancelled bool          `json:"cancelled,omitempty"`
	At        time.Time     `json:"at"`
}

func (ConnectionChanged) Kind() Kind { return KindConnection }
func (ValveChanged) Kind() Kind      { return KindValve }
func (SensorUpdated) Kind() Kind     { return KindSensor }
func (AbortTriggered) Kind() Kind    { return KindAbort }
func (LockoutChanged) Kind() Kind    { return KindLockout }
func (OperationChanged) Kind() Kind  { return KindOperation }
func (SequenceStep) Kind() Kind      { return KindSequence }
func (Countdown) Kind() Kind         { return KindCountdown }
