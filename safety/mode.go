package safety

import (
	"fmt"
	"time"
)

// Abort mode ids. Each gates one automatic rule.
//
// ModeHighP2 gates P2 vent regulation, not an abort: disabling it stops the supervisor from
// opening or closing the regulation valve.
const (
	ModeHighChamberPressure  = "high_chamber_pressure"
	ModeReverseFlow          = "reverse_flow"
	ModeHighUpstreamPressure = "high_upstream_pressure"
	ModeHighP2               = "high_p2"
)

// Abort types that are not modes. They cannot be disabled.
const (
	AbortManual       = "manual_abort"
	AbortDisconnected = "disconnected"
)

// AbortMode is an automatic abort rule that the operator may disable.
type AbortMode struct {
	ID          string
	Enabled     bool
	Description string
}

var modeOrder = []string{ModeHighChamberPressure, ModeReverseFlow, ModeHighUpstreamPressure, ModeHighP2}

// ModeIDs returns every abort mode id in display order.
func ModeIDs() []string {
	return append([]string(nil), modeOrder...)
}

// Thresholds are the limits evaluated on every tick.
type Thresholds struct {
	// ChamberMax is the P8 limit in psi.
	ChamberMax float64
	// UpstreamDelta is the P5-P3 and P6-P4 limit in psi.
	UpstreamDelta float64
	// UpstreamWindow is how long an upstream delta violation must persist.
	UpstreamWindow time.Duration
	// P2OpenAbove opens the regulation valve.
	P2OpenAbove float64
	// P2CloseBelow closes a regulation valve opened by the supervisor.
	P2CloseBelow float64
}

// DefaultThresholds returns the stand limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ChamberMax:     700,
		UpstreamDelta:  5,
		UpstreamWindow: 150 * time.Millisecond,
		P2OpenAbove:    1375,
		P2CloseBelow:   1250,
	}
}

// Validate checks that the thresholds are usable.
func (t Thresholds) Validate() error {
	switch {
	case t.ChamberMax <= 0:
		return fmt.Errorf("chamber max must be positive, got %g", t.ChamberMax)
	case t.UpstreamDelta <= 0:
		return fmt.Errorf("upstream delta must be positive, got %g", t.UpstreamDelta)
	case t.UpstreamWindow <= 0:
		return fmt.Errorf("upstream window must be positive, got %v", t.UpstreamWindow)
	case t.P2CloseBelow >= t.P2OpenAbove:
		return fmt.Errorf("p2 close threshold %g must be below open threshold %g", t.P2CloseBelow, t.P2OpenAbove)
	}

	return nil
}

func (t Thresholds) describe(id string) string {
	switch id {
	case ModeHighChamberPressure:
		return fmt.Sprintf("Chamber pressure P8 above %g psi", t.ChamberMax)
	case ModeReverseFlow:
		return "Chamber pressure P8 above line pressure P7"
	case ModeHighUpstreamPressure:
		return fmt.Sprintf("P5 over P3 or P6 over P4 by %g+ psi for %v", t.UpstreamDelta, t.UpstreamWindow)
	case ModeHighP2:
		return fmt.Sprintf("Vent regulation: open above %g psi, close below %g psi (disabling stops regulation)",
			t.P2OpenAbove, t.P2CloseBelow)
	default:
		return ""
	}
}

// window tracks how long a condition has held continuously.
type window struct {
	active bool
	since  time.Time
}

// observe records the condition at now and reports whether it has held for at least d.
func (w *window) observe(now time.Time, violating bool, d time.Duration) bool {
	if !violating {
		w.active = false
		return false
	}
	if !w.active {
		w.active = true
		w.since = now
	}

	return now.Sub(w.since) >= d
}

func (w *window) reset() {
	w.active = false
}
