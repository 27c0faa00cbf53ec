package config

import (
	"github.com/arloliu/go-gse/controller"
	"github.com/arloliu/go-gse/link"
	"github.com/arloliu/go-gse/logger"
	"github.com/arloliu/go-gse/safety"
	"github.com/arloliu/go-gse/sequence"
)

// LinkOptions converts the link section and the MCU local port to link options.
func (c *Config) LinkOptions() []link.ConnOption {
	return []link.ConnOption{
		link.WithHeartbeatTxCadence(c.Link.HeartbeatTxCadence),
		link.WithHeartbeatRxMissInterval(c.Link.HeartbeatRxMissInterval),
		link.WithPollInterval(c.Link.PollInterval),
		link.WithConnectTimeout(c.Link.ConnectTimeout),
		link.WithRecvTimeout(c.Link.RecvTimeout),
		link.WithCloseTimeout(c.Link.CloseTimeout),
		link.WithLocalPort(c.MCU.LocalPort),
	}
}

// Thresholds returns the abort limits of the safety section.
func (c *Config) Thresholds() safety.Thresholds {
	return safety.Thresholds{
		ChamberMax:     c.Safety.ChamberMax,
		UpstreamDelta:  c.Safety.UpstreamDelta,
		UpstreamWindow: c.Safety.UpstreamWindow,
		P2OpenAbove:    c.Safety.P2OpenAbove,
		P2CloseBelow:   c.Safety.P2CloseBelow,
	}
}

// SafetyOptions converts the safety section to supervisor options.
func (c *Config) SafetyOptions() []safety.Option {
	opts := []safety.Option{
		safety.WithThresholds(c.Thresholds()),
		safety.WithVentValve(c.Safety.VentValve),
		safety.WithRegulationValve(c.Safety.RegulationValve),
	}
	for _, id := range safety.ModeIDs() {
		if enabled, ok := c.Safety.Modes[id]; ok {
			opts = append(opts, safety.WithModeEnabled(id, enabled))
		}
	}

	return opts
}

// SequenceOptions converts the operation table and sequences to engine options.
func (c *Config) SequenceOptions() []sequence.Option {
	return []sequence.Option{
		sequence.WithOperations(c.operations()),
		sequence.WithSequences(c.sequences()),
	}
}

// ControllerOptions returns every controller option derived from c.
func (c *Config) ControllerOptions(l logger.Logger) []controller.Option {
	return []controller.Option{
		controller.WithLogger(l),
		controller.WithRoster(c.Valves),
		controller.WithEvalInterval(c.Safety.AbortCheckInterval),
		controller.WithIgnitionCountdown(c.IgnitionCountdown),
		controller.WithSafetyOptions(c.SafetyOptions()...),
		controller.WithSequenceOptions(c.SequenceOptions()...),
	}
}

func (c *Config) operations() []sequence.Operation {
	ops := make([]sequence.Operation, 0, len(c.Operations))
	for _, op := range c.Operations {
		ops = append(ops, sequence.Operation{Name: op.Name, Open: op.Open})
	}

	return ops
}

func (c *Config) sequences() []sequence.Sequence {
	seqs := make([]sequence.Sequence, 0, len(c.Sequences))
	for _, sc := range c.Sequences {
		seq := sequence.Sequence{Trigger: sc.Trigger}
		for _, st := range sc.Steps {
			seq.Steps = append(seq.Steps, sequence.Step{After: st.After, Operation: st.Apply})
		}
		seqs = append(seqs, seq)
	}

	return seqs
}
