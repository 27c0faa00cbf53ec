package sequence

import (
	"fmt"
	"time"
)

// Operation is a named valve configuration. Valves not listed in Open are closed.
type Operation struct {
	Name string
	Open []string
}

// Step applies Operation After the sequence was triggered.
type Step struct {
	After     time.Duration
	Operation string
}

// Sequence schedules timed steps when its Trigger operation is applied by the operator.
// Every step delay is measured from the trigger.
type Sequence struct {
	Trigger string
	Steps   []Step
}

// Operation names referenced by the default sequences.
const (
	OpPressurization = "Pressurization"
	OpFire           = "Fire"
	OpKillAndVent    = "Kill and Vent"
	OpPowerDown      = "Power down"
)

// DefaultOperations returns the stand operation table in operator order.
func DefaultOperations() []Operation {
	return []Operation{
		{"Open Pressure", []string{"LA-BV1"}},
		{"Oxidizer Leak Check Fill", []string{"NCS1", "LA-BV1"}},
		{"Oxidizer Leak Check", []string{"LA-BV1"}},
		{"Prefire Purge 1", []string{"GV-1", "LA-BV1"}},
		{"Fuel Fill 1", []string{"NCS5", "NCS6", "LA-BV1"}},
		{"Fuel Fill 2", []string{"NCS5", "LA-BV1"}},
		{"Fuel Leak Check Fill", []string{"NCS1", "LA-BV1"}},
		{"Fuel Leak Check", []string{"LA-BV1"}},
		{"Prefire Purge 2", []string{"GV-1", "LA-BV1"}},
		{"Open Oxidizer", []string{"LA-BV1"}},
		{"Oxidizer Fill", []string{"NCS3", "NCS2", "LA-BV1"}},
		{OpPressurization, []string{"NCS1", "LA-BV1"}},
		{OpFire, []string{"GV-1", "GV-2", "NCS1", "LA-BV1"}},
		{OpKillAndVent, []string{"NCS3", "GV-1", "GV-2", "LA-BV1"}},
		{"Close Oxidizer", []string{"NCS3", "LA-BV1"}},
		{"Oxidizer Vent", []string{"GV-1", "NCS2", "NCS3", "LA-BV1"}},
		{"Postfire Purge", []string{"NCS1", "GV-1", "LA-BV1"}},
		{"Close Pressure 1", []string{"LA-BV1"}},
		{"Close Pressure 2", []string{"NCS3", "LA-BV1"}},
		{"Vent Pressure", []string{"NCS1", "NCS3", "LA-BV1"}},
		{OpPowerDown, nil},
	}
}

// DefaultSequences returns the automated firing sequence: Fire 5s and Kill and Vent 20s after Pressurization.
func DefaultSequences() []Sequence {
	return []Sequence{
		{
			Trigger: OpPressurization,
			Steps: []Step{
				{After: 5 * time.Second, Operation: OpFire},
				{After: 20 * time.Second, Operation: OpKillAndVent},
			},
		},
	}
}

// ValidateTable checks ops and seqs against roster: unique operation names, known valves,
// known step operations and positive delays.
func ValidateTable(roster []string, ops []Operation, seqs []Sequence) error {
	valves := make(map[string]bool, len(roster))
	for _, v := range roster {
		valves[v] = true
	}

	names := make(map[string]bool, len(ops))
	for _, op := range ops {
		if op.Name == "" {
			return fmt.Errorf("operation with empty name")
		}
		if names[op.Name] {
			return fmt.Errorf("duplicate operation %q", op.Name)
		}
		names[op.Name] = true
		for _, v := range op.Open {
			if !valves[v] {
				return fmt.Errorf("operation %q opens unknown valve %q", op.Name, v)
			}
		}
	}

	triggers := make(map[string]bool, len(seqs))
	for _, seq := range seqs {
		if !names[seq.Trigger] {
			return fmt.Errorf("sequence trigger %q is not an operation", seq.Trigger)
		}
		if triggers[seq.Trigger] {
			return fmt.Errorf("duplicate sequence for trigger %q", seq.Trigger)
		}
		triggers[seq.Trigger] = true
		if len(seq.Steps) == 0 {
			return fmt.Errorf("sequence %q has no steps", seq.Trigger)
		}
		for i, st := range seq.Steps {
			if st.After <= 0 {
				return fmt.Errorf("sequence %q step %d: delay must be positive", seq.Trigger, i)
			}
			if !names[st.Operation] {
				return fmt.Errorf("sequence %q step %d: unknown operation %q", seq.Trigger, i, st.Operation)
			}
		}
	}

	return nil
}
