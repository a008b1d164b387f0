// Package stream validates normalized event sequences and folds them into
// completed results. Both halves are pure: the validator is a synchronous
// state machine, and assembly is a fold over the incoming sequence with no
// shared mutation.
package stream

import (
	"fmt"

	"goa.design/infer/runtime/inference/model"
)

type validatorState int

const (
	stateIdle validatorState = iota
	stateStarted
	stateEnded
)

// Validator enforces the stream-event ordering invariants incrementally.
// Observe costs O(1) per event and the open-call set costs O(k) memory where
// k is the number of tool calls. The zero value is not usable; call
// NewValidator.
type Validator struct {
	state validatorState
	open  map[string]struct{}
}

// NewValidator returns a validator in the Idle state.
func NewValidator() *Validator {
	return &Validator{open: make(map[string]struct{})}
}

// Observe checks one event against the ordering rules and advances the
// machine. A non-nil return is always a stream-invariant Error; the validator
// is not usable after a violation.
func (v *Validator) Observe(ev model.Event) error {
	switch v.state {
	case stateIdle:
		if _, ok := ev.(model.MessageStart); !ok {
			return model.NewStreamInvariantViolation("event before MessageStart")
		}
		v.state = stateStarted
		return nil
	case stateEnded:
		return model.NewStreamInvariantViolation("event after MessageEnd")
	}
	switch e := ev.(type) {
	case model.MessageStart:
		return model.NewStreamInvariantViolation("duplicate MessageStart")
	case model.MessageDelta, model.ThinkingDelta:
		return nil
	case model.ToolCallStart:
		if _, dup := v.open[e.ID]; dup {
			return model.NewStreamInvariantViolation(fmt.Sprintf("duplicate ToolCallStart id %q", e.ID))
		}
		v.open[e.ID] = struct{}{}
		return nil
	case model.ToolCallDelta:
		if _, ok := v.open[e.ID]; !ok {
			return model.NewStreamInvariantViolation(fmt.Sprintf("ToolCallDelta for unknown id %q", e.ID))
		}
		return nil
	case model.MessageEnd:
		v.state = stateEnded
		return nil
	default:
		return model.NewStreamInvariantViolation(fmt.Sprintf("unknown event type %T", ev))
	}
}

// Finish checks the end-of-stream condition: the sequence must have reached
// MessageEnd.
func (v *Validator) Finish() error {
	if v.state != stateEnded {
		return model.NewStreamInvariantViolation("stream ended without MessageEnd")
	}
	return nil
}

// ValidateSequence is the one-shot form of the validator. It succeeds exactly
// when feeding the slice to an incremental Validator succeeds.
func ValidateSequence(events []model.Event) error {
	v := NewValidator()
	for _, ev := range events {
		if err := v.Observe(ev); err != nil {
			return err
		}
	}
	return v.Finish()
}
