package suite

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

// Violation names the way a task's event stream broke the runner contract
type Violation string

const (
	ViolationEmptyStream      Violation = "empty event stream"
	ViolationMissingOutcome   Violation = "terminal event has no outcome"
	ViolationMissingTimestamp Violation = "event has no timestamp"
	ViolationNonMonotonic     Violation = "event timestamps go backwards"
	ViolationNegativeElapsed  Violation = "negative elapsed time"
	ViolationUnreadable       Violation = "recorded events cannot be read"
)

// ContractError is returned when the recorded events of a task cannot yield a result.
// No outcome is ever substituted for a broken stream.
type ContractError struct {
	TaskID    types.TaskID
	Violation Violation
	Detail    string
}

func (e *ContractError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("task %s: %s", e.TaskID, e.Violation)
	}
	return fmt.Sprintf("task %s: %s: %s", e.TaskID, e.Violation, e.Detail)
}

// IsContractError checks if the error is or wraps a ContractError
func IsContractError(err error) bool {
	var contractErr *ContractError
	return err != nil && errors.As(err, &contractErr)
}

// DeriveTestState reduces the recorded events of a task to its final state.
// The status is the upper-cased outcome of the last event and the elapsed time
// is the distance between the first and last event.
func DeriveTestState(early types.EarlyState, events []types.StatusEvent) (*types.TestState, error) {
	violation := func(v Violation, format string, args ...any) error {
		return &ContractError{TaskID: early.ID, Violation: v, Detail: fmt.Sprintf(format, args...)}
	}

	if len(events) == 0 {
		return nil, violation(ViolationEmptyStream, "no events recorded")
	}
	first, last := events[0], events[len(events)-1]
	if !last.HasResult() {
		return nil, violation(ViolationMissingOutcome, "last event has status %q", last.Status)
	}
	for i, ev := range events {
		if ev.Time.IsZero() {
			return nil, violation(ViolationMissingTimestamp, "event %d (%s)", i, ev.Status)
		}
		if i > 0 && ev.Time.Before(events[i-1].Time) {
			return nil, violation(ViolationNonMonotonic, "event %d at %s precedes event %d at %s",
				i, ev.Time.Format("15:04:05.000000"), i-1, events[i-1].Time.Format("15:04:05.000000"))
		}
	}
	elapsed := last.Time.Sub(first.Time)
	if elapsed < 0 {
		return nil, violation(ViolationNegativeElapsed, "%s", elapsed)
	}

	state := &types.TestState{
		EarlyState:  early,
		Status:      last.Result.Status(),
		TimeStart:   first.Time,
		TimeEnd:     last.Time,
		TimeElapsed: elapsed,
		FailReason:  last.FailReason,
	}
	if last.ReturnCode != nil {
		rc := *last.ReturnCode
		state.ReturnCode = &rc
	}
	return state, nil
}

// errorState is reported for a task whose events could not be aggregated
func errorState(early types.EarlyState, events []types.StatusEvent, reason string) *types.TestState {
	state := &types.TestState{
		EarlyState: early,
		Status:     types.TestStatusError,
		FailReason: reason,
	}
	if len(events) > 0 {
		state.TimeStart = events[0].Time
		state.TimeEnd = events[len(events)-1].Time
		if d := state.TimeEnd.Sub(state.TimeStart); d > 0 {
			state.TimeElapsed = d
		}
	}
	return state
}

// skippedState is reported for a task that was never started
func skippedState(early types.EarlyState, reason string) *types.TestState {
	return &types.TestState{
		EarlyState: early,
		Status:     types.TestStatusSkip,
		FailReason: reason,
	}
}
