package types

import (
	"strings"
	"time"
)

// Outcome is the outcome tag a backend places on a task's terminal event
type Outcome string

const (
	OutcomePass        Outcome = "pass"
	OutcomeFail        Outcome = "fail"
	OutcomeError       Outcome = "error"
	OutcomeSkip        Outcome = "skip"
	OutcomeCancel      Outcome = "cancel"
	OutcomeWarn        Outcome = "warn"
	OutcomeInterrupted Outcome = "interrupted"
)

// TestStatus is the upper-cased outcome reported for a finished task
type TestStatus string

const (
	TestStatusPass      TestStatus = "PASS"
	TestStatusFail      TestStatus = "FAIL"
	TestStatusError     TestStatus = "ERROR"
	TestStatusSkip      TestStatus = "SKIP"
	TestStatusCancel    TestStatus = "CANCEL"
	TestStatusWarn      TestStatus = "WARN"
	TestStatusInterrupt TestStatus = "INTERRUPTED"
)

// Status normalises the outcome tag into the status reported outward.
// Unknown tags are upper-cased as well.
func (o Outcome) Status() TestStatus {
	return TestStatus(strings.ToUpper(string(o)))
}

// IsFailure reports whether the status should fail the job
func (s TestStatus) IsFailure() bool {
	return s == TestStatusFail || s == TestStatusError || s == TestStatusInterrupt
}

// EarlyState is reported before any event of a task is consumed
type EarlyState struct {
	ID          TaskID
	Kind        string
	JobLogDir   string
	JobUniqueID string
}

// TestState is the aggregate derived from a task's recorded events
type TestState struct {
	EarlyState
	Status      TestStatus
	TimeStart   time.Time
	TimeEnd     time.Time
	TimeElapsed time.Duration
	LogDir      string // Materialized artifacts location, empty when materialization failed
	FailReason  string
	ReturnCode  *int
}

// Name returns the display name of the task
func (s *TestState) Name() string {
	return s.ID.String()
}
