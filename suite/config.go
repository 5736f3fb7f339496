package suite

import (
	"time"
)

// FailFastReason is the fail reason of tasks skipped after a failure
const FailFastReason = "failfast"

// Config is the immutable configuration of one suite run
type Config struct {
	// Timeout is the wall clock budget for starting tasks; zero or less is unbounded
	Timeout time.Duration
	// JobLogDir is the root of the job's results
	JobLogDir string
	// JobUniqueID identifies the job in reports
	JobUniqueID string
	// Debug enables the debug dump of every task's events
	Debug bool
	// FailFast stops dispatch after the first task that fails the job
	FailFast bool
}

// deadline returns the time after which no task may start, and false when unbounded
func (c Config) deadline(start time.Time) (time.Time, bool) {
	if c.Timeout <= 0 {
		return time.Time{}, false
	}
	return start.Add(c.Timeout), true
}
