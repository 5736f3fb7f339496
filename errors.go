package taskrunner

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-taskrunner/exitcodes"
)

var (
	_ cli.ExitCoder = (*RuntimeError)(nil)
	_ cli.ExitCoder = (*ExitStatusError)(nil)
)

// RuntimeError marks a job that could not be run at all, such as one whose
// suite file is unreadable or whose results directory cannot be created.
type RuntimeError struct {
	Err error
}

// NewRuntimeError wraps err, keeping it reachable through errors.Is and errors.As
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

func (e *RuntimeError) Error() string {
	return "runtime error: " + e.Err.Error()
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// ExitCode is always exitcodes.RuntimeErr; no task result is folded in.
func (e *RuntimeError) ExitCode() int { return exitcodes.RuntimeErr }

// IsRuntimeError reports whether a RuntimeError is anywhere in err's chain
func IsRuntimeError(err error) bool {
	var target *RuntimeError
	return errors.As(err, &target)
}

// ExitStatusError is returned by a job that ran but did not succeed.
// Status is the bitwise OR of the exitcodes that apply to the job.
type ExitStatusError struct {
	Status  int
	Summary string
}

func (e *ExitStatusError) Error() string {
	return fmt.Sprintf("job finished with exit status %d: %s", e.Status, e.Summary)
}

func (e *ExitStatusError) ExitCode() int { return e.Status }
