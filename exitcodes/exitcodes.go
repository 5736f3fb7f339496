// Package exitcodes defines the exit status bits used by op-taskrunner.
package exitcodes

// Exit status bits. A job's exit status is the bitwise OR of every condition that applies:
//
// * Success (0): every task ended without failing
// * TestFailure (1): at least one task ended FAIL, ERROR or INTERRUPTED
// * RuntimeErr (2): configuration errors, unreadable suite files or other operational failures
// * Interrupted (8): the suite deadline, failfast or a signal stopped dispatch early
const (
	Success     = 0
	TestFailure = 1
	RuntimeErr  = 2
	Interrupted = 8
)
