// Package runner turns a task into a stream of status events.
//
// The main components are:
//   - Backend: executes one kind of runnable and emits its status events on a channel
//   - Registry: the known runners, mapping a runnable kind to its backend
//   - Adapter: a single-pass iterator over the events of one task execution
//   - RequirementsChecker: filters the runnables a registry can actually execute
//
// The exec-test backend runs a local executable and reports its exit code and
// captured output; the noop backend reports a pass without executing anything.
package runner
