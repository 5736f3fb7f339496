package reporting

import (
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-taskrunner/exitcodes"
	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

// Result aggregates the outcome of one job
type Result struct {
	JobID     string
	JobLogDir string
	SuiteName string

	TestsTotal       int
	Passed           int
	Failed           int
	Skipped          int
	Errors           int
	Warned           int
	Cancelled        int
	InterruptedTests int

	// Interrupted is set when dispatch stopped before every task ran
	Interrupted bool
	// ContractErrors holds the task event streams that broke the runner contract
	ContractErrors []error
	// ArtifactErrors holds materialization failures, which never fail a task
	ArtifactErrors []error

	Tests     []*types.TestState
	Excluded  []types.Runnable
	TimeStart time.Time
	TimeEnd   time.Time

	mu sync.Mutex
}

// NewResult creates an empty result for a job
func NewResult(jobID, jobLogDir, suiteName string) *Result {
	return &Result{
		JobID:     jobID,
		JobLogDir: jobLogDir,
		SuiteName: suiteName,
		TimeStart: time.Now(),
	}
}

// AddTest counts a finished task
func (r *Result) AddTest(state *types.TestState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Tests = append(r.Tests, state)
	switch state.Status {
	case types.TestStatusPass:
		r.Passed++
	case types.TestStatusFail:
		r.Failed++
	case types.TestStatusSkip:
		r.Skipped++
	case types.TestStatusError:
		r.Errors++
	case types.TestStatusWarn:
		r.Warned++
	case types.TestStatusCancel:
		r.Cancelled++
	case types.TestStatusInterrupt:
		r.InterruptedTests++
	}
}

// AddContractError records a broken event stream
func (r *Result) AddContractError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ContractErrors = append(r.ContractErrors, err)
}

// AddArtifactError records a materialization failure
func (r *Result) AddArtifactError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ArtifactErrors = append(r.ArtifactErrors, err)
}

// MarkInterrupted flags that not every task was dispatched
func (r *Result) MarkInterrupted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Interrupted = true
}

// End stamps the end time of the job
func (r *Result) End() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.TimeEnd = time.Now()
}

// Duration is the wall clock time of the job
func (r *Result) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.TimeEnd.IsZero() {
		return time.Since(r.TimeStart)
	}
	return r.TimeEnd.Sub(r.TimeStart)
}

// Ended returns how many tasks were reported as ended
func (r *Result) Ended() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Tests)
}

// Counts returns the number of tasks per status
func (r *Result) Counts() map[types.TestStatus]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[types.TestStatus]int)
	for _, t := range r.Tests {
		counts[t.Status]++
	}
	return counts
}

// HasFailures reports whether any task failed the job
func (r *Result) HasFailures() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Failed+r.Errors+r.InterruptedTests > 0
}

// ExitStatus combines the exit status bits that apply to the job
func (r *Result) ExitStatus() int {
	status := exitcodes.Success
	if r.HasFailures() {
		status |= exitcodes.TestFailure
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Interrupted {
		status |= exitcodes.Interrupted
	}
	return status
}
