// Package reporting fans task lifecycle notifications out to result sinks.
package reporting

import (
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-taskrunner/metrics"
	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

// Reporter receives lifecycle notifications while a suite runs
type Reporter interface {
	// StartTest is called before any event of a task is consumed
	StartTest(state *types.EarlyState)
	// TestProgress is a heartbeat, called for every consumed event
	TestProgress()
	// EndTest is called with the final state of a task
	EndTest(state *types.TestState)
}

// ResultSink is an interface for different ways of consuming test results
type ResultSink interface {
	Name() string
	StartTest(state *types.EarlyState) error
	TestProgress() error
	EndTest(state *types.TestState) error
	// Complete is called once after the last task ended
	Complete(result *Result) error
}

var _ Reporter = (*Dispatcher)(nil)

// Dispatcher forwards notifications to every sink. Sink failures are logged
// and counted; they never reach the caller.
type Dispatcher struct {
	mu    sync.Mutex
	sinks []ResultSink
	log   log.Logger
}

// NewDispatcher creates a dispatcher over sinks
func NewDispatcher(logger log.Logger, sinks ...ResultSink) *Dispatcher {
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}
	return &Dispatcher{
		sinks: sinks,
		log:   logger.New("component", "reporting"),
	}
}

// AddSink registers another sink
func (d *Dispatcher) AddSink(sink ResultSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, sink)
}

func (d *Dispatcher) StartTest(state *types.EarlyState) {
	d.each("start", func(s ResultSink) error { return s.StartTest(state) })
}

func (d *Dispatcher) TestProgress() {
	d.each("progress", func(s ResultSink) error { return s.TestProgress() })
}

func (d *Dispatcher) EndTest(state *types.TestState) {
	d.each("end", func(s ResultSink) error { return s.EndTest(state) })
}

// Complete finalizes every sink
func (d *Dispatcher) Complete(result *Result) {
	d.each("complete", func(s ResultSink) error { return s.Complete(result) })
}

func (d *Dispatcher) each(op string, fn func(ResultSink) error) {
	d.mu.Lock()
	sinks := make([]ResultSink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.Unlock()

	for _, s := range sinks {
		if err := fn(s); err != nil {
			d.log.Error("Result sink failed", "sink", s.Name(), "op", op, "err", err)
			metrics.RecordSinkError(s.Name())
		}
	}
}
