package reporting

import (
	"github.com/ethereum-optimism/infra/op-taskrunner/metrics"
	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

var _ ResultSink = (*MetricsSink)(nil)

// MetricsSink publishes task and job outcomes as prometheus metrics
type MetricsSink struct{}

func (MetricsSink) Name() string { return "metrics" }

func (MetricsSink) StartTest(*types.EarlyState) error { return nil }

func (MetricsSink) TestProgress() error { return nil }

func (MetricsSink) EndTest(state *types.TestState) error {
	metrics.RecordTask(state.JobUniqueID, state.Kind, state.Status, state.TimeElapsed)
	return nil
}

func (MetricsSink) Complete(result *Result) error {
	metrics.RecordJob(result.JobID, result.Counts(), result.ExitStatus(), result.Duration())
	return nil
}
