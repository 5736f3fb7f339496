package reporting

import (
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/time/rate"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

// DefaultProgressInterval is the minimum time between two progress lines
const DefaultProgressInterval = 10 * time.Second

var _ ResultSink = (*LogSink)(nil)

// LogSink writes task lifecycle lines to the logger. Progress heartbeats
// arrive once per status event, so they are throttled.
type LogSink struct {
	log      log.Logger
	interval time.Duration
	limiter  *rate.Limiter
	current  *types.EarlyState
	started  time.Time
}

// NewLogSink logs at most one progress line per interval
func NewLogSink(logger log.Logger, interval time.Duration) *LogSink {
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	return &LogSink{
		log:      logger,
		interval: interval,
	}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) StartTest(state *types.EarlyState) error {
	s.current = state
	s.started = time.Now()
	// The first heartbeat of every task is skipped
	s.limiter = rate.NewLimiter(rate.Every(s.interval), 1)
	s.limiter.Allow()
	s.log.Info("Task started", "task", state.ID, "kind", state.Kind)
	return nil
}

func (s *LogSink) TestProgress() error {
	if s.current == nil || s.limiter == nil || !s.limiter.Allow() {
		return nil
	}
	s.log.Info("Task still running", "task", s.current.ID, "elapsed", time.Since(s.started).Round(time.Second))
	return nil
}

func (s *LogSink) EndTest(state *types.TestState) error {
	s.current = nil
	ctx := []any{"task", state.ID, "status", state.Status, "elapsed", state.TimeElapsed}
	if state.FailReason != "" {
		ctx = append(ctx, "reason", state.FailReason)
	}
	if state.Status.IsFailure() {
		s.log.Warn("Task ended", ctx...)
	} else {
		s.log.Info("Task ended", ctx...)
	}
	return nil
}

func (s *LogSink) Complete(result *Result) error {
	s.log.Info("Job completed",
		"job", result.JobID,
		"ended", result.Ended(),
		"total", result.TestsTotal,
		"passed", result.Passed,
		"failed", result.Failed,
		"errors", result.Errors,
		"skipped", result.Skipped,
		"interrupted", result.Interrupted,
		"duration", result.Duration(),
	)
	for _, err := range result.ArtifactErrors {
		s.log.Warn("Artifacts missing", "err", err)
	}
	for _, err := range result.ContractErrors {
		s.log.Error("Runner contract violated", "err", err)
	}
	return nil
}
