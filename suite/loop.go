// Package suite drives the tasks of a suite one at a time and reduces their
// status events into final results.
package suite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-taskrunner/artifacts"
	"github.com/ethereum-optimism/infra/op-taskrunner/metrics"
	"github.com/ethereum-optimism/infra/op-taskrunner/reporting"
	"github.com/ethereum-optimism/infra/op-taskrunner/runner"
	"github.com/ethereum-optimism/infra/op-taskrunner/status"
	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

// ErrNoTasks is returned when a suite has nothing to run
var ErrNoTasks = errors.New("suite has no runnable tasks")

// Options holds the collaborators of a Loop
type Options struct {
	Config   Config
	Registry *runner.Registry
	Reporter reporting.Reporter
	// Checker defaults to a RegistryChecker over Registry
	Checker runner.RequirementsChecker
	// Repo defaults to an in-memory repository
	Repo status.Repo
	// Materializer defaults to <JobLogDir>/test-results
	Materializer *artifacts.Materializer
	Log          log.Logger
	// Now is the clock used for the suite deadline
	Now func() time.Time
}

// Loop runs the tasks of a suite sequentially
type Loop struct {
	cfg          Config
	registry     *runner.Registry
	reporter     reporting.Reporter
	checker      runner.RequirementsChecker
	repo         status.Repo
	materializer *artifacts.Materializer
	log          log.Logger
	now          func() time.Time
	tracer       trace.Tracer
}

// New validates the options and creates a Loop
func New(opts Options) (*Loop, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.Reporter == nil {
		return nil, fmt.Errorf("reporter is required")
	}
	if opts.Log == nil {
		opts.Log = log.New()
		opts.Log.Error("No logger provided, using default")
	}
	if opts.Checker == nil {
		opts.Checker = &runner.RegistryChecker{Registry: opts.Registry, Log: opts.Log}
	}
	if opts.Repo == nil {
		opts.Repo = status.NewMemoryRepo()
	}
	if opts.Materializer == nil {
		if opts.Config.JobLogDir == "" {
			return nil, fmt.Errorf("job log dir is required")
		}
		opts.Materializer = artifacts.New(opts.Config.JobLogDir, opts.Config.Debug, opts.Log)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Loop{
		cfg:          opts.Config,
		registry:     opts.Registry,
		reporter:     opts.Reporter,
		checker:      opts.Checker,
		repo:         opts.Repo,
		materializer: opts.Materializer,
		log:          opts.Log.New("component", "suite"),
		now:          opts.Now,
		tracer:       otel.Tracer("suite loop"),
	}, nil
}

// Repo returns the status repository the loop records into
func (l *Loop) Repo() status.Repo {
	return l.repo
}

// Run executes every eligible task of s in order. Dispatch stops early when the
// deadline passes, ctx is cancelled or failfast triggers; tasks already started
// always run to completion.
func (l *Loop) Run(ctx context.Context, s types.Suite) (*reporting.Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context cannot be nil")
	}
	ctx, span := l.tracer.Start(ctx, fmt.Sprintf("suite %s", s.Name))
	defer span.End()

	result := reporting.NewResult(l.cfg.JobUniqueID, l.cfg.JobLogDir, s.Name)
	defer result.End()

	eligible, excluded := l.checker.Check(s.Runnables)
	result.Excluded = excluded
	if len(excluded) > 0 {
		l.log.Warn("Runnables excluded by requirements check", "excluded", len(excluded), "eligible", len(eligible))
	}

	tasks := types.NewRuntimeTasks(types.Suite{Name: s.Name, Runnables: eligible}.Tasks())
	result.TestsTotal = len(tasks)

	deadline, bounded := l.cfg.deadline(l.now())
	l.log.Info("Running suite", "suite", s.Name, "tasks", len(tasks), "timeout", l.cfg.Timeout, "failfast", l.cfg.FailFast)

	for i, rt := range tasks {
		if bounded && l.now().After(deadline) {
			l.log.Warn("Suite deadline reached, not starting remaining tasks", "remaining", len(tasks)-i)
			result.MarkInterrupted()
			break
		}
		if err := ctx.Err(); err != nil {
			l.log.Warn("Suite interrupted, not starting remaining tasks", "remaining", len(tasks)-i, "err", err)
			result.MarkInterrupted()
			break
		}

		state := l.runTask(ctx, rt, result)

		if l.cfg.FailFast && state.Status.IsFailure() && i < len(tasks)-1 {
			l.log.Warn("Failfast triggered", "task", state.ID, "status", state.Status, "remaining", len(tasks)-i-1)
			l.skipRemaining(tasks[i+1:], result)
			result.MarkInterrupted()
			break
		}
	}

	span.SetAttributes(
		attribute.Int("tests_total", result.TestsTotal),
		attribute.Int("tests_ended", result.Ended()),
		attribute.Bool("interrupted", result.Interrupted),
	)
	if result.HasFailures() {
		span.SetStatus(codes.Error, "tasks failed")
	}
	return result, nil
}

// runTask drives one task to its terminal event and reports its final state
func (l *Loop) runTask(ctx context.Context, rt *types.RuntimeTask, result *reporting.Result) *types.TestState {
	task := rt.Task
	ctx, span := l.tracer.Start(ctx, fmt.Sprintf("task %s", task.ID))
	defer span.End()
	logger := l.log.New("task", task.ID)

	early := types.EarlyState{
		ID:          task.ID,
		Kind:        task.Runnable.Kind,
		JobLogDir:   l.cfg.JobLogDir,
		JobUniqueID: l.cfg.JobUniqueID,
	}
	startState := early
	l.reporter.StartTest(&startState)

	runErr := l.consume(ctx, rt, logger)
	if runErr != nil {
		logger.Error("Task event stream ended abnormally", "err", runErr)
		span.RecordError(runErr)
	}

	var state *types.TestState
	events, err := l.repo.EventsFor(task.ID)
	if err != nil {
		err = &ContractError{TaskID: task.ID, Violation: ViolationUnreadable, Detail: err.Error()}
	} else {
		state, err = DeriveTestState(early, events)
	}
	if err != nil {
		reason := err.Error()
		if runErr != nil {
			reason = fmt.Sprintf("%s (%v)", reason, runErr)
		}
		logger.Error("Runner contract violated", "err", err)
		result.AddContractError(err)
		metrics.RecordContractViolation(task.Runnable.Kind)
		span.RecordError(err)
		state = errorState(early, events, reason)
	}

	if len(events) > 0 {
		dir, err := l.materializer.Materialize(task, events)
		if err != nil {
			logger.Warn("Failed to materialize task artifacts", "err", err)
			result.AddArtifactError(err)
			metrics.RecordArtifactError()
		} else {
			state.LogDir = dir
		}
	}

	span.SetAttributes(
		attribute.String("task", task.ID.String()),
		attribute.String("status", string(state.Status)),
	)
	if state.Status.IsFailure() {
		span.SetStatus(codes.Error, state.FailReason)
	}

	l.reporter.EndTest(state)
	result.AddTest(state)
	return state
}

// consume records the task's events until a terminal one arrives or the stream ends
func (l *Loop) consume(ctx context.Context, rt *types.RuntimeTask, logger log.Logger) error {
	adapter, err := runner.NewAdapter(l.registry, rt, logger)
	if err != nil {
		return err
	}
	defer adapter.Close()

	// The backend is tied to ctx so a cancelled job stops it, but an in-flight
	// task is still read until it reports its own terminal event.
	if err := adapter.Start(ctx); err != nil {
		return err
	}
	readCtx := context.WithoutCancel(ctx)

	for {
		ev, ok, err := adapter.Next(readCtx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := l.repo.Record(ev); err != nil {
			return fmt.Errorf("failed to record status event: %w", err)
		}
		metrics.RecordStatusEvent(ev.Status)
		l.reporter.TestProgress()
		if ev.Status.IsTerminal() {
			return nil
		}
	}
}

// skipRemaining reports tasks that will not run after a failfast stop.
// They never enter the status repository.
func (l *Loop) skipRemaining(tasks []*types.RuntimeTask, result *reporting.Result) {
	for _, rt := range tasks {
		early := types.EarlyState{
			ID:          rt.Task.ID,
			Kind:        rt.Task.Runnable.Kind,
			JobLogDir:   l.cfg.JobLogDir,
			JobUniqueID: l.cfg.JobUniqueID,
		}
		startState := early
		l.reporter.StartTest(&startState)
		state := skippedState(early, FailFastReason)
		l.reporter.EndTest(state)
		result.AddTest(state)
	}
}
