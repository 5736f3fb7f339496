// Package taskrunner wires a suite run into a cliapp lifecycle: it loads the
// suite, prepares the job log directory and status repository, runs the suite
// loop once and reports the job's exit status.
package taskrunner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/op-taskrunner/exitcodes"
	"github.com/ethereum-optimism/infra/op-taskrunner/reporting"
	"github.com/ethereum-optimism/infra/op-taskrunner/resolver"
	"github.com/ethereum-optimism/infra/op-taskrunner/runner"
	"github.com/ethereum-optimism/infra/op-taskrunner/service"
	"github.com/ethereum-optimism/infra/op-taskrunner/status"
	"github.com/ethereum-optimism/infra/op-taskrunner/suite"
	"github.com/ethereum-optimism/infra/op-taskrunner/types"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// JobDirPrefix prefixes the job log directory name, followed by the job's unique id
const JobDirPrefix = "testrun-"

// taskRunner implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &taskRunner{}

// store is what the job needs from its status repository
type store interface {
	status.Repo
	status.Lister
}

// taskRunner runs one suite as a job and exits.
type taskRunner struct {
	config   *Config
	version  string
	registry *runner.Registry
	stdout   io.Writer

	mu       sync.Mutex
	repo     store
	services []*service.Service
	result   *reporting.Result

	running atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*taskRunner, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		return nil, errors.New("config logger is required")
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}

	config.Log.Debug("Creating taskrunner with config",
		"suite", config.SuiteFile,
		"resultsDir", config.ResultsDir,
		"timeout", config.Timeout,
		"failfast", config.FailFast,
		"statusDB", config.StatusDB)

	reg, err := runner.NewRegistry(config.Log,
		runner.NewExecBackend(runner.ExecConfig{
			Log:            config.Log,
			StatusInterval: config.ExecStatusInterval,
			SkipExitCodes:  config.ExecSkipExitCodes,
		}),
		runner.NoopBackend{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create runner registry: %w", err)
	}
	config.Log.Info("taskrunner.New: created runner registry", "kinds", reg.Kinds())

	return &taskRunner{
		config:           config,
		version:          version,
		registry:         reg,
		stdout:           os.Stdout,
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs the suite once and returns the job's exit status.
// Start implements the cliapp.Lifecycle interface.
func (t *taskRunner) Start(ctx context.Context) error {
	t.running.Store(true)
	t.config.Log.Info("Starting op-taskrunner", "version", t.version, "suite", t.config.SuiteFile)

	result, err := t.runJob(ctx)
	if err != nil {
		t.config.Log.Error("Runtime error running suite", "error", err)
		if IsRuntimeError(err) {
			return err
		}
		return NewRuntimeError(err)
	}

	exitStatus := result.ExitStatus()
	t.config.Log.Info("Job completed",
		"job", result.JobID,
		"ended", result.Ended(),
		"total", result.TestsTotal,
		"exitStatus", exitStatus)
	if exitStatus != exitcodes.Success {
		return &ExitStatusError{Status: exitStatus, Summary: summary(result)}
	}

	go func() {
		t.shutdownCallback(nil)
	}()
	return nil
}

// runJob prepares the job's collaborators and runs the suite loop
func (t *taskRunner) runJob(ctx context.Context) (*reporting.Result, error) {
	s, err := resolver.Load(t.config.SuiteFile, t.config.Log)
	if err != nil {
		return nil, NewRuntimeError(err)
	}
	if s.Size() == 0 {
		return nil, NewRuntimeError(fmt.Errorf("%s: %w", t.config.SuiteFile, suite.ErrNoTasks))
	}
	if t.config.Shuffle {
		rand.Shuffle(len(s.Runnables), func(i, j int) {
			s.Runnables[i], s.Runnables[j] = s.Runnables[j], s.Runnables[i]
		})
		t.config.Log.Info("Shuffled suite", "suite", s.Name)
	}

	jobID := uuid.New().String()
	jobLogDir := filepath.Join(t.config.ResultsDir, JobDirPrefix+jobID)
	if err := os.MkdirAll(jobLogDir, 0755); err != nil {
		return nil, NewRuntimeError(fmt.Errorf("failed to create job log dir: %w", err))
	}
	log := t.config.Log.New("job", jobID)
	log.Info("Job log dir created", "dir", jobLogDir)

	repo, err := t.openRepo(jobID)
	if err != nil {
		return nil, NewRuntimeError(err)
	}
	if err := t.startServices(ctx, repo); err != nil {
		return nil, NewRuntimeError(err)
	}

	dispatcher := reporting.NewDispatcher(log,
		reporting.NewLogSink(log, t.config.ProgressInterval),
		reporting.MetricsSink{},
		&reporting.JSONSink{},
		&reporting.XUnitSink{
			Output:          t.config.XUnitOutput,
			JobName:         t.config.XUnitJobName,
			MaxTestLogChars: t.config.XUnitMaxTestLogChars,
			Stdout:          t.stdout,
		},
		reporting.NewTableSink(t.stdout),
	)

	loop, err := suite.New(suite.Options{
		Config: suite.Config{
			Timeout:     t.config.Timeout,
			JobLogDir:   jobLogDir,
			JobUniqueID: jobID,
			Debug:       t.config.Debug,
			FailFast:    t.config.FailFast,
		},
		Registry: t.registry,
		Reporter: dispatcher,
		Repo:     repo,
		Log:      log,
	})
	if err != nil {
		return nil, NewRuntimeError(fmt.Errorf("failed to create suite loop: %w", err))
	}

	result, err := loop.Run(ctx, s)
	if err != nil {
		return nil, NewRuntimeError(err)
	}
	dispatcher.Complete(result)

	t.mu.Lock()
	t.result = result
	t.mu.Unlock()
	return result, nil
}

// openRepo scopes a persistent status db to the job, so earlier runs stored
// in the same database never feed into this job's results
func (t *taskRunner) openRepo(jobID string) (store, error) {
	var repo store
	if t.config.StatusDB != "" {
		db, err := status.OpenLevelDBRepo(t.config.StatusDB, jobID, t.config.Log)
		if err != nil {
			return nil, err
		}
		repo = db
	} else {
		repo = status.NewMemoryRepo()
	}
	t.mu.Lock()
	t.repo = repo
	t.mu.Unlock()
	return repo, nil
}

// startServices starts the status service when serving is enabled, and a
// metrics-only service on the op-service metrics address when metrics are enabled
func (t *taskRunner) startServices(ctx context.Context, repo store) error {
	var cfgs []service.Config
	if t.config.Serve {
		cfgs = append(cfgs, service.Config{
			Host:  t.config.ServeAddr,
			Port:  t.config.ServePort,
			Store: repo,
			Log:   t.config.Log,
		})
	}
	if t.config.Metrics.Enabled {
		cfgs = append(cfgs, service.Config{
			Host: t.config.Metrics.ListenAddr,
			Port: t.config.Metrics.ListenPort,
			Log:  t.config.Log,
		})
	}
	for _, cfg := range cfgs {
		svc := service.New(cfg)
		if err := svc.Start(ctx); err != nil {
			return err
		}
		t.mu.Lock()
		t.services = append(t.services, svc)
		t.mu.Unlock()
	}
	return nil
}

// Stop shuts the services down and closes the status repository.
// Stop implements the cliapp.Lifecycle interface.
func (t *taskRunner) Stop(ctx context.Context) error {
	t.config.Log.Info("Stopping op-taskrunner")
	if !t.running.Swap(false) {
		t.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}

	t.mu.Lock()
	services, repo := t.services, t.repo
	t.services = nil
	t.mu.Unlock()

	var errs []error
	for _, svc := range services {
		if err := svc.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if closer, ok := repo.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close status db: %w", err))
		}
	}

	t.config.Log.Info("op-taskrunner stopped")
	return errors.Join(errs...)
}

// Stopped returns true if the op-taskrunner service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (t *taskRunner) Stopped() bool {
	return !t.running.Load()
}

// Result returns the result of the last job, nil before it completed
func (t *taskRunner) Result() *reporting.Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

func summary(r *reporting.Result) string {
	counts := r.Counts()
	return fmt.Sprintf("%d/%d ended, %d failed, %d errors, %d interrupted, suite interrupted: %t",
		r.Ended(), r.TestsTotal,
		counts[types.TestStatusFail], counts[types.TestStatusError], counts[types.TestStatusInterrupt],
		r.Interrupted)
}
