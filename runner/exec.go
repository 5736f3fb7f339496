package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/sourcegraph/conc"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

var _ Backend = (*ExecBackend)(nil)

// ErrOutputExists is the failure reason when an output directory already holds captured output
var ErrOutputExists = errors.New("output files exist")

// ExecConfig configures the exec-test backend
type ExecConfig struct {
	Log log.Logger
	// StatusInterval is the period of running heartbeats, DefaultStatusInterval when zero
	StatusInterval time.Duration
	// SkipExitCodes are exit codes reported as skip for every runnable, in addition to the runnable's own
	SkipExitCodes []int
	// CaptureLimit caps the bytes kept per output stream, DefaultCaptureLimit when zero
	CaptureLimit int
	// WaitDelay bounds how long output is drained after the process exits
	WaitDelay time.Duration
}

// ExecBackend runs a local executable and reports its exit status.
// Exit code 0 is a pass, a configured skip code is a skip and anything else is a fail.
type ExecBackend struct {
	cfg ExecConfig
	log log.Logger
}

// NewExecBackend creates the exec-test backend
func NewExecBackend(cfg ExecConfig) *ExecBackend {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}
	if cfg.CaptureLimit <= 0 {
		cfg.CaptureLimit = DefaultCaptureLimit
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = 5 * time.Second
	}
	return &ExecBackend{
		cfg: cfg,
		log: cfg.Log.New("runner", types.KindExecTest),
	}
}

func (b *ExecBackend) Kind() string { return types.KindExecTest }

// Run starts the executable in the background; events are delivered unbuffered
func (b *ExecBackend) Run(ctx context.Context, task types.Task) (<-chan types.StatusEvent, error) {
	if task.Runnable.URI == "" {
		return nil, fmt.Errorf("exec-test runnable %s has no uri", task.ID)
	}
	events := make(chan types.StatusEvent)
	go b.execute(ctx, task, events)
	return events, nil
}

func (b *ExecBackend) execute(ctx context.Context, task types.Task, events chan<- types.StatusEvent) {
	defer close(events)
	logger := b.log.New("task", task.ID)
	r := task.Runnable

	send := func(ev types.StatusEvent) {
		ev.TaskID = task.ID
		ev.Time = time.Now()
		events <- ev
	}
	fail := func(reason string) {
		send(types.StatusEvent{
			Status:     types.LifecycleFinished,
			Result:     types.OutcomeError,
			FailReason: reason,
		})
	}

	send(types.StatusEvent{
		Status: types.LifecycleStarted,
		Extra:  map[string]any{ExtraKind: types.KindExecTest, ExtraURI: r.URI},
	})

	stdout := newCaptureBuffer(b.cfg.CaptureLimit)
	stderr := newCaptureBuffer(b.cfg.CaptureLimit)
	var stdoutW, stderrW io.Writer = stdout, stderr

	if r.OutputDir != "" {
		files, err := openOutputFiles(r.OutputDir)
		if err != nil {
			logger.Error("Refusing to run", "output_dir", r.OutputDir, "err", err)
			fail(err.Error())
			return
		}
		defer files.close()
		stdoutW = io.MultiWriter(files.stdout, stdout)
		stderrW = io.MultiWriter(files.stderr, stderr)
	}

	cmd := exec.CommandContext(ctx, r.URI, r.Args...)
	cmd.Env = b.environ(r)
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.WaitDelay = b.cfg.WaitDelay

	if err := cmd.Start(); err != nil {
		logger.Error("Failed to start process", "uri", r.URI, "err", err)
		fail(fmt.Sprintf("failed to start %s: %v", r.URI, err))
		return
	}
	pid := cmd.Process.Pid
	logger.Debug("Process started", "pid", pid)

	var waitErr error
	exited := make(chan struct{})
	var wg conc.WaitGroup
	wg.Go(func() {
		defer close(exited)
		waitErr = cmd.Wait()
	})
	wg.Go(func() {
		ticker := time.NewTicker(b.cfg.StatusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-exited:
				return
			case <-ticker.C:
				send(types.StatusEvent{
					Status: types.LifecycleRunning,
					Extra:  map[string]any{ExtraPID: pid},
				})
			}
		}
	})
	wg.Wait()

	final := types.StatusEvent{
		Status: types.LifecycleFinished,
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}
	if stdout.Truncated() || stderr.Truncated() {
		final.Extra = map[string]any{
			ExtraStdoutTruncated: stdout.Truncated(),
			ExtraStderrTruncated: stderr.Truncated(),
			ExtraStdoutBytes:     stdout.TotalBytes(),
			ExtraStderrBytes:     stderr.TotalBytes(),
		}
	}

	rc := cmd.ProcessState.ExitCode()
	final.ReturnCode = &rc
	switch {
	case ctx.Err() != nil:
		final.Result = types.OutcomeInterrupted
		final.FailReason = ctx.Err().Error()
	case waitErr == nil:
		final.Result = types.OutcomePass
	case b.isSkipCode(r, rc):
		final.Result = types.OutcomeSkip
	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			final.Result = types.OutcomeFail
		} else {
			final.Result = types.OutcomeError
			final.FailReason = waitErr.Error()
		}
	}
	logger.Debug("Process finished", "pid", pid, "returncode", rc, "result", final.Result)
	send(final)
}

func (b *ExecBackend) isSkipCode(r types.Runnable, rc int) bool {
	return slices.Contains(r.SkipExitCodes, rc) || slices.Contains(b.cfg.SkipExitCodes, rc)
}

// environ returns the process environment plus the runnable's own variables, which win
func (b *ExecBackend) environ(r types.Runnable) []string {
	env := os.Environ()
	if r.OutputDir != "" {
		env = append(env, OutputDirEnv+"="+r.OutputDir)
	}
	keys := make([]string, 0, len(r.Env))
	for k := range r.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+r.Env[k])
	}
	return env
}

type outputFiles struct {
	stdout *os.File
	stderr *os.File
}

// openOutputFiles creates the stdout and stderr files in dir. Output from an
// earlier run is never overwritten.
func openOutputFiles(dir string) (*outputFiles, error) {
	for _, name := range []string{StdoutFileName, StderrFileName} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return nil, fmt.Errorf("%w in %s", ErrOutputExists, dir)
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir %s: %w", dir, err)
	}
	stdout, err := os.OpenFile(filepath.Join(dir, StdoutFileName), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout file: %w", err)
	}
	stderr, err := os.OpenFile(filepath.Join(dir, StderrFileName), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		_ = stdout.Close()
		return nil, fmt.Errorf("failed to create stderr file: %w", err)
	}
	return &outputFiles{stdout: stdout, stderr: stderr}, nil
}

func (f *outputFiles) close() {
	_ = f.stdout.Close()
	_ = f.stderr.Close()
}
