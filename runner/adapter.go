package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

var (
	// ErrAdapterExhausted is returned when an adapter is started twice or read after its stream ended
	ErrAdapterExhausted = errors.New("task adapter already consumed")
	// ErrUnknownKind is returned when no backend handles a runnable's kind
	ErrUnknownKind = errors.New("no runner registered for kind")
)

// Adapter exposes one execution of a task as a single-pass sequence of status events.
// A fresh execution needs a fresh Adapter.
type Adapter struct {
	backend Backend
	task    *types.RuntimeTask
	log     log.Logger

	mu      sync.Mutex
	started bool
	done    bool
	events  <-chan types.StatusEvent
	cancel  context.CancelFunc
}

// NewAdapter resolves the backend for task's kind from the known runners
func NewAdapter(registry *Registry, task *types.RuntimeTask, logger log.Logger) (*Adapter, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if task == nil {
		return nil, fmt.Errorf("task cannot be nil")
	}
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}
	kind := task.Task.Runnable.Kind
	backend, ok := registry.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
	return &Adapter{
		backend: backend,
		task:    task,
		log:     logger.New("task", task.Task.ID),
	}, nil
}

// Start launches the backend. Next calls Start implicitly.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startLocked(ctx)
}

func (a *Adapter) startLocked(ctx context.Context) error {
	if a.started {
		return ErrAdapterExhausted
	}
	a.started = true

	runCtx, cancel := context.WithCancel(ctx)
	events, err := a.backend.Run(runCtx, a.task.Task)
	if err != nil {
		cancel()
		a.done = true
		return fmt.Errorf("failed to start %s runner: %w", a.backend.Kind(), err)
	}
	a.events = events
	a.cancel = cancel
	a.task.StatusServices = append(a.task.StatusServices, a.backend.Kind()+"://"+a.task.Task.ID.String())
	a.log.Debug("Runner started", "kind", a.backend.Kind())
	return nil
}

// Next blocks until the next event is available. It returns false once the
// stream has ended; any later call returns ErrAdapterExhausted.
func (a *Adapter) Next(ctx context.Context) (types.StatusEvent, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.done {
		return types.StatusEvent{}, false, ErrAdapterExhausted
	}
	if !a.started {
		if err := a.startLocked(ctx); err != nil {
			return types.StatusEvent{}, false, err
		}
	}

	select {
	case ev, ok := <-a.events:
		if !ok {
			a.finishLocked()
			return types.StatusEvent{}, false, nil
		}
		// Events always belong to the adapter's task, whatever the backend set
		ev.TaskID = a.task.Task.ID
		return ev, true, nil
	case <-ctx.Done():
		return types.StatusEvent{}, false, ctx.Err()
	}
}

// Close stops the backend and discards any events it still emits
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		a.started = true
		a.done = true
		return
	}
	if a.done {
		return
	}
	a.cancel()
	for range a.events {
	}
	a.finishLocked()
}

func (a *Adapter) finishLocked() {
	a.done = true
	if a.cancel != nil {
		a.cancel()
	}
	a.task.StatusServices = nil
}
