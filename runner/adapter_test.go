package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

func newRuntimeTask(kind string) *types.RuntimeTask {
	suite := types.Suite{Name: "adapter", Runnables: []types.Runnable{{Kind: kind, URI: "x"}}}
	return types.NewRuntimeTasks(suite.Tasks())[0]
}

func drain(t *testing.T, a *Adapter) []types.StatusEvent {
	t.Helper()
	var out []types.StatusEvent
	for {
		ev, ok, err := a.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func TestAdapterYieldsEventsInOrder(t *testing.T) {
	now := time.Now()
	other := types.NewTaskID("other", 1, "y", "", 1)
	backend := &fakeBackend{kind: "fake", events: []types.StatusEvent{
		{Status: types.LifecycleStarted, Time: now},
		{Status: types.LifecycleRunning, Time: now.Add(time.Millisecond)},
		{TaskID: other, Status: types.LifecycleFinished, Time: now.Add(2 * time.Millisecond), Result: types.OutcomePass},
	}}
	reg, err := NewRegistry(log.New(), backend)
	require.NoError(t, err)

	task := newRuntimeTask("fake")
	a, err := NewAdapter(reg, task, log.New())
	require.NoError(t, err)

	events := drain(t, a)
	require.Len(t, events, 3)
	assert.Equal(t, types.LifecycleStarted, events[0].Status)
	assert.Equal(t, types.LifecycleRunning, events[1].Status)
	assert.Equal(t, types.LifecycleFinished, events[2].Status)
	for _, ev := range events {
		assert.Equal(t, task.Task.ID, ev.TaskID)
	}
	assert.Empty(t, task.StatusServices, "status handles are released once the stream ends")

	_, _, err = a.Next(context.Background())
	assert.ErrorIs(t, err, ErrAdapterExhausted)
	assert.ErrorIs(t, a.Start(context.Background()), ErrAdapterExhausted)
	assert.Equal(t, 1, backend.runs, "an adapter never restarts its backend")
}

func TestAdapterTracksStatusServices(t *testing.T) {
	backend := &fakeBackend{kind: "fake", events: []types.StatusEvent{{Status: types.LifecycleStarted}}}
	reg, err := NewRegistry(log.New(), backend)
	require.NoError(t, err)

	task := newRuntimeTask("fake")
	a, err := NewAdapter(reg, task, log.New())
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background()))
	assert.Equal(t, []string{"fake://" + task.Task.ID.String()}, task.StatusServices)

	a.Close()
	assert.Empty(t, task.StatusServices)
	_, _, err = a.Next(context.Background())
	assert.ErrorIs(t, err, ErrAdapterExhausted)
}

func TestAdapterUnknownKind(t *testing.T) {
	reg, err := NewRegistry(log.New())
	require.NoError(t, err)
	_, err = NewAdapter(reg, newRuntimeTask("missing"), log.New())
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestAdapterBackendStartError(t *testing.T) {
	boom := errors.New("boom")
	reg, err := NewRegistry(log.New(), &fakeBackend{kind: "fake", runErr: boom})
	require.NoError(t, err)

	a, err := NewAdapter(reg, newRuntimeTask("fake"), log.New())
	require.NoError(t, err)

	_, ok, err := a.Next(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)

	_, _, err = a.Next(context.Background())
	assert.ErrorIs(t, err, ErrAdapterExhausted)
}

func TestAdapterContextCancelled(t *testing.T) {
	blocking := &blockingBackend{release: make(chan struct{})}
	reg, err := NewRegistry(log.New(), blocking)
	require.NoError(t, err)

	a, err := NewAdapter(reg, newRuntimeTask("blocking"), log.New())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Start(ctx))
	cancel()

	_, ok, err := a.Next(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)

	close(blocking.release)
	a.Close()
}

// blockingBackend sends nothing and closes its stream once released
type blockingBackend struct {
	release chan struct{}
}

func (b *blockingBackend) Kind() string { return "blocking" }

func (b *blockingBackend) Run(_ context.Context, _ types.Task) (<-chan types.StatusEvent, error) {
	ch := make(chan types.StatusEvent)
	go func() {
		<-b.release
		close(ch)
	}()
	return ch, nil
}

func TestNoopBackend(t *testing.T) {
	reg, err := NewRegistry(log.New(), NoopBackend{})
	require.NoError(t, err)
	a, err := NewAdapter(reg, newRuntimeTask(types.KindNoop), log.New())
	require.NoError(t, err)

	events := drain(t, a)
	require.Len(t, events, 2)
	assert.Equal(t, types.LifecycleStarted, events[0].Status)
	assert.Equal(t, types.OutcomePass, events[1].Result)
	assert.True(t, events[1].Status.IsTerminal())
}
