// Package status stores the raw status events emitted by tasks during a suite run.
//
// A repository is append-only: events are recorded under the identity of the task
// that produced them and read back, in arrival order, once the task's stream ends.
package status

import (
	"errors"
	"sync"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

var (
	// ErrMissingTaskID is returned when an event carries no task identity
	ErrMissingTaskID = errors.New("status event has no task id")
	// ErrCorruptEvent is returned when a stored event cannot be decoded
	ErrCorruptEvent = errors.New("corrupt status event")
)

// Repo is an append-only, task-indexed store of status events
type Repo interface {
	// Record appends an event under its task identity
	Record(ev types.StatusEvent) error
	// EventsFor returns a snapshot of every event recorded for id, in arrival order.
	// It fails rather than return a partial stream.
	EventsFor(id types.TaskID) ([]types.StatusEvent, error)
}

var _ Repo = (*MemoryRepo)(nil)

// MemoryRepo keeps the events of one suite run in memory
type MemoryRepo struct {
	mu     sync.RWMutex
	events map[string][]types.StatusEvent
	order  []types.TaskID
}

// NewMemoryRepo creates an empty repository
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		events: make(map[string][]types.StatusEvent),
	}
}

// Record implements Repo
func (r *MemoryRepo) Record(ev types.StatusEvent) error {
	if ev.TaskID.IsZero() {
		return ErrMissingTaskID
	}
	key := ev.TaskID.String()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[key]; !ok {
		r.order = append(r.order, ev.TaskID)
	}
	r.events[key] = append(r.events[key], ev.Clone())
	return nil
}

// EventsFor implements Repo
func (r *MemoryRepo) EventsFor(id types.TaskID) ([]types.StatusEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recorded := r.events[id.String()]
	out := make([]types.StatusEvent, len(recorded))
	for i, ev := range recorded {
		out[i] = ev.Clone()
	}
	return out, nil
}

// TaskIDs returns the identities with at least one recorded event, in first-seen order
func (r *MemoryRepo) TaskIDs() []types.TaskID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.TaskID, len(r.order))
	copy(out, r.order)
	return out
}

// Lister is implemented by repositories that can enumerate the tasks they hold
type Lister interface {
	TaskIDs() []types.TaskID
}

var (
	_ Lister = (*MemoryRepo)(nil)
	_ Lister = (*LevelDBRepo)(nil)
)
