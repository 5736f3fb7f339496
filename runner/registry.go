package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

// Backend executes one kind of runnable.
type Backend interface {
	// Kind returns the runnable kind this backend handles
	Kind() string
	// Run starts the task and returns its status events. The channel is closed
	// once the task's terminal event has been sent.
	Run(ctx context.Context, task types.Task) (<-chan types.StatusEvent, error)
}

// Registry holds the known runners, keyed by runnable kind
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
	log      log.Logger
}

// NewRegistry creates a registry with the given backends
func NewRegistry(logger log.Logger, backends ...Backend) (*Registry, error) {
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}
	r := &Registry{
		backends: make(map[string]Backend),
		log:      logger,
	}
	for _, b := range backends {
		if err := r.Register(b); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a backend. Registering a second backend for a kind is an error.
func (r *Registry) Register(b Backend) error {
	if b == nil {
		return fmt.Errorf("backend cannot be nil")
	}
	kind := b.Kind()
	if kind == "" {
		return fmt.Errorf("backend kind cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[kind]; exists {
		return fmt.Errorf("backend for kind %q already registered", kind)
	}
	r.backends[kind] = b
	r.log.Debug("Registered runner", "kind", kind)
	return nil
}

// Lookup returns the backend handling kind
func (r *Registry) Lookup(kind string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[kind]
	return b, ok
}

// Kinds returns the registered kinds, sorted
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.backends))
	for k := range r.backends {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
