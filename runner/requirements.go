package runner

import (
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

// RequirementsChecker splits candidate runnables into those that can run and those that cannot
type RequirementsChecker interface {
	Check(runnables []types.Runnable) (eligible, excluded []types.Runnable)
}

var _ RequirementsChecker = (*RegistryChecker)(nil)

// RegistryChecker keeps the runnables whose kind has a registered backend
type RegistryChecker struct {
	Registry *Registry
	Log      log.Logger
}

// Check implements RequirementsChecker. Input order is preserved in both outputs.
func (c *RegistryChecker) Check(runnables []types.Runnable) (eligible, excluded []types.Runnable) {
	for _, r := range runnables {
		if _, ok := c.Registry.Lookup(r.Kind); ok {
			eligible = append(eligible, r)
			continue
		}
		if c.Log != nil {
			c.Log.Warn("No runner for runnable kind", "kind", r.Kind, "uri", r.URI)
		}
		excluded = append(excluded, r)
	}
	return eligible, excluded
}
