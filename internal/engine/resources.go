package engine

import "fmt"

// ResourceType names one of the budgeted resource pools a run draws from.
type ResourceType string

const (
	// ResourceBrowserContexts counts browser-context slots.
	ResourceBrowserContexts ResourceType = "browser_contexts"
	// ResourceConcurrentNodes counts concurrent-node slots. Every dispatch
	// reserves one regardless of what else it asks for.
	ResourceConcurrentNodes ResourceType = "concurrent_nodes"
	// ResourceMemory counts memory units in MB.
	ResourceMemory ResourceType = "memory_mb"
)

// CapabilityBudget is the resource ceiling a run may consume.
type CapabilityBudget struct {
	BrowserContexts int `json:"browser_contexts" yaml:"browser_contexts"`
	ConcurrentNodes int `json:"concurrent_nodes" yaml:"concurrent_nodes"`
	MemoryLimitMB   int `json:"memory_limit_mb" yaml:"memory_limit_mb"`
	TimeoutLimitMS  int `json:"timeout_limit_ms" yaml:"timeout_limit_ms"`
}

// DefaultBudget mirrors the capability ceiling granted to a run when the
// configuration names none.
func DefaultBudget() CapabilityBudget {
	return CapabilityBudget{
		BrowserContexts: 3,
		ConcurrentNodes: 5,
		MemoryLimitMB:   512,
		TimeoutLimitMS:  300_000,
	}
}

// Validate rejects non-positive pool capacities.
func (b CapabilityBudget) Validate() error {
	if b.BrowserContexts < 0 || b.ConcurrentNodes <= 0 || b.MemoryLimitMB < 0 {
		return fmt.Errorf("engine: invalid capability budget %+v", b)
	}
	return nil
}

// Requirements describes what a node needs before it may dispatch. One
// concurrent-node slot is always reserved on top of these.
type Requirements struct {
	BrowserContexts int
	MemoryMB        int
}

// Allocation records one grant from a resource pool.
type Allocation struct {
	Type   ResourceType
	Amount int
}

// pool tracks usage against capacity for a single resource type.
type pool struct {
	capacity int
	usage    int
}

// resourceSet is the per-run accounting for every resource pool plus the
// allocations each node currently holds. Not internally locked: the owning
// state's single-writer rule covers it.
type resourceSet struct {
	pools  map[ResourceType]*pool
	byNode map[string][]Allocation
}

func newResourceSet(budget CapabilityBudget) *resourceSet {
	return &resourceSet{
		pools: map[ResourceType]*pool{
			ResourceBrowserContexts: {capacity: budget.BrowserContexts},
			ResourceConcurrentNodes: {capacity: budget.ConcurrentNodes},
			ResourceMemory:          {capacity: budget.MemoryLimitMB},
		},
		byNode: map[string][]Allocation{},
	}
}

// requests expands Requirements into concrete allocation requests, always
// including the concurrent-node slot.
func (r Requirements) requests() []Allocation {
	requests := []Allocation{{Type: ResourceConcurrentNodes, Amount: 1}}
	if r.BrowserContexts > 0 {
		requests = append(requests, Allocation{Type: ResourceBrowserContexts, Amount: r.BrowserContexts})
	}
	if r.MemoryMB > 0 {
		requests = append(requests, Allocation{Type: ResourceMemory, Amount: r.MemoryMB})
	}
	return requests
}

// canAllocate reports whether every request fits its pool right now.
func (rs *resourceSet) canAllocate(requests []Allocation) bool {
	for _, req := range requests {
		p, ok := rs.pools[req.Type]
		if !ok || p.usage+req.Amount > p.capacity {
			return false
		}
	}
	return true
}

// allocate applies every request together, or nothing at all. The check and
// the commit share one call frame with no suspension point between them.
func (rs *resourceSet) allocate(nodeID string, requests []Allocation) bool {
	if !rs.canAllocate(requests) {
		return false
	}
	for _, req := range requests {
		rs.pools[req.Type].usage += req.Amount
	}
	rs.byNode[nodeID] = append(rs.byNode[nodeID], requests...)
	return true
}

// release returns every allocation the node holds. Usage is floor-clamped
// at zero; releasing a node that holds nothing is a no-op.
func (rs *resourceSet) release(nodeID string) {
	for _, alloc := range rs.byNode[nodeID] {
		p, ok := rs.pools[alloc.Type]
		if !ok {
			continue
		}
		p.usage -= alloc.Amount
		if p.usage < 0 {
			p.usage = 0
		}
	}
	delete(rs.byNode, nodeID)
}

// Usage reports current usage and capacity for a resource type.
func (rs *resourceSet) usage(kind ResourceType) (used, capacity int) {
	p, ok := rs.pools[kind]
	if !ok {
		return 0, 0
	}
	return p.usage, p.capacity
}

// holdings returns a copy of the allocations a node currently holds.
func (rs *resourceSet) holdings(nodeID string) []Allocation {
	allocs := rs.byNode[nodeID]
	if len(allocs) == 0 {
		return nil
	}
	out := make([]Allocation, len(allocs))
	copy(out, allocs)
	return out
}
