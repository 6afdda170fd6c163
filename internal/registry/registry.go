// Package registry maps node kinds to the executors that run them. The
// registry is an explicit instance constructed at startup and passed into the
// runner; there is no process-wide default.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aaaronmiller/datakiln/internal/artifact"
	"github.com/aaaronmiller/datakiln/internal/workflow"
)

// Request carries everything an executor needs to run one node.
type Request struct {
	ExecutionID string
	WorkflowID  string
	Node        workflow.Node
	// Inputs holds the outputs of the node's predecessors plus the run's
	// global inputs, keyed by artifact ID.
	Inputs map[string]any
	// State is the run-scoped mutable workflow state exposed to guard
	// expressions.
	State     map[string]any
	Artifacts artifact.Store
}

// Response is what a node produced. Outputs are persisted as artifacts by
// the engine on node success.
type Response struct {
	Outputs map[string]any
}

// Executor runs nodes of one kind.
type Executor interface {
	Execute(ctx context.Context, req Request) (Response, error)
}

// ExecutorFunc adapts a function into an Executor.
type ExecutorFunc func(ctx context.Context, req Request) (Response, error)

// Execute runs f.
func (f ExecutorFunc) Execute(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Registry maintains known node executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{executors: map[string]Executor{}}
}

// Register installs an executor for a node kind. Returns an error if the
// kind already has one.
func (r *Registry) Register(kind string, exec Executor) error {
	if kind == "" {
		return fmt.Errorf("registry: kind is required")
	}
	if exec == nil {
		return fmt.Errorf("registry: executor is required for %s", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[kind]; exists {
		return fmt.Errorf("registry: %s already registered", kind)
	}
	r.executors[kind] = exec
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(kind string, exec Executor) {
	if err := r.Register(kind, exec); err != nil {
		panic(err)
	}
}

// Resolve finds the executor for a node kind.
func (r *Registry) Resolve(kind string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[kind]
	if !ok {
		return nil, fmt.Errorf("registry: unknown kind %s", kind)
	}
	return exec, nil
}

// Kinds returns a sorted list of registered node kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.executors))
	for kind := range r.executors {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
