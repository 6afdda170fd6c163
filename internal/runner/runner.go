// Package runner drives one workflow run end to end: it initializes engine
// state, dispatches ready nodes through the executor registry, and feeds the
// resulting events back through the engine's transition function. Transitions
// for a run happen on a single goroutine, which is what keeps the engine's
// single-writer requirement honest.
package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aaaronmiller/datakiln/internal/artifact"
	"github.com/aaaronmiller/datakiln/internal/engine"
	"github.com/aaaronmiller/datakiln/internal/events"
	"github.com/aaaronmiller/datakiln/internal/registry"
	"github.com/aaaronmiller/datakiln/internal/workflow"
)

// DefaultPollInterval is how long the runner waits when nothing is ready but
// the run is not complete.
const DefaultPollInterval = 50 * time.Millisecond

// Runner executes workflow definitions.
type Runner struct {
	engine   *engine.Executor
	registry *registry.Registry
	poll     time.Duration
	clock    func() time.Time
	log      events.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithPollInterval overrides the idle wait between dispatch sweeps.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.poll = d
		}
	}
}

// WithClock injects a time source.
func WithClock(clock func() time.Time) Option {
	return func(r *Runner) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger attaches a diagnostics logger.
func WithLogger(log events.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// New builds a runner over the given engine and executor registry.
func New(eng *engine.Executor, reg *registry.Registry, opts ...Option) *Runner {
	r := &Runner{
		engine:   eng,
		registry: reg,
		poll:     DefaultPollInterval,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// run is the per-execution bookkeeping the runner itself keeps. Everything
// durable lives in the engine state.
type run struct {
	id        string
	def       workflow.Definition
	state     *engine.State
	wfState   map[string]any
	announced map[string]bool
}

// Execute drives a definition to completion and returns its final state. A
// failed run returns the state together with an error naming the failure.
func (r *Runner) Execute(ctx context.Context, def workflow.Definition, globals map[string]any, budget engine.CapabilityBudget, store artifact.Store) (*engine.State, error) {
	normalized, err := def.Normalized()
	if err != nil {
		return nil, err
	}
	executionID := uuid.NewString()
	state, err := r.engine.InitializeState(normalized, executionID, globals, budget, store)
	if err != nil {
		return nil, err
	}
	if budget.TimeoutLimitMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(budget.TimeoutLimitMS)*time.Millisecond)
		defer cancel()
	}

	rn := &run{
		id:        executionID,
		def:       normalized,
		state:     state,
		wfState:   map[string]any{},
		announced: map[string]bool{},
	}
	if err := r.apply(rn, events.New(events.WorkflowStarted, executionID, normalized.ID, r.clock())); err != nil {
		return state, err
	}
	if err := r.drive(ctx, rn); err != nil {
		return state, err
	}
	if state.Status() == engine.StatusFailed {
		return state, &engine.ExecutionError{
			ExecutionID: executionID,
			Err:         fmt.Errorf("run failed: %s", state.Failure()),
		}
	}
	return state, nil
}

// drive repeats dispatch sweeps until the engine discards the run.
func (r *Runner) drive(ctx context.Context, rn *run) error {
	for {
		if _, live := r.engine.Run(rn.id); !live {
			return nil
		}
		dispatched, err := r.sweep(ctx, rn)
		if err != nil {
			return err
		}
		if dispatched {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.poll):
		}
	}
}

// sweep dispatches every currently executable ready node, one at a time.
// It reports whether any node ran.
func (r *Runner) sweep(ctx context.Context, rn *run) (bool, error) {
	dispatched := false
	for _, nodeID := range r.engine.GetReadyNodes(rn.id) {
		node, ok := rn.def.Node(nodeID)
		if !ok {
			return dispatched, fmt.Errorf("runner: run %s references unknown node %s", rn.id, nodeID)
		}
		req := requirementsOf(node)
		if !r.engine.CanExecuteNode(rn.id, nodeID, req) {
			continue
		}
		if err := r.dispatch(ctx, rn, node, req); err != nil {
			return dispatched, err
		}
		dispatched = true
		if _, live := r.engine.Run(rn.id); !live {
			return dispatched, nil
		}
	}
	return dispatched, nil
}

// dispatch allocates, executes, and reports one node.
func (r *Runner) dispatch(ctx context.Context, rn *run, node workflow.Node, req engine.Requirements) error {
	ok, err := r.engine.AllocateResources(rn.id, node.ID, req)
	if err != nil {
		return err
	}
	if !ok {
		// Lost the capacity between the check and the commit; retry on the
		// next sweep.
		return nil
	}
	if !rn.announced[node.ID] {
		if err := r.apply(rn, r.newEvent(rn, events.NodeStarted).WithNode(node.ID)); err != nil {
			return err
		}
	}

	inputs, err := r.collectInputs(rn, node.ID)
	if err != nil {
		return err
	}
	exec, err := r.registry.Resolve(string(node.Type))
	if err != nil {
		return r.reportFailure(rn, node.ID, err)
	}
	resp, execErr := exec.Execute(ctx, registry.Request{
		ExecutionID: rn.id,
		WorkflowID:  rn.def.ID,
		Node:        node,
		Inputs:      inputs,
		State:       rn.wfState,
		Artifacts:   rn.state.Artifacts(),
	})
	if execErr != nil {
		return r.reportFailure(rn, node.ID, execErr)
	}
	if r.log != nil {
		r.log.Printf("runner: node %s of run %s produced %d outputs", node.ID, rn.id, len(resp.Outputs))
	}
	succeeded := r.newEvent(rn, events.NodeSucceeded).WithNode(node.ID)
	if len(resp.Outputs) > 0 {
		succeeded = succeeded.WithData(map[string]any{"outputs": resp.Outputs})
	}
	return r.apply(rn, succeeded)
}

// reportFailure turns a node error into a NODE_FAILED transition. The engine
// escalates it to whole-run failure.
func (r *Runner) reportFailure(rn *run, nodeID string, cause error) error {
	if r.log != nil {
		r.log.Printf("runner: node %s of run %s failed: %v", nodeID, rn.id, cause)
	}
	failed := r.newEvent(rn, events.NodeFailed).
		WithNode(nodeID).
		WithData(map[string]any{"error": cause.Error()})
	return r.apply(rn, failed)
}

// apply pushes one event through the engine and then applies every follow-up
// it produced, depth first.
func (r *Runner) apply(rn *run, ev events.Event) error {
	followUps, err := r.engine.Transition(ev)
	if err != nil {
		return err
	}
	if ev.Type == events.NodeStarted {
		rn.announced[ev.NodeID] = true
	}
	for _, next := range followUps {
		if err := r.apply(rn, next); err != nil {
			return err
		}
	}
	return nil
}

// collectInputs gathers the run's global inputs plus every artifact produced
// by the node's predecessors, keyed by artifact ID.
func (r *Runner) collectInputs(rn *run, nodeID string) (map[string]any, error) {
	store := rn.state.Artifacts()
	preds := rn.state.Predecessors[nodeID]
	inputs := map[string]any{}
	ids, err := store.List()
	if err != nil {
		return nil, fmt.Errorf("runner: list artifacts for %s: %w", nodeID, err)
	}
	for _, id := range ids {
		if !inputFor(id, preds) {
			continue
		}
		stored, err := store.Retrieve(id)
		if err != nil {
			return nil, fmt.Errorf("runner: collect input %s for %s: %w", id, nodeID, err)
		}
		inputs[id] = stored.Data
	}
	return inputs, nil
}

func inputFor(artifactID string, preds []string) bool {
	if strings.HasPrefix(artifactID, artifact.GlobalPrefix) {
		return true
	}
	for _, pred := range preds {
		if strings.HasPrefix(artifactID, pred+"_") {
			return true
		}
	}
	return false
}

func (r *Runner) newEvent(rn *run, kind events.Type) events.Event {
	return events.New(kind, rn.id, rn.def.ID, r.clock())
}

// requirementsOf reads a node's declared resource needs from its config.
func requirementsOf(node workflow.Node) engine.Requirements {
	return engine.Requirements{
		BrowserContexts: configInt(node.Config, "browser_contexts"),
		MemoryMB:        configInt(node.Config, "memory_mb"),
	}
}

func configInt(cfg map[string]any, key string) int {
	switch n := cfg[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
