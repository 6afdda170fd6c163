// Package engine owns the operational semantics of a workflow run: the
// state-transition function over execution events, resource accounting
// against a capability budget, artifact persistence for node outputs, and
// completion detection. The engine performs no I/O of its own beyond the
// injected artifact store and event sink.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/aaaronmiller/datakiln/internal/artifact"
	"github.com/aaaronmiller/datakiln/internal/events"
	"github.com/aaaronmiller/datakiln/internal/workflow"
)

// Logger records executor diagnostics. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

// Executor drives workflow runs to completion by applying execution events.
// It keeps a live-run table keyed by execution ID; a run is discarded when
// its EXECUTION_COMPLETED event is applied and admits no further
// transitions.
type Executor struct {
	mu    sync.Mutex
	runs  map[string]*State
	sink  events.Sink
	clock func() time.Time
	log   Logger
}

// Option customizes the executor instance.
type Option func(*Executor)

// WithSink attaches the channel/queue subscribers listen on. The executor
// emits; it never depends on a particular subscriber.
func WithSink(sink events.Sink) Option {
	return func(e *Executor) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Executor) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger injects a diagnostics logger.
func WithLogger(log Logger) Option {
	return func(e *Executor) {
		if log != nil {
			e.log = log
		}
	}
}

// New builds an executor with an empty live-run table.
func New(opts ...Option) *Executor {
	e := &Executor{
		runs:  map[string]*State{},
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InitializeState builds the operational state for a run: predecessor map
// from the edge list, ready set from the zero-predecessor nodes, resource
// counters from the capability budget, and one seeded artifact per global
// input keyed global_<key>.
func (e *Executor) InitializeState(def workflow.Definition, executionID string, globals map[string]any, budget CapabilityBudget, store artifact.Store) (*State, error) {
	if executionID == "" {
		return nil, fmt.Errorf("engine: execution id is required")
	}
	if store == nil {
		return nil, fmt.Errorf("engine: artifact store is required")
	}
	if err := budget.Validate(); err != nil {
		return nil, err
	}
	preds := workflow.BuildPredecessors(def.Nodes, def.Edges)
	ready := make(map[string]struct{})
	for _, id := range workflow.Roots(def.Nodes, def.Edges) {
		ready[id] = struct{}{}
	}
	state := &State{
		RunID:        executionID,
		WorkflowID:   def.ID,
		Budget:       budget,
		Predecessors: preds,
		readySet:     ready,
		inFlight:     map[string]*Task{},
		completed:    map[string]struct{}{},
		pendingDeps:  map[string][]string{},
		resources:    newResourceSet(budget),
		artifacts:    store,
		status:       StatusRunning,
	}
	for key, value := range globals {
		seeded := artifact.Artifact{
			ID:   artifact.GlobalPrefix + key,
			Data: value,
			Metadata: artifact.Metadata{
				ContentType: artifact.InferContentType(value),
				Provenance:  artifact.Provenance{ExecutionID: executionID},
			},
		}
		if _, err := store.Store(seeded); err != nil {
			return nil, fmt.Errorf("engine: seed global input %s: %w", key, err)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.runs[executionID]; exists {
		return nil, fmt.Errorf("engine: execution %s already initialized", executionID)
	}
	e.runs[executionID] = state
	return state, nil
}

// Run returns the live state for an execution, if still tracked.
func (e *Executor) Run(executionID string) (*State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.runs[executionID]
	return state, ok
}

// Transition applies one event to its run's state and returns the follow-up
// events the semantics emit. The applied event is always appended to history
// first, then published to the sink; callers apply the follow-ups in order.
// Transitions for the same run are serialized by the per-run lock.
func (e *Executor) Transition(ev events.Event) ([]events.Event, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	state, ok := e.runs[ev.ExecutionID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExecution, ev.ExecutionID)
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	state.history = append(state.history, ev)

	var followUps []events.Event
	var err error
	switch ev.Type {
	case events.WorkflowStarted:
		followUps = e.announceReady(state)
	case events.NodeStarted:
		followUps = e.applyNodeStarted(state, ev)
	case events.StepStarted, events.StepLog:
		// Log forwarding only; history append above is the whole effect.
	case events.StepSucceeded, events.NodeSucceeded:
		// One logical step per node: a step success completes the node.
		followUps, err = e.completeNode(state, ev)
	case events.NodeFailed:
		followUps = e.failRun(state, ev)
	case events.ExecutionCompleted:
		e.discardRun(state, ev)
	default:
		err = fmt.Errorf("engine: unsupported event type %s", ev.Type)
	}
	if err != nil {
		return nil, err
	}
	e.emit(ev)
	return followUps, nil
}

// announceReady emits one NODE_STARTED per ready node. Announcement only:
// no resources move here.
func (e *Executor) announceReady(state *State) []events.Event {
	var out []events.Event
	for _, nodeID := range sortedKeys(state.readySet) {
		out = append(out, e.newEvent(state, events.NodeStarted).WithNode(nodeID))
	}
	return out
}

// applyNodeStarted records the node's predecessor list for its in-flight
// task and announces the node's single logical step.
func (e *Executor) applyNodeStarted(state *State, ev events.Event) []events.Event {
	deps := append([]string(nil), state.Predecessors[ev.NodeID]...)
	if task, ok := state.inFlight[ev.NodeID]; ok {
		task.Dependencies = deps
	} else {
		// Allocation may not have happened yet; attach on dispatch.
		state.pendingDeps[ev.NodeID] = deps
	}
	step := e.newEvent(state, events.StepStarted).WithNode(ev.NodeID).WithStep(ev.NodeID + "_step")
	return []events.Event{step}
}

// completeNode persists node outputs as artifacts, releases the node's
// resources, recomputes the ready set, and detects run completion.
func (e *Executor) completeNode(state *State, ev events.Event) ([]events.Event, error) {
	nodeID := ev.NodeID
	if nodeID == "" {
		return nil, fmt.Errorf("engine: %s event without node id", ev.Type)
	}
	if outputs, ok := ev.Data["outputs"].(map[string]any); ok {
		for key, value := range outputs {
			stored := artifact.Artifact{
				ID:   nodeID + "_" + key,
				Data: value,
				Metadata: artifact.Metadata{
					ContentType: artifact.InferContentType(value),
					Provenance:  artifact.Provenance{NodeID: nodeID, ExecutionID: state.RunID},
				},
			}
			if _, err := state.artifacts.Store(stored); err != nil {
				return nil, fmt.Errorf("engine: persist output %s of %s: %w", key, nodeID, err)
			}
		}
	}
	state.resources.release(nodeID)
	delete(state.inFlight, nodeID)
	delete(state.readySet, nodeID)
	state.completed[nodeID] = struct{}{}
	e.promoteReady(state)
	if state.completeLocked() {
		state.status = StatusCompleted
		done := e.newEvent(state, events.ExecutionCompleted).
			WithData(map[string]any{"status": string(StatusCompleted)})
		return []events.Event{done}, nil
	}
	return nil, nil
}

// promoteReady adds every pending node whose predecessors have all
// completed to the ready set.
func (e *Executor) promoteReady(state *State) {
	for nodeID, preds := range state.Predecessors {
		if state.phaseLocked(nodeID) != PhasePending {
			continue
		}
		satisfied := true
		for _, dep := range preds {
			if _, done := state.completed[dep]; !done {
				satisfied = false
				break
			}
		}
		if satisfied {
			state.readySet[nodeID] = struct{}{}
		}
	}
}

// failRun releases the failed node's resources and aborts the whole run.
// Fail-fast: no retry, no partial completion.
func (e *Executor) failRun(state *State, ev events.Event) []events.Event {
	if ev.NodeID != "" {
		state.resources.release(ev.NodeID)
		delete(state.inFlight, ev.NodeID)
		delete(state.readySet, ev.NodeID)
	}
	state.status = StatusFailed
	if reason, ok := ev.Data["error"].(string); ok {
		state.failure = reason
	}
	if e.log != nil {
		e.log.Printf("engine: run %s failed at node %s: %s", state.RunID, ev.NodeID, state.failure)
	}
	data := map[string]any{"status": string(StatusFailed)}
	if state.failure != "" {
		data["error"] = state.failure
	}
	done := e.newEvent(state, events.ExecutionCompleted).WithNode(ev.NodeID).WithData(data)
	return []events.Event{done}
}

// discardRun drops the run from the live table; no further transitions are
// admitted for this execution ID.
func (e *Executor) discardRun(state *State, ev events.Event) {
	if status, ok := ev.Data["status"].(string); ok && status == string(StatusFailed) {
		state.status = StatusFailed
	}
	e.mu.Lock()
	delete(e.runs, state.RunID)
	e.mu.Unlock()
}

// CanExecuteNode reports whether the node is ready, not already dispatched,
// and its resource requirements currently fit. Resource exhaustion is a
// normal false, not an error; callers retry later.
func (e *Executor) CanExecuteNode(executionID, nodeID string, req Requirements) bool {
	state, ok := e.Run(executionID)
	if !ok {
		return false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if _, ready := state.readySet[nodeID]; !ready {
		return false
	}
	if _, running := state.inFlight[nodeID]; running {
		return false
	}
	return state.resources.canAllocate(req.requests())
}

// AllocateResources atomically grants every requested resource, creates the
// in-flight task record, and removes the node from the ready set. If any
// single pool is insufficient nothing changes and false is returned.
func (e *Executor) AllocateResources(executionID, nodeID string, req Requirements) (bool, error) {
	state, ok := e.Run(executionID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownExecution, executionID)
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if _, ready := state.readySet[nodeID]; !ready {
		return false, fmt.Errorf("engine: node %s is not ready", nodeID)
	}
	if _, running := state.inFlight[nodeID]; running {
		return false, fmt.Errorf("engine: node %s already in flight", nodeID)
	}
	if !state.resources.allocate(nodeID, req.requests()) {
		return false, nil
	}
	deps := state.pendingDeps[nodeID]
	delete(state.pendingDeps, nodeID)
	state.inFlight[nodeID] = &Task{
		NodeID:       nodeID,
		StartTime:    e.clock(),
		Allocations:  state.resources.holdings(nodeID),
		Dependencies: deps,
	}
	delete(state.readySet, nodeID)
	return true, nil
}

// DeallocateResources releases everything the node holds and removes its
// in-flight entry. Idempotent: a second call for the same node is a no-op.
func (e *Executor) DeallocateResources(executionID, nodeID string) error {
	state, ok := e.Run(executionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExecution, executionID)
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.resources.release(nodeID)
	delete(state.inFlight, nodeID)
	return nil
}

// GetReadyNodes returns the current ready set in sorted order.
func (e *Executor) GetReadyNodes(executionID string) []string {
	state, ok := e.Run(executionID)
	if !ok {
		return nil
	}
	return state.ReadyNodes()
}

// IsExecutionComplete reports whether the run has drained.
func (e *Executor) IsExecutionComplete(executionID string) bool {
	state, ok := e.Run(executionID)
	if !ok {
		return false
	}
	return state.Complete()
}

func (e *Executor) newEvent(state *State, kind events.Type) events.Event {
	return events.New(kind, state.RunID, state.WorkflowID, e.clock())
}

func (e *Executor) emit(ev events.Event) {
	if e.sink == nil {
		return
	}
	if err := e.sink.HandleEvent(ev); err != nil && e.log != nil {
		e.log.Printf("engine: event sink rejected %s: %v", ev.Type, err)
	}
}
