package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/aaaronmiller/datakiln/internal/artifact"
	"github.com/aaaronmiller/datakiln/internal/events"
)

// Status enumerates coarse run phases.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task is the in-flight record for a dispatched node.
type Task struct {
	NodeID       string
	StartTime    time.Time
	Allocations  []Allocation
	Dependencies []string
}

// State is the mutable record of one workflow run: ready set, in-flight
// tasks, resource accounting, artifact store handle, and event history. A
// node ID occupies exactly one of not-yet-ready, ready, in-flight,
// completed. The executor owns the state exclusively for its lifetime; the
// per-run mutex enforces the single-writer rule, so transitions against the
// same run are serialized.
type State struct {
	mu sync.Mutex

	RunID        string
	WorkflowID   string
	Budget       CapabilityBudget
	Predecessors map[string][]string

	readySet    map[string]struct{}
	inFlight    map[string]*Task
	pendingDeps map[string][]string
	completed   map[string]struct{}
	resources   *resourceSet
	history     []events.Event
	artifacts   artifact.Store
	status      Status
	failure     string
}

// NodePhase is a point-in-time classification of one node.
type NodePhase string

const (
	PhasePending   NodePhase = "pending"
	PhaseReady     NodePhase = "ready"
	PhaseInFlight  NodePhase = "in-flight"
	PhaseCompleted NodePhase = "completed"
)

// Snapshot is an immutable view of run progress for monitors and bridges.
type Snapshot struct {
	RunID      string
	WorkflowID string
	Status     Status
	Failure    string
	Ready      []string
	InFlight   []string
	Completed  []string
	Events     int
}

// Artifacts exposes the injected content store handle.
func (s *State) Artifacts() artifact.Store {
	return s.artifacts
}

// ReadyNodes returns the ready set in sorted order.
func (s *State) ReadyNodes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.readySet)
}

// Phase classifies a node id.
func (s *State) Phase(nodeID string) NodePhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phaseLocked(nodeID)
}

func (s *State) phaseLocked(nodeID string) NodePhase {
	if _, ok := s.completed[nodeID]; ok {
		return PhaseCompleted
	}
	if _, ok := s.inFlight[nodeID]; ok {
		return PhaseInFlight
	}
	if _, ok := s.readySet[nodeID]; ok {
		return PhaseReady
	}
	return PhasePending
}

// Complete reports whether the run has drained: an empty ready set with
// nothing in flight.
func (s *State) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completeLocked()
}

func (s *State) completeLocked() bool {
	return len(s.readySet) == 0 && len(s.inFlight) == 0
}

// Status reports the coarse run phase.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Failure reports the recorded failure reason, empty unless the run failed.
func (s *State) Failure() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// History returns a copy of the applied-event log in append order.
func (s *State) History() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Event, len(s.history))
	copy(out, s.history)
	return out
}

// Task returns a copy of the in-flight record for a node.
func (s *State) Task(nodeID string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.inFlight[nodeID]
	if !ok {
		return Task{}, false
	}
	clone := *task
	clone.Allocations = append([]Allocation(nil), task.Allocations...)
	clone.Dependencies = append([]string(nil), task.Dependencies...)
	return clone, true
}

// ResourceUsage reports current usage and capacity for a resource type.
func (s *State) ResourceUsage(kind ResourceType) (used, capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resources.usage(kind)
}

// Snapshot captures an immutable view of the run.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		RunID:      s.RunID,
		WorkflowID: s.WorkflowID,
		Status:     s.status,
		Failure:    s.failure,
		Ready:      sortedKeys(s.readySet),
		InFlight:   sortedKeys(s.inFlight),
		Completed:  sortedKeys(s.completed),
		Events:     len(s.history),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for key := range m {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
