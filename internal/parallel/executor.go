// Package parallel implements structured fan-out/fan-in composition on top of
// the node execution layer: bounded-concurrency batch dispatch with
// backpressure, quorum-gated merging with pluggable aggregation, and reusable
// patterns assembled from the two primitives.
package parallel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aaaronmiller/datakiln/internal/events"
)

// BatchProcessor executes one batch of inputs on behalf of a node. The
// executor owns scheduling only; what a batch means is the caller's concern.
type BatchProcessor func(ctx context.Context, nodeID string, batch []any) ([]any, error)

// Result is the outcome of one fan-out or fan-in invocation. Duration is
// populated even when the invocation failed.
type Result struct {
	TaskID   string
	Values   []any
	Quorum   QuorumResult
	Duration time.Duration
}

// QuorumResult reports whether and how a fan-in quorum was reached. A missed
// quorum is data, not an error.
type QuorumResult struct {
	Satisfied bool
	Count     int
	Reason    string
}

// Executor runs fan-out and fan-in invocations. Safe for concurrent use.
type Executor struct {
	process     BatchProcessor
	aggregators *AggregatorRegistry
	tick        time.Duration
	clock       func() time.Time
	log         events.Logger

	mu     sync.Mutex
	active []*Task // oldest first
}

// Option configures an Executor.
type Option func(*Executor)

// WithAggregators supplies the registry consulted for custom aggregation
// strategies.
func WithAggregators(reg *AggregatorRegistry) Option {
	return func(e *Executor) { e.aggregators = reg }
}

// WithTickInterval overrides the fan-in poll cadence.
func WithTickInterval(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.tick = d
		}
	}
}

// WithClock injects a time source.
func WithClock(clock func() time.Time) Option {
	return func(e *Executor) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger attaches a diagnostics logger.
func WithLogger(log events.Logger) Option {
	return func(e *Executor) { e.log = log }
}

// New builds an executor around the given batch processor.
func New(process BatchProcessor, opts ...Option) *Executor {
	e := &Executor{
		process: process,
		tick:    DefaultTickInterval,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ActiveCount reports how many parallel tasks are currently running.
func (e *Executor) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// admit registers a new task, applying the backpressure policy when the
// active table is full. Returns the admitted task or an error when the call
// must be rejected.
func (e *Executor) admit(parentNodeID string, mode Mode, bp *Backpressure) (*Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if bp != nil && bp.Enabled && len(e.active) >= bp.MaxQueueSize {
		switch bp.DropPolicy {
		case DropOldest:
			evicted := e.active[0]
			e.active = e.active[1:]
			evicted.Status = StatusFailed
			evicted.EndTime = e.clock()
			if e.log != nil {
				e.log.Printf("parallel: evicted task %s of node %s under backpressure", evicted.TaskID, evicted.ParentNodeID)
			}
		case DropNewest, Reject:
			return nil, fmt.Errorf("parallel: queue full (%d active), node %s rejected", len(e.active), parentNodeID)
		}
	}
	task := newTask(parentNodeID, mode, e.clock())
	e.active = append(e.active, task)
	return task, nil
}

// finish stamps the task's outcome and removes it from the active table. An
// evicted task is already gone; finishing it again only updates the record.
func (e *Executor) finish(task *Task, status Status, results []any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	task.Status = status
	task.Results = results
	task.EndTime = e.clock()
	for i, candidate := range e.active {
		if candidate.TaskID == task.TaskID {
			e.active = append(e.active[:i], e.active[i+1:]...)
			break
		}
	}
}
