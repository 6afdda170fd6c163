package parallel

import (
	"context"
	"fmt"
	"time"
)

// InputSource reports the current fan-in inputs on each poll tick. Positions
// that have not produced a value yet are nil.
type InputSource func() []any

// StaticInputs wraps an already-materialized input list as an InputSource.
func StaticInputs(values ...any) InputSource {
	return func() []any { return values }
}

// ExecuteFanIn polls the input source until the configured quorum holds over
// the non-nil inputs, then aggregates and optionally orders them. A missed
// quorum is reported in the Result, not as an error; only validation and
// aggregation faults return errors.
func (e *Executor) ExecuteFanIn(ctx context.Context, nodeID string, source InputSource, cfg FanInConfig) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if source == nil {
		return Result{}, fmt.Errorf("parallel: fan-in for node %s has no input source", nodeID)
	}
	task, err := e.admit(nodeID, ModeFanIn, nil)
	if err != nil {
		return Result{}, err
	}

	present, quorum := e.awaitQuorum(ctx, source, cfg)
	if !quorum.Satisfied {
		e.finish(task, StatusFailed, nil)
		if e.log != nil {
			e.log.Printf("parallel: fan-in %s for node %s missed quorum: %s", task.TaskID, nodeID, quorum.Reason)
		}
		return Result{TaskID: task.TaskID, Quorum: quorum, Duration: task.Duration()}, nil
	}

	// FIRST short-circuits aggregation: the result is the one arrival.
	if cfg.Quorum.Type == QuorumFirst {
		e.finish(task, StatusCompleted, present[:1])
		return Result{TaskID: task.TaskID, Values: present[:1], Quorum: quorum, Duration: task.Duration()}, nil
	}

	values, err := e.aggregate(present, cfg.Aggregation)
	if err != nil {
		e.finish(task, StatusFailed, nil)
		return Result{TaskID: task.TaskID, Quorum: quorum, Duration: task.Duration()}, err
	}
	if ord := cfg.Ordering; ord != nil && ord.Preserve && ord.Key != "" {
		values = orderBy(values, ord.Key, ord.Direction)
	}
	e.finish(task, StatusCompleted, values)
	return Result{TaskID: task.TaskID, Values: values, Quorum: quorum, Duration: task.Duration()}, nil
}

// awaitQuorum runs the fixed-interval poll loop. It returns the present
// inputs from the satisfying tick, or the quorum failure after timeout or
// context cancellation.
func (e *Executor) awaitQuorum(ctx context.Context, source InputSource, cfg FanInConfig) ([]any, QuorumResult) {
	deadline := e.clock().Add(cfg.timeout())
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()
	for {
		current := source()
		present := definedInputs(current)
		if res := checkQuorum(cfg.Quorum, len(present), len(current)); res.Satisfied {
			return present, res
		}
		if !e.clock().Before(deadline) {
			return nil, QuorumResult{
				Count:  len(present),
				Reason: fmt.Sprintf("quorum %s not reached within %s (%d of %d inputs present)", cfg.Quorum.Type, cfg.timeout(), len(present), len(current)),
			}
		}
		select {
		case <-ctx.Done():
			return nil, QuorumResult{Count: len(present), Reason: ctx.Err().Error()}
		case <-ticker.C:
		}
	}
}

// definedInputs filters the nil placeholders, preserving arrival positions.
func definedInputs(inputs []any) []any {
	var present []any
	for _, value := range inputs {
		if value != nil {
			present = append(present, value)
		}
	}
	return present
}

// checkQuorum evaluates one poll tick. present counts non-nil inputs, total
// counts all input positions.
func checkQuorum(q Quorum, present, total int) QuorumResult {
	required := 0
	switch q.Type {
	case QuorumAll:
		required = total
	case QuorumFirst:
		required = 1
	case QuorumMajority:
		required = (total + 1) / 2
	case QuorumNOfM:
		required = q.Threshold
	}
	if present >= required {
		return QuorumResult{Satisfied: true, Count: present}
	}
	return QuorumResult{Count: present}
}
