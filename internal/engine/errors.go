package engine

import (
	"errors"
	"fmt"
)

// ErrUnknownExecution is returned for transitions against a run the executor
// no longer tracks (never initialized, or already completed and discarded).
var ErrUnknownExecution = errors.New("engine: unknown execution")

// ExecutionError is a node-level failure tagged with its run coordinates.
type ExecutionError struct {
	ExecutionID string
	NodeID      string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("engine: node %s of execution %s: %v", e.NodeID, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
