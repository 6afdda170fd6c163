// Package events defines the execution event model and the channel-based bus
// that carries events from the engine to its subscribers (audit log, run
// monitor, HTTP bridge). The engine emits; it never depends on a particular
// subscriber.
package events

import (
	"errors"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Type enumerates the execution event kinds the engine emits and consumes.
type Type string

const (
	WorkflowStarted    Type = "WORKFLOW_STARTED"
	NodeStarted        Type = "NODE_STARTED"
	StepStarted        Type = "STEP_STARTED"
	StepLog            Type = "STEP_LOG"
	StepSucceeded      Type = "STEP_SUCCEEDED"
	NodeSucceeded      Type = "NODE_SUCCEEDED"
	NodeFailed         Type = "NODE_FAILED"
	ExecutionCompleted Type = "EXECUTION_COMPLETED"
)

// Event is a single notification about the progress of one workflow run.
type Event struct {
	EventID     string         `json:"event_id"`
	Type        Type           `json:"type"`
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	NodeID      string         `json:"node_id,omitempty"`
	StepID      string         `json:"step_id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data,omitempty"`
}

// New builds an event with a fresh short ID and the provided timestamp.
func New(kind Type, executionID, workflowID string, at time.Time) Event {
	id, err := gonanoid.New()
	if err != nil {
		// crypto/rand failure is unrecoverable for this process.
		panic(fmt.Sprintf("events: generate id: %v", err))
	}
	return Event{
		EventID:     id,
		Type:        kind,
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		Timestamp:   at.UTC(),
	}
}

// WithNode returns a copy of the event tagged with a node ID.
func (e Event) WithNode(nodeID string) Event {
	e.NodeID = nodeID
	return e
}

// WithStep returns a copy of the event tagged with a step ID.
func (e Event) WithStep(stepID string) Event {
	e.StepID = stepID
	return e
}

// WithData returns a copy of the event carrying a payload.
func (e Event) WithData(data map[string]any) Event {
	e.Data = data
	return e
}

// Validate enforces baseline schema requirements.
func (e Event) Validate() error {
	if strings.TrimSpace(string(e.Type)) == "" {
		return errors.New("events: type is required")
	}
	if strings.TrimSpace(e.ExecutionID) == "" {
		return errors.New("events: execution_id is required")
	}
	return nil
}

// Sink consumes published events.
type Sink interface {
	HandleEvent(Event) error
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(Event) error

// HandleEvent executes f(e).
func (f SinkFunc) HandleEvent(e Event) error {
	if f == nil {
		return nil
	}
	return f(e)
}

// Logger records bus diagnostics. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}
