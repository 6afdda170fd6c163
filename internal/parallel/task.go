package parallel

import (
	"time"

	"github.com/google/uuid"
)

// Mode distinguishes the two parallel composition primitives.
type Mode string

const (
	ModeFanOut Mode = "FAN_OUT"
	ModeFanIn  Mode = "FAN_IN"
)

// Status tracks a parallel task through its lifetime.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task is the transient record of one fan-out or fan-in invocation. It lives
// only in the executor's active table and is discarded once its outcome is
// reported.
type Task struct {
	TaskID       string
	ParentNodeID string
	SubTaskIDs   []string
	Mode         Mode
	Status       Status
	Results      []any
	StartTime    time.Time
	EndTime      time.Time
}

func newTask(parentNodeID string, mode Mode, at time.Time) *Task {
	return &Task{
		TaskID:       uuid.NewString(),
		ParentNodeID: parentNodeID,
		Mode:         mode,
		Status:       StatusRunning,
		StartTime:    at,
	}
}

// Duration reports how long the task ran. Zero until the task finishes.
func (t *Task) Duration() time.Duration {
	if t.EndTime.IsZero() {
		return 0
	}
	return t.EndTime.Sub(t.StartTime)
}
