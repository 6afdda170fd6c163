package events

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

type captureLogger struct {
	lines []string
}

func (c *captureLogger) Printf(format string, args ...any) {
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
}

func TestAuditSinkWritesOneLinePerEvent(t *testing.T) {
	logger := &captureLogger{}
	sink := NewAuditSink(logger)
	event := New(NodeSucceeded, "exec-1", "wf-1", time.Now()).
		WithNode("fetch").
		WithData(map[string]any{"outputs": 2})
	if err := sink.HandleEvent(event); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(logger.lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(logger.lines))
	}
	line := logger.lines[0]
	for _, want := range []string{"event=NODE_SUCCEEDED", "execution=exec-1", "node=fetch", `outputs=2`} {
		if !strings.Contains(line, want) {
			t.Fatalf("audit line missing %q: %s", want, line)
		}
	}
}

func TestFormatAuditLineSortsDataKeys(t *testing.T) {
	event := Event{Type: StepLog, ExecutionID: "e", Data: map[string]any{"b": 1, "a": 2}}
	line := FormatAuditLine(event)
	if strings.Index(line, "a=2") > strings.Index(line, "b=1") {
		t.Fatalf("expected sorted data keys: %s", line)
	}
}

func TestAuditSinkNilLoggerIsNoop(t *testing.T) {
	sink := NewAuditSink(nil)
	if err := sink.HandleEvent(Event{Type: StepLog, ExecutionID: "e"}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
