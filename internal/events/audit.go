package events

import (
	"encoding/json"
	"sort"
	"strings"
)

// AuditSink writes one line per event through the injected logger so a run
// can be reconstructed after the process exits.
type AuditSink struct {
	logger Logger
}

// NewAuditSink builds an audit sink. A nil logger yields a no-op sink.
func NewAuditSink(logger Logger) *AuditSink {
	return &AuditSink{logger: logger}
}

// HandleEvent appends the event as a single audit line.
func (a *AuditSink) HandleEvent(event Event) error {
	if a == nil || a.logger == nil {
		return nil
	}
	a.logger.Printf("audit %s", FormatAuditLine(event))
	return nil
}

// FormatAuditLine renders an event as a stable key=value line. Data payloads
// are JSON-encoded so the line stays grep-able.
func FormatAuditLine(event Event) string {
	fields := []string{
		"event=" + string(event.Type),
		"execution=" + event.ExecutionID,
	}
	if event.WorkflowID != "" {
		fields = append(fields, "workflow="+event.WorkflowID)
	}
	if event.NodeID != "" {
		fields = append(fields, "node="+event.NodeID)
	}
	if event.StepID != "" {
		fields = append(fields, "step="+event.StepID)
	}
	if len(event.Data) > 0 {
		keys := make([]string, 0, len(event.Data))
		for key := range event.Data {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, key := range keys {
			encoded, err := json.Marshal(event.Data[key])
			if err != nil {
				continue
			}
			parts = append(parts, key+"="+string(encoded))
		}
		fields = append(fields, "data{"+strings.Join(parts, " ")+"}")
	}
	return strings.Join(fields, " ")
}
