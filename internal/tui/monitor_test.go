package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aaaronmiller/datakiln/internal/events"
	"github.com/aaaronmiller/datakiln/internal/workflow"
)

func monitorDefinition() workflow.Definition {
	return workflow.Definition{
		ID: "demo",
		Nodes: []workflow.Node{
			{ID: "fetch"}, {ID: "report"},
		},
		Edges: []workflow.Edge{{From: "fetch", To: "report"}},
	}
}

func runEvent(kind events.Type, nodeID string) eventMsg {
	ev := events.New(kind, "exec-1", "demo", time.Now())
	if nodeID != "" {
		ev = ev.WithNode(nodeID)
	}
	return eventMsg{event: ev}
}

func TestMonitorTracksNodePhases(t *testing.T) {
	m := NewMonitor(monitorDefinition(), nil)
	next, _ := m.Update(runEvent(events.NodeStarted, "fetch"))
	m = next.(Monitor)
	if m.phases["fetch"] != phaseRunning {
		t.Fatalf("expected fetch running, got %s", m.phases["fetch"])
	}
	next, _ = m.Update(runEvent(events.NodeSucceeded, "fetch"))
	m = next.(Monitor)
	if m.phases["fetch"] != phaseCompleted {
		t.Fatalf("expected fetch completed, got %s", m.phases["fetch"])
	}
	if m.Finished() {
		t.Fatal("run is not finished yet")
	}
}

func TestMonitorFinishesOnExecutionCompleted(t *testing.T) {
	m := NewMonitor(monitorDefinition(), nil)
	done := events.New(events.ExecutionCompleted, "exec-1", "demo", time.Now()).
		WithData(map[string]any{"status": "failed", "error": "selector not found"})
	next, cmd := m.Update(eventMsg{event: done})
	m = next.(Monitor)
	if !m.Finished() || !m.Failed() {
		t.Fatalf("expected failed finish, got finished=%v failed=%v", m.Finished(), m.Failed())
	}
	if cmd == nil {
		t.Fatal("terminal event should quit the program")
	}
	view := m.View()
	if !strings.Contains(view, "Run failed") || !strings.Contains(view, "selector not found") {
		t.Fatalf("banner missing failure details:\n%s", view)
	}
}

func TestMonitorViewListsEveryNode(t *testing.T) {
	m := NewMonitor(monitorDefinition(), nil)
	view := m.View()
	for _, nodeID := range []string{"fetch", "report"} {
		if !strings.Contains(view, nodeID) {
			t.Fatalf("view missing node %s:\n%s", nodeID, view)
		}
	}
}

func TestMonitorQuitsOnKey(t *testing.T) {
	m := NewMonitor(monitorDefinition(), nil)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
}
