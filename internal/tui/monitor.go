// Package tui renders a live terminal view of one workflow run, fed by the
// event bus.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aaaronmiller/datakiln/internal/events"
	"github.com/aaaronmiller/datakiln/internal/workflow"
)

var (
	styleRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	styleCompleted = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	styleFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	stylePending   = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	styleHeader    = lipgloss.NewStyle().Bold(true)
	styleDetail    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

type nodePhase string

const (
	phasePending   nodePhase = "pending"
	phaseRunning   nodePhase = "running"
	phaseCompleted nodePhase = "completed"
	phaseFailed    nodePhase = "failed"
)

type eventMsg struct {
	event events.Event
}

type streamClosedMsg struct{}

// Monitor is a Bubble Tea model showing per-node progress of a single run.
type Monitor struct {
	workflowID string
	nodeOrder  []string
	phases     map[string]nodePhase
	stream     <-chan events.Event
	spin       spinner.Model
	finished   bool
	failed     bool
	reason     string
	counted    int
}

// NewMonitor builds a monitor for the definition, reading run events from
// stream. The stream is typically an event-bus subscription channel.
func NewMonitor(def workflow.Definition, stream <-chan events.Event) Monitor {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	phases := make(map[string]nodePhase, len(def.Nodes))
	order := make([]string, 0, len(def.Nodes))
	for _, node := range def.Nodes {
		order = append(order, node.ID)
		phases[node.ID] = phasePending
	}
	return Monitor{
		workflowID: def.ID,
		nodeOrder:  order,
		phases:     phases,
		stream:     stream,
		spin:       sp,
	}
}

// Init starts the spinner and the event listener.
func (m Monitor) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.listen())
}

func (m Monitor) listen() tea.Cmd {
	stream := m.stream
	return func() tea.Msg {
		ev, ok := <-stream
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg{event: ev}
	}
}

// Update applies run events and keystrokes.
func (m Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		m.apply(msg.event)
		if m.finished {
			return m, tea.Quit
		}
		return m, m.listen()
	case streamClosedMsg:
		m.finished = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	}
	return m, nil
}

// apply folds one run event into the node table.
func (m *Monitor) apply(ev events.Event) {
	m.counted++
	switch ev.Type {
	case events.NodeStarted:
		if ev.NodeID != "" {
			m.phases[ev.NodeID] = phaseRunning
		}
	case events.StepSucceeded, events.NodeSucceeded:
		if ev.NodeID != "" {
			m.phases[ev.NodeID] = phaseCompleted
		}
	case events.NodeFailed:
		if ev.NodeID != "" {
			m.phases[ev.NodeID] = phaseFailed
		}
		if reason, ok := ev.Data["error"].(string); ok {
			m.reason = reason
		}
	case events.ExecutionCompleted:
		m.finished = true
		if status, ok := ev.Data["status"].(string); ok && status == "failed" {
			m.failed = true
		}
		if reason, ok := ev.Data["error"].(string); ok {
			m.reason = reason
		}
	}
}

// View renders one row per node plus a status banner.
func (m Monitor) View() string {
	lines := []string{styleHeader.Render(fmt.Sprintf("Workflow: %s", m.workflowID)), ""}
	for _, nodeID := range m.nodeOrder {
		lines = append(lines, m.renderNodeLine(nodeID))
	}
	lines = append(lines, "", m.renderBanner())
	if !m.finished {
		lines = append(lines, styleDetail.Render("q=quit"))
	}
	return strings.Join(lines, "\n")
}

func (m Monitor) renderNodeLine(nodeID string) string {
	switch m.phases[nodeID] {
	case phaseRunning:
		return fmt.Sprintf("%s %s %s", m.spin.View(), nodeID, styleRunning.Render("running"))
	case phaseCompleted:
		return fmt.Sprintf("  %s %s", nodeID, styleCompleted.Render("completed"))
	case phaseFailed:
		return fmt.Sprintf("  %s %s", nodeID, styleFailed.Render("failed"))
	default:
		return fmt.Sprintf("  %s %s", nodeID, stylePending.Render("pending"))
	}
}

func (m Monitor) renderBanner() string {
	if !m.finished {
		return styleDetail.Render(fmt.Sprintf("%d events applied", m.counted))
	}
	if m.failed {
		banner := styleFailed.Render("Run failed")
		if m.reason != "" {
			banner += styleDetail.Render(" · " + m.reason)
		}
		return banner
	}
	return styleCompleted.Render("Run completed")
}

// Finished reports whether the run reached a terminal event.
func (m Monitor) Finished() bool {
	return m.finished
}

// Failed reports whether the run ended in failure.
func (m Monitor) Failed() bool {
	return m.failed
}
