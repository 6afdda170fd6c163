package runner

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/aaaronmiller/datakiln/internal/artifact"
	"github.com/aaaronmiller/datakiln/internal/engine"
	"github.com/aaaronmiller/datakiln/internal/events"
	"github.com/aaaronmiller/datakiln/internal/parallel"
	"github.com/aaaronmiller/datakiln/internal/registry"
	"github.com/aaaronmiller/datakiln/internal/workflow"
)

func newRunner(t *testing.T, process parallel.BatchProcessor) (*Runner, *artifact.MemoryStore) {
	t.Helper()
	if process == nil {
		process = func(ctx context.Context, nodeID string, batch []any) ([]any, error) {
			return batch, nil
		}
	}
	reg := registry.New()
	RegisterBuiltins(reg, parallel.New(process))
	return New(engine.New(), reg), artifact.NewMemoryStore()
}

func TestExecuteLinearWorkflow(t *testing.T) {
	def := workflow.Definition{
		ID: "linear",
		Nodes: []workflow.Node{
			{ID: "fetch", Type: workflow.NodeTypeAction, Config: map[string]any{
				"outputs": map[string]any{"topic": "input.global_topic", "count": 3},
			}},
			{ID: "report", Type: workflow.NodeTypeAction, Config: map[string]any{
				"outputs": map[string]any{"line": "'about ' + input.fetch_topic"},
			}},
		},
		Edges: []workflow.Edge{{From: "fetch", To: "report"}},
	}
	r, store := newRunner(t, nil)
	state, err := r.Execute(context.Background(), def, map[string]any{"topic": "go engines"}, engine.DefaultBudget(), store)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if state.Status() != engine.StatusCompleted {
		t.Fatalf("expected completed run, got %s", state.Status())
	}
	line, err := store.Retrieve("report_line")
	if err != nil {
		t.Fatalf("retrieve output: %v", err)
	}
	if line.Data != "about go engines" {
		t.Fatalf("unexpected output: %v", line.Data)
	}
	count, err := store.Retrieve("fetch_count")
	if err != nil {
		t.Fatalf("retrieve literal output: %v", err)
	}
	if count.Data != 3 {
		t.Fatalf("literal outputs pass through untouched, got %v", count.Data)
	}
}

func TestExecuteEmitsFullEventCascade(t *testing.T) {
	def := workflow.Definition{
		ID:    "tiny",
		Nodes: []workflow.Node{{ID: "only", Type: workflow.NodeTypeAction}},
	}
	r, store := newRunner(t, nil)
	state, err := r.Execute(context.Background(), def, nil, engine.DefaultBudget(), store)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var kinds []string
	for _, ev := range state.History() {
		kinds = append(kinds, string(ev.Type))
	}
	want := []string{
		string(events.WorkflowStarted),
		string(events.NodeStarted),
		string(events.StepStarted),
		string(events.NodeSucceeded),
		string(events.ExecutionCompleted),
	}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected event cascade: %v", kinds)
	}
}

func TestExecuteGateBranching(t *testing.T) {
	def := workflow.Definition{
		ID: "gated",
		Nodes: []workflow.Node{
			{ID: "check", Type: workflow.NodeTypeGate, Config: map[string]any{
				"condition": "input.global_depth > 1",
			}},
		},
	}
	r, store := newRunner(t, nil)
	state, err := r.Execute(context.Background(), def, map[string]any{"depth": 2}, engine.DefaultBudget(), store)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if state.Status() != engine.StatusCompleted {
		t.Fatalf("expected completed run, got %s", state.Status())
	}
	satisfied, err := store.Retrieve("check_satisfied")
	if err != nil {
		t.Fatalf("retrieve gate output: %v", err)
	}
	if satisfied.Data != true {
		t.Fatalf("expected satisfied gate, got %v", satisfied.Data)
	}
}

func TestExecuteUnsatisfiedGateStillRunsSuccessors(t *testing.T) {
	def := workflow.Definition{
		ID: "advisory",
		Nodes: []workflow.Node{
			{ID: "check", Type: workflow.NodeTypeGate, Config: map[string]any{
				"condition": "input.global_depth > 10",
			}},
			{ID: "after", Type: workflow.NodeTypeAction, Config: map[string]any{
				"outputs": map[string]any{"verdict": "input.check_satisfied"},
			}},
		},
		Edges: []workflow.Edge{{From: "check", To: "after"}},
	}
	r, store := newRunner(t, nil)
	state, err := r.Execute(context.Background(), def, map[string]any{"depth": 2}, engine.DefaultBudget(), store)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if state.Status() != engine.StatusCompleted {
		t.Fatalf("expected completed run, got %s", state.Status())
	}
	verdict, err := store.Retrieve("after_verdict")
	if err != nil {
		t.Fatalf("retrieve successor output: %v", err)
	}
	if verdict.Data != false {
		t.Fatalf("successor should read the gate verdict, got %v", verdict.Data)
	}
}

func TestExecuteGateEvaluationErrorFailsRun(t *testing.T) {
	def := workflow.Definition{
		ID: "doomed",
		Nodes: []workflow.Node{
			{ID: "check", Type: workflow.NodeTypeGate, Config: map[string]any{"condition": "10 / 0"}},
		},
	}
	r, store := newRunner(t, nil)
	state, err := r.Execute(context.Background(), def, nil, engine.DefaultBudget(), store)
	if err == nil {
		t.Fatal("expected run failure")
	}
	if state.Status() != engine.StatusFailed {
		t.Fatalf("expected failed run, got %s", state.Status())
	}
	if !strings.Contains(state.Failure(), "Division by zero") {
		t.Fatalf("failure should carry the expression diagnostic: %s", state.Failure())
	}
}

func TestExecuteSplitMergePipeline(t *testing.T) {
	process := func(ctx context.Context, nodeID string, batch []any) ([]any, error) {
		out := make([]any, len(batch))
		for i, v := range batch {
			out[i] = fmt.Sprintf("searched:%v", v)
		}
		return out, nil
	}
	def := workflow.Definition{
		ID: "scatter-gather",
		Nodes: []workflow.Node{
			{ID: "scatter", Type: workflow.NodeTypeSplit, Config: map[string]any{
				"items":   []any{"q1", "q2", "q3"},
				"fan_out": map[string]any{"max_concurrency": 2},
			}},
			{ID: "gather", Type: workflow.NodeTypeMerge, Config: map[string]any{
				"sources": []any{"scatter_results"},
				"fan_in": map[string]any{
					"quorum": map[string]any{"type": "ALL", "timeout": 1000},
				},
			}},
		},
		Edges: []workflow.Edge{{From: "scatter", To: "gather"}},
	}
	r, store := newRunner(t, process)
	state, err := r.Execute(context.Background(), def, nil, engine.DefaultBudget(), store)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if state.Status() != engine.StatusCompleted {
		t.Fatalf("expected completed run, got %s", state.Status())
	}
	gathered, err := store.Retrieve("gather_results")
	if err != nil {
		t.Fatalf("retrieve merge output: %v", err)
	}
	results, ok := gathered.Data.([]any)
	if !ok {
		t.Fatalf("expected list output, got %T", gathered.Data)
	}
	if len(results) != 3 || results[0] != "searched:q1" {
		t.Fatalf("unexpected merge results: %v", results)
	}
}

func TestExecuteStateFlowsBetweenNodes(t *testing.T) {
	def := workflow.Definition{
		ID: "stateful",
		Nodes: []workflow.Node{
			{ID: "mark", Type: workflow.NodeTypeAction, Config: map[string]any{
				"state": map[string]any{"approved": "1 < 2"},
			}},
			{ID: "check", Type: workflow.NodeTypeGate, Config: map[string]any{
				"condition": "workflow.state.approved",
			}},
		},
		Edges: []workflow.Edge{{From: "mark", To: "check"}},
	}
	r, store := newRunner(t, nil)
	state, err := r.Execute(context.Background(), def, nil, engine.DefaultBudget(), store)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if state.Status() != engine.StatusCompleted {
		t.Fatalf("expected completed run, got %s", state.Status())
	}
}

func TestExecuteUnknownNodeTypeFailsRun(t *testing.T) {
	def := workflow.Definition{
		ID:    "odd",
		Nodes: []workflow.Node{{ID: "weird", Type: "teleport"}},
	}
	r, store := newRunner(t, nil)
	state, err := r.Execute(context.Background(), def, nil, engine.DefaultBudget(), store)
	if err == nil {
		t.Fatal("expected run failure for unregistered node type")
	}
	if state.Status() != engine.StatusFailed {
		t.Fatalf("expected failed run, got %s", state.Status())
	}
}

type listFailStore struct {
	*artifact.MemoryStore
}

func (s listFailStore) List() ([]string, error) {
	return nil, fmt.Errorf("backing store offline")
}

func TestExecuteSurfacesArtifactListFailure(t *testing.T) {
	def := workflow.Definition{
		ID:    "flaky-store",
		Nodes: []workflow.Node{{ID: "only", Type: workflow.NodeTypeAction}},
	}
	r, _ := newRunner(t, nil)
	_, err := r.Execute(context.Background(), def, nil, engine.DefaultBudget(), listFailStore{artifact.NewMemoryStore()})
	if err == nil || !strings.Contains(err.Error(), "backing store offline") {
		t.Fatalf("expected list failure to surface, got %v", err)
	}
}

func TestExecuteRejectsCyclicDefinition(t *testing.T) {
	def := workflow.Definition{
		ID: "loop",
		Nodes: []workflow.Node{
			{ID: "a", Type: workflow.NodeTypeAction},
			{ID: "b", Type: workflow.NodeTypeAction},
		},
		Edges: []workflow.Edge{{From: "a", To: "b"}, {From: "b", To: "a"}},
	}
	r, store := newRunner(t, nil)
	if _, err := r.Execute(context.Background(), def, nil, engine.DefaultBudget(), store); err == nil {
		t.Fatal("expected normalization error for cyclic graph")
	}
}
