package parallel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aaaronmiller/datakiln/internal/workflow"
)

func researchPattern() Pattern {
	return Pattern{
		Name:   "scatter-gather",
		Inputs: []InputPort{{Name: "queries", Required: true}},
		Nodes: []PatternNode{
			{ID: "scatter", Kind: KindFanOut, Source: "queries", FanOut: &FanOutConfig{MaxConcurrency: 3}},
			{ID: "gather", Kind: KindFanIn, Source: "scatter", FanIn: &FanInConfig{
				Quorum: Quorum{Type: QuorumAll, Timeout: time.Second},
			}},
		},
		Edges:   []workflow.Edge{{From: "scatter", To: "gather"}},
		Outputs: []OutputPort{{Name: "answers", Producer: "gather"}},
	}
}

func TestExecutePattern(t *testing.T) {
	exec := New(func(ctx context.Context, nodeID string, batch []any) ([]any, error) {
		out := make([]any, len(batch))
		for i, v := range batch {
			out[i] = fmt.Sprintf("answer:%v", v)
		}
		return out, nil
	})
	outputs, err := exec.ExecutePattern(context.Background(), researchPattern(), map[string]any{
		"queries": []any{"q1", "q2"},
	})
	if err != nil {
		t.Fatalf("pattern: %v", err)
	}
	answers, ok := outputs["answers"].([]any)
	if !ok {
		t.Fatalf("expected answer list, got %T", outputs["answers"])
	}
	if len(answers) != 2 || answers[0] != "answer:q1" || answers[1] != "answer:q2" {
		t.Fatalf("unexpected answers: %v", answers)
	}
}

func TestExecutePatternMissingRequiredInput(t *testing.T) {
	exec := New(echoProcessor)
	_, err := exec.ExecutePattern(context.Background(), researchPattern(), map[string]any{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(verr.Reason, "queries") {
		t.Fatalf("reason should name the missing port: %s", verr.Reason)
	}
}

func TestPatternValidate(t *testing.T) {
	base := researchPattern()
	cases := []struct {
		name   string
		mutate func(*Pattern)
	}{
		{"no name", func(p *Pattern) { p.Name = "" }},
		{"no nodes", func(p *Pattern) { p.Nodes = nil }},
		{"duplicate node", func(p *Pattern) { p.Nodes = append(p.Nodes, PatternNode{ID: "scatter"}) }},
		{"unknown kind", func(p *Pattern) { p.Nodes[0].Kind = "teleport" }},
		{"fan-out without config", func(p *Pattern) { p.Nodes[0].FanOut = nil }},
		{"fan-in without config", func(p *Pattern) { p.Nodes[1].FanIn = nil }},
		{"unknown source", func(p *Pattern) { p.Nodes[0].Source = "nowhere" }},
		{"forward source", func(p *Pattern) { p.Nodes[0].Source = "gather" }},
		{"edge against declaration order", func(p *Pattern) {
			p.Edges = []workflow.Edge{{From: "gather", To: "scatter"}}
		}},
		{"edge to unknown node", func(p *Pattern) {
			p.Edges = []workflow.Edge{{From: "scatter", To: "ghost"}}
		}},
		{"output from unknown producer", func(p *Pattern) {
			p.Outputs = []OutputPort{{Name: "answers", Producer: "ghost"}}
		}},
		{"duplicate input port", func(p *Pattern) {
			p.Inputs = append(p.Inputs, InputPort{Name: "queries"})
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pattern := base
			pattern.Inputs = append([]InputPort(nil), base.Inputs...)
			pattern.Nodes = append([]PatternNode(nil), base.Nodes...)
			pattern.Edges = append([]workflow.Edge(nil), base.Edges...)
			pattern.Outputs = append([]OutputPort(nil), base.Outputs...)
			tc.mutate(&pattern)
			if err := pattern.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestExecutePatternPipesResultsThroughTaskNode(t *testing.T) {
	exec := New(func(ctx context.Context, nodeID string, batch []any) ([]any, error) {
		if nodeID == "summarize" {
			return []any{fmt.Sprintf("summary of %d items", len(batch))}, nil
		}
		return batch, nil
	})
	pattern := Pattern{
		Name:   "summarize",
		Inputs: []InputPort{{Name: "items", Required: true}},
		Nodes: []PatternNode{
			{ID: "spread", Kind: KindFanOut, Source: "items", FanOut: &FanOutConfig{MaxConcurrency: 2}},
			{ID: "summarize", Kind: KindTask, Source: "spread"},
		},
		Outputs: []OutputPort{{Name: "summary", Producer: "summarize"}},
	}
	outputs, err := exec.ExecutePattern(context.Background(), pattern, map[string]any{
		"items": []any{"a", "b", "c"},
	})
	if err != nil {
		t.Fatalf("pattern: %v", err)
	}
	if outputs["summary"] != "summary of 3 items" {
		t.Fatalf("unexpected summary: %v", outputs["summary"])
	}
}
