package parallel

import (
	"context"
	"fmt"

	"github.com/aaaronmiller/datakiln/internal/workflow"
)

// ValidationError reports a malformed pattern or a call that does not match
// the pattern's signature.
type ValidationError struct {
	Pattern string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("parallel: pattern %s: %s", e.Pattern, e.Reason)
}

// NodeKind selects how a pattern node executes.
type NodeKind string

const (
	// KindTask delegates the node's inputs to the batch processor directly.
	KindTask NodeKind = "task"
	// KindFanOut runs the node as a fan-out invocation.
	KindFanOut NodeKind = "fan_out"
	// KindFanIn runs the node as a fan-in invocation over its inputs.
	KindFanIn NodeKind = "fan_in"
)

// InputPort names one value the pattern consumes.
type InputPort struct {
	Name     string `yaml:"name"`
	Required bool   `yaml:"required"`
}

// OutputPort maps a pattern output to the internal node that produces it.
type OutputPort struct {
	Name     string `yaml:"name"`
	Producer string `yaml:"producer"`
}

// PatternNode is one internal step of a pattern. Source names either an
// input port or an earlier node whose results feed this node.
type PatternNode struct {
	ID     string        `yaml:"id"`
	Kind   NodeKind      `yaml:"kind"`
	Source string        `yaml:"source"`
	FanOut *FanOutConfig `yaml:"fan_out"`
	FanIn  *FanInConfig  `yaml:"fan_in"`
}

// Pattern is a reusable parallel composition assembled from fan-out and
// fan-in primitives. Nodes execute in declaration order; edges document the
// data flow and are validated against that order.
type Pattern struct {
	Name    string          `yaml:"name"`
	Inputs  []InputPort     `yaml:"inputs"`
	Nodes   []PatternNode   `yaml:"nodes"`
	Edges   []workflow.Edge `yaml:"edges"`
	Outputs []OutputPort    `yaml:"outputs"`
}

// Validate checks the pattern's internal consistency. Edges that flow
// against declaration order are rejected here so declared-order execution
// cannot silently run a consumer before its producer.
func (p Pattern) Validate() error {
	if p.Name == "" {
		return &ValidationError{Pattern: "(unnamed)", Reason: "name is required"}
	}
	if len(p.Nodes) == 0 {
		return &ValidationError{Pattern: p.Name, Reason: "at least one node is required"}
	}
	order := make(map[string]int, len(p.Nodes))
	ports := make(map[string]struct{}, len(p.Inputs))
	for _, port := range p.Inputs {
		if port.Name == "" {
			return &ValidationError{Pattern: p.Name, Reason: "input port without a name"}
		}
		if _, dup := ports[port.Name]; dup {
			return &ValidationError{Pattern: p.Name, Reason: fmt.Sprintf("duplicate input port %s", port.Name)}
		}
		ports[port.Name] = struct{}{}
	}
	for i, node := range p.Nodes {
		if node.ID == "" {
			return &ValidationError{Pattern: p.Name, Reason: fmt.Sprintf("node %d has no id", i)}
		}
		if _, dup := order[node.ID]; dup {
			return &ValidationError{Pattern: p.Name, Reason: fmt.Sprintf("duplicate node id %s", node.ID)}
		}
		order[node.ID] = i
		switch node.Kind {
		case KindTask, "":
		case KindFanOut:
			if node.FanOut == nil {
				return &ValidationError{Pattern: p.Name, Reason: fmt.Sprintf("fan-out node %s has no fan-out config", node.ID)}
			}
		case KindFanIn:
			if node.FanIn == nil {
				return &ValidationError{Pattern: p.Name, Reason: fmt.Sprintf("fan-in node %s has no fan-in config", node.ID)}
			}
		default:
			return &ValidationError{Pattern: p.Name, Reason: fmt.Sprintf("node %s has unknown kind %q", node.ID, node.Kind)}
		}
		if node.Source != "" {
			_, isPort := ports[node.Source]
			sourceIdx, isNode := order[node.Source]
			if !isPort && !isNode {
				return &ValidationError{Pattern: p.Name, Reason: fmt.Sprintf("node %s sources unknown %q", node.ID, node.Source)}
			}
			if isNode && sourceIdx >= i {
				return &ValidationError{Pattern: p.Name, Reason: fmt.Sprintf("node %s sources %s declared after it", node.ID, node.Source)}
			}
		}
	}
	for _, edge := range p.Edges {
		from, okFrom := order[edge.From]
		to, okTo := order[edge.To]
		if !okFrom || !okTo {
			return &ValidationError{Pattern: p.Name, Reason: fmt.Sprintf("edge %s->%s references unknown node", edge.From, edge.To)}
		}
		if from >= to {
			return &ValidationError{Pattern: p.Name, Reason: fmt.Sprintf("edge %s->%s contradicts declaration order", edge.From, edge.To)}
		}
	}
	for _, out := range p.Outputs {
		if out.Name == "" {
			return &ValidationError{Pattern: p.Name, Reason: "output port without a name"}
		}
		if _, ok := order[out.Producer]; !ok {
			return &ValidationError{Pattern: p.Name, Reason: fmt.Sprintf("output %s names unknown producer %q", out.Name, out.Producer)}
		}
	}
	return nil
}

// ExecutePattern runs the pattern's nodes in declaration order and maps each
// output port to its producer's results.
func (e *Executor) ExecutePattern(ctx context.Context, pattern Pattern, inputs map[string]any) (map[string]any, error) {
	if err := pattern.Validate(); err != nil {
		return nil, err
	}
	for _, port := range pattern.Inputs {
		if _, ok := inputs[port.Name]; !ok && port.Required {
			return nil, &ValidationError{Pattern: pattern.Name, Reason: fmt.Sprintf("required input %s is missing", port.Name)}
		}
	}

	results := make(map[string][]any, len(pattern.Nodes))
	for _, node := range pattern.Nodes {
		feed := nodeFeed(node, inputs, results)
		var (
			values []any
			err    error
		)
		switch node.Kind {
		case KindFanOut:
			var res Result
			res, err = e.ExecuteFanOut(ctx, node.ID, feed, *node.FanOut)
			values = res.Values
		case KindFanIn:
			var res Result
			res, err = e.ExecuteFanIn(ctx, node.ID, StaticInputs(feed...), *node.FanIn)
			if err == nil && !res.Quorum.Satisfied {
				err = fmt.Errorf("parallel: pattern %s node %s: %s", pattern.Name, node.ID, res.Quorum.Reason)
			}
			values = res.Values
		default:
			values, err = e.process(ctx, node.ID, feed)
		}
		if err != nil {
			return nil, fmt.Errorf("parallel: pattern %s node %s: %w", pattern.Name, node.ID, err)
		}
		results[node.ID] = values
	}

	outputs := make(map[string]any, len(pattern.Outputs))
	for _, out := range pattern.Outputs {
		produced := results[out.Producer]
		if len(produced) == 1 {
			outputs[out.Name] = produced[0]
			continue
		}
		outputs[out.Name] = produced
	}
	return outputs, nil
}

// nodeFeed resolves a node's input values from its declared source. An empty
// source feeds the whole pattern input map as a single value.
func nodeFeed(node PatternNode, inputs map[string]any, results map[string][]any) []any {
	if node.Source == "" {
		return []any{inputs}
	}
	if produced, ok := results[node.Source]; ok {
		return produced
	}
	value, ok := inputs[node.Source]
	if !ok {
		return nil
	}
	if list, ok := value.([]any); ok {
		return list
	}
	return []any{value}
}
