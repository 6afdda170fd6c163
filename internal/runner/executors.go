package runner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aaaronmiller/datakiln/internal/dkel"
	"github.com/aaaronmiller/datakiln/internal/parallel"
	"github.com/aaaronmiller/datakiln/internal/registry"
	"github.com/aaaronmiller/datakiln/internal/workflow"
)

// RegisterBuiltins installs the executors for the four built-in node types.
// Split and merge delegate to the parallel executor.
func RegisterBuiltins(reg *registry.Registry, par *parallel.Executor) {
	reg.MustRegister(string(workflow.NodeTypeAction), NewActionExecutor())
	reg.MustRegister(string(workflow.NodeTypeGate), NewGateExecutor())
	reg.MustRegister(string(workflow.NodeTypeSplit), NewSplitExecutor(par))
	reg.MustRegister(string(workflow.NodeTypeMerge), NewMergeExecutor(par))
}

// scopeFor builds the three-part expression environment for a node.
func scopeFor(req registry.Request) dkel.Scope {
	return dkel.Scope{
		Input:    req.Inputs,
		Workflow: dkel.WorkflowScope{State: req.State},
		Node:     dkel.NodeScope{Config: req.Node.Config},
	}
}

// NewGateExecutor evaluates the node's condition expression. The raw result
// and its truthiness are both exposed so downstream nodes can branch on
// either. Edges are unconditional: an unsatisfied gate still completes and
// its successors still run, consuming the satisfied output rather than being
// suppressed by it.
func NewGateExecutor() registry.Executor {
	return registry.ExecutorFunc(func(ctx context.Context, req registry.Request) (registry.Response, error) {
		expr, ok := req.Node.Config["condition"].(string)
		if !ok || strings.TrimSpace(expr) == "" {
			return registry.Response{}, fmt.Errorf("runner: gate %s has no condition", req.Node.ID)
		}
		result := dkel.Evaluate(expr, scopeFor(req))
		if len(result.Errors) > 0 {
			return registry.Response{}, fmt.Errorf("runner: gate %s condition: %s", req.Node.ID, strings.Join(result.Errors, "; "))
		}
		return registry.Response{Outputs: map[string]any{
			"result":    result.Value,
			"satisfied": dkel.Truthy(result.Value),
		}}, nil
	})
}

// NewActionExecutor renders the node's declared outputs. String values in
// the outputs config are evaluated as expressions; everything else passes
// through as a literal. A state block is evaluated the same way and merged
// into the run's workflow state.
func NewActionExecutor() registry.Executor {
	return registry.ExecutorFunc(func(ctx context.Context, req registry.Request) (registry.Response, error) {
		scope := scopeFor(req)
		if declared, ok := req.Node.Config["state"].(map[string]any); ok {
			rendered, err := renderValues(declared, scope, req.Node.ID)
			if err != nil {
				return registry.Response{}, err
			}
			if req.State != nil {
				for key, value := range rendered {
					req.State[key] = value
				}
			}
		}
		declared, ok := req.Node.Config["outputs"].(map[string]any)
		if !ok {
			return registry.Response{}, nil
		}
		outputs, err := renderValues(declared, scope, req.Node.ID)
		if err != nil {
			return registry.Response{}, err
		}
		return registry.Response{Outputs: outputs}, nil
	})
}

func renderValues(declared map[string]any, scope dkel.Scope, nodeID string) (map[string]any, error) {
	rendered := make(map[string]any, len(declared))
	for key, value := range declared {
		expr, isExpr := value.(string)
		if !isExpr {
			rendered[key] = value
			continue
		}
		result := dkel.Evaluate(expr, scope)
		if len(result.Errors) > 0 {
			return nil, fmt.Errorf("runner: node %s output %s: %s", nodeID, key, strings.Join(result.Errors, "; "))
		}
		rendered[key] = result.Value
	}
	return rendered, nil
}

// NewSplitExecutor fans the node's items out through the parallel executor.
func NewSplitExecutor(par *parallel.Executor) registry.Executor {
	return registry.ExecutorFunc(func(ctx context.Context, req registry.Request) (registry.Response, error) {
		cfg, err := decodeFanOut(req.Node.Config)
		if err != nil {
			return registry.Response{}, fmt.Errorf("runner: split %s: %w", req.Node.ID, err)
		}
		items, err := splitItems(req)
		if err != nil {
			return registry.Response{}, err
		}
		res, err := par.ExecuteFanOut(ctx, req.Node.ID, items, cfg)
		if err != nil {
			return registry.Response{}, err
		}
		return registry.Response{Outputs: map[string]any{"results": res.Values}}, nil
	})
}

// NewMergeExecutor fans the node's inputs back in through the parallel
// executor. A missed quorum fails the node.
func NewMergeExecutor(par *parallel.Executor) registry.Executor {
	return registry.ExecutorFunc(func(ctx context.Context, req registry.Request) (registry.Response, error) {
		cfg, err := decodeFanIn(req.Node.Config)
		if err != nil {
			return registry.Response{}, fmt.Errorf("runner: merge %s: %w", req.Node.ID, err)
		}
		values := mergeInputs(req)
		res, err := par.ExecuteFanIn(ctx, req.Node.ID, parallel.StaticInputs(values...), cfg)
		if err != nil {
			return registry.Response{}, err
		}
		if !res.Quorum.Satisfied {
			return registry.Response{}, fmt.Errorf("runner: merge %s: %s", req.Node.ID, res.Quorum.Reason)
		}
		return registry.Response{Outputs: map[string]any{
			"results": res.Values,
			"quorum":  res.Quorum.Count,
		}}, nil
	})
}

// splitItems resolves the list a split node fans out over: a literal items
// list, a named input artifact, or every input value in key order.
func splitItems(req registry.Request) ([]any, error) {
	if literal, ok := req.Node.Config["items"].([]any); ok {
		return literal, nil
	}
	if source, ok := req.Node.Config["source"].(string); ok {
		value, ok := req.Inputs[source]
		if !ok {
			return nil, fmt.Errorf("runner: split %s sources missing input %s", req.Node.ID, source)
		}
		if list, ok := value.([]any); ok {
			return list, nil
		}
		return []any{value}, nil
	}
	return valuesByKey(req.Inputs), nil
}

// mergeInputs resolves the values a merge node waits on. Named sources keep
// their positions so absent ones count as not-yet-arrived.
func mergeInputs(req registry.Request) []any {
	if declared, ok := req.Node.Config["sources"].([]any); ok {
		values := make([]any, len(declared))
		for i, raw := range declared {
			name, ok := raw.(string)
			if !ok {
				continue
			}
			values[i] = req.Inputs[name]
		}
		return values
	}
	return valuesByKey(req.Inputs)
}

func valuesByKey(inputs map[string]any) []any {
	keys := make([]string, 0, len(inputs))
	for key := range inputs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	values := make([]any, len(keys))
	for i, key := range keys {
		values[i] = inputs[key]
	}
	return values
}
