// Package workflow declares the executable graph model: nodes, directed
// edges, and the helpers that derive predecessor/successor structure from
// them. Definitions are loaded from YAML and normalized before the engine
// ever sees them.
package workflow

import (
	"fmt"
	"strings"
)

// NodeType categorizes how a node is executed.
type NodeType string

const (
	// NodeTypeAction runs a registered executor (browser action, transform, ...).
	NodeTypeAction NodeType = "action"
	// NodeTypeGate evaluates a guard expression and publishes the verdict as
	// its satisfied output. Edges stay unconditional; successors read the
	// verdict instead of being skipped.
	NodeTypeGate NodeType = "gate"
	// NodeTypeSplit fans its input out across parallel batches.
	NodeTypeSplit NodeType = "split"
	// NodeTypeMerge fans parallel results back in under a quorum.
	NodeTypeMerge NodeType = "merge"
)

// Node declares a single unit of computation inside a workflow graph.
type Node struct {
	ID     string         `json:"id" yaml:"id"`
	Type   NodeType       `json:"type" yaml:"type"`
	Name   string         `json:"name,omitempty" yaml:"name,omitempty"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	clone := n
	clone.Config = cloneConfig(n.Config)
	return clone
}

// Edge declares a dependency: To may not run until From has completed.
type Edge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Definition declares an executable workflow graph.
type Definition struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name,omitempty" yaml:"name,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes       []Node            `json:"nodes" yaml:"nodes"`
	Edges       []Edge            `json:"edges,omitempty" yaml:"edges,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Clone returns a deep copy of the definition.
func (def Definition) Clone() Definition {
	clone := Definition{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Metadata:    cloneStringMap(def.Metadata),
	}
	if len(def.Nodes) > 0 {
		clone.Nodes = make([]Node, len(def.Nodes))
		for i, node := range def.Nodes {
			clone.Nodes[i] = node.Clone()
		}
	}
	if len(def.Edges) > 0 {
		clone.Edges = make([]Edge, len(def.Edges))
		copy(clone.Edges, def.Edges)
	}
	return clone
}

// Normalized validates the definition and returns a trimmed, canonical copy.
func (def Definition) Normalized() (Definition, error) {
	clone := def.Clone()
	clone.ID = strings.TrimSpace(clone.ID)
	if clone.ID == "" {
		return Definition{}, fmt.Errorf("workflow: definition id is required")
	}
	if len(clone.Nodes) == 0 {
		return Definition{}, fmt.Errorf("workflow %s: at least one node is required", clone.ID)
	}
	seen := make(map[string]struct{}, len(clone.Nodes))
	for i, node := range clone.Nodes {
		id := strings.TrimSpace(node.ID)
		if id == "" {
			return Definition{}, fmt.Errorf("workflow %s: node %d is missing an id", clone.ID, i)
		}
		if _, dup := seen[id]; dup {
			return Definition{}, fmt.Errorf("workflow %s: duplicate node id %s", clone.ID, id)
		}
		seen[id] = struct{}{}
		clone.Nodes[i].ID = id
		if node.Type == "" {
			clone.Nodes[i].Type = NodeTypeAction
		}
	}
	for i, edge := range clone.Edges {
		from := strings.TrimSpace(edge.From)
		to := strings.TrimSpace(edge.To)
		if from == "" || to == "" {
			return Definition{}, fmt.Errorf("workflow %s: edge %d is missing an endpoint", clone.ID, i)
		}
		if from == to {
			return Definition{}, fmt.Errorf("workflow %s: self-referential edge on %s", clone.ID, from)
		}
		if _, ok := seen[from]; !ok {
			return Definition{}, fmt.Errorf("workflow %s: edge references unknown node %s", clone.ID, from)
		}
		if _, ok := seen[to]; !ok {
			return Definition{}, fmt.Errorf("workflow %s: edge references unknown node %s", clone.ID, to)
		}
		clone.Edges[i] = Edge{From: from, To: to}
	}
	if err := DetectCycles(clone.Nodes, clone.Edges); err != nil {
		return Definition{}, fmt.Errorf("workflow %s: %w", clone.ID, err)
	}
	return clone, nil
}

// Node returns the node with the given id, if declared.
func (def Definition) Node(id string) (Node, bool) {
	for _, node := range def.Nodes {
		if node.ID == id {
			return node, true
		}
	}
	return Node{}, false
}

// NodeIDs returns node identifiers in declaration order.
func (def Definition) NodeIDs() []string {
	ids := make([]string, len(def.Nodes))
	for i, node := range def.Nodes {
		ids[i] = node.ID
	}
	return ids
}

func cloneConfig(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for key, value := range values {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return cloneConfig(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

func cloneStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		out[key] = value
	}
	return out
}
