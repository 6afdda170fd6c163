package workflow

import "fmt"

// BuildPredecessors derives the per-node predecessor lists from the edge
// list. Every declared node gets an entry, so callers can distinguish "no
// predecessors" from "unknown node". Pure function.
func BuildPredecessors(nodes []Node, edges []Edge) map[string][]string {
	preds := make(map[string][]string, len(nodes))
	for _, node := range nodes {
		preds[node.ID] = nil
	}
	for _, edge := range edges {
		preds[edge.To] = append(preds[edge.To], edge.From)
	}
	return preds
}

// BuildSuccessors derives the per-node successor lists from the edge list.
func BuildSuccessors(nodes []Node, edges []Edge) map[string][]string {
	succs := make(map[string][]string, len(nodes))
	for _, node := range nodes {
		succs[node.ID] = nil
	}
	for _, edge := range edges {
		succs[edge.From] = append(succs[edge.From], edge.To)
	}
	return succs
}

// Roots returns, in declaration order, the nodes with no predecessors.
func Roots(nodes []Node, edges []Edge) []string {
	preds := BuildPredecessors(nodes, edges)
	var roots []string
	for _, node := range nodes {
		if len(preds[node.ID]) == 0 {
			roots = append(roots, node.ID)
		}
	}
	return roots
}

// DetectCycles reports an error naming a node on the first cycle found.
// Classic depth-first search with a recursion-stack marker set.
func DetectCycles(nodes []Node, edges []Edge) error {
	succs := BuildSuccessors(nodes, edges)
	permanent := make(map[string]bool, len(nodes))
	temporary := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		if permanent[id] {
			return nil
		}
		if temporary[id] {
			return fmt.Errorf("cycle detected involving node %s", id)
		}
		temporary[id] = true
		for _, next := range succs[id] {
			if err := visit(next); err != nil {
				return err
			}
		}
		delete(temporary, id)
		permanent[id] = true
		return nil
	}

	for _, node := range nodes {
		if !permanent[node.ID] {
			if err := visit(node.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
