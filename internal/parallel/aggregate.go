package parallel

import (
	"fmt"
	"sort"
)

// aggregate combines satisfied fan-in inputs per the configured strategy.
// Nil config defaults to concat.
func (e *Executor) aggregate(values []any, cfg *Aggregation) ([]any, error) {
	strategy := StrategyConcat
	if cfg != nil && cfg.Strategy != "" {
		strategy = cfg.Strategy
	}
	switch strategy {
	case StrategyConcat:
		return concatValues(values), nil
	case StrategyMerge:
		return []any{mergeValues(values)}, nil
	case StrategyReduce:
		return reduceValues(values), nil
	case StrategyRank:
		return rankValues(values), nil
	case StrategyCustom:
		if e.aggregators == nil {
			return nil, fmt.Errorf("parallel: custom aggregation %q requested but no registry configured", cfg.CustomFunction)
		}
		fn, ok := e.aggregators.Resolve(cfg.CustomFunction)
		if !ok {
			return nil, fmt.Errorf("parallel: unknown custom aggregator %q", cfg.CustomFunction)
		}
		out, err := fn(values)
		if err != nil {
			return nil, fmt.Errorf("parallel: custom aggregator %q: %w", cfg.CustomFunction, err)
		}
		if list, ok := out.([]any); ok {
			return list, nil
		}
		return []any{out}, nil
	default:
		return nil, fmt.Errorf("parallel: unknown aggregation strategy %q", strategy)
	}
}

// concatValues flattens one level: list inputs are spliced, scalars kept.
func concatValues(values []any) []any {
	var flat []any
	for _, value := range values {
		if list, ok := value.([]any); ok {
			flat = append(flat, list...)
			continue
		}
		flat = append(flat, value)
	}
	return flat
}

// mergeValues unions map inputs shallowly; a later input wins on key
// conflict. Non-map inputs are ignored.
func mergeValues(values []any) map[string]any {
	merged := make(map[string]any)
	for _, value := range values {
		entry, ok := value.(map[string]any)
		if !ok {
			continue
		}
		for key, v := range entry {
			merged[key] = v
		}
	}
	return merged
}

// reduceValues sums when every input is numeric; anything else passes
// through unchanged.
func reduceValues(values []any) []any {
	sum := 0.0
	for _, value := range values {
		n, ok := asFloat(value)
		if !ok {
			return values
		}
		sum += n
	}
	return []any{sum}
}

// rankValues sorts descending by each element's score field, falling back to
// a confidence field. Unscored elements sink to the end, original order kept
// among themselves.
func rankValues(values []any) []any {
	ranked := append([]any(nil), values...)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, iok := scoreOf(ranked[i])
		sj, jok := scoreOf(ranked[j])
		if iok != jok {
			return iok
		}
		return si > sj
	})
	return ranked
}

func scoreOf(value any) (float64, bool) {
	entry, ok := value.(map[string]any)
	if !ok {
		return 0, false
	}
	if n, ok := asFloat(entry["score"]); ok {
		return n, true
	}
	if n, ok := asFloat(entry["confidence"]); ok {
		return n, true
	}
	return 0, false
}

func asFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// orderBy sorts map elements by the named field. Elements missing the key
// keep their relative order after the keyed ones.
func orderBy(values []any, key string, dir Direction) []any {
	ordered := append([]any(nil), values...)
	sort.SliceStable(ordered, func(i, j int) bool {
		vi, iok := fieldOf(ordered[i], key)
		vj, jok := fieldOf(ordered[j], key)
		if iok != jok {
			return iok
		}
		if dir == Descending {
			return lessValue(vj, vi)
		}
		return lessValue(vi, vj)
	})
	return ordered
}

func fieldOf(value any, key string) (any, bool) {
	entry, ok := value.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := entry[key]
	return v, ok
}

// lessValue compares numbers numerically, everything else as strings.
func lessValue(a, b any) bool {
	na, aok := asFloat(a)
	nb, bok := asFloat(b)
	if aok && bok {
		return na < nb
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}
