package parallel

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

const aggregatorFuncName = "Aggregators"

// AggregateFunc combines the satisfied fan-in inputs into one value.
type AggregateFunc func(values []any) (any, error)

// AggregatorRegistry holds named custom aggregation strategies. Strategies
// come from Go registrations or from interpreted plugin files.
type AggregatorRegistry struct {
	mu    sync.RWMutex
	funcs map[string]AggregateFunc
}

// NewAggregatorRegistry builds an empty registry.
func NewAggregatorRegistry() *AggregatorRegistry {
	return &AggregatorRegistry{funcs: make(map[string]AggregateFunc)}
}

// Register adds a strategy under name. Duplicate names are rejected so a
// plugin cannot silently shadow a built-in registration.
func (r *AggregatorRegistry) Register(name string, fn AggregateFunc) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("parallel: aggregator name is required")
	}
	if fn == nil {
		return fmt.Errorf("parallel: aggregator %q has no function", trimmed)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[trimmed]; exists {
		return fmt.Errorf("parallel: aggregator %q already registered", trimmed)
	}
	r.funcs[trimmed] = fn
	return nil
}

// Resolve looks up a strategy by name.
func (r *AggregatorRegistry) Resolve(name string) (AggregateFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names lists registered strategies in sorted order.
func (r *AggregatorRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadDir interprets every .go file in dir and registers the aggregators each
// declares via Aggregators() map[string]func([]any) (any, error). A missing
// directory is not an error.
func (r *AggregatorRegistry) LoadDir(dir string) error {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("parallel: read %s: %w", trimmed, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".go" {
			continue
		}
		if err := r.loadFile(filepath.Join(trimmed, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (r *AggregatorRegistry) loadFile(path string) error {
	code, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("parallel: read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(code))) == 0 {
		return fmt.Errorf("parallel: %s is empty", path)
	}
	i := interp.New(interp.Options{})
	i.Use(stdlib.Symbols)
	if _, err := i.EvalPath(path); err != nil {
		return fmt.Errorf("parallel: interpret %s: %w", path, err)
	}
	fnValue, err := i.Eval(aggregatorFuncName)
	if err != nil {
		return fmt.Errorf("parallel: %s must define %s() map[string]func([]any) (any, error): %w", path, aggregatorFuncName, err)
	}
	declared, err := invokeAggregatorFunc(fnValue)
	if err != nil {
		return fmt.Errorf("parallel: %s: %w", path, err)
	}
	for name, fn := range declared {
		if err := r.Register(name, fn); err != nil {
			return fmt.Errorf("parallel: %s: %w", path, err)
		}
	}
	return nil
}

func invokeAggregatorFunc(value reflect.Value) (map[string]AggregateFunc, error) {
	if !value.IsValid() || value.Kind() != reflect.Func {
		return nil, fmt.Errorf("%s is not a function", aggregatorFuncName)
	}
	results := value.Call(nil)
	if len(results) != 1 {
		return nil, fmt.Errorf("%s must return a single map", aggregatorFuncName)
	}
	raw := results[0]
	if raw.Kind() != reflect.Map {
		return nil, fmt.Errorf("%s must return map[string]func([]any) (any, error)", aggregatorFuncName)
	}
	out := make(map[string]AggregateFunc, raw.Len())
	iter := raw.MapRange()
	for iter.Next() {
		name, ok := iter.Key().Interface().(string)
		if !ok {
			return nil, fmt.Errorf("%s keys must be strings", aggregatorFuncName)
		}
		fn, err := adaptAggregator(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("aggregator %q: %w", name, err)
		}
		out[name] = fn
	}
	return out, nil
}

// adaptAggregator bridges the interpreted function, whatever its concrete
// interface{} spelling, into an AggregateFunc via reflection.
func adaptAggregator(value reflect.Value) (AggregateFunc, error) {
	if value.Kind() == reflect.Interface {
		value = value.Elem()
	}
	if !value.IsValid() || value.Kind() != reflect.Func {
		return nil, fmt.Errorf("value is not a function")
	}
	t := value.Type()
	if t.NumIn() != 1 || t.NumOut() != 2 {
		return nil, fmt.Errorf("signature must be func([]any) (any, error)")
	}
	fn := value
	return func(values []any) (any, error) {
		in := reflect.ValueOf(values)
		if values == nil {
			in = reflect.MakeSlice(t.In(0), 0, 0)
		}
		results := fn.Call([]reflect.Value{in})
		var err error
		if !results[1].IsNil() {
			e, ok := results[1].Interface().(error)
			if !ok {
				return nil, fmt.Errorf("second return value is not an error")
			}
			err = e
		}
		out := results[0].Interface()
		return out, err
	}, nil
}
