package dkel

import (
	"fmt"
	"math"
	"reflect"
	"strings"
)

// DefaultMaxDepth is the recursion ceiling for expression evaluation. The
// depth counter is the hard stop for runaway expressions; the time budget
// only detects overruns after the fact.
const DefaultMaxDepth = 64

// allowedMethods is the sandbox whitelist. Anything else is rejected before
// its arguments are even evaluated.
var allowedMethods = map[string]struct{}{
	"length":     {},
	"contains":   {},
	"startsWith": {},
	"endsWith":   {},
}

// evalError marks a semantic or security failure inside the evaluator. It
// never escapes the package: Evaluate converts it to an error string.
type evalError struct {
	message string
}

func (e evalError) Error() string { return e.message }

func errf(format string, args ...any) error {
	return evalError{message: fmt.Sprintf(format, args...)}
}

type evaluator struct {
	roots    map[string]any
	maxDepth int
	depth    int
}

func newEvaluator(scope Scope, maxDepth int) *evaluator {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &evaluator{
		roots: map[string]any{
			"input":    scope.Input,
			"workflow": map[string]any{"state": scope.Workflow.State},
			"node":     map[string]any{"config": scope.Node.Config},
		},
		maxDepth: maxDepth,
	}
}

func (e *evaluator) eval(expr Expr) (any, error) {
	e.depth++
	defer func() { e.depth-- }()
	if e.depth > e.maxDepth {
		return nil, errf("Maximum recursion depth %d exceeded", e.maxDepth)
	}
	switch n := expr.(type) {
	case *Literal:
		return n.Value, nil
	case *Identifier:
		value, ok := e.roots[n.Name]
		if !ok {
			return nil, errf("Undefined identifier '%s'", n.Name)
		}
		return value, nil
	case *Unary:
		return e.evalUnary(n)
	case *Binary:
		return e.evalBinary(n)
	case *Member:
		return e.evalMember(n)
	case *ArrayAccess:
		return e.evalArrayAccess(n)
	case *MethodCall:
		return e.evalMethodCall(n)
	default:
		return nil, errf("Unsupported expression node %T", expr)
	}
}

func (e *evaluator) evalUnary(n *Unary) (any, error) {
	operand, err := e.eval(n.Operand)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case "-":
		value, ok := asNumber(operand)
		if !ok {
			return nil, errf("Operator '-' requires a numeric operand")
		}
		return -value, nil
	case "!":
		return !truthy(operand), nil
	default:
		return nil, errf("Unsupported unary operator '%s'", n.Op)
	}
}

// evalBinary evaluates both operands unconditionally; && and || return the
// raw operand rather than a coerced boolean. Gate consumers apply truthiness
// at the boundary.
func (e *evaluator) evalBinary(n *Binary) (any, error) {
	left, err := e.eval(n.Left)
	if err != nil {
		return nil, err
	}
	right, err := e.eval(n.Right)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case "&&":
		if !truthy(left) {
			return left, nil
		}
		return right, nil
	case "||":
		if truthy(left) {
			return left, nil
		}
		return right, nil
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	case "+":
		if ls, ok := left.(string); ok {
			return ls + stringify(right), nil
		}
		if rs, ok := right.(string); ok {
			return stringify(left) + rs, nil
		}
		return e.numericOp(n.Op, left, right)
	case "-", "*", "/", "%":
		return e.numericOp(n.Op, left, right)
	case "<", "<=", ">", ">=":
		return compare(n.Op, left, right)
	default:
		return nil, errf("Unsupported operator '%s'", n.Op)
	}
}

func (e *evaluator) numericOp(op string, left, right any) (any, error) {
	lv, lok := asNumber(left)
	rv, rok := asNumber(right)
	if !lok || !rok {
		return nil, errf("Operator '%s' requires numeric operands", op)
	}
	switch op {
	case "+":
		return lv + rv, nil
	case "-":
		return lv - rv, nil
	case "*":
		return lv * rv, nil
	case "/":
		if rv == 0 {
			return nil, errf("Division by zero")
		}
		return lv / rv, nil
	case "%":
		if rv == 0 {
			return nil, errf("Modulo by zero")
		}
		return math.Mod(lv, rv), nil
	}
	return nil, errf("Unsupported operator '%s'", op)
}

func (e *evaluator) evalMember(n *Member) (any, error) {
	object, err := e.eval(n.Object)
	if err != nil {
		return nil, err
	}
	if object == nil {
		return nil, errf("Cannot access property '%s' of null", n.Property)
	}
	obj, ok := object.(map[string]any)
	if !ok {
		return nil, errf("Cannot access property '%s' of non-object value", n.Property)
	}
	// Missing keys resolve to null rather than erroring so guards can probe
	// optional fields.
	return obj[n.Property], nil
}

func (e *evaluator) evalArrayAccess(n *ArrayAccess) (any, error) {
	array, err := e.eval(n.Array)
	if err != nil {
		return nil, err
	}
	index, err := e.eval(n.Index)
	if err != nil {
		return nil, err
	}
	items, ok := array.([]any)
	if !ok {
		return nil, errf("Cannot index non-array value")
	}
	value, ok := asNumber(index)
	if !ok || value != math.Trunc(value) {
		return nil, errf("Array index must be an integer")
	}
	idx := int(value)
	if idx < 0 || idx >= len(items) {
		return nil, errf("Array index %d out of bounds", idx)
	}
	return items[idx], nil
}

func (e *evaluator) evalMethodCall(n *MethodCall) (any, error) {
	// Whitelist check comes before anything is evaluated.
	if _, ok := allowedMethods[n.Method]; !ok {
		return nil, errf("Method '%s' is not allowed", n.Method)
	}
	object, err := e.eval(n.Object)
	if err != nil {
		return nil, err
	}
	args := make([]any, len(n.Args))
	for i, arg := range n.Args {
		value, err := e.eval(arg)
		if err != nil {
			return nil, err
		}
		args[i] = value
	}
	return callMethod(object, n.Method, args)
}

func callMethod(object any, method string, args []any) (any, error) {
	switch method {
	case "length":
		if len(args) != 0 {
			return nil, errf("Method 'length' takes no arguments")
		}
		switch v := object.(type) {
		case string:
			return float64(len(v)), nil
		case []any:
			return float64(len(v)), nil
		case map[string]any:
			return float64(len(v)), nil
		}
		return nil, errf("Method 'length' requires a string, array, or object")
	case "contains":
		if len(args) != 1 {
			return nil, errf("Method 'contains' takes exactly one argument")
		}
		switch v := object.(type) {
		case string:
			needle, ok := args[0].(string)
			if !ok {
				return nil, errf("Method 'contains' on a string requires a string argument")
			}
			return strings.Contains(v, needle), nil
		case []any:
			for _, item := range v {
				if looseEqual(item, args[0]) {
					return true, nil
				}
			}
			return false, nil
		}
		return nil, errf("Method 'contains' requires a string or array")
	case "startsWith", "endsWith":
		if len(args) != 1 {
			return nil, errf("Method '%s' takes exactly one argument", method)
		}
		str, ok := object.(string)
		if !ok {
			return nil, errf("Method '%s' requires a string", method)
		}
		needle, ok := args[0].(string)
		if !ok {
			return nil, errf("Method '%s' requires a string argument", method)
		}
		if method == "startsWith" {
			return strings.HasPrefix(str, needle), nil
		}
		return strings.HasSuffix(str, needle), nil
	}
	return nil, errf("Method '%s' is not allowed", method)
}

// Truthy reports the boolean interpretation a gate applies to an evaluation
// result: null and false are false, zero numbers and empty strings are
// false, everything else (arrays and objects included) is true.
func Truthy(value any) bool {
	return truthy(value)
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	default:
		if n, ok := asNumber(value); ok {
			return n != 0
		}
		return true
	}
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	default:
		return 0, false
	}
}

func looseEqual(left, right any) bool {
	if lv, ok := asNumber(left); ok {
		if rv, rok := asNumber(right); rok {
			return lv == rv
		}
		return false
	}
	return reflect.DeepEqual(left, right)
}

func compare(op string, left, right any) (any, error) {
	if lv, ok := asNumber(left); ok {
		rv, rok := asNumber(right)
		if !rok {
			return nil, errf("Operator '%s' requires comparable operands", op)
		}
		return applyOrder(op, compareFloats(lv, rv)), nil
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		return applyOrder(op, strings.Compare(ls, rs)), nil
	}
	return nil, errf("Operator '%s' requires comparable operands", op)
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func applyOrder(op string, cmp int) bool {
	switch op {
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	default:
		return cmp >= 0
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
