// Package dkel implements the embedded guard-expression language that gates
// workflow transitions: a lexer, a recursive-descent parser producing an
// immutable AST, and a sandboxed evaluator with a method whitelist, a
// recursion-depth ceiling, and a wall-clock budget. Expressions read from a
// three-part scope (input, workflow, node) and never perform side effects.
// Evaluate and Parse always return a result plus an error list; internal
// errors never escape the package boundary.
package dkel

// Expr is the tagged-variant interface every AST node implements. Built once
// per expression string, immutable, and safe to reuse across evaluations
// with different scopes.
type Expr interface {
	exprNode()
}

// Literal is a number, string, boolean, or null constant.
type Literal struct {
	Value any
}

// Identifier references a scope root (input, workflow, node) by name.
type Identifier struct {
	Name string
}

// Binary applies an arithmetic, relational, or logical operator.
type Binary struct {
	Op    string
	Left  Expr
	Right Expr
}

// Unary applies a prefix operator (- or !).
type Unary struct {
	Op      string
	Operand Expr
}

// Member accesses a named property of an object value.
type Member struct {
	Object   Expr
	Property string
}

// ArrayAccess indexes an array value.
type ArrayAccess struct {
	Array Expr
	Index Expr
}

// MethodCall invokes a whitelisted method on a value.
type MethodCall struct {
	Object Expr
	Method string
	Args   []Expr
}

func (*Literal) exprNode()     {}
func (*Identifier) exprNode()  {}
func (*Binary) exprNode()      {}
func (*Unary) exprNode()       {}
func (*Member) exprNode()      {}
func (*ArrayAccess) exprNode() {}
func (*MethodCall) exprNode()  {}
