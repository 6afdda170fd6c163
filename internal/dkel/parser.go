package dkel

import (
	"fmt"
	"strconv"
)

// parser is a recursive-descent parser over the token stream. Precedence,
// loosest first: || < && < equality < relational < additive < multiplicative
// < unary < postfix (member access, indexing, method calls).
type parser struct {
	tokens []token
	pos    int
	errs   []string
}

func parseTokens(tokens []token) (Expr, []string) {
	p := &parser{tokens: tokens}
	expr := p.parseOr()
	if p.current().kind != tokenEOF && len(p.errs) == 0 {
		p.errorf("Unexpected token '%s' at position %d", p.current().text, p.current().pos)
	}
	if len(p.errs) > 0 {
		return nil, p.errs
	}
	return expr, nil
}

func (p *parser) current() token {
	if p.pos >= len(p.tokens) {
		return token{kind: tokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *parser) advance() token {
	tok := p.current()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

func (p *parser) matchOperator(ops ...string) (string, bool) {
	tok := p.current()
	if tok.kind != tokenOperator {
		return "", false
	}
	for _, op := range ops {
		if tok.text == op {
			p.advance()
			return op, true
		}
	}
	return "", false
}

func (p *parser) expectPunct(text string) bool {
	tok := p.current()
	if tok.kind == tokenPunct && tok.text == text {
		p.advance()
		return true
	}
	p.errorf("Expected '%s' at position %d", text, tok.pos)
	return false
}

func (p *parser) errorf(format string, args ...any) {
	p.errs = append(p.errs, fmt.Sprintf(format, args...))
}

func (p *parser) parseOr() Expr {
	left := p.parseAnd()
	for {
		if _, ok := p.matchOperator("||"); !ok {
			return left
		}
		left = &Binary{Op: "||", Left: left, Right: p.parseAnd()}
	}
}

func (p *parser) parseAnd() Expr {
	left := p.parseEquality()
	for {
		if _, ok := p.matchOperator("&&"); !ok {
			return left
		}
		left = &Binary{Op: "&&", Left: left, Right: p.parseEquality()}
	}
}

func (p *parser) parseEquality() Expr {
	left := p.parseRelational()
	for {
		op, ok := p.matchOperator("==", "!=")
		if !ok {
			return left
		}
		left = &Binary{Op: op, Left: left, Right: p.parseRelational()}
	}
}

func (p *parser) parseRelational() Expr {
	left := p.parseAdditive()
	for {
		op, ok := p.matchOperator("<", "<=", ">", ">=")
		if !ok {
			return left
		}
		left = &Binary{Op: op, Left: left, Right: p.parseAdditive()}
	}
}

func (p *parser) parseAdditive() Expr {
	left := p.parseMultiplicative()
	for {
		op, ok := p.matchOperator("+", "-")
		if !ok {
			return left
		}
		left = &Binary{Op: op, Left: left, Right: p.parseMultiplicative()}
	}
}

func (p *parser) parseMultiplicative() Expr {
	left := p.parseUnary()
	for {
		op, ok := p.matchOperator("*", "/", "%")
		if !ok {
			return left
		}
		left = &Binary{Op: op, Left: left, Right: p.parseUnary()}
	}
}

func (p *parser) parseUnary() Expr {
	if op, ok := p.matchOperator("-", "!"); ok {
		return &Unary{Op: op, Operand: p.parseUnary()}
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() Expr {
	expr := p.parsePrimary()
	for {
		tok := p.current()
		if tok.kind != tokenPunct {
			return expr
		}
		switch tok.text {
		case ".":
			p.advance()
			name := p.current()
			if name.kind != tokenIdent {
				p.errorf("Expected property name at position %d", name.pos)
				return expr
			}
			p.advance()
			if next := p.current(); next.kind == tokenPunct && next.text == "(" {
				p.advance()
				args := p.parseArgs()
				expr = &MethodCall{Object: expr, Method: name.text, Args: args}
				continue
			}
			expr = &Member{Object: expr, Property: name.text}
		case "[":
			p.advance()
			index := p.parseOr()
			if !p.expectPunct("]") {
				return expr
			}
			expr = &ArrayAccess{Array: expr, Index: index}
		default:
			return expr
		}
	}
}

func (p *parser) parseArgs() []Expr {
	var args []Expr
	if tok := p.current(); tok.kind == tokenPunct && tok.text == ")" {
		p.advance()
		return args
	}
	for {
		args = append(args, p.parseOr())
		tok := p.current()
		if tok.kind == tokenPunct && tok.text == "," {
			p.advance()
			continue
		}
		p.expectPunct(")")
		return args
	}
}

func (p *parser) parsePrimary() Expr {
	tok := p.current()
	switch tok.kind {
	case tokenNumber:
		p.advance()
		value, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			p.errorf("Invalid number '%s' at position %d", tok.text, tok.pos)
			return &Literal{}
		}
		return &Literal{Value: value}
	case tokenString:
		p.advance()
		return &Literal{Value: tok.text}
	case tokenIdent:
		p.advance()
		switch tok.text {
		case "true":
			return &Literal{Value: true}
		case "false":
			return &Literal{Value: false}
		case "null":
			return &Literal{Value: nil}
		}
		return &Identifier{Name: tok.text}
	case tokenPunct:
		if tok.text == "(" {
			p.advance()
			expr := p.parseOr()
			p.expectPunct(")")
			return expr
		}
	}
	p.errorf("Unexpected token '%s' at position %d", tok.text, tok.pos)
	p.advance()
	return &Literal{}
}
