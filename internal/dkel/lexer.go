package dkel

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNumber
	tokenString
	tokenIdent
	tokenOperator
	tokenPunct
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// operators ordered so multi-character forms match before their prefixes.
var operatorTexts = []string{
	"&&", "||", "==", "!=", "<=", ">=",
	"+", "-", "*", "/", "%", "<", ">", "!",
}

func tokenize(input string) ([]token, []string) {
	var tokens []token
	var errs []string
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r):
			start := i
			seenDot := false
			for i < len(runes) && (unicode.IsDigit(runes[i]) || (runes[i] == '.' && !seenDot && i+1 < len(runes) && unicode.IsDigit(runes[i+1]))) {
				if runes[i] == '.' {
					seenDot = true
				}
				i++
			}
			tokens = append(tokens, token{kind: tokenNumber, text: string(runes[start:i]), pos: start})
		case r == '\'' || r == '"':
			text, next, err := scanString(runes, i)
			if err != "" {
				errs = append(errs, err)
				i = len(runes)
				break
			}
			tokens = append(tokens, token{kind: tokenString, text: text, pos: i})
			i = next
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			tokens = append(tokens, token{kind: tokenIdent, text: string(runes[start:i]), pos: start})
		case strings.ContainsRune(".,()[]", r):
			tokens = append(tokens, token{kind: tokenPunct, text: string(r), pos: i})
			i++
		default:
			matched := false
			for _, op := range operatorTexts {
				if strings.HasPrefix(string(runes[i:]), op) {
					tokens = append(tokens, token{kind: tokenOperator, text: op, pos: i})
					i += len(op)
					matched = true
					break
				}
			}
			if !matched {
				errs = append(errs, fmt.Sprintf("Unexpected character '%c' at position %d", r, i))
				i++
			}
		}
	}
	tokens = append(tokens, token{kind: tokenEOF, pos: len(runes)})
	return tokens, errs
}

// scanString consumes a quoted string starting at open, handling backslash
// escapes, and returns the unquoted text plus the index after the closing
// quote. The third return is an error message when the string never closes.
func scanString(runes []rune, open int) (string, int, string) {
	quote := runes[open]
	var sb strings.Builder
	i := open + 1
	for i < len(runes) {
		r := runes[i]
		if r == '\\' && i+1 < len(runes) {
			next := runes[i+1]
			switch next {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			default:
				sb.WriteRune(next)
			}
			i += 2
			continue
		}
		if r == quote {
			return sb.String(), i + 1, ""
		}
		sb.WriteRune(r)
		i++
	}
	return "", len(runes), fmt.Sprintf("Unterminated string starting at position %d", open)
}
