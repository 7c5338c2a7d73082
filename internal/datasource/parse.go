// internal/datasource/parse.go
package datasource

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
)

// ParseFilter rebuilds a filter tree from an expression produced by Compile
// and its arguments, so a stored filter can be shown in the form editor.
// Only the subset of SQL that Compile emits is understood.
func ParseFilter(expr string, args []any) (*schemas.WhereSchema, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	p := &filterParser{tokens: tokens, args: args}
	node, err := p.or()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, fmt.Errorf("unexpected %q at end of filter", p.peek().text)
	}
	if p.argIndex != len(args) {
		return nil, fmt.Errorf("filter uses %d arguments, got %d", p.argIndex, len(args))
	}
	return &node, nil
}

// -- Lexer --

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokKeyword
	tokOperator
	tokPlaceholder
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
}

var keywords = map[string]bool{
	"AND": true, "OR": true, "NOT": true, "LIKE": true, "IN": true,
	"BETWEEN": true, "IS": true, "NULL": true,
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	runes := []rune(expr)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{tokLParen, "("})
			i++
		case r == ')':
			tokens = append(tokens, token{tokRParen, ")"})
			i++
		case r == ',':
			tokens = append(tokens, token{tokComma, ","})
			i++
		case r == '?':
			tokens = append(tokens, token{tokPlaceholder, "?"})
			i++
		case r == '"':
			var name strings.Builder
			i++
			for {
				if i >= len(runes) {
					return nil, fmt.Errorf("unterminated identifier in filter")
				}
				if runes[i] == '"' {
					if i+1 < len(runes) && runes[i+1] == '"' {
						name.WriteRune('"')
						i += 2
						continue
					}
					i++
					break
				}
				name.WriteRune(runes[i])
				i++
			}
			tokens = append(tokens, token{tokIdent, name.String()})
		case strings.ContainsRune("=!<>", r):
			op := string(r)
			if i+1 < len(runes) && runes[i+1] == '=' {
				op += "="
			} else if r == '<' && i+1 < len(runes) && runes[i+1] == '>' {
				op = "<>"
			}
			if op == "!" {
				return nil, fmt.Errorf("unexpected '!' in filter")
			}
			tokens = append(tokens, token{tokOperator, op})
			i += len(op)
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			word := string(runes[start:i])
			if upper := strings.ToUpper(word); keywords[upper] {
				tokens = append(tokens, token{tokKeyword, upper})
			} else {
				tokens = append(tokens, token{tokIdent, word})
			}
		default:
			return nil, fmt.Errorf("unexpected %q in filter", r)
		}
	}
	return tokens, nil
}

// -- Parser --

type filterParser struct {
	tokens   []token
	pos      int
	args     []any
	argIndex int
}

func (p *filterParser) done() bool { return p.pos >= len(p.tokens) }

func (p *filterParser) peek() token {
	if p.done() {
		return token{kind: -1}
	}
	return p.tokens[p.pos]
}

func (p *filterParser) keyword(word string) bool {
	if t := p.peek(); t.kind == tokKeyword && t.text == word {
		p.pos++
		return true
	}
	return false
}

func (p *filterParser) expect(kind tokenKind, what string) (token, error) {
	t := p.peek()
	if t.kind != kind {
		if p.done() {
			return t, fmt.Errorf("expected %s, got end of filter", what)
		}
		return t, fmt.Errorf("expected %s, got %q", what, t.text)
	}
	p.pos++
	return t, nil
}

func (p *filterParser) placeholder() (any, error) {
	if _, err := p.expect(tokPlaceholder, "?"); err != nil {
		return nil, err
	}
	if p.argIndex >= len(p.args) {
		return nil, fmt.Errorf("filter needs more than %d arguments", len(p.args))
	}
	v := p.args[p.argIndex]
	p.argIndex++
	return v, nil
}

func (p *filterParser) or() (schemas.WhereSchema, error) {
	first, err := p.and()
	if err != nil {
		return first, err
	}
	children := []schemas.WhereSchema{first}
	for p.keyword("OR") {
		next, err := p.and()
		if err != nil {
			return next, err
		}
		children = append(children, next)
	}
	if len(children) == 1 {
		return first, nil
	}
	return schemas.WhereSchema{Or: children}, nil
}

func (p *filterParser) and() (schemas.WhereSchema, error) {
	first, err := p.unary()
	if err != nil {
		return first, err
	}
	children := []schemas.WhereSchema{first}
	for p.keyword("AND") {
		next, err := p.unary()
		if err != nil {
			return next, err
		}
		children = append(children, next)
	}
	if len(children) == 1 {
		return first, nil
	}
	return schemas.WhereSchema{And: children}, nil
}

func (p *filterParser) unary() (schemas.WhereSchema, error) {
	if p.keyword("NOT") {
		inner, err := p.unary()
		if err != nil {
			return inner, err
		}
		inner.Negate = !inner.Negate
		return inner, nil
	}
	if p.peek().kind == tokLParen {
		p.pos++
		inner, err := p.or()
		if err != nil {
			return inner, err
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return inner, err
		}
		return inner, nil
	}
	return p.leaf()
}

func (p *filterParser) leaf() (schemas.WhereSchema, error) {
	col, err := p.expect(tokIdent, "column")
	if err != nil {
		return schemas.WhereSchema{}, err
	}
	leaf := schemas.WhereSchema{Column: col.text}

	if t := p.peek(); t.kind == tokOperator {
		p.pos++
		op := t.text
		if op == "<>" {
			op = "!="
		}
		if op == "==" {
			op = "="
		}
		leaf.Condition = schemas.WhereCondition(op)
		leaf.Value, err = p.placeholder()
		return leaf, err
	}

	if p.keyword("IS") {
		leaf.Condition = schemas.WhereIsNull
		if p.keyword("NOT") {
			leaf.Condition = schemas.WhereIsNotNull
		}
		if !p.keyword("NULL") {
			return leaf, fmt.Errorf("expected NULL after IS")
		}
		return leaf, nil
	}

	negated := p.keyword("NOT")
	switch {
	case p.keyword("LIKE"):
		leaf.Condition = pick(negated, schemas.WhereNotLike, schemas.WhereLike)
		leaf.Value, err = p.placeholder()
		return leaf, err

	case p.keyword("IN"):
		leaf.Condition = pick(negated, schemas.WhereNotIn, schemas.WhereIn)
		if _, err := p.expect(tokLParen, "("); err != nil {
			return leaf, err
		}
		var values []any
		for {
			v, err := p.placeholder()
			if err != nil {
				return leaf, err
			}
			values = append(values, v)
			if p.peek().kind != tokComma {
				break
			}
			p.pos++
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return leaf, err
		}
		leaf.Value = values
		return leaf, nil

	case p.keyword("BETWEEN"):
		leaf.Condition = pick(negated, schemas.WhereNotBetween, schemas.WhereBetween)
		lo, err := p.placeholder()
		if err != nil {
			return leaf, err
		}
		if !p.keyword("AND") {
			return leaf, fmt.Errorf("expected AND in BETWEEN")
		}
		hi, err := p.placeholder()
		if err != nil {
			return leaf, err
		}
		leaf.Value = []any{lo, hi}
		return leaf, nil
	}
	return leaf, fmt.Errorf("expected a condition after column %q", col.text)
}

func pick(negated bool, yes, no schemas.WhereCondition) schemas.WhereCondition {
	if negated {
		return yes
	}
	return no
}
