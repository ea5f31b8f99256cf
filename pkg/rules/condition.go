package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// The pattern dialect's condition language is a tiny boolean DSL
// evaluated over per-string match counts:
//
//	condition := term { "and" term }
//	term      := "any" "of" group
//	           | "all" "of" group
//	           | "#" name cmp int
//	           | "$" name
//	           | "(" condition ")"
//	group     := "them" | "(" "$"name { "," "$"name } ")"
//	cmp       := ">=" | ">" | "==" | "<=" | "<"
//
// It is deliberately not a general expression language; "or" at the
// top level is expressed by writing two rules.

// condExpr is a compiled condition node.
type condExpr interface {
	eval(counts map[string]int, all []string) bool
}

type condAnd struct {
	terms []condExpr
}

func (c *condAnd) eval(counts map[string]int, all []string) bool {
	for _, t := range c.terms {
		if !t.eval(counts, all) {
			return false
		}
	}
	return true
}

type condRef struct {
	name string
}

func (c *condRef) eval(counts map[string]int, _ []string) bool {
	return counts[c.name] > 0
}

type condAnyOf struct {
	names []string // empty means "them"
}

func (c *condAnyOf) eval(counts map[string]int, all []string) bool {
	names := c.names
	if len(names) == 0 {
		names = all
	}
	for _, n := range names {
		if counts[n] > 0 {
			return true
		}
	}
	return false
}

type condAllOf struct {
	names []string
}

func (c *condAllOf) eval(counts map[string]int, all []string) bool {
	names := c.names
	if len(names) == 0 {
		names = all
	}
	for _, n := range names {
		if counts[n] == 0 {
			return false
		}
	}
	return len(names) > 0
}

type condCount struct {
	name string
	op   string
	n    int
}

func (c *condCount) eval(counts map[string]int, _ []string) bool {
	v := counts[c.name]
	switch c.op {
	case ">=":
		return v >= c.n
	case ">":
		return v > c.n
	case "==":
		return v == c.n
	case "<=":
		return v <= c.n
	case "<":
		return v < c.n
	}
	return false
}

// parseCondition compiles a condition string. known lists the rule's
// string names; references to unknown names are load errors.
func parseCondition(input string, known []string) (condExpr, error) {
	p := &condParser{tokens: tokenizeCondition(input), known: known}
	expr, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, errors.Errorf("unexpected token %q", p.peek())
	}
	return expr, nil
}

func tokenizeCondition(input string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	runes := []rune(input)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		case r == '(' || r == ')' || r == ',':
			flush()
			tokens = append(tokens, string(r))
		case r == '>' || r == '<' || r == '=':
			flush()
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, string(r)+"=")
				i++
			} else {
				tokens = append(tokens, string(r))
			}
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

type condParser struct {
	tokens []string
	pos    int
	known  []string
}

func (p *condParser) done() bool { return p.pos >= len(p.tokens) }

func (p *condParser) peek() string {
	if p.done() {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *condParser) next() string {
	tok := p.peek()
	p.pos++
	return tok
}

func (p *condParser) expect(tok string) error {
	if got := p.next(); got != tok {
		return errors.Errorf("expected %q, got %q", tok, got)
	}
	return nil
}

func (p *condParser) parseAnd() (condExpr, error) {
	first, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	terms := []condExpr{first}
	for p.peek() == "and" {
		p.next()
		term, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return &condAnd{terms: terms}, nil
}

func (p *condParser) parseTerm() (condExpr, error) {
	switch tok := p.peek(); {
	case tok == "any" || tok == "all":
		p.next()
		if err := p.expect("of"); err != nil {
			return nil, err
		}
		names, err := p.parseGroup()
		if err != nil {
			return nil, err
		}
		if tok == "any" {
			return &condAnyOf{names: names}, nil
		}
		return &condAllOf{names: names}, nil
	case tok == "(":
		p.next()
		expr, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return expr, nil
	case strings.HasPrefix(tok, "#"):
		p.next()
		name := strings.TrimPrefix(tok, "#")
		if err := p.checkName(name); err != nil {
			return nil, err
		}
		op := p.next()
		switch op {
		case ">=", ">", "==", "<=", "<":
		default:
			return nil, errors.Errorf("expected comparison operator, got %q", op)
		}
		numTok := p.next()
		n, err := strconv.Atoi(numTok)
		if err != nil {
			return nil, errors.Errorf("expected integer, got %q", numTok)
		}
		return &condCount{name: name, op: op, n: n}, nil
	case strings.HasPrefix(tok, "$"):
		p.next()
		name := strings.TrimPrefix(tok, "$")
		if err := p.checkName(name); err != nil {
			return nil, err
		}
		return &condRef{name: name}, nil
	default:
		return nil, errors.Errorf("unexpected token %q", tok)
	}
}

// parseGroup parses "them" or "($a, $b, ...)". An empty name list
// means "them" (all of the rule's strings).
func (p *condParser) parseGroup() ([]string, error) {
	if p.peek() == "them" {
		p.next()
		return nil, nil
	}
	if err := p.expect("("); err != nil {
		return nil, err
	}
	var names []string
	for {
		tok := p.next()
		if !strings.HasPrefix(tok, "$") {
			return nil, errors.Errorf("expected string reference, got %q", tok)
		}
		name := strings.TrimPrefix(tok, "$")
		if err := p.checkName(name); err != nil {
			return nil, err
		}
		names = append(names, name)
		switch sep := p.next(); sep {
		case ",":
		case ")":
			return names, nil
		default:
			return nil, errors.Errorf("expected ',' or ')', got %q", sep)
		}
	}
}

func (p *condParser) checkName(name string) error {
	if name == "" {
		return errors.New("empty string reference")
	}
	for _, k := range p.known {
		if k == name {
			return nil
		}
	}
	return fmt.Errorf("condition references undefined string $%s", name)
}
