package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// parseIdent validates a bare identifier: a letter or '_' first, then
// letters, digits or '_'.
func parseIdent(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: missing identifier", ErrSyntax)
	}
	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' {
				return "", fmt.Errorf("%w: invalid identifier %q", ErrSyntax, s)
			}
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return "", fmt.Errorf("%w: invalid identifier %q", ErrSyntax, s)
		}
	}
	return strings.ToLower(s), nil
}

// Parse turns expression source text into a raw tree.
func Parse(src string) (*Node, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	n, err := p.expr(0)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected %s at %d", ErrSyntax, t, t.pos)
	}
	return n, nil
}

type parser struct {
	src  string
	toks []token
	i    int
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) expect(kind tokKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, fmt.Errorf("%w: expected %s, got %s at %d", ErrSyntax, what, t, t.pos)
	}
	return t, nil
}

// binding powers, lowest first
const (
	bpOr = 10 + iota*10
	bpAnd
	bpNot
	bpIs
	bpCmp
	bpConcat
	bpAdd
	bpMul
	bpUnary
	bpCast
)

func infixPower(t token) (int, string) {
	switch {
	case t.keyword("or"):
		return bpOr, BoolOr
	case t.keyword("and"):
		return bpAnd, BoolAnd
	case t.keyword("is"):
		return bpIs, "IS"
	case t.kind != tokOp:
		return -1, ""
	}
	switch t.text {
	case "=", "<>", "!=", "<", ">", "<=", ">=":
		return bpCmp, t.text
	case "||":
		return bpConcat, t.text
	case "+", "-":
		return bpAdd, t.text
	case "*", "/", "%":
		return bpMul, t.text
	case "::":
		return bpCast, t.text
	}
	return -1, ""
}

func (p *parser) expr(minBP int) (*Node, error) {
	left, err := p.prefix()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		bp, op := infixPower(t)
		if bp < 0 || bp <= minBP {
			return left, nil
		}
		p.next()

		switch op {
		case "::":
			name, err := p.typeName()
			if err != nil {
				return nil, err
			}
			left = &Node{Kind: KindCast, Name: name, Args: []*Node{left}}
		case "IS":
			neg := false
			if p.peek().keyword("not") {
				p.next()
				neg = true
			}
			if !p.next().keyword("null") {
				return nil, fmt.Errorf("%w: expected NULL after IS at %d", ErrSyntax, t.pos)
			}
			name := "IS NULL"
			if neg {
				name = "IS NOT NULL"
			}
			left = &Node{Kind: KindNullTest, Name: name, Args: []*Node{left}}
		case BoolAnd, BoolOr:
			right, err := p.expr(bp)
			if err != nil {
				return nil, err
			}
			left = &Node{Kind: KindBool, Name: op, Args: []*Node{left, right}}
		default:
			right, err := p.expr(bp)
			if err != nil {
				return nil, err
			}
			if op == "!=" {
				op = "<>"
			}
			left = &Node{Kind: KindOp, Name: op, Args: []*Node{left, right}}
		}
	}
}

func (p *parser) prefix() (*Node, error) {
	t := p.next()
	switch t.kind {
	case tokInt:
		v, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			// too large for int8: keep it as a float literal
			f, ferr := strconv.ParseFloat(t.text, 64)
			if ferr != nil {
				return nil, fmt.Errorf("%w: bad number %q", ErrSyntax, t.text)
			}
			return &Node{Kind: KindConst, Value: f, Name: t.text}, nil
		}
		return &Node{Kind: KindConst, Value: v, Name: t.text}, nil
	case tokFloat:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrSyntax, t.text)
		}
		return &Node{Kind: KindConst, Value: f, Name: t.text}, nil
	case tokString:
		return &Node{Kind: KindConst, Value: t.text, Name: "'"}, nil
	case tokOp:
		switch t.text {
		case "-", "+":
			arg, err := p.expr(bpUnary)
			if err != nil {
				return nil, err
			}
			// fold sign into numeric literals right away
			if arg.Kind == KindConst && t.text == "-" {
				switch v := arg.Value.(type) {
				case int64:
					arg.Value = -v
					return arg, nil
				case float64:
					arg.Value = -v
					return arg, nil
				}
			}
			if t.text == "+" {
				return arg, nil
			}
			return &Node{Kind: KindOp, Name: "-", Args: []*Node{arg}}, nil
		}
	case tokLParen:
		if p.peek().keyword("select") {
			return p.subquery(t)
		}
		n, err := p.expr(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return n, nil
	case tokQuotedIdent:
		return p.columnRef(t.text)
	case tokIdent:
		switch {
		case t.keyword("null"):
			return &Node{Kind: KindConst, IsNull: true}, nil
		case t.keyword("true"):
			return &Node{Kind: KindConst, Value: true}, nil
		case t.keyword("false"):
			return &Node{Kind: KindConst, Value: false}, nil
		case t.keyword("not"):
			arg, err := p.expr(bpNot)
			if err != nil {
				return nil, err
			}
			return &Node{Kind: KindBool, Name: BoolNot, Args: []*Node{arg}}, nil
		case t.keyword("cast"):
			return p.castCall()
		case t.keyword("exists"):
			if _, err := p.expect(tokLParen, "'('"); err != nil {
				return nil, err
			}
			return p.subquery(t)
		}
		name, err := parseIdent(t.text)
		if err != nil {
			return nil, err
		}
		if p.peek().kind == tokLParen {
			p.next()
			return p.funcCall(name)
		}
		return p.columnRef(name)
	}
	return nil, fmt.Errorf("%w: unexpected %s at %d", ErrSyntax, t, t.pos)
}

func (p *parser) columnRef(first string) (*Node, error) {
	names := []string{first}
	for p.peek().kind == tokDot {
		p.next()
		t := p.next()
		switch t.kind {
		case tokIdent:
			id, err := parseIdent(t.text)
			if err != nil {
				return nil, err
			}
			names = append(names, id)
		case tokQuotedIdent:
			names = append(names, t.text)
		default:
			return nil, fmt.Errorf("%w: expected name after '.' at %d", ErrSyntax, t.pos)
		}
	}
	return &Node{Kind: KindColumnRef, Names: names}, nil
}

func (p *parser) funcCall(name string) (*Node, error) {
	n := &Node{Kind: KindFunc, Name: name}
	if p.peek().kind == tokRParen {
		p.next()
		return n, nil
	}
	if t := p.peek(); t.kind == tokOp && t.text == "*" {
		p.next()
		n.Star = true
		_, err := p.expect(tokRParen, "')'")
		return n, err
	}
	for {
		arg, err := p.expr(0)
		if err != nil {
			return nil, err
		}
		n.Args = append(n.Args, arg)
		t := p.next()
		if t.kind == tokRParen {
			return n, nil
		}
		if t.kind != tokComma {
			return nil, fmt.Errorf("%w: expected ',' or ')' in call to %s at %d", ErrSyntax, name, t.pos)
		}
	}
}

func (p *parser) castCall() (*Node, error) {
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	arg, err := p.expr(0)
	if err != nil {
		return nil, err
	}
	if !p.next().keyword("as") {
		return nil, fmt.Errorf("%w: expected AS in CAST", ErrSyntax)
	}
	name, err := p.typeName()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return &Node{Kind: KindCast, Name: name, Args: []*Node{arg}}, nil
}

// typeName reads a possibly multi-word type name ("double precision").
func (p *parser) typeName() (string, error) {
	t, err := p.expect(tokIdent, "type name")
	if err != nil {
		return "", err
	}
	name := strings.ToLower(t.text)
	if name == "double" && p.peek().keyword("precision") {
		p.next()
	}
	if name == "character" && p.peek().keyword("varying") {
		p.next()
		name = "varchar"
	}
	return name, nil
}

// subquery swallows a parenthesized SELECT; open is the '(' already consumed.
// Only its presence matters, so the text is kept verbatim.
func (p *parser) subquery(open token) (*Node, error) {
	depth := 1
	start := p.peek().pos
	for depth > 0 {
		t := p.next()
		switch t.kind {
		case tokEOF:
			return nil, fmt.Errorf("%w: unterminated subquery at %d", ErrSyntax, open.pos)
		case tokLParen:
			depth++
		case tokRParen:
			depth--
			if depth == 0 {
				text := strings.TrimSpace(string([]rune(p.src)[start:t.pos]))
				return &Node{Kind: KindSubLink, Name: text}, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: unterminated subquery", ErrSyntax)
}
