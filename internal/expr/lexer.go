package expr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokKind uint8

const (
	tokEOF tokKind = iota
	tokIdent
	tokQuotedIdent
	tokInt
	tokFloat
	tokString
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokDot
)

type token struct {
	kind tokKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of input"
	}
	return fmt.Sprintf("%q", t.text)
}

// keyword tests an unquoted identifier case-insensitively.
func (t token) keyword(kw string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

const opChars = "+-*/%<>=!|:"

func lex(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	i := 0
	for i < len(rs) {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case r == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++
		case r == '.' && (i+1 >= len(rs) || !unicode.IsDigit(rs[i+1])):
			toks = append(toks, token{tokDot, ".", i})
			i++
		case r == '\'':
			// '' inside a literal is an escaped quote
			start := i
			var sb strings.Builder
			i++
			for {
				if i >= len(rs) {
					return nil, fmt.Errorf("%w: unterminated string literal at %d", ErrSyntax, start)
				}
				if rs[i] == '\'' {
					if i+1 < len(rs) && rs[i+1] == '\'' {
						sb.WriteRune('\'')
						i += 2
						continue
					}
					i++
					break
				}
				sb.WriteRune(rs[i])
				i++
			}
			toks = append(toks, token{tokString, sb.String(), start})
		case r == '"':
			start := i
			j := i + 1
			for j < len(rs) && rs[j] != '"' {
				j++
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("%w: unterminated quoted identifier at %d", ErrSyntax, start)
			}
			toks = append(toks, token{tokQuotedIdent, string(rs[i+1 : j]), start})
			i = j + 1
		case unicode.IsDigit(r) || r == '.':
			start := i
			kind := tokInt
			for i < len(rs) && (unicode.IsDigit(rs[i]) || rs[i] == '.') {
				if rs[i] == '.' {
					if kind == tokFloat {
						return nil, fmt.Errorf("%w: bad number at %d", ErrSyntax, start)
					}
					kind = tokFloat
				}
				i++
			}
			if i < len(rs) && (rs[i] == 'e' || rs[i] == 'E') {
				kind = tokFloat
				i++
				if i < len(rs) && (rs[i] == '+' || rs[i] == '-') {
					i++
				}
				for i < len(rs) && unicode.IsDigit(rs[i]) {
					i++
				}
			}
			toks = append(toks, token{kind, string(rs[start:i]), start})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(rs) && (unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i]) || rs[i] == '_') {
				i++
			}
			toks = append(toks, token{tokIdent, string(rs[start:i]), start})
		case strings.ContainsRune(opChars, r):
			start := i
			for i < len(rs) && strings.ContainsRune(opChars, rs[i]) {
				i++
			}
			op := string(rs[start:i])
			// "a=-1": split a trailing sign off a comparison operator
			if len(op) > 1 && (strings.HasSuffix(op, "-") || strings.HasSuffix(op, "+")) && op != "||" {
				i--
				op = op[:len(op)-1]
			}
			toks = append(toks, token{tokOp, op, start})
		default:
			return nil, fmt.Errorf("%w: unexpected character %q at %d", ErrSyntax, r, i)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(rs)})
	return toks, nil
}
