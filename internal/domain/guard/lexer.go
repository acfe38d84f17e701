package guard

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokOp
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokDot
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of expression"
	}
	return fmt.Sprintf("%q at %d", t.text, t.pos)
}

// keyword operators are normalized to their symbolic form
var wordOps = map[string]string{
	"and": "&&",
	"or":  "||",
	"not": "!",
}

func tokenize(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := rune(src[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
		case c == ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
		case c == '[':
			tokens = append(tokens, token{tokLBracket, "[", i})
			i++
		case c == ']':
			tokens = append(tokens, token{tokRBracket, "]", i})
			i++
		case c == ',':
			tokens = append(tokens, token{tokComma, ",", i})
			i++
		case c == '.' && !(i+1 < len(src) && isDigit(src[i+1])):
			tokens = append(tokens, token{tokDot, ".", i})
			i++
		case c == '\'' || c == '"':
			s, next, err := scanString(src, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tokString, s, i})
			i = next
		case isDigit(src[i]) || c == '.' || (c == '-' && i+1 < len(src) && (isDigit(src[i+1]) || src[i+1] == '.')):
			start := i
			i++
			for i < len(src) && (isDigit(src[i]) || src[i] == '.' || src[i] == 'e' || src[i] == 'E' ||
				((src[i] == '-' || src[i] == '+') && (src[i-1] == 'e' || src[i-1] == 'E'))) {
				i++
			}
			tokens = append(tokens, token{tokNumber, src[start:i], start})
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(rune(src[i])) {
				i++
			}
			word := src[start:i]
			if op, ok := wordOps[strings.ToLower(word)]; ok {
				tokens = append(tokens, token{tokOp, op, start})
				continue
			}
			tokens = append(tokens, token{tokIdent, word, start})
		default:
			op, width := scanOperator(src, i)
			if width == 0 {
				return nil, fmt.Errorf("unexpected character %q at %d", c, i)
			}
			tokens = append(tokens, token{tokOp, op, i})
			i += width
		}
	}
	return append(tokens, token{kind: tokEOF, pos: len(src)}), nil
}

func scanString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	for i := start + 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			if i+1 >= len(src) {
				return "", 0, fmt.Errorf("unterminated string at %d", start)
			}
			i++
			b.WriteByte(src[i])
		case quote:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(src[i])
		}
	}
	return "", 0, fmt.Errorf("unterminated string at %d", start)
}

func scanOperator(src string, i int) (string, int) {
	if i+1 < len(src) {
		switch two := src[i : i+2]; two {
		case "==", "!=", "<=", ">=", "&&", "||":
			return two, 2
		}
	}
	switch src[i] {
	case '<', '>', '!':
		return src[i : i+1], 1
	case '=':
		// a lone "=" is accepted as equality
		return "==", 1
	}
	return "", 0
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isIdentStart(c rune) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c rune) bool { return isIdentStart(c) || (c >= '0' && c <= '9') }
