package guard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jmespath/go-jmespath"
)

const maxDepth = 32

type source int

const (
	sourceAny source = iota
	sourceContext
	sourceEntity
)

type node interface{}

type literalNode struct {
	value any
	null  bool
}

type pathNode struct {
	source source
	text   string
	query  *jmespath.JMESPath
}

type listNode struct {
	items []node
}

type notNode struct {
	operand node
}

type logicalNode struct {
	op          string
	left, right node
}

type compareNode struct {
	op          string
	left, right node
}

type inNode struct {
	left, right node
}

type parser struct {
	tokens []token
	pos    int
	depth  int
}

func parse(src string) (node, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %s", tok)
	}
	return n, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) isOp(op string) bool {
	tok := p.peek()
	return tok.kind == tokOp && tok.text == op
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return fmt.Errorf("expression nested deeper than %d", maxDepth)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isOp("||") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: "||", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("&&") {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: "&&", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.isOp("!") {
		p.next()
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	tok := p.peek()
	switch {
	case tok.kind == tokOp && isComparison(tok.text):
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &compareNode{op: tok.text, left: left, right: right}, nil
	case tok.kind == tokIdent && strings.EqualFold(tok.text, "in"):
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &inNode{left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseOperand() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokLParen:
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, fmt.Errorf("expected ) but found %s", closing)
		}
		return inner, nil
	case tokLBracket:
		return p.parseList()
	case tokNumber:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %s", tok)
		}
		return &literalNode{value: f}, nil
	case tokString:
		return &literalNode{value: tok.text}, nil
	case tokIdent:
		switch strings.ToLower(tok.text) {
		case "true":
			return &literalNode{value: true}, nil
		case "false":
			return &literalNode{value: false}, nil
		case "null", "nil":
			return &literalNode{null: true}, nil
		case "in":
			return nil, fmt.Errorf("unexpected %s", tok)
		}
		return p.parsePath(tok)
	}
	return nil, fmt.Errorf("unexpected %s", tok)
}

func (p *parser) parseList() (node, error) {
	list := &listNode{}
	if p.peek().kind == tokRBracket {
		p.next()
		return list, nil
	}
	for {
		item, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if _, ok := item.(*literalNode); !ok {
			return nil, fmt.Errorf("list items must be literals")
		}
		list.items = append(list.items, item)

		switch tok := p.next(); tok.kind {
		case tokComma:
			continue
		case tokRBracket:
			return list, nil
		default:
			return nil, fmt.Errorf("expected , or ] but found %s", tok)
		}
	}
}

// parsePath turns a dotted/indexed field reference into a compiled jmespath
// query with every segment quoted.
func (p *parser) parsePath(first token) (node, error) {
	segments := []string{first.text}
	var query strings.Builder

	src := sourceAny
	switch first.text {
	case "context":
		src = sourceContext
	case "entity":
		src = sourceEntity
	}
	if src == sourceAny {
		query.WriteString(strconv.Quote(first.text))
	}

walk:
	for {
		switch p.peek().kind {
		case tokDot:
			p.next()
			ident := p.next()
			if ident.kind != tokIdent {
				return nil, fmt.Errorf("expected field name after . but found %s", ident)
			}
			if query.Len() > 0 {
				query.WriteByte('.')
			}
			query.WriteString(strconv.Quote(ident.text))
			segments = append(segments, ident.text)
		case tokLBracket:
			p.next()
			idx := p.next()
			if idx.kind != tokNumber {
				return nil, fmt.Errorf("expected index but found %s", idx)
			}
			n, err := strconv.Atoi(idx.text)
			if err != nil {
				return nil, fmt.Errorf("invalid index %s", idx)
			}
			if closing := p.next(); closing.kind != tokRBracket {
				return nil, fmt.Errorf("expected ] but found %s", closing)
			}
			if query.Len() == 0 {
				query.WriteString("@")
			}
			fmt.Fprintf(&query, "[%d]", n)
			segments = append(segments, fmt.Sprintf("[%d]", n))
		default:
			break walk
		}
	}

	if query.Len() == 0 {
		// bare "context" or "entity" selects the whole bag
		query.WriteString("@")
	}
	compiled, err := jmespath.Compile(query.String())
	if err != nil {
		return nil, fmt.Errorf("invalid field reference %q: %v", strings.Join(segments, "."), err)
	}
	return &pathNode{source: src, text: strings.Join(segments, "."), query: compiled}, nil
}

func isComparison(op string) bool {
	switch op {
	case "==", "!=", "<", "<=", ">", ">=":
		return true
	}
	return false
}
