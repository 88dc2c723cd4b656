package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokKind int

const (
	tokNum tokKind = iota
	tokIdent
	tokOp
	tokOpen
	tokClose
	tokEOF
)

type token struct {
	kind tokKind
	text string
	val  float64
	pos  int
}

func tokenize(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	for i := 0; i < len(rs); {
		c := rs[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(' || c == '[':
			toks = append(toks, token{kind: tokOpen, text: string(c), pos: i})
			i++
		case c == ')' || c == ']':
			toks = append(toks, token{kind: tokClose, text: string(c), pos: i})
			i++
		case strings.ContainsRune("+-*/^", c):
			toks = append(toks, token{kind: tokOp, text: string(c), pos: i})
			i++
		case unicode.IsDigit(c) || c == '.':
			start := i
			if c == '0' && i+1 < len(rs) && (rs[i+1] == 'x' || rs[i+1] == 'X') {
				i += 2
				for i < len(rs) && isHexDigit(rs[i]) {
					i++
				}
				text := string(rs[start:i])
				v, err := strconv.ParseUint(text[2:], 16, 64)
				if err != nil {
					return nil, fmt.Errorf("%w: bad hex literal %q at position %d", ErrSyntax, text, start)
				}
				toks = append(toks, token{kind: tokNum, text: text, val: float64(v), pos: start})
				continue
			}
			for i < len(rs) && (unicode.IsDigit(rs[i]) || rs[i] == '.') {
				i++
			}
			// exponent only when followed by digits, so "2E" stays a product with E
			if i < len(rs) && (rs[i] == 'e' || rs[i] == 'E') {
				j := i + 1
				if j < len(rs) && (rs[j] == '+' || rs[j] == '-') {
					j++
				}
				if j < len(rs) && unicode.IsDigit(rs[j]) {
					for j < len(rs) && unicode.IsDigit(rs[j]) {
						j++
					}
					i = j
				}
			}
			text := string(rs[start:i])
			v, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad number %q at position %d", ErrSyntax, text, start)
			}
			toks = append(toks, token{kind: tokNum, text: text, val: v, pos: start})
		case unicode.IsLetter(c) || c == '_':
			start := i
			for i < len(rs) && (unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i]) || rs[i] == '_') {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: strings.ToUpper(string(rs[start:i])), pos: start})
		default:
			return nil, fmt.Errorf("%w: unexpected character %q at position %d", ErrSyntax, c, i)
		}
	}
	toks = append(toks, token{kind: tokEOF, text: "end of input", pos: len(rs)})
	return toks, nil
}

func isHexDigit(r rune) bool {
	return unicode.IsDigit(r) || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// parser is a precedence-climbing recursive descent parser:
//
//	sum     = product { ("+" | "-") product }
//	product = unary { ("*" | "/") unary }
//	unary   = ("+" | "-") unary | power
//	power   = primary [ "^" unary ]
//	primary = number | ident | "(" sum ")"
type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) done() bool { return p.peek().kind == tokEOF }

func (p *parser) isOp(ops string) bool {
	t := p.peek()
	return t.kind == tokOp && strings.Contains(ops, t.text)
}

func (p *parser) parseSum() (*node, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for p.isOp("+-") {
		op := p.next().text[0]
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = &node{kind: nodeBinary, op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseProduct() (*node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*/") {
		op := p.next().text[0]
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &node{kind: nodeBinary, op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (*node, error) {
	if p.isOp("+-") {
		op := p.next().text[0]
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if op == '+' {
			return operand, nil
		}
		if operand.kind == nodeNum {
			return &node{kind: nodeNum, val: -operand.val}, nil
		}
		return &node{kind: nodeNeg, left: operand}, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (*node, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.isOp("^") {
		p.next()
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &node{kind: nodeBinary, op: '^', left: base, right: exp}, nil
	}
	return base, nil
}

func (p *parser) parsePrimary() (*node, error) {
	t := p.next()
	switch t.kind {
	case tokNum:
		return &node{kind: nodeNum, val: t.val}, nil
	case tokIdent:
		return &node{kind: nodeVar, name: t.text}, nil
	case tokOpen:
		inner, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokClose {
			return nil, fmt.Errorf("%w: expected closing bracket at position %d, got %q", ErrSyntax, c.pos, c.text)
		}
		return inner, nil
	}
	return nil, fmt.Errorf("%w: unexpected %q at position %d", ErrSyntax, t.text, t.pos)
}
