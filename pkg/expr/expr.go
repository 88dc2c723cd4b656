// Package expr parses and evaluates the scaling equations attached to XDF items.
//
// An equation maps a raw stored value (the variable X) to a physical value.
// The grammar is small: numbers, identifiers, + - * / ^ with the usual
// precedence, unary signs and parentheses (square brackets are accepted as
// parentheses, some definitions use them).
package expr

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// RawVar is the name every equation uses for the raw element value.
const RawVar = "X"

var (
	ErrSyntax          = errors.New("expr: syntax error")
	ErrEvaluation      = errors.New("expr: evaluation error")
	ErrNotInvertible   = errors.New("expr: not invertible")
	ErrUnboundVariable = errors.New("expr: unbound variable")
)

type nodeKind int

const (
	nodeNum nodeKind = iota
	nodeVar
	nodeNeg
	nodeBinary
)

type node struct {
	kind  nodeKind
	op    byte
	val   float64
	name  string
	left  *node
	right *node
}

// Expr is a parsed equation. It is immutable and safe for concurrent use.
type Expr struct {
	src  string
	root *node
	// occurrences of RawVar in the tree
	rawCount int
}

// Identity returns the equation X.
func Identity() *Expr {
	return &Expr{src: RawVar, root: &node{kind: nodeVar, name: RawVar}, rawCount: 1}
}

// Parse compiles src. An empty or blank source yields the identity equation.
func Parse(src string) (*Expr, error) {
	return ParseAs(src, RawVar)
}

// ParseAs compiles src treating the identifier raw as the raw value, so
// equations written over another variable name evaluate like X.
func ParseAs(src, raw string) (*Expr, error) {
	if strings.TrimSpace(src) == "" {
		return Identity(), nil
	}
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	if raw = strings.ToUpper(strings.TrimSpace(raw)); raw != "" && raw != RawVar {
		for i := range toks {
			if toks[i].kind == tokIdent && toks[i].text == raw {
				toks[i].text = RawVar
			}
		}
	}
	p := &parser{toks: toks}
	root, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, fmt.Errorf("%w: unexpected %q at position %d", ErrSyntax, p.peek().text, p.peek().pos)
	}
	return &Expr{src: src, root: root, rawCount: countVar(root, RawVar)}, nil
}

// MustParse is Parse for equations known at compile time.
func MustParse(src string) *Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Expr) String() string { return e.src }

// Vars lists the distinct identifiers referenced by the equation, RawVar included.
func (e *Expr) Vars() []string {
	seen := map[string]bool{}
	var out []string
	var walk func(n *node)
	walk = func(n *node) {
		if n == nil {
			return
		}
		if n.kind == nodeVar && !seen[n.name] {
			seen[n.name] = true
			out = append(out, n.name)
		}
		walk(n.left)
		walk(n.right)
	}
	walk(e.root)
	return out
}

// Forward evaluates the equation with X bound to raw. Additional bindings in
// vars are looked up case-insensitively.
func (e *Expr) Forward(raw float64, vars map[string]float64) (float64, error) {
	return e.eval(e.root, raw, vars)
}

// Eval evaluates the equation with every variable, X included, taken from vars.
func (e *Expr) Eval(vars map[string]float64) (float64, error) {
	x, ok := lookup(vars, RawVar)
	if !ok && e.rawCount > 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnboundVariable, RawVar)
	}
	return e.eval(e.root, x, vars)
}

func (e *Expr) eval(n *node, raw float64, vars map[string]float64) (float64, error) {
	switch n.kind {
	case nodeNum:
		return n.val, nil
	case nodeVar:
		if n.name == RawVar {
			return raw, nil
		}
		v, ok := lookup(vars, n.name)
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnboundVariable, n.name)
		}
		return v, nil
	case nodeNeg:
		v, err := e.eval(n.left, raw, vars)
		if err != nil {
			return 0, err
		}
		return -v, nil
	case nodeBinary:
		a, err := e.eval(n.left, raw, vars)
		if err != nil {
			return 0, err
		}
		b, err := e.eval(n.right, raw, vars)
		if err != nil {
			return 0, err
		}
		return apply(n.op, a, b)
	}
	return 0, fmt.Errorf("%w: corrupt expression tree", ErrEvaluation)
}

func apply(op byte, a, b float64) (float64, error) {
	var r float64
	switch op {
	case '+':
		r = a + b
	case '-':
		r = a - b
	case '*':
		r = a * b
	case '/':
		if b == 0 {
			return 0, fmt.Errorf("%w: division by zero", ErrEvaluation)
		}
		r = a / b
	case '^':
		if a < 0 && b != math.Trunc(b) {
			return 0, fmt.Errorf("%w: fractional power of negative base %g", ErrEvaluation, a)
		}
		if a == 0 && b < 0 {
			return 0, fmt.Errorf("%w: zero raised to negative power", ErrEvaluation)
		}
		r = math.Pow(a, b)
	default:
		return 0, fmt.Errorf("%w: unknown operator %q", ErrEvaluation, op)
	}
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, fmt.Errorf("%w: result out of domain (%g %c %g)", ErrEvaluation, a, op, b)
	}
	return r, nil
}

func lookup(vars map[string]float64, name string) (float64, bool) {
	if v, ok := vars[name]; ok {
		return v, true
	}
	for k, v := range vars {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return 0, false
}

func countVar(n *node, name string) int {
	if n == nil {
		return 0
	}
	c := 0
	if n.kind == nodeVar && n.name == name {
		c = 1
	}
	return c + countVar(n.left, name) + countVar(n.right, name)
}
