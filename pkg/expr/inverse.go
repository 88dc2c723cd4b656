package expr

import (
	"fmt"
	"math"
)

const (
	// bisection budget for equations without a closed-form inverse
	maxIterations = 200
	scanSegments  = 64
	tolerance     = 1e-9
)

// Invertible reports whether the equation has a closed-form inverse: X occurs
// exactly once. Degenerate constants (multiplying by zero and similar) are
// detected at inversion time.
func (e *Expr) Invertible() bool {
	return e.rawCount == 1
}

// Inverse finds the raw value x in [lo, hi] with Forward(x) == y. The closed
// form is used when it exists and checks out; otherwise the interval is
// scanned for a sign change and bisected.
func (e *Expr) Inverse(y float64, vars map[string]float64, lo, hi float64) (float64, error) {
	if e.rawCount == 0 {
		return 0, fmt.Errorf("%w: %q does not reference %s", ErrNotInvertible, e.src, RawVar)
	}
	if e.Invertible() {
		if x, err := e.invertClosed(y, vars); err == nil && e.verify(x, y, vars) {
			return x, nil
		}
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	return e.invertNumeric(y, vars, lo, hi)
}

func (e *Expr) verify(x, y float64, vars map[string]float64) bool {
	got, err := e.Forward(x, vars)
	if err != nil {
		return false
	}
	return math.Abs(got-y) <= 1e-6*(1+math.Abs(y))
}

// invertClosed peels operations off the path from the root down to X,
// applying each inverse to y.
func (e *Expr) invertClosed(y float64, vars map[string]float64) (float64, error) {
	n := e.root
	for n.kind != nodeVar {
		switch n.kind {
		case nodeNeg:
			y = -y
			n = n.left
		case nodeBinary:
			varLeft := countVar(n.left, RawVar) == 1
			other := n.right
			if !varLeft {
				other = n.left
			}
			c, err := e.eval(other, 0, vars)
			if err != nil {
				return 0, err
			}
			y, err = invertOp(n.op, varLeft, y, c)
			if err != nil {
				return 0, err
			}
			if varLeft {
				n = n.left
			} else {
				n = n.right
			}
		default:
			return 0, fmt.Errorf("%w: constant subtree", ErrNotInvertible)
		}
	}
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return 0, fmt.Errorf("%w: inverse out of domain", ErrNotInvertible)
	}
	return y, nil
}

// invertOp solves y = a op b for the operand holding X, c being the other one.
func invertOp(op byte, varLeft bool, y, c float64) (float64, error) {
	switch op {
	case '+':
		return y - c, nil
	case '-':
		if varLeft {
			return y + c, nil
		}
		return c - y, nil
	case '*':
		if c == 0 {
			return 0, fmt.Errorf("%w: multiplication by zero", ErrNotInvertible)
		}
		return y / c, nil
	case '/':
		if varLeft {
			return y * c, nil
		}
		if y == 0 {
			return 0, fmt.Errorf("%w: %g / x never reaches zero", ErrNotInvertible, c)
		}
		return c / y, nil
	case '^':
		if varLeft {
			if c == 0 {
				return 0, fmt.Errorf("%w: zero exponent", ErrNotInvertible)
			}
			if y < 0 {
				// only odd integer powers reach negative values
				if c != math.Trunc(c) || math.Mod(c, 2) == 0 {
					return 0, fmt.Errorf("%w: negative value under even power", ErrNotInvertible)
				}
				return -math.Pow(-y, 1/c), nil
			}
			return math.Pow(y, 1/c), nil
		}
		if c <= 0 || c == 1 || y <= 0 {
			return 0, fmt.Errorf("%w: logarithm out of domain", ErrNotInvertible)
		}
		return math.Log(y) / math.Log(c), nil
	}
	return 0, fmt.Errorf("%w: operator %q", ErrNotInvertible, op)
}

func (e *Expr) invertNumeric(y float64, vars map[string]float64, lo, hi float64) (float64, error) {
	g := func(x float64) (float64, bool) {
		v, err := e.Forward(x, vars)
		if err != nil {
			return 0, false
		}
		return v - y, true
	}

	step := (hi - lo) / scanSegments
	prevX := lo
	prevG, prevOK := g(lo)
	if prevOK && prevG == 0 {
		return lo, nil
	}
	for i := 1; i <= scanSegments; i++ {
		x := lo + float64(i)*step
		if i == scanSegments {
			x = hi
		}
		gx, ok := g(x)
		if ok && gx == 0 {
			return x, nil
		}
		if ok && prevOK && math.Signbit(gx) != math.Signbit(prevG) {
			if root, ok := e.bisect(g, prevX, x, prevG); ok {
				return root, nil
			}
		}
		prevX, prevG, prevOK = x, gx, ok
	}
	return 0, fmt.Errorf("%w: no solution for %g in [%g, %g] for %q", ErrNotInvertible, y, lo, hi, e.src)
}

func (e *Expr) bisect(g func(float64) (float64, bool), a, b, ga float64) (float64, bool) {
	for i := 0; i < maxIterations; i++ {
		mid := a + (b-a)/2
		gm, ok := g(mid)
		if !ok {
			return 0, false
		}
		if gm == 0 || (b-a)/2 <= tolerance*(1+math.Abs(mid)) {
			return mid, true
		}
		if math.Signbit(gm) == math.Signbit(ga) {
			a, ga = mid, gm
		} else {
			b = mid
		}
	}
	return 0, false
}
