package tune

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tosih/xdftune/pkg/binimage"
	"github.com/tosih/xdftune/pkg/layout"
	"github.com/tosih/xdftune/pkg/xdf"
)

// Value is a decoded physical value.
type Value struct {
	Value    float64
	Raw      float64
	Units    string
	Decimals int
	// State is the flag state name, empty for constants.
	State string
}

// Format renders the value with its declared precision.
func (v Value) Format() string {
	if v.State != "" {
		return v.State
	}
	return strconv.FormatFloat(v.Value, 'f', max(v.Decimals, 0), 64)
}

func (v Value) String() string {
	if v.Units == "" || v.State != "" {
		return v.Format()
	}
	return v.Format() + " " + v.Units
}

// Grid is a decoded table with its axes.
type Grid struct {
	ID       string
	Title    string
	Rows     int
	Cols     int
	Units    string
	Decimals int
	X        AxisValues
	Y        AxisValues
	// Values and Raw are indexed [row][col].
	Values [][]float64
	Raw    [][]float64
}

// AxisValues are the breakpoints of one table axis.
type AxisValues struct {
	ID       string
	Units    string
	Decimals int
	Source   xdf.AxisSource
	Values   []float64
	// Labels is set for label axes and keeps non-numeric labels.
	Labels []string
}

// Format renders breakpoint i.
func (a AxisValues) Format(i int) string {
	if a.Source == xdf.AxisLabels && i < len(a.Labels) {
		return a.Labels[i]
	}
	if i >= len(a.Values) {
		return ""
	}
	return strconv.FormatFloat(a.Values[i], 'f', max(a.Decimals, 0), 64)
}

func (s *Session) table(key string) (*xdf.Table, error) {
	it, err := s.Find(key)
	if err != nil {
		return nil, err
	}
	t, ok := it.(*xdf.Table)
	if !ok {
		return nil, fmt.Errorf("%w: %s is a %s, not a table", ErrWrongKind, it.Meta().ID, it.Kind())
	}
	return t, nil
}

func (s *Session) locate(it xdf.Item, part layout.Part) (layout.Location, error) {
	loc, ok := s.layout.Lookup(it.Meta().ID, part)
	if !ok {
		return loc, &ItemError{ItemID: it.Meta().ID, Err: fmt.Errorf("%w: %s has no %s location", ErrUnresolvedItem, it.Meta().ID, part)}
	}
	return loc, nil
}

// Read decodes a constant or flag.
func (s *Session) Read(key string) (Value, error) {
	it, err := s.Find(key)
	if err != nil {
		return Value{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(it, nil)
}

func (s *Session) read(it xdf.Item, seen map[string]bool) (Value, error) {
	switch v := it.(type) {
	case *xdf.Constant:
		loc, err := s.locate(v, layout.PartValue)
		if err != nil {
			return Value{}, err
		}
		raw, err := s.img.Value(loc.Offset, loc.Element)
		if err != nil {
			return Value{}, &ItemError{ItemID: v.Meta().ID, Err: err}
		}
		phys, err := s.forward(v, v.Math, raw, seen)
		if err != nil {
			return Value{}, err
		}
		return Value{Value: phys, Raw: raw, Units: v.Units, Decimals: v.Decimals}, nil
	case *xdf.Flag:
		loc, err := s.locate(v, layout.PartValue)
		if err != nil {
			return Value{}, err
		}
		bits, err := s.img.Bits(loc.Offset, loc.Element, loc.BitOffset, loc.BitWidth)
		if err != nil {
			return Value{}, &ItemError{ItemID: v.Meta().ID, Err: err}
		}
		return Value{Value: float64(bits), Raw: float64(bits), State: v.StateName(bits)}, nil
	case *xdf.Table:
		return Value{}, fmt.Errorf("%w: %s is a table, read cells instead", ErrWrongKind, v.Meta().ID)
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrWrongKind, it)
	}
}

// forward applies m to raw, resolving bound variables first.
func (s *Session) forward(it xdf.Item, m xdf.Math, raw float64, seen map[string]bool) (float64, error) {
	vars, err := s.vars(it, m, seen)
	if err != nil {
		return 0, err
	}
	phys, err := m.Expr.Forward(raw, vars)
	if err != nil {
		return 0, &ItemError{ItemID: it.Meta().ID, Err: err}
	}
	return phys, nil
}

// vars evaluates the non-raw variables of m. Linked constants are read
// through their own scaling; seen guards against cycles.
func (s *Session) vars(it xdf.Item, m xdf.Math, seen map[string]bool) (map[string]float64, error) {
	bound := m.Bound()
	if len(bound) == 0 {
		return nil, nil
	}
	id := it.Meta().ID
	if seen == nil {
		seen = map[string]bool{}
	}
	if seen[id] {
		return nil, &ItemError{ItemID: id, Err: ErrLinkCycle}
	}
	seen[id] = true
	defer delete(seen, id)

	out := make(map[string]float64, len(bound))
	for _, v := range bound {
		switch v.Kind {
		case xdf.VarLink:
			target, ok := s.def.Lookup(v.LinkID)
			if !ok {
				return nil, &ItemError{ItemID: id, Err: fmt.Errorf("%w: linked %s", ErrUnknownItem, v.LinkID)}
			}
			val, err := s.read(target, seen)
			if err != nil {
				return nil, err
			}
			out[v.ID] = val.Value
		case xdf.VarAddress:
			el := binimage.Element{
				Size:   v.Address.ElementBits / 8,
				Order:  v.Address.Order(),
				Signed: v.Address.Signed(),
			}
			off := s.layout.FileOffset(v.Address.Address)
			raw, err := s.img.Value(int(off), el)
			if err != nil {
				return nil, &ItemError{ItemID: id, Err: fmt.Errorf("variable %s: %w", v.ID, err)}
			}
			out[v.ID] = raw
		}
	}
	return out, nil
}

// ReadCell decodes one table cell.
func (s *Session) ReadCell(key string, row, col int) (float64, error) {
	t, err := s.table(key)
	if err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	loc, err := s.locate(t, layout.PartValue)
	if err != nil {
		return 0, err
	}
	if !loc.Contains(row, col) {
		return 0, &ItemError{ItemID: t.Meta().ID, Part: "z", Row: row, Col: col,
			Err: fmt.Errorf("%w: cell outside %dx%d", ErrOutOfBounds, loc.Rows, loc.Cols)}
	}
	raw, err := s.img.Value(loc.ElementOffset(row, col), loc.Element)
	if err != nil {
		return 0, &ItemError{ItemID: t.Meta().ID, Part: "z", Row: row, Col: col, Err: err}
	}
	return s.forward(t, t.Z.Math, raw, nil)
}

// ReadTable decodes a whole table and both axes.
func (s *Session) ReadTable(key string) (Grid, error) {
	t, err := s.table(key)
	if err != nil {
		return Grid{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	loc, err := s.locate(t, layout.PartValue)
	if err != nil {
		return Grid{}, err
	}
	vars, err := s.vars(t, t.Z.Math, nil)
	if err != nil {
		return Grid{}, err
	}

	g := Grid{
		ID:       t.Meta().ID,
		Title:    t.Meta().Title,
		Rows:     loc.Rows,
		Cols:     loc.Cols,
		Units:    t.Z.Units,
		Decimals: t.Z.Decimals,
		Values:   make([][]float64, loc.Rows),
		Raw:      make([][]float64, loc.Rows),
	}
	for r := 0; r < loc.Rows; r++ {
		g.Values[r] = make([]float64, loc.Cols)
		g.Raw[r] = make([]float64, loc.Cols)
		for c := 0; c < loc.Cols; c++ {
			raw, err := s.img.Value(loc.ElementOffset(r, c), loc.Element)
			if err != nil {
				return Grid{}, &ItemError{ItemID: g.ID, Part: "z", Row: r, Col: c, Err: err}
			}
			phys, err := t.Z.Math.Expr.Forward(raw, vars)
			if err != nil {
				return Grid{}, &ItemError{ItemID: g.ID, Part: "z", Row: r, Col: c, Err: err}
			}
			g.Raw[r][c], g.Values[r][c] = raw, phys
		}
	}

	if g.X, err = s.axisValues(t, &t.X, loc.Cols); err != nil {
		return Grid{}, err
	}
	if g.Y, err = s.axisValues(t, &t.Y, loc.Rows); err != nil {
		return Grid{}, err
	}
	return g, nil
}

// AxisValues decodes the breakpoints of axis "x" or "y".
func (s *Session) AxisValues(key, axis string) (AxisValues, error) {
	t, err := s.table(key)
	if err != nil {
		return AxisValues{}, err
	}
	ax, n, err := s.tableAxis(t, axis)
	if err != nil {
		return AxisValues{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.axisValues(t, ax, n)
}

func (s *Session) tableAxis(t *xdf.Table, axis string) (*xdf.Axis, int, error) {
	switch strings.ToLower(axis) {
	case "x":
		return &t.X, t.Cols(), nil
	case "y":
		return &t.Y, t.Rows(), nil
	}
	return nil, 0, fmt.Errorf("%w: %s has no axis %q, want x or y", ErrWrongKind, t.Meta().ID, axis)
}

func (s *Session) axisValues(t *xdf.Table, ax *xdf.Axis, n int) (AxisValues, error) {
	out := AxisValues{
		ID:       ax.ID,
		Units:    ax.Units,
		Decimals: ax.Decimals,
		Source:   ax.Source,
		Values:   make([]float64, n),
	}
	switch ax.Source {
	case xdf.AxisLabels:
		out.Labels = make([]string, n)
		for i := range out.Values {
			out.Values[i] = float64(i)
			out.Labels[i] = strconv.Itoa(i)
			if i < len(ax.Labels) {
				out.Values[i] = ax.Labels[i]
				out.Labels[i] = ax.TextLabels[i]
			}
		}
	case xdf.AxisEmbedded, xdf.AxisLinked:
		loc, err := s.locate(t, layout.Part(ax.ID))
		if err != nil {
			return out, err
		}
		vars, err := s.vars(t, ax.Math, nil)
		if err != nil {
			return out, err
		}
		for i := range out.Values {
			if i >= loc.Count() {
				break
			}
			raw, err := s.img.Value(loc.Index(i), loc.Element)
			if err != nil {
				return out, &ItemError{ItemID: t.Meta().ID, Part: ax.ID, Col: i, Err: err}
			}
			if out.Values[i], err = ax.Math.Expr.Forward(raw, vars); err != nil {
				return out, &ItemError{ItemID: t.Meta().ID, Part: ax.ID, Col: i, Err: err}
			}
		}
	default:
		for i := range out.Values {
			out.Values[i] = float64(i)
		}
	}
	return out, nil
}
