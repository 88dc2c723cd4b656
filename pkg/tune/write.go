package tune

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/tosih/xdftune/pkg/expr"
	"github.com/tosih/xdftune/pkg/journal"
	"github.com/tosih/xdftune/pkg/layout"
	"github.com/tosih/xdftune/pkg/xdf"
)

var now = time.Now

// cell is one element about to be written.
type cell struct {
	off    int
	row    int
	col    int
	raw    float64
	change bool
}

// field is what an encoder needs to know about the target elements.
type field struct {
	it   xdf.Item
	part string
	loc  layout.Location
	math xdf.Math
	rng  xdf.Range
	vars map[string]float64
}

func (s *Session) field(it xdf.Item, part layout.Part, m xdf.Math, rng xdf.Range) (*field, error) {
	loc, err := s.locate(it, part)
	if err != nil {
		return nil, err
	}
	vars, err := s.vars(it, m, nil)
	if err != nil {
		return nil, err
	}
	return &field{it: it, part: string(part), loc: loc, math: m, rng: rng, vars: vars}, nil
}

func (f *field) fail(row, col int, err error) error {
	return &ItemError{ItemID: f.it.Meta().ID, Part: f.part, Row: row, Col: col, Err: err}
}

// encode turns physical value v into the raw value for the element at off.
// A value that maps onto the raw value already stored is accepted as is, so
// writing back what was read never fails.
func (s *Session) encode(f *field, off, row, col int, v float64) (cell, error) {
	c := cell{off: off, row: row, col: col}
	current, err := s.img.Value(off, f.loc.Element)
	if err != nil {
		return c, f.fail(row, col, err)
	}

	raw, invErr := s.inverse(f, v)
	if invErr == nil && raw == current {
		c.raw = current
		return c, nil
	}

	if !f.rng.Contains(v) {
		if s.opts.RangePolicy != RangeClamp {
			return c, f.fail(row, col, fmt.Errorf("%w: %g outside [%g, %g]", ErrValueOutOfRange, v, f.rng.Low, f.rng.High))
		}
		v = math.Max(f.rng.Low, math.Min(f.rng.High, v))
		raw, invErr = s.inverse(f, v)
	}
	if invErr != nil {
		if errors.Is(invErr, expr.ErrNotInvertible) && s.opts.RangePolicy == RangeClamp {
			raw, invErr = s.clampUnreachable(f, v)
		}
		if invErr != nil {
			return c, f.fail(row, col, invErr)
		}
	}

	lo, hi := f.loc.Element.Range()
	if raw < lo || raw > hi {
		if s.opts.RangePolicy != RangeClamp {
			return c, f.fail(row, col, fmt.Errorf("%w: %g needs raw %g, %s holds [%g, %g]",
				ErrValueOutOfRange, v, raw, f.loc.Element, lo, hi))
		}
		raw = math.Max(lo, math.Min(hi, raw))
	}

	c.raw, c.change = raw, raw != current
	return c, nil
}

func (s *Session) inverse(f *field, v float64) (float64, error) {
	lo, hi := f.loc.Element.Range()
	raw, err := f.math.Expr.Inverse(v, f.vars, lo, hi)
	if err != nil {
		return 0, err
	}
	if !f.loc.Element.Float {
		raw = math.Round(raw)
	}
	return raw, nil
}

// clampUnreachable picks the raw end whose physical value is nearest to v
// when v lies beyond what the element can express.
func (s *Session) clampUnreachable(f *field, v float64) (float64, error) {
	lo, hi := f.loc.Element.Range()
	ylo, errLo := f.math.Expr.Forward(lo, f.vars)
	yhi, errHi := f.math.Expr.Forward(hi, f.vars)
	if errLo != nil || errHi != nil {
		return 0, fmt.Errorf("%w: %g", expr.ErrNotInvertible, v)
	}
	if math.Abs(ylo-v) <= math.Abs(yhi-v) {
		return lo, nil
	}
	return hi, nil
}

// commit stores cells and records the change. The caller holds the write
// lock and has validated every cell.
func (s *Session) commit(f *field, cells []cell, value float64) error {
	var changed []cell
	for _, c := range cells {
		if c.change {
			changed = append(changed, c)
		}
	}
	if len(changed) == 0 {
		return nil
	}

	start, end := changed[0].off, changed[0].off+f.loc.Element.Size
	for _, c := range changed[1:] {
		start = min(start, c.off)
		end = max(end, c.off+f.loc.Element.Size)
	}
	before, err := s.img.CopyRange(start, end-start)
	if err != nil {
		return f.fail(changed[0].row, changed[0].col, err)
	}
	for _, c := range changed {
		if err := s.img.PutValue(c.off, f.loc.Element, c.raw); err != nil {
			// cells were validated, so this only happens on a stale layout
			_ = s.img.Patch(start, before)
			return f.fail(c.row, c.col, err)
		}
	}
	after, _ := s.img.CopyRange(start, end-start)
	s.dirty = true

	id := f.it.Meta().ID
	s.log.Debug("write",
		zap.String("item", id),
		zap.String("part", f.part),
		zap.Int("cells", len(changed)),
		zap.Int("offset", start),
	)
	e := journal.Entry{
		Kind:   journal.KindWrite,
		ItemID: id,
		Title:  f.it.Meta().Title,
		Part:   f.part,
		Offset: start,
		Before: before,
		After:  after,
		Value:  value,
	}
	if len(cells) == 1 {
		e.Row, e.Col = cells[0].row, cells[0].col
	}
	return s.record(e)
}

// Write stores a physical value into a constant or flag. For flags v is
// the numeric state.
func (s *Session) Write(key string, v float64) error {
	it, err := s.Find(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch item := it.(type) {
	case *xdf.Constant:
		f, err := s.field(item, layout.PartValue, item.Math, item.Range)
		if err != nil {
			return err
		}
		c, err := s.encode(f, f.loc.Offset, 0, 0, v)
		if err != nil {
			return err
		}
		return s.commit(f, []cell{c}, v)
	case *xdf.Flag:
		// flags sit in at most 32 bits; bound v before it becomes an integer
		if !(v >= 0) || v > math.MaxUint32 || v != math.Trunc(v) {
			return &ItemError{ItemID: item.Meta().ID, Err: fmt.Errorf("%w: flag state %g", ErrValueOutOfRange, v)}
		}
		return s.setFlag(item, uint64(v))
	case *xdf.Table:
		return fmt.Errorf("%w: %s is a table, write cells instead", ErrWrongKind, item.Meta().ID)
	default:
		return fmt.Errorf("%w: %T", ErrWrongKind, it)
	}
}

// SetFlag sets a flag by state name or number.
func (s *Session) SetFlag(key, state string) error {
	it, err := s.Find(key)
	if err != nil {
		return err
	}
	fl, ok := it.(*xdf.Flag)
	if !ok {
		return fmt.Errorf("%w: %s is a %s, not a flag", ErrWrongKind, it.Meta().ID, it.Kind())
	}
	v, ok := fl.StateValue(state)
	if !ok {
		return &ItemError{ItemID: fl.Meta().ID, Err: fmt.Errorf("%w: unknown state %q", ErrValueOutOfRange, state)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setFlag(fl, v)
}

func (s *Session) setFlag(fl *xdf.Flag, v uint64) error {
	loc, err := s.locate(fl, layout.PartValue)
	if err != nil {
		return err
	}
	if v >= 1<<uint(loc.BitWidth) {
		return &ItemError{ItemID: fl.Meta().ID, Err: fmt.Errorf("%w: state %d does not fit %d bits", ErrValueOutOfRange, v, loc.BitWidth)}
	}
	current, err := s.img.Bits(loc.Offset, loc.Element, loc.BitOffset, loc.BitWidth)
	if err != nil {
		return &ItemError{ItemID: fl.Meta().ID, Err: err}
	}
	if current == v {
		return nil
	}

	before, err := s.img.CopyRange(loc.Offset, loc.Element.Size)
	if err != nil {
		return &ItemError{ItemID: fl.Meta().ID, Err: err}
	}
	if err := s.img.PutBits(loc.Offset, loc.Element, loc.BitOffset, loc.BitWidth, v); err != nil {
		return &ItemError{ItemID: fl.Meta().ID, Err: err}
	}
	after, _ := s.img.CopyRange(loc.Offset, loc.Element.Size)
	s.dirty = true

	s.log.Debug("flag set", zap.String("item", fl.Meta().ID), zap.String("state", fl.StateName(v)))
	return s.record(journal.Entry{
		Kind:   journal.KindWrite,
		ItemID: fl.Meta().ID,
		Title:  fl.Meta().Title,
		Part:   string(layout.PartValue),
		Offset: loc.Offset,
		Before: before,
		After:  after,
		Value:  float64(v),
	})
}

// WriteCell stores one table cell.
func (s *Session) WriteCell(key string, row, col int, v float64) error {
	t, err := s.table(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.field(t, layout.PartValue, t.Z.Math, t.Z.Range)
	if err != nil {
		return err
	}
	f.part = "z"
	if !f.loc.Contains(row, col) {
		return f.fail(row, col, fmt.Errorf("%w: cell outside %dx%d", ErrOutOfBounds, f.loc.Rows, f.loc.Cols))
	}
	c, err := s.encode(f, f.loc.ElementOffset(row, col), row, col, v)
	if err != nil {
		return err
	}
	return s.commit(f, []cell{c}, v)
}

// WriteTable replaces every cell. Nothing is written unless every value is
// accepted.
func (s *Session) WriteTable(key string, values [][]float64) error {
	t, err := s.table(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.field(t, layout.PartValue, t.Z.Math, t.Z.Range)
	if err != nil {
		return err
	}
	f.part = "z"
	if len(values) != f.loc.Rows {
		return &ItemError{ItemID: t.Meta().ID, Err: fmt.Errorf("%w: %d rows, table has %d", ErrShape, len(values), f.loc.Rows)}
	}

	cells := make([]cell, 0, f.loc.Count())
	for r, row := range values {
		if len(row) != f.loc.Cols {
			return &ItemError{ItemID: t.Meta().ID, Err: fmt.Errorf("%w: row %d has %d values, table has %d columns", ErrShape, r, len(row), f.loc.Cols)}
		}
		for c, v := range row {
			cl, err := s.encode(f, f.loc.ElementOffset(r, c), r, c, v)
			if err != nil {
				return err
			}
			cells = append(cells, cl)
		}
	}
	return s.commit(f, cells, 0)
}

// WriteAxis replaces the breakpoints of an axis stored in the image.
func (s *Session) WriteAxis(key, axis string, values []float64) error {
	t, err := s.table(key)
	if err != nil {
		return err
	}
	ax, n, err := s.tableAxis(t, axis)
	if err != nil {
		return err
	}
	if !ax.Writable() {
		return &ItemError{ItemID: t.Meta().ID, Part: ax.ID, Err: fmt.Errorf("%w: %s axis", ErrReadOnlyAxis, ax.Source)}
	}
	if len(values) != n {
		return &ItemError{ItemID: t.Meta().ID, Part: ax.ID, Err: fmt.Errorf("%w: %d values for %d breakpoints", ErrShape, len(values), n)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.field(t, layout.Part(ax.ID), ax.Math, ax.Range)
	if err != nil {
		return err
	}
	cells := make([]cell, 0, n)
	for i, v := range values {
		c, err := s.encode(f, f.loc.Index(i), 0, i, v)
		if err != nil {
			return err
		}
		cells = append(cells, c)
	}
	return s.commit(f, cells, 0)
}
