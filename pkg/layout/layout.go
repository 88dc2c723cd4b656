// Package layout maps definition items to byte and bit positions inside a
// bin image.
package layout

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/multierr"

	"github.com/tosih/xdftune/pkg/binimage"
	"github.com/tosih/xdftune/pkg/xdf"
)

var (
	ErrOutOfBounds      = binimage.ErrOutOfBounds
	ErrUnsupportedWidth = binimage.ErrUnsupportedWidth
	ErrBadMask          = errors.New("layout: bad bit mask")
	ErrBadStride        = errors.New("layout: stride smaller than element")
)

// Part names which stored region of an item a location belongs to.
type Part string

const (
	PartValue Part = "value" // constant, flag or table data
	PartX     Part = "x"
	PartY     Part = "y"
)

// Key identifies one resolved region.
type Key struct {
	ItemID string
	Part   Part
}

func (k Key) String() string { return k.ItemID + "/" + string(k.Part) }

// Location is where a run of elements lives in the image. Offsets and
// strides are in bytes.
type Location struct {
	Offset    int
	Element   binimage.Element
	Rows      int
	Cols      int
	RowStride int
	ColStride int
	// BitOffset and BitWidth are set for flags only.
	BitOffset int
	BitWidth  int
}

// Count is the number of elements.
func (l Location) Count() int { return l.Rows * l.Cols }

// ElementOffset is the byte offset of cell (row, col).
func (l Location) ElementOffset(row, col int) int {
	return l.Offset + row*l.RowStride + col*l.ColStride
}

// Index is the byte offset of the i-th element counted row by row.
func (l Location) Index(i int) int {
	return l.ElementOffset(i/l.Cols, i%l.Cols)
}

// End is one past the last byte any element touches.
func (l Location) End() int {
	return l.ElementOffset(l.Rows-1, l.Cols-1) + l.Element.Size
}

// IsBitField reports whether the location is a flag field.
func (l Location) IsBitField() bool { return l.BitWidth > 0 }

// Contains reports whether (row, col) is inside the grid.
func (l Location) Contains(row, col int) bool {
	return row >= 0 && row < l.Rows && col >= 0 && col < l.Cols
}

// AddressMode selects how definition addresses map to file offsets.
type AddressMode int

const (
	// Absolute treats addresses as file offsets after the base offset.
	Absolute AddressMode = iota
	// FlashRelative additionally subtracts the start of the first declared
	// region, for definitions written against the CPU address space.
	FlashRelative
)

func (m AddressMode) String() string {
	if m == FlashRelative {
		return "flash-relative"
	}
	return "absolute"
}

// ParseAddressMode accepts the names String returns.
func ParseAddressMode(s string) (AddressMode, error) {
	switch s {
	case "", "absolute":
		return Absolute, nil
	case "flash-relative", "flash":
		return FlashRelative, nil
	}
	return Absolute, fmt.Errorf("unknown address mode %q", s)
}

// Options tune address translation. A nil BaseOffset uses the header value.
type Options struct {
	BaseOffset *xdf.BaseOffset
	Mode       AddressMode
}

// ResolutionError is a failure to place one item part.
type ResolutionError struct {
	Key   Key
	Title string
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("layout: %s %q: %v", e.Key, e.Title, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Report lists the parts that could not be resolved.
type Report struct {
	Errors []*ResolutionError
}

func (r *Report) OK() bool { return len(r.Errors) == 0 }

func (r *Report) Err() error {
	var err error
	for _, e := range r.Errors {
		err = multierr.Append(err, e)
	}
	return err
}

// Layout is the resolved location map of one definition against one image
// size. It is read-only once built.
type Layout struct {
	locs     map[Key]Location
	imageLen int
	base     xdf.BaseOffset
	origin   int64
	mode     AddressMode
}

// Resolve places every item of def. Parts that fail land in the report and
// are absent from the layout; everything else is still resolved.
func Resolve(def *xdf.Definition, imageLen int, opts Options) (*Layout, *Report) {
	l := &Layout{
		locs:     make(map[Key]Location),
		imageLen: imageLen,
		base:     def.Info.BaseOffset,
		mode:     opts.Mode,
	}
	if opts.BaseOffset != nil {
		l.base = *opts.BaseOffset
	}
	if opts.Mode == FlashRelative && len(def.Info.Regions) > 0 {
		l.origin = def.Info.Regions[0].Start
	}

	rep := &Report{}
	put := func(it xdf.Item, part Part, loc Location, err error) {
		k := Key{ItemID: it.Meta().ID, Part: part}
		if err == nil {
			err = l.check(loc)
		}
		if err != nil {
			rep.Errors = append(rep.Errors, &ResolutionError{Key: k, Title: it.Meta().Title, Err: err})
			return
		}
		l.locs[k] = loc
	}

	for _, it := range def.Items() {
		switch v := it.(type) {
		case *xdf.Table:
			loc, err := l.grid(v.Z.Embedded)
			put(v, PartValue, loc, err)
			for _, ax := range []*xdf.Axis{&v.X, &v.Y} {
				if !ax.Writable() {
					continue
				}
				loc, err := l.grid(ax.Embedded)
				if err == nil && loc.Count() < ax.Count {
					err = fmt.Errorf("%w: axis stores %d values for %d cells", ErrOutOfBounds, loc.Count(), ax.Count)
				}
				put(v, Part(ax.ID), loc, err)
			}
		case *xdf.Constant:
			e := v.Embedded
			e.Rows, e.Cols = 1, 1
			loc, err := l.grid(e)
			put(v, PartValue, loc, err)
		case *xdf.Flag:
			loc, err := l.field(v)
			put(v, PartValue, loc, err)
		default:
			put(it, PartValue, Location{}, fmt.Errorf("unknown item kind %T", it))
		}
	}
	return l, rep
}

// FileOffset translates a definition address to a file offset.
func (l *Layout) FileOffset(addr int64) int64 {
	if l.base.Subtract {
		addr -= l.base.Offset
	} else {
		addr += l.base.Offset
	}
	return addr - l.origin
}

func (l *Layout) element(e xdf.Embedded) (binimage.Element, error) {
	el := binimage.Element{
		Size:   e.ElementBits / 8,
		Order:  e.Order(),
		Signed: e.Signed(),
		Float:  e.Float(),
	}
	if e.ElementBits%8 != 0 {
		return el, fmt.Errorf("%w: %d bits", ErrUnsupportedWidth, e.ElementBits)
	}
	return el, el.Validate()
}

func (l *Layout) grid(e xdf.Embedded) (Location, error) {
	el, err := l.element(e)
	if err != nil {
		return Location{}, err
	}
	if !e.HasAddress {
		return Location{}, fmt.Errorf("%w: no address", ErrOutOfBounds)
	}
	off := l.FileOffset(e.Address)
	if off < 0 || off >= int64(l.imageLen) {
		return Location{}, fmt.Errorf("%w: address 0x%X maps to 0x%X, image is 0x%X bytes", ErrOutOfBounds, e.Address, off, l.imageLen)
	}
	loc := Location{
		Offset:  int(off),
		Element: el,
		Rows:    max(e.Rows, 1),
		Cols:    max(e.Cols, 1),
	}

	minor := e.MinorStrideBits / 8
	if minor == 0 {
		minor = el.Size
	}
	if minor < el.Size {
		return loc, fmt.Errorf("%w: %d bytes for %s", ErrBadStride, minor, el)
	}
	major := e.MajorStrideBits / 8
	if minor > l.imageLen || major > l.imageLen {
		return loc, fmt.Errorf("%w: stride %d/%d bytes, image is 0x%X bytes", ErrOutOfBounds, major, minor, l.imageLen)
	}
	if e.ColumnMajor() {
		if major == 0 {
			major = loc.Rows * minor
		}
		loc.RowStride, loc.ColStride = minor, major
	} else {
		if major == 0 {
			major = loc.Cols * minor
		}
		loc.RowStride, loc.ColStride = major, minor
	}
	if loc.Rows > 1 && loc.Cols > 1 && major < minor {
		return loc, fmt.Errorf("%w: major stride %d", ErrBadStride, major)
	}
	return loc, nil
}

func (l *Layout) field(f *xdf.Flag) (Location, error) {
	e := f.Embedded
	e.Rows, e.Cols = 1, 1
	loc, err := l.grid(e)
	if err != nil {
		return loc, err
	}
	off, width, ok := binimage.MaskField(f.Mask)
	if !ok || off+width > loc.Element.Bits() || loc.Element.Float {
		return loc, fmt.Errorf("%w: 0x%X in %s", ErrBadMask, f.Mask, loc.Element)
	}
	loc.BitOffset, loc.BitWidth = off, width
	return loc, nil
}

func (l *Layout) check(loc Location) error {
	room := l.imageLen - loc.Offset
	if loc.Offset < 0 || room <= 0 || loc.Rows < 1 || loc.Cols < 1 ||
		!fits(loc.Rows-1, loc.RowStride, room) || !fits(loc.Cols-1, loc.ColStride, room) ||
		loc.End() > l.imageLen {
		return fmt.Errorf("%w: %dx%d %s at 0x%X, image is 0x%X bytes", ErrOutOfBounds, loc.Rows, loc.Cols, loc.Element, loc.Offset, l.imageLen)
	}
	return nil
}

// fits reports whether n steps of stride bytes stay within room.
func fits(n, stride, room int) bool {
	return n <= 0 || stride <= 0 || n <= room/stride
}

// Lookup returns the location of one item part.
func (l *Layout) Lookup(id string, part Part) (Location, bool) {
	loc, ok := l.locs[Key{ItemID: id, Part: part}]
	return loc, ok
}

// Len is the number of resolved parts.
func (l *Layout) Len() int { return len(l.locs) }

// ImageLen is the image size the layout was resolved for.
func (l *Layout) ImageLen() int { return l.imageLen }

// Mode is the address mode in effect.
func (l *Layout) Mode() AddressMode { return l.mode }

// Keys lists resolved parts ordered by file offset.
func (l *Layout) Keys() []Key {
	keys := make([]Key, 0, len(l.locs))
	for k := range l.locs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := l.locs[keys[i]], l.locs[keys[j]]
		if a.Offset != b.Offset {
			return a.Offset < b.Offset
		}
		return keys[i].String() < keys[j].String()
	})
	return keys
}

// Overlap is a pair of parts whose bytes intersect.
type Overlap struct {
	A, B Key
}

// Overlaps lists intersecting parts. Flags sharing an element with disjoint
// masks do not count. Overlaps are legal; the list is for diagnostics.
func (l *Layout) Overlaps() []Overlap {
	keys := l.Keys()
	var out []Overlap
	for i, a := range keys {
		la := l.locs[a]
		for _, b := range keys[i+1:] {
			lb := l.locs[b]
			if lb.Offset >= la.End() {
				break
			}
			if la.IsBitField() && lb.IsBitField() && la.Offset == lb.Offset && la.Element.Size == lb.Element.Size {
				ma := binimage.FieldMask(la.BitOffset, la.BitWidth)
				mb := binimage.FieldMask(lb.BitOffset, lb.BitWidth)
				if ma&mb == 0 {
					continue
				}
			}
			out = append(out, Overlap{A: a, B: b})
		}
	}
	return out
}

// Covered returns the sorted, merged byte ranges touched by resolved parts.
func (l *Layout) Covered() [][2]int {
	var spans [][2]int
	for _, k := range l.Keys() {
		loc := l.locs[k]
		s := [2]int{loc.Offset, loc.End()}
		if n := len(spans); n > 0 && s[0] <= spans[n-1][1] {
			spans[n-1][1] = max(spans[n-1][1], s[1])
			continue
		}
		spans = append(spans, s)
	}
	return spans
}
