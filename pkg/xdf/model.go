package xdf

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/tosih/xdftune/pkg/expr"
)

// EMBEDDEDDATA type flags.
const (
	TypeSigned      = 0x01
	TypeLSBFirst    = 0x02
	TypeColumnMajor = 0x04
	TypeFloat       = 0x10000
)

// Kind is the closed set of addressable item kinds.
type Kind int

const (
	KindTable Kind = iota + 1
	KindConstant
	KindFlag
)

func (k Kind) String() string {
	switch k {
	case KindTable:
		return "table"
	case KindConstant:
		return "constant"
	case KindFlag:
		return "flag"
	}
	return "unknown"
}

// Item is implemented by *Table, *Constant and *Flag only.
type Item interface {
	Meta() *Meta
	Kind() Kind
	sealed()
}

// Meta holds what every item carries.
type Meta struct {
	ID          string
	Title       string
	Description string
	// Categories are header CATEGORY indices the item belongs to.
	Categories []int
}

// Info is the XDFHEADER content.
type Info struct {
	Title       string
	Description string
	Author      string
	Version     string
	BaseOffset  BaseOffset
	Defaults    Defaults
	Regions     []Region
	Categories  []Category
}

// BaseOffset shifts every address: file offset = address ± Offset.
type BaseOffset struct {
	Offset   int64
	Subtract bool
}

// Defaults fill EMBEDDEDDATA fields a definition leaves unset.
type Defaults struct {
	ElementBits int
	Decimals    int
	Signed      bool
	LSBFirst    bool
	Float       bool
}

type Region struct {
	Start int64
	Size  int64
	Name  string
}

type Category struct {
	Index int
	Name  string
}

// MaxCells bounds the element count of one data block or axis.
const MaxCells = 1 << 20

// Embedded locates stored data.
type Embedded struct {
	Address         int64
	HasAddress      bool
	ElementBits     int
	Rows            int
	Cols            int
	MajorStrideBits int
	MinorStrideBits int
	TypeFlags       uint32
}

func (e Embedded) Signed() bool      { return e.TypeFlags&TypeSigned != 0 }
func (e Embedded) LSBFirst() bool    { return e.TypeFlags&TypeLSBFirst != 0 }
func (e Embedded) ColumnMajor() bool { return e.TypeFlags&TypeColumnMajor != 0 }
func (e Embedded) Float() bool       { return e.TypeFlags&TypeFloat != 0 }

// Order is the byte order of multi-byte elements.
func (e Embedded) Order() binary.ByteOrder {
	if e.LSBFirst() {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Count is the number of stored elements.
func (e Embedded) Count() int {
	return max(e.Rows, 1) * max(e.Cols, 1)
}

// VarKind says where an equation variable gets its value.
type VarKind int

const (
	VarRaw VarKind = iota
	VarLink
	VarAddress
)

// Var is one MATH VAR declaration.
type Var struct {
	ID   string
	Kind VarKind
	// LinkID names the constant whose physical value VarLink takes.
	LinkID string
	// Address locates the raw value VarAddress reads.
	Address Embedded
}

// Math is a scaling equation with its variable bindings.
type Math struct {
	Equation string
	Expr     *expr.Expr
	Vars     []Var
}

// Bound lists the variables other than the raw value.
func (m Math) Bound() []Var {
	var out []Var
	for _, v := range m.Vars {
		if v.Kind != VarRaw {
			out = append(out, v)
		}
	}
	return out
}

func identityMath() Math {
	return Math{Equation: expr.RawVar, Expr: expr.Identity(), Vars: []Var{{ID: expr.RawVar}}}
}

// Range is a declared physical range, Set false when absent.
type Range struct {
	Low, High float64
	Set       bool
}

// Contains reports whether v is inside the range, always true when unset.
func (r Range) Contains(v float64) bool {
	return !r.Set || (v >= r.Low && v <= r.High)
}

// AxisSource is where axis values come from.
type AxisSource int

const (
	// AxisIndex has no data; values are 0..n-1.
	AxisIndex AxisSource = iota
	// AxisLabels has static LABEL values.
	AxisLabels
	// AxisEmbedded stores its values in the bin.
	AxisEmbedded
	// AxisLinked takes the data region of another table.
	AxisLinked
)

func (s AxisSource) String() string {
	switch s {
	case AxisLabels:
		return "labels"
	case AxisEmbedded:
		return "embedded"
	case AxisLinked:
		return "linked"
	}
	return "index"
}

// Axis is one dimension of a table. The z axis carries the table data.
type Axis struct {
	ID       string
	Units    string
	Count    int
	Decimals int
	Range    Range
	Math     Math
	Embedded Embedded
	Source   AxisSource
	Labels   []float64
	// TextLabels keeps the label strings, including ones that are not numbers.
	TextLabels []string
	LinkID     string

	ownMath bool
}

// Writable reports whether the axis values live in the bin.
func (a *Axis) Writable() bool {
	return a.Source == AxisEmbedded || a.Source == AxisLinked
}

// Table is a 1D, 2D or 3D map.
type Table struct {
	meta Meta
	X    Axis
	Y    Axis
	Z    Axis
}

func (t *Table) Meta() *Meta { return &t.meta }
func (t *Table) Kind() Kind  { return KindTable }
func (*Table) sealed()       {}

func (t *Table) Rows() int { return max(t.Z.Embedded.Rows, 1) }
func (t *Table) Cols() int { return max(t.Z.Embedded.Cols, 1) }

// Dimensions is 1 for a bare vector, 2 for a vector with an axis and 3 for
// a grid.
func (t *Table) Dimensions() int {
	switch {
	case t.Rows() > 1 && t.Cols() > 1:
		return 3
	case t.Rows() > 1 && t.Y.Source != AxisIndex, t.Cols() > 1 && t.X.Source != AxisIndex:
		return 2
	}
	return 1
}

// Axis returns the axis named x, y or z.
func (t *Table) Axis(id string) (*Axis, error) {
	switch strings.ToLower(id) {
	case "x":
		return &t.X, nil
	case "y":
		return &t.Y, nil
	case "z":
		return &t.Z, nil
	}
	return nil, fmt.Errorf("table %s has no axis %q", t.meta.ID, id)
}

// Constant is a single scalar value.
type Constant struct {
	meta     Meta
	Embedded Embedded
	Units    string
	Decimals int
	Range    Range
	Math     Math
}

func (c *Constant) Meta() *Meta { return &c.meta }
func (c *Constant) Kind() Kind  { return KindConstant }
func (*Constant) sealed()       {}

// FlagState names one value of a flag field.
type FlagState struct {
	Value uint64
	Name  string
}

// Flag is a bit field inside one element.
type Flag struct {
	meta     Meta
	Embedded Embedded
	Mask     uint64
	States   []FlagState
}

func (f *Flag) Meta() *Meta { return &f.meta }
func (f *Flag) Kind() Kind  { return KindFlag }
func (*Flag) sealed()       {}

// StateName returns the label of v, or its decimal form.
func (f *Flag) StateName(v uint64) string {
	for _, s := range f.States {
		if s.Value == v {
			return s.Name
		}
	}
	return strconv.FormatUint(v, 10)
}

// StateValue finds a state by name, case-insensitively, or parses a number.
func (f *Flag) StateValue(name string) (uint64, bool) {
	for _, s := range f.States {
		if strings.EqualFold(s.Name, name) {
			return s.Value, true
		}
	}
	v, err := parseUint(name)
	return v, err == nil
}

// ChecksumRegion is an inclusive byte range.
type ChecksumRegion struct {
	Start int64
	End   int64
}

// Checksum declares how to recompute one stored checksum.
type Checksum struct {
	ID        string
	Title     string
	Algorithm string
	Regions   []ChecksumRegion
	Store     Embedded
}

// Definition is a parsed XDF document. It is not modified after Parse
// returns.
type Definition struct {
	Info      Info
	Tables    []*Table
	Constants []*Constant
	Flags     []*Flag
	Checksums []*Checksum

	index map[string]Item
}

// Items returns every addressable item: tables, then constants, then flags.
func (d *Definition) Items() []Item {
	out := make([]Item, 0, len(d.Tables)+len(d.Constants)+len(d.Flags))
	for _, t := range d.Tables {
		out = append(out, t)
	}
	for _, c := range d.Constants {
		out = append(out, c)
	}
	for _, f := range d.Flags {
		out = append(out, f)
	}
	return out
}

// Lookup finds an item by identifier. Hex identifiers match regardless of
// case and leading zeros.
func (d *Definition) Lookup(id string) (Item, bool) {
	it, ok := d.index[normalizeID(id)]
	return it, ok
}

// LookupTitle returns the first item whose title matches, case-insensitively.
func (d *Definition) LookupTitle(title string) (Item, bool) {
	for _, it := range d.Items() {
		if strings.EqualFold(it.Meta().Title, title) {
			return it, true
		}
	}
	return nil, false
}

// Find tries the identifier first, then the title.
func (d *Definition) Find(key string) (Item, bool) {
	if it, ok := d.Lookup(key); ok {
		return it, true
	}
	return d.LookupTitle(key)
}

// Uncategorized is the listing name for items without a resolvable category.
const Uncategorized = "Uncategorized"

// CategoryListing groups items for navigation.
type CategoryListing struct {
	Name  string
	Items []Item
}

// Categorized lists items per header category in declaration order, then the
// uncategorized ones. Empty categories are kept.
func (d *Definition) Categorized() []CategoryListing {
	pos := make(map[int]int, len(d.Info.Categories))
	out := make([]CategoryListing, 0, len(d.Info.Categories)+1)
	for _, c := range d.Info.Categories {
		pos[c.Index] = len(out)
		out = append(out, CategoryListing{Name: c.Name})
	}
	var loose []Item
	for _, it := range d.Items() {
		placed := false
		for _, ci := range it.Meta().Categories {
			if p, ok := pos[ci]; ok {
				out[p].Items = append(out[p].Items, it)
				placed = true
			}
		}
		if !placed {
			loose = append(loose, it)
		}
	}
	if len(loose) > 0 {
		out = append(out, CategoryListing{Name: Uncategorized, Items: loose})
	}
	return out
}
