// Package xdf reads TunerPro-style XDF definition documents.
//
// The format has no published grammar, so the parser is tolerant: elements it
// does not know are skipped with a warning, and an item that cannot be
// understood is dropped with a DefinitionError while the rest of the document
// is still read. Parse returns the partial Definition together with a Report.
package xdf

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tosih/xdftune/pkg/binimage"
	"github.com/tosih/xdftune/pkg/expr"
)

// Element names as they appear in documents.
const (
	elemFormat   = "XDFFORMAT"
	elemHeader   = "XDFHEADER"
	elemTable    = "XDFTABLE"
	elemConstant = "XDFCONSTANT"
	elemFlag     = "XDFFLAG"
	elemChecksum = "XDFCHECKSUM"
)

// ParseFile opens and parses the definition at path.
func ParseFile(path string) (*Definition, *Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open definition: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Parse(f)
}

// Parse reads a definition document. The error is non-nil only when the
// document as a whole is unusable; per-item problems land in the Report.
func Parse(r io.Reader) (*Definition, *Report, error) {
	root, err := decodeTree(r)
	if err != nil {
		return nil, nil, err
	}
	if root.name != strings.ToLower(elemFormat) {
		return nil, nil, fmt.Errorf("%w: root element <%s>, want <%s>", ErrMalformedStructure, root.name, elemFormat)
	}

	p := &docParser{
		def:       &Definition{index: map[string]Item{}},
		report:    &Report{},
		checksums: map[string]bool{},
	}
	p.header(root.child("xdfheader"))

	for _, c := range root.children {
		switch c.name {
		case "xdfheader":
		case "xdftable":
			p.table(c)
		case "xdfconstant":
			p.constant(c)
		case "xdfflag":
			p.flag(c)
		case "xdfchecksum":
			p.checksum(c)
		default:
			p.report.warn(strings.ToUpper(c.name), normalizeID(c.attrs["uniqueid"]), "unsupported element skipped")
		}
	}

	p.linkAxes()
	p.linkVars()
	return p.def, p.report, nil
}

type docParser struct {
	def       *Definition
	report    *Report
	checksums map[string]bool
}

// fieldError is an item-scoped failure before the item identity is attached.
type fieldError struct {
	kind  ErrorKind
	field string
	err   error
}

func (e *fieldError) Error() string {
	if e.err == nil {
		return e.field
	}
	return e.field + ": " + e.err.Error()
}

func malformed(field string, err error) error {
	return &fieldError{kind: MalformedStructure, field: field, err: err}
}

func missing(field string) error {
	return &fieldError{kind: MissingRequiredField, field: field}
}

func unsupported(field, format string, args ...any) error {
	return &fieldError{kind: UnsupportedConstruct, field: field, err: fmt.Errorf(format, args...)}
}

func (p *docParser) fail(element string, m Meta, err error) {
	de := &DefinitionError{Kind: MalformedStructure, Element: element, ItemID: m.ID, Title: m.Title, Err: err}
	var fe *fieldError
	if errors.As(err, &fe) {
		de.Kind, de.Field, de.Err = fe.kind, fe.field, fe.err
	}
	p.report.fail(de)
}

// fields reads typed values off a node and keeps the first failure, so a
// run of lookups needs one error check at the end.
type fields struct {
	n   *node
	err error
}

func (f *fields) has(names ...string) bool {
	v, ok := f.n.field(names...)
	return ok && v != ""
}

func (f *fields) int(def int64, names ...string) int64 {
	s, ok := f.n.field(names...)
	if f.err != nil || !ok || s == "" {
		return def
	}
	v, err := parseInt(s)
	if err != nil {
		f.err = malformed(names[0], err)
		return def
	}
	return v
}

func (f *fields) float(def float64, names ...string) float64 {
	s, ok := f.n.field(names...)
	if f.err != nil || !ok || s == "" {
		return def
	}
	v, err := parseFloat(s)
	if err != nil {
		f.err = malformed(names[0], err)
		return def
	}
	return v
}

func (f *fields) bool(def bool, names ...string) bool {
	s, ok := f.n.field(names...)
	if f.err != nil || !ok || s == "" {
		return def
	}
	v, err := parseBool(s)
	if err != nil {
		f.err = malformed(names[0], err)
		return def
	}
	return v
}

func (p *docParser) header(h *node) {
	info := &p.def.Info
	info.Defaults = Defaults{ElementBits: 8, Decimals: 2}
	if h == nil {
		p.report.warn(elemFormat, "", "no %s, using defaults", elemHeader)
		return
	}

	info.Title = h.str("deftitle", "title")
	info.Description = h.str("description")
	info.Author = h.str("author")
	info.Version = h.str("fileversion", "version")

	if b := h.child("baseoffset"); b != nil {
		f := fields{n: b}
		off := f.int(0, "offset")
		sub := f.bool(false, "subtract")
		if f.err != nil {
			p.fail(elemHeader, Meta{Title: "BASEOFFSET"}, f.err)
		} else {
			info.BaseOffset = BaseOffset{Offset: off, Subtract: sub}
		}
	}

	if d := h.child("defaults"); d != nil {
		f := fields{n: d}
		defs := Defaults{
			ElementBits: int(f.int(8, "datasizeinbits")),
			Decimals:    int(f.int(2, "sigdigits")),
			Signed:      f.bool(false, "signed"),
			LSBFirst:    f.bool(false, "lsbfirst"),
			Float:       f.bool(false, "float"),
		}
		if f.err != nil {
			p.fail(elemHeader, Meta{Title: "DEFAULTS"}, f.err)
		} else {
			info.Defaults = defs
		}
	}

	for _, r := range h.all("region") {
		f := fields{n: r}
		reg := Region{
			Start: f.int(0, "startaddress", "start"),
			Size:  f.int(0, "size"),
			Name:  r.str("name"),
		}
		if f.err != nil {
			p.fail(elemHeader, Meta{Title: "REGION " + reg.Name}, f.err)
			continue
		}
		info.Regions = append(info.Regions, reg)
	}

	seen := map[int]bool{}
	for _, c := range h.all("category") {
		f := fields{n: c}
		idx := int(f.int(int64(len(info.Categories)), "index"))
		if f.err != nil {
			p.fail(elemHeader, Meta{Title: "CATEGORY " + c.str("name")}, f.err)
			continue
		}
		if seen[idx] {
			p.report.warn(elemHeader, "", "category index %d declared twice, keeping the first", idx)
			continue
		}
		seen[idx] = true
		info.Categories = append(info.Categories, Category{Index: idx, Name: c.str("name")})
	}
}

func (p *docParser) meta(n *node, element string) (Meta, error) {
	m := Meta{
		ID:          normalizeID(n.str("uniqueid")),
		Title:       n.str("title"),
		Description: n.str("description"),
	}
	if m.ID == "" {
		if m.Title == "" {
			return m, missing("uniqueid")
		}
		m.ID = m.Title
		p.report.warn(element, m.ID, "no uniqueid, identified by title")
	}

	for _, cm := range n.all("categorymem") {
		f := fields{n: cm}
		ref := int(f.int(-1, "category"))
		if f.err != nil || ref < 1 {
			p.report.warn(element, m.ID, "unreadable category reference %q treated as uncategorized", cm.str("category"))
			continue
		}
		// CATEGORYMEM refers to header categories one-based
		idx := ref - 1
		if !p.hasCategory(idx) {
			p.report.warn(element, m.ID, "category %d is not declared, treated as uncategorized", ref)
			continue
		}
		m.Categories = append(m.Categories, idx)
	}
	return m, nil
}

func (p *docParser) hasCategory(idx int) bool {
	for _, c := range p.def.Info.Categories {
		if c.Index == idx {
			return true
		}
	}
	return false
}

func (p *docParser) embedded(n *node) (Embedded, error) {
	defs := p.def.Info.Defaults
	var flags uint32
	if defs.Signed {
		flags |= TypeSigned
	}
	if defs.LSBFirst {
		flags |= TypeLSBFirst
	}
	if defs.Float {
		flags |= TypeFloat
	}
	e := Embedded{ElementBits: defs.ElementBits, TypeFlags: flags}
	if n == nil {
		return e, nil
	}

	f := fields{n: n}
	e.HasAddress = f.has("mmedaddress")
	e.Address = f.int(0, "mmedaddress")
	e.ElementBits = int(f.int(int64(defs.ElementBits), "mmedelementsizebits"))
	e.Rows = int(f.int(0, "mmedrowcount"))
	e.Cols = int(f.int(0, "mmedcolcount"))
	e.MajorStrideBits = int(f.int(0, "mmedmajorstridebits"))
	e.MinorStrideBits = int(f.int(0, "mmedminorstridebits"))
	e.TypeFlags = uint32(f.int(int64(flags), "mmedtypeflags"))
	if f.err != nil {
		return e, f.err
	}

	switch e.ElementBits {
	case 8, 16, 32:
	default:
		return e, unsupported("mmedelementsizebits", "%d-bit elements", e.ElementBits)
	}
	if e.Float() && e.ElementBits != 32 {
		return e, unsupported("mmedtypeflags", "%d-bit float", e.ElementBits)
	}
	if e.Rows < 0 || e.Cols < 0 {
		return e, malformed("mmedrowcount", fmt.Errorf("negative count %dx%d", e.Rows, e.Cols))
	}
	if e.Rows > MaxCells || e.Cols > MaxCells || e.Count() > MaxCells {
		return e, malformed("mmedrowcount", fmt.Errorf("%dx%d elements exceed %d", e.Rows, e.Cols, MaxCells))
	}
	if e.MajorStrideBits < 0 || e.MinorStrideBits < 0 {
		// label-only axes carry negative strides that mean nothing
		if e.HasAddress {
			return e, unsupported("mmedmajorstridebits", "negative stride")
		}
		e.MajorStrideBits, e.MinorStrideBits = 0, 0
	}
	if e.MajorStrideBits%8 != 0 || e.MinorStrideBits%8 != 0 {
		return e, unsupported("mmedmajorstridebits", "stride of %d/%d bits is not byte aligned", e.MajorStrideBits, e.MinorStrideBits)
	}
	if e.HasAddress && e.Address < 0 {
		return e, malformed("mmedaddress", fmt.Errorf("negative address %d", e.Address))
	}
	return e, nil
}

// math reads a MATH element. A missing element is the identity equation.
func (p *docParser) math(n *node) (Math, bool, error) {
	mn := n.child("math")
	if mn == nil {
		return identityMath(), false, nil
	}
	m := Math{Equation: mn.str("equation", "expression", "formula")}

	raw := ""
	declared := map[string]bool{expr.RawVar: true}
	for _, vn := range mn.all("var") {
		id := strings.ToUpper(vn.str("id"))
		if id == "" {
			return m, true, missing("var id")
		}
		v := Var{ID: id}
		switch strings.ToLower(vn.str("type")) {
		case "", "free", "raw":
			if raw != "" {
				return m, true, unsupported("var", "second raw variable %s next to %s", id, raw)
			}
			raw = id
			v.ID = expr.RawVar
		case "link":
			v.Kind = VarLink
			v.LinkID = normalizeID(vn.str("linkid"))
			if v.LinkID == "" {
				return m, true, missing("var linkid")
			}
		case "address":
			v.Kind = VarAddress
			f := fields{n: vn}
			v.Address = Embedded{
				HasAddress:  f.has("address"),
				Address:     f.int(0, "address"),
				ElementBits: int(f.int(8, "sizeinbits")),
			}
			if f.bool(false, "lsbfirst") {
				v.Address.TypeFlags |= TypeLSBFirst
			}
			if f.bool(false, "signed") {
				v.Address.TypeFlags |= TypeSigned
			}
			if f.err != nil {
				return m, true, f.err
			}
			if !v.Address.HasAddress {
				return m, true, missing("var address")
			}
			if b := v.Address.ElementBits; b != 8 && b != 16 && b != 32 {
				return m, true, unsupported("var sizeinbits", "%d-bit variable", b)
			}
		default:
			return m, true, unsupported("var type", "variable type %q", vn.str("type"))
		}
		declared[v.ID] = true
		m.Vars = append(m.Vars, v)
	}
	if raw == "" {
		raw = expr.RawVar
		m.Vars = append([]Var{{ID: expr.RawVar}}, m.Vars...)
	}

	e, err := expr.ParseAs(m.Equation, raw)
	if err != nil {
		return m, true, malformed("equation", err)
	}
	for _, name := range e.Vars() {
		if !declared[name] {
			return m, true, malformed("equation", fmt.Errorf("undeclared variable %s in %q", name, m.Equation))
		}
	}
	m.Expr = e
	return m, true, nil
}

type axisResult struct {
	axis    Axis
	ownMath bool
}

func (p *docParser) axis(n *node) (axisResult, error) {
	a := Axis{
		ID:    strings.ToLower(n.str("id")),
		Units: n.str("units"),
	}
	f := fields{n: n}
	a.Count = int(f.int(0, "indexcount"))
	if a.Count < 0 || a.Count > MaxCells {
		return axisResult{}, malformed("indexcount", fmt.Errorf("%d entries", a.Count))
	}
	a.Decimals = int(f.int(int64(p.def.Info.Defaults.Decimals), "decimalpl"))
	if f.has("min") && f.has("max") {
		a.Range = Range{Low: f.float(0, "min"), High: f.float(0, "max"), Set: true}
	}
	if f.err != nil {
		return axisResult{}, f.err
	}

	emb, err := p.embedded(n.child("embeddeddata"))
	if err != nil {
		return axisResult{}, err
	}
	a.Embedded = emb

	for i, ln := range n.all("label") {
		text := ln.str("value")
		a.TextLabels = append(a.TextLabels, text)
		v, err := parseFloat(text)
		if err != nil {
			v = float64(i)
		}
		a.Labels = append(a.Labels, v)
	}

	link := ""
	if ei := n.child("embedinfo"); ei != nil {
		link = normalizeID(ei.str("linkobjid"))
	}
	switch {
	case link != "" && !emb.HasAddress:
		a.Source = AxisLinked
		a.LinkID = link
	case emb.HasAddress:
		a.Source = AxisEmbedded
	case len(a.Labels) > 0:
		a.Source = AxisLabels
	default:
		a.Source = AxisIndex
	}

	m, own, err := p.math(n)
	if err != nil {
		return axisResult{}, err
	}
	a.Math = m
	return axisResult{axis: a, ownMath: own}, nil
}

func (p *docParser) table(n *node) {
	m, err := p.meta(n, elemTable)
	if err != nil {
		p.fail(elemTable, m, err)
		return
	}

	t := &Table{meta: m}
	have := map[string]bool{}
	ownMath := map[string]bool{}
	for _, an := range n.all("xdfaxis") {
		res, err := p.axis(an)
		if err != nil {
			var fe *fieldError
			if errors.As(err, &fe) {
				fe.field = "XDFAXIS " + an.str("id") + " " + fe.field
			}
			p.fail(elemTable, m, err)
			return
		}
		switch res.axis.ID {
		case "x":
			t.X = res.axis
		case "y":
			t.Y = res.axis
		case "z":
			t.Z = res.axis
		default:
			p.report.warn(elemTable, m.ID, "axis %q skipped", res.axis.ID)
			continue
		}
		if have[res.axis.ID] {
			p.report.warn(elemTable, m.ID, "axis %s declared twice, using the last", res.axis.ID)
		}
		have[res.axis.ID] = true
		ownMath[res.axis.ID] = res.ownMath
	}

	if !have["z"] {
		p.fail(elemTable, m, missing("XDFAXIS z"))
		return
	}
	if !t.Z.Embedded.HasAddress {
		p.fail(elemTable, m, missing("XDFAXIS z mmedaddress"))
		return
	}
	for _, id := range []string{"x", "y"} {
		if !have[id] {
			ax, _ := t.Axis(id)
			*ax = Axis{ID: id, Math: identityMath()}
		}
	}

	// data shape falls back to the axis counts
	if t.Z.Embedded.Rows == 0 {
		t.Z.Embedded.Rows = max(t.Y.Count, 1)
	}
	if t.Z.Embedded.Cols == 0 {
		t.Z.Embedded.Cols = max(t.X.Count, 1)
	}
	t.Z.Count = t.Z.Embedded.Count()

	p.shapeAxis(t, &t.X, t.Cols(), false)
	p.shapeAxis(t, &t.Y, t.Rows(), true)
	t.X.ownMath, t.Y.ownMath = ownMath["x"], ownMath["y"]

	p.add(elemTable, t)
}

// shapeAxis reconciles the axis element count with the table it indexes.
func (p *docParser) shapeAxis(t *Table, a *Axis, n int, vertical bool) {
	if a.Count == 0 {
		a.Count = n
	}
	if a.Count != n {
		p.report.warn(elemTable, t.meta.ID, "axis %s has %d entries for %d cells", a.ID, a.Count, n)
		a.Count = n
	}
	switch a.Source {
	case AxisEmbedded:
		if a.Embedded.Count() == 1 && n > 1 {
			if vertical {
				a.Embedded.Rows = n
			} else {
				a.Embedded.Cols = n
			}
		}
		if a.Embedded.Count() != n {
			p.report.warn(elemTable, t.meta.ID, "axis %s stores %d values for %d cells", a.ID, a.Embedded.Count(), n)
		}
	case AxisLabels:
		if len(a.Labels) != n {
			p.report.warn(elemTable, t.meta.ID, "axis %s has %d labels for %d cells", a.ID, len(a.Labels), n)
		}
	}
}

func (p *docParser) constant(n *node) {
	m, err := p.meta(n, elemConstant)
	if err != nil {
		p.fail(elemConstant, m, err)
		return
	}
	c := &Constant{meta: m, Units: n.str("units")}

	emb, err := p.embedded(n.child("embeddeddata"))
	if err != nil {
		p.fail(elemConstant, m, err)
		return
	}
	if !emb.HasAddress {
		p.fail(elemConstant, m, missing("mmedaddress"))
		return
	}
	if emb.Count() > 1 {
		p.report.warn(elemConstant, m.ID, "constant declares %d elements, reading the first", emb.Count())
		emb.Rows, emb.Cols = 0, 0
	}
	c.Embedded = emb

	f := fields{n: n}
	c.Decimals = int(f.int(int64(p.def.Info.Defaults.Decimals), "decimalpl"))
	if f.has("rangelow") && f.has("rangehigh") {
		c.Range = Range{Low: f.float(0, "rangelow"), High: f.float(0, "rangehigh"), Set: true}
	}
	if f.err != nil {
		p.fail(elemConstant, m, f.err)
		return
	}

	c.Math, _, err = p.math(n)
	if err != nil {
		p.fail(elemConstant, m, err)
		return
	}
	p.add(elemConstant, c)
}

func (p *docParser) flag(n *node) {
	m, err := p.meta(n, elemFlag)
	if err != nil {
		p.fail(elemFlag, m, err)
		return
	}
	fl := &Flag{meta: m}

	emb, err := p.embedded(n.child("embeddeddata"))
	if err != nil {
		p.fail(elemFlag, m, err)
		return
	}
	if !emb.HasAddress {
		p.fail(elemFlag, m, missing("mmedaddress"))
		return
	}
	if emb.Float() {
		p.fail(elemFlag, m, unsupported("mmedtypeflags", "float flag"))
		return
	}
	fl.Embedded = emb

	f := fields{n: n}
	if !f.has("mask") {
		p.fail(elemFlag, m, missing("mask"))
		return
	}
	mask := f.int(0, "mask")
	if f.err != nil {
		p.fail(elemFlag, m, f.err)
		return
	}
	if mask <= 0 || uint64(mask)>>uint(emb.ElementBits) != 0 {
		p.fail(elemFlag, m, malformed("mask", fmt.Errorf("0x%X does not fit a %d-bit element", mask, emb.ElementBits)))
		return
	}
	_, width, ok := binimage.MaskField(uint64(mask))
	if !ok {
		p.fail(elemFlag, m, unsupported("mask", "non-contiguous mask 0x%X", mask))
		return
	}
	fl.Mask = uint64(mask)

	for _, sn := range n.all("state") {
		sf := fields{n: sn}
		v := sf.int(0, "value")
		if sf.err != nil || v < 0 {
			p.report.warn(elemFlag, m.ID, "state %q has no usable value, skipped", sn.str("name"))
			continue
		}
		name := sn.str("name", "title")
		if name == "" {
			name = sn.text
		}
		fl.States = append(fl.States, FlagState{Value: uint64(v), Name: name})
	}
	if len(fl.States) == 0 && width == 1 {
		fl.States = []FlagState{{Value: 0, Name: "off"}, {Value: 1, Name: "on"}}
	}
	p.add(elemFlag, fl)
}

func (p *docParser) checksum(n *node) {
	m, err := p.meta(n, elemChecksum)
	if err != nil {
		p.fail(elemChecksum, m, err)
		return
	}
	cs := &Checksum{ID: m.ID, Title: m.Title, Algorithm: strings.ToLower(n.str("algorithm", "method"))}
	if cs.Algorithm == "" {
		p.fail(elemChecksum, m, missing("algorithm"))
		return
	}

	regions := n.all("region")
	if len(regions) == 0 {
		regions = []*node{n}
	}
	for _, rn := range regions {
		f := fields{n: rn}
		if !f.has("start", "datastart", "startaddress") {
			continue
		}
		r := ChecksumRegion{Start: f.int(0, "start", "datastart", "startaddress")}
		switch {
		case f.has("end", "dataend", "endaddress"):
			r.End = f.int(0, "end", "dataend", "endaddress")
		case f.has("size"):
			r.End = r.Start + f.int(0, "size") - 1
		default:
			f.err = missing("region end")
		}
		if f.err != nil {
			p.fail(elemChecksum, m, f.err)
			return
		}
		if r.End < r.Start || r.Start < 0 {
			p.fail(elemChecksum, m, malformed("region", fmt.Errorf("empty range 0x%X-0x%X", r.Start, r.End)))
			return
		}
		cs.Regions = append(cs.Regions, r)
	}
	if len(cs.Regions) == 0 {
		p.fail(elemChecksum, m, missing("region"))
		return
	}

	store := n.child("store")
	if store == nil {
		store = n
	}
	f := fields{n: store}
	cs.Store = Embedded{
		HasAddress:  f.has("address", "storeaddress"),
		Address:     f.int(0, "address", "storeaddress"),
		ElementBits: int(f.int(16, "sizeinbits")),
	}
	if f.bool(false, "lsbfirst") {
		cs.Store.TypeFlags |= TypeLSBFirst
	}
	if f.err != nil {
		p.fail(elemChecksum, m, f.err)
		return
	}
	if !cs.Store.HasAddress {
		p.fail(elemChecksum, m, missing("store address"))
		return
	}
	if b := cs.Store.ElementBits; b != 8 && b != 16 && b != 32 {
		p.fail(elemChecksum, m, unsupported("sizeinbits", "%d-bit checksum", b))
		return
	}

	if p.checksums[cs.ID] {
		p.report.fail(&DefinitionError{Kind: DuplicateIdentifier, Element: elemChecksum, ItemID: cs.ID, Title: cs.Title})
		return
	}
	p.checksums[cs.ID] = true
	p.def.Checksums = append(p.def.Checksums, cs)
}

func (p *docParser) add(element string, it Item) {
	m := it.Meta()
	if prev, dup := p.def.index[m.ID]; dup {
		p.report.fail(&DefinitionError{
			Kind:    DuplicateIdentifier,
			Element: element,
			ItemID:  m.ID,
			Title:   m.Title,
			Err:     fmt.Errorf("already used by %s %q", prev.Kind(), prev.Meta().Title),
		})
		return
	}
	p.def.index[m.ID] = it
	switch v := it.(type) {
	case *Table:
		p.def.Tables = append(p.def.Tables, v)
	case *Constant:
		p.def.Constants = append(p.def.Constants, v)
	case *Flag:
		p.def.Flags = append(p.def.Flags, v)
	}
}

func (p *docParser) drop(it Item) {
	delete(p.def.index, it.Meta().ID)
	switch v := it.(type) {
	case *Table:
		p.def.Tables = without(p.def.Tables, v)
	case *Constant:
		p.def.Constants = without(p.def.Constants, v)
	case *Flag:
		p.def.Flags = without(p.def.Flags, v)
	}
}

func without[T comparable](s []T, v T) []T {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// linkAxes gives linked axes the data region of the table they point at.
func (p *docParser) linkAxes() {
	var broken []*Table
	for _, t := range p.def.Tables {
		for _, a := range []*Axis{&t.X, &t.Y} {
			if a.Source != AxisLinked {
				continue
			}
			target, ok := p.def.index[a.LinkID].(*Table)
			if !ok {
				p.fail(elemTable, t.meta, &fieldError{
					kind:  MissingRequiredField,
					field: "XDFAXIS " + a.ID + " embedinfo linkobjid",
					err:   fmt.Errorf("no table %s", a.LinkID),
				})
				broken = append(broken, t)
				break
			}
			a.Embedded = target.Z.Embedded
			if !a.ownMath {
				a.Math = target.Z.Math
			}
			if a.Embedded.Count() != a.Count {
				p.report.warn(elemTable, t.meta.ID, "linked axis %s has %d values for %d cells", a.ID, a.Embedded.Count(), a.Count)
			}
		}
	}
	for _, t := range broken {
		p.drop(t)
	}
}

// linkVars checks every linked equation variable names a constant.
func (p *docParser) linkVars() {
	check := func(element string, it Item, maths ...Math) bool {
		for _, m := range maths {
			for _, v := range m.Bound() {
				if v.Kind != VarLink {
					continue
				}
				if _, ok := p.def.index[v.LinkID].(*Constant); !ok {
					p.fail(element, *it.Meta(), &fieldError{
						kind:  MissingRequiredField,
						field: "var linkid",
						err:   fmt.Errorf("no constant %s", v.LinkID),
					})
					return false
				}
			}
		}
		return true
	}

	// dropping an item can break the items linking to it, so repeat until
	// a pass drops nothing
	for {
		var broken []Item
		for _, t := range p.def.Tables {
			if !check(elemTable, t, t.X.Math, t.Y.Math, t.Z.Math) {
				broken = append(broken, t)
			}
		}
		for _, c := range p.def.Constants {
			if !check(elemConstant, c, c.Math) {
				broken = append(broken, c)
			}
		}
		if len(broken) == 0 {
			return
		}
		for _, it := range broken {
			p.drop(it)
		}
	}
}
