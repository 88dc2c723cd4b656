package layout

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tosih/xdftune/pkg/binimage"
	"github.com/tosih/xdftune/pkg/xdf"
)

func parse(t *testing.T, header, items string) *xdf.Definition {
	t.Helper()
	doc := `<XDFFORMAT><XDFHEADER>` + header + `</XDFHEADER>` + items + `</XDFFORMAT>`
	def, rep, err := xdf.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.True(t, rep.OK(), "%v", rep.Err())
	return def
}

func TestResolveRowMajorGrid(t *testing.T) {
	def := parse(t, "", `<XDFTABLE uniqueid="0x1"><title>grid</title><XDFAXIS id="z">
		<EMBEDDEDDATA mmedaddress="0x200" mmedelementsizebits="16" mmedrowcount="4" mmedcolcount="3" />
	</XDFAXIS></XDFTABLE>`)

	l, rep := Resolve(def, 0x1000, Options{})
	require.True(t, rep.OK())

	loc, ok := l.Lookup("0x1", PartValue)
	require.True(t, ok)
	assert.Equal(t, 2, loc.Element.Size)
	assert.Equal(t, binary.BigEndian, loc.Element.Order)
	assert.Equal(t, 6, loc.RowStride)
	assert.Equal(t, 2, loc.ColStride)
	assert.Equal(t, 0x20A, loc.ElementOffset(1, 2))
	assert.Equal(t, 0x200+24, loc.End())
	assert.Equal(t, loc.ElementOffset(1, 2), loc.Index(5))
}

func TestResolveColumnMajorAndStrides(t *testing.T) {
	def := parse(t, "", `
		<XDFTABLE uniqueid="0x1"><XDFAXIS id="z">
			<EMBEDDEDDATA mmedaddress="0x100" mmedelementsizebits="8" mmedrowcount="4" mmedcolcount="3" mmedtypeflags="0x04" />
		</XDFAXIS></XDFTABLE>
		<XDFTABLE uniqueid="0x2"><XDFAXIS id="z">
			<EMBEDDEDDATA mmedaddress="0x200" mmedelementsizebits="16" mmedrowcount="2" mmedcolcount="2" mmedmajorstridebits="64" mmedminorstridebits="16" mmedtypeflags="0x02" />
		</XDFAXIS></XDFTABLE>`)

	l, rep := Resolve(def, 0x1000, Options{})
	require.True(t, rep.OK(), "%v", rep.Err())

	cm, _ := l.Lookup("0x1", PartValue)
	assert.Equal(t, 1, cm.RowStride)
	assert.Equal(t, 4, cm.ColStride)
	assert.Equal(t, 0x100+2*4+1, cm.ElementOffset(1, 2))

	st, _ := l.Lookup("0x2", PartValue)
	assert.Equal(t, 8, st.RowStride)
	assert.Equal(t, 2, st.ColStride)
	assert.Equal(t, binary.LittleEndian, st.Element.Order)
	assert.Equal(t, 0x20A, st.ElementOffset(1, 1))
}

func TestResolveOutOfBoundsIsPerItem(t *testing.T) {
	def := parse(t, "", `
		<XDFCONSTANT uniqueid="0x1"><EMBEDDEDDATA mmedaddress="0xFF" mmedelementsizebits="16" /></XDFCONSTANT>
		<XDFCONSTANT uniqueid="0x2"><EMBEDDEDDATA mmedaddress="0xFE" mmedelementsizebits="16" /></XDFCONSTANT>
		<XDFTABLE uniqueid="0x3"><XDFAXIS id="z">
			<EMBEDDEDDATA mmedaddress="0xF4" mmedelementsizebits="8" mmedrowcount="4" mmedcolcount="4" />
		</XDFAXIS></XDFTABLE>
		<XDFFLAG uniqueid="0x4"><EMBEDDEDDATA mmedaddress="0x100" /><mask>0x80</mask></XDFFLAG>`)

	l, rep := Resolve(def, 0x100, Options{})
	require.Len(t, rep.Errors, 3)
	for _, e := range rep.Errors {
		assert.ErrorIs(t, e, ErrOutOfBounds)
		assert.ErrorIs(t, e, binimage.ErrOutOfBounds)
	}
	assert.ErrorIs(t, rep.Err(), ErrOutOfBounds)

	_, ok := l.Lookup("0x2", PartValue)
	assert.True(t, ok)
	assert.Equal(t, 1, l.Len())
}

func TestResolveBaseOffsetAndModes(t *testing.T) {
	def := parse(t,
		`<BASEOFFSET offset="0x8000" subtract="1" /><REGION startaddress="0x1000" size="0x1000" />`,
		`<XDFCONSTANT uniqueid="0x1"><EMBEDDEDDATA mmedaddress="0x9100" /></XDFCONSTANT>`)

	l, rep := Resolve(def, 0x2000, Options{})
	require.True(t, rep.OK())
	loc, _ := l.Lookup("0x1", PartValue)
	assert.Equal(t, 0x1100, loc.Offset)

	l, rep = Resolve(def, 0x2000, Options{Mode: FlashRelative})
	require.True(t, rep.OK())
	loc, _ = l.Lookup("0x1", PartValue)
	assert.Equal(t, 0x100, loc.Offset)
	assert.Equal(t, FlashRelative, l.Mode())

	l, rep = Resolve(def, 0x10000, Options{BaseOffset: &xdf.BaseOffset{Offset: 0x100}})
	require.True(t, rep.OK())
	loc, _ = l.Lookup("0x1", PartValue)
	assert.Equal(t, 0x9200, loc.Offset)
}

func TestResolveNegativeOffset(t *testing.T) {
	def := parse(t, `<BASEOFFSET offset="0x8000" subtract="1" />`,
		`<XDFCONSTANT uniqueid="0x1"><EMBEDDEDDATA mmedaddress="0x10" /></XDFCONSTANT>`)
	_, rep := Resolve(def, 0x100, Options{})
	require.Len(t, rep.Errors, 1)
	assert.ErrorIs(t, rep.Errors[0], ErrOutOfBounds)
}

func TestResolveHugeAddressesAndCounts(t *testing.T) {
	def := parse(t, "", `
		<XDFCONSTANT uniqueid="0x1"><EMBEDDEDDATA mmedaddress="0x7FFFFFFFFFFFFFFF" /></XDFCONSTANT>
		<XDFCONSTANT uniqueid="0x2"><EMBEDDEDDATA mmedaddress="0x7FFFFFFFFFFFFFFF" mmedelementsizebits="32" /></XDFCONSTANT>
		<XDFTABLE uniqueid="0x3"><XDFAXIS id="z">
			<EMBEDDEDDATA mmedaddress="0x10" mmedelementsizebits="8" mmedrowcount="1048576" mmedcolcount="1" />
		</XDFAXIS></XDFTABLE>
		<XDFTABLE uniqueid="0x4"><XDFAXIS id="z">
			<EMBEDDEDDATA mmedaddress="0x10" mmedelementsizebits="8" mmedrowcount="2" mmedcolcount="2" mmedmajorstridebits="0x7FFFFFFFFFFFFFF8" />
		</XDFAXIS></XDFTABLE>
		<XDFCONSTANT uniqueid="0x5"><EMBEDDEDDATA mmedaddress="0xFFF" /></XDFCONSTANT>`)

	l, rep := Resolve(def, 0x1000, Options{})
	require.Len(t, rep.Errors, 4, "%v", rep.Err())
	for _, e := range rep.Errors {
		assert.ErrorIs(t, e, ErrOutOfBounds)
	}
	_, ok := l.Lookup("0x5", PartValue)
	assert.True(t, ok)

	l, rep = Resolve(def, 0x1000, Options{BaseOffset: &xdf.BaseOffset{Offset: 0x10}})
	assert.Len(t, rep.Errors, 5)
	assert.Zero(t, l.Len())
}

func TestCheckDoesNotOverflow(t *testing.T) {
	l := &Layout{imageLen: 0x1000}
	el := binimage.Element{Size: 2}
	tests := []struct {
		name string
		loc  Location
	}{
		{"offset past end", Location{Offset: 0x1000, Element: el, Rows: 1, Cols: 1}},
		{"wrapping rows", Location{Offset: 0, Element: el, Rows: 1 << 62, Cols: 4, RowStride: 8, ColStride: 2}},
		{"wrapping cols", Location{Offset: 0x10, Element: el, Rows: 1, Cols: 1 << 62, ColStride: 2}},
		{"empty grid", Location{Offset: 0x10, Element: el}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, l.check(tt.loc), ErrOutOfBounds)
		})
	}
	assert.NoError(t, l.check(Location{Offset: 0xFFE, Element: el, Rows: 1, Cols: 1}))
}

func TestResolveFlagsAndAxes(t *testing.T) {
	def := parse(t, "", `
		<XDFFLAG uniqueid="0x1"><EMBEDDEDDATA mmedaddress="0x10" /><mask>0x01</mask></XDFFLAG>
		<XDFFLAG uniqueid="0x2"><EMBEDDEDDATA mmedaddress="0x10" /><mask>0x0C</mask></XDFFLAG>
		<XDFFLAG uniqueid="0x3"><EMBEDDEDDATA mmedaddress="0x10" /><mask>0x07</mask></XDFFLAG>
		<XDFTABLE uniqueid="0x4">
			<XDFAXIS id="x"><EMBEDDEDDATA mmedaddress="0x20" /><indexcount>4</indexcount></XDFAXIS>
			<XDFAXIS id="y"><EMBEDDEDDATA mmedaddress="0x24" /><indexcount>2</indexcount></XDFAXIS>
			<XDFAXIS id="z"><EMBEDDEDDATA mmedaddress="0x30" mmedrowcount="2" mmedcolcount="4" /></XDFAXIS>
		</XDFTABLE>`)

	l, rep := Resolve(def, 0x100, Options{})
	require.True(t, rep.OK(), "%v", rep.Err())

	f, _ := l.Lookup("0x2", PartValue)
	assert.True(t, f.IsBitField())
	assert.Equal(t, 2, f.BitOffset)
	assert.Equal(t, 2, f.BitWidth)

	x, ok := l.Lookup("0x4", PartX)
	require.True(t, ok)
	assert.Equal(t, 4, x.Count())
	assert.Equal(t, 0x23, x.Index(3))
	y, ok := l.Lookup("0x4", PartY)
	require.True(t, ok)
	assert.Equal(t, 2, y.Count())
	assert.Equal(t, 0x25, y.Index(1))

	// 0x1/0x2 share a byte with disjoint masks, 0x3 collides with both
	assert.ElementsMatch(t, []Overlap{
		{A: Key{"0x1", PartValue}, B: Key{"0x3", PartValue}},
		{A: Key{"0x2", PartValue}, B: Key{"0x3", PartValue}},
	}, l.Overlaps())

	assert.Equal(t, [][2]int{{0x10, 0x11}, {0x20, 0x26}, {0x30, 0x38}}, l.Covered())
}

func TestResolveBadMask(t *testing.T) {
	def := &xdf.Definition{}
	_, rep := Resolve(def, 0x100, Options{})
	assert.True(t, rep.OK())

	def = parse(t, "", `<XDFFLAG uniqueid="0x1"><EMBEDDEDDATA mmedaddress="0x10" mmedelementsizebits="16" /><mask>0x8000</mask></XDFFLAG>`)
	def.Flags[0].Mask = 0x5
	_, rep = Resolve(def, 0x100, Options{})
	require.Len(t, rep.Errors, 1)
	assert.ErrorIs(t, rep.Errors[0], ErrBadMask)
	assert.Equal(t, Key{ItemID: "0x1", Part: PartValue}, rep.Errors[0].Key)
}

func TestParseAddressMode(t *testing.T) {
	for in, want := range map[string]AddressMode{"": Absolute, "absolute": Absolute, "flash-relative": FlashRelative} {
		got, err := ParseAddressMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		if in != "" {
			assert.Equal(t, in, got.String())
		}
	}
	_, err := ParseAddressMode("paged")
	assert.Error(t, err)
}
