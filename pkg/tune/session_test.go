package tune

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tosih/xdftune/pkg/binimage"
	"github.com/tosih/xdftune/pkg/journal"
	"github.com/tosih/xdftune/pkg/layout"
	"github.com/tosih/xdftune/pkg/xdf"
)

const testXDF = `<XDFFORMAT version="1.60">
  <XDFHEADER>
    <deftitle>session fixture</deftitle>
    <DEFAULTS datasizeinbits="8" sigdigits="2" />
    <CATEGORY index="0x0" name="Fuel" />
    <CATEGORY index="0x1" name="Ignition" />
  </XDFHEADER>
  <XDFCONSTANT uniqueid="0x100A">
    <title>Idle target</title>
    <CATEGORYMEM index="0" category="1" />
    <EMBEDDEDDATA mmedaddress="0x100" mmedelementsizebits="8" />
    <units>rpm</units>
    <decimalpl>1</decimalpl>
    <rangelow>0</rangelow>
    <rangehigh>191.25</rangehigh>
    <MATH equation="X*0.75"><VAR id="X" /></MATH>
  </XDFCONSTANT>
  <XDFCONSTANT uniqueid="0x1010">
    <title>Gain</title>
    <EMBEDDEDDATA mmedaddress="0x110" mmedelementsizebits="8" />
    <MATH equation="X*K"><VAR id="X" /><VAR id="K" type="link" linkid="0x1011" /></MATH>
  </XDFCONSTANT>
  <XDFCONSTANT uniqueid="0x1011">
    <title>K factor</title>
    <EMBEDDEDDATA mmedaddress="0x111" mmedelementsizebits="8" />
    <MATH equation="X/10"><VAR id="X" /></MATH>
  </XDFCONSTANT>
  <XDFCONSTANT uniqueid="0x1020">
    <title>Loop A</title>
    <EMBEDDEDDATA mmedaddress="0x120" mmedelementsizebits="8" />
    <MATH equation="X+B"><VAR id="X" /><VAR id="B" type="link" linkid="0x1021" /></MATH>
  </XDFCONSTANT>
  <XDFCONSTANT uniqueid="0x1021">
    <title>Loop B</title>
    <EMBEDDEDDATA mmedaddress="0x121" mmedelementsizebits="8" />
    <MATH equation="X+A"><VAR id="X" /><VAR id="A" type="link" linkid="0x1020" /></MATH>
  </XDFCONSTANT>
  <XDFCONSTANT uniqueid="0x1030">
    <title>Offset sum</title>
    <EMBEDDEDDATA mmedaddress="0x130" mmedelementsizebits="8" />
    <MATH equation="X+B"><VAR id="X" /><VAR id="B" type="address" address="0x131" sizeinbits="8" /></MATH>
  </XDFCONSTANT>
  <XDFCONSTANT uniqueid="0x1040">
    <title>Trim offset</title>
    <EMBEDDEDDATA mmedaddress="0x140" mmedelementsizebits="32" mmedtypeflags="0x03" />
    <decimalpl>2</decimalpl>
    <MATH equation="X*0.01"><VAR id="X" /></MATH>
  </XDFCONSTANT>
  <XDFCONSTANT uniqueid="0x1041">
    <title>Boost ratio</title>
    <EMBEDDEDDATA mmedaddress="0x150" mmedelementsizebits="32" mmedtypeflags="0x10002" />
  </XDFCONSTANT>
  <XDFCONSTANT uniqueid="0x1042">
    <title>Odometer</title>
    <EMBEDDEDDATA mmedaddress="0x160" mmedelementsizebits="32" />
    <MATH equation="X/1000"><VAR id="X" /></MATH>
  </XDFCONSTANT>
  <XDFCONSTANT uniqueid="0x10FF">
    <title>Beyond the end</title>
    <EMBEDDEDDATA mmedaddress="0x9000" mmedelementsizebits="8" />
  </XDFCONSTANT>
  <XDFTABLE uniqueid="0x2000">
    <title>Ignition advance</title>
    <CATEGORYMEM index="0" category="2" />
    <XDFAXIS id="x">
      <EMBEDDEDDATA mmedaddress="0x1F0" mmedelementsizebits="8" />
      <indexcount>3</indexcount>
      <MATH equation="X*40"><VAR id="X" /></MATH>
    </XDFAXIS>
    <XDFAXIS id="y">
      <indexcount>4</indexcount>
      <LABEL index="0" value="10" />
      <LABEL index="1" value="20" />
      <LABEL index="2" value="40" />
      <LABEL index="3" value="80" />
    </XDFAXIS>
    <XDFAXIS id="z">
      <EMBEDDEDDATA mmedaddress="0x200" mmedelementsizebits="16" mmedrowcount="4" mmedcolcount="3" />
      <units>deg</units>
      <decimalpl>1</decimalpl>
      <min>-10</min>
      <max>60</max>
      <MATH equation="X*0.5-10"><VAR id="X" /></MATH>
    </XDFAXIS>
  </XDFTABLE>
  <XDFFLAG uniqueid="0x3000">
    <title>Lambda control</title>
    <EMBEDDEDDATA mmedaddress="0x300" mmedelementsizebits="8" />
    <mask>0x01</mask>
  </XDFFLAG>
  <XDFFLAG uniqueid="0x3001">
    <title>Knock mode</title>
    <EMBEDDEDDATA mmedaddress="0x300" mmedelementsizebits="8" />
    <mask>0x0C</mask>
    <STATE value="0" name="off" />
    <STATE value="1" name="detect" />
    <STATE value="2" name="retard" />
  </XDFFLAG>
  <XDFCHECKSUM uniqueid="0x4000">
    <title>Main checksum</title>
    <algorithm>sum16be</algorithm>
    <REGION start="0x0" end="0x7FFD" />
    <STORE address="0x7FFE" sizeinbits="16" />
  </XDFCHECKSUM>
</XDFFORMAT>`

func testDefinition(t *testing.T) *xdf.Definition {
	t.Helper()
	def, rep, err := xdf.Parse(strings.NewReader(testXDF))
	require.NoError(t, err)
	require.True(t, rep.OK(), "parse errors: %v", rep.Err())
	return def
}

// testImage fills the fixture addresses with known raw values.
func testImage() []byte {
	b := make([]byte, 0x8000)
	b[0x100] = 200
	b[0x110], b[0x111] = 4, 25
	b[0x120], b[0x121] = 1, 2
	b[0x130], b[0x131] = 5, 7
	trim := int32(-123456)
	binary.LittleEndian.PutUint32(b[0x140:], uint32(trim))
	binary.LittleEndian.PutUint32(b[0x150:], math.Float32bits(3.5))
	binary.BigEndian.PutUint32(b[0x160:], 4000000000)
	b[0x1F0], b[0x1F1], b[0x1F2] = 10, 20, 30
	for i := 0; i < 12; i++ {
		raw := 20 + 10*i
		b[0x200+2*i] = byte(raw >> 8)
		b[0x200+2*i+1] = byte(raw)
	}
	b[0x300] = 0x09 // lambda on, knock retard
	return b
}

func newSession(t *testing.T, opts Options) *Session {
	t.Helper()
	s := New(testDefinition(t), binimage.New(testImage()), opts)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConstantScenario(t *testing.T) {
	s := newSession(t, Options{})

	v, err := s.Read("0x100A")
	require.NoError(t, err)
	assert.Equal(t, 150.0, v.Value)
	assert.Equal(t, 200.0, v.Raw)
	assert.Equal(t, "150.0 rpm", v.String())

	require.NoError(t, s.Write("0x100A", 75))

	want := testImage()
	want[0x100] = 0x64
	assert.Empty(t, cmp.Diff(want, s.Snapshot()))
	assert.True(t, s.Dirty())

	v, err = s.Read("Idle target")
	require.NoError(t, err)
	assert.Equal(t, 75.0, v.Value)
}

func TestGridScenario(t *testing.T) {
	s := newSession(t, Options{})

	loc, ok := s.Layout().Lookup("0x2000", layout.PartValue)
	require.True(t, ok)
	assert.Equal(t, 0x20A, loc.ElementOffset(1, 2))

	v, err := s.ReadCell("0x2000", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 25.0, v) // raw 0x0046

	require.NoError(t, s.WriteCell("0x2000", 1, 2, 30))
	want := testImage()
	want[0x20A], want[0x20B] = 0x00, 0x50
	assert.Empty(t, cmp.Diff(want, s.Snapshot()))

	_, err = s.ReadCell("0x2000", 4, 0)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	err = s.WriteCell("0x2000", 0, 3, 1)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestReadTable(t *testing.T) {
	s := newSession(t, Options{})

	g, err := s.ReadTable("Ignition advance")
	require.NoError(t, err)
	assert.Equal(t, 4, g.Rows)
	assert.Equal(t, 3, g.Cols)
	assert.Equal(t, "deg", g.Units)
	assert.Equal(t, []float64{0, 5, 10}, g.Values[0])
	assert.Equal(t, []float64{45, 50, 55}, g.Values[3])
	assert.Equal(t, []float64{110, 120, 130}, g.Raw[3])

	assert.Equal(t, []float64{400, 800, 1200}, g.X.Values)
	assert.Equal(t, xdf.AxisEmbedded, g.X.Source)
	assert.Equal(t, []float64{10, 20, 40, 80}, g.Y.Values)
	assert.Equal(t, "40", g.Y.Format(2))

	ax, err := s.AxisValues("0x2000", "X")
	require.NoError(t, err)
	assert.Equal(t, g.X, ax)
	_, err = s.AxisValues("0x2000", "w")
	assert.ErrorIs(t, err, ErrWrongKind)
}

func TestRoundTrip(t *testing.T) {
	s := newSession(t, Options{})
	orig := s.Snapshot()

	for _, it := range s.Items() {
		id := it.Meta().ID
		switch it.(type) {
		case *xdf.Table:
			g, err := s.ReadTable(id)
			require.NoError(t, err, id)
			require.NoError(t, s.WriteTable(id, g.Values), id)
			ax, err := s.AxisValues(id, "x")
			require.NoError(t, err)
			require.NoError(t, s.WriteAxis(id, "x", ax.Values), id)
		default:
			v, err := s.Read(id)
			if err != nil {
				continue // unresolved or cyclic
			}
			require.NoError(t, s.Write(id, v.Value), id)
		}
	}
	assert.Empty(t, cmp.Diff(orig, s.Snapshot()))
	assert.False(t, s.Dirty())
}

func TestFlagIsolation(t *testing.T) {
	s := newSession(t, Options{})

	v, err := s.Read("Knock mode")
	require.NoError(t, err)
	assert.Equal(t, "retard", v.State)
	assert.Equal(t, "retard", v.String())

	require.NoError(t, s.SetFlag("Knock mode", "detect"))
	assert.Equal(t, byte(0x05), s.Snapshot()[0x300])

	lambda, err := s.Read("0x3000")
	require.NoError(t, err)
	assert.Equal(t, 1.0, lambda.Value)
	assert.Equal(t, "on", lambda.State)

	require.NoError(t, s.Write("0x3000", 0))
	assert.Equal(t, byte(0x04), s.Snapshot()[0x300])

	for _, tc := range []struct {
		name string
		err  error
	}{
		{"name", s.SetFlag("Knock mode", "sport")},
		{"too wide", s.SetFlag("Knock mode", "7")},
		{"fraction", s.Write("0x3000", 0.5)},
		{"negative", s.Write("0x3000", -1)},
		{"huge", s.Write("0x3001", 1e20)},
		{"past 32 bits", s.Write("0x3001", 1<<32)},
		{"infinite", s.Write("0x3001", math.Inf(1))},
		{"nan", s.Write("0x3001", math.NaN())},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.err, ErrValueOutOfRange)
		})
	}
	assert.Equal(t, byte(0x04), s.Snapshot()[0x300])

	err = s.SetFlag("0x100A", "on")
	assert.ErrorIs(t, err, ErrWrongKind)
}

func TestRangePolicy(t *testing.T) {
	t.Run("reject", func(t *testing.T) {
		s := newSession(t, Options{})
		orig := s.Snapshot()

		err := s.Write("0x100A", 200)
		assert.ErrorIs(t, err, ErrValueOutOfRange)
		var ie *ItemError
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, "0x100A", ie.ItemID)

		assert.ErrorIs(t, s.WriteCell("0x2000", 0, 0, 61), ErrValueOutOfRange)
		// no declared range, but 1000/2.5 does not fit a byte
		assert.ErrorIs(t, s.Write("Gain", 1000), ErrValueOutOfRange)
		assert.Empty(t, cmp.Diff(orig, s.Snapshot()))
		assert.False(t, s.Dirty())
	})

	t.Run("clamp", func(t *testing.T) {
		s := newSession(t, Options{RangePolicy: RangeClamp})

		require.NoError(t, s.Write("0x100A", 200))
		assert.Equal(t, byte(255), s.Snapshot()[0x100])

		require.NoError(t, s.WriteCell("0x2000", 0, 0, 61))
		v, err := s.ReadCell("0x2000", 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 60.0, v)

		require.NoError(t, s.Write("Gain", 1000))
		assert.Equal(t, byte(255), s.Snapshot()[0x110])
	})

	for in, want := range map[string]RangePolicy{"": RangeReject, "Clamp": RangeClamp, " reject ": RangeReject} {
		p, err := ParseRangePolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, p)
	}
	_, err := ParseRangePolicy("wrap")
	assert.Error(t, err)
}

func TestWriteTableAllOrNothing(t *testing.T) {
	s := newSession(t, Options{})
	orig := s.Snapshot()

	g, err := s.ReadTable("0x2000")
	require.NoError(t, err)
	g.Values[0][0] = 1
	g.Values[3][2] = 100

	err = s.WriteTable("0x2000", g.Values)
	assert.ErrorIs(t, err, ErrValueOutOfRange)
	var ie *ItemError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 3, ie.Row)
	assert.Equal(t, 2, ie.Col)
	assert.Empty(t, cmp.Diff(orig, s.Snapshot()))

	assert.ErrorIs(t, s.WriteTable("0x2000", g.Values[:2]), ErrShape)
	assert.ErrorIs(t, s.WriteTable("0x2000", [][]float64{{1}, {2}, {3}, {4}}), ErrShape)

	g.Values[3][2] = 55
	require.NoError(t, s.WriteTable("0x2000", g.Values))
	got, err := s.ReadTable("0x2000")
	require.NoError(t, err)
	assert.Equal(t, g.Values, got.Values)
}

func TestWriteAxis(t *testing.T) {
	s := newSession(t, Options{})

	require.NoError(t, s.WriteAxis("0x2000", "x", []float64{440, 840, 1240}))
	snap := s.Snapshot()
	assert.Equal(t, []byte{11, 21, 31}, snap[0x1F0:0x1F3])

	assert.ErrorIs(t, s.WriteAxis("0x2000", "y", []float64{1, 2, 3, 4}), ErrReadOnlyAxis)
	assert.ErrorIs(t, s.WriteAxis("0x2000", "x", []float64{1, 2}), ErrShape)
	assert.ErrorIs(t, s.WriteAxis("0x100A", "x", []float64{1}), ErrWrongKind)
}

func TestLinkedVariables(t *testing.T) {
	s := newSession(t, Options{})

	v, err := s.Read("Gain")
	require.NoError(t, err)
	assert.Equal(t, 10.0, v.Value)

	require.NoError(t, s.Write("K factor", 5))
	v, err = s.Read("Gain")
	require.NoError(t, err)
	assert.Equal(t, 20.0, v.Value)

	require.NoError(t, s.Write("Gain", 30))
	assert.Equal(t, byte(6), s.Snapshot()[0x110])

	v, err = s.Read("Offset sum")
	require.NoError(t, err)
	assert.Equal(t, 12.0, v.Value)

	_, err = s.Read("Loop A")
	assert.ErrorIs(t, err, ErrLinkCycle)
	assert.ErrorIs(t, s.Write("Loop B", 3), ErrLinkCycle)
}

func TestWideElements(t *testing.T) {
	s := newSession(t, Options{})

	v, err := s.Read("Trim offset")
	require.NoError(t, err)
	assert.Equal(t, -123456.0, v.Raw)
	assert.InDelta(t, -1234.56, v.Value, 1e-9)
	assert.Equal(t, "-1234.56", v.String())

	v, err = s.Read("Boost ratio")
	require.NoError(t, err)
	assert.Equal(t, 3.5, v.Value)

	v, err = s.Read("Odometer")
	require.NoError(t, err)
	assert.Equal(t, 4000000.0, v.Value)

	require.NoError(t, s.Write("Trim offset", -1000))
	require.NoError(t, s.Write("Boost ratio", 0.25))
	require.NoError(t, s.Write("Odometer", 4294967.295))

	want := testImage()
	trim := int32(-100000)
	binary.LittleEndian.PutUint32(want[0x140:], uint32(trim))
	binary.LittleEndian.PutUint32(want[0x150:], math.Float32bits(0.25))
	binary.BigEndian.PutUint32(want[0x160:], math.MaxUint32)
	assert.Empty(t, cmp.Diff(want, s.Snapshot()))

	tests := []struct {
		key string
		v   float64
	}{
		{"Trim offset", 21474836.48},
		{"Trim offset", -21474836.49},
		{"Odometer", 4294967.296},
		{"Odometer", -0.001},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, s.Write(tt.key, tt.v), ErrValueOutOfRange, "%s = %v", tt.key, tt.v)
	}
	assert.Empty(t, cmp.Diff(want, s.Snapshot()))
}

// Addresses and counts near the integer limits resolve to errors, never to
// a panic or a wrapped offset.
func TestHugeAddresses(t *testing.T) {
	const src = `<XDFFORMAT version="1.60">
  <XDFHEADER><deftitle>huge</deftitle></XDFHEADER>
  <XDFCONSTANT uniqueid="0x1">
    <title>Far constant</title>
    <EMBEDDEDDATA mmedaddress="0x7FFFFFFFFFFFFFFF" mmedelementsizebits="32" />
  </XDFCONSTANT>
  <XDFTABLE uniqueid="0x2">
    <title>Long table</title>
    <XDFAXIS id="x"><indexcount>1</indexcount></XDFAXIS>
    <XDFAXIS id="y"><indexcount>65536</indexcount></XDFAXIS>
    <XDFAXIS id="z">
      <EMBEDDEDDATA mmedaddress="0x10" mmedelementsizebits="16" mmedrowcount="65536" mmedcolcount="1" />
    </XDFAXIS>
  </XDFTABLE>
  <XDFTABLE uniqueid="0x3">
    <title>Wide stride</title>
    <XDFAXIS id="x"><indexcount>2</indexcount></XDFAXIS>
    <XDFAXIS id="y"><indexcount>2</indexcount></XDFAXIS>
    <XDFAXIS id="z">
      <EMBEDDEDDATA mmedaddress="0x10" mmedelementsizebits="8" mmedrowcount="2" mmedcolcount="2" mmedmajorstridebits="0x7FFFFFFFFFFFFFF8" />
    </XDFAXIS>
  </XDFTABLE>
</XDFFORMAT>`
	def, rep, err := xdf.Parse(strings.NewReader(src))
	require.NoError(t, err)
	require.True(t, rep.OK(), "parse errors: %v", rep.Err())

	s := New(def, binimage.New(make([]byte, 0x100)), Options{})
	defer s.Close()

	errs := s.Resolution().Errors
	require.Len(t, errs, 3)
	for _, err := range errs {
		assert.ErrorIs(t, err, layout.ErrOutOfBounds)
	}

	_, err = s.Read("Far constant")
	assert.ErrorIs(t, err, ErrUnresolvedItem)
	assert.ErrorIs(t, s.Write("Far constant", 1), ErrUnresolvedItem)
	for _, key := range []string{"Long table", "Wide stride"} {
		_, err = s.ReadTable(key)
		assert.ErrorIs(t, err, ErrUnresolvedItem, key)
		assert.ErrorIs(t, s.WriteCell(key, 1, 0, 1), ErrUnresolvedItem, key)
	}
	assert.False(t, s.Dirty())
}

func TestLookupErrors(t *testing.T) {
	s := newSession(t, Options{})

	_, err := s.Read("nope")
	assert.ErrorIs(t, err, ErrUnknownItem)

	_, err = s.Read("Beyond the end")
	assert.ErrorIs(t, err, ErrUnresolvedItem)
	require.Len(t, s.Resolution().Errors, 1)
	assert.ErrorIs(t, s.Resolution().Errors[0], layout.ErrOutOfBounds)

	_, err = s.Read("0x2000")
	assert.ErrorIs(t, err, ErrWrongKind)
	assert.ErrorIs(t, s.Write("0x2000", 1), ErrWrongKind)
	_, err = s.ReadTable("0x100A")
	assert.ErrorIs(t, err, ErrWrongKind)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := newSession(t, Options{})

	snap := s.Snapshot()
	snap[0x100] = 0
	v, err := s.Read("0x100A")
	require.NoError(t, err)
	assert.Equal(t, 150.0, v.Value)
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tune.bin")
	j := &journal.Memory{}
	s := newSession(t, Options{UpdateChecksums: true, Journal: j})

	res, err := s.VerifyChecksums()
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.False(t, res[0].OK())

	require.NoError(t, s.Write("0x100A", 75))
	results, err := s.Save(path)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0x7FFE, results[0].Offset)
	assert.False(t, s.Dirty())

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(s.Snapshot(), onDisk))

	res, err = s.VerifyChecksums()
	require.NoError(t, err)
	assert.True(t, res[0].OK())

	var sum uint16
	for i := 0; i < 0x7FFE; i += 2 {
		sum += uint16(onDisk[i])<<8 | uint16(onDisk[i+1])
	}
	assert.Equal(t, sum, uint16(onDisk[0x7FFE])<<8|uint16(onDisk[0x7FFF]))

	var kinds []journal.Kind
	for _, e := range j.Entries() {
		assert.Equal(t, s.ID(), e.Session)
		assert.False(t, e.Timestamp.IsZero())
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []journal.Kind{journal.KindWrite, journal.KindChecksum, journal.KindSave}, kinds)
	assert.Equal(t, path, j.Entries()[2].Path)
}

func TestSaveFailureLeavesModel(t *testing.T) {
	s := newSession(t, Options{UpdateChecksums: true})
	require.NoError(t, s.Write("0x100A", 75))
	before := s.Snapshot()

	_, err := s.Save(filepath.Join(t.TempDir(), "missing", "tune.bin"))
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "save", ioErr.Op)

	assert.True(t, s.Dirty())
	assert.Empty(t, cmp.Diff(before, s.Snapshot()))
}

func TestSaveBackup(t *testing.T) {
	dir := t.TempDir()
	backups := filepath.Join(dir, "backups")
	path := filepath.Join(dir, "tune.bin")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	s := newSession(t, Options{Backup: true, BackupDir: backups})
	_, err := s.Save(path)
	require.NoError(t, err)

	entries, err := os.ReadDir(backups)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	old, err := os.ReadFile(filepath.Join(backups, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "old", string(old))
}

func TestApplyChecksums(t *testing.T) {
	j := &journal.Memory{}
	s := newSession(t, Options{Journal: j})

	res, err := s.ApplyChecksums()
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.True(t, res[0].OK())
	assert.True(t, s.Dirty())

	entries := j.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, journal.KindChecksum, entries[0].Kind)
	assert.Equal(t, []byte{0, 0}, entries[0].Before)
	assert.Equal(t, s.Snapshot()[0x7FFE:], entries[0].After)

	_, err = s.ApplyChecksums()
	require.NoError(t, err)
	assert.Len(t, j.Entries(), 1)
}

func TestJournalWrite(t *testing.T) {
	j := &journal.Memory{}
	s := newSession(t, Options{Journal: j})

	require.NoError(t, s.Write("0x100A", 75))
	require.NoError(t, s.Write("0x100A", 75)) // unchanged, not journaled
	require.NoError(t, s.WriteCell("0x2000", 2, 1, 40))

	entries := j.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, journal.KindWrite, entries[0].Kind)
	assert.Equal(t, 0x100, entries[0].Offset)
	assert.Equal(t, []byte{200}, entries[0].Before)
	assert.Equal(t, []byte{0x64}, entries[0].After)
	assert.Equal(t, 75.0, entries[0].Value)

	assert.Equal(t, "z", entries[1].Part)
	assert.Equal(t, 2, entries[1].Row)
	assert.Equal(t, 1, entries[1].Col)
	assert.Equal(t, 0x20E, entries[1].Offset)
	assert.Equal(t, []byte{0, 100}, entries[1].After)
}

type failingJournal struct{}

func (failingJournal) Record(journal.Entry) error { return errors.New("disk full") }
func (failingJournal) Close() error               { return nil }

func TestJournalFailureIsReturned(t *testing.T) {
	s := newSession(t, Options{Journal: failingJournal{}})

	err := s.Write("0x100A", 75)
	assert.EqualError(t, err, "disk full")
	// the write itself happened
	assert.Equal(t, byte(0x64), s.Snapshot()[0x100])
}

func TestReplace(t *testing.T) {
	s := newSession(t, Options{})
	require.NoError(t, s.Write("0x100A", 75))

	rep, err := s.Replace(binimage.New(make([]byte, 0x100)))
	require.NoError(t, err)
	assert.False(t, s.Dirty())
	assert.Equal(t, 0x100, s.Len())
	assert.False(t, rep.OK())

	_, err = s.Read("0x100A")
	assert.ErrorIs(t, err, ErrUnresolvedItem)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	defPath := filepath.Join(dir, "def.xdf")
	binPath := filepath.Join(dir, "tune.bin")
	require.NoError(t, os.WriteFile(defPath, []byte(testXDF), 0o644))
	require.NoError(t, os.WriteFile(binPath, testImage(), 0o644))

	s, rep, err := Open(defPath, binPath, Options{})
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, rep.OK())
	assert.Len(t, s.Categories(), 3)
	v, err := s.Read("0x100A")
	require.NoError(t, err)
	assert.Equal(t, 150.0, v.Value)

	s, _, err = Open(defPath, filepath.Join(dir, "missing.bin"), Options{})
	assert.Nil(t, s)
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "load image", ioErr.Op)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestConcurrentReaders(t *testing.T) {
	s := newSession(t, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 100; n++ {
				g, err := s.ReadTable("0x2000")
				if !assert.NoError(t, err) {
					return
				}
				// a write covers the whole first row or none of it
				assert.Equal(t, g.Values[0][0], g.Values[0][1]-5)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for n := 0; n < 50; n++ {
			base := float64(n % 10)
			assert.NoError(t, s.WriteTable("0x2000", [][]float64{
				{base, base + 5, base + 10},
				{15, 20, 25},
				{30, 35, 40},
				{45, 50, 55},
			}))
		}
	}()
	wg.Wait()
}
