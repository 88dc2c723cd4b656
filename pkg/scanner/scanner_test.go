package scanner

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tosih/xdftune/pkg/binimage"
)

// ramp fills an 8x8 uint8 window with values 0..63 at off.
func ramp(b []byte, off int) {
	for i := 0; i < 64; i++ {
		b[off+i] = byte(i * 3)
	}
}

func TestScanFindsVariedWindow(t *testing.T) {
	data := make([]byte, 0x200)
	ramp(data, 0x80)

	results := Scan(binimage.New(data), Options{Sizes: []Size{{8, 8}}})

	var uint8Hits []ScanResult
	for _, r := range results {
		if r.DataType == "uint8" {
			uint8Hits = append(uint8Hits, r)
		}
	}
	require.Len(t, uint8Hits, 1)
	hit := uint8Hits[0]
	assert.Equal(t, 0x80, hit.Offset)
	assert.Equal(t, 0.0, hit.Min)
	assert.Equal(t, 189.0, hit.Max)
	assert.Equal(t, "00 03 06 09 0C 0F 12 15 ...", hit.Preview)
}

func TestScanSkipsMapped(t *testing.T) {
	data := make([]byte, 0x200)
	ramp(data, 0x80)
	ramp(data, 0x140)

	results := Scan(binimage.New(data), Options{
		Sizes: []Size{{8, 8}},
		Skip:  [][2]int{{0x150, 0x151}, {0x0, 0x10}},
	})
	for _, r := range results {
		if r.DataType != "uint8" {
			continue
		}
		assert.NotEqual(t, 0x140, r.Offset)
	}

	var offsets []int
	for _, r := range results {
		if r.DataType == "uint8" {
			offsets = append(offsets, r.Offset)
		}
	}
	assert.Equal(t, []int{0x80}, offsets)
}

func TestScanWordWindows(t *testing.T) {
	data := make([]byte, 0x200)
	for i := 0; i < 64; i++ {
		binary.BigEndian.PutUint16(data[0x100+2*i:], uint16(i*100))
	}

	results := Scan(binimage.New(data), Options{Sizes: []Size{{8, 8}}})

	var hit *ScanResult
	for i, r := range results {
		if r.Offset == 0x100 && r.DataType == "uint16" && r.Endianness == "BE" {
			hit = &results[i]
		}
	}
	require.NotNil(t, hit)
	assert.Equal(t, 0.0, hit.Min)
	assert.Equal(t, 6300.0, hit.Max)
	assert.Equal(t, "0000 0064 00C8 012C ...", hit.Preview)
	assert.InDelta(t, 3412500.0, hit.Variance, 1e-3)
}

func TestStats(t *testing.T) {
	min, max, variance := stats([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.Equal(t, 2.0, min)
	assert.Equal(t, 9.0, max)
	assert.InDelta(t, 4.0, variance, 1e-12)

	min, max, variance = stats(nil)
	assert.Zero(t, min+max+variance)
}

func TestScanFlatDataIsIgnored(t *testing.T) {
	data := make([]byte, 0x400)
	for i := range data {
		data[i] = 0x55
	}
	assert.Empty(t, Scan(binimage.New(data), Options{}))
}

func TestMapped(t *testing.T) {
	skip := [][2]int{{0x10, 0x20}, {0x40, 0x48}}
	tests := []struct {
		start, end int
		want       bool
	}{
		{0x00, 0x10, false},
		{0x00, 0x11, true},
		{0x1F, 0x30, true},
		{0x20, 0x40, false},
		{0x30, 0x60, true},
		{0x48, 0x50, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mapped(skip, tt.start, tt.end), "[0x%X, 0x%X)", tt.start, tt.end)
	}
}
