// Package scanner looks for table-like data the definition does not cover.
package scanner

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/pterm/pterm"

	"github.com/tosih/xdftune/pkg/binimage"
)

// ScanResult holds information about a potential map location
type ScanResult struct {
	Offset     int
	Rows       int
	Cols       int
	DataType   string
	Endianness string
	Min        float64
	Max        float64
	Variance   float64
	Preview    string
}

// Size is a candidate grid shape.
type Size struct {
	Rows, Cols int
}

// Options tune the scan.
type Options struct {
	// Sizes default to 8x8, 8x16 and 16x16.
	Sizes []Size
	// Step is the offset increment, 0x40 when zero.
	Step int
	// Skip lists half-open byte spans that are already mapped. Windows
	// touching them are not reported.
	Skip [][2]int
}

var defaultSizes = []Size{{8, 8}, {8, 16}, {16, 16}}

// encoding is one element layout tried at every window, with the value
// spread a window needs before it looks like a map.
type encoding struct {
	el        binimage.Element
	minSpread float64
}

var encodings = []encoding{
	{binimage.Element{Size: 1}, 10},
	{binimage.Element{Size: 2, Order: binary.LittleEndian}, 100},
	{binimage.Element{Size: 2, Order: binary.BigEndian}, 100},
}

// Scan returns candidate grids in img, outside opts.Skip.
func Scan(img *binimage.Image, opts Options) []ScanResult {
	sizes := opts.Sizes
	if len(sizes) == 0 {
		sizes = defaultSizes
	}
	step := opts.Step
	if step <= 0 {
		step = 0x40
	}
	skip := append([][2]int(nil), opts.Skip...)
	sort.Slice(skip, func(i, j int) bool { return skip[i][0] < skip[j][0] })

	var results []ScanResult
	for _, size := range sizes {
		for _, enc := range encodings {
			n := size.Rows * size.Cols * enc.el.Size
			for offset := 0; offset+n <= img.Len(); offset += step {
				if mapped(skip, offset, offset+n) {
					continue
				}
				if r, ok := window(img, offset, size, enc); ok {
					results = append(results, r)
				}
			}
		}
	}
	return results
}

// mapped reports whether [start, end) touches a span of the sorted skip list.
func mapped(skip [][2]int, start, end int) bool {
	i := sort.Search(len(skip), func(i int) bool { return skip[i][1] > start })
	return i < len(skip) && skip[i][0] < end
}

// window decodes one rows x cols grid at offset and keeps it when its values
// spread enough.
func window(img *binimage.Image, offset int, size Size, enc encoding) (ScanResult, bool) {
	el := enc.el
	values := make([]float64, size.Rows*size.Cols)
	for i := range values {
		v, err := img.Value(offset+i*el.Size, el)
		if err != nil {
			return ScanResult{}, false
		}
		values[i] = v
	}

	min, max, variance := stats(values)
	if max-min < enc.minSpread || max == 0 {
		return ScanResult{}, false
	}

	var preview strings.Builder
	for i := 0; i < 8/el.Size && i < len(values); i++ {
		fmt.Fprintf(&preview, "%0*X ", 2*el.Size, uint64(values[i]))
	}
	preview.WriteString("...")

	endian := "N/A"
	switch {
	case el.Size == 1:
	case el.Order == binary.LittleEndian:
		endian = "LE"
	default:
		endian = "BE"
	}

	return ScanResult{
		Offset:     offset,
		Rows:       size.Rows,
		Cols:       size.Cols,
		DataType:   fmt.Sprintf("uint%d", el.Bits()),
		Endianness: endian,
		Min:        min,
		Max:        max,
		Variance:   variance,
		Preview:    preview.String(),
	}, true
}

// stats returns the range and population variance of values.
func stats(values []float64) (min, max, variance float64) {
	if len(values) == 0 {
		return 0, 0, 0
	}
	min, max = values[0], values[0]
	var mean, m2 float64
	for i, v := range values {
		min = math.Min(min, v)
		max = math.Max(max, v)
		d := v - mean
		mean += d / float64(i+1)
		m2 += d * (v - mean)
	}
	return min, max, m2 / float64(len(values))
}

// Display prints the results as a table.
func Display(results []ScanResult, imageLen, skipped int) {
	pterm.Info.Printf("Image: %d bytes (0x%X), %d bytes already mapped\n", imageLen, imageLen, skipped)
	pterm.Println()
	pterm.DefaultSection.Println("Potential Map Locations")

	if len(results) == 0 {
		pterm.Info.Println("No potential maps found")
		return
	}

	tableData := pterm.TableData{
		{"Offset", "Size", "Type", "Endian", "Min", "Max", "Variance", "Preview"},
	}

	for _, result := range results {
		tableData = append(tableData, []string{
			fmt.Sprintf("0x%04X", result.Offset),
			fmt.Sprintf("%dx%d", result.Rows, result.Cols),
			result.DataType,
			result.Endianness,
			fmt.Sprintf("%.0f", result.Min),
			fmt.Sprintf("%.0f", result.Max),
			fmt.Sprintf("%.1f", result.Variance),
			result.Preview,
		})
	}

	pterm.DefaultTable.WithHasHeader().WithData(tableData).Render()
	pterm.Info.Printf("\nFound %d potential map(s)\n", len(results))
}
