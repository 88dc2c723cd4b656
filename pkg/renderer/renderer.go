// Package renderer prints definitions and decoded items to the terminal.
package renderer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/tosih/xdftune/pkg/layout"
	"github.com/tosih/xdftune/pkg/tune"
	"github.com/tosih/xdftune/pkg/xdf"
)

// Cell styles.
const (
	StyleValues  = "values"
	StyleHeatmap = "heatmap"
	StyleSymbols = "symbols"
)

// Number modes.
const (
	ModePhysical = "physical"
	ModeRaw      = "raw"
	ModeHex      = "hex"
)

// Options select how grids are drawn.
type Options struct {
	Style string
	Mode  string
}

// RenderTable displays a decoded table in a titled box.
func RenderTable(g tune.Grid, opts Options) {
	min, max := findMinMax(cells(g, opts.Mode))
	title := fmt.Sprintf("%s | %s | %dx%d | Range: %s-%s %s",
		g.Title, g.ID, g.Rows, g.Cols, formatNumber(min, g.Decimals), formatNumber(max, g.Decimals), g.Units)

	pterm.DefaultBox.WithTitle(title).WithTitleTopLeft().Println(BuildGridString(g, opts))
}

func cells(g tune.Grid, mode string) [][]float64 {
	if mode == ModeRaw || mode == ModeHex {
		return g.Raw
	}
	return g.Values
}

func formatNumber(v float64, decimals int) string {
	return strconv.FormatFloat(v, 'f', max(decimals, 0), 64)
}

func formatCell(v float64, decimals int, mode string) string {
	switch mode {
	case ModeHex:
		return fmt.Sprintf("%X", int64(v))
	case ModeRaw:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return formatNumber(v, decimals)
}

// BuildGridString lays out a grid with its axis breakpoints as headers.
func BuildGridString(g tune.Grid, opts Options) string {
	var result strings.Builder
	data := cells(g, opts.Mode)
	min, max := findMinMax(data)

	width := 6
	if opts.Style == StyleValues || opts.Style == "" {
		for _, row := range data {
			for _, v := range row {
				width = max2(width, len(formatCell(v, g.Decimals, opts.Mode))+1)
			}
		}
	} else {
		width = 4
	}
	labelWidth := 8
	for r := 0; r < g.Rows; r++ {
		labelWidth = max2(labelWidth, len(g.Y.Format(r)))
	}

	// Header
	result.WriteString(fmt.Sprintf("%*s |", labelWidth, axisName(g.Y, "Y")+" ↓ "+axisName(g.X, "X")+" →"))
	result.WriteString("\n")
	result.WriteString(fmt.Sprintf("%*s |", labelWidth, ""))
	for c := 0; c < g.Cols; c++ {
		result.WriteString(fmt.Sprintf("%*s", width, g.X.Format(c)))
	}
	result.WriteString("\n")

	// Separator
	result.WriteString(strings.Repeat("-", labelWidth) + "-|" + strings.Repeat("-", g.Cols*width) + "\n")

	// Data rows
	for r := 0; r < g.Rows; r++ {
		result.WriteString(fmt.Sprintf("%*s |", labelWidth, g.Y.Format(r)))
		for c := 0; c < g.Cols; c++ {
			value := data[r][c]
			switch opts.Style {
			case StyleHeatmap:
				result.WriteString(" " + getHeatmapBlock(value, min, max) + " ")
			case StyleSymbols:
				symbol := getSymbolForValue(value, min, max)
				result.WriteString(symbol + symbol + symbol + symbol)
			default:
				color := getColorStyle(value, min, max)
				result.WriteString(color.Sprintf("%*s", width, formatCell(value, g.Decimals, opts.Mode)))
			}
		}
		result.WriteString("\n")
	}

	// Legend
	switch opts.Style {
	case StyleHeatmap:
		result.WriteString("\n" + getHeatmapLegend())
	case StyleSymbols:
		result.WriteString("\nLegend: ")
		result.WriteString(pterm.FgCyan.Sprint("░") + " Low  ")
		result.WriteString(pterm.FgGreen.Sprint("▒") + " Med  ")
		result.WriteString(pterm.FgYellow.Sprint("▓") + " High  ")
		result.WriteString(pterm.FgRed.Sprint("█") + " Max")
	}

	return result.String()
}

func axisName(a tune.AxisValues, fallback string) string {
	if a.Units != "" {
		return a.Units
	}
	return fallback
}

func max2(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func getHeatmapBlock(value, min, max float64) string {
	if max == min {
		return pterm.BgGray.Sprint("  ")
	}

	normalized := (value - min) / (max - min)

	switch {
	case normalized < 0.2:
		return pterm.NewStyle(pterm.BgBlue, pterm.FgWhite).Sprint("▄▄")
	case normalized < 0.4:
		return pterm.NewStyle(pterm.BgCyan, pterm.FgBlack).Sprint("▄▄")
	case normalized < 0.6:
		return pterm.NewStyle(pterm.BgGreen, pterm.FgBlack).Sprint("▄▄")
	case normalized < 0.8:
		return pterm.NewStyle(pterm.BgYellow, pterm.FgBlack).Sprint("▄▄")
	default:
		return pterm.NewStyle(pterm.BgRed, pterm.FgWhite).Sprint("▄▄")
	}
}

func getHeatmapLegend() string {
	var result strings.Builder
	result.WriteString("Heatmap: ")
	result.WriteString(pterm.NewStyle(pterm.BgBlue, pterm.FgWhite).Sprint("▄▄") + " Very Low  ")
	result.WriteString(pterm.NewStyle(pterm.BgCyan, pterm.FgBlack).Sprint("▄▄") + " Low  ")
	result.WriteString(pterm.NewStyle(pterm.BgGreen, pterm.FgBlack).Sprint("▄▄") + " Medium  ")
	result.WriteString(pterm.NewStyle(pterm.BgYellow, pterm.FgBlack).Sprint("▄▄") + " High  ")
	result.WriteString(pterm.NewStyle(pterm.BgRed, pterm.FgWhite).Sprint("▄▄") + " Very High")
	return result.String()
}

func getSymbolForValue(value, min, max float64) string {
	if max == min {
		return pterm.FgGray.Sprint("·")
	}

	normalized := (value - min) / (max - min)

	switch {
	case normalized < 0.25:
		return pterm.FgCyan.Sprint("░")
	case normalized < 0.5:
		return pterm.FgGreen.Sprint("▒")
	case normalized < 0.75:
		return pterm.FgYellow.Sprint("▓")
	default:
		return pterm.FgRed.Sprint("█")
	}
}

func getColorStyle(value, min, max float64) *pterm.Style {
	if max == min {
		return pterm.NewStyle(pterm.FgGray)
	}

	normalized := (value - min) / (max - min)

	switch {
	case normalized < 0.25:
		return pterm.NewStyle(pterm.FgCyan)
	case normalized < 0.5:
		return pterm.NewStyle(pterm.FgGreen)
	case normalized < 0.75:
		return pterm.NewStyle(pterm.FgYellow)
	default:
		return pterm.NewStyle(pterm.FgRed)
	}
}

func findMinMax(data [][]float64) (float64, float64) {
	if len(data) == 0 || len(data[0]) == 0 {
		return 0, 0
	}
	min := data[0][0]
	max := data[0][0]

	for _, row := range data {
		for _, val := range row {
			if val < min {
				min = val
			}
			if val > max {
				max = val
			}
		}
	}

	return min, max
}

// ItemRows builds the listing table of every item, grouped by category.
func ItemRows(s *tune.Session) [][]string {
	data := [][]string{
		{"Category", "ID", "Kind", "Title", "Offset", "Size", "Units"},
	}
	lay := s.Layout()
	for _, cat := range s.Categories() {
		for _, it := range cat.Items {
			offset, size := "unresolved", ""
			if loc, ok := lay.Lookup(it.Meta().ID, layout.PartValue); ok {
				offset = fmt.Sprintf("0x%04X", loc.Offset)
				size = fmt.Sprintf("%dx%d %s", loc.Rows, loc.Cols, loc.Element)
				if loc.IsBitField() {
					size = fmt.Sprintf("bits %d-%d", loc.BitOffset, loc.BitOffset+loc.BitWidth-1)
				}
			}
			data = append(data, []string{cat.Name, it.Meta().ID, it.Kind().String(), it.Meta().Title, offset, size, units(it)})
		}
	}
	return data
}

func units(it xdf.Item) string {
	switch v := it.(type) {
	case *xdf.Table:
		return v.Z.Units
	case *xdf.Constant:
		return v.Units
	}
	return ""
}

// ListItems displays every item of the session's definition.
func ListItems(s *tune.Session) {
	pterm.DefaultHeader.WithFullWidth().Println(s.Definition().Info.Title)
	pterm.DefaultTable.WithHasHeader().WithData(ItemRows(s)).Render()
}

// ScalarRows reads every constant and flag. Unreadable items show their
// error instead of a value.
func ScalarRows(s *tune.Session, mode string) [][]string {
	data := [][]string{
		{"ID", "Title", "Value", "Units"},
	}
	for _, it := range s.Items() {
		if it.Kind() == xdf.KindTable {
			continue
		}
		v, err := s.Read(it.Meta().ID)
		value := ""
		switch {
		case err != nil:
			value = pterm.Red(err.Error())
		case mode == ModeRaw && v.State == "":
			value = formatCell(v.Raw, 0, ModeRaw)
		case mode == ModeHex && v.State == "":
			value = "0x" + formatCell(v.Raw, 0, ModeHex)
		default:
			value = v.Format()
		}
		data = append(data, []string{it.Meta().ID, it.Meta().Title, value, v.Units})
	}
	return data
}

// RenderScalars displays every constant and flag with its current value.
func RenderScalars(s *tune.Session, mode string) {
	pterm.DefaultSection.Println("Constants and flags")
	pterm.DefaultTable.WithHasHeader().WithData(ScalarRows(s, mode)).Render()
}

// RenderInfo summarises the definition and how well it fits the image.
func RenderInfo(s *tune.Session, parse *xdf.Report) {
	def := s.Definition()
	pterm.DefaultHeader.WithFullWidth().
		WithBackgroundStyle(pterm.NewStyle(pterm.BgDarkGray)).
		WithTextStyle(pterm.NewStyle(pterm.FgLightWhite)).
		Println(def.Info.Title)

	data := [][]string{
		{"Author", def.Info.Author},
		{"Version", def.Info.Version},
		{"Image", fmt.Sprintf("%d bytes (0x%X)", s.Len(), s.Len())},
		{"Base offset", fmt.Sprintf("0x%X subtract=%t", def.Info.BaseOffset.Offset, def.Info.BaseOffset.Subtract)},
		{"Tables", strconv.Itoa(len(def.Tables))},
		{"Constants", strconv.Itoa(len(def.Constants))},
		{"Flags", strconv.Itoa(len(def.Flags))},
		{"Checksums", strconv.Itoa(len(def.Checksums))},
		{"Session", s.ID()},
	}
	pterm.DefaultTable.WithData(data).Render()

	if parse != nil {
		for _, w := range parse.Warnings {
			pterm.Warning.Println(w.String())
		}
		for _, e := range parse.Errors {
			pterm.Error.Println(e.Error())
		}
	}
	for _, e := range s.Resolution().Errors {
		pterm.Error.Println(e.Error())
	}
	for _, o := range s.Layout().Overlaps() {
		pterm.Warning.Printf("%s overlaps %s\n", o.A, o.B)
	}
}
