// Package compare diffs two bin images through one definition.
package compare

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/pterm/pterm"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/tosih/xdftune/pkg/binimage"
	"github.com/tosih/xdftune/pkg/tune"
	"github.com/tosih/xdftune/pkg/xdf"
)

// TableDiff is the per-cell difference of one table, B minus A.
type TableDiff struct {
	ID      string
	Title   string
	Units   string
	Rows    int
	Cols    int
	X       tune.AxisValues
	Y       tune.AxisValues
	Diff    [][]float64
	Changed int
	MaxUp   float64
	MaxDown float64
	Mean    float64
}

// ScalarDiff is a constant or flag whose value differs.
type ScalarDiff struct {
	ID    string
	Title string
	A     tune.Value
	B     tune.Value
}

// Result is the outcome of Compare. Err collects items that could not be
// read from either image.
type Result struct {
	Tables  []TableDiff
	Scalars []ScalarDiff
	Err     error
}

// Load opens both images concurrently and starts a session over each.
func Load(ctx context.Context, def *xdf.Definition, pathA, pathB string, opts tune.Options) (*tune.Session, *tune.Session, error) {
	var imgA, imgB *binimage.Image
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		imgA, err = binimage.Load(pathA)
		if err != nil {
			return &tune.IOError{Op: "load image", Path: pathA, Err: err}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		imgB, err = binimage.Load(pathB)
		if err != nil {
			return &tune.IOError{Op: "load image", Path: pathB, Err: err}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return tune.New(def, imgA, opts), tune.New(def, imgB, opts), nil
}

// Compare diffs every item whose ID or title contains filter; an empty
// filter or "all" selects everything. Unchanged tables are included with
// Changed zero.
func Compare(a, b *tune.Session, filter string) *Result {
	res := &Result{}
	for _, it := range a.Items() {
		if !matches(it, filter) {
			continue
		}
		id := it.Meta().ID
		if it.Kind() == xdf.KindTable {
			d, err := diffTable(a, b, id)
			if err != nil {
				res.Err = multierr.Append(res.Err, err)
				continue
			}
			res.Tables = append(res.Tables, d)
			continue
		}
		va, errA := a.Read(id)
		vb, errB := b.Read(id)
		// both images share the layout, so one error per item is enough
		if err := firstErr(errA, errB); err != nil {
			res.Err = multierr.Append(res.Err, err)
			continue
		}
		if va.Raw != vb.Raw {
			res.Scalars = append(res.Scalars, ScalarDiff{ID: id, Title: it.Meta().Title, A: va, B: vb})
		}
	}
	return res
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func matches(it xdf.Item, filter string) bool {
	f := strings.ToLower(strings.TrimSpace(filter))
	if f == "" || f == "all" {
		return true
	}
	return strings.Contains(strings.ToLower(it.Meta().Title), f) || strings.EqualFold(it.Meta().ID, f)
}

func diffTable(a, b *tune.Session, id string) (TableDiff, error) {
	ga, err := a.ReadTable(id)
	if err != nil {
		return TableDiff{}, err
	}
	gb, err := b.ReadTable(id)
	if err != nil {
		return TableDiff{}, err
	}

	d := TableDiff{
		ID:    ga.ID,
		Title: ga.Title,
		Units: ga.Units,
		Rows:  ga.Rows,
		Cols:  ga.Cols,
		X:     ga.X,
		Y:     ga.Y,
		Diff:  compareMapData(ga.Values, gb.Values),
	}
	var total float64
	for i := range d.Diff {
		for j, v := range d.Diff[i] {
			if ga.Raw[i][j] == gb.Raw[i][j] {
				continue
			}
			d.Changed++
			total += v
			d.MaxUp = math.Max(d.MaxUp, v)
			d.MaxDown = math.Min(d.MaxDown, v)
		}
	}
	if d.Changed > 0 {
		d.Mean = total / float64(d.Changed)
	}
	return d, nil
}

func compareMapData(data1, data2 [][]float64) [][]float64 {
	diff := make([][]float64, len(data1))
	for i := range data1 {
		diff[i] = make([]float64, len(data1[i]))
		for j := range data1[i] {
			diff[i][j] = data2[i][j] - data1[i][j]
		}
	}
	return diff
}

// Display prints a Result. Unchanged tables are skipped unless all is set.
func Display(res *Result, all bool) {
	pterm.DefaultHeader.WithFullWidth().Println("ECU File Comparison")

	changed := 0
	for _, d := range res.Tables {
		if d.Changed == 0 && !all {
			continue
		}
		changed++
		pterm.Println()
		pterm.DefaultSection.Printf("Comparing: %s (%s)\n", d.Title, d.ID)
		displayComparison(d)
	}

	if len(res.Scalars) > 0 {
		pterm.Println()
		pterm.DefaultSection.Println("Constants and flags")
		data := [][]string{{"ID", "Title", "File 1", "File 2"}}
		for _, s := range res.Scalars {
			data = append(data, []string{s.ID, s.Title, s.A.String(), s.B.String()})
		}
		pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	}

	if changed == 0 && len(res.Scalars) == 0 {
		pterm.Success.Println("No differences in defined items")
	}
	for _, err := range multierr.Errors(res.Err) {
		pterm.Warning.Println(err.Error())
	}
}

func displayComparison(d TableDiff) {
	cells := d.Rows * d.Cols
	pterm.Info.Printf("Changed cells: %d / %d (%.1f%%)\n",
		d.Changed, cells, float64(d.Changed)/float64(cells)*100)
	if d.Changed == 0 {
		return
	}
	pterm.Info.Printf("Average change: %.2f %s\n", d.Mean, d.Units)
	pterm.Info.Printf("Max increase: %.2f %s\n", d.MaxUp, d.Units)
	pterm.Info.Printf("Max decrease: %.2f %s\n", d.MaxDown, d.Units)

	pterm.Println("\nDifference Map (File2 - File1):")
	pterm.DefaultBox.Println(VisualizeDifferences(d))
}

// VisualizeDifferences draws the difference grid with one symbol per cell.
func VisualizeDifferences(d TableDiff) string {
	var result strings.Builder

	// Find max absolute difference for scaling
	maxAbs := 0.0
	for _, row := range d.Diff {
		for _, v := range row {
			maxAbs = math.Max(maxAbs, math.Abs(v))
		}
	}

	result.WriteString(fmt.Sprintf("%8s |", "X →"))
	for j := 0; j < d.Cols; j++ {
		result.WriteString(fmt.Sprintf("%-6s", d.X.Format(j)))
	}
	result.WriteString("\n")
	result.WriteString(fmt.Sprintf("%8s |", "Y ↓") + strings.Repeat("-", d.Cols*6) + "\n")

	for i := 0; i < d.Rows; i++ {
		result.WriteString(fmt.Sprintf("%8s |", d.Y.Format(i)))
		for j := 0; j < d.Cols; j++ {
			result.WriteString(getDiffSymbol(d.Diff[i][j], maxAbs))
		}
		result.WriteString("\n")
	}

	// Legend
	result.WriteString("\nLegend: ")
	result.WriteString(pterm.FgBlue.Sprint("▼▼") + " Large Decrease  ")
	result.WriteString(pterm.FgCyan.Sprint("▼ ") + " Small Decrease  ")
	result.WriteString(pterm.FgGray.Sprint("··") + " No Change  ")
	result.WriteString(pterm.FgYellow.Sprint("▲ ") + " Small Increase  ")
	result.WriteString(pterm.FgRed.Sprint("▲▲") + " Large Increase")

	return result.String()
}

func getDiffSymbol(val, maxAbs float64) string {
	if val == 0 {
		return pterm.FgGray.Sprint("··    ")
	}

	normalized := val / maxAbs

	if normalized < -0.5 {
		return pterm.FgBlue.Sprint("▼▼    ")
	} else if normalized < -0.1 {
		return pterm.FgCyan.Sprint("▼     ")
	} else if normalized > 0.5 {
		return pterm.FgRed.Sprint("▲▲    ")
	} else if normalized > 0.1 {
		return pterm.FgYellow.Sprint("▲     ")
	}

	return pterm.FgGray.Sprint("·     ")
}
