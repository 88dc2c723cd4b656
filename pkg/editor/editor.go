// Package editor is the interactive edit mode of the command line.
package editor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/tosih/xdftune/pkg/renderer"
	"github.com/tosih/xdftune/pkg/tune"
	"github.com/tosih/xdftune/pkg/xdf"
)

// ErrUnsafeMultiplier rejects scale factors outside MinMultiplier..MaxMultiplier.
var ErrUnsafeMultiplier = errors.New("editor: multiplier out of safe range")

const (
	MinMultiplier = 0.5
	MaxMultiplier = 2.0
)

// ScaleTable multiplies every cell of a table. The table is unchanged
// unless every scaled value can be stored.
func ScaleTable(s *tune.Session, key string, multiplier float64) error {
	if multiplier < MinMultiplier || multiplier > MaxMultiplier {
		return fmt.Errorf("%w: %g (%.1f-%.1f)", ErrUnsafeMultiplier, multiplier, MinMultiplier, MaxMultiplier)
	}
	g, err := s.ReadTable(key)
	if err != nil {
		return err
	}
	for i := range g.Values {
		for j := range g.Values[i] {
			g.Values[i][j] *= multiplier
		}
	}
	return s.WriteTable(key, g.Values)
}

// ParseCell reads "row,col" as typed at the prompt.
func ParseCell(s string) (row, col int, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want row,col, got %q", s)
	}
	if row, err = strconv.Atoi(strings.TrimSpace(parts[0])); err != nil {
		return 0, 0, fmt.Errorf("row: %w", err)
	}
	if col, err = strconv.Atoi(strings.TrimSpace(parts[1])); err != nil {
		return 0, 0, fmt.Errorf("col: %w", err)
	}
	return row, col, nil
}

// Editor runs the interactive menu over one session.
type Editor struct {
	s      *tune.Session
	path   string
	dryRun bool
}

// New returns an editor that saves to path. With dryRun nothing is saved.
func New(s *tune.Session, path string, dryRun bool) *Editor {
	return &Editor{s: s, path: path, dryRun: dryRun}
}

// Run shows the menu until the user exits.
func (e *Editor) Run() error {
	pterm.DefaultHeader.WithFullWidth().
		WithBackgroundStyle(pterm.NewStyle(pterm.BgRed)).
		WithTextStyle(pterm.NewStyle(pterm.FgBlack)).
		Println("⚠️  INTERACTIVE EDIT MODE - USE WITH EXTREME CAUTION  ⚠️")

	pterm.Warning.Println("Modifying ECU calibration can cause engine damage, unsafe driving conditions, warranty void, and legal issues.")

	result, _ := pterm.DefaultInteractiveConfirm.Show("Do you understand the risks and want to proceed?")
	if !result {
		pterm.Info.Println("Edit cancelled.")
		return nil
	}

	const (
		optConstant = "Edit Constant"
		optCell     = "Edit Table Cell"
		optScale    = "Scale Entire Table"
		optFlag     = "Set Flag"
		optSave     = "Save"
		optExit     = "Exit"
	)
	for {
		selectedOption, err := pterm.DefaultInteractiveSelect.
			WithOptions([]string{optConstant, optCell, optScale, optFlag, optSave, optExit}).
			Show("Select what to edit:")
		if err != nil {
			return err
		}

		switch selectedOption {
		case optConstant:
			e.report(e.editConstant())
		case optCell:
			e.report(e.editCell())
		case optScale:
			e.report(e.scaleTable())
		case optFlag:
			e.report(e.setFlag())
		case optSave:
			e.report(e.save())
		case optExit:
			if e.s.Dirty() && !e.dryRun {
				discard, _ := pterm.DefaultInteractiveConfirm.Show("Unsaved changes will be lost. Exit anyway?")
				if !discard {
					continue
				}
			}
			pterm.Info.Println("Exiting edit mode.")
			return nil
		}
	}
}

func (e *Editor) report(err error) {
	switch {
	case err == nil:
	case errors.Is(err, errCancelled):
		pterm.Info.Println("Cancelled.")
	default:
		pterm.Error.Println(err.Error())
	}
}

var errCancelled = errors.New("cancelled")

// choose lists the items of one kind and returns the selected ID.
func (e *Editor) choose(kind xdf.Kind, prompt string) (string, error) {
	var options []string
	ids := map[string]string{}
	for _, it := range e.s.Items() {
		if it.Kind() != kind {
			continue
		}
		label := fmt.Sprintf("%s (%s)", it.Meta().Title, it.Meta().ID)
		options = append(options, label)
		ids[label] = it.Meta().ID
	}
	if len(options) == 0 {
		return "", fmt.Errorf("definition has no %ss", kind)
	}
	options = append(options, "Cancel")

	selected, err := pterm.DefaultInteractiveSelect.WithOptions(options).Show(prompt)
	if err != nil {
		return "", err
	}
	if selected == "Cancel" {
		return "", errCancelled
	}
	return ids[selected], nil
}

func (e *Editor) confirm(prompt string) bool {
	if e.dryRun {
		pterm.Warning.Println("DRY RUN - change applied in memory only")
		return true
	}
	result, _ := pterm.DefaultInteractiveConfirm.Show(prompt)
	return result
}

func (e *Editor) editConstant() error {
	id, err := e.choose(xdf.KindConstant, "Select constant:")
	if err != nil {
		return err
	}
	current, err := e.s.Read(id)
	if err != nil {
		return err
	}
	pterm.Info.Printf("Current value: %s (raw: %g)\n", current, current.Raw)

	input, _ := pterm.DefaultInteractiveTextInput.Show("Enter new value")
	value, err := strconv.ParseFloat(strings.TrimSpace(input), 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", input)
	}
	if !e.confirm("Write this change?") {
		return errCancelled
	}
	if err := e.s.Write(id, value); err != nil {
		return err
	}
	updated, _ := e.s.Read(id)
	pterm.Success.Printf("Constant updated: %s\n", updated)
	return nil
}

func (e *Editor) editCell() error {
	id, err := e.choose(xdf.KindTable, "Select table:")
	if err != nil {
		return err
	}
	g, err := e.s.ReadTable(id)
	if err != nil {
		return err
	}
	renderer.RenderTable(g, renderer.Options{Style: renderer.StyleValues})

	input, _ := pterm.DefaultInteractiveTextInput.Show(fmt.Sprintf("Enter cell as row,col (0-%d,0-%d)", g.Rows-1, g.Cols-1))
	row, col, err := ParseCell(input)
	if err != nil {
		return err
	}
	if row < 0 || row >= g.Rows || col < 0 || col >= g.Cols {
		return fmt.Errorf("invalid cell coordinates [%d,%d]", row, col)
	}
	pterm.Info.Printf("Current value at [%d,%d]: %s %s (raw: %g)\n",
		row, col, strconv.FormatFloat(g.Values[row][col], 'f', max(g.Decimals, 0), 64), g.Units, g.Raw[row][col])

	newValueStr, _ := pterm.DefaultInteractiveTextInput.Show("Enter new value")
	newValue, err := strconv.ParseFloat(strings.TrimSpace(newValueStr), 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", newValueStr)
	}
	if !e.confirm("Write this change?") {
		return errCancelled
	}
	if err := e.s.WriteCell(id, row, col, newValue); err != nil {
		return err
	}
	pterm.Success.Println("Cell updated successfully!")
	return nil
}

func (e *Editor) scaleTable() error {
	pterm.Warning.Println("This modifies ALL cells in the selected table!")
	id, err := e.choose(xdf.KindTable, "Select table to scale:")
	if err != nil {
		return err
	}

	multiplierStr, _ := pterm.DefaultInteractiveTextInput.Show("Enter multiplier (e.g., 1.1 for +10%, 0.9 for -10%)")
	multiplier, err := strconv.ParseFloat(strings.TrimSpace(multiplierStr), 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", multiplierStr)
	}
	pterm.Info.Printf("Will multiply all values in %s by %.2f\n", id, multiplier)
	if !e.confirm("Apply this scaling?") {
		return errCancelled
	}
	if err := ScaleTable(e.s, id, multiplier); err != nil {
		return err
	}
	pterm.Success.Println("Table scaled successfully!")
	return nil
}

func (e *Editor) setFlag() error {
	id, err := e.choose(xdf.KindFlag, "Select flag:")
	if err != nil {
		return err
	}
	it, _ := e.s.Find(id)
	current, err := e.s.Read(id)
	if err != nil {
		return err
	}
	pterm.Info.Printf("Current state: %s\n", current.Format())

	var states []string
	for _, st := range it.(*xdf.Flag).States {
		states = append(states, st.Name)
	}
	var state string
	if len(states) == 0 {
		state, _ = pterm.DefaultInteractiveTextInput.Show("Enter state value")
	} else if state, err = pterm.DefaultInteractiveSelect.WithOptions(states).Show("Select state:"); err != nil {
		return err
	}
	if !e.confirm("Write this change?") {
		return errCancelled
	}
	if err := e.s.SetFlag(id, state); err != nil {
		return err
	}
	pterm.Success.Printf("Flag set to %s\n", state)
	return nil
}

func (e *Editor) save() error {
	if e.dryRun {
		pterm.Warning.Println("DRY RUN - No changes saved")
		return nil
	}
	if !e.s.Dirty() {
		pterm.Info.Println("Nothing to save.")
		return nil
	}
	results, err := e.s.Save(e.path)
	for _, r := range results {
		pterm.Info.Println(r.String())
	}
	if err != nil {
		return err
	}
	pterm.Success.Printf("Saved %s\n", e.path)
	return nil
}
