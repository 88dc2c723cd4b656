// Package export moves tables between a session and CSV files.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/tosih/xdftune/pkg/tune"
	"github.com/tosih/xdftune/pkg/xdf"
)

// ErrFormat marks a CSV file that is not a table export.
var ErrFormat = errors.New("export: invalid CSV format")

const (
	idPrefix   = "# ID: "
	gridHeader = "Y\\X"
)

// WriteTable writes one table as CSV: metadata comments, the x breakpoints
// as header and one row per y breakpoint. Values keep full precision so an
// import of the file changes nothing.
func WriteTable(s *tune.Session, key string, w io.Writer) error {
	g, err := s.ReadTable(key)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)

	// Write metadata as comments
	records := [][]string{
		{"# " + g.Title},
		{idPrefix + g.ID},
		{fmt.Sprintf("# Size: %dx%d", g.Rows, g.Cols)},
		{"# Unit: " + g.Units},
		{""},
	}

	header := []string{gridHeader}
	for j := 0; j < g.Cols; j++ {
		header = append(header, g.X.Format(j))
	}
	records = append(records, header)

	for i := 0; i < g.Rows; i++ {
		row := []string{g.Y.Format(i)}
		for j := 0; j < g.Cols; j++ {
			row = append(row, strconv.FormatFloat(g.Values[i][j], 'f', -1, 64))
		}
		records = append(records, row)
	}

	if err := writer.WriteAll(records); err != nil {
		return fmt.Errorf("write %s: %w", g.ID, err)
	}
	return nil
}

// FileName is the CSV name used for a table.
func FileName(it xdf.Item) string {
	name := strings.ToLower(strings.TrimSpace(it.Meta().Title))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	return name + "_" + strings.ToLower(strings.TrimPrefix(it.Meta().ID, "0x")) + ".csv"
}

// ExportTables writes every table whose title contains filter to dir and
// returns the files written. Tables that fail are reported and skipped.
func ExportTables(s *tune.Session, dir, filter string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	f := strings.ToLower(strings.TrimSpace(filter))
	var selected []xdf.Item
	for _, it := range s.Items() {
		if it.Kind() != xdf.KindTable {
			continue
		}
		if f == "" || f == "all" || strings.Contains(strings.ToLower(it.Meta().Title), f) || strings.EqualFold(it.Meta().ID, f) {
			selected = append(selected, it)
		}
	}

	spinner, _ := pterm.DefaultSpinner.Start("Exporting tables to CSV...")

	var written []string
	for _, it := range selected {
		path := filepath.Join(dir, FileName(it))
		if err := exportFile(s, it.Meta().ID, path); err != nil {
			spinner.Warning(fmt.Sprintf("Failed to export %s: %v", it.Meta().Title, err))
			continue
		}
		written = append(written, path)
	}

	spinner.Success(fmt.Sprintf("%d table(s) exported to %s", len(written), dir))
	return written, nil
}

func exportFile(s *tune.Session, id, path string) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()
	return WriteTable(s, id, file)
}

// ReadTable parses a CSV written by WriteTable. The table ID comes from the
// metadata unless key is set.
func ReadTable(r io.Reader, key string) (string, [][]float64, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	id := key
	dataStart := -1
	for i, record := range records {
		if len(record) == 0 {
			continue
		}
		if id == "" && strings.HasPrefix(record[0], idPrefix) {
			id = strings.TrimSpace(strings.TrimPrefix(record[0], idPrefix))
		}
		if record[0] == gridHeader {
			dataStart = i + 1
			break
		}
	}
	if dataStart < 0 {
		return "", nil, fmt.Errorf("%w: couldn't find data header", ErrFormat)
	}
	if id == "" {
		return "", nil, fmt.Errorf("%w: no table ID", ErrFormat)
	}

	var values [][]float64
	for i, record := range records[dataStart:] {
		if len(record) == 0 || (len(record) == 1 && record[0] == "") {
			continue
		}
		row := make([]float64, 0, len(record)-1)
		for j, cell := range record[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return "", nil, fmt.Errorf("%w: row %d column %d: %v", ErrFormat, i, j, err)
			}
			row = append(row, v)
		}
		values = append(values, row)
	}
	return id, values, nil
}

// ImportFile loads a CSV into the table it names. Nothing is written unless
// every cell is accepted.
func ImportFile(s *tune.Session, path, key string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	id, values, err := ReadTable(file, key)
	if err != nil {
		return "", err
	}
	if err := s.WriteTable(id, values); err != nil {
		return id, err
	}
	return id, nil
}
