// Package dataset loads per-year TAPR district tables and their label keys.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

// Well-known TAPR columns.
const (
	IDColumn      = "DISTRICT_id"
	NameColumn    = "DISTNAME"
	CountyColumn  = "CNTYNAME"
	CharterColumn = "Charter School (Y/N)"
	TypeColumn    = "TEA Description"
)

// Table is an immutable, row-oriented district table for one reporting year.
// Accessors return copies; cleaning steps return new tables.
type Table struct {
	Year    int
	columns []string
	index   map[string]int
	rows    [][]string
	format  NumberFormat
}

// NewTable copies header and rows into a Table. Short rows are padded and
// long rows truncated to the header width. Duplicate header names keep the
// first occurrence for lookups.
func NewTable(year int, header []string, rows [][]string, format NumberFormat) (*Table, error) {
	if len(header) == 0 {
		return nil, errors.New("table has no columns")
	}
	t := &Table{Year: year, format: format, index: make(map[string]int, len(header))}
	t.columns = make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
		t.columns[i] = h
		if _, dup := t.index[h]; !dup {
			t.index[h] = i
		}
	}
	t.rows = make([][]string, 0, len(rows))
	for _, r := range rows {
		row := make([]string, len(header))
		copy(row, r)
		t.rows = append(t.rows, row)
	}
	return t, nil
}

// ReadCSV reads a header row followed by data rows.
func ReadCSV(r io.Reader, year int, format NumberFormat) (*Table, error) {
	header, rows, err := readCSVRows(r)
	if err != nil {
		return nil, err
	}
	if header == nil {
		return nil, errors.New("csv is empty")
	}
	return NewTable(year, header, rows, format)
}

func readCSVRows(r io.Reader) ([]string, [][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	var rows [][]string
	for {
		rec, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, nil, fmt.Errorf("read row %d: %w", len(rows)+1, err)
		}
		rows = append(rows, rec)
	}
	return header, rows, nil
}

// WriteCSV writes the header and rows of t.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := cw.WriteAll(t.rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

// Columns returns the column names in file order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Has reports whether the table has a column named col.
func (t *Table) Has(col string) bool {
	_, ok := t.index[col]
	return ok
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Value returns the raw cell at row i, column col, or "" when absent.
func (t *Table) Value(i int, col string) string {
	j, ok := t.index[col]
	if !ok || i < 0 || i >= len(t.rows) {
		return ""
	}
	return strings.TrimSpace(t.rows[i][j])
}

// Row returns a copy of row i.
func (t *Table) Row(i int) []string {
	out := make([]string, len(t.columns))
	copy(out, t.rows[i])
	return out
}

// Float parses the cell at row i, column col.
func (t *Table) Float(i int, col string) (float64, bool) {
	return ParseNumber(t.Value(i, col), t.format)
}

// Numeric returns column col as floats with NaN for missing or non-numeric
// cells. The second result is false when the column does not exist.
func (t *Table) Numeric(col string) ([]float64, bool) {
	j, ok := t.index[col]
	if !ok {
		return nil, false
	}
	out := make([]float64, len(t.rows))
	for i, r := range t.rows {
		if x, ok := ParseNumber(r[j], t.format); ok {
			out[i] = x
		} else {
			out[i] = math.NaN()
		}
	}
	return out, true
}

// ID returns the normalized district id of row i.
func (t *Table) ID(i int) string { return NormalizeID(t.Value(i, IDColumn)) }

// Name returns the district name of row i.
func (t *Table) Name(i int) string { return t.Value(i, NameColumn) }

// Lookup returns the row indexes whose district id equals id.
func (t *Table) Lookup(id string) []int {
	id = NormalizeID(id)
	var out []int
	for i := range t.rows {
		if t.ID(i) == id {
			out = append(out, i)
		}
	}
	return out
}

// Filter returns a table with the rows for which keep returns true.
func (t *Table) Filter(keep func(i int) bool) *Table {
	out := t.shallow()
	for i, r := range t.rows {
		if keep(i) {
			out.rows = append(out.rows, r)
		}
	}
	return out
}

// MapCells returns a table where every cell of the named columns is replaced
// by fn(cell). Columns absent from the table are ignored.
func (t *Table) MapCells(cols []string, fn func(string) string) *Table {
	idx := make([]int, 0, len(cols))
	for _, c := range cols {
		if j, ok := t.index[c]; ok {
			idx = append(idx, j)
		}
	}
	out := t.shallow()
	for _, r := range t.rows {
		row := make([]string, len(r))
		copy(row, r)
		for _, j := range idx {
			row[j] = fn(row[j])
		}
		out.rows = append(out.rows, row)
	}
	return out
}

// Select returns a table restricted to the given columns, in that order.
func (t *Table) Select(cols []string) (*Table, error) {
	idx := make([]int, len(cols))
	for k, c := range cols {
		j, ok := t.index[c]
		if !ok {
			return nil, fmt.Errorf("column not found: %s", c)
		}
		idx[k] = j
	}
	rows := make([][]string, len(t.rows))
	for i, r := range t.rows {
		row := make([]string, len(idx))
		for k, j := range idx {
			row[k] = r[j]
		}
		rows[i] = row
	}
	return NewTable(t.Year, cols, rows, t.format)
}

// Drop returns a table without the given columns.
func (t *Table) Drop(cols []string) *Table {
	drop := make(map[string]bool, len(cols))
	for _, c := range cols {
		drop[c] = true
	}
	var keep []string
	for _, c := range t.columns {
		if !drop[c] {
			keep = append(keep, c)
		}
	}
	out, err := t.Select(keep)
	if err != nil {
		return t
	}
	return out
}

func (t *Table) shallow() *Table {
	return &Table{Year: t.Year, columns: t.columns, index: t.index, format: t.format}
}
