package engine

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
)

// Table is an observable-tracking table: ordered columns, one row per sample.
// The first column is conventionally simulated time.
type Table struct {
	Columns []string
	Rows    [][]float64
}

// CSV serializes the table with a header row and no index column
func (t *Table) CSV() (string, error) {
	if t == nil {
		return "", fmt.Errorf("no observables table")
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(t.Columns); err != nil {
		return "", fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, len(t.Columns))
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return "", fmt.Errorf("row %d has %d values, expected %d", i, len(row), len(t.Columns))
		}
		for j, v := range row {
			record[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ParseCSV reads simulator CSV output back into a Table.
// Used by the CLI to plot and tabulate results.
func ParseCSV(text string) (*Table, error) {
	r := csv.NewReader(bytes.NewBufferString(text))
	r.TrimLeadingSpace = true
	r.Comment = '#'

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty CSV")
	}

	table := &Table{Columns: records[0]}
	for i, rec := range records[1:] {
		row := make([]float64, len(rec))
		for j, field := range rec {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", i+1, table.Columns[j], err)
			}
			row[j] = v
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// Column returns the values of the named column
func (t *Table) Column(name string) ([]float64, bool) {
	for j, c := range t.Columns {
		if c == name {
			values := make([]float64, len(t.Rows))
			for i, row := range t.Rows {
				values[i] = row[j]
			}
			return values, true
		}
	}
	return nil, false
}
