package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/roach88/tabula/internal/row"
)

// readXLSXRecords reads the first sheet of an XLSX file. The first row is
// the header; every later non-blank row becomes a record of string fields.
// Blank header cells are skipped.
func readXLSXRecords(path string) ([]row.Record, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets found in XLSX file")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return []row.Record{}, nil
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}

	recs := make([]row.Record, 0, len(rows)-1)
	for _, cells := range rows[1:] {
		if !slices.ContainsFunc(cells, func(c string) bool { return strings.TrimSpace(c) != "" }) {
			continue
		}
		rec := row.Record{}
		for i, name := range header {
			if name == "" {
				continue
			}
			if i < len(cells) {
				rec[name] = cells[i]
			} else {
				rec[name] = ""
			}
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// writeXLSX writes rows to a new workbook with a single sheet. Columns are
// the leading fields in order, then every other field sorted by name.
// Nested lists are written as their row count.
func writeXLSX(path, sheet string, rows []*row.Row, leading []string) error {
	f := excelize.NewFile()
	defer f.Close()

	if sheet == "" {
		sheet = "Sheet1"
	}
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	columns := xlsxColumns(rows, leading)
	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, r := range rows {
		cells := make([]any, len(columns))
		for j, c := range columns {
			v, _ := r.Get(c)
			if n, ok := v.(row.Int); ok {
				cells[j] = int64(n)
				continue
			}
			cells[j] = row.Text(v)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func xlsxColumns(rows []*row.Row, leading []string) []string {
	seen := map[string]bool{}
	var columns []string
	for _, c := range leading {
		if !seen[c] {
			seen[c] = true
			columns = append(columns, c)
		}
	}
	var rest []string
	for _, r := range rows {
		for _, k := range r.Keys() {
			if !seen[k] {
				seen[k] = true
				rest = append(rest, k)
			}
		}
	}
	slices.Sort(rest)
	return append(columns, rest...)
}
