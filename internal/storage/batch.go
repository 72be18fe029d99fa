package storage

import "fmt"

// ChunkRows splits rows into consecutive batches whose bound-parameter count
// (rows * columns) stays within maxParams. Order is preserved. A maxParams
// below the column count still yields one row per batch.
func ChunkRows(rows [][]any, columns, maxParams int) [][][]any {
	if len(rows) == 0 {
		return nil
	}
	per := 1
	if columns > 0 && maxParams > columns {
		per = maxParams / columns
	}
	out := make([][][]any, 0, (len(rows)+per-1)/per)
	for start := 0; start < len(rows); start += per {
		end := start + per
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[start:end])
	}
	return out
}

// CheckRows verifies every row carries one value per column.
func CheckRows(table string, columns []string, rows [][]any) error {
	if len(columns) == 0 {
		return fmt.Errorf("storage: %s: no columns", table)
	}
	for i, r := range rows {
		if len(r) != len(columns) {
			return fmt.Errorf("storage: %s: row %d has %d values, want %d", table, i, len(r), len(columns))
		}
	}
	return nil
}

// Lookup returns the table named name.
func Lookup(tables []TableSpec, name string) (TableSpec, bool) {
	for _, t := range tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableSpec{}, false
}
