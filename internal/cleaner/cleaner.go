// Package cleaner removes missing values from a table: first whole columns
// whose share of missing cells is too high, then any row that still has a
// missing cell.
package cleaner

import (
	"fmt"
	"math"

	"loanetl/internal/dataset"
)

// DroppedColumn records a column removed for exceeding the null threshold.
type DroppedColumn struct {
	Name           string
	NullPercentage float64
}

// Report summarizes one Clean call.
type Report struct {
	DroppedColumns []DroppedColumn
	DroppedRows    int
}

// DroppedColumnNames returns the names of the dropped columns in table order.
func (r Report) DroppedColumnNames() []string {
	out := make([]string, len(r.DroppedColumns))
	for i, d := range r.DroppedColumns {
		out[i] = d.Name
	}
	return out
}

// NullPercentages returns, per column, nulls / rows * 100. A table with no rows
// reports 0 for every column.
func NullPercentages(t *dataset.Table) []float64 {
	out := make([]float64, len(t.Columns))
	if t.Len() == 0 {
		return out
	}
	for c := range t.Columns {
		nulls := 0
		for _, row := range t.Rows {
			if row[c] == nil {
				nulls++
			}
		}
		out[c] = float64(nulls) / float64(len(t.Rows)) * 100
	}
	return out
}

// Clean drops every column whose null percentage is strictly greater than
// maxNullPercentage, then drops rows with a missing value in any remaining
// column. Column pruning happens first, so a row is never dropped for a null in
// a column that was removed.
//
// If every column is dropped the result has no columns and keeps the input row
// count.
func Clean(t *dataset.Table, maxNullPercentage float64) (*dataset.Table, Report, error) {
	if t == nil {
		return nil, Report{}, fmt.Errorf("cleaner: nil table")
	}
	if math.IsNaN(maxNullPercentage) || maxNullPercentage < 0 || maxNullPercentage > 100 {
		return nil, Report{}, fmt.Errorf("cleaner: max null percentage %v outside [0, 100]", maxNullPercentage)
	}

	var rep Report
	pct := NullPercentages(t)
	drop := make([]string, 0)
	for c, p := range pct {
		if p > maxNullPercentage {
			drop = append(drop, t.Columns[c])
			rep.DroppedColumns = append(rep.DroppedColumns, DroppedColumn{Name: t.Columns[c], NullPercentage: p})
		}
	}

	out := t.DropColumns(drop...)
	if len(out.Columns) == 0 {
		return out, rep, nil
	}

	out, rep.DroppedRows = DropIncomplete(out)
	return out, rep, nil
}

// DropIncomplete returns the rows of t that have no missing cell, and the
// number of rows removed.
func DropIncomplete(t *dataset.Table) (*dataset.Table, int) {
	out := t.Filter(func(row []any) bool {
		for _, v := range row {
			if v == nil {
				return false
			}
		}
		return true
	})
	return out, t.Len() - out.Len()
}
