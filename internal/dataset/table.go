// Package dataset holds the in-memory table model shared by every stage of the
// loan pipeline.
//
// A Table is positional: Columns names the fields and every row in Rows has
// exactly len(Columns) cells. A nil cell means "missing". Non-missing cells
// are one of string, int64, float64, bool or time.Time.
//
// Stages never mutate a Table they receive. Every transform returns a new
// Table; row slices are copied whenever the cell layout changes.
package dataset

import "fmt"

// Table is an ordered, named set of positional rows.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// New returns an empty table with a copy of columns.
func New(name string, columns []string) *Table {
	return &Table{
		Name:    name,
		Columns: append([]string(nil), columns...),
	}
}

// Len returns the number of rows. A nil table has zero rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Index returns the position of column name, or -1.
func (t *Table) Index(name string) int {
	if t == nil {
		return -1
	}
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column is the result of looking a column up by name: either Present with
// its position, or Absent.
type Column struct {
	name  string
	index int
}

// Present reports whether the column exists in the table it was looked up in.
func (c Column) Present() bool { return c.index >= 0 }

// Index is the column position. It panics for an absent column.
func (c Column) Index() int {
	if c.index < 0 {
		panic(fmt.Sprintf("dataset: column %q is absent", c.name))
	}
	return c.index
}

// Name is the column name that was looked up.
func (c Column) Name() string { return c.name }

// Lookup resolves name to a Present or Absent column.
func (t *Table) Lookup(name string) Column {
	return Column{name: name, index: t.Index(name)}
}

// Append adds a row. The row must have one cell per column.
func (t *Table) Append(row []any) error {
	if len(row) != len(t.Columns) {
		return fmt.Errorf("dataset: row has %d cells, table %q has %d columns", len(row), t.Name, len(t.Columns))
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// Clone returns a deep copy of the table structure. Cell values are scalars and
// are shared.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	out := &Table{
		Name:    t.Name,
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([][]any, len(t.Rows)),
	}
	for i, r := range t.Rows {
		out.Rows[i] = append([]any(nil), r...)
	}
	return out
}

// Renamed returns a clone carrying a different table name.
func (t *Table) Renamed(name string) *Table {
	out := t.Clone()
	out.Name = name
	return out
}

// Project returns a table holding only the named columns that exist in t, in
// the order given by names. Unknown names are skipped.
func (t *Table) Project(names []string) *Table {
	idx := make([]int, 0, len(names))
	cols := make([]string, 0, len(names))
	for _, n := range names {
		if i := t.Index(n); i >= 0 {
			idx = append(idx, i)
			cols = append(cols, n)
		}
	}
	return t.pick(cols, idx)
}

// DropColumns returns a table without the named columns.
func (t *Table) DropColumns(names ...string) *Table {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	idx := make([]int, 0, len(t.Columns))
	cols := make([]string, 0, len(t.Columns))
	for i, c := range t.Columns {
		if _, ok := drop[c]; ok {
			continue
		}
		idx = append(idx, i)
		cols = append(cols, c)
	}
	return t.pick(cols, idx)
}

func (t *Table) pick(cols []string, idx []int) *Table {
	out := &Table{
		Name:    t.Name,
		Columns: cols,
		Rows:    make([][]any, len(t.Rows)),
	}
	for r, row := range t.Rows {
		nr := make([]any, len(idx))
		for j, i := range idx {
			nr[j] = row[i]
		}
		out.Rows[r] = nr
	}
	return out
}

// Filter returns a table with the rows for which keep returns true. Kept rows
// are copied.
func (t *Table) Filter(keep func(row []any) bool) *Table {
	out := &Table{
		Name:    t.Name,
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([][]any, 0, len(t.Rows)),
	}
	for _, r := range t.Rows {
		if keep(r) {
			out.Rows = append(out.Rows, append([]any(nil), r...))
		}
	}
	return out
}

// Values returns a copy of one column's cells.
func (t *Table) Values(c Column) []any {
	i := c.Index()
	out := make([]any, len(t.Rows))
	for r, row := range t.Rows {
		out[r] = row[i]
	}
	return out
}
