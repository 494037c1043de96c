// Package storage defines the relational sink the loan pipeline deploys to,
// the backend registry, and the column-type inference shared by backends.
package storage

import (
	"fmt"
	"time"

	"loanetl/internal/dataset"
	"loanetl/internal/fingerprint"
)

// Logical column types. Each backend maps them to its own DDL.
const (
	TypeBigint    = "bigint"
	TypeFloat     = "float"
	TypeBool      = "bool"
	TypeDate      = "date"
	TypeTimestamp = "timestamp"
	TypeText      = "text"
)

// TableSpec is the DDL-level description of an output table.
type TableSpec struct {
	Name       string
	Columns    []ColumnSpec
	PrimaryKey string // optional; must name one of Columns
}

// ColumnSpec is one column of a TableSpec. Columns are nullable unless they are
// the primary key.
type ColumnSpec struct {
	Name string
	Type string
}

// ColumnNames returns the column names in order.
func (s TableSpec) ColumnNames() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

// Validate checks the spec is usable for DDL.
func (s TableSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("storage: table name is empty")
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("storage: table %s has no columns", s.Name)
	}
	seen := make(map[string]struct{}, len(s.Columns))
	for _, c := range s.Columns {
		if c.Name == "" {
			return fmt.Errorf("storage: table %s has an empty column name", s.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("storage: table %s has duplicate column %s", s.Name, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	if s.PrimaryKey != "" {
		if _, ok := seen[s.PrimaryKey]; !ok {
			return fmt.Errorf("storage: table %s primary key %s is not a column", s.Name, s.PrimaryKey)
		}
	}
	return nil
}

// InferSpec derives a TableSpec from the cell types of t.
//
// Rules per column, over non-nil cells:
//   - all int64                         -> bigint
//   - int64 and float64 only            -> float
//   - all bool                          -> bool
//   - all time.Time at midnight UTC     -> date
//   - all time.Time                     -> timestamp
//   - anything else, or no values       -> text
func InferSpec(t *dataset.Table, primaryKey string) TableSpec {
	spec := TableSpec{
		Name:       t.Name,
		Columns:    make([]ColumnSpec, len(t.Columns)),
		PrimaryKey: primaryKey,
	}
	for c, name := range t.Columns {
		spec.Columns[c] = ColumnSpec{Name: name, Type: inferColumnType(t.Rows, c)}
	}
	return spec
}

func inferColumnType(rows [][]any, c int) string {
	var nInt, nFloat, nBool, nDate, nTS, nOther, seen int
	for _, row := range rows {
		switch v := row[c].(type) {
		case nil:
			continue
		case int64:
			nInt++
		case float64:
			nFloat++
		case bool:
			nBool++
		case time.Time:
			u := v.UTC()
			if u.Equal(u.Truncate(24 * time.Hour)) {
				nDate++
			} else {
				nTS++
			}
		default:
			nOther++
		}
		seen++
	}

	switch {
	case seen == 0 || nOther > 0:
		return TypeText
	case nInt == seen:
		return TypeBigint
	case nInt+nFloat == seen:
		return TypeFloat
	case nBool == seen:
		return TypeBool
	case nDate == seen:
		return TypeDate
	case nDate+nTS == seen:
		return TypeTimestamp
	default:
		return TypeText
	}
}

// Coerce converts v to the Go type a backend expects for logical type typ.
// nil stays nil. Values that cannot be represented become their canonical
// text form for text columns, and nil otherwise.
func Coerce(typ string, v any) any {
	if v == nil {
		return nil
	}
	switch typ {
	case TypeBigint:
		if n, ok := v.(int64); ok {
			return n
		}
	case TypeFloat:
		switch n := v.(type) {
		case float64:
			return n
		case int64:
			return float64(n)
		}
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b
		}
	case TypeDate, TypeTimestamp:
		if tm, ok := v.(time.Time); ok {
			return tm.UTC()
		}
	case TypeText:
		if s, ok := v.(string); ok {
			return s
		}
		if tm, ok := v.(time.Time); ok {
			return tm.UTC().Format(time.RFC3339)
		}
		return fingerprint.Canonical(v)
	}
	return nil
}

// CoerceRows returns a copy of rows with every cell passed through Coerce for
// its column type.
func CoerceRows(spec TableSpec, rows [][]any) [][]any {
	out := make([][]any, len(rows))
	for r, row := range rows {
		nr := make([]any, len(spec.Columns))
		for c, col := range spec.Columns {
			if c < len(row) {
				nr[c] = Coerce(col.Type, row[c])
			}
		}
		out[r] = nr
	}
	return out
}
