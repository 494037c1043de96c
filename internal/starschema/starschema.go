// Package starschema decomposes the filtered loan table into one fact table and
// a fixed set of dimension tables joined by generated surrogate keys.
//
// Surrogate keys are assigned in first-occurrence order: the first distinct
// value seen while scanning the input gets key 1, the next new value key 2,
// and so on. Keys are therefore contiguous and 1-based in every dimension.
//
// Missing source cells are not dimension members; the fact row gets a nil
// foreign key for them, as it does for any value the dimension cannot resolve.
package starschema

import (
	"fmt"
	"time"

	"loanetl/internal/dataset"
	"loanetl/internal/datefilter"
	"loanetl/internal/fingerprint"
)

// Output table and column names.
const (
	FactTable    = "fact_loans"
	FactIDColumn = "fact_id"
)

// Attribute is a column derived from a dimension value.
type Attribute struct {
	Name   string
	Derive func(v any) any
}

// Spec describes one dimension.
type Spec struct {
	// Name is the output table name.
	Name string
	// Source is the input column the dimension is built from.
	Source string
	// KeyColumn is the surrogate key column, in both the dimension and the fact.
	KeyColumn string
	// Attributes are appended after the key column, in order.
	Attributes []Attribute
}

// DefaultSpecs are the loan dimensions, in output order.
var DefaultSpecs = []Spec{
	{Name: "dim_home_ownership", Source: "home_ownership", KeyColumn: "home_ownership_id"},
	{Name: "dim_loan_status", Source: "loan_status", KeyColumn: "loan_status_id"},
	{
		Name:      "dim_issue_date",
		Source:    "issue_d",
		KeyColumn: "issue_d_id",
		Attributes: []Attribute{
			{Name: "month", Derive: dateAttr(func(t time.Time) int64 { return int64(t.Month()) })},
			{Name: "year", Derive: dateAttr(func(t time.Time) int64 { return int64(t.Year()) })},
			{Name: "quarter", Derive: dateAttr(func(t time.Time) int64 { return int64(t.Month()-1)/3 + 1 })},
		},
	},
}

// FactColumns is the whitelist projected into the fact table, in order. Columns
// absent from the input are skipped. FactIDColumn is always appended.
var FactColumns = []string{
	"loan_amnt", "funded_amnt", "term", "int_rate", "installment",
	"home_ownership_id", "loan_status_id", "issue_d_id",
}

func dateAttr(f func(time.Time) int64) func(v any) any {
	return func(v any) any {
		t, ok := datefilter.ParseDate(v, datefilter.DefaultLayouts)
		if !ok {
			return nil
		}
		return f(t)
	}
}

// Dimension is a built dimension table with its value/key lookups.
type Dimension struct {
	Spec  Spec
	Table *dataset.Table

	keys   map[string]int64
	values []any
}

// Len is the number of members (and the largest key).
func (d *Dimension) Len() int { return len(d.values) }

// Key returns the surrogate key for a source value.
func (d *Dimension) Key(v any) (int64, bool) {
	if v == nil {
		return 0, false
	}
	k, ok := d.keys[memberKey(v)]
	return k, ok
}

// Value returns the source value for a surrogate key.
func (d *Dimension) Value(k int64) (any, bool) {
	if k < 1 || k > int64(len(d.values)) {
		return nil, false
	}
	return d.values[k-1], true
}

// Schema is the star-schema output.
type Schema struct {
	Fact       *dataset.Table
	Dimensions []*Dimension
}

// Dimension returns a built dimension by table name.
func (s *Schema) Dimension(name string) (*Dimension, bool) {
	for _, d := range s.Dimensions {
		if d.Spec.Name == name {
			return d, true
		}
	}
	return nil, false
}

// Tables returns the dimension tables in spec order followed by the fact
// table. This is the order they are written to a sink.
func (s *Schema) Tables() []*dataset.Table {
	out := make([]*dataset.Table, 0, len(s.Dimensions)+1)
	for _, d := range s.Dimensions {
		out = append(out, d.Table)
	}
	return append(out, s.Fact)
}

// Build decomposes t using DefaultSpecs and FactColumns.
func Build(t *dataset.Table) (*Schema, error) {
	return BuildWith(t, DefaultSpecs, FactColumns)
}

// BuildWith decomposes t using the given dimension specs and fact whitelist.
//
// A spec whose source column is absent from t is skipped, and its key column
// is then absent from the fact table. The fact table has exactly one row per
// input row.
func BuildWith(t *dataset.Table, specs []Spec, factColumns []string) (*Schema, error) {
	if t == nil {
		return nil, fmt.Errorf("starschema: nil table")
	}

	work := t.Clone()
	s := &Schema{}

	for _, spec := range specs {
		src := t.Lookup(spec.Source)
		if !src.Present() {
			continue
		}

		d := buildDimension(spec, t.Values(src))
		s.Dimensions = append(s.Dimensions, d)

		work.Columns = append(work.Columns, spec.KeyColumn)
		for r, row := range work.Rows {
			var fk any
			if k, ok := d.Key(row[src.Index()]); ok {
				fk = k
			}
			work.Rows[r] = append(row, fk)
		}
	}

	fact := work.Project(factColumns)
	fact.Name = FactTable
	fact.Columns = append(fact.Columns, FactIDColumn)
	for r := range fact.Rows {
		fact.Rows[r] = append(fact.Rows[r], int64(r+1))
	}
	s.Fact = fact

	return s, nil
}

// memberKey identifies a dimension member. The Go type is part of the key so
// "1", int64(1) and float64(1) stay distinct members.
func memberKey(v any) string {
	return fmt.Sprintf("%T:", v) + fingerprint.Canonical(v)
}

// buildDimension de-duplicates values in first-occurrence order and assigns
// keys 1..N.
func buildDimension(spec Spec, values []any) *Dimension {
	cols := make([]string, 0, 2+len(spec.Attributes))
	cols = append(cols, spec.Source, spec.KeyColumn)
	for _, a := range spec.Attributes {
		cols = append(cols, a.Name)
	}

	d := &Dimension{
		Spec:  spec,
		Table: dataset.New(spec.Name, cols),
		keys:  make(map[string]int64),
	}

	for _, v := range values {
		if v == nil {
			continue
		}
		ck := memberKey(v)
		if _, seen := d.keys[ck]; seen {
			continue
		}
		d.values = append(d.values, v)
		key := int64(len(d.values))
		d.keys[ck] = key

		row := make([]any, 0, len(cols))
		row = append(row, v, key)
		for _, a := range spec.Attributes {
			row = append(row, a.Derive(v))
		}
		d.Table.Rows = append(d.Table.Rows, row)
	}
	return d
}
