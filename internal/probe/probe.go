// Package probe guesses the semantic type of each column of a loaded table.
//
// Guessing is diagnostic: the report is logged and returned to callers but it
// never changes how the pipeline transforms data.
//
// Design constraints:
//   - Sampling is bounded (Options.SampleRows).
//   - All inference is best-effort and must never fail the run. A column that
//     cannot be classified degrades to KindText; a column with no values at all
//     is KindUnknown.
package probe

import (
	"fmt"
	"strings"

	"loanetl/internal/dataset"
)

// Kind is a semantic column type tag.
type Kind int

const (
	KindUnknown Kind = iota
	KindIdentifier
	KindInteger
	KindFloat
	KindPercent
	KindBoolean
	KindDate
	KindTimestamp
	KindCategorical
	KindText
)

var kindNames = [...]string{
	KindUnknown:     "unknown",
	KindIdentifier:  "identifier",
	KindInteger:     "integer",
	KindFloat:       "float",
	KindPercent:     "percent",
	KindBoolean:     "boolean",
	KindDate:        "date",
	KindTimestamp:   "timestamp",
	KindCategorical: "categorical",
	KindText:        "text",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Numeric reports whether the kind holds measures.
func (k Kind) Numeric() bool {
	return k == KindInteger || k == KindFloat || k == KindPercent
}

// Guess is the inferred type of one column. Layout is set for date and
// timestamp kinds when a dominant time layout was found.
type Guess struct {
	Kind   Kind
	Layout string
}

// Known reports whether the guess carries a definite type.
func (g Guess) Known() bool { return g.Kind != KindUnknown }

// ColumnType pairs a column name with its guess.
type ColumnType struct {
	Name  string
	Guess Guess
}

// Report is the outcome of GuessColumnTypes.
//
// Success is false only when the table was nil or when classifying some column
// panicked and the column was degraded to KindText.
type Report struct {
	Success     bool
	SampledRows int
	Columns     []ColumnType
}

// Lookup returns the guess for a column.
func (r Report) Lookup(name string) (Guess, bool) {
	for _, c := range r.Columns {
		if c.Name == name {
			return c.Guess, true
		}
	}
	return Guess{}, false
}

// Counts returns the number of columns per kind name.
func (r Report) Counts() map[string]int {
	out := make(map[string]int, len(kindNames))
	for _, c := range r.Columns {
		out[c.Guess.Kind.String()]++
	}
	return out
}

// String renders a small human-readable summary, one column per line.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sample_rows=%d success=%t\n", r.SampledRows, r.Success)
	b.WriteString("column,type,layout\n")
	for _, c := range r.Columns {
		fmt.Fprintf(&b, "%s,%s,%s\n", c.Name, c.Guess.Kind, c.Guess.Layout)
	}
	return b.String()
}

// Options control sampling.
type Options struct {
	// SampleRows bounds the number of rows inspected. Zero means 1000.
	SampleRows int
	// CategoricalMaxDistinct is the distinct-value ceiling for a text column to
	// be reported as categorical. Zero means 20.
	CategoricalMaxDistinct int
}

func (o Options) withDefaults() Options {
	if o.SampleRows <= 0 {
		o.SampleRows = 1000
	}
	if o.CategoricalMaxDistinct <= 0 {
		o.CategoricalMaxDistinct = 20
	}
	return o
}

// GuessColumnTypes classifies every column of t.
func GuessColumnTypes(t *dataset.Table, opt Options) Report {
	if t == nil {
		return Report{}
	}
	opt = opt.withDefaults()

	n := min(opt.SampleRows, t.Len())
	rep := Report{
		Success:     true,
		SampledRows: n,
		Columns:     make([]ColumnType, len(t.Columns)),
	}

	for c, name := range t.Columns {
		g, ok := guessColumnSafe(name, t.Rows[:n], c, opt)
		if !ok {
			rep.Success = false
		}
		rep.Columns[c] = ColumnType{Name: name, Guess: g}
	}
	return rep
}

// guessColumnSafe runs guessColumn with a recover guard.
func guessColumnSafe(name string, rows [][]any, col int, opt Options) (g Guess, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			g, ok = Guess{Kind: KindText}, false
		}
	}()
	return guessColumn(name, rows, col, opt), true
}
