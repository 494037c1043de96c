package fingerprint

import (
	"testing"
	"time"

	"loanetl/internal/dataset"
)

func TestCanonical_DistinguishesMissingFromEmpty(t *testing.T) {
	if Canonical(nil) == Canonical("") {
		t.Fatalf("nil and empty string must not share a canonical form")
	}
}

func TestCanonical_TimeIsUTC(t *testing.T) {
	a := time.Date(2011, 12, 1, 0, 0, 0, 0, time.UTC)
	b := a.In(time.FixedZone("X", 3600))
	if Canonical(a) != Canonical(b) {
		t.Fatalf("same instant in different zones: %q vs %q", Canonical(a), Canonical(b))
	}
}

func TestTable_Deterministic(t *testing.T) {
	mk := func() *dataset.Table {
		return &dataset.Table{
			Name:    "fact_loans",
			Columns: []string{"loan_amnt", "term"},
			Rows: [][]any{
				{int64(5000), "36 months"},
				{2500.5, nil},
			},
		}
	}

	s1 := Table(mk())
	s2 := Table(mk())
	if len(s1) != 64 {
		t.Fatalf("expected sha256 hex length 64, got %d (%q)", len(s1), s1)
	}
	if s1 != s2 {
		t.Fatalf("expected identical digests, got %q and %q", s1, s2)
	}
}

func TestTable_ChangesWhenCellChanges(t *testing.T) {
	a := &dataset.Table{Columns: []string{"x"}, Rows: [][]any{{int64(1)}}}
	b := &dataset.Table{Columns: []string{"x"}, Rows: [][]any{{int64(2)}}}
	if Table(a) == Table(b) {
		t.Fatalf("expected different digests")
	}
}

func TestTable_ColumnOrderMatters(t *testing.T) {
	a := &dataset.Table{Columns: []string{"x", "y"}, Rows: [][]any{{"1", "2"}}}
	b := &dataset.Table{Columns: []string{"y", "x"}, Rows: [][]any{{"2", "1"}}}
	if Table(a) == Table(b) {
		t.Fatalf("expected column order to change the digest")
	}
}
