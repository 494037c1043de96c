package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *Table {
	return &Table{
		Name:    "loans",
		Columns: []string{"id", "grade", "amount"},
		Rows: [][]any{
			{int64(1), "A", 100.0},
			{int64(2), nil, 250.0},
			{int64(3), "B", nil},
		},
	}
}

func TestLookup_PresentAndAbsent(t *testing.T) {
	tbl := sample()

	c := tbl.Lookup("grade")
	require.True(t, c.Present())
	assert.Equal(t, 1, c.Index())

	missing := tbl.Lookup("issue_d")
	assert.False(t, missing.Present())
	assert.Panics(t, func() { missing.Index() })
}

func TestProject_KeepsRequestedOrderAndSkipsUnknown(t *testing.T) {
	tbl := sample()
	got := tbl.Project([]string{"amount", "nope", "id"})

	assert.Equal(t, []string{"amount", "id"}, got.Columns)
	assert.Equal(t, []any{100.0, int64(1)}, got.Rows[0])
	assert.Equal(t, 3, got.Len())
}

func TestDropColumns_DoesNotMutateInput(t *testing.T) {
	tbl := sample()
	got := tbl.DropColumns("grade")

	assert.Equal(t, []string{"id", "amount"}, got.Columns)
	assert.Equal(t, []string{"id", "grade", "amount"}, tbl.Columns)

	got.Rows[0][0] = int64(99)
	assert.Equal(t, int64(1), tbl.Rows[0][0])
}

func TestFilter_CopiesRows(t *testing.T) {
	tbl := sample()
	got := tbl.Filter(func(r []any) bool { return r[1] != nil })

	require.Equal(t, 2, got.Len())
	got.Rows[0][1] = "Z"
	assert.Equal(t, "A", tbl.Rows[0][1])
}

func TestAppend_RejectsWrongWidth(t *testing.T) {
	tbl := New("x", []string{"a", "b"})
	require.NoError(t, tbl.Append([]any{1, 2}))
	require.Error(t, tbl.Append([]any{1}))
}

func TestValues(t *testing.T) {
	tbl := sample()
	assert.Equal(t, []any{"A", nil, "B"}, tbl.Values(tbl.Lookup("grade")))
}
