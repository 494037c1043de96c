package xlsx

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"loanetl/internal/storage"
)

func homeOwnershipSpec() storage.TableSpec {
	return storage.TableSpec{
		Name: "dim_home_ownership",
		Columns: []storage.ColumnSpec{
			{Name: "home_ownership", Type: storage.TypeText},
			{Name: "home_ownership_id", Type: storage.TypeBigint},
		},
		PrimaryKey: "home_ownership_id",
	}
}

func readSheet(t *testing.T, path, sheet string) [][]string {
	t.Helper()
	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	return rows
}

func TestReplaceTable_CreatesWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	repo, err := New(context.Background(), storage.Config{Kind: "xlsx", DSN: path})
	require.NoError(t, err)
	defer repo.Close()

	n, err := repo.ReplaceTable(context.Background(), homeOwnershipSpec(), [][]any{
		{"RENT", int64(1)},
		{"OWN", int64(2)},
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	rows := readSheet(t, path, "dim_home_ownership")
	require.Equal(t, [][]string{
		{"home_ownership", "home_ownership_id"},
		{"RENT", "1"},
		{"OWN", "2"},
	}, rows)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	require.Equal(t, []string{"dim_home_ownership"}, f.GetSheetList())
}

func TestReplaceTable_ReplacesSheetAndKeepsOthers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	repo, err := New(context.Background(), storage.Config{Kind: "xlsx", DSN: path})
	require.NoError(t, err)
	defer repo.Close()
	ctx := context.Background()

	_, err = repo.ReplaceTable(ctx, homeOwnershipSpec(), [][]any{{"RENT", int64(1)}, {"OWN", int64(2)}})
	require.NoError(t, err)

	status := storage.TableSpec{
		Name:    "dim_loan_status",
		Columns: []storage.ColumnSpec{{Name: "loan_status", Type: storage.TypeText}},
	}
	_, err = repo.ReplaceTable(ctx, status, [][]any{{"Fully Paid"}})
	require.NoError(t, err)

	_, err = repo.ReplaceTable(ctx, homeOwnershipSpec(), [][]any{{"MORTGAGE", int64(1)}})
	require.NoError(t, err)

	require.Equal(t, [][]string{
		{"home_ownership", "home_ownership_id"},
		{"MORTGAGE", "1"},
	}, readSheet(t, path, "dim_home_ownership"))
	require.Equal(t, [][]string{
		{"loan_status"},
		{"Fully Paid"},
	}, readSheet(t, path, "dim_loan_status"))
}

func TestReplaceTable_NilCellsAreBlank(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	repo, err := New(context.Background(), storage.Config{Kind: "xlsx", DSN: path})
	require.NoError(t, err)

	_, err = repo.ReplaceTable(context.Background(), homeOwnershipSpec(), [][]any{{nil, int64(1)}})
	require.NoError(t, err)

	rows := readSheet(t, path, "dim_home_ownership")
	require.Len(t, rows, 2)
	require.Equal(t, []string{"", "1"}, rows[1])
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := New(context.Background(), storage.Config{Kind: "xlsx"})
	require.Error(t, err)
}

func TestReplaceTable_RejectsLongSheetName(t *testing.T) {
	repo, err := New(context.Background(), storage.Config{Kind: "xlsx", DSN: filepath.Join(t.TempDir(), "x.xlsx")})
	require.NoError(t, err)

	spec := storage.TableSpec{
		Name:    "a_table_name_longer_than_thirty_one_characters",
		Columns: []storage.ColumnSpec{{Name: "c", Type: storage.TypeText}},
	}
	_, err = repo.ReplaceTable(context.Background(), spec, nil)
	require.Error(t, err)
}
