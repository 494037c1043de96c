package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"loanetl/internal/dataset"
	"loanetl/internal/metrics"
	"loanetl/internal/starschema"
	"loanetl/internal/storage"
	_ "loanetl/internal/storage/sqlite"
)

const loansCSV = `id,loan_amnt,funded_amnt,term,int_rate,installment,home_ownership,loan_status,issue_d,desc
1,5000,5000,36 months,10.65%,162.87,RENT,Fully Paid,Dec-2011,
2,2500,2500,60 months,15.27%,59.83,OWN,Charged Off,Dec-2011,bike
3,2400,2400,36 months,15.96%,84.33,RENT,Fully Paid,Nov-2011,
4,10000,10000,36 months,13.49%,339.31,MORTGAGE,Current,Jan-2019,
5,3000,3000,60 months,12.69%,67.79,RENT,Current,Dec-2006,
6,5000,,36 months,7.90%,156.46,OWN,Fully Paid,Oct-2011,
`

func writeCSV(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loans.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func fixedRunID() string { return "run-1" }

func column(t *testing.T, tbl *dataset.Table, name string) []any {
	t.Helper()
	c := tbl.Lookup(name)
	require.Truef(t, c.Present(), "column %s missing from %s", name, tbl.Name)
	return tbl.Values(c)
}

func TestRun_ComputeOnly(t *testing.T) {
	r := &Runner{NewRunID: fixedRunID}
	res, err := r.Run(context.Background(), Options{DataFile: writeCSV(t, loansCSV), MaxNullPercentage: 30})
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 6, res.Loaded)
	assert.True(t, res.Types.Success)
	assert.Equal(t, []string{"desc"}, res.Clean.DroppedColumnNames())
	assert.Equal(t, 1, res.Clean.DroppedRows)
	assert.True(t, res.DateFiltered)
	assert.Equal(t, 3, res.DateFilter.Kept)
	assert.Equal(t, 2, res.DateFilter.OutOfWindow)
	assert.False(t, res.Deployed)
	assert.Nil(t, res.DeployErr)

	fact := res.Schema.Fact
	assert.Equal(t, starschema.FactTable, fact.Name)
	assert.Equal(t, 3, fact.Len())
	assert.Equal(t, []any{int64(1), int64(2), int64(1)}, column(t, fact, "home_ownership_id"))
	assert.Equal(t, []any{int64(1), int64(2), int64(1)}, column(t, fact, "loan_status_id"))
	assert.Equal(t, []any{int64(1), int64(1), int64(2)}, column(t, fact, "issue_d_id"))
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, column(t, fact, starschema.FactIDColumn))

	home, ok := res.Schema.Dimension("dim_home_ownership")
	require.True(t, ok)
	assert.Equal(t, []any{"RENT", "OWN"}, column(t, home.Table, "home_ownership"))

	for _, tbl := range res.Schema.Tables() {
		assert.Len(t, res.Digests[tbl.Name], 64, tbl.Name)
	}
}

func TestRun_OutOfWindowRowsNeverReachFact(t *testing.T) {
	r := &Runner{}
	res, err := r.Run(context.Background(), Options{DataFile: writeCSV(t, loansCSV), MaxNullPercentage: 30})
	require.NoError(t, err)

	dim, ok := res.Schema.Dimension("dim_issue_date")
	require.True(t, ok)
	for _, v := range column(t, dim.Table, "issue_d") {
		d, isTime := v.(time.Time)
		require.True(t, isTime, "issue_d=%T", v)
		assert.False(t, d.Before(time.Date(2007, 6, 1, 0, 0, 0, 0, time.UTC)), d)
		assert.False(t, d.After(time.Date(2018, 12, 31, 0, 0, 0, 0, time.UTC)), d)
	}
}

func TestRun_IsDeterministic(t *testing.T) {
	path := writeCSV(t, loansCSV)
	opt := Options{DataFile: path, MaxNullPercentage: 30}

	a, err := (&Runner{}).Run(context.Background(), opt)
	require.NoError(t, err)
	b, err := (&Runner{}).Run(context.Background(), opt)
	require.NoError(t, err)

	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, a.Digests, b.Digests)
}

func TestRun_MissingFile(t *testing.T) {
	res, err := (&Runner{}).Run(context.Background(), Options{DataFile: filepath.Join(t.TempDir(), "nope.csv"), MaxNullPercentage: 30})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: load")
	assert.Nil(t, res.Schema)
}

func TestRun_InvalidThreshold(t *testing.T) {
	_, err := (&Runner{}).Run(context.Background(), Options{DataFile: writeCSV(t, loansCSV), MaxNullPercentage: 120})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: clean")
}

func TestRun_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&Runner{}).Run(ctx, Options{DataFile: writeCSV(t, loansCSV), MaxNullPercentage: 30})
	require.ErrorIs(t, err, context.Canceled)
}

func TestTransform_WithoutIssueDateSkipsFilter(t *testing.T) {
	raw := dataset.New("loans", []string{"loan_amnt", "home_ownership"})
	require.NoError(t, raw.Append([]any{int64(100), "RENT"}))
	require.NoError(t, raw.Append([]any{int64(200), "OWN"}))
	require.NoError(t, raw.Append([]any{int64(300), "RENT"}))

	res, err := (&Runner{}).Transform(context.Background(), raw, Options{MaxNullPercentage: 30})
	require.NoError(t, err)

	assert.False(t, res.DateFiltered)
	assert.Equal(t, 3, res.Schema.Fact.Len())
	assert.Equal(t, []string{"loan_amnt", "home_ownership_id", starschema.FactIDColumn}, res.Schema.Fact.Columns)
	_, ok := res.Schema.Dimension("dim_issue_date")
	assert.False(t, ok)
}

func TestTransform_NilTable(t *testing.T) {
	_, err := (&Runner{}).Transform(context.Background(), nil, Options{})
	require.Error(t, err)
}

// failingRepo accepts failAfter tables and then fails.
type failingRepo struct {
	mu        sync.Mutex
	failAfter int
	replaced  []string
	closed    bool
}

func (f *failingRepo) ReplaceTable(_ context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replaced) >= f.failAfter {
		return 0, errors.New("connection reset")
	}
	f.replaced = append(f.replaced, spec.Name)
	return int64(len(rows)), nil
}

func (f *failingRepo) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func TestRun_UnreachableSinkKeepsComputedTables(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := &Runner{
		Logger: zap.New(core),
		Open: func(context.Context, storage.Config) (storage.Repository, error) {
			return nil, errors.New("dial tcp 10.0.0.1:1433: i/o timeout")
		},
	}

	res, err := r.Run(context.Background(), Options{
		DataFile:          writeCSV(t, loansCSV),
		MaxNullPercentage: 30,
		Deploy:            true,
		Sink:              storage.Config{Kind: "mssql", DSN: "sqlserver://x"},
	})
	require.Error(t, err)
	assert.False(t, res.Deployed)
	require.Error(t, res.DeployErr)
	assert.Contains(t, res.DeployErr.Error(), "i/o timeout")
	require.NotNil(t, res.Schema)
	assert.Equal(t, 3, res.Schema.Fact.Len())
	assert.Equal(t, 1, logs.FilterMessage("deploy failed").Len())
}

func TestRun_SinkFailureMidDeployReportsWrittenTables(t *testing.T) {
	repo := &failingRepo{failAfter: 1}
	r := &Runner{Open: func(context.Context, storage.Config) (storage.Repository, error) { return repo, nil }}

	res, err := r.Run(context.Background(), Options{
		DataFile:          writeCSV(t, loansCSV),
		MaxNullPercentage: 30,
		Deploy:            true,
		Sink:              storage.Config{Kind: "fake"},
	})
	require.Error(t, err)
	assert.False(t, res.Deployed)
	assert.Equal(t, []string{"dim_home_ownership"}, repo.replaced)
	require.Len(t, res.Written, 1)
	assert.Equal(t, int64(2), res.Written[0].Rows)
	assert.True(t, repo.closed)
}

func TestRun_DeploysToSQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "loans.db")
	res, err := (&Runner{}).Run(context.Background(), Options{
		DataFile:          writeCSV(t, loansCSV),
		MaxNullPercentage: 30,
		Deploy:            true,
		Sink:              storage.Config{Kind: "sqlite", DSN: dbPath},
	})
	require.NoError(t, err)
	require.True(t, res.Deployed)

	want := map[string]int64{
		"dim_home_ownership": 2,
		"dim_loan_status":    2,
		"dim_issue_date":     2,
		"fact_loans":         3,
	}
	got := map[string]int64{}
	for _, w := range res.Written {
		got[w.Table] = w.Rows
	}
	assert.Equal(t, want, got)

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM fact_loans f JOIN dim_home_ownership h ON f.home_ownership_id = h.home_ownership_id`).Scan(&n))
	assert.Equal(t, 3, n)

	// A second deploy replaces rather than appends.
	_, err = (&Runner{}).Run(context.Background(), Options{
		DataFile:          writeCSV(t, loansCSV),
		MaxNullPercentage: 30,
		Deploy:            true,
		Sink:              storage.Config{Kind: "sqlite", DSN: dbPath},
	})
	require.NoError(t, err)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM fact_loans`).Scan(&n))
	assert.Equal(t, 3, n)
}

type stepRecorder struct {
	mu      sync.Mutex
	steps   map[string]string
	records map[string]float64
}

func (s *stepRecorder) IncCounter(name string, v float64, labels metrics.Labels) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch name {
	case metrics.StepTotal:
		s.steps[labels["step"]] = labels["status"]
	case metrics.RecordsTotal:
		s.records[labels["kind"]] += v
	}
}
func (s *stepRecorder) ObserveHistogram(string, float64, metrics.Labels) {}
func (s *stepRecorder) Flush() error                                     { return nil }

func TestRun_RecordsStepMetrics(t *testing.T) {
	rec := &stepRecorder{steps: map[string]string{}, records: map[string]float64{}}
	metrics.SetBackend(rec)
	defer metrics.SetBackend(nil)

	_, err := (&Runner{}).Run(context.Background(), Options{DataFile: writeCSV(t, loansCSV), MaxNullPercentage: 30})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"load":            "ok",
		"guess_types":     "ok",
		"clean":           "ok",
		"date_filter":     "ok",
		"drop_incomplete": "ok",
		"build_schema":    "ok",
	}, rec.steps)
}

func TestRun_RecordCountsPerStep(t *testing.T) {
	rec := &stepRecorder{steps: map[string]string{}, records: map[string]float64{}}
	metrics.SetBackend(rec)
	defer metrics.SetBackend(nil)

	csv := loansCSV + "7,4000,4000,36 months,9.91%,128.89,,Current,Oct-2011,\n"
	_, err := (&Runner{}).Run(context.Background(), Options{DataFile: writeCSV(t, csv), MaxNullPercentage: 30})
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{
		"loaded":            7,
		"dropped_null_rows": 2,
		"dropped_by_date":   2,
		"fact":              3,
	}, rec.records)
}
