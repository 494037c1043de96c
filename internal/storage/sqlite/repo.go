package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"loanetl/internal/storage"
)

// Repo implements storage.Repository for SQLite.
//
// SQLite has no native DATE or TIMESTAMP storage class. Dates are stored as
// "2006-01-02" TEXT and timestamps as RFC3339Nano TEXT in UTC, which sort
// correctly and round-trip without driver-specific scanning.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the database named by cfg.DSN (a file path or ":memory:").
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// A second pooled connection to ":memory:" would see an empty database.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// ReplaceTable drops and recreates spec.Name and inserts rows in one
// transaction.
func (r *Repo) ReplaceTable(ctx context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+sqlIdent(spec.Name)+";"); err != nil {
		return 0, fmt.Errorf("sqlite: drop %s: %w", spec.Name, err)
	}
	if _, err := tx.ExecContext(ctx, buildCreateSQL(spec)); err != nil {
		return 0, fmt.Errorf("sqlite: create %s: %w", spec.Name, err)
	}

	var total int64
	per := max(1, maxParams/len(spec.Columns))
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		q, args := buildInsertSQL(spec, rows[start:end])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("sqlite: insert %s: %w", spec.Name, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit %s: %w", spec.Name, err)
	}
	return total, nil
}

// maxParams is the historical SQLITE_MAX_VARIABLE_NUMBER default.
const maxParams = 999

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func buildCreateSQL(spec storage.TableSpec) string {
	parts := make([]string, 0, len(spec.Columns))
	for _, c := range spec.Columns {
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), sqliteType(c.Type))
		if c.Name == spec.PrimaryKey {
			col += " NOT NULL PRIMARY KEY"
		}
		parts = append(parts, col)
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", sqlIdent(spec.Name), strings.Join(parts, ",\n  "))
}

func sqliteType(logical string) string {
	switch logical {
	case storage.TypeBigint, storage.TypeBool:
		return "INTEGER"
	case storage.TypeFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}

// buildInsertSQL performs a multi-row insert with "?" placeholders, converting
// time values to their TEXT representation.
func buildInsertSQL(spec storage.TableSpec, rows [][]any) (string, []any) {
	colList := make([]string, 0, len(spec.Columns))
	for _, c := range spec.Columns {
		colList = append(colList, sqlIdent(c.Name))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(spec.Columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(spec.Name))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(spec.Columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		for c, col := range spec.Columns {
			args = append(args, sqliteValue(col.Type, row[c]))
		}
	}
	return b.String(), args
}

func sqliteValue(logical string, v any) any {
	t, ok := v.(time.Time)
	if !ok {
		return v
	}
	if logical == storage.TypeDate {
		return t.UTC().Format(time.DateOnly)
	}
	return formatSQLiteTime(t)
}

// formatSQLiteTime formats a time as RFC3339Nano in UTC.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
