package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"loanetl/internal/storage"
)

// Repo implements storage.Repository for Microsoft SQL Server.
//
// ReplaceTable runs DROP TABLE IF EXISTS, CREATE TABLE and the inserts for one
// table inside a single transaction, so a failed load leaves either the old
// table or the complete new one. Separate tables are separate transactions.
type Repo struct {
	db dbConn
}

func init() {
	storage.Register("mssql", New)
}

// New opens a "sqlserver" connection and validates it with PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}

	// One table at a time; a small pool is enough.
	raw.SetMaxOpenConns(4)
	raw.SetMaxIdleConns(4)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return &Repo{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// ReplaceTable drops and recreates spec.Name and inserts rows.
func (r *Repo) ReplaceTable(ctx context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mssql: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, buildDropSQL(spec.Name)); err != nil {
		return 0, fmt.Errorf("mssql: drop %s: %w", spec.Name, err)
	}
	if _, err := tx.ExecContext(ctx, buildCreateSQL(spec)); err != nil {
		return 0, fmt.Errorf("mssql: create %s: %w", spec.Name, err)
	}

	cols := spec.ColumnNames()
	var total int64
	for _, part := range chunkRows(rows, len(cols)) {
		q, args := buildBulkInsertSQL(spec.Name, cols, part)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("mssql: insert %s: %w", spec.Name, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mssql: commit %s: %w", spec.Name, err)
	}
	return total, nil
}

// maxParams stays below SQL Server's hard limit of 2100 parameters per
// statement.
const maxParams = 2000

// maxRowsPerInsert is SQL Server's limit on row value expressions in a single
// INSERT ... VALUES.
const maxRowsPerInsert = 1000

// chunkRows splits rows so that each chunk fits both statement limits.
func chunkRows(rows [][]any, width int) [][][]any {
	if len(rows) == 0 {
		return nil
	}
	per := min(maxParams/max(1, width), maxRowsPerInsert)
	per = max(per, 1)

	out := make([][][]any, 0, (len(rows)+per-1)/per)
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}

func buildDropSQL(table string) string {
	return "DROP TABLE IF EXISTS " + mssqlTableIdent(table) + ";"
}

// buildCreateSQL renders CREATE TABLE for spec. The primary key column, if
// any, is NOT NULL and carries a PRIMARY KEY constraint.
func buildCreateSQL(spec storage.TableSpec) string {
	parts := make([]string, 0, len(spec.Columns)+1)
	for _, c := range spec.Columns {
		def := mssqlIdent(c.Name) + " " + mssqlType(c.Type)
		if c.Name == spec.PrimaryKey {
			def += " NOT NULL"
		} else {
			def += " NULL"
		}
		parts = append(parts, def)
	}
	if spec.PrimaryKey != "" {
		parts = append(parts, fmt.Sprintf("CONSTRAINT %s PRIMARY KEY (%s)",
			mssqlIdent("pk_"+lastPart(spec.Name)), mssqlIdent(spec.PrimaryKey)))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s);", mssqlTableIdent(spec.Name), strings.Join(parts, ", "))
}

func mssqlType(logical string) string {
	switch logical {
	case storage.TypeBigint:
		return "BIGINT"
	case storage.TypeFloat:
		return "FLOAT"
	case storage.TypeBool:
		return "BIT"
	case storage.TypeDate:
		return "DATE"
	case storage.TypeTimestamp:
		return "DATETIME2"
	default:
		return "NVARCHAR(MAX)"
	}
}

// buildBulkInsertSQL constructs a single multi-row INSERT with @pN
// placeholders.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	return b.String(), args
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.fact_loans" -> [dbo].[fact_loans]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func lastPart(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

// sqlDB wraps *sql.DB to implement dbConn.
type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

var _ dbConn = (*sqlDB)(nil)
