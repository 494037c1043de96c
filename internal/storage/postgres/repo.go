package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"loanetl/internal/storage"
)

/*
Repo implements storage.Repository for Postgres.

Each ReplaceTable call runs in one transaction:
  - DROP TABLE IF EXISTS
  - CREATE TABLE from the TableSpec
  - COPY the rows in with the binary protocol
*/
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a Postgres-backed Repo and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

func (r *Repo) ReplaceTable(ctx context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+pgTableIdent(spec.Name)); err != nil {
		return 0, fmt.Errorf("postgres: drop %s: %w", spec.Name, err)
	}
	if _, err := tx.Exec(ctx, buildCreateSQL(spec)); err != nil {
		return 0, fmt.Errorf("postgres: create %s: %w", spec.Name, err)
	}

	n, err := tx.CopyFrom(ctx, tableIdentifier(spec.Name), spec.ColumnNames(), pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("postgres: copy %s: %w", spec.Name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit %s: %w", spec.Name, err)
	}
	return n, nil
}

// buildCreateSQL renders CREATE TABLE for spec. It is pure so the DDL can be
// tested without a database.
func buildCreateSQL(spec storage.TableSpec) string {
	defs := make([]string, 0, len(spec.Columns)+1)
	for _, c := range spec.Columns {
		def := pgIdent(c.Name) + " " + pgType(c.Type)
		if c.Name == spec.PrimaryKey {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if spec.PrimaryKey != "" {
		defs = append(defs, "PRIMARY KEY ("+pgIdent(spec.PrimaryKey)+")")
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", pgTableIdent(spec.Name), strings.Join(defs, ",\n  "))
}

func pgType(logical string) string {
	switch logical {
	case storage.TypeBigint:
		return "BIGINT"
	case storage.TypeFloat:
		return "DOUBLE PRECISION"
	case storage.TypeBool:
		return "BOOLEAN"
	case storage.TypeDate:
		return "DATE"
	case storage.TypeTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func pgIdent(id string) string {
	return pgx.Identifier{id}.Sanitize()
}

// tableIdentifier splits an optional "schema.table" name.
func tableIdentifier(name string) pgx.Identifier {
	if schema, table, ok := strings.Cut(name, "."); ok {
		return pgx.Identifier{schema, table}
	}
	return pgx.Identifier{name}
}

func pgTableIdent(name string) string {
	return tableIdentifier(name).Sanitize()
}
