package storage

import (
	"context"
	"fmt"

	"loanetl/internal/dataset"
)

// Load pairs an output table with its primary key column (may be empty).
type Load struct {
	Table      *dataset.Table
	PrimaryKey string
}

// Written records one table that was replaced in the sink.
type Written struct {
	Table string
	Rows  int64
}

// Deploy replaces each table in order.
//
// It stops at the first failure and returns the tables written so far together
// with the error. Tables already replaced are left in place: there is no
// rollback across tables.
func Deploy(ctx context.Context, repo Repository, loads []Load) ([]Written, error) {
	if repo == nil {
		return nil, fmt.Errorf("storage: deploy: nil repository")
	}

	out := make([]Written, 0, len(loads))
	for _, l := range loads {
		if l.Table == nil {
			return out, fmt.Errorf("storage: deploy: nil table")
		}
		spec := InferSpec(l.Table, l.PrimaryKey)
		if err := spec.Validate(); err != nil {
			return out, err
		}

		n, err := repo.ReplaceTable(ctx, spec, CoerceRows(spec, l.Table.Rows))
		if err != nil {
			return out, fmt.Errorf("storage: replace %s: %w", spec.Name, err)
		}
		out = append(out, Written{Table: spec.Name, Rows: n})
	}
	return out, nil
}
