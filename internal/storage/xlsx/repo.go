// Package xlsx is a file-based sink: each output table becomes one worksheet
// of an Excel workbook. It lets analysts inspect a run without a database.
package xlsx

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/xuri/excelize/v2"

	"loanetl/internal/storage"
)

// maxSheetName is Excel's sheet-name length limit.
const maxSheetName = 31

// Repo writes tables into the workbook at path. The workbook is created on the
// first ReplaceTable if it does not exist.
type Repo struct {
	path string
	mu   sync.Mutex
}

func init() {
	storage.Register("xlsx", New)
}

// New returns a Repo for the workbook named by cfg.DSN.
func New(_ context.Context, cfg storage.Config) (storage.Repository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("xlsx: DSN must be a workbook path")
	}
	return &Repo{path: cfg.DSN}, nil
}

func (r *Repo) Close() {}

// ReplaceTable replaces the worksheet named spec.Name with a header row
// followed by rows, then saves the workbook.
func (r *Repo) ReplaceTable(ctx context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}
	if len(spec.Name) > maxSheetName {
		return 0, fmt.Errorf("xlsx: table name %q exceeds %d characters", spec.Name, maxSheetName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, fresh, err := r.open()
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	if err := replaceSheet(f, spec.Name, fresh); err != nil {
		return 0, err
	}

	header := make([]any, len(spec.Columns))
	for i, c := range spec.Columns {
		header[i] = c.Name
	}
	if err := f.SetSheetRow(spec.Name, "A1", &header); err != nil {
		return 0, fmt.Errorf("xlsx: write header %s: %w", spec.Name, err)
	}

	for i, row := range rows {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return 0, fmt.Errorf("xlsx: %w", err)
		}
		vals := row
		if err := f.SetSheetRow(spec.Name, cell, &vals); err != nil {
			return 0, fmt.Errorf("xlsx: write %s row %d: %w", spec.Name, i+1, err)
		}
	}

	if err := f.SaveAs(r.path); err != nil {
		return 0, fmt.Errorf("xlsx: save %s: %w", r.path, err)
	}
	return int64(len(rows)), nil
}

func (r *Repo) open() (*excelize.File, bool, error) {
	if _, err := os.Stat(r.path); errors.Is(err, fs.ErrNotExist) {
		return excelize.NewFile(), true, nil
	}
	f, err := excelize.OpenFile(r.path)
	if err != nil {
		return nil, false, fmt.Errorf("xlsx: open %s: %w", r.path, err)
	}
	return f, false, nil
}

// replaceSheet leaves an empty sheet called name in f. A new workbook's default
// sheet is renamed. An existing sheet is swapped for a new one, since a
// workbook must always keep at least one sheet.
func replaceSheet(f *excelize.File, name string, fresh bool) error {
	if fresh {
		if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
			return fmt.Errorf("xlsx: rename default sheet: %w", err)
		}
		return nil
	}

	idx, err := f.GetSheetIndex(name)
	if err != nil {
		return fmt.Errorf("xlsx: %w", err)
	}
	if idx == -1 {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("xlsx: new sheet %s: %w", name, err)
		}
		return nil
	}

	const tmp = "__replacing__"
	if _, err := f.NewSheet(tmp); err != nil {
		return fmt.Errorf("xlsx: new sheet: %w", err)
	}
	if err := f.DeleteSheet(name); err != nil {
		return fmt.Errorf("xlsx: delete sheet %s: %w", name, err)
	}
	if err := f.SetSheetName(tmp, name); err != nil {
		return fmt.Errorf("xlsx: rename sheet %s: %w", name, err)
	}
	return nil
}
