// Package pipeline runs the loan job end to end: load, type report, clean,
// date filter, drop incomplete rows, star schema, and optionally deploy.
//
// Run is the single error boundary. Stage failures are returned as errors; a
// sink failure is also reported on the Result so the computed tables are
// still available to the caller.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"loanetl/internal/cleaner"
	"loanetl/internal/dataset"
	"loanetl/internal/datefilter"
	"loanetl/internal/fingerprint"
	"loanetl/internal/metrics"
	csvparser "loanetl/internal/parser/csv"
	"loanetl/internal/probe"
	"loanetl/internal/starschema"
	"loanetl/internal/storage"
)

// SourceTable is the name given to the loaded input table.
const SourceTable = "loans"

// Options are the per-run inputs.
type Options struct {
	DataFile          string
	Encoding          string
	MaxNullPercentage float64

	// Deploy writes the star schema to Sink when true.
	Deploy bool
	Sink   storage.Config
}

// Result is everything one run produced.
type Result struct {
	RunID string

	Loaded            int
	Types             probe.Report
	Clean             cleaner.Report
	DateFilter        datefilter.Report
	DateFiltered      bool
	DroppedIncomplete int

	Schema *starschema.Schema
	// Digests maps output table name to fingerprint.Table.
	Digests map[string]string

	Deployed  bool
	Written   []storage.Written
	DeployErr error
}

// Runner carries the run's collaborators. The zero value is usable.
type Runner struct {
	Logger *zap.Logger
	// Open constructs the sink. Defaults to storage.New.
	Open func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	// NewRunID defaults to a random UUID.
	NewRunID func() string
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// Run loads opt.DataFile and runs every stage.
func (r *Runner) Run(ctx context.Context, opt Options) (*Result, error) {
	res := r.newResult()
	log := r.logger().With(zap.String("run_id", res.RunID))
	log.Info("run started", zap.String("data_file", opt.DataFile), zap.Bool("deploy", opt.Deploy))

	var raw *dataset.Table
	err := r.step(ctx, log, "load", func() error {
		t, err := csvparser.LoadFile(ctx, opt.DataFile, csvparser.Options{Encoding: opt.Encoding})
		if err != nil {
			return err
		}
		t.Name = SourceTable
		raw = t
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("pipeline: load: %w", err)
	}
	res.Loaded = raw.Len()
	metrics.RecordRecords("loaded", raw.Len())
	log.Info("loaded", zap.Int("rows", raw.Len()), zap.Int("columns", len(raw.Columns)))

	if err := r.transform(ctx, log, raw, opt, res); err != nil {
		return res, err
	}
	if !opt.Deploy {
		log.Info("run finished", zap.Bool("deployed", false))
		return res, nil
	}
	return res, r.deploy(ctx, log, opt.Sink, res)
}

// Transform runs every stage after loading on an in-memory table. It never
// deploys.
func (r *Runner) Transform(ctx context.Context, raw *dataset.Table, opt Options) (*Result, error) {
	res := r.newResult()
	if raw == nil {
		return res, errors.New("pipeline: nil input table")
	}
	res.Loaded = raw.Len()
	log := r.logger().With(zap.String("run_id", res.RunID))
	return res, r.transform(ctx, log, raw, opt, res)
}

func (r *Runner) newResult() *Result {
	id := ""
	if r.NewRunID != nil {
		id = r.NewRunID()
	} else {
		id = uuid.NewString()
	}
	return &Result{RunID: id, Digests: map[string]string{}}
}

func (r *Runner) transform(ctx context.Context, log *zap.Logger, raw *dataset.Table, opt Options, res *Result) error {
	// The type report is diagnostic only; nothing downstream reads it.
	_ = r.step(ctx, log, "guess_types", func() error {
		res.Types = probe.GuessColumnTypes(raw, probe.Options{})
		log.Info("column types", zap.Bool("success", res.Types.Success), zap.Any("kinds", res.Types.Counts()))
		if ce := log.Check(zap.DebugLevel, "column type report"); ce != nil {
			ce.Write(zap.String("report", res.Types.String()))
		}
		return nil
	})

	var cleaned *dataset.Table
	err := r.step(ctx, log, "clean", func() error {
		t, rep, err := cleaner.Clean(raw, opt.MaxNullPercentage)
		if err != nil {
			return err
		}
		cleaned, res.Clean = t, rep
		return nil
	})
	if err != nil {
		return fmt.Errorf("pipeline: clean: %w", err)
	}
	metrics.RecordRecords("dropped_null_rows", res.Clean.DroppedRows)
	log.Info("cleaned",
		zap.Float64("max_null_percentage", opt.MaxNullPercentage),
		zap.Strings("dropped_columns", res.Clean.DroppedColumnNames()),
		zap.Int("dropped_rows", res.Clean.DroppedRows),
		zap.Int("rows", cleaned.Len()),
	)

	filtered := cleaned
	if cleaned.Lookup(datefilter.DefaultColumn).Present() {
		_ = r.step(ctx, log, "date_filter", func() error {
			filtered, res.DateFilter = datefilter.Filter(cleaned, datefilter.Options{})
			return nil
		})
		res.DateFiltered = true
		metrics.RecordRecords("dropped_by_date", res.DateFilter.OutOfWindow+res.DateFilter.Unparseable)
		log.Info("date filtered",
			zap.String("column", datefilter.DefaultColumn),
			zap.Time("start", datefilter.DefaultWindow.Start),
			zap.Time("end", datefilter.DefaultWindow.End),
			zap.Int("kept", res.DateFilter.Kept),
			zap.Int("out_of_window", res.DateFilter.OutOfWindow),
			zap.Int("unparseable", res.DateFilter.Unparseable),
		)
	} else {
		log.Info("date filter skipped", zap.String("missing_column", datefilter.DefaultColumn))
	}

	var complete *dataset.Table
	_ = r.step(ctx, log, "drop_incomplete", func() error {
		complete, res.DroppedIncomplete = cleaner.DropIncomplete(filtered)
		return nil
	})
	metrics.RecordRecords("dropped_incomplete", res.DroppedIncomplete)

	err = r.step(ctx, log, "build_schema", func() error {
		s, err := starschema.Build(complete)
		if err != nil {
			return err
		}
		res.Schema = s
		return nil
	})
	if err != nil {
		return fmt.Errorf("pipeline: build schema: %w", err)
	}

	metrics.RecordRecords("fact", res.Schema.Fact.Len())
	for _, t := range res.Schema.Tables() {
		res.Digests[t.Name] = fingerprint.Table(t)
		log.Info("table built",
			zap.String("table", t.Name),
			zap.Int("rows", t.Len()),
			zap.Strings("columns", t.Columns),
			zap.String("digest", res.Digests[t.Name]),
		)
	}
	return nil
}

func (r *Runner) deploy(ctx context.Context, log *zap.Logger, cfg storage.Config, res *Result) error {
	open := r.Open
	if open == nil {
		open = storage.New
	}

	err := r.step(ctx, log, "deploy", func() error {
		repo, err := open(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open %s sink: %w", cfg.Kind, err)
		}
		defer repo.Close()

		written, err := storage.Deploy(ctx, repo, loadsFor(res.Schema))
		res.Written = written
		return err
	})
	if err != nil {
		res.DeployErr = err
		log.Error("deploy failed",
			zap.String("sink", cfg.Kind),
			zap.Int("tables_written", len(res.Written)),
			zap.Error(err),
		)
		return fmt.Errorf("pipeline: deploy: %w", err)
	}

	res.Deployed = true
	var rows int64
	for _, w := range res.Written {
		rows += w.Rows
	}
	metrics.RecordRecords("written", int(rows))
	log.Info("run finished", zap.Bool("deployed", true), zap.String("sink", cfg.Kind), zap.Int64("rows_written", rows))
	return nil
}

// loadsFor lists the schema's tables with their surrogate key columns.
func loadsFor(s *starschema.Schema) []storage.Load {
	loads := make([]storage.Load, 0, len(s.Dimensions)+1)
	for _, d := range s.Dimensions {
		loads = append(loads, storage.Load{Table: d.Table, PrimaryKey: d.Spec.KeyColumn})
	}
	return append(loads, storage.Load{Table: s.Fact, PrimaryKey: starschema.FactIDColumn})
}

// step times fn, records step metrics, and honors cancellation before it
// starts.
func (r *Runner) step(ctx context.Context, log *zap.Logger, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		metrics.RecordStep(name, metrics.StatusError, 0)
		return err
	}

	start := time.Now()
	err := fn()
	d := time.Since(start)

	status := metrics.StatusOK
	if err != nil {
		status = metrics.StatusError
	}
	metrics.RecordStep(name, status, d)
	log.Debug("step", zap.String("step", name), zap.String("status", status), zap.Duration("took", d))
	return err
}
