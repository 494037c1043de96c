// Command etl runs the loan star-schema job.
//
// Without -deploy it loads, cleans, filters and decomposes the CSV and logs a
// digest per output table. With -deploy it also replaces the four tables in the
// configured sink (SINK_KIND, default mssql).
//
// Exit codes: 0 success, 1 run failure (including a failed deploy), 2 usage.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"loanetl/internal/config"
	"loanetl/internal/metrics"
	"loanetl/internal/metrics/datadog"
	"loanetl/internal/metrics/prompush"
	"loanetl/internal/pipeline"
	"loanetl/internal/storage"

	// register every sink backend; SINK_KIND selects one at runtime.
	_ "loanetl/internal/storage/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runner is the pipeline seam used by runMain.
type runner interface {
	Run(ctx context.Context, opt pipeline.Options) (*pipeline.Result, error)
}

// appDeps holds the side-effecting collaborators of runMain so tests can
// replace them.
type appDeps struct {
	loadConfig  func(envFile string) (*config.Config, error)
	newLogger   func(verbose bool, stderr io.Writer) *zap.Logger
	initMetrics func(ctx context.Context, cfg config.Metrics, runID string, log *zap.Logger) (func(), error)
	newRunner   func(log *zap.Logger, runID string) runner
	newRunID    func() string
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig:  config.Load,
		newLogger:   newLogger,
		initMetrics: initMetrics,
		newRunner: func(log *zap.Logger, runID string) runner {
			return &pipeline.Runner{Logger: log, NewRunID: func() string { return runID }}
		},
		newRunID: uuid.NewString,
	}
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("etl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		deploy         = fs.Bool("deploy", false, "write the star schema to the configured sink")
		dataFile       = fs.String("data", "", "CSV path (overrides ETL_DATA_FILE)")
		verbose        = fs.Bool("v", false, "enable verbose (development) logs")
		metricsBackend = fs.String("metrics-backend", "", "metrics backend: none|datadog|pushgateway (overrides METRICS_BACKEND)")
		envFile        = fs.String("env-file", ".env", "optional dotenv file; a missing file is ignored")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "usage: etl [-deploy] [-data path] [-v] [-metrics-backend name] [-env-file path]\nunexpected arguments: %s\n", strings.Join(fs.Args(), " "))
		return 2
	}

	cfg, err := deps.loadConfig(*envFile)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if *dataFile != "" {
		cfg.DataFile = *dataFile
	}
	if *metricsBackend != "" {
		cfg.Metrics.Backend = *metricsBackend
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	log := deps.newLogger(*verbose, stderr)
	defer func() { _ = log.Sync() }()

	runID := deps.newRunID()
	cleanup, err := deps.initMetrics(ctx, cfg.Metrics, runID, log)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	opt := pipeline.Options{
		DataFile:          cfg.DataFile,
		Encoding:          cfg.Encoding,
		MaxNullPercentage: cfg.MaxNullPercentage,
		Deploy:            *deploy,
	}
	if *deploy {
		dsn, err := cfg.Sink.DSNFor()
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		opt.Sink = storage.Config{Kind: cfg.Sink.Kind, DSN: dsn}
		log.Info("sink", zap.String("kind", cfg.Sink.Kind), zap.String("dsn", cfg.Sink.Redacted()))
	}

	start := time.Now()
	res, err := deps.newRunner(log, runID).Run(ctx, opt)
	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "ok run_id=%s fact_rows=%d deployed=%t elapsed=%s\n",
		res.RunID, res.Schema.Fact.Len(), res.Deployed, time.Since(start).Truncate(time.Millisecond))
	return 0
}

// newLogger builds a production JSON logger, or a development console logger
// when verbose is set. Both write to stderr so stdout carries only the summary.
func newLogger(verbose bool, stderr io.Writer) *zap.Logger {
	var (
		enc   zapcore.Encoder
		level = zapcore.InfoLevel
	)
	if verbose {
		enc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		level = zapcore.DebugLevel
	} else {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(stderr), level)
	return zap.New(core).With(zap.String("service", "loan_etl"))
}

// closer is the lifecycle part of a metrics backend that owns a flush loop.
type closer interface {
	Close() error
}

// Seams for initMetrics tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metrics.Backend, closer, error) {
		b, err := datadog.NewBackend(ctx, opts)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	}
	newPushBackend = func(job, url, runID string) (metrics.Backend, error) {
		return prompush.NewBackend(job, url, runID)
	}
	setMetricsBackend = metrics.SetBackend
)

// initMetrics installs the selected backend and returns a cleanup that
// flushes it. The cleanup is never nil, even on error.
func initMetrics(ctx context.Context, cfg config.Metrics, runID string, log *zap.Logger) (func(), error) {
	nop := func() {}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "none":
		return nop, nil

	case "datadog":
		b, c, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    cfg.JobName,
			Env:        cfg.Env,
			RunID:      runID,
			Tags:       datadog.ParseTagsCSV(cfg.Tags),
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return nop, fmt.Errorf("datadog: %w", err)
		}
		setMetricsBackend(b)
		log.Info("metrics enabled", zap.String("backend", "datadog"), zap.String("job", cfg.JobName))
		return func() {
			if err := c.Close(); err != nil {
				log.Warn("metrics: datadog close error", zap.Error(err))
			}
		}, nil

	case "pushgateway":
		b, err := newPushBackend(cfg.JobName, cfg.PushgatewayURL, runID)
		if err != nil {
			return nop, fmt.Errorf("pushgateway: %w", err)
		}
		setMetricsBackend(b)
		log.Info("metrics enabled", zap.String("backend", "pushgateway"), zap.String("url", cfg.PushgatewayURL))
		return func() {
			if err := b.Flush(); err != nil {
				log.Warn("metrics: pushgateway flush error", zap.Error(err))
			}
		}, nil

	default:
		return nop, fmt.Errorf("unknown metrics backend %q (want none|datadog|pushgateway)", cfg.Backend)
	}
}
