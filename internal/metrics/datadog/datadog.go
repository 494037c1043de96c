// Package datadog implements a Datadog backend for the internal/metrics package.
//
// Metrics are buffered in memory and submitted on Flush. A background loop
// flushes on a ticker so a long load into a slow sink still produces a time
// series, and Close performs one final flush at shutdown.
//
// Concurrency model:
//   - pipeline code can call IncCounter/ObserveHistogram at any time
//   - Flush snapshots and resets buffers under a mutex, then submits out-of-lock
//   - Close stops the loop, so it must be called once
package datadog

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"loanetl/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "loan_etl".
	JobName string

	// Env becomes tag "env:<env>". Defaults to "unknown".
	Env string

	// RunID, when set, becomes tag "run_id:<id>" so one run's series can be
	// isolated on a dashboard.
	RunID string

	// Tags are extra Datadog tags (e.g. []string{"team:risk"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// Unexported test seams. Production code never sets them.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the subset of *datadogV2.MetricsApi the backend uses, so
// tests can run without HTTP.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	stepCounts      map[stepKey]float64
	recordCounts    map[string]float64
	durationSamples map[stepKey][]float64
}

type stepKey struct {
	step   string
	status string
}

// NewBackend constructs a Datadog backend using the official client and starts
// its periodic flush loop. API credentials come from the client's usual
// DD_API_KEY / DD_SITE environment handling.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "loan_etl"
	}
	env := strings.TrimSpace(opts.Env)
	if env == "" {
		env = "unknown"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 3+len(opts.Tags))
	baseTags = append(baseTags, "env:"+env, "job:"+job)
	if opts.RunID != "" {
		baseTags = append(baseTags, "run_id:"+opts.RunID)
	}
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}
	submitter := opts.submitter
	if submitter == nil {
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,

		stepCounts:      make(map[stepKey]float64),
		recordCounts:    make(map[string]float64),
		durationSamples: make(map[stepKey][]float64),
	}

	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the background flush loop and performs one final Flush.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend. Unknown metric names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.StepTotal:
		b.stepCounts[keyFor(labels)] += delta
	case metrics.RecordsTotal:
		kind := labels["kind"]
		if kind == "" {
			return
		}
		b.recordCounts[kind] += delta
	}
}

// ObserveHistogram implements metrics.Backend. Unknown metric names are
// ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.StepDurationSeconds {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	k := keyFor(labels)
	b.durationSamples[k] = append(b.durationSamples[k], value)
}

func keyFor(labels metrics.Labels) stepKey {
	k := stepKey{step: labels["step"], status: labels["status"]}
	if k.step == "" {
		k.step = "unknown"
	}
	if k.status == "" {
		k.status = "unknown"
	}
	return k
}

type snapshot struct {
	stepCounts      map[stepKey]float64
	recordCounts    map[string]float64
	durationSamples map[stepKey][]float64
}

func (s snapshot) isEmpty() bool {
	return len(s.stepCounts) == 0 && len(s.recordCounts) == 0 && len(s.durationSamples) == 0
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		stepCounts:      b.stepCounts,
		recordCounts:    b.recordCounts,
		durationSamples: b.durationSamples,
	}
	b.stepCounts = make(map[stepKey]float64)
	b.recordCounts = make(map[string]float64)
	b.durationSamples = make(map[stepKey][]float64)
	return s
}

// Flush submits buffered metrics and resets local buffers. It returns nil when
// there is nothing to submit. Buffers are reset even if submission fails.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries is pure so naming and tagging can be tested without a network.
// Series are sorted by metric name then tags so payloads are deterministic.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.stepCounts)+len(s.recordCounts)+6*len(s.durationSamples))

	for k, v := range s.stepCounts {
		tags := withTags(b.baseTags, "step:"+k.step, "status:"+k.status)
		series = append(series, pointSeries("etl.step.total", datadogV2.METRICINTAKETYPE_COUNT, v, tags, nowUnix))
	}
	for kind, v := range s.recordCounts {
		tags := withTags(b.baseTags, "kind:"+kind)
		series = append(series, pointSeries("etl.records.total", datadogV2.METRICINTAKETYPE_COUNT, v, tags, nowUnix))
	}
	for k, samples := range s.durationSamples {
		tags := withTags(b.baseTags, "step:"+k.step, "status:"+k.status)
		series = appendPercentiles(series, "etl.step.duration_seconds", samples, tags, nowUnix)
	}

	sort.Slice(series, func(i, j int) bool {
		if series[i].Metric != series[j].Metric {
			return series[i].Metric < series[j].Metric
		}
		return strings.Join(series[i].Tags, ",") < strings.Join(series[j].Tags, ",")
	})
	return series
}

// appendPercentiles adds p50/p90/p95/p99/max/samples gauges for samples. It
// sorts a copy and leaves samples untouched.
func appendPercentiles(series []datadogV2.MetricSeries, prefix string, samples []float64, tags []string, nowUnix int64) []datadogV2.MetricSeries {
	if len(samples) == 0 {
		return series
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	gauge := func(suffix string, v float64) datadogV2.MetricSeries {
		return pointSeries(prefix+suffix, datadogV2.METRICINTAKETYPE_GAUGE, v, tags, nowUnix)
	}
	return append(series,
		gauge(".p50", percentileNearestRank(cp, 0.50)),
		gauge(".p90", percentileNearestRank(cp, 0.90)),
		gauge(".p95", percentileNearestRank(cp, 0.95)),
		gauge(".p99", percentileNearestRank(cp, 0.99)),
		gauge(".max", cp[len(cp)-1]),
		gauge(".samples", float64(len(cp))),
	)
}

func pointSeries(metric string, typ datadogV2.MetricIntakeType, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	return append(out, extras...)
}

// percentileNearestRank expects s sorted ascending.
func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	return s[min(max(idx, 0), n-1)]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,team:risk".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
