// Package prompush implements a metrics.Backend that pushes to a Prometheus
// Pushgateway. A batch job exits before a scraper could reach it, so Flush
// pushes the whole registry once at the end of the run.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"loanetl/internal/metrics"
)

// Backend collects pipeline metrics in a private registry.
type Backend struct {
	reg    *prometheus.Registry
	pusher *push.Pusher

	steps     *prometheus.CounterVec
	durations *prometheus.HistogramVec
	records   *prometheus.CounterVec
}

// NewBackend returns a Backend pushing to gatewayURL under job. A non-empty
// runID is added as the "run_id" grouping key so concurrent runs do not
// overwrite each other.
func NewBackend(job, gatewayURL, runID string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is empty")
	}
	if job == "" {
		job = "loan_etl"
	}

	b := &Backend{
		reg: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline step executions by outcome.",
		}, []string{"step", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StepDurationSeconds,
			Help:    "Pipeline step wall time.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"step", "status"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Rows seen by the pipeline, by kind.",
		}, []string{"kind"}),
	}
	for _, c := range []prometheus.Collector{b.steps, b.durations, b.records} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register: %w", err)
		}
	}

	b.pusher = push.New(gatewayURL, job).Gatherer(b.reg)
	if runID != "" {
		b.pusher = b.pusher.Grouping("run_id", runID)
	}
	return b, nil
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.StepTotal:
		b.steps.WithLabelValues(labelOr(labels, "step"), labelOr(labels, "status")).Add(delta)
	case metrics.RecordsTotal:
		if kind := labels["kind"]; kind != "" {
			b.records.WithLabelValues(kind).Add(delta)
		}
	}
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.StepDurationSeconds {
		return
	}
	b.durations.WithLabelValues(labelOr(labels, "step"), labelOr(labels, "status")).Observe(value)
}

// Flush pushes every collected series, replacing the group on the gateway.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

// Gatherer exposes the backing registry.
func (b *Backend) Gatherer() prometheus.Gatherer { return b.reg }

func labelOr(labels metrics.Labels, key string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return "unknown"
}

var _ metrics.Backend = (*Backend)(nil)
