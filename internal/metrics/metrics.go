// Package metrics is the process-wide metrics facade used by the pipeline.
//
// Pipeline code calls the helpers in this package and never imports a concrete
// backend. cmd/etl picks a backend (Datadog, Pushgateway, or none) and installs
// it with SetBackend before the run starts.
package metrics

import (
	"sync"
	"time"
)

// Metric names emitted by the pipeline.
const (
	StepTotal           = "etl_step_total"
	StepDurationSeconds = "etl_step_duration_seconds"
	RecordsTotal        = "etl_records_total"
)

// Step statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Labels are metric dimensions. Backends decide how to encode them (Prometheus
// labels, Datadog tags).
type Labels map[string]string

// Backend receives metric updates. Implementations must be safe for concurrent
// use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the nop
// backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one execution of a pipeline step and observes its
// duration.
func RecordStep(step, status string, d time.Duration) {
	b := current()
	l := Labels{"step": step, "status": status}
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordRecords adds n to the record counter for kind (e.g. "loaded",
// "dropped_null_rows", "fact"). Non-positive n is ignored.
func RecordRecords(kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}
