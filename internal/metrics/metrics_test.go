package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type call struct {
	kind   string
	name   string
	value  float64
	labels Labels
}

type recorder struct {
	mu       sync.Mutex
	calls    []call
	flushErr error
	flushes  int
}

func (r *recorder) IncCounter(name string, delta float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{"counter", name, delta, labels})
}

func (r *recorder) ObserveHistogram(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{"histogram", name, value, labels})
}

func (r *recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
	return r.flushErr
}

// These tests mutate the process-wide backend, so they do not run in parallel.

func TestRecordStep(t *testing.T) {
	r := &recorder{}
	SetBackend(r)
	defer SetBackend(nil)

	RecordStep("clean", StatusOK, 1500*time.Millisecond)

	if len(r.calls) != 2 {
		t.Fatalf("calls=%d want 2", len(r.calls))
	}
	c, h := r.calls[0], r.calls[1]
	if c.kind != "counter" || c.name != StepTotal || c.value != 1 {
		t.Fatalf("unexpected counter call: %+v", c)
	}
	if h.kind != "histogram" || h.name != StepDurationSeconds || h.value != 1.5 {
		t.Fatalf("unexpected histogram call: %+v", h)
	}
	if c.labels["step"] != "clean" || c.labels["status"] != "ok" {
		t.Fatalf("labels=%v", c.labels)
	}
}

func TestRecordRecords_IgnoresNonPositive(t *testing.T) {
	r := &recorder{}
	SetBackend(r)
	defer SetBackend(nil)

	RecordRecords("loaded", 0)
	RecordRecords("loaded", -3)
	RecordRecords("loaded", 42)

	if len(r.calls) != 1 {
		t.Fatalf("calls=%d want 1", len(r.calls))
	}
	if r.calls[0].value != 42 || r.calls[0].labels["kind"] != "loaded" {
		t.Fatalf("unexpected call: %+v", r.calls[0])
	}
}

func TestFlush_UsesCurrentBackend(t *testing.T) {
	r := &recorder{flushErr: errors.New("push failed")}
	SetBackend(r)
	defer SetBackend(nil)

	if err := Flush(); err == nil || err.Error() != "push failed" {
		t.Fatalf("Flush err=%v", err)
	}
	if r.flushes != 1 {
		t.Fatalf("flushes=%d want 1", r.flushes)
	}
}

func TestSetBackendNil_RestoresNop(t *testing.T) {
	SetBackend(&recorder{})
	SetBackend(nil)

	if err := Flush(); err != nil {
		t.Fatalf("nop Flush err=%v", err)
	}
	RecordStep("load", StatusError, time.Second)
}
