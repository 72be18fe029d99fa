// Package metrics is the backend-agnostic metrics facade used by refine runs.
//
// Core packages call the package-level helpers; the binary picks a backend
// (Datadog, Prometheus Pushgateway, or none) with SetBackend. The default
// backend discards everything.
package metrics

import (
	"sync"
	"time"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer.
type Flusher interface {
	Flush() error
}

// Metric names shared by all backends.
const (
	StepTotal           = "refine_step_total"
	StepDurationSeconds = "refine_step_duration_seconds"
	EntitiesTotal       = "refine_entities_total"
	ResourcesTotal      = "refine_resources_total"
	DiagnosticsTotal    = "refine_diagnostics_total"
	RowsWrittenTotal    = "refine_rows_written_total"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the
// discarding backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the installed backend when it buffers.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// IncCounter forwards to the installed backend.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram forwards to the installed backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// RecordStep records one pipeline stage outcome and its duration.
func RecordStep(step string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordResource counts one input resource by outcome ("ok", "failed").
func RecordResource(status string) {
	IncCounter(ResourcesTotal, 1, Labels{"status": status})
}

// RecordEntities counts normalized entities kept after deduplication.
func RecordEntities(kind string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(EntitiesTotal, float64(n), Labels{"kind": kind})
}

// RecordDiagnostic counts one non-fatal normalization event.
func RecordDiagnostic(kind string) {
	IncCounter(DiagnosticsTotal, 1, Labels{"kind": kind})
}

// RecordRowsWritten counts rows committed to a table.
func RecordRowsWritten(table string, n int64) {
	if n <= 0 {
		return
	}
	IncCounter(RowsWrittenTotal, float64(n), Labels{"table": table})
}
