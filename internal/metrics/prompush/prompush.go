// Package prompush implements a metrics backend that pushes to a Prometheus
// Pushgateway on Flush.
//
// A refine run is a batch job, so nothing scrapes it; the binary calls
// metrics.Flush once before exiting and the gateway keeps the last values
// under job=<name>.
package prompush

import (
	"fmt"
	"sort"
	"strings"

	"fhiretl/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

type metricDef struct {
	help   string
	labels []string
}

var counterDefs = map[string]metricDef{
	metrics.StepTotal:        {help: "Refine pipeline stages by outcome.", labels: []string{"step", "status"}},
	metrics.EntitiesTotal:    {help: "Normalized entities kept after deduplication.", labels: []string{"kind"}},
	metrics.ResourcesTotal:   {help: "Input resources by outcome.", labels: []string{"status"}},
	metrics.DiagnosticsTotal: {help: "Non-fatal normalization events.", labels: []string{"kind"}},
	metrics.RowsWrittenTotal: {help: "Rows committed per table.", labels: []string{"table"}},
}

var histogramDefs = map[string]metricDef{
	metrics.StepDurationSeconds: {help: "Refine pipeline stage duration.", labels: []string{"step", "status"}},
}

// Backend records into a private registry and pushes it on Flush.
type Backend struct {
	pusher     *push.Pusher
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// NewBackend registers the refine metrics and targets gatewayURL under
// jobName.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, fmt.Errorf("prompush: gateway url required")
	}
	if jobName == "" {
		jobName = "refine"
	}

	reg := prometheus.NewRegistry()
	b := &Backend{
		counters:   make(map[string]*prometheus.CounterVec, len(counterDefs)),
		histograms: make(map[string]*prometheus.HistogramVec, len(histogramDefs)),
	}
	for _, name := range sortedNames(counterDefs) {
		def := counterDefs[name]
		cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: def.help}, def.labels)
		if err := reg.Register(cv); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
		b.counters[name] = cv
	}
	for _, name := range sortedNames(histogramDefs) {
		def := histogramDefs[name]
		hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: def.help, Buckets: prometheus.DefBuckets}, def.labels)
		if err := reg.Register(hv); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
		b.histograms[name] = hv
	}

	b.pusher = push.New(gatewayURL, jobName).Gatherer(reg)
	return b, nil
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	cv, ok := b.counters[name]
	if !ok {
		return
	}
	cv.WithLabelValues(labelValues(counterDefs[name], labels)...).Add(delta)
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	hv, ok := b.histograms[name]
	if !ok {
		return
	}
	hv.WithLabelValues(labelValues(histogramDefs[name], labels)...).Observe(value)
}

// Flush replaces the job's metric group on the gateway.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

func labelValues(def metricDef, labels metrics.Labels) []string {
	out := make([]string, len(def.labels))
	for i, l := range def.labels {
		v := labels[l]
		if v == "" {
			v = "unknown"
		}
		out[i] = v
	}
	return out
}

func sortedNames(m map[string]metricDef) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var (
	_ metrics.Backend = (*Backend)(nil)
	_ metrics.Flusher = (*Backend)(nil)
)
