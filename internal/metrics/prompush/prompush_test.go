package prompush

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"fhiretl/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

type gateway struct {
	mu     sync.Mutex
	method string
	path   string
	body   []byte
	status int
}

func (g *gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.method = r.Method
	g.path = r.URL.Path
	g.body, _ = io.ReadAll(r.Body)
	if g.status != 0 {
		w.WriteHeader(g.status)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return -1
	}
	return m.GetCounter().GetValue()
}

func TestNewBackend_RequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := NewBackend("refine", " "); err == nil {
		t.Fatalf("expected error for empty gateway url")
	}
}

func TestBackend_RecordsKnownMetrics(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("refine", "http://127.0.0.1:1")
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}

	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "read", "status": "ok"})
	b.IncCounter(metrics.StepTotal, 2, metrics.Labels{"step": "read", "status": "ok"})
	b.IncCounter(metrics.RowsWrittenTotal, 5, metrics.Labels{})
	b.IncCounter(metrics.EntitiesTotal, 0, metrics.Labels{"kind": "person"})
	b.IncCounter("unknown_total", 1, nil)
	b.ObserveHistogram(metrics.StepDurationSeconds, -1, nil)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"step_total", counterValue(b.counters[metrics.StepTotal].WithLabelValues("read", "ok")), 3},
		{"rows_unknown_table", counterValue(b.counters[metrics.RowsWrittenTotal].WithLabelValues("unknown")), 5},
		{"entities_zero_delta_ignored", counterValue(b.counters[metrics.EntitiesTotal].WithLabelValues("person")), 0},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Fatalf("%s=%v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestFlush_PushesJobGroup(t *testing.T) {
	t.Parallel()

	gw := &gateway{}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	b, err := NewBackend("refine-test", srv.URL)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	b.IncCounter(metrics.ResourcesTotal, 2, metrics.Labels{"status": "ok"})
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.25, metrics.Labels{"step": "persist", "status": "ok"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.method != http.MethodPut || gw.path != "/metrics/job/refine-test" {
		t.Fatalf("unexpected request %s %s", gw.method, gw.path)
	}
	for _, name := range []string{metrics.ResourcesTotal, metrics.StepDurationSeconds} {
		if !bytes.Contains(gw.body, []byte(name)) {
			t.Fatalf("pushed body missing %s", name)
		}
	}
}

func TestFlush_GatewayError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(&gateway{status: http.StatusInternalServerError})
	defer srv.Close()

	b, err := NewBackend("", srv.URL)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	if err := b.Flush(); err == nil {
		t.Fatalf("expected push error")
	}
}
