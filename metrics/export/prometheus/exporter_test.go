package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goRecycle "github.com/MrEthical07/goRecycle"
	"github.com/MrEthical07/goRecycle/metrics/export/internaldefs"
)

type fakeSource struct {
	snapshot goRecycle.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goRecycle.MetricsSnapshot { return f.snapshot }
func (f fakeSource) EventsDropped() uint64                      { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goRecycle.MetricsSnapshot{
			Counters:   map[goRecycle.MetricID]uint64{},
			Histograms: map[goRecycle.MetricID][]uint64{},
		},
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderIncludesCounterAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goRecycle.MetricsSnapshot{
			Counters: map[goRecycle.MetricID]uint64{
				goRecycle.MetricScanAccepted: 7,
			},
			Histograms: map[goRecycle.MetricID][]uint64{
				goRecycle.MetricSubmitLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"gorecycle_scan_accepted_total 7",
		"gorecycle_session_opened_total 0",
		`gorecycle_submit_latency_seconds_bucket{le="0.05"} 1`,
		`gorecycle_submit_latency_seconds_bucket{le="2.5"} 21`,
		`gorecycle_submit_latency_seconds_bucket{le="+Inf"} 36`,
		"gorecycle_submit_latency_seconds_count 36",
		"gorecycle_events_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestHistogramFamilyLayout(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goRecycle.MetricsSnapshot{
			Histograms: map[goRecycle.MetricID][]uint64{goRecycle.MetricSubmitLatency: {0, 3}},
		},
	})

	out := exp.Render()
	want := "# TYPE gorecycle_submit_latency_seconds histogram\n" +
		"gorecycle_submit_latency_seconds_bucket{le=\"0.05\"} 0\n" +
		"gorecycle_submit_latency_seconds_bucket{le=\"0.1\"} 3\n"
	if !strings.Contains(out, want) {
		t.Fatalf("expected histogram header and buckets, got:\n%s", out)
	}
	if !strings.Contains(out, "gorecycle_submit_latency_seconds_count 3\ngorecycle_submit_latency_seconds_sum 0\n") {
		t.Fatalf("expected count then sum, got:\n%s", out)
	}
}

func TestEscapeHelp(t *testing.T) {
	if got := escapeHelp("a\\b\nc"); got != `a\\b\nc` {
		t.Fatalf("unexpected escape %q", got)
	}
}

func TestEveryCounterRendered(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goRecycle.MetricsSnapshot{
			Counters: map[goRecycle.MetricID]uint64{goRecycle.MetricSessionOpened: 1},
		},
	})

	out := exp.Render()
	for _, def := range internaldefs.CounterDefs {
		if !strings.Contains(out, "# TYPE "+def.Name+" counter\n") {
			t.Fatalf("missing counter %s", def.Name)
		}
	}
}

func TestRenderFromMetrics(t *testing.T) {
	m := goRecycle.NewMetrics(goRecycle.MetricsConfig{Enabled: true})
	m.Inc(goRecycle.MetricProofUploaded)
	m.Inc(goRecycle.MetricProofUploaded)

	exp := NewPrometheusExporterFromSource(fakeSource{snapshot: m.Snapshot()})
	if out := exp.Render(); !strings.Contains(out, "gorecycle_proof_uploaded_total 2") {
		t.Fatalf("expected proof counter, got:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goRecycle.MetricsSnapshot{
			Counters:   map[goRecycle.MetricID]uint64{goRecycle.MetricScanAccepted: 1},
			Histograms: map[goRecycle.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goRecycle.MetricsSnapshot{
			Counters: map[goRecycle.MetricID]uint64{
				goRecycle.MetricSessionOpened:     120,
				goRecycle.MetricSessionExpired:    80,
				goRecycle.MetricScanAccepted:      900,
				goRecycle.MetricScanProofRequired: 40,
				goRecycle.MetricProofUploaded:     35,
			},
			Histograms: map[goRecycle.MetricID][]uint64{
				goRecycle.MetricSubmitLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
