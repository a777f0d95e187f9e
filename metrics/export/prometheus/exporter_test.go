package prometheus

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	andyweb "github.com/CallMeChewy/AndyWeb"
)

type fakeSource struct {
	snapshot andyweb.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() andyweb.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                    { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: andyweb.MetricsSnapshot{
			Counters:   map[andyweb.MetricID]uint64{},
			Histograms: map[andyweb.MetricID][]uint64{},
		},
		dropped: 0,
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderDeterministicIncludesCounterAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: andyweb.MetricsSnapshot{
			Counters: map[andyweb.MetricID]uint64{
				andyweb.MetricLoginSuccess: 7,
			},
			Histograms: map[andyweb.MetricID][]uint64{
				andyweb.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	if !strings.Contains(out, "andyweb_login_success_total 7") {
		t.Fatalf("expected login_success counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "andyweb_validate_latency_seconds_bucket{le=\"0.005\"} 1") {
		t.Fatalf("expected first histogram bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "andyweb_validate_latency_seconds_bucket{le=\"+Inf\"} 36") {
		t.Fatalf("expected +Inf cumulative bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "andyweb_activity_dropped_total 2") {
		t.Fatalf("expected activity dropped counter in output, got:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: andyweb.MetricsSnapshot{
			Counters:   map[andyweb.MetricID]uint64{andyweb.MetricLoginSuccess: 1},
			Histograms: map[andyweb.MetricID][]uint64{},
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

func TestRenderIncludesGaugesAfterEngineMetrics(t *testing.T) {
	keys := 0.0
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: andyweb.MetricsSnapshot{
			Counters: map[andyweb.MetricID]uint64{andyweb.MetricRateLimitHit: 4},
		},
	}, WithGauge("andyweb_rate_limiter_keys", "Identities tracked by the limiter.", func() float64 { return keys }))

	keys = 12
	out := exp.Render()
	if !strings.Contains(out, "# TYPE andyweb_rate_limiter_keys gauge\nandyweb_rate_limiter_keys 12\n") {
		t.Fatalf("expected limiter gauge in output, got:\n%s", out)
	}
	if strings.Index(out, "andyweb_rate_limit_hit_total 4") > strings.Index(out, "andyweb_rate_limiter_keys 12") {
		t.Fatalf("expected gauges after engine counters, got:\n%s", out)
	}
}

func TestRenderGaugesOnlyWhenEngineMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{},
		WithGauge("andyweb_rate_limiter_keys", "", func() float64 { return 3 }),
		WithGauge("", "ignored", func() float64 { return 1 }),
		WithGauge("andyweb_nil_gauge", "ignored", nil),
	)

	out := exp.Render()
	if strings.Contains(out, "andyweb_login_success_total") {
		t.Fatalf("expected no engine counters, got:\n%s", out)
	}
	if strings.Contains(out, "andyweb_nil_gauge") {
		t.Fatalf("expected nil gauge to be skipped, got:\n%s", out)
	}
	if !strings.Contains(out, "andyweb_rate_limiter_keys 3") {
		t.Fatalf("expected gauge in output, got:\n%s", out)
	}
}

func TestEscapeHelp(t *testing.T) {
	if got := escapeHelp("a\\b\nc"); got != `a\\b\nc` {
		t.Fatalf("unexpected escape: %q", got)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestEncodeReportsWriteError(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: andyweb.MetricsSnapshot{
			Counters: map[andyweb.MetricID]uint64{andyweb.MetricLoginSuccess: 1},
		},
	})
	if err := exp.Encode(failingWriter{}); err == nil {
		t.Fatal("expected write error")
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: andyweb.MetricsSnapshot{
			Counters: map[andyweb.MetricID]uint64{
				andyweb.MetricLoginSuccess:   1000,
				andyweb.MetricLoginFailure:   40,
				andyweb.MetricRefreshSuccess: 800,
				andyweb.MetricRefreshFailure: 10,
				andyweb.MetricSessionCreated: 800,
				andyweb.MetricSessionEvicted: 20,
				andyweb.MetricRateLimitHit:   3,
			},
			Histograms: map[andyweb.MetricID][]uint64{
				andyweb.MetricValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
		dropped: 0,
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
