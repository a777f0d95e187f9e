package andyweb

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsIncrementRespectsEnabled(t *testing.T) {
	for _, tc := range []struct {
		enabled bool
		want    uint64
	}{
		{enabled: false, want: 0},
		{enabled: true, want: 3},
	} {
		m := NewMetrics(MetricsConfig{Enabled: tc.enabled})
		for i := 0; i < 3; i++ {
			m.Inc(MetricLoginSuccess)
		}
		if got := m.Value(MetricLoginSuccess); got != tc.want {
			t.Fatalf("enabled=%v: got %d, want %d", tc.enabled, got, tc.want)
		}
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricRefreshSuccess)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricRefreshSuccess); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestLatencyBucket(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{5 * time.Millisecond, 0},
		{5*time.Millisecond + 900*time.Microsecond, 0},
		{6 * time.Millisecond, 1},
		{10 * time.Millisecond, 1},
		{25 * time.Millisecond, 2},
		{50 * time.Millisecond, 3},
		{100 * time.Millisecond, 4},
		{250 * time.Millisecond, 5},
		{500 * time.Millisecond, 6},
		{501 * time.Millisecond, 7},
		{time.Minute, 7},
	}
	for _, tc := range cases {
		if got := latencyBucket(tc.d); got != tc.want {
			t.Errorf("latencyBucket(%v) = %d, want %d", tc.d, got, tc.want)
		}
	}
}

func TestMetricsHistogramOnePerBucket(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	for _, bound := range latencyBounds {
		m.Observe(MetricValidateLatency, bound)
	}
	m.Observe(MetricValidateLatency, time.Second)

	buckets := m.Snapshot().Histograms[MetricValidateLatency]
	if len(buckets) != latencyBucketCount {
		t.Fatalf("expected %d buckets, got %d", latencyBucketCount, len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d: got %d, want 1", i, v)
		}
	}
}

func TestMetricsHistogramNeedsLatencyFlag(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricValidateLatency, time.Millisecond)
	if _, ok := m.Snapshot().Histograms[MetricValidateLatency]; ok {
		t.Fatal("expected no histogram without EnableLatencyHistograms")
	}
}

func TestMetricsSnapshotConsistency(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginFailure)
	m.Inc(MetricLoginFailure)
	m.Observe(MetricValidateLatency, 2*time.Millisecond)

	snap := m.Snapshot()

	if snap.Counters[MetricLoginSuccess] != 1 {
		t.Fatalf("expected MetricLoginSuccess=1 got %d", snap.Counters[MetricLoginSuccess])
	}
	if snap.Counters[MetricLoginFailure] != 2 {
		t.Fatalf("expected MetricLoginFailure=2 got %d", snap.Counters[MetricLoginFailure])
	}
	if len(snap.Histograms[MetricValidateLatency]) != 8 {
		t.Fatalf("expected histogram length 8")
	}
	if snap.Histograms[MetricValidateLatency][0] != 1 {
		t.Fatalf("expected first histogram bucket=1 got %d", snap.Histograms[MetricValidateLatency][0])
	}
}

func TestMetricsAddAndNilSafety(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Add(MetricSessionsCleaned, 7)
	m.Add(MetricSessionsCleaned, 0)
	if got := m.Value(MetricSessionsCleaned); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}

	var nilMetrics *Metrics
	nilMetrics.Inc(MetricLoginSuccess)
	nilMetrics.Observe(MetricValidateLatency, time.Millisecond)
	if nilMetrics.Enabled() || nilMetrics.Value(MetricLoginSuccess) != 0 {
		t.Fatal("expected nil metrics to be inert")
	}
	if snap := nilMetrics.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snap.Counters)
	}
}

func TestMetricsObserveIgnoresCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Observe(MetricLoginSuccess, time.Millisecond)

	snap := m.Snapshot()
	if _, ok := snap.Histograms[MetricLoginSuccess]; ok {
		t.Fatal("expected no histogram for a counter metric")
	}
	if _, ok := snap.Counters[MetricValidateLatency]; ok {
		t.Fatal("expected latency metric to be reported only as a histogram")
	}
}
