package accessgate

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledIsNoOp(t *testing.T) {
	m := NewMetrics(MetricsConfig{})

	m.Inc(MetricLoginSuccess)
	m.Observe(MetricAuthorizeLatency, time.Millisecond)

	if m.Value(MetricLoginSuccess) != 0 {
		t.Fatal("disabled metrics must not count")
	}
	s := m.Snapshot()
	if len(s.Counters) != 0 || len(s.Histograms) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", s)
	}

	var nilMetrics *Metrics
	nilMetrics.Inc(MetricLoginSuccess)
	if nilMetrics.Value(MetricLoginSuccess) != 0 {
		t.Fatal("nil receiver must be safe")
	}
}

func TestMetricsCountersAndSnapshot(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Inc(MetricAuthorizeAllow)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricAuthorizeAllow); got != 800 {
		t.Fatalf("expected 800, got %d", got)
	}

	m.Add(MetricSessionsSwept, 5)
	s := m.Snapshot()
	if s.Counters[MetricAuthorizeAllow] != 800 || s.Counters[MetricSessionsSwept] != 5 {
		t.Fatalf("snapshot mismatch: %+v", s.Counters)
	}
}

func TestMetricsLatencyBuckets(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	samples := map[time.Duration]int{
		2 * time.Millisecond:   0,
		8 * time.Millisecond:   1,
		20 * time.Millisecond:  2,
		40 * time.Millisecond:  3,
		80 * time.Millisecond:  4,
		200 * time.Millisecond: 5,
		400 * time.Millisecond: 6,
		2 * time.Second:        7,
	}
	for d := range samples {
		m.Observe(MetricAuthorizeLatency, d)
	}

	buckets := m.Snapshot().Histograms[MetricAuthorizeLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("expected %d buckets, got %d", histBucketCount, len(buckets))
	}
	for d, idx := range samples {
		if buckets[idx] != 1 {
			t.Fatalf("sample %v expected in bucket %d, buckets=%v", d, idx, buckets)
		}
	}

	// Only the latency metric carries a histogram.
	m.Observe(MetricLoginSuccess, time.Millisecond)
	if _, ok := m.Snapshot().Histograms[MetricLoginSuccess]; ok {
		t.Fatal("unexpected histogram for a counter metric")
	}
}
