package aggregate

import (
	"sync"
	"testing"
	"time"
)

func within(got, want time.Duration, tolerance float64) bool {
	diff := float64(got - want)
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance*float64(want)
}

func TestLatency_Basic(t *testing.T) {
	l := NewLatency(DefaultAccuracy)

	if s := l.Summary(); s.Count != 0 || s.Max != 0 {
		t.Errorf("empty aggregate should report zeros, got %+v", s)
	}

	l.Observe(10 * time.Millisecond)
	l.Observe(20 * time.Millisecond)
	l.Observe(30 * time.Millisecond)
	l.Observe(-time.Second)

	s := l.Summary()
	if s.Count != 3 {
		t.Errorf("expected count=3, got %d", s.Count)
	}
	if !within(s.Avg, 20*time.Millisecond, 0.001) {
		t.Errorf("expected avg=20ms, got %s", s.Avg)
	}
	if !within(s.Min, 10*time.Millisecond, 0.001) || !within(s.Max, 30*time.Millisecond, 0.001) {
		t.Errorf("unexpected min/max %s/%s", s.Min, s.Max)
	}
}

func TestLatency_Percentiles(t *testing.T) {
	l := NewLatency(DefaultAccuracy)

	// 1ms .. 100ms
	for i := 1; i <= 100; i++ {
		l.Observe(time.Duration(i) * time.Millisecond)
	}

	s := l.Summary()
	checks := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"p50", s.P50, 50 * time.Millisecond},
		{"p90", s.P90, 90 * time.Millisecond},
		{"p99", s.P99, 99 * time.Millisecond},
	}
	for _, c := range checks {
		if !within(c.got, c.want, 0.05) {
			t.Errorf("%s: expected ~%s, got %s", c.name, c.want, c.got)
		}
	}
}

func TestLatency_ResetAndMerge(t *testing.T) {
	a := NewLatency(DefaultAccuracy)
	b := NewLatency(DefaultAccuracy)

	a.Observe(5 * time.Millisecond)
	b.Observe(50 * time.Millisecond)
	b.Observe(100 * time.Millisecond)

	a.Merge(b)
	a.Merge(nil)
	a.Merge(a)

	s := a.Summary()
	if s.Count != 3 {
		t.Fatalf("expected merged count=3, got %d", s.Count)
	}
	if !within(s.Max, 100*time.Millisecond, 0.001) || !within(s.Min, 5*time.Millisecond, 0.001) {
		t.Errorf("unexpected merged bounds %s/%s", s.Min, s.Max)
	}
	if b.Count() != 2 {
		t.Error("merge must not modify the source")
	}

	a.Reset()
	if a.Count() != 0 || a.Summary().P50 != 0 {
		t.Error("reset should clear observations")
	}
}

func TestLatency_Concurrent(t *testing.T) {
	l := NewLatency(DefaultAccuracy)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				l.Observe(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if l.Count() != 8000 {
		t.Errorf("expected 8000 observations, got %d", l.Count())
	}
}

func TestManager(t *testing.T) {
	m := NewManager(DefaultAccuracy)

	m.Observe(OpFetch, 200*time.Millisecond)
	m.Observe(OpFetch, 400*time.Millisecond)
	m.Since(OpGetSeries, time.Now().Add(-time.Second))

	ops := m.Operations()
	if len(ops) != 2 || ops[0] != OpFetch || ops[1] != OpGetSeries {
		t.Errorf("unexpected operations %v", ops)
	}

	snap := m.Snapshot()
	if snap[OpFetch].Count != 2 || !within(snap[OpFetch].Avg, 300*time.Millisecond, 0.001) {
		t.Errorf("unexpected fetch summary %+v", snap[OpFetch])
	}
	if snap[OpGetSeries].Min < time.Second {
		t.Errorf("Since recorded %s", snap[OpGetSeries].Min)
	}

	m.Reset()
	if m.Snapshot()[OpFetch].Count != 0 {
		t.Error("reset should clear every operation")
	}
}

func BenchmarkLatency_Observe(b *testing.B) {
	l := NewLatency(DefaultAccuracy)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Observe(time.Duration(i%1000) * time.Microsecond)
	}
}
