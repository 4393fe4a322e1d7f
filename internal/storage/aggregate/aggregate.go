// Package aggregate keeps streaming latency statistics with DDSketch
// percentiles for the operations of the cache.
package aggregate

import (
	"math"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// DefaultAccuracy is the relative accuracy of percentile estimates.
const DefaultAccuracy = 0.01

// Latency maintains running statistics for one operation.
type Latency struct {
	mu sync.Mutex

	accuracy float64
	count    int64
	sum      float64
	min      float64
	max      float64

	// nil if the sketch could not be built
	sketch *ddsketch.DDSketch
}

// Summary is a point-in-time view of a Latency.
type Summary struct {
	Count int64
	Avg   time.Duration
	Min   time.Duration
	Max   time.Duration
	P50   time.Duration
	P90   time.Duration
	P95   time.Duration
	P99   time.Duration
}

// NewLatency creates an empty aggregate with the given percentile accuracy.
func NewLatency(accuracy float64) *Latency {
	if accuracy <= 0 || accuracy >= 1 {
		accuracy = DefaultAccuracy
	}
	l := &Latency{accuracy: accuracy}
	l.resetLocked()
	return l
}

func (l *Latency) resetLocked() {
	l.count = 0
	l.sum = 0
	l.min = math.MaxFloat64
	l.max = -math.MaxFloat64

	// DDSketch has no Clear method.
	sketch, err := ddsketch.NewDefaultDDSketch(l.accuracy)
	if err == nil {
		l.sketch = sketch
	} else {
		l.sketch = nil
	}
}

// Observe records one duration. Negative durations are ignored.
func (l *Latency) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	v := d.Seconds()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.count++
	l.sum += v
	if v < l.min {
		l.min = v
	}
	if v > l.max {
		l.max = v
	}
	if l.sketch != nil {
		l.sketch.Add(v)
	}
}

// Count returns the number of observations.
func (l *Latency) Count() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Summary returns the current statistics.
func (l *Latency) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Summary{Count: l.count}
	if l.count == 0 {
		return s
	}
	s.Avg = seconds(l.sum / float64(l.count))
	s.Min = seconds(l.min)
	s.Max = seconds(l.max)

	if l.sketch != nil {
		s.P50 = l.quantile(0.50)
		s.P90 = l.quantile(0.90)
		s.P95 = l.quantile(0.95)
		s.P99 = l.quantile(0.99)
	}
	return s
}

func (l *Latency) quantile(q float64) time.Duration {
	v, err := l.sketch.GetValueAtQuantile(q)
	if err != nil {
		return 0
	}
	return seconds(v)
}

// Reset clears all observations.
func (l *Latency) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetLocked()
}

// Merge folds other into l.
func (l *Latency) Merge(other *Latency) {
	if other == nil || other == l {
		return
	}

	other.mu.Lock()
	count, sum, min, max := other.count, other.sum, other.min, other.max
	var sketch *ddsketch.DDSketch
	if other.sketch != nil {
		sketch = other.sketch.Copy()
	}
	other.mu.Unlock()

	if count == 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.count += count
	l.sum += sum
	if min < l.min {
		l.min = min
	}
	if max > l.max {
		l.max = max
	}
	if l.sketch != nil && sketch != nil {
		if err := l.sketch.MergeWith(sketch); err != nil {
			l.sketch = nil
		}
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
