package testing

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xtxerr/candlecache/internal/storage/types"
)

// Generator produces the upstream candles for a window [start, end).
type Generator func(symbol string, tf types.Timeframe, start, end time.Time) []types.Candle

// WeekdayBars emits one bar per timeframe step on Monday to Friday. The
// close is derived from the bar time, so the same window always yields the
// same data.
func WeekdayBars(_ string, tf types.Timeframe, start, end time.Time) []types.Candle {
	step := tf.Duration()
	var out []types.Candle
	for ts := start.UTC(); ts.Before(end); ts = ts.Add(step) {
		if wd := ts.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		out = append(out, Bar(ts, 100+float64(ts.YearDay())+float64(ts.Hour())/100))
	}
	return out
}

// Bar returns a candle with every price at px and volume 1000.
func Bar(ts time.Time, px float64) types.Candle {
	p := decimal.NewFromFloat(px)
	return types.Candle{
		Timestamp: ts.UTC(),
		Open:      p,
		High:      p.Add(decimal.NewFromInt(1)),
		Low:       p.Sub(decimal.NewFromInt(1)),
		Close:     p,
		Volume:    decimal.NewFromInt(1000),
	}
}

// Call records one Fetch invocation.
type Call struct {
	Symbol    string
	Timeframe types.Timeframe
	Start     time.Time
	End       time.Time
}

// Range returns the calendar days covered by the call window.
func (c Call) Range() types.DateRange {
	return types.DateRange{Start: types.DateOf(c.Start), End: types.DateOf(c.End.Add(-time.Nanosecond))}
}

type failure struct {
	r     types.DateRange
	err   error
	times int
}

// FakeClient is a scriptable fetch.Client. It counts calls, serves
// generated candles and fails windows registered with FailRange.
type FakeClient struct {
	mu       sync.Mutex
	generate Generator
	failures []*failure
	calls    []Call
	gate     chan struct{}
}

// NewFakeClient returns a client serving WeekdayBars.
func NewFakeClient() *FakeClient {
	return &FakeClient{generate: WeekdayBars}
}

// SetGenerator replaces the upstream data.
func (f *FakeClient) SetGenerator(g Generator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generate = g
}

// FailRange makes calls whose window overlaps r return err. times bounds
// how often the failure fires; 0 means always.
func (f *FakeClient) FailRange(r types.DateRange, err error, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, &failure{r: r, err: err, times: times})
}

// Block makes Fetch wait until the returned function is called or the
// call context ends.
func (f *FakeClient) Block() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Fetch implements fetch.Client.
func (f *FakeClient) Fetch(ctx context.Context, symbol string, tf types.Timeframe, start, end time.Time) ([]types.Candle, error) {
	f.mu.Lock()
	call := Call{Symbol: symbol, Timeframe: tf, Start: start, End: end}
	f.calls = append(f.calls, call)
	gate := f.gate
	gen := f.generate

	var failErr error
	window := call.Range()
	for _, fl := range f.failures {
		if fl.times < 0 || !overlaps(fl.r, window) {
			continue
		}
		failErr = fl.err
		if fl.times > 0 {
			fl.times--
			if fl.times == 0 {
				fl.times = -1
			}
		}
		break
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if failErr != nil {
		return nil, failErr
	}
	return gen(symbol, tf, start, end), nil
}

func overlaps(a, b types.DateRange) bool {
	return !a.End.Before(b.Start) && !b.End.Before(a.Start)
}

// Calls returns a copy of the recorded calls.
func (f *FakeClient) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount returns the number of Fetch invocations.
func (f *FakeClient) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// Reset forgets recorded calls.
func (f *FakeClient) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}
