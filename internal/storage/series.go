package storage

import (
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/xtxerr/candlecache/internal/errors"
	"github.com/xtxerr/candlecache/internal/storage/types"
)

// Request identifies a window of one series. Start and End are inclusive
// UTC calendar days.
type Request struct {
	Source    string
	Symbol    string
	Timeframe string
	Start     types.Date
	End       types.Date
}

// Validate normalizes the request and returns its cache key and range.
func (r Request) Validate() (types.CacheKey, types.DateRange, error) {
	v := errors.NewValidationErrors()

	if strings.TrimSpace(r.Source) == "" {
		v.AddMissing("source")
	}
	if strings.TrimSpace(r.Symbol) == "" {
		v.AddMissing("symbol")
	}
	if r.Start.IsZero() {
		v.AddMissing("start")
	}
	if r.End.IsZero() {
		v.AddMissing("end")
	}

	var key types.CacheKey
	if !v.HasErrors() {
		var err error
		key, err = types.NewCacheKey(r.Source, r.Symbol, r.Timeframe)
		v.Add(err)
	}

	rng := types.DateRange{Start: r.Start, End: r.End}
	if !r.Start.IsZero() && !r.End.IsZero() && !rng.Valid() {
		v.Add(fmt.Errorf("end %s before start %s: %w", r.End, r.Start, errors.ErrInvalidRange))
	}

	if err := v.Err(); err != nil {
		return types.CacheKey{}, types.DateRange{}, err
	}
	return key, rng, nil
}

// Series is an assembled window of candles with unique, strictly ascending
// timestamps.
type Series struct {
	Key   types.CacheKey
	Range types.DateRange

	// Candles is the assembled data. Callers must not modify it.
	Candles []types.Candle

	// Unresolved lists the ranges that could not be fetched, ascending.
	Unresolved []types.DateRange

	// Fetched counts gap ranges retrieved from the provider.
	Fetched int

	// Elapsed is the wall time of the request.
	Elapsed time.Duration
}

// Len returns the number of candles.
func (s *Series) Len() int {
	return len(s.Candles)
}

// Complete reports whether every day of the range is covered.
func (s *Series) Complete() bool {
	return len(s.Unresolved) == 0
}

// All iterates the candles in order. The iterator can be ranged over
// repeatedly.
func (s *Series) All() iter.Seq[types.Candle] {
	return func(yield func(types.Candle) bool) {
		for _, c := range s.Candles {
			if !yield(c) {
				return
			}
		}
	}
}

func (s *Series) clone() *Series {
	c := *s
	c.Candles = append([]types.Candle(nil), s.Candles...)
	c.Unresolved = append([]types.DateRange(nil), s.Unresolved...)
	return &c
}

// IncompleteError is returned together with a partial Series when some
// gap ranges could not be resolved. It unwraps to every cause, so
// errors.Is(err, errors.ErrFetch) holds for fetch failures.
type IncompleteError struct {
	Key        types.CacheKey
	Unresolved []types.DateRange
	Errs       []error
}

func (e *IncompleteError) Error() string {
	ranges := make([]string, len(e.Unresolved))
	for i, r := range e.Unresolved {
		ranges[i] = r.String()
	}
	msg := fmt.Sprintf("incomplete series %s: unresolved %s", e.Key, strings.Join(ranges, ", "))
	if len(e.Errs) > 0 {
		msg += ": " + e.Errs[0].Error()
	}
	if len(e.Errs) > 1 {
		msg += fmt.Sprintf(" (and %d more)", len(e.Errs)-1)
	}
	return msg
}

func (e *IncompleteError) Unwrap() []error {
	return e.Errs
}
