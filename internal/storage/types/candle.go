package types

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is a single OHLCV bar. Timestamp is the bar open time.
type Candle struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Day returns the UTC calendar day the candle belongs to.
func (c Candle) Day() Date {
	return DateOf(c.Timestamp)
}

// Equal reports whether two candles carry the same instant and values.
func (c Candle) Equal(o Candle) bool {
	return c.Timestamp.Equal(o.Timestamp) &&
		c.Open.Equal(o.Open) &&
		c.High.Equal(o.High) &&
		c.Low.Equal(o.Low) &&
		c.Close.Equal(o.Close) &&
		c.Volume.Equal(o.Volume)
}

// SortCandles orders candles by timestamp ascending.
func SortCandles(cs []Candle) {
	slices.SortStableFunc(cs, func(a, b Candle) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}

// StrictlyAscending reports whether timestamps are unique and increasing.
func StrictlyAscending(cs []Candle) bool {
	for i := 1; i < len(cs); i++ {
		if !cs[i-1].Timestamp.Before(cs[i].Timestamp) {
			return false
		}
	}
	return true
}

// MergeCandles unions base and incoming; on equal timestamps the incoming
// row replaces the base row. The result is sorted and unique.
func MergeCandles(base, incoming []Candle) []Candle {
	byTime := make(map[int64]int, len(base)+len(incoming))
	out := make([]Candle, 0, len(base)+len(incoming))

	add := func(c Candle) {
		k := c.Timestamp.UnixNano()
		if i, ok := byTime[k]; ok {
			out[i] = c
			return
		}
		byTime[k] = len(out)
		out = append(out, c)
	}
	for _, c := range base {
		add(c)
	}
	for _, c := range incoming {
		add(c)
	}

	SortCandles(out)
	return out
}
