// Package fetch retrieves missing ranges from an upstream provider with
// rate limiting and bounded retries.
package fetch

import (
	"context"
	"time"

	"github.com/xtxerr/candlecache/internal/storage/types"
)

// Client is the single capability the cache needs from a market-data
// provider: candles for symbol at timeframe whose timestamps fall in the
// half-open window [start, end).
//
// Implementations classify failures with the sentinels in internal/errors:
// ErrInvalidSymbol and ErrInvalidTimeframe are terminal; ErrRateLimited,
// ErrTimeout and ErrTransient are retried. Unclassified errors are terminal.
type Client interface {
	Fetch(ctx context.Context, symbol string, tf types.Timeframe, start, end time.Time) ([]types.Candle, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, symbol string, tf types.Timeframe, start, end time.Time) ([]types.Candle, error)

// Fetch calls f.
func (f ClientFunc) Fetch(ctx context.Context, symbol string, tf types.Timeframe, start, end time.Time) ([]types.Candle, error) {
	return f(ctx, symbol, tf, start, end)
}
