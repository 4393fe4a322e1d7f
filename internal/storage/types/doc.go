// Package types defines the core data types used throughout the cache.
//
// Key types:
//   - Candle: one OHLCV bar
//   - CacheKey: (source, symbol, timeframe) identity of a series
//   - Timeframe: supported bar intervals
//   - Date, DateRange: UTC calendar days, the partition granularity
//   - DayPartition, CoverageRecord: catalog rows
package types
