// Package storage implements a local-first cache of OHLCV candles.
//
// Architecture:
//
//	┌────────────┐     ┌────────────┐     ┌────────────┐
//	│    Gap     │────▶│  Fetcher   │────▶│   Writer   │
//	│  Resolver  │     │ (retries)  │     │  (merge)   │
//	└────────────┘     └────────────┘     └────────────┘
//	       │                                     │
//	       ▼                                     ▼
//	┌────────────┐     ┌────────────┐     ┌────────────┐
//	│  Catalog   │◀────│   Reader   │     │  Parquet   │
//	│  (DuckDB)  │     │ (assemble) │────▶│ day files  │
//	└────────────┘     └────────────┘     └────────────┘
//
// A request for (source, symbol, timeframe, start, end) is answered by
// resolving which calendar days the catalog does not cover, fetching only
// those ranges from a provider, persisting every fetched day as one Parquet
// partition together with its coverage record, and finally assembling the
// requested window from the committed partitions.
//
// Guarantees:
//   - Repeating a successful request performs no provider calls
//   - A partition file and its catalog rows become visible together
//   - Re-fetched rows replace stored rows with the same timestamp
//   - Failed ranges are reported; days committed before the failure stay
//
// The catalog holds an exclusive lock on its DuckDB file, so only one
// process may write to a cache directory at a time.
package storage
