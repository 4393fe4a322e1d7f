// Package parquet implements Parquet file reading and writing for day partitions.
//
// The package provides:
//   - CandleWriter/CandleReader over the CandleRow schema
//   - Staged writes (temp file + fsync) used by the atomic publish path
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
//   - Type conversion between types.Candle and Parquet rows
package parquet
