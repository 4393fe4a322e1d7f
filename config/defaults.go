// Package config provides configuration defaults for candlecache.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml, CANDLECACHE_* environment
// variables or command-line flags.
package config

import "time"

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultDataDir is the root of the cache. Partition files live under
	// <data_dir>/candles and the catalog under <data_dir>/catalog.duckdb.
	// Override via config: data_dir
	DefaultDataDir = "./data"

	// DefaultCatalogMemoryLimit caps DuckDB memory for the catalog.
	// Override via config: catalog.memory_limit
	DefaultCatalogMemoryLimit = "512MB"

	// DefaultCompression is the parquet codec for partition files.
	// Override via config: partition.compression
	DefaultCompression = "zstd"

	// DefaultCompressionLevel is the codec level.
	// Override via config: partition.level
	DefaultCompressionLevel = 3
)

// =============================================================================
// Fetch Defaults
// =============================================================================

const (
	// DefaultFetchMaxAttempts is the number of calls per gap before giving up.
	// Only transient failures are retried.
	// Override via config: fetch.max_attempts
	DefaultFetchMaxAttempts = 3

	// DefaultFetchBaseDelay is the first backoff delay.
	// Override via config: fetch.base_delay
	DefaultFetchBaseDelay = 500 * time.Millisecond

	// DefaultFetchMaxDelay caps the backoff delay.
	// Override via config: fetch.max_delay
	DefaultFetchMaxDelay = 30 * time.Second

	// DefaultFetchMultiplier is the backoff growth factor.
	// Override via config: fetch.multiplier
	DefaultFetchMultiplier = 2.0

	// DefaultFetchAttemptTimeout bounds a single provider call.
	// Override via config: fetch.attempt_timeout
	DefaultFetchAttemptTimeout = 30 * time.Second

	// DefaultFetchRatePerMin is the provider call budget. 0 disables limiting.
	// Override via config: fetch.rate_limit_per_min
	DefaultFetchRatePerMin = 600

	// DefaultFetchBurst is the token bucket size.
	// Override via config: fetch.burst
	DefaultFetchBurst = 5

	// DefaultFetchConcurrency is the number of gaps fetched in parallel.
	// Writes are serialized regardless.
	// Override via config: fetch.concurrency
	DefaultFetchConcurrency = 4
)

// =============================================================================
// Retention Defaults
// =============================================================================

const (
	// DefaultOrphanGrace protects files that may belong to an in-flight write.
	// Vacuum skips unreferenced files younger than this.
	// Override via config: retention.orphan_grace
	DefaultOrphanGrace = time.Hour
)

// =============================================================================
// Provider Defaults
// =============================================================================

const (
	// DefaultYahooBaseURL is the chart API host.
	// Override via config: providers.yahoo.base_url
	DefaultYahooBaseURL = "https://query1.finance.yahoo.com"

	// DefaultYahooTimeout bounds one chart request.
	// Override via config: providers.yahoo.timeout
	DefaultYahooTimeout = 20 * time.Second

	// DefaultYahooUserAgent is sent with chart requests; the API rejects
	// requests without one.
	// Override via config: providers.yahoo.user_agent
	DefaultYahooUserAgent = "Mozilla/5.0 (compatible; candlecache)"
)

// =============================================================================
// CLI Defaults
// =============================================================================

const (
	// DefaultStartDate is used by `get` when --start is omitted.
	DefaultStartDate = "2020-01-01"

	// DefaultLogLevel is the slog level name.
	// Override via config: log.level
	DefaultLogLevel = "info"

	// EnvPrefix prefixes environment overrides, e.g. CANDLECACHE_DATA_DIR.
	EnvPrefix = "CANDLECACHE"
)
