package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/candlecache/config"
)

// Config represents the complete cache configuration.
type Config struct {
	// DataDir is the base directory; partitions live under {DataDir}/candles.
	DataDir string `yaml:"data_dir"`

	// Catalog configures the DuckDB metadata store.
	Catalog CatalogConfig `yaml:"catalog"`

	// Partition configures the Parquet day files.
	Partition PartitionConfig `yaml:"partition"`

	// Fetch configures retries and rate limiting towards providers.
	Fetch FetchConfig `yaml:"fetch"`

	// Retention configures the vacuum sweep.
	Retention RetentionConfig `yaml:"retention"`

	// Providers holds per-provider connection settings.
	Providers ProvidersConfig `yaml:"providers"`

	// Log configures logging output.
	Log LogConfig `yaml:"log"`
}

// CatalogConfig configures the DuckDB catalog.
type CatalogConfig struct {
	// Path is the catalog file. Defaults to {DataDir}/catalog.duckdb.
	Path string `yaml:"path"`

	// ReadOnly opens the catalog without taking the writer lock.
	ReadOnly bool `yaml:"read_only"`

	// MemoryLimit is the DuckDB memory limit, e.g. "512MB".
	MemoryLimit string `yaml:"memory_limit"`

	// Threads limits DuckDB worker threads (0 = DuckDB default).
	Threads int `yaml:"threads"`
}

// PartitionConfig configures Parquet compression.
type PartitionConfig struct {
	// Compression is the algorithm: snappy, zstd, lz4, gzip, none.
	Compression string `yaml:"compression"`

	// Level is the compression level (for zstd: 1-22).
	Level int `yaml:"level"`
}

// FetchConfig configures the fetcher.
type FetchConfig struct {
	// MaxAttempts is the total number of attempts per range, including the first.
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay is the backoff before the second attempt.
	BaseDelay time.Duration `yaml:"base_delay"`

	// MaxDelay caps the backoff.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier grows the delay between attempts.
	Multiplier float64 `yaml:"multiplier"`

	// Jitter randomizes delays.
	Jitter bool `yaml:"jitter"`

	// AttemptTimeout bounds a single provider call.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	// RateLimitPerMin is the sustained provider call rate (0 = unlimited).
	RateLimitPerMin int `yaml:"rate_limit_per_min"`

	// Burst is the rate limiter bucket size.
	Burst int `yaml:"burst"`

	// Concurrency is the number of gap ranges fetched in parallel.
	Concurrency int `yaml:"concurrency"`
}

// RetentionConfig configures the vacuum sweep.
type RetentionConfig struct {
	// OrphanGrace is the minimum age before unreferenced files are removed.
	OrphanGrace time.Duration `yaml:"orphan_grace"`

	// MaxAge drops cached days older than this (0 = keep forever).
	MaxAge time.Duration `yaml:"max_age"`
}

// ProvidersConfig holds provider settings.
type ProvidersConfig struct {
	Binance BinanceConfig `yaml:"binance"`
	Yahoo   YahooConfig   `yaml:"yahoo"`
}

// BinanceConfig configures the Binance spot klines provider.
type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
}

// YahooConfig configures the Yahoo chart provider.
type YahooConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	config.expandEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// expandEnv resolves ${VAR} references in secret-bearing fields.
func (c *Config) expandEnv() {
	c.DataDir = os.ExpandEnv(c.DataDir)
	c.Catalog.Path = os.ExpandEnv(c.Catalog.Path)
	c.Providers.Binance.APIKey = os.ExpandEnv(c.Providers.Binance.APIKey)
	c.Providers.Binance.APISecret = os.ExpandEnv(c.Providers.Binance.APISecret)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: defaults.DefaultDataDir,
		Catalog: CatalogConfig{
			MemoryLimit: defaults.DefaultCatalogMemoryLimit,
		},
		Partition: PartitionConfig{
			Compression: defaults.DefaultCompression,
			Level:       defaults.DefaultCompressionLevel,
		},
		Fetch: FetchConfig{
			MaxAttempts:     defaults.DefaultFetchMaxAttempts,
			BaseDelay:       defaults.DefaultFetchBaseDelay,
			MaxDelay:        defaults.DefaultFetchMaxDelay,
			Multiplier:      defaults.DefaultFetchMultiplier,
			Jitter:          true,
			AttemptTimeout:  defaults.DefaultFetchAttemptTimeout,
			RateLimitPerMin: defaults.DefaultFetchRatePerMin,
			Burst:           defaults.DefaultFetchBurst,
			Concurrency:     defaults.DefaultFetchConcurrency,
		},
		Retention: RetentionConfig{
			OrphanGrace: defaults.DefaultOrphanGrace,
		},
		Providers: ProvidersConfig{
			Yahoo: YahooConfig{
				BaseURL:   defaults.DefaultYahooBaseURL,
				Timeout:   defaults.DefaultYahooTimeout,
				UserAgent: defaults.DefaultYahooUserAgent,
			},
		},
		Log: LogConfig{
			Level: defaults.DefaultLogLevel,
		},
	}
}
