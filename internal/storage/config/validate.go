package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var validCompression = map[string]bool{
	"none": true, "snappy": true, "zstd": true, "lz4": true, "gzip": true,
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	// DataDir
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}

	// Partition
	if err := c.Partition.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("partition: %w", err))
	}

	// Fetch
	if err := c.Fetch.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("fetch: %w", err))
	}

	// Retention
	if err := c.Retention.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
	}

	if c.Catalog.Threads < 0 {
		errs = append(errs, errors.New("catalog: threads must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the partition configuration.
func (c *PartitionConfig) Validate() error {
	var errs []error

	algo := strings.ToLower(c.Compression)
	if algo != "" && !validCompression[algo] {
		errs = append(errs, fmt.Errorf("invalid compression algorithm: %s", c.Compression))
	}

	if algo == "zstd" && (c.Level < 1 || c.Level > 22) {
		errs = append(errs, errors.New("zstd level must be between 1 and 22"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the fetch configuration.
func (c *FetchConfig) Validate() error {
	var errs []error

	if c.MaxAttempts < 1 {
		errs = append(errs, errors.New("max_attempts must be at least 1"))
	}
	if c.BaseDelay < 0 || c.MaxDelay < 0 {
		errs = append(errs, errors.New("delays must not be negative"))
	}
	if c.MaxDelay > 0 && c.BaseDelay > c.MaxDelay {
		errs = append(errs, errors.New("base_delay must not exceed max_delay"))
	}
	if c.Multiplier != 0 && c.Multiplier < 1 {
		errs = append(errs, errors.New("multiplier must be >= 1"))
	}
	if c.AttemptTimeout < 0 {
		errs = append(errs, errors.New("attempt_timeout must not be negative"))
	}
	if c.RateLimitPerMin < 0 {
		errs = append(errs, errors.New("rate_limit_per_min must not be negative"))
	}
	if c.RateLimitPerMin > 0 && c.Burst < 1 {
		errs = append(errs, errors.New("burst must be at least 1 when rate limiting"))
	}
	if c.Concurrency < 1 {
		errs = append(errs, errors.New("concurrency must be at least 1"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the retention configuration.
func (c *RetentionConfig) Validate() error {
	var errs []error

	if c.OrphanGrace < 0 {
		errs = append(errs, errors.New("orphan_grace must not be negative"))
	}
	if c.MaxAge < 0 {
		errs = append(errs, errors.New("max_age must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.CandlesDir(),
		filepath.Dir(c.CatalogPath()),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// CatalogPath returns the DuckDB catalog file path.
func (c *Config) CatalogPath() string {
	if c.Catalog.Path != "" {
		return c.Catalog.Path
	}
	return filepath.Join(c.DataDir, "catalog.duckdb")
}

// CandlesDir returns the root directory of partition files.
func (c *Config) CandlesDir() string {
	return filepath.Join(c.DataDir, "candles")
}
