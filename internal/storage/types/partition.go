package types

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// CoverageStatus records what is known about one (key, day).
type CoverageStatus string

const (
	// StatusComplete: the day was fetched and has at least one row.
	StatusComplete CoverageStatus = "complete"
	// StatusCompleteEmpty: the day was fetched and the provider returned no rows.
	StatusCompleteEmpty CoverageStatus = "complete-empty"
	// StatusMissing: no successful fetch. Equivalent to no record at all.
	StatusMissing CoverageStatus = "missing"
)

// ParseCoverageStatus converts a stored status string.
func ParseCoverageStatus(s string) (CoverageStatus, error) {
	switch CoverageStatus(s) {
	case StatusComplete, StatusCompleteEmpty, StatusMissing:
		return CoverageStatus(s), nil
	}
	return "", fmt.Errorf("unknown coverage status %q", s)
}

// Covered reports whether the day needs no fetch.
func (s CoverageStatus) Covered() bool {
	return s == StatusComplete || s == StatusCompleteEmpty
}

// StatusForRows derives the status recorded after a successful day write.
func StatusForRows(rows int64) CoverageStatus {
	if rows > 0 {
		return StatusComplete
	}
	return StatusCompleteEmpty
}

// DayPartition is the catalog row for one stored day file.
type DayPartition struct {
	ID        int64
	Key       CacheKey
	Date      Date
	Path      string
	RowCount  int64
	WrittenAt time.Time
}

// CoverageRecord is the catalog row describing a day's fetch state.
type CoverageRecord struct {
	Key      CacheKey
	Date     Date
	Status   CoverageStatus
	RowCount int64
}

// CoverageSummary aggregates coverage for one key.
type CoverageSummary struct {
	Key        CacheKey
	DaysCached int64
	FirstDate  Date
	LastDate   Date
	TotalRows  int64
}

// PartitionPath returns base/candles/{SOURCE}/{SYMBOL}/{TF}/{YEAR}/{YYYY-MM-DD}.parquet.
func PartitionPath(baseDir string, key CacheKey, day Date) string {
	return filepath.Join(baseDir, "candles", key.Dir(),
		fmt.Sprintf("%04d", day.Year), day.String()+".parquet")
}

// Filter selects keys for admin operations. Empty fields match anything.
// Source and symbol compare case-insensitively.
type Filter struct {
	Source    string
	Symbol    string
	Timeframe Timeframe
}

// Normalize upper-cases the source and symbol.
func (f Filter) Normalize() Filter {
	return Filter{
		Source:    NormalizeSource(f.Source),
		Symbol:    strings.ToUpper(strings.TrimSpace(f.Symbol)),
		Timeframe: Timeframe(strings.TrimSpace(string(f.Timeframe))),
	}
}

// Matches reports whether key satisfies the filter.
func (f Filter) Matches(key CacheKey) bool {
	n := f.Normalize()
	return (n.Source == "" || n.Source == key.Source) &&
		(n.Symbol == "" || n.Symbol == key.Symbol) &&
		(n.Timeframe == "" || n.Timeframe == key.Timeframe)
}

// IsEmpty reports whether the filter matches everything.
func (f Filter) IsEmpty() bool {
	n := f.Normalize()
	return n.Source == "" && n.Symbol == "" && n.Timeframe == ""
}
