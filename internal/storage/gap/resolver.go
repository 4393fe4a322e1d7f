// Package gap computes which calendar days of a requested window still
// need to be fetched.
package gap

import (
	"context"
	"fmt"

	"github.com/xtxerr/candlecache/internal/errors"
	"github.com/xtxerr/candlecache/internal/logging"
	"github.com/xtxerr/candlecache/internal/storage/types"
)

var log = logging.Component("gap")

// CoverageSource is the catalog capability the resolver needs.
type CoverageSource interface {
	QueryCoverage(ctx context.Context, key types.CacheKey, r types.DateRange) ([]types.CoverageRecord, error)
}

// Resolver turns a requested window into the minimal list of missing ranges.
type Resolver struct {
	catalog CoverageSource
}

// NewResolver creates a Resolver backed by catalog.
func NewResolver(catalog CoverageSource) *Resolver {
	return &Resolver{catalog: catalog}
}

// DayStatus is the fetch state of one requested day.
type DayStatus struct {
	Date     types.Date
	Status   types.CoverageStatus
	RowCount int64
}

// Coverage returns the status of every day in window, in order. Days with
// no catalog record are reported as missing.
func (r *Resolver) Coverage(ctx context.Context, key types.CacheKey, window types.DateRange) ([]DayStatus, error) {
	if !window.Valid() {
		return nil, fmt.Errorf("window %s..%s: %w", window.Start, window.End, errors.ErrInvalidRange)
	}

	records, err := r.catalog.QueryCoverage(ctx, key, window)
	if err != nil {
		return nil, err
	}

	byDay := make(map[types.Date]types.CoverageRecord, len(records))
	for _, rec := range records {
		byDay[rec.Date] = rec
	}

	days := window.Days()
	out := make([]DayStatus, len(days))
	for i, d := range days {
		out[i] = DayStatus{Date: d, Status: types.StatusMissing}
		if rec, ok := byDay[d]; ok {
			out[i].Status = rec.Status
			out[i].RowCount = rec.RowCount
		}
	}
	return out, nil
}

// MissingRanges returns the maximal runs of consecutive days in window that
// are not complete or complete-empty. The ranges are ascending and disjoint.
func (r *Resolver) MissingRanges(ctx context.Context, key types.CacheKey, window types.DateRange) ([]types.DateRange, error) {
	statuses, err := r.Coverage(ctx, key, window)
	if err != nil {
		return nil, err
	}

	var missing []types.Date
	for _, s := range statuses {
		if !s.Status.Covered() {
			missing = append(missing, s.Date)
		}
	}

	ranges := types.Coalesce(missing)

	log.Debug("gaps resolved",
		"key", key.String(),
		"window", window.String(),
		"days", len(statuses),
		"missing_days", len(missing),
		"ranges", len(ranges))

	return ranges, nil
}
