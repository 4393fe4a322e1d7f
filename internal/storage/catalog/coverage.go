package catalog

import (
	"context"
	"fmt"

	"github.com/xtxerr/candlecache/internal/storage/types"
)

// QueryCoverage returns the coverage records of key for the days in r,
// ordered by date. Days without a record are absent from the result.
func (c *Catalog) QueryCoverage(ctx context.Context, key types.CacheKey, r types.DateRange) ([]types.CoverageRecord, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, `
		SELECT strftime(date, '%Y-%m-%d'), status, row_count
		FROM coverage
		WHERE source = ? AND symbol = ? AND timeframe = ?
		  AND date BETWEEN CAST(? AS DATE) AND CAST(? AS DATE)
		ORDER BY date`,
		key.Source, key.Symbol, string(key.Timeframe), r.Start.String(), r.End.String())
	if err != nil {
		return nil, fmt.Errorf("query coverage: %w", err)
	}
	defer rows.Close()

	var out []types.CoverageRecord
	for rows.Next() {
		rec := types.CoverageRecord{Key: key}
		var day, status string
		if err := rows.Scan(&day, &status, &rec.RowCount); err != nil {
			return nil, fmt.Errorf("scan coverage: %w", err)
		}
		if rec.Date, err = types.ParseDate(day); err != nil {
			return nil, err
		}
		if rec.Status, err = types.ParseCoverageStatus(status); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CoverageInfo summarizes covered days per key matching f, ordered by
// source, symbol and timeframe.
func (c *Catalog) CoverageInfo(ctx context.Context, f types.Filter) ([]types.CoverageSummary, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	where, args := filterClause(f)
	args = append(args, string(types.StatusComplete), string(types.StatusCompleteEmpty))

	rows, err := c.db.QueryContext(ctx, `
		SELECT source, symbol, timeframe,
		       COUNT(*) AS days_cached,
		       strftime(MIN(date), '%Y-%m-%d') AS first_date,
		       strftime(MAX(date), '%Y-%m-%d') AS last_date,
		       CAST(COALESCE(SUM(row_count), 0) AS BIGINT) AS total_rows
		FROM coverage
		WHERE `+where+` AND status IN (?, ?)
		GROUP BY source, symbol, timeframe
		ORDER BY source, symbol, timeframe`, args...)
	if err != nil {
		return nil, fmt.Errorf("query coverage info: %w", err)
	}
	defer rows.Close()

	var out []types.CoverageSummary
	for rows.Next() {
		var s types.CoverageSummary
		var tf, first, last string
		if err := rows.Scan(&s.Key.Source, &s.Key.Symbol, &tf, &s.DaysCached, &first, &last, &s.TotalRows); err != nil {
			return nil, fmt.Errorf("scan coverage info: %w", err)
		}
		s.Key.Timeframe = types.Timeframe(tf)
		if s.FirstDate, err = types.ParseDate(first); err != nil {
			return nil, err
		}
		if s.LastDate, err = types.ParseDate(last); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Stats holds catalog-wide counters.
type Stats struct {
	Keys        int64
	Partitions  int64
	CoveredDays int64
	TotalRows   int64
	EmptyDays   int64
	ReadOnly    bool
}

// Stats returns catalog-wide counters.
func (c *Catalog) Stats(ctx context.Context) (Stats, error) {
	if err := c.checkOpen(); err != nil {
		return Stats{}, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	st := Stats{ReadOnly: c.opts.ReadOnly}

	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM partitions`).Scan(&st.Partitions); err != nil {
		return Stats{}, fmt.Errorf("count partitions: %w", err)
	}

	if err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (SELECT DISTINCT source, symbol, timeframe FROM coverage)`).Scan(&st.Keys); err != nil {
		return Stats{}, fmt.Errorf("count keys: %w", err)
	}

	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       CAST(COALESCE(SUM(row_count), 0) AS BIGINT),
		       COUNT(*) FILTER (WHERE status = ?)
		FROM coverage`, string(types.StatusCompleteEmpty)).
		Scan(&st.CoveredDays, &st.TotalRows, &st.EmptyDays)
	if err != nil {
		return Stats{}, fmt.Errorf("count coverage: %w", err)
	}

	return st, nil
}
