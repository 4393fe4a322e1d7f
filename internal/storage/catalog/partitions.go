package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/xtxerr/candlecache/internal/errors"
	"github.com/xtxerr/candlecache/internal/storage/types"
)

// PublishFunc makes a staged partition file visible at its final path. It
// runs inside the registering transaction, after the metadata rows are
// written and before commit; a returned error aborts the transaction.
type PublishFunc func() error

// RegisterPartition atomically replaces the partition and coverage rows for
// (part.Key, part.Date) and runs publish before commit. It returns the new
// partition id. On any failure nothing becomes visible and the returned
// error is an integrity error.
func (c *Catalog) RegisterPartition(ctx context.Context, part types.DayPartition, cov types.CoverageRecord, publish PublishFunc) (int64, error) {
	if part.Key != cov.Key || part.Date != cov.Date {
		return 0, fmt.Errorf("register partition: coverage %s %s does not match partition %s %s: %w",
			cov.Key, cov.Date, part.Key, part.Date, errors.ErrValidation)
	}
	if !cov.Status.Covered() {
		return 0, fmt.Errorf("register partition: status %q requires no partition: %w", cov.Status, errors.ErrValidation)
	}

	unlock, err := c.beginWrite()
	if err != nil {
		return 0, err
	}
	defer unlock()

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var id int64
	err = c.TransactionContext(ctx, func(tx *sql.Tx) error {
		k := part.Key
		day := part.Date.String()

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM partitions
			WHERE source = ? AND symbol = ? AND timeframe = ? AND date = CAST(? AS DATE)`,
			k.Source, k.Symbol, string(k.Timeframe), day); err != nil {
			return fmt.Errorf("delete previous partition: %w", err)
		}

		if err := tx.QueryRowContext(ctx, `
			INSERT INTO partitions (source, symbol, timeframe, date, path, row_count, written_at)
			VALUES (?, ?, ?, CAST(? AS DATE), ?, ?, now())
			RETURNING id`,
			k.Source, k.Symbol, string(k.Timeframe), day, part.Path, part.RowCount).Scan(&id); err != nil {
			return fmt.Errorf("insert partition: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO coverage (source, symbol, timeframe, date, status, row_count, updated_at)
			VALUES (?, ?, ?, CAST(? AS DATE), ?, ?, now())
			ON CONFLICT (source, symbol, timeframe, date)
			DO UPDATE SET status = excluded.status, row_count = excluded.row_count, updated_at = excluded.updated_at`,
			k.Source, k.Symbol, string(k.Timeframe), day, string(cov.Status), cov.RowCount); err != nil {
			return fmt.Errorf("upsert coverage: %w", err)
		}

		if publish != nil {
			if err := publish(); err != nil {
				return fmt.Errorf("publish partition file: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, errors.NewIntegrity(part.Key.String(), part.Date.String(), part.Path, "register partition failed", err)
	}

	log.Debug("partition registered",
		"key", part.Key.String(),
		"date", part.Date.String(),
		"id", id,
		"rows", part.RowCount,
		"status", string(cov.Status))

	return id, nil
}

// QueryPartitions lists partitions of key for the days in r, ordered by
// date and then id.
func (c *Catalog) QueryPartitions(ctx context.Context, key types.CacheKey, r types.DateRange) ([]types.DayPartition, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, strftime(date, '%Y-%m-%d'), path, row_count, written_at
		FROM partitions
		WHERE source = ? AND symbol = ? AND timeframe = ?
		  AND date BETWEEN CAST(? AS DATE) AND CAST(? AS DATE)
		ORDER BY date, id`,
		key.Source, key.Symbol, string(key.Timeframe), r.Start.String(), r.End.String())
	if err != nil {
		return nil, fmt.Errorf("query partitions: %w", err)
	}
	defer rows.Close()

	var out []types.DayPartition
	for rows.Next() {
		p := types.DayPartition{Key: key}
		var day string
		var writtenAt sql.NullTime
		if err := rows.Scan(&p.ID, &day, &p.Path, &p.RowCount, &writtenAt); err != nil {
			return nil, fmt.Errorf("scan partition: %w", err)
		}
		if p.Date, err = types.ParseDate(day); err != nil {
			return nil, err
		}
		if writtenAt.Valid {
			p.WrittenAt = writtenAt.Time
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Partition returns the current partition for one day, if any.
func (c *Catalog) Partition(ctx context.Context, key types.CacheKey, day types.Date) (types.DayPartition, bool, error) {
	parts, err := c.QueryPartitions(ctx, key, types.DateRange{Start: day, End: day})
	if err != nil {
		return types.DayPartition{}, false, err
	}
	switch len(parts) {
	case 0:
		return types.DayPartition{}, false, nil
	case 1:
		return parts[0], true, nil
	default:
		return types.DayPartition{}, false, errors.NewIntegrity(key.String(), day.String(), "",
			fmt.Sprintf("%d partitions registered for one day", len(parts)), nil)
	}
}

// PartitionPaths returns every path referenced by the catalog.
func (c *Catalog) PartitionPaths(ctx context.Context) (map[string]struct{}, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, `SELECT path FROM partitions`)
	if err != nil {
		return nil, fmt.Errorf("query partition paths: %w", err)
	}
	defer rows.Close()

	paths := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan path: %w", err)
		}
		paths[p] = struct{}{}
	}
	return paths, rows.Err()
}

// =============================================================================
// Deletion
// =============================================================================

// DeleteKey removes every partition and coverage row of key.
func (c *Catalog) DeleteKey(ctx context.Context, key types.CacheKey) ([]types.DayPartition, error) {
	return c.Delete(ctx, types.Filter{Source: key.Source, Symbol: key.Symbol, Timeframe: key.Timeframe})
}

// DeleteRange removes partitions and coverage of key for the days in r.
func (c *Catalog) DeleteRange(ctx context.Context, key types.CacheKey, r types.DateRange) ([]types.DayPartition, error) {
	where := `source = ? AND symbol = ? AND timeframe = ? AND date BETWEEN CAST(? AS DATE) AND CAST(? AS DATE)`
	args := []any{key.Source, key.Symbol, string(key.Timeframe), r.Start.String(), r.End.String()}
	return c.deleteWhere(ctx, where, args)
}

// Delete removes partitions and coverage of every key matching f. An empty
// filter clears the whole catalog.
func (c *Catalog) Delete(ctx context.Context, f types.Filter) ([]types.DayPartition, error) {
	where, args := filterClause(f)
	return c.deleteWhere(ctx, where, args)
}

// DeleteBefore removes partitions and coverage of all keys dated before cutoff.
func (c *Catalog) DeleteBefore(ctx context.Context, cutoff types.Date) ([]types.DayPartition, error) {
	return c.deleteWhere(ctx, `date < CAST(? AS DATE)`, []any{cutoff.String()})
}

// deleteWhere deletes matching rows from both tables in one transaction and
// returns the removed partitions so their files can be unlinked.
func (c *Catalog) deleteWhere(ctx context.Context, where string, args []any) ([]types.DayPartition, error) {
	unlock, err := c.beginWrite()
	if err != nil {
		return nil, err
	}
	defer unlock()

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var removed []types.DayPartition
	err = c.TransactionContext(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, source, symbol, timeframe, strftime(date, '%Y-%m-%d'), path, row_count
			FROM partitions WHERE `+where+` ORDER BY id`, args...)
		if err != nil {
			return fmt.Errorf("select partitions: %w", err)
		}
		for rows.Next() {
			var p types.DayPartition
			var tf, day string
			if err := rows.Scan(&p.ID, &p.Key.Source, &p.Key.Symbol, &tf, &day, &p.Path, &p.RowCount); err != nil {
				rows.Close()
				return fmt.Errorf("scan partition: %w", err)
			}
			p.Key.Timeframe = types.Timeframe(tf)
			if p.Date, err = types.ParseDate(day); err != nil {
				rows.Close()
				return err
			}
			removed = append(removed, p)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if _, err := tx.ExecContext(ctx, `DELETE FROM partitions WHERE `+where, args...); err != nil {
			return fmt.Errorf("delete partitions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM coverage WHERE `+where, args...); err != nil {
			return fmt.Errorf("delete coverage: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug("catalog rows deleted", "partitions", len(removed))
	return removed, nil
}

// filterClause renders f as a WHERE clause over the key columns.
func filterClause(f types.Filter) (string, []any) {
	f = f.Normalize()

	var conds []string
	var args []any
	if f.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, f.Source)
	}
	if f.Symbol != "" {
		conds = append(conds, "symbol = ?")
		args = append(args, f.Symbol)
	}
	if f.Timeframe != "" {
		conds = append(conds, "timeframe = ?")
		args = append(args, string(f.Timeframe))
	}
	if len(conds) == 0 {
		return "TRUE", nil
	}
	return strings.Join(conds, " AND "), args
}
