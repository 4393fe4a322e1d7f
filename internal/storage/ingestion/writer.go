// Package ingestion persists fetched candles as day partitions.
//
// For every day of a fetched range the Writer merges new rows with the
// stored partition (new rows win on equal timestamps), stages the merged
// day in a temp file and publishes it together with its catalog rows:
//
//	stage temp file + fsync
//	BEGIN
//	  upsert partitions / coverage rows
//	  move current file aside (.prev), rename temp into place, fsync dir
//	COMMIT  (on failure: restore .prev, drop temp)
//	remove .prev
package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/xtxerr/candlecache/internal/errors"
	"github.com/xtxerr/candlecache/internal/logging"
	"github.com/xtxerr/candlecache/internal/storage/catalog"
	"github.com/xtxerr/candlecache/internal/storage/metrics"
	"github.com/xtxerr/candlecache/internal/storage/parquet"
	"github.com/xtxerr/candlecache/internal/storage/types"
)

var log = logging.Component("ingestion")

// Catalog is the subset of *catalog.Catalog the writer uses.
type Catalog interface {
	Partition(ctx context.Context, key types.CacheKey, day types.Date) (types.DayPartition, bool, error)
	RegisterPartition(ctx context.Context, part types.DayPartition, cov types.CoverageRecord, publish catalog.PublishFunc) (int64, error)
}

// Writer merges and publishes day partitions.
type Writer struct {
	catalog Catalog
	baseDir string
	opts    parquet.Options
	metrics *metrics.Recorder

	stats Stats
}

// Stats holds writer statistics.
type Stats struct {
	DaysWritten  atomic.Int64
	EmptyDays    atomic.Int64
	RowsWritten  atomic.Int64
	RowsDropped  atomic.Int64
	RowsReplaced atomic.Int64
	Errors       atomic.Int64
}

// New creates a Writer storing partitions under baseDir/candles.
func New(cat Catalog, baseDir string, opts parquet.Options, rec *metrics.Recorder) *Writer {
	return &Writer{
		catalog: cat,
		baseDir: baseDir,
		opts:    opts,
		metrics: rec,
	}
}

// Result reports the outcome of WriteRange.
type Result struct {
	// Committed lists the days made durable, in ascending order.
	Committed []types.Date

	// Rows is the total row count of the committed partitions.
	Rows int64

	// Dropped counts input rows outside the range.
	Dropped int

	// Unresolved is the tail of the range that was not committed.
	Unresolved []types.DateRange
}

// WriteRange stores candles for every day of r. Days for which no candle
// was supplied are recorded as complete-empty. Rows whose UTC day is
// outside r are dropped. Processing stops at the first failing day; days
// already committed stay committed and the rest is reported unresolved.
func (w *Writer) WriteRange(ctx context.Context, key types.CacheKey, r types.DateRange, candles []types.Candle) (Result, error) {
	var res Result

	byDay := make(map[types.Date][]types.Candle, r.Len())
	for _, c := range candles {
		d := c.Day()
		if !r.Contains(d) {
			res.Dropped++
			continue
		}
		byDay[d] = append(byDay[d], c)
	}

	if res.Dropped > 0 {
		w.stats.RowsDropped.Add(int64(res.Dropped))
		log.Warn("dropped rows outside fetched range",
			"key", key.String(), "range", r.String(), "dropped", res.Dropped)
	}

	for _, day := range r.Days() {
		if err := ctx.Err(); err != nil {
			res.Unresolved = []types.DateRange{{Start: day, End: r.End}}
			return res, err
		}

		rows, err := w.WriteDay(ctx, key, day, byDay[day])
		if err != nil {
			w.stats.Errors.Add(1)
			res.Unresolved = []types.DateRange{{Start: day, End: r.End}}
			return res, err
		}
		res.Committed = append(res.Committed, day)
		res.Rows += rows
	}

	return res, nil
}

// WriteDay merges candles into the partition of (key, day) and publishes
// it. It returns the row count of the new partition.
func (w *Writer) WriteDay(ctx context.Context, key types.CacheKey, day types.Date, candles []types.Candle) (int64, error) {
	existing, found, err := w.catalog.Partition(ctx, key, day)
	if err != nil {
		return 0, err
	}

	var base []types.Candle
	if found {
		base, err = parquet.ReadFile(existing.Path)
		if err != nil {
			w.metrics.RecordIntegrityError()
			return 0, errors.NewIntegrity(key.String(), day.String(), existing.Path, "unreadable partition", err)
		}
	}

	merged := types.MergeCandles(base, candles)
	if !types.StrictlyAscending(merged) {
		w.metrics.RecordIntegrityError()
		return 0, errors.NewIntegrity(key.String(), day.String(), "", "merged rows not strictly ascending", nil)
	}
	if replaced := len(base) + len(candles) - len(merged); replaced > 0 {
		w.stats.RowsReplaced.Add(int64(replaced))
	}

	final := types.PartitionPath(w.baseDir, key, day)
	if found && existing.Path != final {
		log.Warn("partition path moved", "key", key.String(), "date", day.String(), "old", existing.Path, "new", final)
	}

	tmp, err := parquet.StageFile(final, key, merged, w.opts)
	if err != nil {
		return 0, fmt.Errorf("stage partition %s %s: %w", key, day, err)
	}

	rowCount := int64(len(merged))
	status := types.StatusForRows(rowCount)
	part := types.DayPartition{Key: key, Date: day, Path: final, RowCount: rowCount}
	cov := types.CoverageRecord{Key: key, Date: day, Status: status, RowCount: rowCount}

	pub := &publisher{tmp: tmp, final: final}
	if _, err := w.catalog.RegisterPartition(ctx, part, cov, pub.publish); err != nil {
		pub.rollback()
		if errors.IsIntegrity(err) {
			w.metrics.RecordIntegrityError()
		}
		return 0, err
	}
	pub.commit()

	w.stats.DaysWritten.Add(1)
	w.stats.RowsWritten.Add(rowCount)
	if status == types.StatusCompleteEmpty {
		w.stats.EmptyDays.Add(1)
	}
	w.metrics.RecordDayCommitted(key.Source, string(status), rowCount)

	log.Debug("day written", "key", key.String(), "date", day.String(), "rows", rowCount, "status", string(status))
	return rowCount, nil
}

// publisher swaps a staged file into place and can undo the swap. The
// previous version is kept as a hard link so the final path always names a
// complete file; the swap itself is a single rename.
type publisher struct {
	tmp, final string
	linkedPrev bool
	renamed    bool
}

func (p *publisher) prev() string {
	return p.final + parquet.PrevSuffix
}

func (p *publisher) publish() error {
	if _, err := os.Stat(p.final); err == nil {
		// a stale link from a crashed run would make Link fail
		if err := os.Remove(p.prev()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale previous partition: %w", err)
		}
		if err := os.Link(p.final, p.prev()); err != nil {
			return fmt.Errorf("keep previous partition: %w", err)
		}
		p.linkedPrev = true
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat partition: %w", err)
	}

	if err := os.Rename(p.tmp, p.final); err != nil {
		return fmt.Errorf("rename staged partition: %w", err)
	}
	p.renamed = true

	return syncDir(filepath.Dir(p.final))
}

// rollback restores the file system state seen before publish.
func (p *publisher) rollback() {
	switch {
	case p.renamed && p.linkedPrev:
		if err := os.Rename(p.prev(), p.final); err != nil {
			log.Error("failed to restore previous partition", "path", p.final, "error", err)
		}
	case p.renamed:
		os.Remove(p.final)
	default:
		os.Remove(p.tmp)
		if p.linkedPrev {
			os.Remove(p.prev())
		}
	}
}

// commit discards the previous version after the catalog commit.
func (p *publisher) commit() {
	if p.linkedPrev {
		if err := os.Remove(p.prev()); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove displaced partition", "path", p.prev(), "error", err)
		}
	}
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}
	return nil
}

// Stats returns a snapshot of writer statistics.
func (w *Writer) Stats() StatsSnapshot {
	return StatsSnapshot{
		DaysWritten:  w.stats.DaysWritten.Load(),
		EmptyDays:    w.stats.EmptyDays.Load(),
		RowsWritten:  w.stats.RowsWritten.Load(),
		RowsDropped:  w.stats.RowsDropped.Load(),
		RowsReplaced: w.stats.RowsReplaced.Load(),
		Errors:       w.stats.Errors.Load(),
	}
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	DaysWritten  int64
	EmptyDays    int64
	RowsWritten  int64
	RowsDropped  int64
	RowsReplaced int64
	Errors       int64
}
