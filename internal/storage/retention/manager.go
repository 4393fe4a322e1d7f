// Package retention removes files the catalog no longer needs and,
// optionally, cached days past their maximum age.
package retention

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xtxerr/candlecache/internal/logging"
	"github.com/xtxerr/candlecache/internal/storage/config"
	"github.com/xtxerr/candlecache/internal/storage/metrics"
	"github.com/xtxerr/candlecache/internal/storage/parquet"
	"github.com/xtxerr/candlecache/internal/storage/types"
)

var log = logging.Component("retention")

// Cleanup reasons, also used as metric labels.
const (
	ReasonStaging   = "staging"
	ReasonDisplaced = "displaced"
	ReasonOrphan    = "orphan"
	ReasonExpired   = "expired"
)

// Catalog is the subset of *catalog.Catalog the manager uses.
type Catalog interface {
	PartitionPaths(ctx context.Context) (map[string]struct{}, error)
	DeleteBefore(ctx context.Context, cutoff types.Date) ([]types.DayPartition, error)
}

// Manager sweeps the candles directory.
type Manager struct {
	mu      sync.RWMutex
	catalog Catalog
	dir     string
	grace   time.Duration
	maxAge  time.Duration
	metrics *metrics.Recorder
	now     func() time.Time
	stats   Stats
}

// Stats holds retention statistics.
type Stats struct {
	LastRunTime  time.Time
	FilesDeleted int64
	BytesFreed   int64
	FilesSkipped int64
	Errors       int64
}

// CleanupResult holds the result of one sweep category.
type CleanupResult struct {
	Reason       string
	FilesDeleted int
	BytesFreed   int64
	FilesSkipped int
	Paths        []string
	Errors       []error
}

// New creates a manager for the candles directory of cfg. rec may be nil.
func New(cfg *config.Config, cat Catalog, rec *metrics.Recorder) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	return &Manager{
		catalog: cat,
		dir:     cfg.CandlesDir(),
		grace:   cfg.Retention.OrphanGrace,
		maxAge:  cfg.Retention.MaxAge,
		metrics: rec,
		now:     time.Now,
	}
}

// RunCleanup removes staging files, displaced partitions and unreferenced
// partition files older than the grace period, then drops days older than
// the maximum age from the catalog and disk.
func (m *Manager) RunCleanup(ctx context.Context) ([]CleanupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.LastRunTime = m.now()

	results, err := m.cleanup(ctx, false)
	for _, r := range results {
		m.stats.FilesDeleted += int64(r.FilesDeleted)
		m.stats.BytesFreed += r.BytesFreed
		m.stats.FilesSkipped += int64(r.FilesSkipped)
		m.stats.Errors += int64(len(r.Errors))
		m.metrics.RecordFilesRemoved(r.Reason, r.FilesDeleted)
	}
	return results, err
}

// DryRun reports what RunCleanup would remove without touching anything.
func (m *Manager) DryRun(ctx context.Context) ([]CleanupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.cleanup(ctx, true)
}

func (m *Manager) cleanup(ctx context.Context, dryRun bool) ([]CleanupResult, error) {
	referenced, err := m.catalog.PartitionPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("list referenced partitions: %w", err)
	}

	files, err := m.listFiles()
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	staging := CleanupResult{Reason: ReasonStaging}
	displaced := CleanupResult{Reason: ReasonDisplaced}
	orphan := CleanupResult{Reason: ReasonOrphan}
	cutoff := m.now().Add(-m.grace)

	for _, f := range files {
		var res *CleanupResult
		switch {
		case strings.HasSuffix(f.name, parquet.TempSuffix):
			res = &staging
		case strings.HasSuffix(f.name, parquet.PrevSuffix):
			res = &displaced
		case filepath.Ext(f.name) == ".parquet":
			if _, ok := referenced[f.path]; ok {
				continue
			}
			res = &orphan
		default:
			continue
		}

		if f.modTime.After(cutoff) {
			res.FilesSkipped++
			continue
		}
		m.remove(res, f, dryRun)
	}

	results := []CleanupResult{staging, displaced, orphan}

	if m.maxAge > 0 {
		expired, err := m.expire(ctx, files, referenced, dryRun)
		results = append(results, expired)
		if err != nil {
			return results, err
		}
	}

	for _, r := range results {
		if r.FilesDeleted > 0 || len(r.Errors) > 0 {
			log.Info("cleanup",
				"reason", r.Reason,
				"deleted", r.FilesDeleted,
				"bytes", r.BytesFreed,
				"errors", len(r.Errors),
				"dry_run", dryRun)
		}
	}

	return results, nil
}

// expire drops days strictly before now-maxAge. Catalog rows go first; the
// files are removed once the deletion has committed.
func (m *Manager) expire(ctx context.Context, files []fileInfo, referenced map[string]struct{}, dryRun bool) (CleanupResult, error) {
	result := CleanupResult{Reason: ReasonExpired}
	cutoff := types.DateOf(m.now().Add(-m.maxAge))

	if dryRun {
		for _, f := range files {
			if _, ok := referenced[f.path]; !ok {
				continue
			}
			day, err := parseFileDate(f.name)
			if err != nil {
				result.FilesSkipped++
				continue
			}
			if day.Before(cutoff) {
				m.remove(&result, f, true)
			}
		}
		return result, nil
	}

	removed, err := m.catalog.DeleteBefore(ctx, cutoff)
	if err != nil {
		return result, fmt.Errorf("delete days before %s: %w", cutoff, err)
	}

	for _, p := range removed {
		info, err := os.Stat(p.Path)
		if err != nil {
			if !os.IsNotExist(err) {
				result.Errors = append(result.Errors, fmt.Errorf("stat %s: %w", p.Path, err))
			}
			continue
		}
		m.remove(&result, fileInfo{name: filepath.Base(p.Path), path: p.Path, size: info.Size()}, false)
	}
	return result, nil
}

func (m *Manager) remove(res *CleanupResult, f fileInfo, dryRun bool) {
	if !dryRun {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			res.Errors = append(res.Errors, fmt.Errorf("delete %s: %w", f.path, err))
			return
		}
	}
	res.FilesDeleted++
	res.BytesFreed += f.size
	res.Paths = append(res.Paths, f.path)
}

// fileInfo holds information about a file.
type fileInfo struct {
	name    string
	path    string
	size    int64
	modTime time.Time
}

// listFiles walks the candles directory, oldest path first.
func (m *Manager) listFiles() ([]fileInfo, error) {
	var files []fileInfo

	err := filepath.WalkDir(m.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == m.dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		files = append(files, fileInfo{
			name:    d.Name(),
			path:    path,
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].path < files[j].path
	})

	return files, nil
}

// parseFileDate extracts the day from a partition file name.
func parseFileDate(name string) (types.Date, error) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return types.ParseDate(base)
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// DiskUsage holds disk usage information.
type DiskUsage struct {
	FileCount int
	TotalSize int64
}

// GetDiskUsage returns the size of all files under the candles directory.
func (m *Manager) GetDiskUsage() (DiskUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	files, err := m.listFiles()
	if err != nil {
		return DiskUsage{}, err
	}

	var u DiskUsage
	for _, f := range files {
		u.FileCount++
		u.TotalSize += f.size
	}
	return u, nil
}

// FormatBytes formats bytes as a human-readable string.
func FormatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
