package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/candlecache/internal/errors"
	"github.com/xtxerr/candlecache/internal/logging"
	"github.com/xtxerr/candlecache/internal/storage/aggregate"
	"github.com/xtxerr/candlecache/internal/storage/catalog"
	"github.com/xtxerr/candlecache/internal/storage/config"
	"github.com/xtxerr/candlecache/internal/storage/fetch"
	"github.com/xtxerr/candlecache/internal/storage/gap"
	"github.com/xtxerr/candlecache/internal/storage/ingestion"
	"github.com/xtxerr/candlecache/internal/storage/metrics"
	"github.com/xtxerr/candlecache/internal/storage/parquet"
	"github.com/xtxerr/candlecache/internal/storage/query"
	"github.com/xtxerr/candlecache/internal/storage/retention"
	"github.com/xtxerr/candlecache/internal/storage/types"
)

var log = logging.Component("storage")

// Service is the cache entry point that orchestrates all components.
type Service struct {
	config *config.Config

	// Components
	catalog   *catalog.Catalog
	resolver  *gap.Resolver
	fetcher   *fetch.Fetcher
	writer    *ingestion.Writer
	reader    *query.Reader
	retention *retention.Manager
	metrics   *metrics.Recorder
	latency   *aggregate.Manager

	// writeMu serializes merges so two requests never rewrite the same day
	// from the same base.
	writeMu sync.Mutex
	flights singleflight.Group

	// flightCtxs holds the context shared by the callers of each flight.
	flightMu   sync.Mutex
	flightCtxs map[string]*flightCtx

	closed    atomic.Bool
	startTime time.Time
}

// Option configures Open.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
}

// WithRegisterer registers the cache metrics with reg. Without it metrics
// go to a private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// Open opens the cache rooted at cfg.DataDir. The catalog file lock is held
// until Close.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.registerer == nil {
		o.registerer = prometheus.NewRegistry()
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err)
	}

	// Partition paths are stored in the catalog, so they must not depend on
	// the working directory.
	c := *cfg
	abs, err := filepath.Abs(c.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	c.DataDir = abs
	cfg = &c

	if !cfg.Catalog.ReadOnly {
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("ensure directories: %w", err)
		}
	}

	catOpts := catalog.DefaultOptions()
	catOpts.Path = cfg.CatalogPath()
	catOpts.ReadOnly = cfg.Catalog.ReadOnly
	catOpts.MemoryLimit = cfg.Catalog.MemoryLimit
	catOpts.Threads = cfg.Catalog.Threads

	cat, err := catalog.Open(ctx, catOpts)
	if err != nil {
		return nil, err
	}

	rec := metrics.New(o.registerer)

	pqOpts := parquet.DefaultOptions()
	pqOpts.Compression = parquet.ParseCompressionType(cfg.Partition.Compression)
	pqOpts.CompressionLevel = cfg.Partition.Level

	fetchOpts := fetch.Options{
		MaxAttempts:     cfg.Fetch.MaxAttempts,
		BaseDelay:       cfg.Fetch.BaseDelay,
		MaxDelay:        cfg.Fetch.MaxDelay,
		Multiplier:      cfg.Fetch.Multiplier,
		Jitter:          cfg.Fetch.Jitter,
		AttemptTimeout:  cfg.Fetch.AttemptTimeout,
		RateLimitPerMin: cfg.Fetch.RateLimitPerMin,
		Burst:           cfg.Fetch.Burst,
	}

	s := &Service{
		config:    cfg,
		catalog:   cat,
		resolver:  gap.NewResolver(cat),
		fetcher:   fetch.New(fetchOpts, rec),
		writer:    ingestion.New(cat, cfg.DataDir, pqOpts, rec),
		reader:    query.New(cat, rec),
		retention: retention.New(cfg, cat, rec),
		metrics:   rec,
		latency:   aggregate.NewManager(aggregate.DefaultAccuracy),
		startTime: time.Now(),
	}

	log.Info("cache opened",
		"data_dir", cfg.DataDir,
		"catalog", cat.Path(),
		"read_only", cat.ReadOnly())

	return s, nil
}

// Close releases the catalog.
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.catalog.Close(); err != nil {
		return fmt.Errorf("close catalog: %w", err)
	}
	return nil
}

func (s *Service) checkOpen() error {
	if s.closed.Load() {
		return errors.ErrClosed
	}
	return nil
}

// GetSeries returns the candles of req, fetching the days the cache does not
// cover through client.
//
// If some gap ranges cannot be fetched the returned Series holds everything
// that is cached, and the error is an *IncompleteError naming the
// unresolved ranges. Integrity and lock errors abort the request and are
// returned without a Series.
//
// Concurrent identical requests share one execution; the client of the
// first caller is used. A caller whose context ends returns its context
// error while the others keep waiting; the shared execution is cancelled
// only when no caller is left.
func (s *Service) GetSeries(ctx context.Context, req Request, client fetch.Client) (*Series, error) {
	key, rng, err := req.Validate()
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.NewMissingField("client")
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	ctx = logging.ContextWithRequestID(ctx, uuid.NewString())
	ctx = logging.ContextWithCacheKey(ctx, key.String())

	flight := key.String() + "|" + rng.String()
	for attempt := 0; ; attempt++ {
		fc := s.joinFlight(ctx, flight)
		ch := s.flights.DoChan(flight, func() (any, error) {
			return s.getSeries(fc.ctx, key, rng, client)
		})

		select {
		case res := <-ch:
			s.leaveFlight(flight, fc)
			// A flight abandoned by all of its earlier callers was cancelled
			// under us; run it again for this caller.
			if res.Shared && errors.Is(res.Err, context.Canceled) && ctx.Err() == nil && attempt < maxFlightRetries {
				continue
			}
			series, _ := res.Val.(*Series)
			if series != nil && res.Shared {
				series = series.clone()
			}
			return series, res.Err
		case <-ctx.Done():
			s.leaveFlight(flight, fc)
			return nil, ctx.Err()
		}
	}
}

const maxFlightRetries = 2

// flightCtx keeps the values of the caller that started a flight and is
// cancelled once every caller waiting on it has returned.
type flightCtx struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func (s *Service) joinFlight(ctx context.Context, name string) *flightCtx {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()

	if s.flightCtxs == nil {
		s.flightCtxs = make(map[string]*flightCtx)
	}
	fc, ok := s.flightCtxs[name]
	if !ok {
		shared, cancel := context.WithCancel(context.WithoutCancel(ctx))
		fc = &flightCtx{ctx: shared, cancel: cancel}
		s.flightCtxs[name] = fc
	}
	fc.waiters++
	return fc
}

func (s *Service) leaveFlight(name string, fc *flightCtx) {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()

	fc.waiters--
	if fc.waiters > 0 {
		return
	}
	fc.cancel()
	if s.flightCtxs[name] == fc {
		delete(s.flightCtxs, name)
	}
}

func (s *Service) getSeries(ctx context.Context, key types.CacheKey, rng types.DateRange, client fetch.Client) (*Series, error) {
	started := time.Now()
	l := logging.WithContext(ctx)

	gaps, err := s.resolver.MissingRanges(ctx, key, rng)
	if err != nil {
		s.metrics.RecordSeries(key.Source, "error", time.Since(started).Seconds())
		return nil, err
	}

	missingDays := 0
	for _, g := range gaps {
		missingDays += g.Len()
	}
	s.metrics.RecordCacheHits(key.Source, rng.Len()-missingDays)

	var (
		mu         sync.Mutex
		unresolved []types.DateRange
		errs       []error
	)
	fail := func(ranges []types.DateRange, err error) {
		mu.Lock()
		defer mu.Unlock()
		unresolved = append(unresolved, ranges...)
		errs = append(errs, err)
	}

	concurrency := s.config.Fetch.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, gr := range gaps {
		g.Go(func() error {
			fetchStart := time.Now()
			candles, err := s.fetcher.Fetch(gctx, client, key, gr)
			s.latency.Since(aggregate.OpFetch, fetchStart)
			if err != nil {
				fail([]types.DateRange{gr}, err)
				return nil
			}

			s.writeMu.Lock()
			writeStart := time.Now()
			res, err := s.writer.WriteRange(gctx, key, gr, candles)
			s.latency.Since(aggregate.OpWrite, writeStart)
			s.writeMu.Unlock()

			if err != nil {
				if errors.IsIntegrity(err) || errors.IsLock(err) {
					return err
				}
				fail(res.Unresolved, err)
				return nil
			}

			l.Debug("gap filled", "range", gr.String(), "days", len(res.Committed), "rows", res.Rows)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		l.Error("series aborted", "range", rng.String(), "error", err)
		s.metrics.RecordSeries(key.Source, "error", time.Since(started).Seconds())
		return nil, err
	}

	assembleStart := time.Now()
	candles, err := s.reader.Assemble(ctx, key, rng)
	s.latency.Since(aggregate.OpAssemble, assembleStart)
	if err != nil {
		s.metrics.RecordSeries(key.Source, "error", time.Since(started).Seconds())
		return nil, err
	}

	sort.Slice(unresolved, func(i, j int) bool {
		return unresolved[i].Start.Before(unresolved[j].Start)
	})

	series := &Series{
		Key:        key,
		Range:      rng,
		Candles:    candles,
		Unresolved: unresolved,
		Fetched:    len(gaps) - len(errs),
		Elapsed:    time.Since(started),
	}
	s.latency.Observe(aggregate.OpGetSeries, series.Elapsed)

	l.Info("series served",
		"range", rng.String(),
		"candles", series.Len(),
		"gaps", len(gaps),
		"unresolved", len(unresolved),
		"elapsed", series.Elapsed)

	if len(errs) > 0 {
		s.metrics.RecordSeries(key.Source, "incomplete", series.Elapsed.Seconds())
		return series, &IncompleteError{Key: key, Unresolved: unresolved, Errs: errs}
	}

	s.metrics.RecordSeries(key.Source, "ok", series.Elapsed.Seconds())
	return series, nil
}

// CoverageInfo summarizes the cached days of every key matching filter.
func (s *Service) CoverageInfo(ctx context.Context, filter types.Filter) ([]types.CoverageSummary, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.catalog.CoverageInfo(ctx, filter)
}

// Coverage reports the per-day status of a request window.
func (s *Service) Coverage(ctx context.Context, req Request) ([]gap.DayStatus, error) {
	key, rng, err := req.Validate()
	if err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.resolver.Coverage(ctx, key, rng)
}

// ClearResult reports what ClearCache removed.
type ClearResult struct {
	Partitions   int
	FilesRemoved int
	BytesFreed   int64
	Errors       []error
}

// ClearCache removes the partitions and coverage of every key matching
// filter. Catalog rows are deleted in one transaction before any file is
// unlinked. An empty filter clears the whole cache.
func (s *Service) ClearCache(ctx context.Context, filter types.Filter) (ClearResult, error) {
	var res ClearResult
	if err := s.checkOpen(); err != nil {
		return res, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	removed, err := s.catalog.Delete(ctx, filter)
	if err != nil {
		return res, err
	}
	res.Partitions = len(removed)

	for _, p := range removed {
		info, err := os.Stat(p.Path)
		if err != nil {
			if !os.IsNotExist(err) {
				res.Errors = append(res.Errors, fmt.Errorf("stat %s: %w", p.Path, err))
			}
			continue
		}
		if err := os.Remove(p.Path); err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("delete %s: %w", p.Path, err))
			continue
		}
		res.FilesRemoved++
		res.BytesFreed += info.Size()
	}
	s.metrics.RecordFilesRemoved("clear", res.FilesRemoved)

	log.Info("cache cleared",
		"source", filter.Source,
		"symbol", filter.Symbol,
		"timeframe", string(filter.Timeframe),
		"partitions", res.Partitions,
		"files", res.FilesRemoved,
		"errors", len(res.Errors))

	return res, nil
}

// Vacuum removes leftover staging files, displaced partitions and
// unreferenced partition files, and expires days past the configured
// maximum age. With dryRun nothing is removed.
func (s *Service) Vacuum(ctx context.Context, dryRun bool) ([]retention.CleanupResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if dryRun {
		return s.retention.DryRun(ctx)
	}
	if s.catalog.ReadOnly() {
		return nil, errors.NewLock("vacuum", errors.ErrReadOnly)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.retention.RunCleanup(ctx)
}

// Stats returns combined statistics.
func (s *Service) Stats(ctx context.Context) (ServiceStats, error) {
	if err := s.checkOpen(); err != nil {
		return ServiceStats{}, err
	}
	if err := s.catalog.Health(ctx); err != nil {
		return ServiceStats{}, fmt.Errorf("catalog health: %w", err)
	}

	cs, err := s.catalog.Stats(ctx)
	if err != nil {
		return ServiceStats{}, err
	}
	du, err := s.retention.GetDiskUsage()
	if err != nil {
		return ServiceStats{}, fmt.Errorf("disk usage: %w", err)
	}

	return ServiceStats{
		Uptime:    time.Since(s.startTime),
		Catalog:   cs,
		Writer:    s.writer.Stats(),
		Reader:    s.reader.Stats(),
		Retention: s.retention.Stats(),
		Disk:      du,
		Latency:   s.latency.Snapshot(),
	}, nil
}

// ServiceStats holds combined statistics.
type ServiceStats struct {
	Uptime    time.Duration `json:"-"`
	Catalog   catalog.Stats
	Writer    ingestion.StatsSnapshot
	Reader    query.Stats
	Retention retention.Stats
	Disk      retention.DiskUsage
	Latency   map[string]aggregate.Summary
}

// Config returns the effective configuration.
func (s *Service) Config() *config.Config {
	return s.config
}
