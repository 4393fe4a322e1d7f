// Package catalog is the authoritative metadata store of the cache.
//
// It records which day partitions exist (table partitions) and the fetch
// state of every (key, day) (table coverage) in a DuckDB file. A Catalog is
// owned by whoever opened it and must be closed; it is safe for concurrent
// use, with all mutations serialized on a single writer mutex.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/candlecache/internal/errors"
	"github.com/xtxerr/candlecache/internal/logging"
)

var log = logging.Component("catalog")

// =============================================================================
// Catalog Configuration
// =============================================================================

// Options configures how the catalog is opened.
type Options struct {
	// Path is the DuckDB file. Empty opens an in-memory catalog.
	Path string

	// ReadOnly opens without the writer lock; mutations fail with a lock error.
	ReadOnly bool

	// MemoryLimit is passed to DuckDB, e.g. "512MB".
	MemoryLimit string

	// Threads limits DuckDB worker threads (0 = default).
	Threads int

	// MaxOpenConns bounds the database/sql pool.
	MaxOpenConns int

	// QueryTimeout is applied to operations whose context has no deadline.
	QueryTimeout time.Duration
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxOpenConns: 4,
		QueryTimeout: 30 * time.Second,
	}
}

// DSN builds the go-duckdb connection string.
func (o Options) DSN() string {
	params := url.Values{}
	if o.ReadOnly {
		params.Set("access_mode", "READ_ONLY")
	}
	if o.MemoryLimit != "" {
		params.Set("memory_limit", o.MemoryLimit)
	}
	if o.Threads > 0 {
		params.Set("threads", strconv.Itoa(o.Threads))
	}
	if len(params) == 0 {
		return o.Path
	}
	return o.Path + "?" + params.Encode()
}

// =============================================================================
// Catalog
// =============================================================================

// Catalog provides partition and coverage bookkeeping.
//
// Catalog is safe for concurrent use.
type Catalog struct {
	db      *sql.DB
	opts    Options
	writeMu sync.Mutex
	mu      sync.RWMutex
	closed  bool
}

// writers tracks catalog files opened read-write by this process.
var (
	writersMu sync.Mutex
	writers   = map[string]bool{}
)

// Open opens (and if needed creates) the catalog. A second read-write open
// of the same file, in this process or another, fails with a lock error.
func Open(ctx context.Context, opts Options) (*Catalog, error) {
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = DefaultOptions().MaxOpenConns
	}

	lockKey := ""
	if opts.Path != "" && !opts.ReadOnly {
		abs, err := filepath.Abs(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("resolve catalog path: %w", err)
		}
		lockKey = abs

		writersMu.Lock()
		if writers[lockKey] {
			writersMu.Unlock()
			return nil, errors.NewLock("catalog "+opts.Path+" already open for writing", nil)
		}
		writers[lockKey] = true
		writersMu.Unlock()
	}

	release := func() {
		if lockKey != "" {
			writersMu.Lock()
			delete(writers, lockKey)
			writersMu.Unlock()
		}
	}

	db, err := sql.Open("duckdb", opts.DSN())
	if err != nil {
		release()
		return nil, classifyOpenError(opts.Path, err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)

	// Verify connection; DuckDB takes its file lock here.
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		release()
		return nil, classifyOpenError(opts.Path, err)
	}

	c := &Catalog{db: db, opts: opts}

	if !opts.ReadOnly {
		if err := c.migrate(ctx); err != nil {
			db.Close()
			release()
			return nil, err
		}
	}

	log.Info("catalog opened", "path", displayPath(opts.Path), "read_only", opts.ReadOnly)
	return c, nil
}

// classifyOpenError maps DuckDB's file lock failures to ErrLock.
func classifyOpenError(path string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "lock") {
		return errors.NewLock("open catalog "+path, err)
	}
	return fmt.Errorf("open catalog %s: %w", displayPath(path), err)
}

func displayPath(p string) string {
	if p == "" {
		return ":memory:"
	}
	return p
}

// Close closes the catalog and releases the writer lock.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	err := c.db.Close()

	if c.opts.Path != "" && !c.opts.ReadOnly {
		if abs, absErr := filepath.Abs(c.opts.Path); absErr == nil {
			writersMu.Lock()
			delete(writers, abs)
			writersMu.Unlock()
		}
	}

	log.Debug("catalog closed", "path", displayPath(c.opts.Path))
	return err
}

// ReadOnly reports whether mutations are rejected.
func (c *Catalog) ReadOnly() bool {
	return c.opts.ReadOnly
}

// Path returns the catalog file path ("" for in-memory).
func (c *Catalog) Path() string {
	return c.opts.Path
}

// checkOpen returns ErrClosed after Close.
func (c *Catalog) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return fmt.Errorf("catalog: %w", errors.ErrClosed)
	}
	return nil
}

// beginWrite takes the writer mutex after checking the catalog is writable.
// The caller must call the returned unlock function.
func (c *Catalog) beginWrite() (func(), error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if c.opts.ReadOnly {
		return nil, errors.NewLock("catalog mutation", errors.ErrReadOnly)
	}
	c.writeMu.Lock()
	return c.writeMu.Unlock, nil
}

// withTimeout applies QueryTimeout when ctx has no deadline.
func (c *Catalog) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.opts.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.opts.QueryTimeout)
}

// =============================================================================
// Transaction Support
// =============================================================================

// TransactionContext executes fn within a database transaction.
//
// If fn returns an error or panics, the transaction is rolled back. The
// context is checked before commit so a cancelled caller never commits.
func (c *Catalog) TransactionContext(ctx context.Context, fn func(*sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := ctx.Err(); err != nil {
		tx.Rollback()
		return fmt.Errorf("context cancelled before commit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// Health checks database connectivity.
func (c *Catalog) Health(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.db.PingContext(ctx)
}
