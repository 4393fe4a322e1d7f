package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/parquet-go/parquet-go/compress/zstd"
	"github.com/shopspring/decimal"

	"github.com/xtxerr/candlecache/internal/storage/types"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// CompressionLevel for algorithms that support it (zstd: 1-22)
	CompressionLevel int

	// PageSize is the target page size in bytes
	PageSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression:      CompressionZstd,
		CompressionLevel: 3,
		PageSize:         256 * 1024,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch strings.ToLower(s) {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType, level int) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &zstd.Codec{Level: zstdLevel(level)}
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// zstdLevel maps a 1-22 zstd level onto the encoder presets.
func zstdLevel(level int) zstd.Level {
	switch {
	case level <= 0:
		return zstd.DefaultLevel
	case level <= 2:
		return zstd.SpeedFastest
	case level <= 5:
		return zstd.SpeedDefault
	case level <= 9:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// CandleRow represents a candle in Parquet format.
// Prices and volume are stored as decimal strings so they read back exactly.
type CandleRow struct {
	Source      string `parquet:"source,zstd"`
	Symbol      string `parquet:"symbol,zstd"`
	Timeframe   string `parquet:"timeframe,zstd"`
	TimestampMs int64  `parquet:"timestamp_ms"`
	Open        string `parquet:"open"`
	High        string `parquet:"high"`
	Low         string `parquet:"low"`
	Close       string `parquet:"close"`
	Volume      string `parquet:"volume"`
}

// CandleToRow converts a Candle to a CandleRow.
func CandleToRow(key types.CacheKey, c *types.Candle) CandleRow {
	return CandleRow{
		Source:      key.Source,
		Symbol:      key.Symbol,
		Timeframe:   string(key.Timeframe),
		TimestampMs: c.Timestamp.UnixMilli(),
		Open:        c.Open.String(),
		High:        c.High.String(),
		Low:         c.Low.String(),
		Close:       c.Close.String(),
		Volume:      c.Volume.String(),
	}
}

// RowToCandle converts a CandleRow to a Candle.
func RowToCandle(r *CandleRow) (types.Candle, error) {
	c := types.Candle{Timestamp: timeFromMs(r.TimestampMs)}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"open", r.Open, &c.Open},
		{"high", r.High, &c.High},
		{"low", r.Low, &c.Low},
		{"close", r.Close, &c.Close},
		{"volume", r.Volume, &c.Volume},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return types.Candle{}, fmt.Errorf("row %d: %s %q: %w", r.TimestampMs, f.name, f.raw, err)
		}
		*f.dst = d
	}
	return c, nil
}

// CandleWriter writes candles of one series to a Parquet file.
type CandleWriter struct {
	mu       sync.Mutex
	path     string
	key      types.CacheKey
	file     *os.File
	writer   *parquet.GenericWriter[CandleRow]
	rowCount int64
	closed   bool
}

// NewCandleWriter creates a Parquet writer at path, creating parent
// directories as needed.
func NewCandleWriter(path string, key types.CacheKey, opts Options) (*CandleWriter, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	return newCandleWriter(f, key, opts), nil
}

func newCandleWriter(f *os.File, key types.CacheKey, opts Options) *CandleWriter {
	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(opts.Compression, opts.CompressionLevel)),
	}
	if opts.PageSize > 0 {
		writerOpts = append(writerOpts, parquet.PageBufferSize(opts.PageSize))
	}

	return &CandleWriter{
		path:   f.Name(),
		key:    key,
		file:   f,
		writer: parquet.NewGenericWriter[CandleRow](f, writerOpts...),
	}
}

// Write appends candles to the Parquet file.
func (w *CandleWriter) Write(candles []types.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	rows := make([]CandleRow, len(candles))
	for i := range candles {
		rows[i] = CandleToRow(w.key, &candles[i])
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close flushes the footer, fsyncs and closes the file.
func (w *CandleWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("sync file: %w", err)
	}

	return w.file.Close()
}

// Abort closes the writer without flushing and removes the file.
func (w *CandleWriter) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		w.closed = true
		w.file.Close()
	}
	os.Remove(w.path)
}

// RowCount returns the number of rows written.
func (w *CandleWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *CandleWriter) Path() string {
	return w.path
}

// StageFile writes candles to a hidden temp file in the directory of
// finalPath and returns its path. The file is complete and fsynced, but
// not yet visible under finalPath. A zero-length candles slice produces a
// valid file with zero rows.
func StageFile(finalPath string, key types.CacheKey, candles []types.Candle, opts Options) (string, error) {
	dir := filepath.Dir(finalPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(finalPath)+".*"+TempSuffix)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	w := newCandleWriter(f, key, opts)
	if err := w.Write(candles); err != nil {
		w.Abort()
		return "", err
	}
	if err := w.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}

	return f.Name(), nil
}

// TempSuffix marks staging files that have not been published.
const TempSuffix = ".tmp"

// PrevSuffix marks a displaced partition kept until its replacement commits.
const PrevSuffix = ".prev"

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")
