package parquet

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/candlecache/internal/storage/types"
)

// CandleReader reads candles from a day partition.
type CandleReader struct {
	file   *os.File
	reader *parquet.GenericReader[CandleRow]
	path   string
}

// NewCandleReader opens a Parquet partition. Files that are truncated or
// not Parquet at all fail here rather than on first read.
func NewCandleReader(path string) (r *CandleReader, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	pf, err := parquet.OpenFile(f, stat.Size(), parquet.ReadBufferSize(1024*1024))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	// NewGenericReader panics on schema conversion failures.
	defer func() {
		if p := recover(); p != nil {
			f.Close()
			r, err = nil, fmt.Errorf("open parquet reader: %v", p)
		}
	}()

	reader := parquet.NewGenericReader[CandleRow](pf)

	return &CandleReader{
		file:   f,
		reader: reader,
		path:   path,
	}, nil
}

// ReadAll reads every candle in the file.
func (r *CandleReader) ReadAll() ([]types.Candle, error) {
	numRows := r.reader.NumRows()
	if numRows == 0 {
		return []types.Candle{}, nil
	}
	rows := make([]CandleRow, numRows)

	n, err := r.reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if int64(n) != numRows {
		return nil, fmt.Errorf("short read: %d of %d rows", n, numRows)
	}

	candles := make([]types.Candle, n)
	for i := 0; i < n; i++ {
		if candles[i], err = RowToCandle(&rows[i]); err != nil {
			return nil, err
		}
	}

	return candles, nil
}

// NumRows returns the total number of rows in the file.
func (r *CandleReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *CandleReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *CandleReader) Path() string {
	return r.path
}

// ReadFile loads every candle from a partition file.
func ReadFile(path string) ([]types.Candle, error) {
	r, err := NewCandleReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return r.ReadAll()
}

func timeFromMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
