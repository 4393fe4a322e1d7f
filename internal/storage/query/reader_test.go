package query

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xtxerr/candlecache/internal/errors"
	"github.com/xtxerr/candlecache/internal/storage/parquet"
	"github.com/xtxerr/candlecache/internal/storage/types"
)

var key = types.CacheKey{Source: "YAHOO", Symbol: "AAPL", Timeframe: types.Timeframe1h}

type fakeCatalog struct {
	parts []types.DayPartition
}

func (f *fakeCatalog) QueryPartitions(_ context.Context, _ types.CacheKey, r types.DateRange) ([]types.DayPartition, error) {
	var out []types.DayPartition
	for _, p := range f.parts {
		if r.Contains(p.Date) {
			out = append(out, p)
		}
	}
	return out, nil
}

func bar(ts, closePx string) types.Candle {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	px := decimal.RequireFromString(closePx)
	return types.Candle{Timestamp: t, Open: px, High: px, Low: px, Close: px, Volume: decimal.Zero}
}

func writePartition(t *testing.T, dir string, id int64, day string, candles ...types.Candle) types.DayPartition {
	t.Helper()
	path := filepath.Join(dir, day+"-"+string(rune('a'+id))+".parquet")
	w, err := parquet.NewCandleWriter(path, key, parquet.DefaultOptions())
	if err != nil {
		t.Fatalf("NewCandleWriter: %v", err)
	}
	if err := w.Write(candles); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return types.DayPartition{
		ID:       id,
		Key:      key,
		Date:     types.MustParseDate(day),
		Path:     path,
		RowCount: int64(len(candles)),
	}
}

func dr(start, end string) types.DateRange {
	return types.DateRange{Start: types.MustParseDate(start), End: types.MustParseDate(end)}
}

func TestAssembleOrdersAndFilters(t *testing.T) {
	dir := t.TempDir()
	cat := &fakeCatalog{parts: []types.DayPartition{
		writePartition(t, dir, 1, "2024-01-01", bar("2024-01-01T00:00:00Z", "1"), bar("2024-01-01T01:00:00Z", "2")),
		writePartition(t, dir, 2, "2024-01-02"),
		writePartition(t, dir, 3, "2024-01-03", bar("2024-01-03T00:00:00Z", "3")),
		writePartition(t, dir, 4, "2024-01-04", bar("2024-01-04T00:00:00Z", "4")),
	}}

	rd := New(cat, nil)
	got, err := rd.Assemble(context.Background(), key, dr("2024-01-01", "2024-01-03"))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(got))
	}
	if !types.StrictlyAscending(got) {
		t.Error("series not strictly ascending")
	}
	if got[2].Timestamp.Format(time.DateOnly) != "2024-01-03" {
		t.Errorf("last candle should be from the range end, got %v", got[2].Timestamp)
	}
	if s := rd.Stats(); s.QueriesExecuted != 1 || s.RowsReturned != 3 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestAssembleDropsMisplacedRows(t *testing.T) {
	dir := t.TempDir()
	// Partition for Jan 2 carries a stray row of Jan 5, outside the request.
	cat := &fakeCatalog{parts: []types.DayPartition{
		writePartition(t, dir, 1, "2024-01-02", bar("2024-01-02T00:00:00Z", "1"), bar("2024-01-05T00:00:00Z", "9")),
	}}

	got, err := New(cat, nil).Assemble(context.Background(), key, dr("2024-01-01", "2024-01-03"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("expected rows outside the range to be filtered, got %d", len(got))
	}
}

func TestCombineNewestPartitionWins(t *testing.T) {
	ts := "2024-01-02T00:00:00Z"
	got := combine([]loaded{
		{id: 7, candles: []types.Candle{bar(ts, "70")}},
		{id: 3, candles: []types.Candle{bar(ts, "30"), bar("2024-01-02T01:00:00Z", "31")}},
	}, dr("2024-01-01", "2024-01-03"))

	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if !got[0].Close.Equal(decimal.NewFromInt(70)) {
		t.Errorf("expected row from partition 7, got close %s", got[0].Close)
	}
}

func TestAssembleDuplicatePartitions(t *testing.T) {
	dir := t.TempDir()
	cat := &fakeCatalog{parts: []types.DayPartition{
		writePartition(t, dir, 1, "2024-01-02", bar("2024-01-02T00:00:00Z", "1")),
		writePartition(t, dir, 2, "2024-01-02", bar("2024-01-02T00:00:00Z", "2")),
	}}

	_, err := New(cat, nil).Assemble(context.Background(), key, dr("2024-01-01", "2024-01-03"))
	var ie *errors.IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("expected *IntegrityError, got %v", err)
	}
	if ie.Date != "2024-01-02" {
		t.Errorf("integrity error should name the day, got %q", ie.Date)
	}
}

func TestAssembleUnreadablePartition(t *testing.T) {
	dir := t.TempDir()
	p := writePartition(t, dir, 1, "2024-01-02", bar("2024-01-02T00:00:00Z", "1"))
	if err := os.WriteFile(p.Path, []byte("not parquet"), 0644); err != nil {
		t.Fatal(err)
	}
	missing := p
	missing.ID, missing.Date, missing.Path = 2, types.MustParseDate("2024-01-03"), filepath.Join(dir, "gone.parquet")

	for _, part := range []types.DayPartition{p, missing} {
		rd := New(&fakeCatalog{parts: []types.DayPartition{part}}, nil)
		_, err := rd.Assemble(context.Background(), key, dr("2024-01-01", "2024-01-03"))
		var ie *errors.IntegrityError
		if !errors.As(err, &ie) {
			t.Fatalf("%s: expected *IntegrityError, got %v", part.Path, err)
		}
		if ie.Path != part.Path {
			t.Errorf("integrity error should name the path, got %q", ie.Path)
		}
		if rd.Stats().Errors != 1 {
			t.Error("error not counted")
		}
	}
}

func TestAssembleInvalidRange(t *testing.T) {
	_, err := New(&fakeCatalog{}, nil).Assemble(context.Background(), key, dr("2024-01-03", "2024-01-01"))
	if !errors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}
