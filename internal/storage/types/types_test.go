package types

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xtxerr/candlecache/internal/errors"
)

func TestNewCacheKey(t *testing.T) {
	k, err := NewCacheKey(" yahoo ", "aapl", "1d")
	if err != nil {
		t.Fatalf("NewCacheKey: %v", err)
	}
	if k.String() != "YAHOO/AAPL/1d" {
		t.Errorf("expected YAHOO/AAPL/1d, got %s", k)
	}

	if _, err := NewCacheKey("binance", "BTCUSDT", "7m"); !errors.Is(err, errors.ErrInvalidTimeframe) {
		t.Errorf("expected invalid timeframe, got %v", err)
	}
	if _, err := NewCacheKey("", "", "1h"); !errors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := NewCacheKey("yahoo", "../etc", "1d"); !errors.IsValidation(err) {
		t.Errorf("expected path validation error, got %v", err)
	}
}

func TestPartitionPath(t *testing.T) {
	k := CacheKey{Source: "CCXT_BINANCE", Symbol: "BTC/USDT", Timeframe: Timeframe1h}
	got := PartitionPath("/data", k, MustParseDate("2024-03-05"))
	want := filepath.Join("/data", "candles", "CCXT_BINANCE", "BTC_USDT", "1h", "2024", "2024-03-05.parquet")
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestDateRange(t *testing.T) {
	r := DateRange{Start: MustParseDate("2024-02-27"), End: MustParseDate("2024-03-02")}
	if r.Len() != 5 {
		t.Fatalf("expected 5 days across leap day, got %d", r.Len())
	}
	days := r.Days()
	if days[2].String() != "2024-02-29" {
		t.Errorf("expected leap day, got %s", days[2])
	}
	if !r.Contains(MustParseDate("2024-03-01")) || r.Contains(MustParseDate("2024-03-03")) {
		t.Error("Contains mismatch")
	}

	start, end := r.Window()
	if !start.Equal(time.Date(2024, 2, 27, 0, 0, 0, 0, time.UTC)) || !end.Equal(time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected window %v..%v", start, end)
	}

	inverted := DateRange{Start: r.End, End: r.Start}
	if inverted.Valid() || inverted.Len() != 0 {
		t.Error("inverted range should be invalid and empty")
	}
}

func TestDateOfUsesUTC(t *testing.T) {
	ny := time.FixedZone("EST", -5*3600)
	ts := time.Date(2024, 1, 1, 22, 0, 0, 0, ny) // 03:00 UTC on Jan 2
	if DateOf(ts).String() != "2024-01-02" {
		t.Errorf("expected 2024-01-02, got %s", DateOf(ts))
	}
}

func TestCoalesce(t *testing.T) {
	days := []Date{
		MustParseDate("2024-01-01"),
		MustParseDate("2024-01-02"),
		MustParseDate("2024-01-05"),
		MustParseDate("2024-01-07"),
		MustParseDate("2024-01-08"),
	}
	got := Coalesce(days)
	want := []string{"2024-01-01..2024-01-02", "2024-01-05", "2024-01-07..2024-01-08"}
	if len(got) != len(want) {
		t.Fatalf("expected %d ranges, got %v", len(want), got)
	}
	for i := range want {
		if got[i].String() != want[i] {
			t.Errorf("range %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if Coalesce(nil) != nil {
		t.Error("expected nil for no days")
	}
}

func candle(ts time.Time, closePx string) Candle {
	px := decimal.RequireFromString(closePx)
	return Candle{Timestamp: ts, Open: px, High: px, Low: px, Close: px, Volume: decimal.NewFromInt(1)}
}

func TestMergeCandlesNewWins(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	base := []Candle{candle(t0, "1"), candle(t0.Add(time.Hour), "2")}
	incoming := []Candle{candle(t0.Add(2*time.Hour), "3"), candle(t0.Add(time.Hour), "20")}

	merged := MergeCandles(base, incoming)
	if len(merged) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(merged))
	}
	if !StrictlyAscending(merged) {
		t.Error("merged candles not strictly ascending")
	}
	if !merged[1].Close.Equal(decimal.RequireFromString("20")) {
		t.Errorf("expected incoming row to win, got close %s", merged[1].Close)
	}
}

func TestTimeframe(t *testing.T) {
	for _, tf := range AllTimeframes {
		if err := tf.Validate(); err != nil {
			t.Errorf("%s: %v", tf, err)
		}
	}
	if Timeframe1h.BarsPerDay() != 24 || Timeframe1w.BarsPerDay() != 1 {
		t.Error("BarsPerDay mismatch")
	}
	if _, err := ParseTimeframe("1y"); err == nil {
		t.Error("expected error for 1y")
	}
}

func TestFilterMatches(t *testing.T) {
	k := CacheKey{Source: "YAHOO", Symbol: "AAPL", Timeframe: Timeframe1d}
	tests := []struct {
		f    Filter
		want bool
	}{
		{Filter{}, true},
		{Filter{Source: "yahoo"}, true},
		{Filter{Source: "yahoo", Symbol: "msft"}, false},
		{Filter{Timeframe: Timeframe1h}, false},
		{Filter{Symbol: "aapl", Timeframe: Timeframe1d}, true},
	}
	for _, tt := range tests {
		if got := tt.f.Matches(k); got != tt.want {
			t.Errorf("%+v.Matches = %v, want %v", tt.f, got, tt.want)
		}
	}
}

func TestStatusForRows(t *testing.T) {
	if StatusForRows(0) != StatusCompleteEmpty || StatusForRows(5) != StatusComplete {
		t.Error("StatusForRows mismatch")
	}
	if StatusMissing.Covered() || !StatusCompleteEmpty.Covered() {
		t.Error("Covered mismatch")
	}
}
