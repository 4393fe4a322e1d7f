package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xtxerr/candlecache/internal/errors"
	"github.com/xtxerr/candlecache/internal/storage/config"
	"github.com/xtxerr/candlecache/internal/storage/types"
)

// klineServer serves hourly klines between the requested start and end,
// at most limit per page.
func klineServer(t *testing.T, pages *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			http.NotFound(w, r)
			return
		}
		pages.Add(1)

		q := r.URL.Query()
		if q.Get("symbol") != "BTCUSDT" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
			return
		}
		if q.Get("interval") != "1h" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":-1120,"msg":"Invalid interval."}`))
			return
		}
		start, _ := strconv.ParseInt(q.Get("startTime"), 10, 64)
		end, _ := strconv.ParseInt(q.Get("endTime"), 10, 64)
		limit, _ := strconv.Atoi(q.Get("limit"))

		step := time.Hour.Milliseconds()
		first := (start + step - 1) / step * step
		var rows [][]any
		for ts := first; ts <= end && len(rows) < limit; ts += step {
			rows = append(rows, []any{
				ts, "100.50", "101.00", "99.75", "100.25", "12.5",
				ts + step - 1, "1250.0", 42, "6.0", "600.0", "0",
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rows)
	}))
}

func TestFetchPagesAndBounds(t *testing.T) {
	var pages atomic.Int32
	srv := klineServer(t, &pages)
	defer srv.Close()

	c := New(config.BinanceConfig{BaseURL: srv.URL})
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(50 * 24 * time.Hour)

	got, err := c.Fetch(context.Background(), "BTC/USDT", types.Timeframe1h, start, end)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 50*24 {
		t.Fatalf("expected %d candles, got %d", 50*24, len(got))
	}
	if pages.Load() != 2 {
		t.Errorf("expected 2 pages, got %d", pages.Load())
	}
	if !got[0].Timestamp.Equal(start) || !got[len(got)-1].Timestamp.Before(end) {
		t.Errorf("candles outside [%s, %s): %s..%s", start, end, got[0].Timestamp, got[len(got)-1].Timestamp)
	}
	if !types.StrictlyAscending(got) {
		t.Error("candles not ascending")
	}
	if got[0].Open.String() != "100.5" || got[0].Low.String() != "99.75" || got[0].Volume.String() != "12.5" {
		t.Errorf("unexpected values %+v", got[0])
	}
}

func TestFetchErrors(t *testing.T) {
	var pages atomic.Int32
	srv := klineServer(t, &pages)
	defer srv.Close()

	c := New(config.BinanceConfig{BaseURL: srv.URL})
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	_, err := c.Fetch(context.Background(), "NOPE/USDT", types.Timeframe1h, start, end)
	if !errors.Is(err, errors.ErrInvalidSymbol) || errors.IsRetriable(err) {
		t.Errorf("expected terminal invalid symbol, got %v", err)
	}

	_, err = c.Fetch(context.Background(), "BTC/USDT", types.Timeframe4h, start, end)
	if !errors.Is(err, errors.ErrInvalidTimeframe) {
		t.Errorf("expected invalid timeframe, got %v", err)
	}

	if _, err := c.Fetch(context.Background(), "BTC/USDT", types.Timeframe("7m"), start, end); !errors.IsValidation(err) {
		t.Errorf("expected validation error before any request, got %v", err)
	}
}

func TestFetchRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"code":-1003,"msg":"Too many requests."}`))
	}))
	defer srv.Close()

	c := New(config.BinanceConfig{BaseURL: srv.URL})
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := c.Fetch(context.Background(), "BTC/USDT", types.Timeframe1h, start, start.Add(time.Hour))
	if !errors.Is(err, errors.ErrRateLimited) || !errors.IsRetriable(err) {
		t.Errorf("expected retriable rate limit, got %v", err)
	}
}

func TestFetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(config.BinanceConfig{BaseURL: url})
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := c.Fetch(context.Background(), "BTC/USDT", types.Timeframe1h, start, start.Add(time.Hour))
	if !errors.IsRetriable(err) {
		t.Errorf("connection failures should be retriable, got %v", err)
	}
}

func TestExchangeSymbol(t *testing.T) {
	for in, want := range map[string]string{"BTC/USDT": "BTCUSDT", "eth/btc": "ETHBTC", "BNBUSDT": "BNBUSDT"} {
		if got := exchangeSymbol(in); got != want {
			t.Errorf("exchangeSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}
