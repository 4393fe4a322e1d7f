package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/candlecache/internal/errors"
	"github.com/xtxerr/candlecache/internal/storage/config"
	"github.com/xtxerr/candlecache/internal/storage/types"
	cctest "github.com/xtxerr/candlecache/internal/testing"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Fetch.MaxAttempts = 2
	cfg.Fetch.BaseDelay = time.Millisecond
	cfg.Fetch.MaxDelay = 2 * time.Millisecond
	cfg.Fetch.Jitter = false
	cfg.Fetch.RateLimitPerMin = 0
	return cfg
}

func openTest(t *testing.T, cfg *config.Config) *Service {
	t.Helper()
	svc, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func request(symbol, start, end string) Request {
	return Request{
		Source:    "yahoo",
		Symbol:    symbol,
		Timeframe: "1d",
		Start:     types.MustParseDate(start),
		End:       types.MustParseDate(end),
	}
}

func TestOpenInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fetch.Concurrency = 0

	_, err := Open(context.Background(), cfg)
	if !errors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestOpenSecondWriterLocked(t *testing.T) {
	cfg := testConfig(t)
	openTest(t, cfg)

	_, err := Open(context.Background(), cfg)
	if !errors.IsLock(err) {
		t.Errorf("expected lock error, got %v", err)
	}
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"inverted range", request("AAPL", "2024-01-10", "2024-01-01")},
		{"missing symbol", request("", "2024-01-01", "2024-01-02")},
		{"unknown timeframe", Request{Source: "yahoo", Symbol: "AAPL", Timeframe: "7m",
			Start: types.MustParseDate("2024-01-01"), End: types.MustParseDate("2024-01-02")}},
		{"missing dates", Request{Source: "yahoo", Symbol: "AAPL", Timeframe: "1d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := tt.req.Validate(); !errors.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}

	key, rng, err := request("aapl", "2024-01-01", "2024-01-02").Validate()
	if err != nil {
		t.Fatal(err)
	}
	if key.String() != "YAHOO/AAPL/1d" || rng.Len() != 2 {
		t.Errorf("unexpected key %s range %s", key, rng)
	}
}

func TestGetSeriesRejectsBeforeIO(t *testing.T) {
	svc := openTest(t, testConfig(t))
	client := cctest.NewFakeClient()

	_, err := svc.GetSeries(context.Background(), request("AAPL", "2024-01-10", "2024-01-01"), client)
	if !errors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := svc.GetSeries(context.Background(), request("AAPL", "2024-01-01", "2024-01-02"), nil); !errors.IsValidation(err) {
		t.Errorf("expected validation error for nil client, got %v", err)
	}
	if client.CallCount() != 0 {
		t.Errorf("invalid requests must not reach the provider, got %d calls", client.CallCount())
	}
}

func TestGetSeriesPartialResumption(t *testing.T) {
	svc := openTest(t, testConfig(t))
	client := cctest.NewFakeClient()
	ctx := context.Background()

	if _, err := svc.GetSeries(ctx, request("MSFT", "2024-01-01", "2024-01-03"), client); err != nil {
		t.Fatal(err)
	}
	client.Reset()

	series, err := svc.GetSeries(ctx, request("MSFT", "2024-01-01", "2024-01-05"), client)
	if err != nil {
		t.Fatal(err)
	}

	calls := client.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 fetch, got %d", len(calls))
	}
	if r := calls[0].Range(); r.String() != "2024-01-04..2024-01-05" {
		t.Errorf("expected fetch of the missing tail only, got %s", r)
	}
	if series.Len() != 5 || !types.StrictlyAscending(series.Candles) {
		t.Errorf("expected 5 ordered candles, got %d", series.Len())
	}
}

func TestGetSeriesConcurrentIdenticalRequests(t *testing.T) {
	svc := openTest(t, testConfig(t))
	client := cctest.NewFakeClient()
	release := client.Block()
	defer release()

	req := request("NVDA", "2024-02-01", "2024-02-29")

	gt := cctest.NewGoroutineTest(t, 10*time.Second)
	lens := make(chan int, 5)
	for i := 0; i < 5; i++ {
		gt.Go(func(ctx context.Context) error {
			s, err := svc.GetSeries(ctx, req, client)
			if err != nil {
				return err
			}
			lens <- s.Len()
			return nil
		})
	}

	if err := cctest.Eventually(5*time.Second, 5*time.Millisecond, func() bool { return client.CallCount() >= 1 }); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	release()
	gt.Wait()
	close(lens)

	first := -1
	for n := range lens {
		if first == -1 {
			first = n
		}
		if n != first || n == 0 {
			t.Errorf("callers saw different series lengths: %d vs %d", n, first)
		}
	}
	if client.CallCount() != 1 {
		t.Errorf("expected one shared fetch, got %d", client.CallCount())
	}
}

func TestGetSeriesCancelledCallerDoesNotFailOthers(t *testing.T) {
	svc := openTest(t, testConfig(t))
	client := cctest.NewFakeClient()
	release := client.Block()
	defer release()

	req := request("AMD", "2024-02-01", "2024-02-09")

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.GetSeries(firstCtx, req, client)
		firstErr <- err
	}()
	if err := cctest.Eventually(5*time.Second, 5*time.Millisecond, func() bool { return client.CallCount() >= 1 }); err != nil {
		t.Fatal(err)
	}

	type result struct {
		s   *Series
		err error
	}
	second := make(chan result, 1)
	go func() {
		s, err := svc.GetSeries(context.Background(), req, client)
		second <- result{s, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("cancelled caller: expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	release()
	select {
	case r := <-second:
		if r.err != nil {
			t.Fatalf("joined caller failed: %v", r.err)
		}
		if r.s.Len() != 7 {
			t.Errorf("expected 7 weekday candles, got %d", r.s.Len())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("joined caller did not return")
	}
	if client.CallCount() != 1 {
		t.Errorf("expected one shared fetch, got %d", client.CallCount())
	}
}

func TestGetSeriesCancelledSoleCallerStopsFetch(t *testing.T) {
	svc := openTest(t, testConfig(t))
	client := cctest.NewFakeClient()
	release := client.Block()
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.GetSeries(ctx, request("AMD", "2024-02-01", "2024-02-09"), client)
		done <- err
	}()
	if err := cctest.Eventually(5*time.Second, 5*time.Millisecond, func() bool { return client.CallCount() >= 1 }); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	// The abandoned fetch was cancelled rather than left waiting, so a new
	// caller triggers a fresh one.
	if err := cctest.Eventually(5*time.Second, 5*time.Millisecond, func() bool {
		st, err := svc.Stats(context.Background())
		return err == nil && st.Latency["fetch"].Count == 1
	}); err != nil {
		t.Fatalf("cancelled fetch never returned: %v", err)
	}
	release()
	series, err := svc.GetSeries(context.Background(), request("AMD", "2024-02-01", "2024-02-09"), client)
	if err != nil {
		t.Fatalf("GetSeries after cancellation: %v", err)
	}
	if series.Len() != 7 {
		t.Errorf("expected 7 candles, got %d", series.Len())
	}
	if client.CallCount() != 2 {
		t.Errorf("expected the cancelled fetch plus a new one, got %d calls", client.CallCount())
	}
}

func TestGetSeriesIntegrityErrorAborts(t *testing.T) {
	cfg := testConfig(t)
	svc := openTest(t, cfg)
	client := cctest.NewFakeClient()
	ctx := context.Background()
	req := request("IBM", "2024-01-02", "2024-01-03")

	if _, err := svc.GetSeries(ctx, req, client); err != nil {
		t.Fatal(err)
	}

	key, _, _ := req.Validate()
	path := types.PartitionPath(svc.Config().DataDir, key, types.MustParseDate("2024-01-02"))
	if err := os.WriteFile(path, []byte("corrupt"), 0644); err != nil {
		t.Fatal(err)
	}

	series, err := svc.GetSeries(ctx, req, client)
	if !errors.IsIntegrity(err) {
		t.Fatalf("expected integrity error, got %v", err)
	}
	if series != nil {
		t.Error("integrity errors must not return partial data")
	}
}

func TestClearCache(t *testing.T) {
	svc := openTest(t, testConfig(t))
	client := cctest.NewFakeClient()
	ctx := context.Background()

	for _, sym := range []string{"AAPL", "MSFT"} {
		if _, err := svc.GetSeries(ctx, request(sym, "2024-01-01", "2024-01-05"), client); err != nil {
			t.Fatal(err)
		}
	}

	res, err := svc.ClearCache(ctx, types.Filter{Source: "yahoo", Symbol: "aapl"})
	if err != nil {
		t.Fatalf("ClearCache: %v", err)
	}
	if res.Partitions != 5 || res.FilesRemoved != 5 || len(res.Errors) != 0 {
		t.Errorf("unexpected clear result %+v", res)
	}

	info, err := svc.CoverageInfo(ctx, types.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(info) != 1 || info[0].Key.Symbol != "MSFT" {
		t.Errorf("expected only MSFT to remain, got %+v", info)
	}

	client.Reset()
	if _, err := svc.GetSeries(ctx, request("AAPL", "2024-01-01", "2024-01-05"), client); err != nil {
		t.Fatal(err)
	}
	if client.CallCount() != 1 {
		t.Errorf("cleared key should be fetched again, got %d calls", client.CallCount())
	}
}

func TestVacuum(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention.OrphanGrace = time.Minute
	svc := openTest(t, cfg)

	stray := filepath.Join(svc.Config().CandlesDir(), "YAHOO", "AAPL", "1d", "2024", ".2024-01-01.parquet.1.tmp")
	if err := os.MkdirAll(filepath.Dir(stray), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stray, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(stray, old, old); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if _, err := svc.Vacuum(ctx, true); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(stray); err != nil {
		t.Fatal("dry run removed the staging file")
	}

	results, err := svc.Vacuum(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	removed := 0
	for _, r := range results {
		removed += r.FilesDeleted
	}
	if removed != 1 {
		t.Errorf("expected 1 file removed, got %d", removed)
	}
	if _, err := os.Stat(stray); !os.IsNotExist(err) {
		t.Error("staging file still present")
	}
}

func TestClosedService(t *testing.T) {
	svc, err := Open(context.Background(), testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := svc.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}

	_, err = svc.GetSeries(context.Background(), request("AAPL", "2024-01-01", "2024-01-02"), cctest.NewFakeClient())
	if !errors.Is(err, errors.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := svc.CoverageInfo(context.Background(), types.Filter{}); !errors.Is(err, errors.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestSeriesAll(t *testing.T) {
	s := &Series{Candles: []types.Candle{
		cctest.Bar(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 1),
		cctest.Bar(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), 2),
	}}

	for pass := 0; pass < 2; pass++ {
		n := 0
		for range s.All() {
			n++
		}
		if n != 2 {
			t.Errorf("pass %d: expected 2 candles, got %d", pass, n)
		}
	}

	for c := range s.All() {
		if c.Timestamp.Day() != 1 {
			t.Error("iteration did not start at the first candle")
		}
		break
	}
}

func TestStats(t *testing.T) {
	svc := openTest(t, testConfig(t))
	ctx := context.Background()

	if _, err := svc.GetSeries(ctx, request("AAPL", "2024-01-01", "2024-01-07"), cctest.NewFakeClient()); err != nil {
		t.Fatal(err)
	}

	st, err := svc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Writer.DaysWritten != 7 || st.Writer.EmptyDays != 2 {
		t.Errorf("unexpected writer stats %+v", st.Writer)
	}
	if st.Catalog.Partitions != 7 || st.Disk.FileCount != 7 {
		t.Errorf("unexpected catalog/disk stats %+v %+v", st.Catalog, st.Disk)
	}
	if st.Reader.QueriesExecuted != 1 {
		t.Errorf("unexpected reader stats %+v", st.Reader)
	}
	if st.Latency["get_series"].Count != 1 || st.Latency["fetch"].Count != 1 {
		t.Errorf("unexpected latency stats %+v", st.Latency)
	}
}
