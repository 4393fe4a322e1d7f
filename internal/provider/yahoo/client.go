// Package yahoo fetches bars from the Yahoo Finance chart endpoint.
package yahoo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/xtxerr/candlecache/internal/errors"
	"github.com/xtxerr/candlecache/internal/logging"
	"github.com/xtxerr/candlecache/internal/storage/config"
	"github.com/xtxerr/candlecache/internal/storage/types"
)

var log = logging.Component("yahoo")

// intervals maps cache timeframes onto chart API intervals.
var intervals = map[types.Timeframe]string{
	types.Timeframe1m:  "1m",
	types.Timeframe5m:  "5m",
	types.Timeframe15m: "15m",
	types.Timeframe30m: "30m",
	types.Timeframe1h:  "60m",
	types.Timeframe1d:  "1d",
	types.Timeframe1w:  "1wk",
	types.Timeframe1M:  "1mo",
}

// Client implements fetch.Client for Yahoo Finance.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
}

// New creates a client from cfg.
func New(cfg config.YahooConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: timeout},
	}
}

// Fetch returns bars opening in [start, end). Daily and longer bars are
// stamped at UTC midnight of their trading day.
func (c *Client) Fetch(ctx context.Context, symbol string, tf types.Timeframe, start, end time.Time) ([]types.Candle, error) {
	interval, ok := intervals[tf]
	if !ok {
		return nil, fmt.Errorf("yahoo: timeframe %s not offered: %w", tf, errors.ErrInvalidTimeframe)
	}

	body, err := c.get(ctx, symbol, interval, start, end)
	if err != nil {
		return nil, err
	}

	candles, err := parseChart(body, tf, start, end)
	if err != nil {
		return nil, fmt.Errorf("yahoo %s: %w", symbol, err)
	}
	log.Debug("chart fetched", "symbol", symbol, "interval", interval, "rows", len(candles))
	return candles, nil
}

func (c *Client) get(ctx context.Context, symbol, interval string, start, end time.Time) ([]byte, error) {
	q := url.Values{}
	q.Set("period1", strconv.FormatInt(start.Unix(), 10))
	q.Set("period2", strconv.FormatInt(end.Unix(), 10))
	q.Set("interval", interval)
	q.Set("includePrePost", "false")
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("yahoo: %w: %w", errors.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("yahoo: read body: %w: %w", errors.ErrTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("yahoo: %s: %w", symbol, errors.ErrInvalidSymbol)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("yahoo: %w", errors.ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("yahoo: status %d: %w", resp.StatusCode, errors.ErrTransient)
	}
	if desc := gjson.GetBytes(body, "chart.error.description").String(); desc != "" {
		return nil, fmt.Errorf("yahoo: status %d: %s: %w", resp.StatusCode, desc, errors.ErrUpstream)
	}
	return nil, fmt.Errorf("yahoo: status %d: %w", resp.StatusCode, errors.ErrUpstream)
}

func parseChart(body []byte, tf types.Timeframe, start, end time.Time) ([]types.Candle, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("malformed chart response: %w", errors.ErrTransient)
	}
	doc := gjson.ParseBytes(body)

	if chartErr := doc.Get("chart.error"); chartErr.Exists() && chartErr.Type != gjson.Null {
		code := chartErr.Get("code").String()
		desc := chartErr.Get("description").String()
		if code == "Not Found" {
			return nil, fmt.Errorf("%s: %w", desc, errors.ErrInvalidSymbol)
		}
		return nil, fmt.Errorf("%s: %s: %w", code, desc, errors.ErrUpstream)
	}

	result := doc.Get("chart.result.0")
	if !result.Exists() {
		return nil, nil
	}
	stamps := result.Get("timestamp").Array()
	quote := result.Get("indicators.quote.0")
	opens := quote.Get("open").Array()
	highs := quote.Get("high").Array()
	lows := quote.Get("low").Array()
	closes := quote.Get("close").Array()
	volumes := quote.Get("volume").Array()

	daily := tf.Duration() >= 24*time.Hour
	loc := exchangeLocation(result.Get("meta"))
	out := make([]types.Candle, 0, len(stamps))
	for i, ts := range stamps {
		if i >= len(opens) || i >= len(highs) || i >= len(lows) || i >= len(closes) {
			break
		}
		if opens[i].Type == gjson.Null || highs[i].Type == gjson.Null ||
			lows[i].Type == gjson.Null || closes[i].Type == gjson.Null {
			continue
		}

		at := time.Unix(ts.Int(), 0).UTC()
		if daily {
			// daily bars are stamped at the session start in exchange time
			local := at.In(loc)
			at = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
		}
		if at.Before(start) || !at.Before(end) {
			continue
		}

		var vol decimal.Decimal
		if i < len(volumes) && volumes[i].Type != gjson.Null {
			vol = decimal.NewFromInt(volumes[i].Int())
		}
		out = append(out, types.Candle{
			Timestamp: at,
			Open:      price(opens[i]),
			High:      price(highs[i]),
			Low:       price(lows[i]),
			Close:     price(closes[i]),
			Volume:    vol,
		})
	}
	return out, nil
}

// price keeps the number as sent rather than going through float64.
func price(v gjson.Result) decimal.Decimal {
	if d, err := decimal.NewFromString(v.Raw); err == nil {
		return d
	}
	return decimal.NewFromFloat(v.Float())
}

// exchangeLocation returns the exchange time zone named in the chart meta,
// falling back to its fixed GMT offset and then to UTC.
func exchangeLocation(meta gjson.Result) *time.Location {
	if name := meta.Get("exchangeTimezoneName").String(); name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	if off := meta.Get("gmtoffset"); off.Exists() {
		return time.FixedZone(meta.Get("timezone").String(), int(off.Int()))
	}
	return time.UTC
}
