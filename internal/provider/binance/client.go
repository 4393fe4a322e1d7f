// Package binance fetches spot klines from the Binance REST API.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"

	"github.com/xtxerr/candlecache/internal/errors"
	"github.com/xtxerr/candlecache/internal/logging"
	"github.com/xtxerr/candlecache/internal/storage/config"
	"github.com/xtxerr/candlecache/internal/storage/types"
)

var log = logging.Component("binance")

// pageLimit is the maximum number of klines Binance returns per request.
const pageLimit = 1000

// Binance API error codes.
const (
	codeDisconnected    = -1001
	codeTooManyRequests = -1003
	codeTimeout         = -1007
	codeBadInterval     = -1120
	codeBadSymbol       = -1121
)

// Client implements fetch.Client for Binance spot markets. Public market
// data needs no credentials.
type Client struct {
	cli *binance.Client
}

// New creates a client from cfg.
func New(cfg config.BinanceConfig) *Client {
	cli := binance.NewClient(cfg.APIKey, cfg.APISecret)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		cli.BaseURL = strings.TrimRight(base, "/")
	}
	cli.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	return &Client{cli: cli}
}

// exchangeSymbol converts "BTC/USDT" to "BTCUSDT".
func exchangeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "/", ""))
}

// Fetch returns klines opening in [start, end), paging through the API.
func (c *Client) Fetch(ctx context.Context, symbol string, tf types.Timeframe, start, end time.Time) ([]types.Candle, error) {
	if err := tf.Validate(); err != nil {
		return nil, err
	}

	sym := exchangeSymbol(symbol)
	startMs := start.UnixMilli()
	endMs := end.UnixMilli() - 1

	var out []types.Candle
	for startMs <= endMs {
		klines, err := c.cli.NewKlinesService().
			Symbol(sym).
			Interval(string(tf)).
			StartTime(startMs).
			EndTime(endMs).
			Limit(pageLimit).
			Do(ctx)
		if err != nil {
			return nil, classify(err)
		}

		for _, k := range klines {
			if k == nil || k.OpenTime > endMs {
				continue
			}
			candle, err := toCandle(k)
			if err != nil {
				return nil, fmt.Errorf("binance %s kline %d: %w", sym, k.OpenTime, err)
			}
			out = append(out, candle)
		}

		if len(klines) < pageLimit {
			break
		}
		next := klines[len(klines)-1].OpenTime + 1
		if next <= startMs {
			break
		}
		startMs = next
	}

	log.Debug("klines fetched", "symbol", sym, "timeframe", string(tf), "rows", len(out))
	return out, nil
}

func toCandle(k *binance.Kline) (types.Candle, error) {
	fields := [5]string{k.Open, k.High, k.Low, k.Close, k.Volume}
	var vals [5]decimal.Decimal
	for i, s := range fields {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return types.Candle{}, err
		}
		vals[i] = d
	}
	return types.Candle{
		Timestamp: time.UnixMilli(k.OpenTime).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

// classify maps SDK and transport errors onto the fetch sentinels.
func classify(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeBadSymbol:
			return fmt.Errorf("binance: %s: %w", apiErr.Message, errors.ErrInvalidSymbol)
		case codeBadInterval:
			return fmt.Errorf("binance: %s: %w", apiErr.Message, errors.ErrInvalidTimeframe)
		case codeTooManyRequests:
			return fmt.Errorf("binance: %s: %w", apiErr.Message, errors.ErrRateLimited)
		case codeTimeout:
			return fmt.Errorf("binance: %s: %w", apiErr.Message, errors.ErrTimeout)
		case codeDisconnected:
			return fmt.Errorf("binance: %s: %w", apiErr.Message, errors.ErrTransient)
		}
		return fmt.Errorf("binance: code %d: %s: %w", apiErr.Code, apiErr.Message, errors.ErrUpstream)
	}

	if errors.IsRetriable(err) {
		return err
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("binance: %w: %w", errors.ErrTransient, err)
	}
	return fmt.Errorf("binance: %w", err)
}
