package main

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/xtxerr/candlecache/internal/storage"
	"github.com/xtxerr/candlecache/internal/storage/types"
)

var csvHeader = []string{"timestamp", "open", "high", "low", "close", "volume"}

func writeSeries(w io.Writer, format string, s *storage.Series) error {
	bw := bufio.NewWriter(w)
	var err error
	switch format {
	case "json":
		err = writeSeriesJSON(bw, s)
	default:
		err = writeSeriesCSV(bw, s)
	}
	if err != nil {
		return err
	}
	return bw.Flush()
}

func writeSeriesCSV(w io.Writer, s *storage.Series) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for c := range s.All() {
		rec := []string{
			c.Timestamp.UTC().Format(time.RFC3339),
			c.Open.String(),
			c.High.String(),
			c.Low.String(),
			c.Close.String(),
			c.Volume.String(),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type candleJSON struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

type seriesJSON struct {
	Key        string       `json:"key"`
	Start      string       `json:"start"`
	End        string       `json:"end"`
	Fetched    int          `json:"fetched_ranges"`
	Unresolved []string     `json:"unresolved,omitempty"`
	Candles    []candleJSON `json:"candles"`
}

func writeSeriesJSON(w io.Writer, s *storage.Series) error {
	out := seriesJSON{
		Key:     s.Key.String(),
		Start:   s.Range.Start.String(),
		End:     s.Range.End.String(),
		Fetched: s.Fetched,
		Unresolved: lo.Map(s.Unresolved, func(r types.DateRange, _ int) string {
			return r.String()
		}),
		Candles: lo.Map(s.Candles, func(c types.Candle, _ int) candleJSON {
			return candleJSON(c)
		}),
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

type coverageJSON struct {
	Source     string `json:"source"`
	Symbol     string `json:"symbol"`
	Timeframe  string `json:"timeframe"`
	DaysCached int64  `json:"days_cached"`
	FirstDate  string `json:"first_date"`
	LastDate   string `json:"last_date"`
	TotalRows  int64  `json:"total_rows"`
}

func writeCoverageJSON(w io.Writer, info []types.CoverageSummary) error {
	out := lo.Map(info, func(s types.CoverageSummary, _ int) coverageJSON {
		return coverageJSON{
			Source:     s.Key.Source,
			Symbol:     s.Key.Symbol,
			Timeframe:  s.Key.Timeframe.String(),
			DaysCached: s.DaysCached,
			FirstDate:  s.FirstDate.String(),
			LastDate:   s.LastDate.String(),
			TotalRows:  s.TotalRows,
		}
	})
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode coverage: %w", err)
	}
	return nil
}
