package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	defaults "github.com/xtxerr/candlecache/config"
	"github.com/xtxerr/candlecache/internal/errors"
	"github.com/xtxerr/candlecache/internal/provider"
	"github.com/xtxerr/candlecache/internal/storage"
	"github.com/xtxerr/candlecache/internal/storage/fetch"
	"github.com/xtxerr/candlecache/internal/storage/retention"
	"github.com/xtxerr/candlecache/internal/storage/types"
)

// newClient resolves a provider; tests swap it for a fake.
var newClient = provider.New

// now is the clock used for the default end date.
var now = time.Now

func newFlagSet(e *env, name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}

func parse(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return err
		}
		return usagef("%s: %v", fs.Name(), err)
	}
	if fs.NArg() > 0 {
		return usagef("%s: unexpected arguments %v", fs.Name(), fs.Args())
	}
	return nil
}

func filterFlags(fs *pflag.FlagSet) *types.Filter {
	f := &types.Filter{}
	fs.StringVar(&f.Source, "source", "", "provider name, e.g. binance or yahoo")
	fs.StringVar(&f.Symbol, "symbol", "", "instrument symbol")
	fs.Var(newTimeframeValue(&f.Timeframe), "timeframe", "bar timeframe, e.g. 1h or 1d")
	return f
}

// timeframeValue validates --timeframe at parse time.
type timeframeValue struct{ tf *types.Timeframe }

func newTimeframeValue(tf *types.Timeframe) *timeframeValue { return &timeframeValue{tf: tf} }

func (v *timeframeValue) String() string {
	if v.tf == nil {
		return ""
	}
	return string(*v.tf)
}

func (v *timeframeValue) Set(s string) error {
	tf, err := types.ParseTimeframe(s)
	if err != nil {
		return err
	}
	*v.tf = tf
	return nil
}

func (v *timeframeValue) Type() string { return "timeframe" }

func openService(ctx context.Context, e *env) (*storage.Service, error) {
	return storage.Open(ctx, e.cfg)
}

// openReader opens the cache without the writer lock. A catalog that does
// not exist yet cannot be opened read-only, so it is created instead.
func openReader(ctx context.Context, e *env) (*storage.Service, error) {
	cfg := *e.cfg
	if _, err := os.Stat(cfg.CatalogPath()); err == nil {
		cfg.Catalog.ReadOnly = true
	}
	return storage.Open(ctx, &cfg)
}

func runGet(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "get")
	source := fs.String("source", "", "provider name ("+strings.Join(provider.Names(), ", ")+")")
	symbol := fs.String("symbol", "", "instrument symbol, e.g. BTC/USDT or AAPL")
	timeframe := fs.String("timeframe", "1d", "bar timeframe")
	start := fs.String("start", defaults.DefaultStartDate, "first day, YYYY-MM-DD (UTC)")
	end := fs.String("end", "", "last day, YYYY-MM-DD (UTC, default today)")
	format := fs.String("format", "csv", "output format: csv or json")
	if err := parse(fs, args); err != nil {
		return err
	}

	if *format != "csv" && *format != "json" {
		return usagef("get: unknown format %q", *format)
	}
	if *source == "" || *symbol == "" {
		return usagef("get: --source and --symbol are required")
	}

	req := storage.Request{Source: *source, Symbol: *symbol, Timeframe: *timeframe}
	var err error
	if req.Start, err = types.ParseDate(*start); err != nil {
		return usagef("get: --start: %v", err)
	}
	req.End = types.DateOf(now())
	if *end != "" {
		if req.End, err = types.ParseDate(*end); err != nil {
			return usagef("get: --end: %v", err)
		}
	}

	var client fetch.Client
	if client, err = newClient(*source, e.cfg.Providers); err != nil {
		return err
	}

	svc, err := openService(ctx, e)
	if err != nil {
		return err
	}
	defer svc.Close()

	series, err := svc.GetSeries(ctx, req, client)
	if series == nil {
		return err
	}
	if werr := writeSeries(e.stdout, *format, series); werr != nil {
		return werr
	}
	return err
}

func runCoverage(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "coverage")
	filter := filterFlags(fs)
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	if err := parse(fs, args); err != nil {
		return err
	}

	svc, err := openReader(ctx, e)
	if err != nil {
		return err
	}
	defer svc.Close()

	info, err := svc.CoverageInfo(ctx, *filter)
	if err != nil {
		return err
	}
	if *asJSON {
		return writeCoverageJSON(e.stdout, info)
	}

	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tSYMBOL\tTIMEFRAME\tDAYS\tFIRST\tLAST\tROWS")
	for _, s := range info {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%d\n",
			s.Key.Source, s.Key.Symbol, s.Key.Timeframe, s.DaysCached, s.FirstDate, s.LastDate, s.TotalRows)
	}
	return tw.Flush()
}

func runClear(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "clear")
	filter := filterFlags(fs)
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	if err := parse(fs, args); err != nil {
		return err
	}

	if !*yes {
		target := "the whole cache"
		if !filter.IsEmpty() {
			target = describeFilter(*filter)
		}
		if !isTerminal() {
			return usagef("clear: refusing to remove %s without --yes", target)
		}
		if !confirm(fmt.Sprintf("remove %s? [y/N] ", target)) {
			fmt.Fprintln(e.stdout, "aborted")
			return nil
		}
	}

	svc, err := openService(ctx, e)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.ClearCache(ctx, *filter)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "removed %d partitions, %d files, %s\n",
		res.Partitions, res.FilesRemoved, retention.FormatBytes(res.BytesFreed))
	if len(res.Errors) > 0 {
		return fmt.Errorf("clear: %d files could not be removed: %w", len(res.Errors), errors.Join(res.Errors...))
	}
	return nil
}

func runVacuum(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "vacuum")
	dryRun := fs.Bool("dry-run", false, "report what would be removed")
	if err := parse(fs, args); err != nil {
		return err
	}

	svc, err := openService(ctx, e)
	if err != nil {
		return err
	}
	defer svc.Close()

	results, err := svc.Vacuum(ctx, *dryRun)
	if err != nil {
		return err
	}

	verb := "removed"
	if *dryRun {
		verb = "would remove"
	}
	var errs []error
	for _, r := range results {
		fmt.Fprintf(e.stdout, "%-10s %s %d files (%s), skipped %d\n",
			r.Reason, verb, r.FilesDeleted, retention.FormatBytes(r.BytesFreed), r.FilesSkipped)
		if *dryRun {
			for _, p := range r.Paths {
				fmt.Fprintf(e.stdout, "  %s\n", p)
			}
		}
		errs = append(errs, r.Errors...)
	}
	return errors.Join(errs...)
}

func runStats(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "stats")
	if err := parse(fs, args); err != nil {
		return err
	}

	svc, err := openReader(ctx, e)
	if err != nil {
		return err
	}
	defer svc.Close()

	st, err := svc.Stats(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(e.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Uptime string `json:"uptime"`
		storage.ServiceStats
	}{Uptime: st.Uptime.Round(time.Millisecond).String(), ServiceStats: st})
}

func describeFilter(f types.Filter) string {
	var parts []string
	if f.Source != "" {
		parts = append(parts, "source="+f.Source)
	}
	if f.Symbol != "" {
		parts = append(parts, "symbol="+f.Symbol)
	}
	if f.Timeframe != "" {
		parts = append(parts, "timeframe="+string(f.Timeframe))
	}
	return strings.Join(parts, " ")
}
