package fetch

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"

	"github.com/xtxerr/candlecache/internal/errors"
	"github.com/xtxerr/candlecache/internal/logging"
	"github.com/xtxerr/candlecache/internal/storage/metrics"
	"github.com/xtxerr/candlecache/internal/storage/types"
)

var log = logging.Component("fetch")

// Options configures retries and pacing.
type Options struct {
	// MaxAttempts is the total number of calls per range, including the first.
	MaxAttempts int

	// BaseDelay, MaxDelay and Multiplier shape the exponential backoff.
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64

	// Jitter randomizes each delay between BaseDelay and the computed value.
	Jitter bool

	// AttemptTimeout bounds one provider call (0 = no bound).
	AttemptTimeout time.Duration

	// RateLimitPerMin paces provider calls (0 = unlimited).
	RateLimitPerMin int

	// Burst is the limiter bucket size.
	Burst int
}

// DefaultOptions returns default fetch options.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:     3,
		BaseDelay:       500 * time.Millisecond,
		MaxDelay:        30 * time.Second,
		Multiplier:      2,
		Jitter:          true,
		AttemptTimeout:  30 * time.Second,
		RateLimitPerMin: 600,
		Burst:           5,
	}
}

// Fetcher wraps a Client call with rate limiting, per-attempt timeouts and
// retries of transient failures.
//
// Fetcher is safe for concurrent use; the rate limiter is shared by all
// callers.
type Fetcher struct {
	opts    Options
	limiter *rate.Limiter
	metrics *metrics.Recorder
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a Fetcher. rec may be nil.
func New(opts Options, rec *metrics.Recorder) *Fetcher {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Multiplier < 1 {
		opts.Multiplier = 2
	}

	limit := rate.Inf
	burst := opts.Burst
	if opts.RateLimitPerMin > 0 {
		limit = rate.Limit(float64(opts.RateLimitPerMin) / 60.0)
		if burst < 1 {
			burst = 1
		}
	}

	return &Fetcher{
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
		metrics: rec,
		sleep:   sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Fetch retrieves candles for the days in r, i.e. the instant window
// [r.Start 00:00 UTC, r.End+1 00:00 UTC). Terminal failures and exhausted
// retries are returned as *errors.FetchError naming r.
func (f *Fetcher) Fetch(ctx context.Context, client Client, key types.CacheKey, r types.DateRange) ([]types.Candle, error) {
	start, end := r.Window()

	b := &backoff.Backoff{
		Min:    f.opts.BaseDelay,
		Max:    f.opts.MaxDelay,
		Factor: f.opts.Multiplier,
		Jitter: f.opts.Jitter,
	}

	fail := func(attempts int, err error) error {
		f.metrics.RecordFetchResult(key.Source, "failure")
		return &errors.FetchError{
			Key:      key.String(),
			Start:    r.Start.Start(),
			End:      r.End.Start(),
			Attempts: attempts,
			Err:      err,
		}
	}

	var lastErr error
	for attempt := 1; attempt <= f.opts.MaxAttempts; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fail(attempt-1, err)
		}

		f.metrics.RecordFetchAttempt(key.Source)
		candles, err := f.call(ctx, client, key, start, end)
		if err == nil {
			if attempt > 1 {
				log.Info("fetch succeeded after retry", "key", key.String(), "range", r.String(), "attempt", attempt)
			}
			f.metrics.RecordFetchResult(key.Source, "success")
			return candles, nil
		}
		lastErr = err

		// Parent cancellation ends the loop regardless of classification.
		if ctx.Err() != nil {
			return nil, fail(attempt, ctx.Err())
		}

		if !errors.IsRetriable(err) {
			log.Warn("fetch failed permanently",
				"key", key.String(), "range", r.String(), "attempt", attempt, "error", err)
			return nil, fail(attempt, err)
		}

		if attempt == f.opts.MaxAttempts {
			break
		}

		delay := b.Duration()
		log.Warn("fetch attempt failed, retrying",
			"key", key.String(), "range", r.String(), "attempt", attempt, "delay", delay, "error", err)

		if err := f.sleep(ctx, delay); err != nil {
			return nil, fail(attempt, err)
		}
	}

	log.Error("fetch retries exhausted",
		"key", key.String(), "range", r.String(), "attempts", f.opts.MaxAttempts, "error", lastErr)
	return nil, fail(f.opts.MaxAttempts, lastErr)
}

// call performs one provider call under the per-attempt timeout.
func (f *Fetcher) call(ctx context.Context, client Client, key types.CacheKey, start, end time.Time) ([]types.Candle, error) {
	if f.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.AttemptTimeout)
		defer cancel()
	}

	candles, err := client.Fetch(ctx, key.Symbol, key.Timeframe, start, end)
	if err != nil && ctx.Err() == context.DeadlineExceeded && !errors.IsRetriable(err) {
		// The attempt ran out of time even if the client reported something else.
		return nil, errors.Wrap(errors.ErrTimeout, err.Error())
	}
	return candles, err
}
