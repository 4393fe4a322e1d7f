// Package metrics exposes Prometheus instrumentation for the cache.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records cache metrics. A nil *Recorder is valid and records
// nothing.
type Recorder struct {
	fetchAttempts  *prometheus.CounterVec
	fetchResults   *prometheus.CounterVec
	daysCommitted  *prometheus.CounterVec
	rowsWritten    *prometheus.CounterVec
	cacheHitDays   *prometheus.CounterVec
	integrity      prometheus.Counter
	filesRemoved   *prometheus.CounterVec
	seriesDuration *prometheus.HistogramVec
}

// New creates a Recorder registered with reg. Pass prometheus.DefaultRegisterer
// in the binary and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		fetchAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candlecache_fetch_attempts_total",
				Help: "Provider calls issued, including retries",
			},
			[]string{"source"},
		),
		fetchResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candlecache_fetch_ranges_total",
				Help: "Gap ranges fetched, by final outcome",
			},
			[]string{"source", "outcome"},
		),
		daysCommitted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candlecache_days_committed_total",
				Help: "Day partitions committed to the catalog",
			},
			[]string{"source", "status"},
		),
		rowsWritten: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candlecache_rows_written_total",
				Help: "Candle rows written to partitions after merge",
			},
			[]string{"source"},
		),
		cacheHitDays: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candlecache_cache_hit_days_total",
				Help: "Requested days served without fetching",
			},
			[]string{"source"},
		),
		integrity: f.NewCounter(
			prometheus.CounterOpts{
				Name: "candlecache_integrity_errors_total",
				Help: "Catalog and partition inconsistencies detected",
			},
		),
		filesRemoved: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candlecache_files_removed_total",
				Help: "Partition files unlinked by clear or vacuum",
			},
			[]string{"reason"},
		),
		seriesDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "candlecache_get_series_duration_seconds",
				Help:    "Duration of series requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source", "result"},
		),
	}
}

// RecordFetchAttempt counts one provider call.
func (r *Recorder) RecordFetchAttempt(source string) {
	if r == nil {
		return
	}
	r.fetchAttempts.WithLabelValues(source).Inc()
}

// RecordFetchResult counts a finished range fetch ("success" or "failure").
func (r *Recorder) RecordFetchResult(source, outcome string) {
	if r == nil {
		return
	}
	r.fetchResults.WithLabelValues(source, outcome).Inc()
}

// RecordDayCommitted counts a committed day partition.
func (r *Recorder) RecordDayCommitted(source, status string, rows int64) {
	if r == nil {
		return
	}
	r.daysCommitted.WithLabelValues(source, status).Inc()
	r.rowsWritten.WithLabelValues(source).Add(float64(rows))
}

// RecordCacheHits counts requested days that needed no fetch.
func (r *Recorder) RecordCacheHits(source string, days int) {
	if r == nil || days <= 0 {
		return
	}
	r.cacheHitDays.WithLabelValues(source).Add(float64(days))
}

// RecordIntegrityError counts a detected inconsistency.
func (r *Recorder) RecordIntegrityError() {
	if r == nil {
		return
	}
	r.integrity.Inc()
}

// RecordFilesRemoved counts unlinked files.
func (r *Recorder) RecordFilesRemoved(reason string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.filesRemoved.WithLabelValues(reason).Add(float64(n))
}

// RecordSeries observes a series request latency in seconds.
func (r *Recorder) RecordSeries(source, result string, seconds float64) {
	if r == nil {
		return
	}
	r.seriesDuration.WithLabelValues(source, result).Observe(seconds)
}

// FetchAttempts returns the attempt counter for source; used by tests and
// status output.
func (r *Recorder) FetchAttempts(source string) prometheus.Counter {
	return r.fetchAttempts.WithLabelValues(source)
}

// FetchResults returns the range outcome counter.
func (r *Recorder) FetchResults(source, outcome string) prometheus.Counter {
	return r.fetchResults.WithLabelValues(source, outcome)
}

// DaysCommitted returns the committed-days counter.
func (r *Recorder) DaysCommitted(source, status string) prometheus.Counter {
	return r.daysCommitted.WithLabelValues(source, status)
}

// CacheHitDays returns the cache-hit counter.
func (r *Recorder) CacheHitDays(source string) prometheus.Counter {
	return r.cacheHitDays.WithLabelValues(source)
}
