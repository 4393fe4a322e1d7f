package gap

import (
	"context"
	"fmt"
	"testing"

	"github.com/xtxerr/candlecache/internal/errors"
	"github.com/xtxerr/candlecache/internal/storage/types"
)

type fakeCoverage struct {
	records []types.CoverageRecord
	err     error
}

func (f *fakeCoverage) QueryCoverage(_ context.Context, key types.CacheKey, r types.DateRange) ([]types.CoverageRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []types.CoverageRecord
	for _, rec := range f.records {
		if rec.Key == key && r.Contains(rec.Date) {
			out = append(out, rec)
		}
	}
	return out, nil
}

var key = types.CacheKey{Source: "YAHOO", Symbol: "AAPL", Timeframe: types.Timeframe1d}

func rec(day string, status types.CoverageStatus) types.CoverageRecord {
	return types.CoverageRecord{Key: key, Date: types.MustParseDate(day), Status: status}
}

func window(start, end string) types.DateRange {
	return types.DateRange{Start: types.MustParseDate(start), End: types.MustParseDate(end)}
}

func rangeStrings(rs []types.DateRange) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.String()
	}
	return out
}

func TestMissingRanges(t *testing.T) {
	tests := []struct {
		name    string
		records []types.CoverageRecord
		window  types.DateRange
		want    []string
	}{
		{
			name:   "empty catalog returns whole window",
			window: window("2024-01-01", "2024-01-10"),
			want:   []string{"2024-01-01..2024-01-10"},
		},
		{
			name: "fully covered",
			records: []types.CoverageRecord{
				rec("2024-01-01", types.StatusComplete),
				rec("2024-01-02", types.StatusCompleteEmpty),
			},
			window: window("2024-01-01", "2024-01-02"),
			want:   []string{},
		},
		{
			name: "holes are merged into maximal runs",
			records: []types.CoverageRecord{
				rec("2024-01-03", types.StatusComplete),
				rec("2024-01-04", types.StatusComplete),
				rec("2024-01-07", types.StatusCompleteEmpty),
			},
			window: window("2024-01-01", "2024-01-10"),
			want:   []string{"2024-01-01..2024-01-02", "2024-01-05..2024-01-06", "2024-01-08..2024-01-10"},
		},
		{
			name: "explicit missing status is a gap",
			records: []types.CoverageRecord{
				rec("2024-01-01", types.StatusComplete),
				rec("2024-01-02", types.StatusMissing),
				rec("2024-01-03", types.StatusComplete),
			},
			window: window("2024-01-01", "2024-01-03"),
			want:   []string{"2024-01-02"},
		},
		{
			name:    "single day window",
			records: []types.CoverageRecord{rec("2023-12-31", types.StatusComplete)},
			window:  window("2024-01-01", "2024-01-01"),
			want:    []string{"2024-01-01"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(&fakeCoverage{records: tt.records})
			got, err := r.MissingRanges(context.Background(), key, tt.window)
			if err != nil {
				t.Fatalf("MissingRanges: %v", err)
			}
			gs := rangeStrings(got)
			if len(gs) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, gs)
			}
			for i := range gs {
				if gs[i] != tt.want[i] {
					t.Errorf("range %d: expected %s, got %s", i, tt.want[i], gs[i])
				}
			}
		})
	}
}

func TestMissingRangesNeverReturnsCoveredDays(t *testing.T) {
	var records []types.CoverageRecord
	w := window("2024-02-01", "2024-03-31")
	for i, d := range w.Days() {
		switch i % 5 {
		case 0:
			records = append(records, types.CoverageRecord{Key: key, Date: d, Status: types.StatusComplete})
		case 3:
			records = append(records, types.CoverageRecord{Key: key, Date: d, Status: types.StatusCompleteEmpty})
		}
	}
	covered := make(map[types.Date]bool)
	for _, r := range records {
		covered[r.Date] = true
	}

	r := NewResolver(&fakeCoverage{records: records})
	ranges, err := r.MissingRanges(context.Background(), key, w)
	if err != nil {
		t.Fatal(err)
	}

	seen := 0
	for i, rg := range ranges {
		if i > 0 && !ranges[i-1].End.Before(rg.Start.AddDays(-1)) {
			t.Errorf("ranges %s and %s are adjacent or overlapping", ranges[i-1], rg)
		}
		for _, d := range rg.Days() {
			if covered[d] {
				t.Errorf("covered day %s returned as missing", d)
			}
			seen++
		}
	}
	if seen+len(records) != w.Len() {
		t.Errorf("missing+covered = %d, want %d", seen+len(records), w.Len())
	}
}

func TestCoverageReportsEveryDay(t *testing.T) {
	r := NewResolver(&fakeCoverage{records: []types.CoverageRecord{rec("2024-01-02", types.StatusCompleteEmpty)}})
	st, err := r.Coverage(context.Background(), key, window("2024-01-01", "2024-01-03"))
	if err != nil {
		t.Fatal(err)
	}
	want := []types.CoverageStatus{types.StatusMissing, types.StatusCompleteEmpty, types.StatusMissing}
	for i := range want {
		if st[i].Status != want[i] {
			t.Errorf("day %d: expected %s, got %s", i, want[i], st[i].Status)
		}
	}
}

func TestResolverErrors(t *testing.T) {
	r := NewResolver(&fakeCoverage{err: fmt.Errorf("boom")})
	if _, err := r.MissingRanges(context.Background(), key, window("2024-01-01", "2024-01-02")); err == nil {
		t.Error("expected catalog error to propagate")
	}

	r = NewResolver(&fakeCoverage{})
	if _, err := r.MissingRanges(context.Background(), key, window("2024-01-05", "2024-01-01")); !errors.Is(err, errors.ErrInvalidRange) {
		t.Errorf("expected invalid range, got %v", err)
	}
}
