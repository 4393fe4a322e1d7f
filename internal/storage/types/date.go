package types

import (
	"fmt"
	"time"
)

// Date is a UTC calendar day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the UTC calendar day containing t.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// MustParseDate is ParseDate for literals known to be valid.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Start returns 00:00:00 UTC of the day.
func (d Date) Start() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// End returns 00:00:00 UTC of the following day (exclusive bound).
func (d Date) End() time.Time {
	return d.Start().AddDate(0, 0, 1)
}

// AddDays returns the day n days later (or earlier for negative n).
func (d Date) AddDays(n int) Date {
	return DateOf(d.Start().AddDate(0, 0, n))
}

// Compare returns -1, 0 or +1.
func (d Date) Compare(o Date) int {
	return d.Start().Compare(o.Start())
}

func (d Date) Before(o Date) bool { return d.Compare(o) < 0 }
func (d Date) After(o Date) bool  { return d.Compare(o) > 0 }

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// String formats the day as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start Date
	End   Date
}

// Valid reports whether Start <= End.
func (r DateRange) Valid() bool {
	return !r.Start.After(r.End)
}

// Len returns the number of days in the range.
func (r DateRange) Len() int {
	if !r.Valid() {
		return 0
	}
	return int(r.End.Start().Sub(r.Start.Start())/(24*time.Hour)) + 1
}

// Days enumerates every day in ascending order.
func (r DateRange) Days() []Date {
	n := r.Len()
	days := make([]Date, 0, n)
	for i := 0; i < n; i++ {
		days = append(days, r.Start.AddDays(i))
	}
	return days
}

// Contains reports whether d falls inside the range.
func (r DateRange) Contains(d Date) bool {
	return !d.Before(r.Start) && !d.After(r.End)
}

// Window returns the half-open instant window [Start 00:00, End+1 00:00).
func (r DateRange) Window() (time.Time, time.Time) {
	return r.Start.Start(), r.End.End()
}

func (r DateRange) String() string {
	if r.Start == r.End {
		return r.Start.String()
	}
	return r.Start.String() + ".." + r.End.String()
}

// Coalesce merges a sorted list of days into contiguous ranges.
func Coalesce(days []Date) []DateRange {
	var out []DateRange
	for _, d := range days {
		if n := len(out); n > 0 && out[n-1].End.AddDays(1) == d {
			out[n-1].End = d
			continue
		}
		out = append(out, DateRange{Start: d, End: d})
	}
	return out
}
