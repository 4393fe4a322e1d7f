package types

import (
	"fmt"
	"time"

	"github.com/xtxerr/candlecache/internal/errors"
)

// Timeframe is a bar interval such as "1m" or "1d".
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe3m  Timeframe = "3m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe2h  Timeframe = "2h"
	Timeframe4h  Timeframe = "4h"
	Timeframe6h  Timeframe = "6h"
	Timeframe8h  Timeframe = "8h"
	Timeframe12h Timeframe = "12h"
	Timeframe1d  Timeframe = "1d"
	Timeframe3d  Timeframe = "3d"
	Timeframe1w  Timeframe = "1w"
	Timeframe1M  Timeframe = "1M"
)

// AllTimeframes lists supported timeframes from finest to coarsest.
var AllTimeframes = []Timeframe{
	Timeframe1m, Timeframe3m, Timeframe5m, Timeframe15m, Timeframe30m,
	Timeframe1h, Timeframe2h, Timeframe4h, Timeframe6h, Timeframe8h, Timeframe12h,
	Timeframe1d, Timeframe3d, Timeframe1w, Timeframe1M,
}

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe3m:  3 * time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe30m: 30 * time.Minute,
	Timeframe1h:  time.Hour,
	Timeframe2h:  2 * time.Hour,
	Timeframe4h:  4 * time.Hour,
	Timeframe6h:  6 * time.Hour,
	Timeframe8h:  8 * time.Hour,
	Timeframe12h: 12 * time.Hour,
	Timeframe1d:  24 * time.Hour,
	Timeframe3d:  3 * 24 * time.Hour,
	Timeframe1w:  7 * 24 * time.Hour,
	Timeframe1M:  30 * 24 * time.Hour,
}

// ParseTimeframe validates s against the supported set.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if err := tf.Validate(); err != nil {
		return "", err
	}
	return tf, nil
}

// Validate returns a validation error for unsupported timeframes.
func (tf Timeframe) Validate() error {
	if _, ok := timeframeDurations[tf]; !ok {
		return fmt.Errorf("timeframe %q: %w: %w", string(tf), errors.ErrInvalidTimeframe, errors.ErrValidation)
	}
	return nil
}

// Duration returns the nominal bar length. 1M is approximated as 30 days.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// BarsPerDay returns the number of bars in a full UTC day, or 1 for
// timeframes of a day or longer.
func (tf Timeframe) BarsPerDay() int {
	d := tf.Duration()
	if d <= 0 || d >= 24*time.Hour {
		return 1
	}
	return int((24 * time.Hour) / d)
}

func (tf Timeframe) String() string {
	return string(tf)
}
