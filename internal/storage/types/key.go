package types

import (
	"path/filepath"
	"strings"

	"github.com/xtxerr/candlecache/internal/errors"
)

// CacheKey identifies one logical series.
type CacheKey struct {
	Source    string
	Symbol    string
	Timeframe Timeframe
}

// NewCacheKey normalizes and validates a key. Source and symbol are
// upper-cased and trimmed.
func NewCacheKey(source, symbol, timeframe string) (CacheKey, error) {
	k := CacheKey{
		Source:    NormalizeSource(source),
		Symbol:    strings.ToUpper(strings.TrimSpace(symbol)),
		Timeframe: Timeframe(strings.TrimSpace(timeframe)),
	}
	if err := k.Validate(); err != nil {
		return CacheKey{}, err
	}
	return k, nil
}

// NormalizeSource upper-cases a provider name.
func NormalizeSource(source string) string {
	return strings.ToUpper(strings.TrimSpace(source))
}

// Validate checks that every component is present and path safe.
func (k CacheKey) Validate() error {
	v := errors.NewValidationErrors()

	if k.Source == "" {
		v.AddMissing("source")
	} else if strings.ContainsAny(k.Source, `/\.`) {
		v.Add(errors.NewInvalidValue("source", k.Source, "must not contain path separators or dots"))
	}

	switch {
	case k.Symbol == "":
		v.Add(errors.NewMissingField("symbol"))
	case strings.Contains(k.Symbol, `\`) || strings.Contains(k.Symbol, ".."):
		v.Add(errors.NewInvalidValue("symbol", k.Symbol, "contains illegal path characters"))
	}

	if k.Timeframe == "" {
		v.AddMissing("timeframe")
	} else {
		v.Add(k.Timeframe.Validate())
	}

	return v.Err()
}

// PathSymbol returns the symbol as used in directory names ("/" -> "_").
func (k CacheKey) PathSymbol() string {
	return strings.ReplaceAll(k.Symbol, "/", "_")
}

// Dir returns the series directory relative to the candles root.
func (k CacheKey) Dir() string {
	return filepath.Join(k.Source, k.PathSymbol(), string(k.Timeframe))
}

// String returns SOURCE/SYMBOL/TF.
func (k CacheKey) String() string {
	return k.Source + "/" + k.Symbol + "/" + string(k.Timeframe)
}
