// Package provider builds market-data clients by source name.
package provider

import (
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/xtxerr/candlecache/internal/errors"
	"github.com/xtxerr/candlecache/internal/provider/binance"
	"github.com/xtxerr/candlecache/internal/provider/yahoo"
	"github.com/xtxerr/candlecache/internal/storage/config"
	"github.com/xtxerr/candlecache/internal/storage/fetch"
	"github.com/xtxerr/candlecache/internal/storage/types"
)

// Source names as they appear in cache keys.
const (
	Binance = "BINANCE"
	Yahoo   = "YAHOO"
)

type factory func(cfg config.ProvidersConfig) fetch.Client

var factories = map[string]factory{
	Binance: func(cfg config.ProvidersConfig) fetch.Client { return binance.New(cfg.Binance) },
	Yahoo:   func(cfg config.ProvidersConfig) fetch.Client { return yahoo.New(cfg.Yahoo) },
}

// New returns the client for source. Source names are case-insensitive.
func New(source string, cfg config.ProvidersConfig) (fetch.Client, error) {
	name := types.NormalizeSource(source)
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("source %q (known: %v): %w: %w", source, Names(), errors.ErrInvalidSource, errors.ErrValidation)
	}
	return f(cfg), nil
}

// Names lists the registered sources.
func Names() []string {
	names := lo.Keys(factories)
	slices.Sort(names)
	return names
}
