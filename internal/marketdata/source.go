// Package marketdata connects market-data fetchers to the persistent cache.
//
// Fetchers implement Source. CachedSource wraps one with read-through
// caching: a cache hit skips the fetch, a miss fetches and stores the result.
// Cache failures never fail a fetch.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rshade/tickerscope/internal/cache"
	"github.com/rshade/tickerscope/internal/logging"
	"github.com/rshade/tickerscope/internal/payload"
)

// Request errors.
var (
	ErrInvalidRequest = errors.New("invalid market data request")
	ErrNoData         = errors.New("source returned no data")
)

// Request identifies the dataset a caller wants.
type Request struct {
	Ticker    string
	DataType  payload.DataType
	Frequency payload.Frequency
	Period    string

	// Extra carries source-specific parameters that change the result,
	// e.g. an adjusted-prices flag. They are part of the cache key.
	Extra map[string]string
}

// KeyParams converts r into cache key parameters.
func (r Request) KeyParams() cache.KeyParams {
	return cache.KeyParams{
		Ticker:    r.Ticker,
		DataType:  r.DataType,
		Frequency: string(r.Frequency),
		Period:    r.Period,
		Extra:     r.Extra,
	}
}

func (r Request) validate() error {
	if strings.TrimSpace(r.Ticker) == "" {
		return fmt.Errorf("%w: ticker is required", ErrInvalidRequest)
	}
	if r.DataType == "" {
		return fmt.Errorf("%w: data type is required", ErrInvalidRequest)
	}
	return nil
}

// Source fetches fresh data from a remote provider.
type Source interface {
	Fetch(ctx context.Context, req Request) (payload.Value, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, req Request) (payload.Value, error)

// Fetch implements Source.
func (f SourceFunc) Fetch(ctx context.Context, req Request) (payload.Value, error) {
	return f(ctx, req)
}

// Cache is the subset of *cache.Store used by CachedSource.
type Cache interface {
	Get(ctx context.Context, p cache.KeyParams) (payload.Value, bool)
	Put(ctx context.Context, p cache.KeyParams, value payload.Value) bool
}

// Result is a fetched value and where it came from.
type Result struct {
	Value     payload.Value
	FromCache bool
}

// CachedSource is a read-through cache in front of a Source.
type CachedSource struct {
	source Source
	cache  Cache
}

// NewCachedSource wraps source with store.
func NewCachedSource(source Source, store Cache) *CachedSource {
	return &CachedSource{source: source, cache: store}
}

// Fetch implements Source.
func (c *CachedSource) Fetch(ctx context.Context, req Request) (payload.Value, error) {
	res, err := c.Load(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// Load returns the cached value for req, or fetches and caches a fresh one.
func (c *CachedSource) Load(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}

	log := logging.FromContext(ctx).With().
		Str("component", "marketdata").
		Str("ticker", req.Ticker).
		Str("data_type", string(req.DataType)).
		Logger()

	params := req.KeyParams()
	if v, ok := c.cache.Get(ctx, params); ok {
		log.Debug().Msg("using cached data")
		return Result{Value: v, FromCache: true}, nil
	}

	log.Debug().Msg("cache miss, fetching from source")
	v, err := c.source.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetching %s for %s: %w", req.DataType, req.Ticker, err)
	}
	if v == nil {
		return Result{}, fmt.Errorf("fetching %s for %s: %w", req.DataType, req.Ticker, ErrNoData)
	}

	if !c.cache.Put(ctx, params, v) {
		log.Debug().Msg("fetched data was not cached")
	}
	return Result{Value: v}, nil
}
