package marketdata

import (
	"context"
	"errors"
	"sync"

	"github.com/rshade/tickerscope/internal/logging"
)

// DefaultPrefetchConcurrency is the number of loads Prefetch runs at once
// when the caller passes a non-positive limit.
const DefaultPrefetchConcurrency = 4

// PrefetchSummary counts the outcome of a Prefetch run.
type PrefetchSummary struct {
	Requested int
	FromCache int
	Fetched   int
	Failed    int
}

// Prefetch loads every request through the cache with at most concurrency
// loads in flight, so later lookups for the same requests are cache hits.
// A failed request does not stop the others; all failures are joined into
// the returned error. Cancelling ctx stops requests that have not started.
func (c *CachedSource) Prefetch(ctx context.Context, reqs []Request, concurrency int) (PrefetchSummary, error) {
	summary := PrefetchSummary{Requested: len(reqs)}
	if len(reqs) == 0 {
		return summary, nil
	}
	if concurrency < 1 {
		concurrency = DefaultPrefetchConcurrency
	}

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	sem := make(chan struct{}, concurrency)

	record := func(res Result, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			summary.Failed++
			errs = append(errs, err)
		case res.FromCache:
			summary.FromCache++
		default:
			summary.Fetched++
		}
	}

	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			record(Result{}, err)
			continue
		}
		select {
		case <-ctx.Done():
			record(Result{}, ctx.Err())
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			record(c.Load(ctx, req))
		}()
	}
	wg.Wait()

	logging.FromContext(ctx).Debug().
		Str("component", "marketdata").
		Int("requested", summary.Requested).
		Int("from_cache", summary.FromCache).
		Int("fetched", summary.Fetched).
		Int("failed", summary.Failed).
		Msg("prefetch finished")

	return summary, errors.Join(errs...)
}
