// Package cache provides the local persistent cache that sits between the
// market-data fetchers and the remote API.
//
// Cached values are stored as one blob file per entry, and a metadata index
// maps each cache key to its blob and expiry. Key features:
//   - Blobs under <base>/cache/<data_type>/<cache_key>.blob, index under
//     <base>/metadata/cache_index.{db,json}
//   - Per-data-type enablement and TTL (in hours) resolved through a Policy,
//     with safe defaults when configuration is unavailable
//   - Deterministic, human-readable cache keys with an xxh3 digest
//   - Lazy eviction of expired, orphaned and corrupt entries on access, plus
//     explicit invalidation by key, ticker, data type or expiry
//   - Fail-open: Store never returns its own failures to callers; reads
//     degrade to a miss and writes to false
//
// The index is persisted through a Backend. The default bbolt backend
// records one entry per key; the JSON backend rewrites a single file. Both
// take an exclusive file lock for each load-mutate-save cycle so several
// processes can share a cache directory.
package cache
