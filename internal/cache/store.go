package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rshade/tickerscope/internal/logging"
	"github.com/rshade/tickerscope/internal/payload"
)

const (
	// dirPerm is used for every directory the store creates.
	dirPerm = 0o750

	// filePerm is used for blobs and index files.
	filePerm = 0o600

	// blobExtension is the file extension of data blobs.
	blobExtension = ".blob"

	// blobDirName holds one subdirectory per data type.
	blobDirName = "cache"

	// metadataDirName holds the index.
	metadataDirName = "metadata"

	// DefaultLockTimeout bounds how long an index save waits for another
	// process to release the index.
	DefaultLockTimeout = 5 * time.Second
)

// Store is the persistent cache. It never returns its own failures to
// callers: lookups degrade to a miss and writes to false, and the cause is
// logged. Store is safe for concurrent use.
type Store struct {
	// mu serializes every operation that touches the index or blobs.
	mu sync.Mutex

	policy      Policy
	baseDir     string
	index       *Index
	backendName string
	compress    bool
	lockTimeout time.Duration
	knownTypes  map[payload.DataType]bool
	now         func() time.Time
	logger      zerolog.Logger
	stats       counters

	// ready is false when the cache directories could not be created.
	ready bool
}

// Option configures a Store.
type Option func(*Store)

// WithIndexBackend selects the index backend, BackendBolt or BackendJSON.
// Unknown names fall back to BackendBolt.
func WithIndexBackend(name string) Option {
	return func(s *Store) {
		s.backendName = name
	}
}

// WithCompression gzips blobs on write. Reads accept both forms.
func WithCompression(enabled bool) Option {
	return func(s *Store) {
		s.compress = enabled
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the base logger. The default is the logger on the context
// passed to New.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logging.ComponentLogger(logger, "cache")
	}
}

// WithLockTimeout bounds how long index operations wait for the index lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// New opens the cache rooted at policy.Directory(), creating one blob
// directory per known data type and loading the index.
//
// New does not fail. If the directories cannot be created the returned store
// misses on every lookup and rejects every write.
func New(ctx context.Context, policy Policy, opts ...Option) *Store {
	s := &Store{
		policy:      policy,
		backendName: BackendBolt,
		lockTimeout: DefaultLockTimeout,
		knownTypes:  make(map[payload.DataType]bool),
		now:         time.Now,
		logger:      logging.ComponentLogger(*logging.FromContext(ctx), "cache"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.baseDir = filepath.Clean(policy.Directory())
	metadataDir := filepath.Join(s.baseDir, metadataDirName)

	var backend Backend
	switch s.backendName {
	case BackendJSON:
		backend = NewJSONBackend(metadataDir, s.lockTimeout, s.logger)
	default:
		s.backendName = BackendBolt
		backend = NewBoltBackend(metadataDir, s.lockTimeout, s.logger)
	}
	s.index = NewIndex(backend, s.logger)

	if err := s.createDirectories(metadataDir); err != nil {
		s.logger.Error().
			Err(err).
			Str("cache_dir", s.baseDir).
			Msg("cache directory unavailable, caching disabled for this run")
		return s
	}
	s.ready = true

	if err := s.index.Load(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("continuing with an empty cache index")
	}

	s.logger.Debug().
		Str("cache_dir", s.baseDir).
		Str("index_backend", s.backendName).
		Int("entries", s.index.Len()).
		Msg("cache store opened")
	return s
}

func (s *Store) createDirectories(metadataDir string) error {
	if err := os.MkdirAll(metadataDir, dirPerm); err != nil {
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	for _, dt := range s.policy.KnownDataTypes() {
		if err := os.MkdirAll(s.typeDir(dt), dirPerm); err != nil {
			return fmt.Errorf("%w: %w", ErrIOFailure, err)
		}
		s.knownTypes[dt] = true
	}
	return nil
}

// Get returns the cached value for p. The second result is false on a miss,
// which includes disabled data types, expired entries, missing blobs and
// blobs that fail to decode. Entries found stale or broken are evicted.
func (s *Store) Get(ctx context.Context, p KeyParams) (payload.Value, bool) {
	p.DataType = payload.Normalize(string(p.DataType))
	log := s.log(ctx)

	if !s.policy.Enabled(p.DataType) {
		s.stats.misses.Add(1)
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		s.stats.misses.Add(1)
		return nil, false
	}

	key := GenerateKey(p)
	entry, ok := s.index.Get(key)
	if !ok {
		log.Debug().Str("cache_key", key).Msg("cache miss")
		s.stats.misses.Add(1)
		return nil, false
	}

	if entry.IsExpiredAt(s.now()) {
		log.Debug().Str("cache_key", key).Time("expires_at", entry.ExpiresAt).Msg("cache entry expired")
		s.evictLocked(ctx, entry)
		s.stats.misses.Add(1)
		return nil, false
	}

	blob, err := os.ReadFile(entry.FilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn().
				Err(ErrOrphanedEntry).
				Str("cache_key", key).
				Str("path", entry.FilePath).
				Msg("cache blob missing, dropping entry")
			s.evictLocked(ctx, entry)
		} else {
			log.Warn().Err(fmt.Errorf("%w: %w", ErrIOFailure, err)).Str("cache_key", key).Msg("reading cache blob")
		}
		s.stats.misses.Add(1)
		return nil, false
	}

	value, err := payload.Decode(blob, p.DataType)
	if err != nil {
		log.Warn().
			Err(fmt.Errorf("%w: %w", ErrCorruptEntry, err)).
			Str("cache_key", key).
			Msg("cache blob unreadable, evicting")
		s.evictLocked(ctx, entry)
		s.stats.misses.Add(1)
		return nil, false
	}

	log.Debug().Str("cache_key", key).Msg("cache hit")
	s.stats.hits.Add(1)
	return value, true
}

// Put stores value under p and reports whether the blob was written. It
// returns false without side effects for disabled data types, invalid
// tickers and values whose data type does not match p.DataType.
func (s *Store) Put(ctx context.Context, p KeyParams, value payload.Value) bool {
	p.DataType = payload.Normalize(string(p.DataType))
	log := s.log(ctx)

	if value == nil || value.DataType() != p.DataType {
		log.Debug().Str("data_type", string(p.DataType)).Msg("refusing to cache value of another data type")
		return false
	}
	if !s.policy.Enabled(p.DataType) {
		return false
	}
	if !IsValidTicker(p.Ticker) {
		log.Debug().Err(ErrInvalidTicker).Str("ticker", p.Ticker).Msg("refusing to cache")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return false
	}
	if !s.knownTypes[p.DataType] {
		log.Warn().
			Err(payload.ErrUnknownDataType).
			Str("data_type", string(p.DataType)).
			Msg("data type has no cache directory")
		s.stats.storeFailures.Add(1)
		return false
	}

	blob, err := payload.Encode(value, payload.EncodeOptions{Compress: s.compress})
	if err != nil {
		log.Warn().Err(err).Str("data_type", string(p.DataType)).Msg("encoding cache blob")
		s.stats.storeFailures.Add(1)
		return false
	}

	key := GenerateKey(p)
	dir := s.typeDir(p.DataType)
	path := filepath.Join(dir, key+blobExtension)
	if filepath.Dir(path) != dir {
		log.Error().Str("cache_key", key).Msg("cache key does not map to a file in its data type directory")
		s.stats.storeFailures.Add(1)
		return false
	}

	if err = os.MkdirAll(dir, dirPerm); err == nil {
		err = writeFileAtomic(path, blob)
	}
	if err != nil {
		log.Error().Err(err).Str("cache_key", key).Msg("writing cache blob")
		s.stats.storeFailures.Add(1)
		return false
	}

	n := p.normalized()
	now := s.now()
	entry := Entry{
		CacheKey:  key,
		Ticker:    n.Ticker,
		DataType:  n.DataType,
		Frequency: n.Frequency,
		Period:    n.Period,
		CreatedAt: now,
		ExpiresAt: now.Add(TTLDuration(s.policy.TTLHours(n.DataType))),
		FilePath:  path,
		FileSize:  int64(len(blob)),
	}
	s.index.Upsert(entry)
	s.persist(ctx)

	log.Debug().
		Str("cache_key", key).
		Int64("size", entry.FileSize).
		Time("expires_at", entry.ExpiresAt).
		Msg("cached")
	s.stats.stores.Add(1)
	return true
}

// Evict removes the entry for a cache key and returns 1, or 0 when the key is
// not cached.
func (s *Store) Evict(ctx context.Context, key string) int {
	return s.evictWhere(ctx, func(e Entry) bool { return e.CacheKey == key })
}

// EvictByTicker removes every entry for ticker.
func (s *Store) EvictByTicker(ctx context.Context, ticker string) int {
	normalized := NormalizeTicker(ticker)
	return s.evictWhere(ctx, func(e Entry) bool { return e.Ticker == normalized })
}

// EvictByType removes every entry of dataType.
func (s *Store) EvictByType(ctx context.Context, dataType payload.DataType) int {
	dt := payload.Normalize(string(dataType))
	return s.evictWhere(ctx, func(e Entry) bool { return e.DataType == dt })
}

// EvictExpired removes entries that have expired or whose blob is missing.
func (s *Store) EvictExpired(ctx context.Context) int {
	now := s.now()
	return s.evictWhere(ctx, func(e Entry) bool { return s.isStale(e, now) })
}

// EvictAll empties the cache.
func (s *Store) EvictAll(ctx context.Context) int {
	return s.evictWhere(ctx, func(Entry) bool { return true })
}

// evictWhere removes every matching entry and its blob and persists the
// index once.
func (s *Store) evictWhere(ctx context.Context, match func(Entry) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return 0
	}

	removed := 0
	for _, entry := range s.index.All() {
		if !match(entry) {
			continue
		}
		s.deleteBlob(ctx, entry)
		if s.index.Remove(entry.CacheKey) {
			removed++
		}
	}
	if removed > 0 {
		s.persist(ctx)
		s.stats.evictions.Add(uint64(removed))
		s.log(ctx).Debug().Int("removed", removed).Msg("cache entries evicted")
	}
	return removed
}

// evictLocked removes a single entry and its blob. The caller holds mu.
func (s *Store) evictLocked(ctx context.Context, entry Entry) {
	s.deleteBlob(ctx, entry)
	if s.index.Remove(entry.CacheKey) {
		s.stats.evictions.Add(1)
		s.persist(ctx)
	}
}

func (s *Store) deleteBlob(ctx context.Context, entry Entry) {
	if entry.FilePath == "" {
		return
	}
	if err := os.Remove(entry.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log(ctx).Warn().
			Err(fmt.Errorf("%w: %w", ErrIOFailure, err)).
			Str("path", entry.FilePath).
			Msg("deleting cache blob")
	}
}

// persist saves the index, logging instead of returning failures. Unsaved
// deltas are retried by the next save.
func (s *Store) persist(ctx context.Context) {
	if err := s.index.Save(ctx); err != nil {
		s.log(ctx).Error().Err(err).Msg("persisting cache index")
	}
}

// Stats summarizes the cache without modifying it. Entries whose blob is
// missing count as expired.
func (s *Store) Stats(ctx context.Context) Stats {
	stats := Stats{
		ByType:         make(map[payload.DataType]TypeStats),
		CacheDirectory: s.baseDir,
		CacheEnabled:   s.anyEnabled(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, entry := range s.index.All() {
		stats.TotalEntries++
		stats.TotalSizeBytes += entry.FileSize
		if s.isStale(entry, now) {
			stats.ExpiredEntries++
		} else {
			stats.ValidEntries++
		}

		ts := stats.ByType[entry.DataType]
		ts.Count++
		ts.SizeBytes += entry.FileSize
		stats.ByType[entry.DataType] = ts
	}
	stats.TotalSizeFormatted = FormatSize(stats.TotalSizeBytes)
	return stats
}

// List returns the entries matching ticker and dataType, newest first.
// Empty filters match everything.
func (s *Store) List(ctx context.Context, ticker string, dataType payload.DataType) []Entry {
	normalizedTicker := ""
	if ticker != "" {
		normalizedTicker = NormalizeTicker(ticker)
	}
	dt := payload.Normalize(string(dataType))

	s.mu.Lock()
	all := s.index.All()
	s.mu.Unlock()

	out := make([]Entry, 0, len(all))
	for _, entry := range all {
		if normalizedTicker != "" && entry.Ticker != normalizedTicker {
			continue
		}
		if dt != "" && entry.DataType != dt {
			continue
		}
		out = append(out, entry)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CacheKey < out[j].CacheKey
	})
	return out
}

// Counters returns the activity counters since the store was opened.
func (s *Store) Counters() Counters {
	return s.stats.snapshot()
}

// Directory is the cache base directory.
func (s *Store) Directory() string {
	return s.baseDir
}

// IndexLocation is the file holding the index.
func (s *Store) IndexLocation() string {
	return s.index.Location()
}

// Ready reports whether the cache directories are usable.
func (s *Store) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Close flushes unsaved index changes and releases the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var saveErr error
	if s.ready {
		saveErr = s.index.Save(context.Background())
	}
	return errors.Join(saveErr, s.index.Close())
}

func (s *Store) typeDir(dt payload.DataType) string {
	return filepath.Join(s.baseDir, blobDirName, string(dt))
}

func (s *Store) isStale(entry Entry, now time.Time) bool {
	if entry.IsExpiredAt(now) {
		return true
	}
	_, err := os.Stat(entry.FilePath)
	return errors.Is(err, os.ErrNotExist)
}

func (s *Store) anyEnabled() bool {
	for _, dt := range s.policy.KnownDataTypes() {
		if s.policy.Enabled(dt) {
			return true
		}
	}
	return false
}

// log returns the store logger tagged with the trace id carried by ctx.
func (s *Store) log(ctx context.Context) *zerolog.Logger {
	l := s.logger
	if traceID := logging.TraceIDFromContext(ctx); traceID != "" {
		l = l.With().Str(logging.TraceIDField, traceID).Logger()
	}
	return &l
}
