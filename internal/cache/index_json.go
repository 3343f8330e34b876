package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

const (
	// jsonIndexFile is the index file name inside the metadata directory.
	jsonIndexFile = "cache_index.json"

	// jsonIndexVersion is written into every index file.
	jsonIndexVersion = 1

	// lockRetryDelay is how often a contended lock is retried.
	lockRetryDelay = 25 * time.Millisecond
)

// jsonIndexDocument is the on-disk form of the JSON index.
type jsonIndexDocument struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// JSONBackend rewrites a single JSON document on every save. Saves are
// serialized across processes with an advisory lock on a sibling .lock file,
// and the document is re-read under that lock before deltas are applied.
type JSONBackend struct {
	path        string
	lock        *flock.Flock
	lockTimeout time.Duration
	logger      zerolog.Logger
}

// NewJSONBackend returns a backend writing to metadataDir/cache_index.json.
func NewJSONBackend(metadataDir string, lockTimeout time.Duration, logger zerolog.Logger) *JSONBackend {
	path := filepath.Join(filepath.Clean(metadataDir), jsonIndexFile)
	return &JSONBackend{
		path:        path,
		lock:        flock.New(path + ".lock"),
		lockTimeout: lockTimeout,
		logger:      logger,
	}
}

// Location implements Backend.
func (b *JSONBackend) Location() string {
	return b.path
}

// Close implements Backend.
func (b *JSONBackend) Close() error {
	return b.lock.Close()
}

// Load implements Backend. A missing file is an empty index.
func (b *JSONBackend) Load(ctx context.Context) (map[string]Entry, error) {
	if err := b.acquire(ctx, b.lock.TryRLockContext); err != nil {
		return nil, err
	}
	defer b.release()

	return b.read()
}

// Apply implements Backend. An unreadable document is replaced.
func (b *JSONBackend) Apply(ctx context.Context, upserts map[string]Entry, removals []string) error {
	if err := b.acquire(ctx, b.lock.TryLockContext); err != nil {
		return err
	}
	defer b.release()

	entries, err := b.read()
	if err != nil {
		b.logger.Warn().
			Err(err).
			Str("path", b.path).
			Msg("cache index file unreadable, rewriting it")
		entries = make(map[string]Entry)
	}

	for _, key := range removals {
		delete(entries, key)
	}
	for key, entry := range upserts {
		entries[key] = entry
	}

	return b.write(entries)
}

func (b *JSONBackend) acquire(
	ctx context.Context,
	try func(context.Context, time.Duration) (bool, error),
) error {
	if err := os.MkdirAll(filepath.Dir(b.path), dirPerm); err != nil {
		return fmt.Errorf("%w: create metadata directory: %w", ErrIOFailure, err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, b.lockTimeout)
	defer cancel()

	locked, err := try(lockCtx, lockRetryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrLockTimeout, b.lock.Path())
		}
		return fmt.Errorf("%w: lock %s: %w", ErrIOFailure, b.lock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrLockTimeout, b.lock.Path())
	}
	return nil
}

func (b *JSONBackend) release() {
	if err := b.lock.Unlock(); err != nil {
		b.logger.Debug().Err(err).Str("path", b.lock.Path()).Msg("releasing cache index lock")
	}
}

func (b *JSONBackend) read() (map[string]Entry, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]Entry), nil
		}
		return nil, fmt.Errorf("%w: read %s: %w", ErrIOFailure, b.path, err)
	}

	var doc jsonIndexDocument
	if err = json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrCorruptEntry, b.path, err)
	}
	if doc.Version != jsonIndexVersion {
		return nil, fmt.Errorf("%w: %s has version %d, want %d",
			ErrCorruptEntry, b.path, doc.Version, jsonIndexVersion)
	}

	entries := make(map[string]Entry, len(doc.Entries))
	for key, entry := range doc.Entries {
		entry.CacheKey = key
		entries[key] = entry
	}
	return entries, nil
}

// write replaces the document through a temp file and rename.
func (b *JSONBackend) write(entries map[string]Entry) error {
	data, err := json.MarshalIndent(jsonIndexDocument{Version: jsonIndexVersion, Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache index: %w", err)
	}

	return writeFileAtomic(b.path, data)
}

// writeFileAtomic writes data to a uniquely named temp file next to path,
// syncs it and renames it over path. The temp file is removed on failure.
func writeFileAtomic(path string, data []byte) error {
	tempPath := fmt.Sprintf("%s.%s.tmp", path, ulid.Make())

	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrIOFailure, tempPath, err)
	}

	if _, err = f.Write(data); err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tempPath, path)
	}
	if err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("%w: write %s: %w", ErrIOFailure, path, err)
	}
	return nil
}
