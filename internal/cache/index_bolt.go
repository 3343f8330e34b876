package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
)

const (
	// boltIndexFile is the index database name inside the metadata directory.
	boltIndexFile = "cache_index.db"

	// entriesBucket holds one JSON-encoded Entry per cache key.
	entriesBucket = "entries"

	// corruptSuffix is appended to index files moved out of the way.
	corruptSuffix = ".corrupt-"
)

// BoltBackend stores one bbolt record per index entry. The database is opened
// for each operation so that concurrent processes take turns on bbolt's file
// lock instead of one of them holding it for its whole lifetime.
type BoltBackend struct {
	path        string
	lockTimeout time.Duration
	logger      zerolog.Logger
}

// NewBoltBackend returns a backend writing to metadataDir/cache_index.db.
func NewBoltBackend(metadataDir string, lockTimeout time.Duration, logger zerolog.Logger) *BoltBackend {
	return &BoltBackend{
		path:        filepath.Join(filepath.Clean(metadataDir), boltIndexFile),
		lockTimeout: lockTimeout,
		logger:      logger,
	}
}

// Location implements Backend.
func (b *BoltBackend) Location() string {
	return b.path
}

// Close implements Backend. Nothing is held open between operations.
func (b *BoltBackend) Close() error {
	return nil
}

// Load implements Backend. Records that do not decode are deleted.
func (b *BoltBackend) Load(ctx context.Context) (map[string]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := make(map[string]Entry)
	err := b.update(ctx, func(bucket *bbolt.Bucket) error {
		var corrupt [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				b.logger.Warn().
					Err(err).
					Str("cache_key", string(k)).
					Msg("dropping unreadable cache index record")
				corrupt = append(corrupt, append([]byte(nil), k...))
				return nil
			}
			entry.CacheKey = string(k)
			entries[entry.CacheKey] = entry
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range corrupt {
			if err := bucket.Delete(k); err != nil {
				return fmt.Errorf("delete record %q: %w", k, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Apply implements Backend. All mutations commit in one transaction.
func (b *BoltBackend) Apply(ctx context.Context, upserts map[string]Entry, removals []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	encoded := make(map[string][]byte, len(upserts))
	for key, entry := range upserts {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal entry %q: %w", key, err)
		}
		encoded[key] = data
	}

	return b.update(ctx, func(bucket *bbolt.Bucket) error {
		for _, key := range removals {
			if err := bucket.Delete([]byte(key)); err != nil {
				return fmt.Errorf("delete entry %q: %w", key, err)
			}
		}
		for key, data := range encoded {
			if err := bucket.Put([]byte(key), data); err != nil {
				return fmt.Errorf("put entry %q: %w", key, err)
			}
		}
		return nil
	})
}

// update runs fn inside a read-write transaction on a freshly opened
// database.
func (b *BoltBackend) update(ctx context.Context, fn func(*bbolt.Bucket) error) error {
	db, err := b.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			b.logger.Debug().Err(closeErr).Str("path", b.path).Msg("closing cache index database")
		}
	}()

	return db.Update(func(tx *bbolt.Tx) error {
		bucket, bucketErr := tx.CreateBucketIfNotExists([]byte(entriesBucket))
		if bucketErr != nil {
			return fmt.Errorf("create %s bucket: %w", entriesBucket, bucketErr)
		}
		return fn(bucket)
	})
}

// open opens the database, moving an unreadable file aside and starting over
// with an empty one.
func (b *BoltBackend) open(ctx context.Context) (*bbolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(b.path), dirPerm); err != nil {
		return nil, fmt.Errorf("%w: create metadata directory: %w", ErrIOFailure, err)
	}

	db, err := b.openDB(ctx)
	if err == nil {
		return db, nil
	}
	if !isCorruptBolt(err) {
		return nil, err
	}

	quarantined, qErr := quarantine(b.path)
	if qErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptEntry, qErr)
	}
	b.logger.Warn().
		Err(err).
		Str("path", b.path).
		Str("moved_to", quarantined).
		Msg("cache index database unreadable, starting with an empty index")

	return b.openDB(ctx)
}

func (b *BoltBackend) openDB(ctx context.Context) (*bbolt.DB, error) {
	timeout := b.lockTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, ErrLockTimeout
	}

	db, err := bbolt.Open(b.path, filePerm, &bbolt.Options{Timeout: timeout})
	if err != nil {
		if errors.Is(err, berrors.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, b.path)
		}
		return nil, fmt.Errorf("open cache index database: %w", err)
	}
	return db, nil
}

func isCorruptBolt(err error) bool {
	return errors.Is(err, berrors.ErrInvalid) ||
		errors.Is(err, berrors.ErrVersionMismatch) ||
		errors.Is(err, berrors.ErrChecksum) ||
		strings.Contains(err.Error(), "file size too small")
}

// quarantine renames path to path.corrupt-<ulid> and returns the new name.
func quarantine(path string) (string, error) {
	target := path + corruptSuffix + ulid.Make().String()
	if err := os.Rename(path, target); err != nil {
		return "", fmt.Errorf("quarantine %s: %w", path, err)
	}
	return target, nil
}
