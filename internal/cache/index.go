package cache

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// Index backend names accepted by WithIndexBackend and the config file.
const (
	BackendBolt = "bolt"
	BackendJSON = "json"
)

// Backend persists index entries.
type Backend interface {
	// Load returns every persisted entry keyed by cache key.
	Load(ctx context.Context) (map[string]Entry, error)

	// Apply persists upserts and removals as one exclusive
	// load-mutate-save cycle.
	Apply(ctx context.Context, upserts map[string]Entry, removals []string) error

	// Location is the file the backend writes to.
	Location() string

	// Close releases backend resources.
	Close() error
}

// Index is the in-memory view of the persisted cache metadata. Mutations are
// recorded as pending deltas until Save hands them to the backend.
//
// Index is not safe for concurrent use; Store serializes access to it.
type Index struct {
	backend  Backend
	logger   zerolog.Logger
	entries  map[string]Entry
	upserts  map[string]Entry
	removals map[string]struct{}
}

// NewIndex returns an empty index persisted through backend.
func NewIndex(backend Backend, logger zerolog.Logger) *Index {
	return &Index{
		backend:  backend,
		logger:   logger,
		entries:  make(map[string]Entry),
		upserts:  make(map[string]Entry),
		removals: make(map[string]struct{}),
	}
}

// Load replaces the in-memory map with the persisted one and drops pending
// deltas. On failure the index is left empty and the error is returned for
// logging; the index stays usable.
func (ix *Index) Load(ctx context.Context) error {
	ix.upserts = make(map[string]Entry)
	ix.removals = make(map[string]struct{})

	entries, err := ix.backend.Load(ctx)
	if err != nil {
		ix.entries = make(map[string]Entry)
		return fmt.Errorf("loading cache index from %s: %w", ix.backend.Location(), err)
	}

	ix.entries = make(map[string]Entry, len(entries))
	for key, entry := range entries {
		if entry.CacheKey == "" {
			entry.CacheKey = key
		}
		ix.entries[key] = entry
	}

	ix.logger.Debug().
		Int("entries", len(ix.entries)).
		Str("location", ix.backend.Location()).
		Msg("cache index loaded")
	return nil
}

// Save persists pending mutations. Pending deltas survive a failed Save and
// are retried by the next one.
func (ix *Index) Save(ctx context.Context) error {
	if !ix.Dirty() {
		return nil
	}

	removals := make([]string, 0, len(ix.removals))
	for key := range ix.removals {
		removals = append(removals, key)
	}
	sort.Strings(removals)

	if err := ix.backend.Apply(ctx, ix.upserts, removals); err != nil {
		return fmt.Errorf("saving cache index to %s: %w", ix.backend.Location(), err)
	}

	ix.upserts = make(map[string]Entry)
	ix.removals = make(map[string]struct{})
	return nil
}

// Dirty reports whether there are unsaved mutations.
func (ix *Index) Dirty() bool {
	return len(ix.upserts) > 0 || len(ix.removals) > 0
}

// Upsert inserts or replaces the entry for entry.CacheKey.
func (ix *Index) Upsert(entry Entry) {
	ix.entries[entry.CacheKey] = entry
	ix.upserts[entry.CacheKey] = entry
	delete(ix.removals, entry.CacheKey)
}

// Remove deletes key and reports whether it was present.
func (ix *Index) Remove(key string) bool {
	if _, ok := ix.entries[key]; !ok {
		return false
	}
	delete(ix.entries, key)
	delete(ix.upserts, key)
	ix.removals[key] = struct{}{}
	return true
}

// Get returns the entry for key.
func (ix *Index) Get(key string) (Entry, bool) {
	entry, ok := ix.entries[key]
	return entry, ok
}

// All returns every entry ordered by cache key.
func (ix *Index) All() []Entry {
	out := make([]Entry, 0, len(ix.entries))
	for _, entry := range ix.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CacheKey < out[j].CacheKey })
	return out
}

// Len returns the number of entries.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// Location is where the backend persists the index.
func (ix *Index) Location() string {
	return ix.backend.Location()
}

// Close releases the backend.
func (ix *Index) Close() error {
	return ix.backend.Close()
}
