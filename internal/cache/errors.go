package cache

// constError is an immutable error type for sentinel errors.
type constError string

func (e constError) Error() string { return string(e) }

// Failure modes of the cache subsystem. Store logs these and degrades to a
// miss or a false return; they never reach Store callers. Backends and the
// policy layer return them wrapped so errors.Is works in tests.
var (
	// ErrConfigUnavailable means a policy lookup fell back to defaults.
	ErrConfigUnavailable = constError("cache configuration unavailable")

	// ErrCorruptEntry means a blob failed to decode or failed its shape check.
	ErrCorruptEntry = constError("corrupt cache entry")

	// ErrOrphanedEntry means an index entry references a missing blob.
	ErrOrphanedEntry = constError("orphaned cache entry")

	// ErrIOFailure means a blob or index read/write failed.
	ErrIOFailure = constError("cache I/O failure")

	// ErrInvalidTicker means a store was rejected before any I/O.
	ErrInvalidTicker = constError("invalid ticker symbol")

	// ErrLockTimeout means another process held the index lock too long.
	ErrLockTimeout = constError("timed out waiting for cache index lock")
)
