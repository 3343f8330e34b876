package cache

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rshade/tickerscope/internal/payload"
)

// Entry is the index metadata for one cached blob.
type Entry struct {
	// CacheKey is the key produced by GenerateKey.
	CacheKey string `json:"cache_key"`

	// Ticker is the normalized ticker symbol.
	Ticker string `json:"ticker"`

	// DataType is the dataset the blob holds.
	DataType payload.DataType `json:"data_type"`

	// Frequency and Period are the discriminators the entry was stored with.
	Frequency string `json:"frequency,omitempty"`
	Period    string `json:"period,omitempty"`

	// CreatedAt is when the blob was written.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is CreatedAt plus the data type's TTL.
	ExpiresAt time.Time `json:"expires_at"`

	// FilePath is the blob location.
	FilePath string `json:"file_path"`

	// FileSize is the blob size in bytes.
	FileSize int64 `json:"file_size"`
}

// IsExpiredAt reports whether the entry has expired at now.
// An entry expires at ExpiresAt, not after it.
func (e Entry) IsExpiredAt(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// AgeAt returns how long ago the entry was created.
func (e Entry) AgeAt(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// TimeUntilExpirationAt returns the remaining lifetime, or 0 once expired.
func (e Entry) TimeUntilExpirationAt(now time.Time) time.Duration {
	remaining := e.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// MarshalJSON implements json.Marshaler.
// Times are written as RFC3339 with nanoseconds, in UTC.
func (e Entry) MarshalJSON() ([]byte, error) {
	type Alias Entry
	return json.Marshal(&struct {
		Alias

		CreatedAt string `json:"created_at"`
		ExpiresAt string `json:"expires_at"`
	}{
		Alias:     Alias(e),
		CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
		ExpiresAt: e.ExpiresAt.UTC().Format(time.RFC3339Nano),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Entry) UnmarshalJSON(data []byte) error {
	if e == nil {
		return errors.New("cannot unmarshal into nil Entry")
	}
	type Alias Entry
	aux := &struct {
		*Alias

		CreatedAt string `json:"created_at"`
		ExpiresAt string `json:"expires_at"`
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	e.CreatedAt, err = time.Parse(time.RFC3339Nano, aux.CreatedAt)
	if err != nil {
		return err
	}

	e.ExpiresAt, err = time.Parse(time.RFC3339Nano, aux.ExpiresAt)
	if err != nil {
		return err
	}

	return nil
}
