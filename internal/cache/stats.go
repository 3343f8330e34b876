package cache

import (
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rshade/tickerscope/internal/payload"
)

// Stats summarizes the cache contents.
type Stats struct {
	TotalEntries       int                            `json:"total_entries"`
	ValidEntries       int                            `json:"valid_entries"`
	ExpiredEntries     int                            `json:"expired_entries"`
	TotalSizeBytes     int64                          `json:"total_size_bytes"`
	TotalSizeFormatted string                         `json:"total_size_formatted"`
	ByType             map[payload.DataType]TypeStats `json:"by_type"`
	CacheDirectory     string                         `json:"cache_directory"`
	CacheEnabled       bool                           `json:"cache_enabled"`
}

// TypeStats is the per-data-type part of Stats.
type TypeStats struct {
	Count     int   `json:"count"`
	SizeBytes int64 `json:"size_bytes"`
}

// DataTypes returns the data types present in ByType in sorted order.
func (s Stats) DataTypes() []payload.DataType {
	out := make([]payload.DataType, 0, len(s.ByType))
	for dt := range s.ByType {
		out = append(out, dt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FormatSize renders a byte count with binary units, e.g. "1.5 KiB".
func FormatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatTimeAgo renders then relative to now, e.g. "3 hours ago" or
// "2 days from now".
func FormatTimeAgo(then, now time.Time) string {
	return humanize.RelTime(then, now, "ago", "from now")
}
