package cache

import (
	"fmt"
	"math"
	"time"
)

// MaxTTLHours is the longest TTL a time.Duration can hold.
const MaxTTLHours = math.MaxInt64 / int64(time.Hour)

// Duration formatting constants.
const (
	// minutesPerHour is used for duration formatting calculations.
	minutesPerHour = 60

	// hoursPerDay is used for duration formatting calculations.
	hoursPerDay = 24
)

// TTLDuration converts a TTL in hours to a time.Duration. Negative values
// are treated as zero and values above MaxTTLHours are clamped to it.
func TTLDuration(hours int) time.Duration {
	if hours < 0 {
		return 0
	}
	if int64(hours) > MaxTTLHours {
		return time.Duration(MaxTTLHours) * time.Hour
	}
	return time.Duration(hours) * time.Hour
}

// DescribeTTL renders a TTL for operators.
// Examples: "24 hours", "168 hours (7 days)", "0 hours (always refetch)".
func DescribeTTL(hours int) string {
	switch {
	case hours <= 0:
		return "0 hours (always refetch)"
	case hours == 1:
		return "1 hour"
	case hours > hoursPerDay && hours%hoursPerDay == 0:
		days := hours / hoursPerDay
		return fmt.Sprintf("%d hours (%d days)", hours, days)
	default:
		return fmt.Sprintf("%d hours", hours)
	}
}

// FormatDuration formats a duration in a human-readable way.
// Examples: "45s", "30m", "5h30m", "7d".
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	if d < hoursPerDay*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % minutesPerHour
		if minutes == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh%dm", hours, minutes)
	}
	days := int(d.Hours()) / hoursPerDay
	hours := int(d.Hours()) % hoursPerDay
	if hours == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dd%dh", days, hours)
}
