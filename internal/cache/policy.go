package cache

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/rs/zerolog"

	"github.com/rshade/tickerscope/internal/payload"
)

// Fallbacks used whenever the configuration source is absent or fails.
const (
	DefaultEnabled   = true
	DefaultTTLHours  = 24
	DefaultDirectory = "./data"
)

// dataTypePattern restricts data type names to values that are safe as a
// directory name.
var dataTypePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`) //nolint:gochecknoglobals // compiled once

// Policy resolves per-data-type cache behaviour.
type Policy interface {
	// Enabled reports whether values of dataType are cached.
	Enabled(dataType payload.DataType) bool

	// TTLHours returns the lifetime of new entries of dataType.
	TTLHours(dataType payload.DataType) int

	// Directory returns the base cache directory.
	Directory() string

	// KnownDataTypes lists every data type that gets a blob directory.
	KnownDataTypes() []payload.DataType
}

// PolicySource is the external configuration a ConfigPolicy reads from.
// Any method may fail; ConfigPolicy then uses the package defaults.
type PolicySource interface {
	CacheEnabled(dataType string) (bool, error)
	CacheTTLHours(dataType string) (int, error)
	CacheDirectory() (string, error)
	CacheDataTypes() ([]string, error)
}

// ConfigPolicy is a Policy backed by a PolicySource with hard-coded fallbacks.
type ConfigPolicy struct {
	source PolicySource
	logger zerolog.Logger
}

// NewConfigPolicy returns a policy reading from source. A nil source is
// allowed and yields the defaults for every lookup.
func NewConfigPolicy(source PolicySource, logger zerolog.Logger) *ConfigPolicy {
	return &ConfigPolicy{source: source, logger: logger}
}

// Enabled implements Policy.
func (p *ConfigPolicy) Enabled(dataType payload.DataType) bool {
	if p.source == nil {
		return DefaultEnabled
	}
	enabled, err := p.source.CacheEnabled(string(dataType))
	if err != nil {
		p.fallback("enabled", dataType, err)
		return DefaultEnabled
	}
	return enabled
}

// TTLHours implements Policy. Negative values fall back to DefaultTTLHours
// and values above MaxTTLHours are clamped.
func (p *ConfigPolicy) TTLHours(dataType payload.DataType) int {
	if p.source == nil {
		return DefaultTTLHours
	}
	hours, err := p.source.CacheTTLHours(string(dataType))
	if err != nil {
		p.fallback("ttl_hours", dataType, err)
		return DefaultTTLHours
	}
	if hours < 0 {
		p.logger.Warn().
			Str("data_type", string(dataType)).
			Int("ttl_hours", hours).
			Msg("negative cache TTL, using default")
		return DefaultTTLHours
	}
	if int64(hours) > MaxTTLHours {
		p.logger.Warn().
			Str("data_type", string(dataType)).
			Int("ttl_hours", hours).
			Int64("max_ttl_hours", MaxTTLHours).
			Msg("cache TTL too large, clamping")
		return int(MaxTTLHours)
	}
	return hours
}

// Directory implements Policy.
func (p *ConfigPolicy) Directory() string {
	if p.source == nil {
		return DefaultDirectory
	}
	dir, err := p.source.CacheDirectory()
	if err != nil || dir == "" {
		p.fallback("directory", "", err)
		return DefaultDirectory
	}
	return dir
}

// KnownDataTypes implements Policy. The result always contains the built-in
// data types and is sorted.
func (p *ConfigPolicy) KnownDataTypes() []payload.DataType {
	var declared []string
	if p.source != nil {
		types, err := p.source.CacheDataTypes()
		if err != nil {
			p.fallback("data_types", "", err)
		} else {
			declared = types
		}
	}
	return mergeDataTypes(declared, p.logger)
}

func (p *ConfigPolicy) fallback(setting string, dataType payload.DataType, err error) {
	p.logger.Debug().
		Err(fmt.Errorf("%w: %w", ErrConfigUnavailable, err)).
		Str("setting", setting).
		Str("data_type", string(dataType)).
		Msg("cache config lookup failed, using default")
}

// mergeDataTypes unions declared with the built-in types, dropping names that
// are not safe as directory names.
func mergeDataTypes(declared []string, logger zerolog.Logger) []payload.DataType {
	seen := make(map[payload.DataType]bool)
	var out []payload.DataType

	for _, dt := range payload.BuiltinDataTypes() {
		seen[dt] = true
		out = append(out, dt)
	}
	for _, name := range declared {
		dt := payload.Normalize(name)
		if seen[dt] {
			continue
		}
		if !isValidDataTypeName(dt) {
			logger.Warn().Str("data_type", name).Msg("ignoring data type with unsafe name")
			continue
		}
		seen[dt] = true
		out = append(out, dt)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func isValidDataTypeName(dt payload.DataType) bool {
	return dataTypePattern.MatchString(string(dt))
}
