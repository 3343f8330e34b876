package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Cache defaults.
const (
	DefaultCacheDirectory = "./data"
	DefaultCacheTTLHours  = 24
	DefaultIndexBackend   = "bolt"

	// MaxCacheTTLHours is the longest TTL that fits in a time.Duration.
	MaxCacheTTLHours = math.MaxInt64 / int64(time.Hour)

	// fundamentalsTTLHours is the default lifetime of company data and
	// financial statements, which change at most quarterly.
	fundamentalsTTLHours = 168
)

// Index backends accepted in cache.index_backend.
const (
	IndexBackendBolt = "bolt"
	IndexBackendJSON = "json"
)

//nolint:gochecknoglobals // compiled once
var dataTypeNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// builtinTTLHours are the per-type defaults for the built-in data types.
//
//nolint:gochecknoglobals // Compile-time constant lookup table.
var builtinTTLHours = map[string]int{
	"company_info":      fundamentalsTTLHours,
	"income_statements": fundamentalsTTLHours,
	"balance_sheets":    fundamentalsTTLHours,
	"cash_flows":        fundamentalsTTLHours,
	"dividends":         fundamentalsTTLHours,
	"price_data":        DefaultCacheTTLHours,
}

// CacheConfig is the cache section of the configuration file.
type CacheConfig struct {
	// Directory is the cache base directory. A leading "~/" is expanded.
	Directory string `yaml:"directory"`

	// Enabled switches the whole cache. When false no data type is cached.
	Enabled bool `yaml:"enabled"`

	// TTLHours is the lifetime of data types without their own ttl_hours.
	TTLHours int `yaml:"ttl_hours"`

	// IndexBackend is "bolt" (default) or "json".
	IndexBackend string `yaml:"index_backend"`

	// Compress gzips blobs on write.
	Compress bool `yaml:"compress"`

	// DataTypes holds per-data-type overrides.
	DataTypes map[string]DataTypeConfig `yaml:"data_types"`
}

// DataTypeConfig overrides the cache section for one data type. Nil fields
// inherit the section value.
type DataTypeConfig struct {
	Enabled     *bool  `yaml:"enabled,omitempty"`
	TTLHours    *int   `yaml:"ttl_hours,omitempty"`
	Description string `yaml:"description,omitempty"`
}

func defaultCacheConfig() CacheConfig {
	cfg := CacheConfig{
		Directory:    DefaultCacheDirectory,
		Enabled:      true,
		TTLHours:     DefaultCacheTTLHours,
		IndexBackend: DefaultIndexBackend,
		DataTypes:    make(map[string]DataTypeConfig, len(builtinTTLHours)),
	}
	for name, hours := range builtinTTLHours {
		cfg.DataTypes[name] = DataTypeConfig{Enabled: boolPtr(true), TTLHours: intPtr(hours)}
	}
	return cfg
}

// fillDataTypeDefaults restores built-in TTLs for data types whose file entry
// replaced the default entry without setting ttl_hours.
func (c *CacheConfig) fillDataTypeDefaults() {
	if c.DataTypes == nil {
		c.DataTypes = make(map[string]DataTypeConfig)
	}
	for name, hours := range builtinTTLHours {
		dt, ok := c.DataTypes[name]
		if !ok {
			c.DataTypes[name] = DataTypeConfig{Enabled: boolPtr(true), TTLHours: intPtr(hours)}
			continue
		}
		if dt.TTLHours == nil {
			dt.TTLHours = intPtr(hours)
			c.DataTypes[name] = dt
		}
	}
}

func (c *CacheConfig) validate() []error {
	var errs []error
	errs = append(errs, validateTTL("cache.ttl_hours", c.TTLHours)...)
	switch c.IndexBackend {
	case "", IndexBackendBolt, IndexBackendJSON:
	default:
		errs = append(errs, fmt.Errorf("cache.index_backend must be %q or %q, got %q",
			IndexBackendBolt, IndexBackendJSON, c.IndexBackend))
	}
	for _, name := range c.dataTypeNames() {
		if !dataTypeNamePattern.MatchString(name) {
			errs = append(errs, fmt.Errorf("cache.data_types: %q must match %s", name, dataTypeNamePattern))
		}
		if hours := c.DataTypes[name].TTLHours; hours != nil {
			errs = append(errs, validateTTL("cache.data_types."+name+".ttl_hours", *hours)...)
		}
	}
	return errs
}

func validateTTL(field string, hours int) []error {
	switch {
	case hours < 0:
		return []error{fmt.Errorf("%s must not be negative, got %d", field, hours)}
	case int64(hours) > MaxCacheTTLHours:
		return []error{fmt.Errorf("%s must be at most %d, got %d", field, MaxCacheTTLHours, hours)}
	}
	return nil
}

func (c *CacheConfig) dataTypeNames() []string {
	names := make([]string, 0, len(c.DataTypes))
	for name := range c.DataTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CacheEnabled reports whether dataType is cached.
func (c *Config) CacheEnabled(dataType string) (bool, error) {
	if c == nil {
		return false, ErrNoConfig
	}
	if !c.Cache.Enabled {
		return false, nil
	}
	if dt, ok := c.Cache.DataTypes[dataType]; ok && dt.Enabled != nil {
		return *dt.Enabled, nil
	}
	return true, nil
}

// CacheTTLHours returns the lifetime of dataType in hours.
func (c *Config) CacheTTLHours(dataType string) (int, error) {
	if c == nil {
		return 0, ErrNoConfig
	}
	if dt, ok := c.Cache.DataTypes[dataType]; ok && dt.TTLHours != nil {
		return *dt.TTLHours, nil
	}
	return c.Cache.TTLHours, nil
}

// CacheDirectory returns the cache base directory with "~/" expanded.
func (c *Config) CacheDirectory() (string, error) {
	if c == nil {
		return "", ErrNoConfig
	}
	dir := strings.TrimSpace(c.Cache.Directory)
	if dir == "" {
		return "", errors.New("cache.directory is empty")
	}
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding %s: %w", dir, err)
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	return dir, nil
}

// CacheDataTypes lists the configured data types in sorted order.
func (c *Config) CacheDataTypes() ([]string, error) {
	if c == nil {
		return nil, ErrNoConfig
	}
	return c.Cache.dataTypeNames(), nil
}

// DescribeDataType returns the configured description of dataType, or a
// title-cased rendering of its name, e.g. "Income Statements data".
func (c *Config) DescribeDataType(dataType string) string {
	if c != nil {
		if dt, ok := c.Cache.DataTypes[dataType]; ok && dt.Description != "" {
			return dt.Description
		}
	}
	title := cases.Title(language.English).String(strings.ReplaceAll(dataType, "_", " "))
	return title + " data"
}

// IndexBackend returns the configured index backend name.
func (c *Config) IndexBackend() string {
	if c == nil || c.Cache.IndexBackend == "" {
		return DefaultIndexBackend
	}
	return c.Cache.IndexBackend
}
