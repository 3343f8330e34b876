// Package config loads the tickerscope configuration file and exposes the
// cache policy settings and logging settings it contains.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override configuration values.
const (
	EnvConfigPath     = "TICKERSCOPE_CONFIG"
	EnvCacheDir       = "TICKERSCOPE_CACHE_DIR"
	EnvCacheEnabled   = "TICKERSCOPE_CACHE_ENABLED"
	EnvCacheTTLHours  = "TICKERSCOPE_CACHE_TTL_HOURS"
	EnvLogLevel       = "TICKERSCOPE_LOG_LEVEL"
	EnvLogFormat      = "TICKERSCOPE_LOG_FORMAT"
	configDirName     = ".tickerscope"
	configFileName    = "config.yaml"
	configFilePerm    = 0o600
	configDirPerm     = 0o750
	defaultConfigYAML = "# tickerscope configuration\n"
)

// Configuration errors.
var (
	ErrNoConfig       = errors.New("configuration not loaded")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrConfigNotFound = errors.New("config file not found")
)

// Config is the root of the configuration file.
type Config struct {
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`

	// Path is the file the configuration was read from, or "" when only
	// defaults and environment overrides apply.
	Path string `yaml:"-"`
}

// New returns a Config populated with the built-in defaults.
func New() *Config {
	return &Config{
		Cache:   defaultCacheConfig(),
		Logging: defaultLoggingConfig(),
	}
}

// DefaultPath returns $TICKERSCOPE_CONFIG or ~/.tickerscope/config.yaml.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, configDirName, configFileName), nil
}

// Load reads the configuration file at path on top of the defaults and then
// applies environment overrides.
//
// An empty path means the default location; a missing file there is not an
// error. A path given explicitly, through the argument or TICKERSCOPE_CONFIG,
// must exist.
func Load(path string) (*Config, error) {
	explicit := path != "" || os.Getenv(EnvConfigPath) != ""
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			cfg := New()
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		path = p
	}

	cfg := New()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
		cfg.Path = path
	case errors.Is(err, os.ErrNotExist) && !explicit:
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	default:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg.Cache.fillDataTypeDefaults()
	cfg.applyEnvOverrides()

	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if c == nil {
		return ErrNoConfig
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err = os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err = os.WriteFile(path, append([]byte(defaultConfigYAML), data...), configFilePerm); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	if c == nil {
		return ErrNoConfig
	}

	var errs []error
	errs = append(errs, c.Cache.validate()...)
	errs = append(errs, c.Logging.validate()...)
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// applyEnvOverrides applies TICKERSCOPE_* variables. Unparsable values are
// ignored and the file or default value is kept.
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv(EnvCacheDir); dir != "" {
		c.Cache.Directory = dir
	}
	if v := os.Getenv(EnvCacheEnabled); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Cache.Enabled = enabled
		}
	}
	if v := os.Getenv(EnvCacheTTLHours); v != "" {
		if hours, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && hours >= 0 {
			c.Cache.TTLHours = hours
			// The override applies to every data type, including those with
			// their own TTL in the file.
			for name, dt := range c.Cache.DataTypes {
				dt.TTLHours = intPtr(hours)
				c.Cache.DataTypes[name] = dt
			}
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Logging.Format = v
	}
}

func boolPtr(b bool) *bool { return &b }

func intPtr(i int) *int { return &i }
