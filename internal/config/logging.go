package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rshade/tickerscope/internal/logging"
)

// LoggingConfig is the logging section of the configuration file.
type LoggingConfig struct {
	// Level is a zerolog level name: trace, debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "console" or "json".
	Format string `yaml:"format"`

	// File, when set, sends logs to this file instead of stderr.
	File string `yaml:"file,omitempty"`

	// Caller adds file:line to every record.
	Caller bool `yaml:"caller,omitempty"`
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "warn",
		Format: logging.FormatConsole,
	}
}

func (l *LoggingConfig) validate() []error {
	var errs []error
	if l.Level != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(l.Level)); err != nil {
			errs = append(errs, fmt.Errorf("logging.level: %w", err))
		}
	}
	switch l.Format {
	case "", logging.FormatConsole, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("logging.format must be %q or %q, got %q",
			logging.FormatConsole, logging.FormatJSON, l.Format))
	}
	return errs
}

// ToLoggingConfig converts the section into the logging package's Config.
func (l LoggingConfig) ToLoggingConfig() logging.Config {
	cfg := logging.Config{
		Level:  l.Level,
		Format: l.Format,
		Output: logging.OutputStderr,
		Caller: l.Caller,
	}
	if l.File != "" {
		cfg.Output = logging.OutputFile
		cfg.File = expandHome(l.File)
	}
	return cfg
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
