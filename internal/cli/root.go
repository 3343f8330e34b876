package cli

import (
	"context"
	"errors"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rshade/tickerscope/internal/config"
	"github.com/rshade/tickerscope/internal/logging"
)

// isTerminal checks if the given file is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// logger is the package-level logger for CLI operations.
var logger zerolog.Logger //nolint:gochecknoglobals // Required for zerolog context integration

type configKey struct{}

// annotationAllowMissingConfig marks commands that run without an existing
// config file.
const annotationAllowMissingConfig = "tickerscope/allow-missing-config"

var errNoConfig = errors.New("configuration not initialized")

// NewRootCmd creates the root Cobra command for the tickerscope CLI.
// It loads the configuration, wires up logging and tracing, and registers the
// cache and config command groups.
func NewRootCmd(ver string) *cobra.Command {
	var logResult *logging.LogPathResult

	cmd := &cobra.Command{
		Use:           "tickerscope",
		Short:         "Stock ticker analysis with a local market-data cache",
		Long:          "tickerscope: Analyze stock tickers from cached financial data",
		Version:       ver,
		Example:       rootCmdExample,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			result := setupLogging(cmd, cfg)
			logResult = &result
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return cleanupLogging(logResult)
		},
	}

	cmd.PersistentFlags().String("config", "", "config file (default ~/.tickerscope/config.yaml)")
	cmd.PersistentFlags().String("cache-dir", "", "cache directory (overrides config file and "+config.EnvCacheDir+")")
	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	cmd.AddCommand(newCacheCmd(), newConfigCmd())

	return cmd
}

const rootCmdExample = `  # Show cache statistics
  tickerscope cache stats

  # Remove expired cache entries
  tickerscope cache clean

  # Clear cached data for one ticker
  tickerscope cache clear AAPL

  # Show cache policy per data type
  tickerscope cache info

  # Write a default configuration file
  tickerscope config init`

// loadConfig reads the configuration selected by --config and applies the
// --cache-dir override.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if errors.Is(err, config.ErrConfigNotFound) && cmd.Annotations[annotationAllowMissingConfig] == "true" {
		cfg, err = config.New(), nil
	}
	if err != nil {
		return nil, err
	}
	if dir, _ := cmd.Flags().GetString("cache-dir"); dir != "" {
		cfg.Cache.Directory = dir
	}
	return cfg, nil
}

// configFromCmd returns the configuration loaded by the root command.
func configFromCmd(cmd *cobra.Command) (*config.Config, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errNoConfig
	}
	cfg, ok := ctx.Value(configKey{}).(*config.Config)
	if !ok || cfg == nil {
		return nil, errNoConfig
	}
	return cfg, nil
}

// newConfigCmd creates the config command group with configuration subcommands.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Configuration management commands"}
	cmd.AddCommand(NewConfigInitCmd(), NewConfigShowCmd())
	return cmd
}
