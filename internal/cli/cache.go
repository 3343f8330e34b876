package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/rshade/tickerscope/internal/cache"
	"github.com/rshade/tickerscope/internal/config"
	"github.com/rshade/tickerscope/internal/payload"
)

const (
	tabPadding = 2

	outputTable = "table"
	outputJSON  = "json"
)

var errConfirmationRequired = errors.New("refusing to clear the whole cache without confirmation, pass --yes")

//nolint:gochecknoglobals // Shared render styles.
var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("33"))
	sectionStyle = lipgloss.NewStyle().Bold(true)
)

// newCacheCmd creates the cache command group.
func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cache",
		Aliases: []string{"c"},
		Short:   "Manage the local market-data cache (stats, clean, clear, info, list)",
	}
	cmd.AddCommand(
		NewCacheStatsCmd(), NewCacheCleanCmd(), NewCacheClearCmd(),
		NewCacheInfoCmd(), NewCacheListCmd(),
	)
	return cmd
}

// openStore opens the cache described by the loaded configuration. The caller
// must Close the returned store.
func openStore(cmd *cobra.Command) (*cache.Store, *config.Config, error) {
	cfg, err := configFromCmd(cmd)
	if err != nil {
		return nil, nil, err
	}
	policy := cache.NewConfigPolicy(cfg, logger)
	store := cache.New(cmd.Context(), policy,
		cache.WithIndexBackend(cfg.IndexBackend()),
		cache.WithCompression(cfg.Cache.Compress),
	)
	return store, cfg, nil
}

func closeStore(store *cache.Store) {
	if err := store.Close(); err != nil {
		logger.Warn().Err(err).Msg("closing cache store")
	}
}

// NewCacheStatsCmd creates the cache stats command.
func NewCacheStatsCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Display cache statistics and usage",
		Example: `  # Show statistics as a table
  tickerscope cache stats

  # Show statistics as JSON
  tickerscope cache stats --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output != outputTable && output != outputJSON {
				return fmt.Errorf("unsupported output format %q (use %s or %s)", output, outputTable, outputJSON)
			}

			store, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer closeStore(store)

			stats := store.Stats(cmd.Context())
			if output == outputJSON {
				return renderStatsJSON(cmd.OutOrStdout(), stats)
			}
			renderStatsTable(cmd.OutOrStdout(), stats)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format: table or json")
	return cmd
}

func renderStatsJSON(w io.Writer, stats cache.Stats) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding stats: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func renderStatsTable(w io.Writer, stats cache.Stats) {
	heading(w, "Cache Statistics")

	section(w, "Overall")
	tw := tabwriter.NewWriter(w, 0, 0, tabPadding, ' ', 0)
	fmt.Fprintf(tw, "  Total entries:\t%d\n", stats.TotalEntries)
	fmt.Fprintf(tw, "  Valid entries:\t%d\n", stats.ValidEntries)
	fmt.Fprintf(tw, "  Expired entries:\t%d\n", stats.ExpiredEntries)
	fmt.Fprintf(tw, "  Total size:\t%s\n", stats.TotalSizeFormatted)
	fmt.Fprintf(tw, "  Cache directory:\t%s\n", stats.CacheDirectory)
	fmt.Fprintf(tw, "  Cache enabled:\t%s\n", yesNo(stats.CacheEnabled))
	_ = tw.Flush()

	types := stats.DataTypes()
	if len(types) == 0 {
		return
	}

	section(w, "By data type")
	tw = tabwriter.NewWriter(w, 0, 0, tabPadding, ' ', 0)
	fmt.Fprintln(tw, "  TYPE\tENTRIES\tSIZE")
	for _, dt := range types {
		ts := stats.ByType[dt]
		fmt.Fprintf(tw, "  %s\t%d\t%s\n", titleCase(string(dt)), ts.Count, cache.FormatSize(ts.SizeBytes))
	}
	_ = tw.Flush()
}

// NewCacheCleanCmd creates the cache clean command.
func NewCacheCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove expired cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer closeStore(store)

			removed := store.EvictExpired(cmd.Context())
			if removed == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No expired cache entries found")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleaned %d expired cache %s\n", removed, plural(removed, "entry", "entries"))
			return nil
		},
	}
}

// NewCacheClearCmd creates the cache clear command.
func NewCacheClearCmd() *cobra.Command {
	var (
		dataType string
		yes      bool
	)

	cmd := &cobra.Command{
		Use:   "clear [TICKER]",
		Short: "Clear cache entries, optionally for one ticker or data type",
		Long: `Removes cache entries and their data files.

With a TICKER only that ticker's entries are removed. With --type only entries
of that data type are removed. With neither, the whole cache is cleared, which
asks for confirmation unless --yes is given.`,
		Example: `  # Clear everything cached for AAPL
  tickerscope cache clear AAPL

  # Clear all cached price data
  tickerscope cache clear --type price_data

  # Clear the whole cache without prompting
  tickerscope cache clear --yes`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ticker string
			if len(args) == 1 {
				ticker = args[0]
				if !cache.IsValidTicker(ticker) {
					return fmt.Errorf("invalid ticker %q", ticker)
				}
			}

			if ticker == "" && dataType == "" && !yes {
				ok, err := confirm(cmd, "This will clear ALL cache entries and cannot be undone. Continue?")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
					return nil
				}
			}

			store, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer closeStore(store)

			ctx := cmd.Context()
			dt := payload.DataType(dataType)
			var removed int
			switch {
			case ticker != "" && dataType != "":
				for _, e := range store.List(ctx, ticker, dt) {
					removed += store.Evict(ctx, e.CacheKey)
				}
			case ticker != "":
				removed = store.EvictByTicker(ctx, ticker)
			case dataType != "":
				removed = store.EvictByType(ctx, dt)
			default:
				removed = store.EvictAll(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared all %d cache %s\n", removed, plural(removed, "entry", "entries"))
				return nil
			}

			scope := describeScope(ticker, dataType)
			if removed == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No cache entries found for %s\n", scope)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d cache %s for %s\n", removed, plural(removed, "entry", "entries"), scope)
			return nil
		},
	}

	cmd.Flags().StringVar(&dataType, "type", "", "only clear entries of this data type")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func describeScope(ticker, dataType string) string {
	switch {
	case ticker != "" && dataType != "":
		return fmt.Sprintf("%s %s", cache.NormalizeTicker(ticker), dataType)
	case ticker != "":
		return cache.NormalizeTicker(ticker)
	default:
		return dataType
	}
}

// confirm asks a yes/no question on the command's input. A non-interactive
// stdin cannot confirm.
func confirm(cmd *cobra.Command, question string) (bool, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && !isTerminal(f) {
		return false, errConfirmationRequired
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N] ", question)
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return false, fmt.Errorf("reading confirmation: %w", err)
		}
		return false, nil
	}

	switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// NewCacheInfoCmd creates the cache info command.
func NewCacheInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show cache configuration per data type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFromCmd(cmd)
			if err != nil {
				return err
			}
			renderCacheInfo(cmd.OutOrStdout(), cfg, cache.NewConfigPolicy(cfg, logger))
			return nil
		},
	}
}

func renderCacheInfo(w io.Writer, cfg *config.Config, policy cache.Policy) {
	types := policy.KnownDataTypes()
	enabled := 0
	for _, dt := range types {
		if policy.Enabled(dt) {
			enabled++
		}
	}

	heading(w, "Cache Configuration")

	section(w, "General")
	tw := tabwriter.NewWriter(w, 0, 0, tabPadding, ' ', 0)
	fmt.Fprintf(tw, "  Cache directory:\t%s\n", policy.Directory())
	fmt.Fprintf(tw, "  Index backend:\t%s\n", cfg.IndexBackend())
	fmt.Fprintf(tw, "  Compression:\t%s\n", yesNo(cfg.Cache.Compress))
	fmt.Fprintf(tw, "  Data types:\t%d\n", len(types))
	fmt.Fprintf(tw, "  Enabled data types:\t%d\n", enabled)
	if cfg.Path != "" {
		fmt.Fprintf(tw, "  Config file:\t%s\n", cfg.Path)
	}
	_ = tw.Flush()

	section(w, "Data types")
	tw = tabwriter.NewWriter(w, 0, 0, tabPadding, ' ', 0)
	fmt.Fprintln(tw, "  TYPE\tSTATUS\tTTL\tDESCRIPTION")
	for _, dt := range types {
		status := "Disabled"
		if policy.Enabled(dt) {
			status = "Enabled"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n",
			dt, status, cache.DescribeTTL(policy.TTLHours(dt)), cfg.DescribeDataType(string(dt)))
	}
	_ = tw.Flush()

	section(w, "Environment")
	tw = tabwriter.NewWriter(w, 0, 0, tabPadding, ' ', 0)
	fmt.Fprintf(tw, "  %s\toverride the cache directory\n", config.EnvCacheDir)
	fmt.Fprintf(tw, "  %s\tenable or disable the whole cache\n", config.EnvCacheEnabled)
	fmt.Fprintf(tw, "  %s\toverride the TTL of every data type\n", config.EnvCacheTTLHours)
	_ = tw.Flush()
}

// NewCacheListCmd creates the cache list command.
func NewCacheListCmd() *cobra.Command {
	var (
		ticker   string
		dataType string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cache entries, newest first",
		Example: `  # List everything cached for MSFT
  tickerscope cache list --ticker MSFT`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer closeStore(store)

			entries := store.List(cmd.Context(), ticker, payload.DataType(dataType))
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No cache entries found")
				return nil
			}
			renderEntries(cmd.OutOrStdout(), entries, time.Now())
			return nil
		},
	}

	cmd.Flags().StringVar(&ticker, "ticker", "", "only list entries for this ticker")
	cmd.Flags().StringVar(&dataType, "type", "", "only list entries of this data type")
	return cmd
}

func renderEntries(w io.Writer, entries []cache.Entry, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 0, tabPadding, ' ', 0)
	fmt.Fprintln(tw, "TICKER\tTYPE\tFREQUENCY\tPERIOD\tSIZE\tCREATED\tEXPIRES")
	for _, e := range entries {
		expires := "expired"
		if !e.IsExpiredAt(now) {
			expires = cache.FormatTimeAgo(e.ExpiresAt, now)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Ticker, e.DataType, orDash(e.Frequency), orDash(e.Period),
			cache.FormatSize(e.FileSize), cache.FormatTimeAgo(e.CreatedAt, now), expires)
	}
	_ = tw.Flush()
}

// heading prints a title, styled when w is a terminal.
func heading(w io.Writer, title string) {
	if f, ok := w.(*os.File); ok && isTerminal(f) {
		fmt.Fprintln(w, headingStyle.Render(title))
		return
	}
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, strings.Repeat("=", len(title)))
}

func section(w io.Writer, title string) {
	fmt.Fprintln(w)
	if f, ok := w.(*os.File); ok && isTerminal(f) {
		fmt.Fprintln(w, sectionStyle.Render(title))
		return
	}
	fmt.Fprintln(w, title+":")
}

func titleCase(name string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(name, "_", " "))
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
