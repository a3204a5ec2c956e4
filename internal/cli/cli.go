package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/local-events/internal/calendar"
	"github.com/pfrederiksen/local-events/internal/config"
	"github.com/pfrederiksen/local-events/internal/dates"
	"github.com/pfrederiksen/local-events/internal/filter"
	"github.com/pfrederiksen/local-events/internal/logger"
	"github.com/pfrederiksen/local-events/internal/storage"
	"github.com/pfrederiksen/local-events/internal/venues"
)

const (
	ExitSuccess = 0
	ExitError   = 1
)

const shutdownTimeout = 5 * time.Second

// formatICS is only offered by the events command.
const formatICS = "ics"

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	logLevel   string
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "local-events",
		Short: "Collect upcoming local events from venue websites",
		Long: `Collects upcoming events from venue, restaurant, brewery, cultural and
government websites with a headless browser, normalizes them and stores new
ones. Each source's health is tracked across attempts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "YAML config file (default $"+config.EnvConfigPath+")")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level override: debug, info, warn, error")

	cmd.AddCommand(
		newRunOnceCmd(flags),
		newStartCmd(flags),
		newVenuesCmd(),
		newSourcesCmd(flags),
		newEventsCmd(flags),
		newSeedCmd(flags),
		newParseDateCmd(flags),
	)
	return cmd
}

// load reads the configuration and installs the default logger on stderr.
func (f *rootFlags) load(cmd *cobra.Command) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, nil, err
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	log := logger.New(level, cmd.ErrOrStderr())
	logger.SetDefault(log)
	return cfg, log, nil
}

func (f *rootFlags) open(cmd *cobra.Command) (*app, error) {
	cfg, log, err := f.load(cmd)
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, log)
}

func newRunOnceCmd(flags *rootFlags) *cobra.Command {
	var source, format string
	cmd := &cobra.Command{
		Use:   "run-once",
		Short: "Collect every due source once and exit",
		Long: `Runs a single collection cycle over the sources that are due, or over one
named source with --source, and prints a report. Exits non-zero when the cycle
itself fails; failing sources are reported but do not change the exit code.
With --source, a failed attempt on that source exits non-zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := ParseFormat(format)
			if err != nil {
				return err
			}
			a, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			started := time.Now()
			if source != "" {
				sum, err := a.collectOne(ctx, source)
				if sum != nil {
					if werr := WriteRunReport(cmd.OutOrStdout(), NewRunReport(sum, started), out); werr != nil {
						return werr
					}
				}
				return err
			}

			sum, err := a.scheduler.RunOnce(ctx)
			if sum != nil {
				if werr := WriteRunReport(cmd.OutOrStdout(), NewRunReport(sum, started), out); werr != nil {
					return werr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Collect only this source, even if it is not due")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")
	return cmd
}

func newStartCmd(flags *rootFlags) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the collection loop until interrupted",
		Long: `Runs collection cycles continuously and serves /metrics and /healthz.
SIGINT or SIGTERM stops the loop after the attempt in flight finishes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			addr := a.cfg.MetricsAddr
			if metricsAddr != "" {
				addr = metricsAddr
			}
			srv := newServer(addr, newRouter(a.metrics, a.scheduler.Running))
			go func() {
				a.log.Info("Serving metrics", logger.Fields{"addr": addr})
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.log.Error("Metrics server failed", nil, err)
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			done := make(chan struct{})
			defer close(done)
			go func() {
				select {
				case sig := <-sigCh:
					a.log.Info("Stopping scheduler", logger.Fields{"signal": sig.String()})
					a.scheduler.Stop()
				case <-done:
				}
			}()

			runErr := a.scheduler.Start(cmd.Context())

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.log.Warn("Metrics server shutdown failed", logger.Fields{"error": err.Error()})
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Listen address for /metrics and /healthz (default from config)")
	return cmd
}

func newVenuesCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "venues",
		Short: "List the built-in venue catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := ParseFormat(format)
			if err != nil {
				return err
			}
			reg, err := venues.Default()
			if err != nil {
				return fmt.Errorf("loading venue catalog: %w", err)
			}
			return WriteVenues(cmd.OutOrStdout(), reg, out)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")
	return cmd
}

func newSourcesCmd(flags *rootFlags) *cobra.Command {
	var format, sortFlag string
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List stored sources and their health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := ParseFormat(format)
			if err != nil {
				return err
			}
			order, err := parseSortOrder(sortFlag, SortByName, SortByHealth, SortByLastScraped)
			if err != nil {
				return err
			}
			a, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			sources, err := a.store.ListSources(cmd.Context())
			if err != nil {
				return err
			}
			sortSources(sources, order)

			lastRuns := make(map[uint]storage.ScrapingLog, len(sources))
			for _, s := range sources {
				logs, err := a.store.LogsForSource(cmd.Context(), s.ID, 1)
				if err != nil {
					return err
				}
				if len(logs) > 0 {
					lastRuns[s.ID] = logs[0]
				}
			}
			return WriteSources(cmd.OutOrStdout(), sources, lastRuns, out)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")
	cmd.Flags().StringVar(&sortFlag, "sort", string(SortByName), "Sort by: name, health, last-scraped")
	return cmd
}

func newEventsCmd(flags *rootFlags) *cobra.Command {
	var source, format, sortFlag, dateRange string
	var verbose bool
	f := filter.New(nil)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List events stored for a source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ics := strings.EqualFold(strings.TrimSpace(format), formatICS)
			out := FormatText
			if !ics {
				parsed, err := ParseFormat(format)
				if err != nil {
					return err
				}
				out = parsed
			}
			order, err := parseSortOrder(sortFlag, SortByDate, SortByTitle, SortByCategory)
			if err != nil {
				return err
			}
			if strings.TrimSpace(source) == "" {
				return errors.New("--source is required")
			}
			a, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			src, err := a.store.SourceByName(cmd.Context(), source)
			if err != nil {
				return err
			}
			events, err := a.store.EventsForSource(cmd.Context(), src.ID)
			if err != nil {
				return err
			}
			loc := a.parser.Location()
			for i := range events {
				events[i].StartDateTime = events[i].StartDateTime.In(loc)
			}

			view := f.In(loc)
			if dateRange != "" {
				if view.DateFrom, view.DateTo, err = filter.ParseDateRange(dateRange, time.Now().In(loc)); err != nil {
					return err
				}
			}
			events = view.Apply(events)
			sortEvents(events, order)
			if ics {
				_, err := io.WriteString(cmd.OutOrStdout(), calendar.GenerateICS(events, calendar.Feed{
					Name:     src.Name,
					Location: loc,
					Place:    func(e storage.Event) string { return placeOf(src, e) },
				}))
				return err
			}
			return WriteEvents(cmd.OutOrStdout(), events, out, verbose)
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Source name (required)")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text, json or ics")
	cmd.Flags().StringVar(&sortFlag, "sort", string(SortByDate), "Sort by: date, title, category")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Show price, location, tags and link")
	cmd.Flags().StringVar(&dateRange, "range", "", "Only events in a date range, e.g. 'Jun 1-15' or 'July'")
	cmd.Flags().StringSliceVar(&f.Titles, "match", nil, "Only events whose title contains one of these")
	cmd.Flags().StringSliceVar(&f.Categories, "category", nil, "Only events in one of these categories")
	cmd.Flags().StringSliceVar(&f.Tags, "tag", nil, "Only events carrying one of these tags")
	cmd.Flags().BoolVar(&f.WeekendsOnly, "weekends", false, "Only Saturday and Sunday events")
	cmd.Flags().BoolVar(&f.FreeOnly, "free", false, "Only free events")
	return cmd
}

func newSeedCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create sources for catalog venues missing from the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			added, err := a.seed(cmd.Context())
			for _, name := range added {
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", name)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d sources added.\n", len(added))
			return nil
		},
	}
}

func newParseDateCmd(flags *rootFlags) *cobra.Command {
	var at, format string
	cmd := &cobra.Command{
		Use:   "parse-date TEXT...",
		Short: "Show how date texts are normalized",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := ParseFormat(format)
			if err != nil {
				return err
			}
			cfg, _, err := flags.load(cmd)
			if err != nil {
				return err
			}
			parser, err := newParser(cfg)
			if err != nil {
				return err
			}

			ref := time.Now()
			if at != "" {
				if ref, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
			}

			results := make([]dates.Result, len(args))
			oks := make([]bool, len(args))
			for i, text := range args {
				results[i], oks[i] = parser.Parse(text, ref)
			}
			return WriteParse(cmd.OutOrStdout(), args, results, oks, out)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Reference instant in RFC 3339 (default now)")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")
	return cmd
}

// placeOf names where an event happens.
func placeOf(src *storage.Source, e storage.Event) string {
	if e.CustomLocation != nil {
		return *e.CustomLocation
	}
	if src.Venue != nil {
		return src.Venue.Name
	}
	return ""
}

// Execute runs the CLI
func Execute() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}
	os.Exit(ExitSuccess)
}
