package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/pfrederiksen/local-events/internal/browser"
	"github.com/pfrederiksen/local-events/internal/cache"
	"github.com/pfrederiksen/local-events/internal/collector"
	"github.com/pfrederiksen/local-events/internal/config"
	"github.com/pfrederiksen/local-events/internal/dates"
	"github.com/pfrederiksen/local-events/internal/event"
	"github.com/pfrederiksen/local-events/internal/logger"
	"github.com/pfrederiksen/local-events/internal/metrics"
	"github.com/pfrederiksen/local-events/internal/scheduler"
	"github.com/pfrederiksen/local-events/internal/scraper"
	"github.com/pfrederiksen/local-events/internal/storage"
	"github.com/pfrederiksen/local-events/internal/venues"
)

// app wires every component from one Config.
type app struct {
	cfg       *config.Config
	log       *logger.Logger
	store     *storage.Store
	cache     *cache.Cache
	registry  *venues.Registry
	parser    *dates.Parser
	metrics   *metrics.Manager
	collector *collector.Collector
	scheduler *scheduler.Scheduler
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	registry, err := venues.Default()
	if err != nil {
		return nil, fmt.Errorf("loading venue catalog: %w", err)
	}
	parser, err := newParser(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	kv, err := cache.New(ctx, store.DB())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	m := metrics.NewManager()

	bopts := browser.DefaultOptions()
	if cfg.UserAgent != "" {
		bopts.UserAgent = cfg.UserAgent
	}
	bopts.ViewportWidth = cfg.ViewportWidth
	bopts.ViewportHeight = cfg.ViewportHeight
	bopts.Headless = cfg.Headless
	bopts.ExecPath = cfg.ChromePath
	bopts.LaunchTimeout = cfg.LaunchTimeout
	bopts.NavigationTimeout = cfg.NavigationTimeout
	bopts.ActionTimeout = cfg.SelectorTimeout

	extractor := scraper.NewExtractor(parser,
		scraper.WithLogger(log.With(logger.Fields{"component": "extractor"})),
		scraper.WithSelectorTimeout(cfg.SelectorTimeout),
	)

	col := collector.New(store, browser.New(bopts, log), extractor,
		collector.WithRegistry(registry),
		collector.WithCache(kv),
		collector.WithMetrics(m),
		collector.WithLogger(log.With(logger.Fields{"component": "collector"})),
		collector.WithHealthPolicy(collector.HealthPolicy{ErrorBelow: cfg.ErrorBelow, WarningBelow: cfg.WarningBelow}),
		collector.WithSettleTime(cfg.SettleTime),
		collector.WithContentHashTTL(cfg.ContentHashTTL),
	)

	sched := scheduler.New(store, col, scheduler.Options{
		StaleAfter:    cfg.StaleAfter,
		BatchSize:     cfg.BatchSize,
		SourceDelay:   cfg.SourceDelay,
		CycleInterval: cfg.CycleInterval,
		ErrorBackoff:  cfg.ErrorBackoff,
	},
		scheduler.WithLogger(log.With(logger.Fields{"component": "scheduler"})),
		scheduler.WithMetrics(m),
		scheduler.WithCache(kv),
	)

	return &app{
		cfg:       cfg,
		log:       log,
		store:     store,
		cache:     kv,
		registry:  registry,
		parser:    parser,
		metrics:   m,
		collector: col,
		scheduler: sched,
	}, nil
}

func newParser(cfg *config.Config) (*dates.Parser, error) {
	p, err := dates.NewParser(cfg.Timezone, dates.WithDefaultHour(cfg.DefaultEventHour))
	if err != nil {
		return nil, fmt.Errorf("creating date parser: %w", err)
	}
	return p, nil
}

// Close releases the database.
func (a *app) Close() error {
	return a.store.Close()
}

// collectOne runs a single attempt for the named source, due or not.
func (a *app) collectOne(ctx context.Context, name string) (*scheduler.Summary, error) {
	src, err := a.store.SourceByName(ctx, name)
	if err != nil {
		return nil, err
	}

	sum := &scheduler.Summary{Due: 1}
	res, err := a.collector.CollectFromSource(ctx, *src)
	if res != nil {
		sum.Results = append(sum.Results, res)
		sum.EventsStored = res.EventsStored
		sum.Duration = res.Duration
	}
	switch {
	case errors.Is(err, collector.ErrCollectionInProgress):
		sum.Skipped = 1
	case err != nil:
		sum.Failed = 1
		sum.Errors = append(sum.Errors, scheduler.SourceError{SourceID: src.ID, Source: src.Name, Err: err})
	default:
		sum.Succeeded = 1
	}
	return sum, err
}

// seed creates a Source for every catalog venue missing from the database
// and returns the names it added. Venue-like sources get a Venue row so
// their events are placed there.
func (a *app) seed(ctx context.Context) ([]string, error) {
	existing, err := a.store.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(existing))
	for _, s := range existing {
		have[s.Name] = true
	}

	var added []string
	for _, name := range a.registry.List() {
		cfg, _ := a.registry.Get(name)
		if have[cfg.Name] {
			continue
		}
		extraction, scraping, err := cfg.Blobs()
		if err != nil {
			return added, fmt.Errorf("encoding config for %s: %w", cfg.Name, err)
		}

		src := &storage.Source{
			Name:             cfg.Name,
			URL:              cfg.URL,
			SourceType:       cfg.SourceType,
			ExtractionConfig: extraction,
			ScrapingConfig:   scraping,
			IsActive:         true,
		}
		if hasOwnVenue(cfg.SourceType) {
			v, err := a.store.EnsureVenue(ctx, cfg.Name, "")
			if err != nil {
				return added, err
			}
			src.VenueID = &v.ID
		}
		if err := a.store.CreateSource(ctx, src); err != nil {
			return added, err
		}
		added = append(added, cfg.Name)
	}
	return added, nil
}

// hasOwnVenue reports whether events of a source type happen at the source
// itself rather than at places it merely lists.
func hasOwnVenue(sourceType string) bool {
	switch sourceType {
	case event.SourceGovernment, event.SourceMedia:
		return false
	}
	return true
}
