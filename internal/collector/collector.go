package collector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/pfrederiksen/local-events/internal/event"
	"github.com/pfrederiksen/local-events/internal/logger"
	"github.com/pfrederiksen/local-events/internal/metrics"
	"github.com/pfrederiksen/local-events/internal/scraper"
	"github.com/pfrederiksen/local-events/internal/storage"
	"github.com/pfrederiksen/local-events/internal/venues"
)

const (
	// DefaultSettleTime is waited after navigation when neither the venue
	// nor the source sets a wait time.
	DefaultSettleTime = 3 * time.Second
	// DefaultContentHashTTL is how long a page hash is remembered.
	DefaultContentHashTTL = 7 * 24 * time.Hour

	contentHashPrefix = "content-hash:"
)

// ErrCollectionInProgress is returned when the source already has a running attempt.
var ErrCollectionInProgress = errors.New("collection already in progress")

// Store is the persistence the collector writes to. *storage.Store implements it.
type Store interface {
	CreateLog(ctx context.Context, sourceID uint, startedAt time.Time) (*storage.ScrapingLog, error)
	CompleteLog(ctx context.Context, l *storage.ScrapingLog) error
	UpdateSource(ctx context.Context, id uint, mutate func(*storage.Source)) (*storage.Source, error)
	FindDuplicate(ctx context.Context, title string, start time.Time, loc storage.Location) (bool, error)
	CreateEvent(ctx context.Context, e *storage.Event) error
}

// Opener loads a URL in an isolated browser. *browser.Browser implements it.
type Opener interface {
	Open(ctx context.Context, rawURL string) (scraper.Page, error)
}

// Registry looks up static venue configurations. *venues.Registry implements it.
type Registry interface {
	Get(name string) (venues.Config, bool)
}

// Cache remembers page hashes between attempts. *cache.Cache implements it.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Result summarizes one finished attempt.
type Result struct {
	SourceID   uint
	SourceName string
	AttemptID  string
	LogID      uint

	Succeeded bool
	// Status and SuccessRate are the source's values after the attempt.
	Status      string
	SuccessRate float64

	Strategy       string
	HTTPStatus     int
	ContentHash    string
	ContentChanged bool

	// EventsFound counts valid candidates; EventsStored those written.
	EventsFound  int
	EventsStored int
	Duplicates   int
	Rejected     int

	Duration time.Duration
}

// Collector runs collection attempts.
type Collector struct {
	store     Store
	browser   Opener
	extractor *scraper.Extractor
	registry  Registry
	cache     Cache
	metrics   *metrics.Manager
	log       *logger.Logger

	health     HealthPolicy
	settleTime time.Duration
	hashTTL    time.Duration
	now        func() time.Time

	mu      sync.Mutex
	running map[uint]struct{}
}

// Option configures a Collector.
type Option func(*Collector)

// WithRegistry sets the static venue registry consulted first.
func WithRegistry(r Registry) Option {
	return func(c *Collector) { c.registry = r }
}

// WithCache enables content-change detection.
func WithCache(cache Cache) Option {
	return func(c *Collector) { c.cache = cache }
}

// WithMetrics sets the metrics manager.
func WithMetrics(m *metrics.Manager) Option {
	return func(c *Collector) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Collector) {
		if l != nil {
			c.log = l
		}
	}
}

// WithHealthPolicy sets the status thresholds.
func WithHealthPolicy(p HealthPolicy) Option {
	return func(c *Collector) { c.health = p }
}

// WithSettleTime sets the default post-navigation wait.
func WithSettleTime(d time.Duration) Option {
	return func(c *Collector) {
		if d >= 0 {
			c.settleTime = d
		}
	}
}

// WithContentHashTTL sets how long page hashes are cached.
func WithContentHashTTL(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.hashTTL = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Collector.
func New(store Store, browser Opener, extractor *scraper.Extractor, opts ...Option) *Collector {
	c := &Collector{
		store:      store,
		browser:    browser,
		extractor:  extractor,
		log:        logger.With(logger.Fields{"component": "collector"}),
		health:     DefaultHealthPolicy(),
		settleTime: DefaultSettleTime,
		hashTTL:    DefaultContentHashTTL,
		now:        time.Now,
		running:    make(map[uint]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Collector) acquire(id uint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.running[id]; busy {
		return false
	}
	c.running[id] = struct{}{}
	return true
}

func (c *Collector) release(id uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.running, id)
}

// InProgress reports whether an attempt for the source is running.
func (c *Collector) InProgress(id uint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, busy := c.running[id]
	return busy
}

// CollectFromSource runs one attempt against src. The returned Result is
// non-nil for every attempt that started, failed ones included; the error
// describes why the attempt failed.
func (c *Collector) CollectFromSource(ctx context.Context, src storage.Source) (*Result, error) {
	if !c.acquire(src.ID) {
		c.metrics.ObserveAttempt(metrics.OutcomeSkipped, 0)
		return nil, fmt.Errorf("source %d (%s): %w", src.ID, src.Name, ErrCollectionInProgress)
	}
	defer c.release(src.ID)

	started := c.now()
	res := &Result{SourceID: src.ID, SourceName: src.Name, AttemptID: uuid.NewString()}
	log := c.log.With(logger.Fields{
		"source_id":  src.ID,
		"source":     src.Name,
		"attempt_id": res.AttemptID,
	})
	log.Info("Collection started", logger.Fields{"url": src.URL})

	entry, err := c.store.CreateLog(ctx, src.ID, started)
	if err != nil {
		log.Error("Creating scraping log failed", nil, err)
	} else {
		res.LogID = entry.ID
	}

	runErr := c.attempt(ctx, src, res, log)
	res.Duration = c.now().Sub(started)
	res.Succeeded = runErr == nil

	// Bookkeeping must land even when the caller's context was canceled.
	c.finish(context.WithoutCancel(ctx), src, entry, res, runErr, log)

	if runErr != nil {
		return res, fmt.Errorf("collecting %s: %w", src.Name, runErr)
	}
	return res, nil
}

// attempt covers the EXTRACTING and STORING states.
func (c *Collector) attempt(ctx context.Context, src storage.Source, res *Result, log *logger.Logger) error {
	cfg := c.resolveConfig(src, log)
	target := src.URL
	if target == "" {
		target = cfg.URL
	}

	page, err := c.browser.Open(ctx, target)
	if err != nil {
		var se *scraper.StatusError
		if errors.As(err, &se) {
			res.HTTPStatus = se.Code
		}
		return fmt.Errorf("opening %s: %w", target, err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.Warn("Closing page failed", logger.Fields{"error": err.Error()})
		}
	}()
	res.HTTPStatus = page.Status()

	settle := c.settleTime
	if cfg.WaitTime > 0 {
		settle = cfg.WaitTime
	}
	if err := sleep(ctx, settle); err != nil {
		return fmt.Errorf("waiting for page to settle: %w", err)
	}

	html, err := c.extractor.Prepare(ctx, page, cfg)
	if err != nil {
		return fmt.Errorf("preparing page: %w", err)
	}
	c.trackContent(ctx, src.ID, html, res, log)

	pageURL := page.URL()
	if pageURL == "" {
		pageURL = target
	}
	out, err := c.extractor.Extract(html, scraper.Input{
		PageURL:    pageURL,
		Config:     cfg,
		SourceType: src.SourceType,
		Now:        c.now(),
	})
	if err != nil {
		return fmt.Errorf("extracting events: %w", err)
	}
	res.Strategy = out.Strategy
	res.EventsFound = len(out.Candidates)
	res.Duplicates = out.Duplicates
	res.Rejected = out.Rejected
	log.Debug("Extraction finished", logger.Fields{
		"strategy":   out.Strategy,
		"found":      out.Found,
		"valid":      len(out.Candidates),
		"rejected":   out.Rejected,
		"duplicates": out.Duplicates,
	})

	c.storeEvents(ctx, src, out.Candidates, res, log)
	return nil
}

// resolveConfig prefers the static registry, then the source's own JSON
// configs, then plain intelligent detection.
func (c *Collector) resolveConfig(src storage.Source, log *logger.Logger) venues.Config {
	if c.registry != nil {
		if cfg, ok := c.registry.Get(src.Name); ok {
			if cfg.SourceType == "" {
				cfg.SourceType = src.SourceType
			}
			return cfg
		}
	}
	cfg, err := venues.ParseSourceConfig(src.Name, src.URL, src.SourceType, src.ExtractionConfig, src.ScrapingConfig)
	if err != nil {
		log.Warn("Ignoring invalid source config", logger.Fields{"error": err.Error()})
		return venues.Config{Name: src.Name, URL: src.URL, SourceType: src.SourceType}
	}
	return cfg
}

func (c *Collector) trackContent(ctx context.Context, sourceID uint, html string, res *Result, log *logger.Logger) {
	sum := sha256.Sum256([]byte(html))
	res.ContentHash = hex.EncodeToString(sum[:])
	res.ContentChanged = true
	if c.cache == nil {
		return
	}

	key := contentHashPrefix + strconv.FormatUint(uint64(sourceID), 10)
	prev, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		log.Warn("Reading content hash failed", logger.Fields{"error": err.Error()})
	} else if ok && prev == res.ContentHash {
		res.ContentChanged = false
	}
	if err := c.cache.Set(ctx, key, res.ContentHash, c.hashTTL); err != nil {
		log.Warn("Writing content hash failed", logger.Fields{"error": err.Error()})
	}
}

// storeEvents persists new candidates. Per-event failures are logged and skipped.
func (c *Collector) storeEvents(ctx context.Context, src storage.Source, candidates []event.Candidate, res *Result, log *logger.Logger) {
	for _, cand := range candidates {
		loc := locationFor(src, cand)
		title := strings.TrimSpace(cand.Title)
		id := cand.ID()

		dup, err := c.store.FindDuplicate(ctx, title, cand.Start, loc)
		if err != nil {
			log.Warn("Duplicate check failed", logger.Fields{"candidate_id": id, "title": title, "error": err.Error()})
			continue
		}
		if dup {
			res.Duplicates++
			log.Debug("Duplicate event skipped", logger.Fields{"candidate_id": id, "title": title, "start": cand.Start})
			continue
		}

		e := &storage.Event{
			Title:          title,
			Description:    cand.Description,
			StartDateTime:  cand.Start,
			EndDateTime:    cand.End,
			AllDay:         cand.AllDay,
			Category:       cand.Category,
			Price:          cand.Price,
			ImageURL:       cand.ImageURL,
			SourceURL:      cand.SourceURL,
			Tags:           cand.TagString(),
			VenueID:        loc.VenueID,
			CustomLocation: loc.CustomLocation,
			SourceID:       src.ID,
			Status:         storage.EventPublished,
		}
		if err := c.store.CreateEvent(ctx, e); err != nil {
			log.Warn("Storing event failed", logger.Fields{"candidate_id": id, "title": title, "error": err.Error()})
			continue
		}
		res.EventsStored++
	}
}

// locationFor places an event at the source's venue when it has one,
// otherwise at the candidate's location text or the source name.
func locationFor(src storage.Source, cand event.Candidate) storage.Location {
	if src.VenueID != nil {
		id := *src.VenueID
		return storage.Location{VenueID: &id}
	}
	text := strings.TrimSpace(cand.Location)
	if text == "" {
		text = strings.TrimSpace(src.Name)
	}
	return storage.Location{CustomLocation: &text}
}

type attemptMetadata struct {
	AttemptID      string `json:"attempt_id"`
	DurationMS     int64  `json:"duration_ms"`
	HTTPStatus     int    `json:"http_status,omitempty"`
	ContentHash    string `json:"content_hash,omitempty"`
	ContentChanged bool   `json:"content_changed"`
	Strategy       string `json:"strategy,omitempty"`
	EventsStored   int    `json:"events_stored"`
	Duplicates     int    `json:"duplicates"`
	Rejected       int    `json:"rejected"`
}

// finish updates source stats and completes the log. Failures here are
// logged and never replace the attempt's own outcome.
func (c *Collector) finish(ctx context.Context, src storage.Source, entry *storage.ScrapingLog, res *Result, runErr error, log *logger.Logger) {
	updated, err := c.store.UpdateSource(ctx, src.ID, func(s *storage.Source) {
		s.RecordAttempt(res.Succeeded, c.now())
		s.Status = c.health.Status(s.SuccessRate, res.Succeeded)
	})
	if err != nil {
		log.Error("Updating source stats failed", nil, err)
	} else {
		res.Status = updated.Status
		res.SuccessRate = updated.SuccessRate
		c.metrics.SetSourceHealth(src.Name, updated.SuccessRate)
	}

	if entry != nil {
		completed := c.now()
		entry.CompletedAt = &completed
		entry.EventsFound = res.EventsFound
		entry.Status = storage.LogCompleted
		if runErr != nil {
			entry.Status = storage.LogFailed
			msg := runErr.Error()
			entry.ErrorMessage = &msg
		}
		meta, err := json.Marshal(attemptMetadata{
			AttemptID:      res.AttemptID,
			DurationMS:     res.Duration.Milliseconds(),
			HTTPStatus:     res.HTTPStatus,
			ContentHash:    res.ContentHash,
			ContentChanged: res.ContentChanged,
			Strategy:       res.Strategy,
			EventsStored:   res.EventsStored,
			Duplicates:     res.Duplicates,
			Rejected:       res.Rejected,
		})
		if err == nil {
			entry.Metadata = datatypes.JSON(meta)
		}
		if err := c.store.CompleteLog(ctx, entry); err != nil {
			log.Error("Completing scraping log failed", nil, err)
		}
	}

	outcome := metrics.OutcomeSuccess
	if runErr != nil {
		outcome = metrics.OutcomeFailure
	}
	c.metrics.ObserveAttempt(outcome, res.Duration)
	c.metrics.ObserveEvents(res.EventsStored, res.Duplicates, res.Rejected)
	if res.ContentChanged && res.ContentHash != "" {
		c.metrics.ContentChanged()
	}

	fields := logger.Fields{
		"duration_ms":   res.Duration.Milliseconds(),
		"events_found":  res.EventsFound,
		"events_stored": res.EventsStored,
		"duplicates":    res.Duplicates,
		"status":        res.Status,
		"success_rate":  res.SuccessRate,
	}
	if runErr != nil {
		log.Error("Collection failed", fields, runErr)
		return
	}
	log.Info("Collection completed", fields)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
