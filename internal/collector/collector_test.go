package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/pfrederiksen/local-events/internal/cache"
	"github.com/pfrederiksen/local-events/internal/dates"
	"github.com/pfrederiksen/local-events/internal/logger"
	"github.com/pfrederiksen/local-events/internal/scraper"
	"github.com/pfrederiksen/local-events/internal/storage"
	"github.com/pfrederiksen/local-events/internal/venues"
)

const eventsPage = `<html><head>
<script type="application/ld+json">
{"@context": "https://schema.org", "@type": "MusicEvent", "name": "Jazz Night",
 "startDate": "2025-06-14T20:00:00", "location": {"@type": "Place", "name": "Riverside Park"}}
</script>
<script type="application/ld+json">
{"@context": "https://schema.org", "@type": "MusicEvent", "name": "Jazz Night",
 "startDate": "2025-06-14T20:00:00", "location": {"@type": "Place", "name": "Riverside Park"}}
</script>
<script type="application/ld+json">
{"@context": "https://schema.org", "@type": "Event", "name": "Farmers Market",
 "startDate": "2025-06-21T09:00:00", "isAccessibleForFree": true}
</script>
</head><body></body></html>`

type fakePage struct {
	html   string
	status int

	mu     sync.Mutex
	closed int
}

func (p *fakePage) URL() string                                              { return "https://www.example.com/events" }
func (p *fakePage) Status() int                                              { return p.status }
func (p *fakePage) WaitVisible(context.Context, string, time.Duration) error { return nil }
func (p *fakePage) Click(context.Context, string) error                      { return nil }
func (p *fakePage) HTML(context.Context) (string, error)                     { return p.html, nil }
func (p *fakePage) FrameHTML(context.Context) (string, error)                { return "", scraper.ErrNoFrame }

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

type openerFunc func(ctx context.Context, rawURL string) (scraper.Page, error)

func (f openerFunc) Open(ctx context.Context, rawURL string) (scraper.Page, error) {
	return f(ctx, rawURL)
}

func serve(html string) openerFunc {
	return func(context.Context, string) (scraper.Page, error) {
		return &fakePage{html: html, status: 200}, nil
	}
}

type mapRegistry map[string]venues.Config

func (r mapRegistry) Get(name string) (venues.Config, bool) {
	cfg, ok := r[name]
	return cfg, ok
}

// Sunday 2025-06-01 10:00 in New York.
var testNow = time.Date(2025, time.June, 1, 14, 0, 0, 0, time.UTC)

type fixture struct {
	store *storage.Store
	cache *cache.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := storage.Open(ctx, "sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	c, err := cache.New(ctx, s.DB())
	if err != nil {
		t.Fatalf("cache.New() error = %v", err)
	}
	return &fixture{store: s, cache: c}
}

func (f *fixture) collector(t *testing.T, opener Opener, opts ...Option) *Collector {
	t.Helper()
	parser, err := dates.NewParser("America/New_York")
	if err != nil {
		t.Fatalf("NewParser() error = %v", err)
	}
	x := scraper.NewExtractor(parser, scraper.WithLogger(logger.Discard()), scraper.WithSettleAfterClick(0))
	base := []Option{
		WithCache(f.cache),
		WithLogger(logger.Discard()),
		WithSettleTime(0),
		WithClock(func() time.Time { return testNow }),
	}
	return New(f.store, opener, x, append(base, opts...)...)
}

func (f *fixture) source(t *testing.T, src storage.Source) storage.Source {
	t.Helper()
	if src.Name == "" {
		src.Name = "Riverside Events"
	}
	if src.URL == "" {
		src.URL = "https://www.example.com/events"
	}
	src.IsActive = true
	if err := f.store.CreateSource(context.Background(), &src); err != nil {
		t.Fatalf("CreateSource() error = %v", err)
	}
	return src
}

func (f *fixture) reload(t *testing.T, name string) *storage.Source {
	t.Helper()
	src, err := f.store.SourceByName(context.Background(), name)
	if err != nil {
		t.Fatalf("SourceByName() error = %v", err)
	}
	return src
}

func (f *fixture) logs(t *testing.T, sourceID uint) []storage.ScrapingLog {
	t.Helper()
	logs, err := f.store.LogsForSource(context.Background(), sourceID, 100)
	if err != nil {
		t.Fatalf("LogsForSource() error = %v", err)
	}
	return logs
}

func TestCollectFromSource_Success(t *testing.T) {
	f := newFixture(t)
	src := f.source(t, storage.Source{})
	page := &fakePage{html: eventsPage, status: 200}
	c := f.collector(t, openerFunc(func(context.Context, string) (scraper.Page, error) { return page, nil }))

	res, err := c.CollectFromSource(context.Background(), src)
	if err != nil {
		t.Fatalf("CollectFromSource() error = %v", err)
	}

	if !res.Succeeded || res.EventsFound != 2 || res.EventsStored != 2 || res.Duplicates != 1 {
		t.Errorf("result = %+v, want 2 found, 2 stored, 1 duplicate", res)
	}
	if res.Strategy != scraper.StrategyIntelligent || res.HTTPStatus != 200 {
		t.Errorf("strategy/status = %q/%d", res.Strategy, res.HTTPStatus)
	}
	if page.closed != 1 {
		t.Errorf("page closed %d times, want 1", page.closed)
	}

	events, err := f.store.EventsForSource(context.Background(), src.ID)
	if err != nil {
		t.Fatalf("EventsForSource() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("stored %d events, want 2", len(events))
	}
	jazz := events[0]
	if jazz.Title != "Jazz Night" || jazz.CustomLocation == nil || *jazz.CustomLocation != "Riverside Park" || jazz.VenueID != nil {
		t.Errorf("jazz event = %+v", jazz)
	}
	if jazz.Category != "music" || jazz.Status != storage.EventPublished {
		t.Errorf("jazz category/status = %q/%q", jazz.Category, jazz.Status)
	}
	// The market has no location of its own and falls back to the source name.
	if market := events[1]; market.CustomLocation == nil || *market.CustomLocation != src.Name || market.Price != "Free" {
		t.Errorf("market event = %+v", market)
	}

	got := f.reload(t, src.Name)
	if got.TotalAttempts != 1 || got.SuccessfulAttempts != 1 || got.SuccessRate != 100 || got.Status != storage.StatusActive {
		t.Errorf("source stats = %d/%d rate %v status %q", got.SuccessfulAttempts, got.TotalAttempts, got.SuccessRate, got.Status)
	}
	if got.LastScrapedAt == nil || !got.LastScrapedAt.Equal(testNow) {
		t.Errorf("LastScrapedAt = %v, want %v", got.LastScrapedAt, testNow)
	}

	logs := f.logs(t, src.ID)
	if len(logs) != 1 {
		t.Fatalf("got %d logs, want 1", len(logs))
	}
	l := logs[0]
	if l.Status != storage.LogCompleted || l.EventsFound != 2 || l.ErrorMessage != nil || l.CompletedAt == nil {
		t.Errorf("log = %+v", l)
	}
	var meta attemptMetadata
	if err := json.Unmarshal(l.Metadata, &meta); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta.AttemptID != res.AttemptID || meta.HTTPStatus != 200 || meta.EventsStored != 2 || len(meta.ContentHash) != 64 || !meta.ContentChanged {
		t.Errorf("metadata = %+v", meta)
	}
}

func TestCollectFromSource_StorageIsIdempotent(t *testing.T) {
	f := newFixture(t)
	src := f.source(t, storage.Source{})
	c := f.collector(t, serve(eventsPage))
	ctx := context.Background()

	if _, err := c.CollectFromSource(ctx, src); err != nil {
		t.Fatalf("first CollectFromSource() error = %v", err)
	}
	res, err := c.CollectFromSource(ctx, src)
	if err != nil {
		t.Fatalf("second CollectFromSource() error = %v", err)
	}

	if res.EventsStored != 0 || res.EventsFound != 2 || res.Duplicates != 3 {
		t.Errorf("second result = %+v, want 0 stored, 2 found, 3 duplicates", res)
	}
	if res.ContentChanged {
		t.Error("ContentChanged = true for an identical page")
	}
	events, _ := f.store.EventsForSource(ctx, src.ID)
	if len(events) != 2 {
		t.Errorf("stored %d events after two runs, want 2", len(events))
	}
}

func TestCollectFromSource_DuplicateLogsCarryCandidateID(t *testing.T) {
	f := newFixture(t)
	src := f.source(t, storage.Source{})
	ctx := context.Background()

	if _, err := f.collector(t, serve(eventsPage)).CollectFromSource(ctx, src); err != nil {
		t.Fatalf("first CollectFromSource() error = %v", err)
	}

	var buf bytes.Buffer
	c := f.collector(t, serve(eventsPage), WithLogger(logger.New(logger.LevelDebug, &buf)))
	if _, err := c.CollectFromSource(ctx, src); err != nil {
		t.Fatalf("second CollectFromSource() error = %v", err)
	}

	ids := map[string]map[string]bool{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry struct {
			Message string         `json:"message"`
			Fields  map[string]any `json:"fields"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line %q: %v", line, err)
		}
		if entry.Message != "Duplicate event skipped" {
			continue
		}
		id, _ := entry.Fields["candidate_id"].(string)
		title, _ := entry.Fields["title"].(string)
		if len(id) != 40 {
			t.Errorf("candidate_id = %q, want a sha1 hex digest", id)
		}
		if ids[title] == nil {
			ids[title] = map[string]bool{}
		}
		ids[title][id] = true
	}
	if len(ids) != 2 {
		t.Fatalf("duplicate logs cover %d titles, want 2:\n%s", len(ids), buf.String())
	}
	if len(ids["Jazz Night"]) != 1 {
		t.Errorf("identical candidates logged with ids %v, want one", ids["Jazz Night"])
	}
}

func TestCollectFromSource_VenueLocation(t *testing.T) {
	f := newFixture(t)
	v, err := f.store.EnsureVenue(context.Background(), "The Blue Door", "12 Main St")
	if err != nil {
		t.Fatalf("EnsureVenue() error = %v", err)
	}
	src := f.source(t, storage.Source{Name: "The Blue Door", VenueID: &v.ID})
	c := f.collector(t, serve(eventsPage))

	if _, err := c.CollectFromSource(context.Background(), src); err != nil {
		t.Fatalf("CollectFromSource() error = %v", err)
	}
	events, _ := f.store.EventsForSource(context.Background(), src.ID)
	for _, e := range events {
		if e.VenueID == nil || *e.VenueID != v.ID || e.CustomLocation != nil {
			t.Errorf("event %q location = venue %v custom %v, want venue %d", e.Title, e.VenueID, e.CustomLocation, v.ID)
		}
	}
}

func TestCollectFromSource_HTTP500(t *testing.T) {
	f := newFixture(t)
	src := f.source(t, storage.Source{})
	c := f.collector(t, openerFunc(func(_ context.Context, rawURL string) (scraper.Page, error) {
		return nil, &scraper.StatusError{Code: 500, URL: rawURL}
	}))

	res, err := c.CollectFromSource(context.Background(), src)
	if !errors.Is(err, scraper.ErrBadStatus) {
		t.Fatalf("CollectFromSource() error = %v, want ErrBadStatus", err)
	}
	if res == nil || res.Succeeded || res.HTTPStatus != 500 {
		t.Fatalf("result = %+v, want failed with status 500", res)
	}

	got := f.reload(t, src.Name)
	if got.TotalAttempts != 1 || got.SuccessfulAttempts != 0 || got.SuccessRate != 0 {
		t.Errorf("source stats = %d/%d rate %v", got.SuccessfulAttempts, got.TotalAttempts, got.SuccessRate)
	}
	if got.Status != storage.StatusError {
		t.Errorf("Status = %q, want error", got.Status)
	}

	logs := f.logs(t, src.ID)
	if len(logs) != 1 || logs[0].Status != storage.LogFailed || logs[0].ErrorMessage == nil || *logs[0].ErrorMessage == "" {
		t.Fatalf("logs = %+v, want one failed log with a message", logs)
	}
	var meta attemptMetadata
	if err := json.Unmarshal(logs[0].Metadata, &meta); err != nil || meta.HTTPStatus != 500 {
		t.Errorf("metadata = %+v (err %v), want http_status 500", meta, err)
	}
}

func TestCollectFromSource_ConcurrencyGuard(t *testing.T) {
	f := newFixture(t)
	src := f.source(t, storage.Source{})

	entered := make(chan struct{})
	proceed := make(chan struct{})
	var calls int
	c := f.collector(t, openerFunc(func(context.Context, string) (scraper.Page, error) {
		calls++
		if calls == 1 {
			close(entered)
			<-proceed
		}
		return &fakePage{html: eventsPage, status: 200}, nil
	}))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := c.CollectFromSource(ctx, src)
		done <- err
	}()
	<-entered

	if !c.InProgress(src.ID) {
		t.Error("InProgress() = false during an attempt")
	}
	res, err := c.CollectFromSource(ctx, src)
	if !errors.Is(err, ErrCollectionInProgress) || res != nil {
		t.Errorf("concurrent CollectFromSource() = %v, %v, want ErrCollectionInProgress", res, err)
	}
	if n := len(f.logs(t, src.ID)); n != 1 {
		t.Errorf("got %d logs during the attempt, want 1", n)
	}

	close(proceed)
	if err := <-done; err != nil {
		t.Fatalf("first CollectFromSource() error = %v", err)
	}
	if c.InProgress(src.ID) {
		t.Error("guard not released after the attempt")
	}

	// The guard is released on failure as well.
	failing := f.collector(t, openerFunc(func(context.Context, string) (scraper.Page, error) {
		return nil, errors.New("dns failure")
	}))
	if _, err := failing.CollectFromSource(ctx, src); err == nil {
		t.Fatal("failing CollectFromSource() error = nil")
	}
	if failing.InProgress(src.ID) {
		t.Error("guard not released after a failed attempt")
	}
	if _, err := failing.CollectFromSource(ctx, src); errors.Is(err, ErrCollectionInProgress) {
		t.Error("second attempt after failure reported in progress")
	}
}

func TestCollectFromSource_SuccessRate(t *testing.T) {
	f := newFixture(t)
	src := f.source(t, storage.Source{})
	outcomes := []bool{true, false, true, true, false, false, true}

	successes := 0
	for i, ok := range outcomes {
		ok := ok
		c := f.collector(t, openerFunc(func(context.Context, string) (scraper.Page, error) {
			if !ok {
				return nil, errors.New("timeout")
			}
			return &fakePage{html: "<html></html>", status: 200}, nil
		}))
		_, _ = c.CollectFromSource(context.Background(), src)
		if ok {
			successes++
		}

		got := f.reload(t, src.Name)
		want := float64(successes) / float64(i+1) * 100
		if got.TotalAttempts != i+1 || got.SuccessfulAttempts != successes || got.SuccessRate != want {
			t.Errorf("after %d attempts: %d/%d rate %v, want %d/%d rate %v",
				i+1, got.SuccessfulAttempts, got.TotalAttempts, got.SuccessRate, successes, i+1, want)
		}
	}
}

type failingStatsStore struct {
	*storage.Store
}

func (failingStatsStore) UpdateSource(context.Context, uint, func(*storage.Source)) (*storage.Source, error) {
	return nil, errors.New("database is locked")
}

func TestCollectFromSource_StatsFailureDoesNotMaskResult(t *testing.T) {
	f := newFixture(t)
	src := f.source(t, storage.Source{})
	c := f.collector(t, serve(eventsPage))
	c.store = failingStatsStore{f.store}

	res, err := c.CollectFromSource(context.Background(), src)
	if err != nil {
		t.Fatalf("CollectFromSource() error = %v, want nil", err)
	}
	if !res.Succeeded || res.EventsStored != 2 {
		t.Errorf("result = %+v", res)
	}
	if logs := f.logs(t, src.ID); len(logs) != 1 || logs[0].Status != storage.LogCompleted {
		t.Errorf("logs = %+v, want one completed log", logs)
	}
}

func TestCollectFromSource_CanceledStillCompletesLog(t *testing.T) {
	f := newFixture(t)
	src := f.source(t, storage.Source{})
	ctx, cancel := context.WithCancel(context.Background())
	c := f.collector(t, openerFunc(func(context.Context, string) (scraper.Page, error) {
		cancel()
		return &fakePage{html: eventsPage, status: 200}, nil
	}), WithSettleTime(time.Hour))

	if _, err := c.CollectFromSource(ctx, src); !errors.Is(err, context.Canceled) {
		t.Fatalf("CollectFromSource() error = %v, want context.Canceled", err)
	}
	if logs := f.logs(t, src.ID); len(logs) != 1 || logs[0].Status != storage.LogFailed {
		t.Errorf("logs = %+v, want one failed log", logs)
	}
	if got := f.reload(t, src.Name); got.TotalAttempts != 1 {
		t.Errorf("TotalAttempts = %d, want 1", got.TotalAttempts)
	}
}

func TestResolveConfig(t *testing.T) {
	f := newFixture(t)
	registered := venues.Config{
		Name:      "The Blue Door",
		URL:       "https://bluedoor.example.com/shows",
		Selectors: venues.Selectors{Container: ".show"},
	}
	c := f.collector(t, serve(""), WithRegistry(mapRegistry{"The Blue Door": registered}))
	log := logger.Discard()

	tests := []struct {
		name          string
		src           storage.Source
		wantContainer string
		wantType      string
	}{
		{
			name:          "registry entry wins",
			src:           storage.Source{Name: "The Blue Door", SourceType: "venue", ExtractionConfig: datatypes.JSON(`{"strategy":"selectors","selectors":{"container":".ignored"}}`)},
			wantContainer: ".show",
			wantType:      "venue",
		},
		{
			name:          "source selector config",
			src:           storage.Source{Name: "Copper Kettle", URL: "https://kettle.example.com", SourceType: "brewery", ExtractionConfig: datatypes.JSON(`{"strategy":"selectors","selectors":{"container":".tap-event"}}`)},
			wantContainer: ".tap-event",
			wantType:      "brewery",
		},
		{
			name:     "invalid config falls back to detection",
			src:      storage.Source{Name: "Broken", URL: "https://broken.example.com", SourceType: "media", ExtractionConfig: datatypes.JSON(`{"strategy":"telepathy"}`)},
			wantType: "media",
		},
		{
			name:     "no config means detection",
			src:      storage.Source{Name: "Plain", URL: "https://plain.example.com", SourceType: "cultural"},
			wantType: "cultural",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := c.resolveConfig(tt.src, log)
			if cfg.Selectors.Container != tt.wantContainer {
				t.Errorf("Container = %q, want %q", cfg.Selectors.Container, tt.wantContainer)
			}
			if cfg.SourceType != tt.wantType {
				t.Errorf("SourceType = %q, want %q", cfg.SourceType, tt.wantType)
			}
		})
	}
}

func TestHealthPolicy_Status(t *testing.T) {
	p := DefaultHealthPolicy()
	tests := []struct {
		rate      float64
		succeeded bool
		want      string
	}{
		{100, true, storage.StatusActive},
		{80, true, storage.StatusActive},
		{100, false, storage.StatusWarning},
		{79.9, true, storage.StatusWarning},
		{50, true, storage.StatusWarning},
		{49.9, true, storage.StatusError},
		{0, false, storage.StatusError},
	}
	for _, tt := range tests {
		if got := p.Status(tt.rate, tt.succeeded); got != tt.want {
			t.Errorf("Status(%v, %v) = %q, want %q", tt.rate, tt.succeeded, got, tt.want)
		}
	}
}
