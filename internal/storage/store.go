package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store wraps a gorm handle with the queries the collector needs.
type Store struct {
	db *gorm.DB
}

// Open connects to the database and migrates the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3", "":
		if err := ensureSQLiteDirectory(dsn); err != nil {
			return nil, err
		}
		dialector = gormsqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

func ensureSQLiteDirectory(dsn string) error {
	candidate := strings.TrimSpace(dsn)
	if candidate == "" || candidate == ":memory:" || strings.Contains(candidate, "mode=memory") {
		return nil
	}
	candidate = strings.TrimPrefix(candidate, "file:")
	if idx := strings.Index(candidate, "?"); idx >= 0 {
		candidate = candidate[:idx]
	}
	dir := filepath.Dir(candidate)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}
	return nil
}

// Migrate creates or updates all tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Venue{}, &Source{}, &Event{}, &ScrapingLog{}); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// DB exposes the gorm handle for collaborators sharing the database.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DueSources returns active sources never scraped or last scraped before
// now-staleAfter, never-scraped first, then oldest first, at most limit rows.
func (s *Store) DueSources(ctx context.Context, now time.Time, staleAfter time.Duration, limit int) ([]Source, error) {
	if limit <= 0 {
		limit = -1
	}
	var sources []Source
	err := s.db.WithContext(ctx).
		Preload("Venue").
		Where("is_active = ?", true).
		Where("last_scraped_at IS NULL OR last_scraped_at < ?", now.Add(-staleAfter).UTC()).
		Order("CASE WHEN last_scraped_at IS NULL THEN 0 ELSE 1 END, last_scraped_at ASC, id ASC").
		Limit(limit).
		Find(&sources).Error
	if err != nil {
		return nil, fmt.Errorf("querying due sources: %w", err)
	}
	return sources, nil
}

// SourceByName looks a source up by its exact name.
func (s *Store) SourceByName(ctx context.Context, name string) (*Source, error) {
	var src Source
	err := s.db.WithContext(ctx).Preload("Venue").Where("name = ?", strings.TrimSpace(name)).Take(&src).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("source %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying source %q: %w", name, err)
	}
	return &src, nil
}

// ListSources returns all sources ordered by name.
func (s *Store) ListSources(ctx context.Context) ([]Source, error) {
	var sources []Source
	if err := s.db.WithContext(ctx).Preload("Venue").Order("name ASC").Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	return sources, nil
}

// CreateSource inserts src. Empty Status defaults to active.
func (s *Store) CreateSource(ctx context.Context, src *Source) error {
	if src.Status == "" {
		src.Status = StatusActive
	}
	if err := s.db.WithContext(ctx).Create(src).Error; err != nil {
		return fmt.Errorf("creating source %q: %w", src.Name, err)
	}
	return nil
}

// EnsureVenue returns the venue called name, creating it when missing.
func (s *Store) EnsureVenue(ctx context.Context, name, address string) (*Venue, error) {
	v := Venue{Name: strings.TrimSpace(name)}
	err := s.db.WithContext(ctx).Where(Venue{Name: v.Name}).Attrs(Venue{Address: address}).FirstOrCreate(&v).Error
	if err != nil {
		return nil, fmt.Errorf("ensuring venue %q: %w", name, err)
	}
	return &v, nil
}

// UpdateSource loads the source, applies mutate and saves it in one
// transaction, so counter increments are never lost between attempts.
func (s *Store) UpdateSource(ctx context.Context, id uint, mutate func(*Source)) (*Source, error) {
	var src Source
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Take(&src, id).Error; err != nil {
			return err
		}
		mutate(&src)
		return tx.Omit(clause.Associations).Save(&src).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("source %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("updating source %d: %w", id, err)
	}
	return &src, nil
}

// Location is how an event is placed: a venue or free text, never both.
type Location struct {
	VenueID        *uint
	CustomLocation *string
}

func whereLocation(q *gorm.DB, loc Location) *gorm.DB {
	if loc.VenueID != nil {
		return q.Where("venue_id = ?", *loc.VenueID)
	}
	q = q.Where("venue_id IS NULL")
	if loc.CustomLocation != nil {
		return q.Where("custom_location = ?", *loc.CustomLocation)
	}
	return q.Where("custom_location IS NULL")
}

// FindDuplicate reports whether an event with the same title, start and
// location already exists.
func (s *Store) FindDuplicate(ctx context.Context, title string, start time.Time, loc Location) (bool, error) {
	var count int64
	q := s.db.WithContext(ctx).Model(&Event{}).
		Where("title = ? AND start_date_time = ?", strings.TrimSpace(title), start.UTC())
	if err := whereLocation(q, loc).Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking for duplicate event: %w", err)
	}
	return count > 0, nil
}

// CreateEvent inserts e. Times are converted to UTC.
func (s *Store) CreateEvent(ctx context.Context, e *Event) error {
	if (e.VenueID == nil) == (e.CustomLocation == nil) {
		return fmt.Errorf("creating event %q: exactly one of venue and custom location is required", e.Title)
	}
	e.StartDateTime = e.StartDateTime.UTC()
	if e.EndDateTime != nil {
		end := e.EndDateTime.UTC()
		e.EndDateTime = &end
	}
	if e.Status == "" {
		e.Status = EventPublished
	}
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("creating event %q: %w", e.Title, err)
	}
	return nil
}

// EventsForSource returns a source's events ordered by start time.
func (s *Store) EventsForSource(ctx context.Context, sourceID uint) ([]Event, error) {
	var events []Event
	err := s.db.WithContext(ctx).Where("source_id = ?", sourceID).Order("start_date_time ASC, id ASC").Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("listing events for source %d: %w", sourceID, err)
	}
	return events, nil
}

// CreateLog opens a running ScrapingLog for sourceID.
func (s *Store) CreateLog(ctx context.Context, sourceID uint, startedAt time.Time) (*ScrapingLog, error) {
	l := &ScrapingLog{SourceID: sourceID, Status: LogRunning, StartedAt: startedAt.UTC()}
	if err := s.db.WithContext(ctx).Create(l).Error; err != nil {
		return nil, fmt.Errorf("creating scraping log for source %d: %w", sourceID, err)
	}
	return l, nil
}

// CompleteLog writes the terminal state of l. Only running logs are updated,
// so a log is completed at most once.
func (s *Store) CompleteLog(ctx context.Context, l *ScrapingLog) error {
	if l.CompletedAt == nil {
		now := time.Now().UTC()
		l.CompletedAt = &now
	}
	res := s.db.WithContext(ctx).Model(&ScrapingLog{}).
		Where("id = ? AND status = ?", l.ID, LogRunning).
		Updates(map[string]any{
			"status":        l.Status,
			"completed_at":  l.CompletedAt.UTC(),
			"events_found":  l.EventsFound,
			"error_message": l.ErrorMessage,
			"metadata":      l.Metadata,
		})
	if res.Error != nil {
		return fmt.Errorf("completing scraping log %d: %w", l.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("completing scraping log %d: %w", l.ID, ErrNotFound)
	}
	return nil
}

// LogsForSource returns the newest logs of a source first.
func (s *Store) LogsForSource(ctx context.Context, sourceID uint, limit int) ([]ScrapingLog, error) {
	var logs []ScrapingLog
	err := s.db.WithContext(ctx).Where("source_id = ?", sourceID).Order("started_at DESC, id DESC").Limit(limit).Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("listing logs for source %d: %w", sourceID, err)
	}
	return logs, nil
}
